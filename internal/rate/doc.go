// Package rate implements a Redis fixed-window counter for failed login
// attempts.
//
// # Window semantics
//
// INCR, then EXPIRE on the first hit of a window. A key over budget stays
// blocked until its window expires or Reset clears it. Keys are prefixed
// with "rl:".
package rate
