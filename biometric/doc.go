// Package biometric wraps a platform biometric capability into a gate with
// exactly three outcomes: Success, UserCanceled and FallbackRequested.
//
// The gate never reads or writes stored credentials. Callers decide what
// each outcome means for their session.
package biometric
