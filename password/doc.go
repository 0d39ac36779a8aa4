// Package password hashes the password kept for offline re-login.
//
// The controller never needs the plaintext back: it only has to answer
// "is this the password that was last accepted online?". Storing an
// argon2id PHC string instead of the raw value keeps that equality check
// while leaving nothing reusable in device storage.
package password
