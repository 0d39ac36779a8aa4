// Package credstore persists the stored session of a device: bearer token,
// username, the offline-fallback password hash, the cached profile blob and
// the theme preference.
//
// Store is the raw key-value capability (memory or Redis backed). Vault is
// the typed view the session controller uses; it is the only writer of the
// auth keys and clears them all-or-nothing.
package credstore
