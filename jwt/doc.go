// Package jwt issues and verifies the bearer tokens served by the mock auth
// backend, and inspects opaque tokens on the client without verifying them.
package jwt
