// Package authapi is the HTTP implementation of applock.AuthClient.
//
// It speaks the dummyjson-style auth API: POST /auth/login with a JSON
// username and password, and GET /auth/me with a bearer token. Failures are
// wrapped so applock.ClassifyError sorts them into unauthorized, network
// and server errors.
package authapi
