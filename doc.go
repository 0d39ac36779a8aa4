// Package applock is the session lifecycle and app-lock controller of a
// mobile catalog client.
//
// A [Controller] owns the in-memory session and the lock state. It restores
// a stored session behind a biometric prompt on cold start, locks the app
// when it is backgrounded or idle, unlocks it through the biometric gate,
// and performs explicit login and logout. The persisted credential set is
// only ever written through the Controller.
//
// # Architecture boundaries
//
// applock is the public surface. It exposes [Controller], [Builder], [Config]
// and value types ([Snapshot], [Session], [Route]). Capabilities live in
// sub-packages and are injected through the Builder:
//
//   - credstore: key-value persistence (memory or Redis) and the typed vault
//   - biometric: the three-outcome biometric gate
//   - idle: the rearmable idle timer
//   - netstatus: the debounced reachability monitor
//   - querycache: the offline-aware data cache cleared on logout
//   - authapi: the HTTP login and profile client
//
// # Concurrency
//
// Controller methods are safe to call from any goroutine. Timer and
// connectivity callbacks arrive on their own goroutines. The Controller
// never holds its lock while calling a capability or a subscriber, and every
// asynchronous step re-checks that the state which triggered it still holds
// before committing its result.
package applock
