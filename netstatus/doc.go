// Package netstatus derives a debounced online/offline flag from connectivity
// probes and pushed connectivity events.
//
// A transition to offline is committed at once. A transition back to online
// is committed only after the settle window passes without a contrary
// observation, so a flapping radio does not bounce dependents between modes.
// Committed values are forwarded to OnlineSetter implementations such as the
// query cache.
package netstatus
