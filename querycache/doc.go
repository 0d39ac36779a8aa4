// Package querycache is the offline-aware data-fetching layer used by the
// catalog screens.
//
// Entries are fresh for StaleTime, after which the next Fetch goes to the
// network. Failed and offline fetches fall back to the last good value.
// Successful entries are persisted through a credstore.Store and can be
// restored on the next cold start while younger than MaxAge. Clear drops
// everything and is called on logout.
package querycache
