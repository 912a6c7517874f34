// Package vecindex talks to the remote approximate-nearest-neighbor index
// that mirrors the primary memory store.
//
// The client carries an explicit lifecycle: Uninitialized -> Initializing ->
// Ready | Degraded. Degraded is permanent for the process; every call then
// short-circuits to a no-op so the memory system stays usable on
// primary-store-only search. Remote failures after initialization are
// logged and swallowed, except upsert errors, which surface to the
// BatchUpserter so it can skip the failing batch.
package vecindex
