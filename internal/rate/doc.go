// Package rate implements the Redis-backed counters behind the failed-login
// lockout and the refresh throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys, under
// the configured prefix:
//   - :lf:  failed logins per identifier
//   - :lfi: failed logins per client IP
//   - :rf:  refresh attempts per session lineage
//
// # What this package must NOT do
//
//   - Decide which error a caller sees; the Engine maps ErrRateLimited.
//   - Be imported outside the credcore module.
package rate
