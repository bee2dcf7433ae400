// Package dbpool implements a concurrent pool of long-lived database
// connections. It amortises the cost of opening a new transport and
// authentication handshake across many short logical uses, while enforcing
// bounds on resource consumption, liveness, and connection age.
//
// The pool does not itself speak a wire protocol: a ConnectionFactory opens
// raw connections through database/sql and a registered driver, a
// HealthProbe validates them before admission, and a janitor goroutine
// periodically evicts idle or aged connections and refills the pool toward
// its floor. Checked-out connections are wrapped in a ConnectionProxy that
// intercepts Close so that a logical close returns the connection to the
// pool instead of terminating it.
package dbpool
