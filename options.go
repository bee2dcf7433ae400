package dbpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option customises a Pool at construction time.
type Option func(*Pool)

// WithName assigns a diagnostic name to the pool. If omitted, a name is
// generated from a package-wide sequence.
func WithName(name string) Option {
	return func(p *Pool) { p.name = name }
}

// WithLogger injects a structured logger. The pool tags it with its name and
// shares it with its janitor, health probe and connection proxies. A nil
// logger (the default) discards all output.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDialect injects a Dialect used to resolve a liveness-probe query.
// Supplying one (like a non-empty TestSQL) takes precedence over the
// probe's default PingContext check; omit it to validate admission with a
// plain Ping.
func WithDialect(d Dialect) Option {
	return func(p *Pool) { p.dialect = d }
}

// WithMetrics registers Prometheus counters and gauges for this pool
// against reg. Passing nil (the default) disables metrics entirely.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.metricsRegistry = reg }
}
