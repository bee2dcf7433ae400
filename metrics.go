package dbpool

import "github.com/prometheus/client_golang/prometheus"

// poolMetrics is the concrete side-effect sink for pool observability.
// Wiring it is optional: a Pool built without WithMetrics behaves
// identically, just without exported counters/gauges.
type poolMetrics struct {
	acquireTotal   prometheus.Counter
	acquireSuccess prometheus.Counter
	acquireTimeout prometheus.Counter
	evicted        prometheus.Counter
	forceClosed    prometheus.Counter
}

// newPoolMetrics registers gauges and counters for p against reg. It must
// be called only after p.name has been finalised, since the pool name is
// used as a const label distinguishing multiple pools sharing one
// registry.
func newPoolMetrics(reg prometheus.Registerer, p *Pool) *poolMetrics {
	if reg == nil {
		return nil
	}

	labels := prometheus.Labels{"pool": p.name}
	newCounter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dbpool",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &poolMetrics{
		acquireTotal:   newCounter("acquire_total", "Total Acquire calls."),
		acquireSuccess: newCounter("acquire_success_total", "Acquire calls that returned a connection."),
		acquireTimeout: newCounter("acquire_timeout_total", "Acquire calls that failed with PoolExhausted."),
		evicted:        newCounter("evicted_total", "Connections terminated for idle timeout or max lifetime."),
		forceClosed:    newCounter("force_closed_total", "Connections terminated because they were force-closed."),
	}

	reg.MustRegister(
		m.acquireTotal,
		m.acquireSuccess,
		m.acquireTimeout,
		m.evicted,
		m.forceClosed,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dbpool", Name: "total_connections", Help: "Live connections, idle plus checked out.", ConstLabels: labels,
		}, func() float64 { return float64(p.TotalConnections()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dbpool", Name: "idle_connections", Help: "Connections currently in the idle queue.", ConstLabels: labels,
		}, func() float64 { return float64(p.IdleConnections()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dbpool", Name: "active_connections", Help: "Connections currently checked out.", ConstLabels: labels,
		}, func() float64 { return float64(p.ActiveConnections()) }),
	)

	return m
}
