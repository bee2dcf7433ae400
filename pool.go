package dbpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultNamePrefix = "dbpool"

var poolSeq atomic.Int64

// Pool is a concurrent cache of long-lived database connections. Callers
// acquire a Conn with Acquire and return it with Conn.Close; the pool
// grows toward MaxSize on demand and a background janitor enforces idle
// and age bounds.
type Pool struct {
	name    string
	cfg     PoolConfig
	factory *ConnectionFactory
	probe   *HealthProbe
	dialect Dialect // nil unless supplied via WithDialect; see HealthProbe
	logger  *zap.Logger

	idle chan *ConnectionProxy

	total     atomic.Int64
	idleCount atomic.Int64

	growMu sync.Mutex

	latestErr atomic.Pointer[error]

	closed atomic.Bool
	wg     sync.WaitGroup // outstanding checked-out proxies

	janitor *janitor

	metricsRegistry prometheus.Registerer
	metrics         *poolMetrics
}

// New builds and starts a Pool. The initial fill (InitSize connections) is
// performed synchronously; failing to reach InitSize is logged, not fatal.
// The janitor is started before New returns.
func New(cfg PoolConfig, opts ...Option) (*Pool, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory, err := NewConnectionFactory(cfg)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:     cfg,
		factory: factory,
		idle:    make(chan *ConnectionProxy, cfg.MaxSize),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.name == "" {
		p.name = fmt.Sprintf("%s-%d", defaultNamePrefix, poolSeq.Add(1))
	}
	// p.dialect is left nil unless the caller supplied one via WithDialect:
	// the probe's own PingContext-first precedence (see health.go) must not
	// be overridden by a dialect the pool invented on the caller's behalf.
	p.logger = p.logger.With(zap.String("pool", p.name))
	p.probe = NewHealthProbe(cfg, p.dialect, p.logger)
	p.metrics = newPoolMetrics(p.metricsRegistry, p)

	for i := 0; i < cfg.InitSize; i++ {
		if err := p.addOneRetrying(context.Background()); err != nil {
			p.storeLatestErr(err)
			p.logger.Warn("initial fill connection attempt failed", zap.Error(err))
		}
	}
	if int(p.total.Load()) < cfg.InitSize {
		p.logger.Error("pool did not reach initSize during construction",
			zap.Int64("total", p.total.Load()), zap.Int("init_size", cfg.InitSize))
	}

	p.janitor = newJanitor(p)
	p.janitor.start()

	p.logger.Info("pool started",
		zap.String("driver", cfg.DriverName),
		zap.Int("init_size", cfg.InitSize), zap.Int("min_size", cfg.MinSize), zap.Int("max_size", cfg.MaxSize))

	return p, nil
}

// Name returns the pool's diagnostic name.
func (p *Pool) Name() string { return p.name }

// Acquire waits for an idle connection, growing the pool on demand, up to
// ctx's deadline or cfg.AcquireTimeout if ctx carries none. On timeout it
// returns a *PoolExhaustedError; on cancellation, ctx.Err().
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if p.metrics != nil {
		p.metrics.acquireTotal.Inc()
	}

	if _, ok := ctx.Deadline(); !ok && p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	for {
		if p.idleCount.Load() == 0 {
			if err := p.tryGrow(ctx); err != nil {
				p.storeLatestErr(err)
			}
		}

		select {
		case proxy, ok := <-p.idle:
			if !ok {
				return nil, ErrPoolClosed
			}
			p.idleCount.Add(-1)

			if p.cfg.MaxLifetime > 0 && time.Since(proxy.creationTime) > p.cfg.MaxLifetime {
				p.discard(proxy)
				continue
			}
			if p.cfg.ProbeOnAcquire && !p.probe.Check(ctx, proxy.raw) {
				p.discard(proxy)
				continue
			}

			proxy.markCheckedOut()
			p.wg.Add(1)
			if p.metrics != nil {
				p.metrics.acquireSuccess.Inc()
			}
			return proxy, nil

		case <-ctx.Done():
			if err := ctx.Err(); err == context.Canceled {
				return nil, err
			}
			if p.metrics != nil {
				p.metrics.acquireTimeout.Inc()
			}
			return nil, &PoolExhaustedError{
				Idle:        int(p.idleCount.Load()),
				Total:       int(p.total.Load()),
				Max:         p.cfg.MaxSize,
				LatestError: p.loadLatestErr(),
			}
		}
	}
}

// release returns proxy to the idle queue, or terminates it if it was
// force-closed or the pool is shutting down. Invoked by ConnectionProxy's
// Close.
func (p *Pool) release(proxy *ConnectionProxy) {
	defer p.wg.Done()

	if proxy.forceClosed.Load() {
		p.total.Add(-1)
		if err := proxy.terminate(); err != nil {
			p.logger.Warn("terminating force-closed connection failed",
				zap.String("conn_id", proxy.id.String()), zap.Error(err))
		}
		if p.metrics != nil {
			p.metrics.forceClosed.Inc()
		}
		return
	}

	if p.closed.Load() {
		p.total.Add(-1)
		if err := proxy.terminate(); err != nil {
			p.logger.Warn("terminating connection released after shutdown failed",
				zap.String("conn_id", proxy.id.String()), zap.Error(err))
		}
		return
	}

	proxy.touch()
	select {
	case p.idle <- proxy:
		p.idleCount.Add(1)
	default:
		// Invariant violation: total should never exceed the idle
		// channel's capacity (MaxSize). Discard rather than block.
		p.logger.Error("idle queue unexpectedly full on release, discarding connection",
			zap.String("conn_id", proxy.id.String()))
		p.total.Add(-1)
		_ = proxy.terminate()
	}
}

// discard terminates proxy and decrements total. Used when a connection is
// evicted at checkout time (aged out, or failed a checkout-time probe).
func (p *Pool) discard(proxy *ConnectionProxy) {
	p.total.Add(-1)
	if err := proxy.terminate(); err != nil {
		p.logger.Warn("terminating evicted connection failed",
			zap.String("conn_id", proxy.id.String()), zap.Error(err))
	}
	if p.metrics != nil {
		p.metrics.evicted.Inc()
	}
}

// tryDequeueIdle removes one proxy from the idle queue without blocking.
func (p *Pool) tryDequeueIdle() (*ConnectionProxy, bool) {
	select {
	case proxy := <-p.idle:
		return proxy, true
	default:
		return nil, false
	}
}

// tryGrow adds up to cfg.Increment new connections, subject to MaxSize. It
// is serialised by growMu so concurrent exhausted acquirers never
// collectively exceed MaxSize. Growth failure is recorded in latestErr and
// never escapes to Acquire directly; the caller keeps waiting on the idle
// queue.
func (p *Pool) tryGrow(ctx context.Context) error {
	p.growMu.Lock()
	defer p.growMu.Unlock()

	total := int(p.total.Load())
	if total >= p.cfg.MaxSize {
		return nil
	}
	n := p.cfg.Increment
	if total+n > p.cfg.MaxSize {
		n = p.cfg.MaxSize - total
	}

	var lastErr error
	for i := 0; i < n; i++ {
		if err := p.addOneRetrying(ctx); err != nil {
			lastErr = err
			continue
		}
	}
	return lastErr
}

// addOneRetrying opens and admits one connection, making at most
// cfg.Retries attempts and pausing cfg.RetryInterval after each failed one.
func (p *Pool) addOneRetrying(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.Retries; attempt++ {
		err := p.addOne(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		p.storeLatestErr(err)
		p.logger.Warn("growth attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-time.After(p.cfg.RetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.logger.Warn("exhausted retries adding connection", zap.Int("retries", p.cfg.Retries), zap.Error(lastErr))
	return lastErr
}

// addOne opens a single raw connection, validates it, and admits it to the
// idle queue. total is incremented before the proxy is published to the
// queue so idleCount <= total always holds under weak memory orderings.
func (p *Pool) addOne(ctx context.Context) error {
	raw, err := p.factory.Open(ctx)
	if err != nil {
		return err
	}
	if !p.probe.Check(ctx, raw) {
		raw.Close()
		return fmt.Errorf("dbpool: new connection failed health probe")
	}

	proxy := newConnectionProxy(raw, p)
	p.total.Add(1)
	p.idle <- proxy
	p.idleCount.Add(1)
	return nil
}

// ActiveConnections returns min(MaxSize, total-idle).
func (p *Pool) ActiveConnections() int {
	active := int(p.total.Load() - p.idleCount.Load())
	if active < 0 {
		active = 0
	}
	if active > p.cfg.MaxSize {
		active = p.cfg.MaxSize
	}
	return active
}

// IdleConnections returns the number of connections currently in the idle
// queue.
func (p *Pool) IdleConnections() int { return int(p.idleCount.Load()) }

// TotalConnections returns the number of live connections, idle plus
// checked out.
func (p *Pool) TotalConnections() int { return int(p.total.Load()) }

// ShutdownIdle drains the idle queue and terminates every connection in
// it. Checked-out connections are unaffected; they are terminated when
// their owners release them only if the pool has also been marked closed
// (see Shutdown).
func (p *Pool) ShutdownIdle() error {
	var result *multierror.Error
	n := int(p.idleCount.Load())
	for i := 0; i < n; i++ {
		proxy, ok := p.tryDequeueIdle()
		if !ok {
			break
		}
		p.idleCount.Add(-1)
		p.total.Add(-1)
		if err := proxy.terminate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Shutdown marks the pool closed (further Acquire calls fail with
// ErrPoolClosed), drains and terminates idle connections, then waits
// (bounded by ctx) for outstanding checked-out connections to be released,
// terminating each as it arrives rather than re-enqueuing it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.janitor != nil {
		p.janitor.stop()
	}

	var result *multierror.Error
	if err := p.ShutdownIdle(); err != nil {
		result = multierror.Append(result, err)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, ctx.Err())
	}

	// release() terminates anything released after p.closed was set, but a
	// release that checked p.closed just before it was set may still have
	// enqueued its proxy, so sweep the idle queue once more.
	if err := p.ShutdownIdle(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// Stats is a point-in-time snapshot of pool counters, suitable for logging
// or ad hoc inspection; Prometheus export (see WithMetrics) is preferred
// for continuous monitoring.
type Stats struct {
	Name        string
	Total       int
	Idle        int
	Active      int
	LatestError error
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:        p.name,
		Total:       p.TotalConnections(),
		Idle:        p.IdleConnections(),
		Active:      p.ActiveConnections(),
		LatestError: p.loadLatestErr(),
	}
}

func (p *Pool) storeLatestErr(err error) {
	if err == nil {
		return
	}
	p.latestErr.Store(&err)
}

func (p *Pool) loadLatestErr() error {
	if ptr := p.latestErr.Load(); ptr != nil {
		return *ptr
	}
	return nil
}
