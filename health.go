package dbpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthProbe validates a raw connection before it is admitted into the
// idle queue. A failed probe is reported as false and never propagates an
// error to its caller.
type HealthProbe struct {
	enabled bool
	timeout time.Duration
	testSQL string
	dialect Dialect
	logger  *zap.Logger

	once     sync.Once
	resolved string
}

// NewHealthProbe builds a probe from a validated PoolConfig. If
// cfg.TestConnection is false, Check is the constant true.
func NewHealthProbe(cfg PoolConfig, dialect Dialect, logger *zap.Logger) *HealthProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthProbe{
		enabled: cfg.TestConnection,
		timeout: cfg.TestTimeout,
		testSQL: cfg.TestSQL,
		dialect: dialect,
		logger:  logger,
	}
}

// Check validates raw. It never returns an error: failures are logged and
// reported as false, and the probe retains no reference to raw beyond this
// call.
func (h *HealthProbe) Check(ctx context.Context, raw *RawConn) bool {
	if !h.enabled {
		return true
	}

	timeout := h.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	query := h.resolveTestSQL()
	if query == "" {
		if err := raw.PingContext(ctx); err != nil {
			h.logger.Warn("health probe ping failed", zap.Error(err))
			return false
		}
		return true
	}

	row := raw.QueryRowContext(ctx, query)
	if err := row.Err(); err != nil {
		h.logger.Warn("health probe query failed", zap.String("sql", query), zap.Error(err))
		return false
	}
	return true
}

// resolveTestSQL returns the configured TestSQL, or the Dialect-supplied
// one, resolved and cached on first use.
func (h *HealthProbe) resolveTestSQL() string {
	if h.testSQL != "" {
		return h.testSQL
	}
	if h.dialect == nil {
		return ""
	}
	h.once.Do(func() {
		h.resolved = h.dialect.TestSQL()
	})
	return h.resolved
}
