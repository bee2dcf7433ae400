package dbpool

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is the capability set a checked-out connection exposes to callers.
// ConnectionProxy implements it by explicitly overriding the methods the
// pool needs to intercept and forwarding everything else to the embedded
// raw connection.
type Conn interface {
	Close() error
	IsClosed() bool
	IsValid(ctx context.Context) bool

	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row

	// Raw exposes the underlying leased connection for capabilities this
	// interface doesn't surface directly.
	Raw() *RawConn
}

// ConnectionProxy wraps a raw connection checked out of a Pool. Its Close
// method is intercepted: a logical close returns the proxy to the pool
// rather than terminating the underlying transport. It tracks child
// statements so that a logical close also releases every descendant
// cursor.
type ConnectionProxy struct {
	id   uuid.UUID
	raw  *RawConn
	pool *Pool // non-owning; assumed to outlive every proxy it created

	creationTime time.Time
	lastAccess   atomic.Int64 // unix nanoseconds

	closed      atomic.Bool
	forceClosed atomic.Bool

	stmtMu           sync.Mutex
	openedStatements []*sql.Stmt

	logger *zap.Logger
}

func newConnectionProxy(raw *RawConn, pool *Pool) *ConnectionProxy {
	now := time.Now()
	p := &ConnectionProxy{
		id:           uuid.New(),
		raw:          raw,
		pool:         pool,
		creationTime: now,
		logger:       pool.logger,
	}
	p.lastAccess.Store(now.UnixNano())
	p.closed.Store(true) // idle connections are logically closed until acquired
	return p
}

// ID uniquely identifies this proxy for diagnostics and logging, in place
// of a hashCode-style identity.
func (p *ConnectionProxy) ID() uuid.UUID { return p.id }

// Close intercepts the caller's logical close. If already closed, it is a
// no-op. Otherwise every open child statement is closed in reverse
// insertion order (errors are classified, may force-close the proxy, and
// are otherwise swallowed), the statement list is cleared, and the proxy is
// released back to the pool. Close always attempts release, even if
// closing child statements failed.
func (p *ConnectionProxy) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.stmtMu.Lock()
	stmts := p.openedStatements
	p.openedStatements = nil
	p.stmtMu.Unlock()

	for i := len(stmts) - 1; i >= 0; i-- {
		if err := stmts[i].Close(); err != nil {
			_ = p.checkException(err)
			p.logger.Warn("closing child statement failed, ignoring",
				zap.String("conn_id", p.id.String()), zap.Error(err))
		}
	}

	p.pool.release(p)
	return nil
}

// IsClosed reports the logical close flag.
func (p *ConnectionProxy) IsClosed() bool { return p.closed.Load() }

// IsValid reports false immediately if logically closed, else delegates to
// the raw connection's own validation.
func (p *ConnectionProxy) IsValid(ctx context.Context) bool {
	if p.closed.Load() {
		return false
	}
	return p.raw.PingContext(ctx) == nil
}

// PrepareContext asserts the proxy is open, delegates, registers the
// resulting statement as a child so Close releases it, and routes driver
// errors through checkException.
func (p *ConnectionProxy) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	if p.closed.Load() {
		return nil, ErrConnectionClosed
	}
	stmt, err := p.raw.PrepareContext(ctx, query)
	if err != nil {
		return nil, p.checkException(err)
	}
	p.stmtMu.Lock()
	p.openedStatements = append(p.openedStatements, stmt)
	p.stmtMu.Unlock()
	return stmt, nil
}

// ExecContext, QueryContext and QueryRowContext are delegated without child
// tracking: they don't return a Statement object the proxy must track.
// ExecContext and QueryContext route driver errors through checkException;
// QueryRowContext returns the driver's row unchanged.
func (p *ConnectionProxy) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := p.raw.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, p.checkException(err)
	}
	return res, nil
}

func (p *ConnectionProxy) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := p.raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, p.checkException(err)
	}
	return rows, nil
}

func (p *ConnectionProxy) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return p.raw.QueryRowContext(ctx, query, args...)
}

// Raw exposes the underlying leased connection.
func (p *ConnectionProxy) Raw() *RawConn { return p.raw }

// checkException classifies a driver error by SQLSTATE. A terminal
// classification sets forceClosed so the proxy can never re-enter the idle
// queue; the error is returned (wrapped as *TransportFatalError) rather
// than swallowed, so the caller still learns their operation failed.
func (p *ConnectionProxy) checkException(err error) error {
	if err == nil {
		return nil
	}
	terminal, state := classifyTransportError(err)
	if !terminal {
		return err
	}
	p.forceClosed.Store(true)
	p.logger.Warn("connection force-closed by fatal transport error",
		zap.String("conn_id", p.id.String()), zap.String("sql_state", state), zap.Error(err))
	return &TransportFatalError{SQLState: state, Err: err}
}

// markCheckedOut transitions the proxy from idle to checked-out.
func (p *ConnectionProxy) markCheckedOut() { p.closed.Store(false) }

// touch records the current time as the last access, used by the janitor's
// idle-timeout check.
func (p *ConnectionProxy) touch() { p.lastAccess.Store(time.Now().UnixNano()) }

func (p *ConnectionProxy) lastAccessTime() time.Time {
	return time.Unix(0, p.lastAccess.Load())
}

// terminate closes the underlying raw connection. Callers are responsible
// for decrementing pool counters.
func (p *ConnectionProxy) terminate() error {
	return p.raw.Close()
}

var _ Conn = (*ConnectionProxy)(nil)
