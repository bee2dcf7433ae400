package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"
)

// RawConn is a single leased database/sql connection, exactly the "raw
// connection" the pool's components pass between each other. It is opened
// through a one-entry database/sql pool so that driver registration, DSN
// parsing, and vendor error types all come from real drivers rather than a
// hand-rolled wire protocol.
type RawConn struct {
	*sql.Conn
	db *sql.DB
}

// Close releases the leased connection and the one-entry database/sql pool
// backing it.
func (r *RawConn) Close() error {
	err := r.Conn.Close()
	if cerr := r.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// ConnectionFactory opens a raw connection from a driver identifier, URL,
// and credentials. Driver loading is idempotent and safe across concurrent
// callers: sql.Open never dials, it only validates the driver is
// registered.
type ConnectionFactory struct {
	driverName string
	dsn        string
}

// NewConnectionFactory builds a factory from a validated PoolConfig.
func NewConnectionFactory(cfg PoolConfig) (*ConnectionFactory, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	return &ConnectionFactory{driverName: cfg.DriverName, dsn: dsn}, nil
}

// Open opens a new raw connection. Failure is reported as a *DriverError,
// which growth treats as a transient, retryable event.
func (f *ConnectionFactory) Open(ctx context.Context) (*RawConn, error) {
	db, err := sql.Open(f.driverName, f.dsn)
	if err != nil {
		return nil, &DriverError{Driver: f.driverName, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, &DriverError{Driver: f.driverName, Err: err}
	}
	return &RawConn{Conn: conn, db: db}, nil
}

// buildDSN merges URL, Username and Password into a driver-specific
// connection string. Each branch matches the DSN shape the corresponding
// driver expects.
func buildDSN(cfg PoolConfig) (string, error) {
	switch cfg.DriverName {
	case "postgres", "pgx":
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return "", fmt.Errorf("%w: invalid postgres url %q: %v", ErrConfigInvalid, cfg.URL, err)
		}
		u.User = url.UserPassword(cfg.Username, cfg.Password)
		return u.String(), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@%s", cfg.Username, cfg.Password, cfg.URL), nil
	default:
		// Unknown driver: pass the URL through unchanged and let the
		// registered driver parse username/password itself, if at all.
		return cfg.URL, nil
	}
}
