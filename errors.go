package dbpool

import (
	"errors"
	"fmt"
)

// Sentinel errors raised synchronously at construction or during routine
// use of a checked-out connection.
var (
	// ErrConfigMissing is returned when a required configuration value is
	// absent (driverClassName, url, username).
	ErrConfigMissing = errors.New("dbpool: required configuration value missing")
	// ErrConfigInvalid is returned when a configuration value fails
	// validation (size ordering, negative durations, ...).
	ErrConfigInvalid = errors.New("dbpool: invalid configuration")
	// ErrConnectionClosed is returned by proxy methods invoked after the
	// caller has already called Close.
	ErrConnectionClosed = errors.New("dbpool: connection is closed")
	// ErrPoolClosed is returned by Acquire once Shutdown has been called.
	ErrPoolClosed = errors.New("dbpool: pool is shut down")
)

// DriverError wraps a failure to open a raw connection through the
// registered database/sql driver. Growth treats it as transient and
// retryable; it never escapes to an Acquire caller directly.
type DriverError struct {
	Driver string
	Err    error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("dbpool: driver %q: %v", e.Driver, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// PoolExhaustedError is returned by Acquire when no idle connection became
// available, and the pool could not grow, before the acquire budget
// expired. It carries the counters and latest growth error for diagnosis.
type PoolExhaustedError struct {
	Idle, Total, Max int
	LatestError      error
}

func (e *PoolExhaustedError) Error() string {
	msg := fmt.Sprintf("dbpool: timed out waiting for a connection, idle=%d/%d, total=%d", e.Idle, e.Max, e.Total)
	if e.LatestError != nil {
		msg += fmt.Sprintf(", latest error: %v", e.LatestError)
	}
	return msg
}

func (e *PoolExhaustedError) Unwrap() error { return e.LatestError }

// TransportFatalError wraps a SQL error whose SQLSTATE (or vendor-specific
// error number) indicates the underlying transport is dead. Observing one
// sets ConnectionProxy.forceClosed; the error itself still surfaces to the
// caller of the method that produced it.
type TransportFatalError struct {
	SQLState string
	Err      error
}

func (e *TransportFatalError) Error() string {
	return fmt.Sprintf("dbpool: transport fatal error (sqlstate %s): %v", e.SQLState, e.Err)
}

func (e *TransportFatalError) Unwrap() error { return e.Err }
