package dbpool

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// terminalSQLStates are SQLSTATEs (beyond the "08" connection-exception
// class) that indicate the server itself is shutting down or has already
// disconnected the session.
var terminalSQLStates = map[string]struct{}{
	"57P01": {}, // admin shutdown
	"57P02": {}, // crash shutdown
	"57P03": {}, // cannot connect now
	"01002": {}, // SQL92 disconnect error
}

// terminalMySQLErrors are vendor-specific MySQL error numbers with no
// SQLSTATE equivalent in this table that nonetheless mean the connection is
// no longer usable.
var terminalMySQLErrors = map[uint16]struct{}{
	1927: {}, // ER_CONNECTION_KILLED
	2006: {}, // CR_SERVER_GONE_ERROR
	2013: {}, // CR_SERVER_LOST
}

// isTerminalSQLState reports whether state belongs to the SQLSTATE
// connection-exception class ("08xxx") or one of the explicitly listed
// shutdown/disconnect codes.
func isTerminalSQLState(state string) bool {
	if len(state) >= 2 && state[:2] == "08" {
		return true
	}
	_, ok := terminalSQLStates[state]
	return ok
}

// sqlStateOf extracts a SQLSTATE from the concrete driver error types this
// pool knows how to open connections for.
func sqlStateOf(err error) (state string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	return "", false
}

// classifyTransportError decides whether err indicates the underlying
// transport is dead (terminal, forcing the owning proxy closed) or merely a
// transient statement-level failure. The returned state is a diagnostic
// label only, not guaranteed to be a real SQLSTATE for vendor-specific
// classifications (e.g. MySQL error numbers).
func classifyTransportError(err error) (terminal bool, state string) {
	if err == nil {
		return false, ""
	}
	if s, ok := sqlStateOf(err); ok {
		return isTerminalSQLState(s), s
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if _, ok := terminalMySQLErrors[myErr.Number]; ok {
			return true, fmt.Sprintf("mysql:%d", myErr.Number)
		}
	}
	return false, ""
}
