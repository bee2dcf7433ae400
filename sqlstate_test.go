package dbpool

import (
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantTerminal bool
	}{
		{
			name:         "postgres connection exception class",
			err:          &pq.Error{Code: "08006"},
			wantTerminal: true,
		},
		{
			name:         "postgres admin shutdown",
			err:          &pq.Error{Code: "57P01"},
			wantTerminal: true,
		},
		{
			name:         "postgres syntax error is transient",
			err:          &pq.Error{Code: "42601"},
			wantTerminal: false,
		},
		{
			name:         "pgx connection exception class",
			err:          &pgconn.PgError{Code: "08003"},
			wantTerminal: true,
		},
		{
			name:         "pgx unique violation is transient",
			err:          &pgconn.PgError{Code: "23505"},
			wantTerminal: false,
		},
		{
			name:         "mysql server gone",
			err:          &mysql.MySQLError{Number: 2006, Message: "gone"},
			wantTerminal: true,
		},
		{
			name:         "mysql duplicate key is transient",
			err:          &mysql.MySQLError{Number: 1062, Message: "dup"},
			wantTerminal: false,
		},
		{
			name:         "plain error",
			err:          errors.New("boom"),
			wantTerminal: false,
		},
		{
			name:         "nil error",
			err:          nil,
			wantTerminal: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			terminal, _ := classifyTransportError(tc.err)
			assert.Equal(t, tc.wantTerminal, terminal)
		})
	}
}

func TestIsTerminalSQLState(t *testing.T) {
	assert.True(t, isTerminalSQLState("08001"))
	assert.True(t, isTerminalSQLState("08000"))
	assert.True(t, isTerminalSQLState("57P02"))
	assert.True(t, isTerminalSQLState("01002"))
	assert.False(t, isTerminalSQLState("23505"))
	assert.False(t, isTerminalSQLState(""))
}
