package dbpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockRawConn(t *testing.T) (*RawConn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &RawConn{Conn: conn, db: db}, mock
}

func TestHealthProbe_DisabledIsAlwaysTrue(t *testing.T) {
	probe := NewHealthProbe(PoolConfig{TestConnection: false}, nil, nil)
	raw, _ := newMockRawConn(t)
	if !probe.Check(context.Background(), raw) {
		t.Fatal("disabled probe must always report true")
	}
}

func TestHealthProbe_PingPath(t *testing.T) {
	raw, mock := newMockRawConn(t)
	mock.ExpectPing()

	probe := NewHealthProbe(PoolConfig{TestConnection: true, TestTimeout: time.Second}, nil, nil)
	if !probe.Check(context.Background(), raw) {
		t.Fatal("expected ping to succeed")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthProbe_PingFailureReportsFalse(t *testing.T) {
	raw, mock := newMockRawConn(t)
	mock.ExpectPing().WillReturnError(errors.New("conn reset"))

	probe := NewHealthProbe(PoolConfig{TestConnection: true, TestTimeout: time.Second}, nil, nil)
	if probe.Check(context.Background(), raw) {
		t.Fatal("expected probe to report false on ping failure")
	}
}

func TestHealthProbe_TestSQLPath(t *testing.T) {
	raw, mock := newMockRawConn(t)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	probe := NewHealthProbe(PoolConfig{TestConnection: true, TestSQL: "SELECT 1", TestTimeout: time.Second}, nil, nil)
	if !probe.Check(context.Background(), raw) {
		t.Fatal("expected test sql probe to succeed")
	}
}

func TestHealthProbe_DialectResolvedOnce(t *testing.T) {
	calls := 0
	dialect := dialectFunc(func() string {
		calls++
		return "SELECT 1"
	})

	raw1, mock1 := newMockRawConn(t)
	mock1.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	raw2, mock2 := newMockRawConn(t)
	mock2.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	probe := NewHealthProbe(PoolConfig{TestConnection: true, TestTimeout: time.Second}, dialect, nil)
	probe.Check(context.Background(), raw1)
	probe.Check(context.Background(), raw2)

	if calls != 1 {
		t.Fatalf("expected dialect to be resolved once, got %d calls", calls)
	}
}

type dialectFunc func() string

func (f dialectFunc) TestSQL() string { return f() }
