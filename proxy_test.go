package dbpool

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	registerFakeDriver()

	p, err := New(PoolConfig{
		DriverName:     testFactoryDriverName,
		URL:            "ignored",
		Username:       "u",
		InitSize:       0,
		MinSize:        0,
		MaxSize:        4,
		Increment:      1,
		Retries:        1,
		RetryInterval:  time.Millisecond,
		AcquireTimeout: 200 * time.Millisecond,
		JanitorPeriod:  time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p
}

// adopt wires a manually-constructed proxy into p's bookkeeping the way
// Acquire would have, so release() behaves exactly as it does for a real
// checked-out connection.
func adopt(p *Pool, proxy *ConnectionProxy) {
	proxy.markCheckedOut()
	p.total.Add(1)
	p.wg.Add(1)
}

func TestConnectionProxy_CloseIsIdempotent(t *testing.T) {
	p := newTestPool(t)
	raw, _ := newMockRawConn(t)

	proxy := newConnectionProxy(raw, p)
	adopt(p, proxy)

	require.NoError(t, proxy.Close())
	require.NoError(t, proxy.Close())

	assert.True(t, proxy.IsClosed())
	assert.Equal(t, 1, p.IdleConnections())
	assert.Equal(t, 1, p.TotalConnections())
}

func TestConnectionProxy_ForceClosedTerminatesOnRelease(t *testing.T) {
	p := newTestPool(t)
	raw, mock := newMockRawConn(t)
	mock.ExpectPrepare("SELECT 1").WillReturnError(&pq.Error{Code: "08006"})
	mock.ExpectClose()

	proxy := newConnectionProxy(raw, p)
	adopt(p, proxy)

	_, err := proxy.PrepareContext(context.Background(), "SELECT 1")
	require.Error(t, err)

	var fatal *TransportFatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "08006", fatal.SQLState)
	assert.True(t, proxy.forceClosed.Load())

	require.NoError(t, proxy.Close())
	assert.Equal(t, 0, p.TotalConnections())
	assert.Equal(t, 0, p.IdleConnections())
}

func TestConnectionProxy_PrepareAfterCloseFails(t *testing.T) {
	p := newTestPool(t)
	raw, _ := newMockRawConn(t)

	proxy := newConnectionProxy(raw, p)
	adopt(p, proxy)
	require.NoError(t, proxy.Close())

	_, err := proxy.PrepareContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnectionProxy_CloseReleasesChildStatements(t *testing.T) {
	p := newTestPool(t)
	raw, mock := newMockRawConn(t)

	mock.ExpectPrepare("SELECT 1").WillBeClosed()
	mock.ExpectPrepare("SELECT 2").WillBeClosed()

	proxy := newConnectionProxy(raw, p)
	adopt(p, proxy)

	_, err := proxy.PrepareContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	_, err = proxy.PrepareContext(context.Background(), "SELECT 2")
	require.NoError(t, err)

	require.NoError(t, proxy.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionProxy_IsValid(t *testing.T) {
	p := newTestPool(t)
	raw, mock := newMockRawConn(t)
	mock.ExpectPing()

	proxy := newConnectionProxy(raw, p)
	adopt(p, proxy)

	assert.True(t, proxy.IsValid(context.Background()))

	require.NoError(t, proxy.Close())
	assert.False(t, proxy.IsValid(context.Background()), "a closed proxy must report invalid without consulting the driver")
}
