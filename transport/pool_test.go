package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostbyte-io/frostbyte-go/config"
	"github.com/frostbyte-io/frostbyte-go/internal/testserver"
	"github.com/frostbyte-io/frostbyte-go/protocol"
)

func startTestNode(t *testing.T) *testserver.Server {
	t.Helper()
	srv, err := testserver.Start()
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	return srv
}

func newTestPool(t *testing.T, addr string, mutate func(*config.ClientConfig)) *Pool {
	t.Helper()
	cfg := testClientConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p := NewPool(addr, protocol.NewTextCodec, cfg, nil)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPoolReusesReleasedConnections(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	srv := startTestNode(t)
	pool := newTestPool(t, srv.Addr(), nil)

	first, err := pool.Acquire()
	require.NoError(t, err)
	pool.Release(first)

	second, err := pool.Acquire()
	require.NoError(t, err)
	pool.Release(second)

	assert.Same(t, first, second, "released connection was not reused")

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.TotalCreated)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.GreaterOrEqual(t, stats.Hits, uint64(1))
}

func TestPoolNeverExceedsCapacity(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	srv := startTestNode(t)
	pool := newTestPool(t, srv.Addr(), func(cfg *config.ClientConfig) {
		cfg.PoolSize = 1
	})

	held, err := pool.Acquire()
	require.NoError(t, err)

	type outcome struct {
		conn *Conn
		err  error
	}
	acquired := make(chan outcome, 1)
	go func() {
		conn, err := pool.Acquire()
		acquired <- outcome{conn, err}
	}()

	// the waiter must block until the holder releases
	select {
	case <-acquired:
		t.Fatal("second acquire succeeded against a full pool")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(held)
	res := <-acquired
	require.NoError(t, res.err)
	waiter := res.conn
	pool.Release(waiter)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.TotalCreated, "pool grew past its capacity")
	assert.Same(t, held, waiter)
}

func TestPoolGivesEachConnectionItsOwnCodec(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	srv := startTestNode(t)

	// stateful codecs must never share dictionaries across connections,
	// so the pool has to mint a fresh instance per dial
	var mu sync.Mutex
	built := 0
	factory := func() protocol.Codec {
		mu.Lock()
		built++
		mu.Unlock()
		return protocol.NewTextCodec()
	}

	cfg := testClientConfig()
	pool := NewPool(srv.Addr(), factory, cfg, nil)
	t.Cleanup(func() { _ = pool.Close() })

	first, err := pool.Acquire()
	require.NoError(t, err)
	second, err := pool.Acquire()
	require.NoError(t, err)
	defer pool.Release(first)
	defer pool.Release(second)

	mu.Lock()
	assert.Equal(t, 2, built, "pool did not build one codec per connection")
	mu.Unlock()
	assert.NotSame(t, first.Codec(), second.Codec())
}

func TestPoolAcquireTimesOutWhenSaturated(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	srv := startTestNode(t)
	pool := newTestPool(t, srv.Addr(), func(cfg *config.ClientConfig) {
		cfg.PoolSize = 1
		cfg.ConnectionTimeout = 80 * time.Millisecond
	})

	held, err := pool.Acquire()
	require.NoError(t, err)
	defer pool.Release(held)

	_, err = pool.Acquire()
	require.ErrorIs(t, err, ErrPoolAcquireTimeout)
}

func TestPoolWarmUpIsBoundedByCapacity(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	srv := startTestNode(t)
	pool := newTestPool(t, srv.Addr(), func(cfg *config.ClientConfig) {
		cfg.PoolSize = 3
	})

	require.NoError(t, pool.WarmUp(10))

	stats := pool.Stats()
	assert.Equal(t, 3, stats.Idle)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, uint64(3), stats.TotalCreated)

	// warmed-up connections are pool hits
	conn, err := pool.Acquire()
	require.NoError(t, err)
	pool.Release(conn)
	assert.GreaterOrEqual(t, pool.Stats().Hits, uint64(1))
}

func TestPoolEvictsConnectionAfterRepeatedProbeFailures(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 10*time.Second))

	srv := startTestNode(t)
	pool := newTestPool(t, srv.Addr(), func(cfg *config.ClientConfig) {
		cfg.PoolSize = 1
		cfg.HealthCheckInterval = 20 * time.Millisecond
		cfg.HealthCheckTimeout = 200 * time.Millisecond
	})

	require.NoError(t, pool.WarmUp(1))
	srv.SetFailPings(true)

	require.Eventually(t, func() bool {
		stats := pool.Stats()
		return stats.Active+stats.Idle == 0
	}, 5*time.Second, 20*time.Millisecond, "unhealthy connection was never evicted")

	stats := pool.Stats()
	assert.GreaterOrEqual(t, stats.HealthCheckFailures,
		uint64(config.DefaultHealthFailureThreshold)+1)
}

func TestPoolHealthyProbesDoNotEvict(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	srv := startTestNode(t)
	pool := newTestPool(t, srv.Addr(), func(cfg *config.ClientConfig) {
		cfg.PoolSize = 2
		cfg.HealthCheckInterval = 20 * time.Millisecond
	})

	require.NoError(t, pool.WarmUp(2))
	time.Sleep(150 * time.Millisecond)

	// probes may be in flight, wait for a quiet instant
	require.Eventually(t, func() bool {
		return pool.Stats().Idle == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(0), pool.Stats().HealthCheckFailures)
}

func TestPoolCloseRejectsFurtherAcquires(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	srv := startTestNode(t)
	pool := newTestPool(t, srv.Addr(), nil)

	conn, err := pool.Acquire()
	require.NoError(t, err)
	pool.Release(conn)

	require.NoError(t, pool.Close())

	_, err = pool.Acquire()
	require.ErrorIs(t, err, ErrPoolClosed)
}
