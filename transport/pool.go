package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/frostbyte-io/frostbyte-go/config"
	"github.com/frostbyte-io/frostbyte-go/events"
	"github.com/frostbyte-io/frostbyte-go/protocol"
)

var poolLog = logger.GetLogger("pool")

// poolConn wraps a Conn with the pool's bookkeeping.
type poolConn struct {
	conn        *Conn // nil while a freshly claimed slot is still dialing
	inUse       bool
	createdAt   time.Time
	lastUsed    time.Time
	healthFails int
}

// PoolStats is a point-in-time snapshot of pool metrics.
type PoolStats struct {
	Capacity            int
	Active              int
	Idle                int
	TotalCreated        uint64
	Hits                uint64
	Misses              uint64
	HealthCheckFailures uint64
}

// Pool bounds the number of live connections to one node and recycles
// them across concurrent callers. Acquisition against an exhausted pool
// blocks until a connection is released or the connection timeout
// elapses; the wake-up is a release notification with a periodic poll
// as fallback. There is no queueing or admission control beyond that.
type Pool struct {
	addr string

	// newCodec builds one fresh codec per connection; a stateful codec
	// shared between connections would desynchronize from its peers.
	newCodec protocol.CodecFactory

	cfg     config.ClientConfig
	onEvent events.Handler

	mu      sync.Mutex
	records []*poolConn
	closed  bool

	// released receives a token whenever a connection goes idle; a
	// buffered single slot is enough because waiters re-scan anyway.
	released chan struct{}

	healthStop chan struct{}
	healthDone chan struct{}

	hits           *metrics.Counter
	misses         *metrics.Counter
	created        *metrics.Counter
	healthFailures *metrics.Counter
}

// NewPool creates a pool for one node and starts its recurring health
// check.
func NewPool(addr string, newCodec protocol.CodecFactory, cfg config.ClientConfig, onEvent events.Handler) *Pool {
	p := &Pool{
		addr:       addr,
		newCodec:   newCodec,
		cfg:        cfg,
		onEvent:    onEvent,
		released:   make(chan struct{}, 1),
		healthStop: make(chan struct{}),
		healthDone: make(chan struct{}),

		hits:           metrics.GetOrCreateCounter(fmt.Sprintf(`frostbyte_pool_hits_total{node=%q}`, addr)),
		misses:         metrics.GetOrCreateCounter(fmt.Sprintf(`frostbyte_pool_misses_total{node=%q}`, addr)),
		created:        metrics.GetOrCreateCounter(fmt.Sprintf(`frostbyte_pool_connections_created_total{node=%q}`, addr)),
		healthFailures: metrics.GetOrCreateCounter(fmt.Sprintf(`frostbyte_pool_health_failures_total{node=%q}`, addr)),
	}

	go p.healthLoop()
	return p
}

// Addr returns the host:port this pool connects to.
func (p *Pool) Addr() string {
	return p.addr
}

// --------------------------------------------------------------------------
// Acquire / Release
// --------------------------------------------------------------------------

// Acquire hands out an idle connection, creates one if the pool has
// spare capacity, or blocks until a release frees one. A saturated pool
// fails with ErrPoolAcquireTimeout after the connection timeout.
func (p *Pool) Acquire() (*Conn, error) {
	deadline := time.NewTimer(p.cfg.ConnectionTimeout)
	defer deadline.Stop()

	for {
		conn, err := p.tryAcquire()
		if err != nil {
			return nil, err
		}
		if conn != nil {
			return conn, nil
		}

		select {
		case <-p.released:
		case <-time.After(p.cfg.AcquirePollInterval):
		case <-deadline.C:
			return nil, fmt.Errorf("%w: pool for %s saturated for %v",
				ErrPoolAcquireTimeout, p.addr, p.cfg.ConnectionTimeout)
		}
	}
}

// tryAcquire performs one scan. It returns (nil, nil) when the pool is
// full and the caller should wait for a release.
func (p *Pool) tryAcquire() (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	p.pruneLocked()

	// 1. idle, still-connected record
	for _, rec := range p.records {
		if !rec.inUse && rec.conn != nil && rec.conn.Connected() {
			rec.inUse = true
			rec.lastUsed = time.Now()
			p.mu.Unlock()
			p.hits.Inc()
			return rec.conn, nil
		}
	}

	// 2. grow, holding the slot before dialing so the capacity
	// invariant holds across the blocking connect
	if len(p.records) < p.cfg.PoolSize {
		rec := &poolConn{inUse: true, createdAt: time.Now()}
		p.records = append(p.records, rec)
		p.mu.Unlock()

		conn, err := p.dial(rec)
		if err != nil {
			return nil, err
		}
		p.misses.Inc()
		return conn, nil
	}

	// 3. full: wait for a release
	p.mu.Unlock()
	return nil, nil
}

// dial completes a freshly claimed slot. The record is removed again if
// the connect fails.
func (p *Pool) dial(rec *poolConn) (*Conn, error) {
	conn := NewConn(p.addr, p.newCodec(), p.cfg, p.onEvent)
	if err := conn.Connect(); err != nil {
		p.removeRecord(rec)
		return nil, err
	}

	p.mu.Lock()
	rec.conn = conn
	rec.lastUsed = time.Now()
	p.mu.Unlock()

	p.created.Inc()
	events.Emit(p.onEvent, events.Event{Type: events.ConnectionCreated, Addr: p.addr})
	return conn, nil
}

// Release returns a connection to the pool. The caller must not release
// a connection with outstanding requests.
func (p *Pool) Release(conn *Conn) {
	p.mu.Lock()
	for _, rec := range p.records {
		if rec.conn == conn {
			rec.inUse = false
			rec.lastUsed = time.Now()
			break
		}
	}
	p.mu.Unlock()

	p.notifyReleased()
}

func (p *Pool) notifyReleased() {
	select {
	case p.released <- struct{}{}:
	default:
	}
}

// pruneLocked drops idle records whose connection died. Caller holds p.mu.
func (p *Pool) pruneLocked() {
	kept := p.records[:0]
	for _, rec := range p.records {
		if !rec.inUse && rec.conn != nil && !rec.conn.Connected() {
			events.Emit(p.onEvent, events.Event{Type: events.ConnectionRemoved, Addr: p.addr})
			continue
		}
		kept = append(kept, rec)
	}
	p.records = kept
}

// removeRecord drops one record by identity.
func (p *Pool) removeRecord(rec *poolConn) {
	p.mu.Lock()
	for i, r := range p.records {
		if r == rec {
			p.records = append(p.records[:i], p.records[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// --------------------------------------------------------------------------
// Warm up
// --------------------------------------------------------------------------

// WarmUp eagerly establishes connections until the pool holds
// min(n, poolSize) of them, leaving each idle so subsequent acquires
// are pool hits.
func (p *Pool) WarmUp(n int) error {
	target := n
	if target > p.cfg.PoolSize {
		target = p.cfg.PoolSize
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		if len(p.records) >= target {
			p.mu.Unlock()
			return nil
		}
		rec := &poolConn{inUse: true, createdAt: time.Now()}
		p.records = append(p.records, rec)
		p.mu.Unlock()

		conn, err := p.dial(rec)
		if err != nil {
			return err
		}
		p.Release(conn)
	}
}

// --------------------------------------------------------------------------
// Health checking
// --------------------------------------------------------------------------

func (p *Pool) healthLoop() {
	defer close(p.healthDone)

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.healthStop:
			return
		case <-ticker.C:
			p.checkIdleConnections()
		}
	}
}

// checkIdleConnections probes every idle connection with a PING.
// In-use connections are never probed, so a broken connection can go
// unnoticed for the length of a single-use session. A connection is
// destroyed and removed after exceeding the failure threshold.
func (p *Pool) checkIdleConnections() {
	// claim idle records so no caller can grab one mid-probe
	p.mu.Lock()
	var probes []*poolConn
	for _, rec := range p.records {
		if !rec.inUse && rec.conn != nil && rec.conn.Connected() {
			rec.inUse = true
			probes = append(probes, rec)
		}
	}
	p.mu.Unlock()

	for _, rec := range probes {
		if p.probe(rec.conn) {
			p.mu.Lock()
			rec.healthFails = 0
			rec.inUse = false
			rec.lastUsed = time.Now()
			p.mu.Unlock()
			p.notifyReleased()
			continue
		}

		p.healthFailures.Inc()

		p.mu.Lock()
		rec.healthFails++
		evict := rec.healthFails > config.DefaultHealthFailureThreshold
		if !evict {
			rec.inUse = false
		}
		p.mu.Unlock()

		if evict {
			poolLog.Warningf("evicting unhealthy connection to %s after %d failed probes",
				p.addr, rec.healthFails)
			p.removeRecord(rec)
			rec.conn.Destroy()
			events.Emit(p.onEvent, events.Event{Type: events.ConnectionRemoved, Addr: p.addr})
		} else {
			p.notifyReleased()
		}
	}
}

// probe pings one connection, encoding with that connection's own codec.
func (p *Pool) probe(conn *Conn) bool {
	ping, err := conn.Codec().EncodeCommand(protocol.NewPingCommand())
	if err != nil {
		return false
	}
	frame, err := conn.SendTimeout(ping, p.cfg.HealthCheckTimeout)
	if err != nil {
		return false
	}
	resp, err := conn.Codec().DecodeResponse(frame)
	if err != nil {
		return false
	}
	return resp.Type == protocol.RespPong
}

// --------------------------------------------------------------------------
// Shutdown / Introspection
// --------------------------------------------------------------------------

// Close stops the health check, disconnects every connection (falling
// back to a forceful destroy) and clears the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	records := p.records
	p.records = nil
	p.mu.Unlock()

	close(p.healthStop)
	<-p.healthDone

	for _, rec := range records {
		if rec.conn == nil {
			continue
		}
		if err := rec.conn.Disconnect(); err != nil {
			rec.conn.Destroy()
		}
	}
	return nil
}

// Stats returns a snapshot of the pool's counters and occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	active, idle := 0, 0
	for _, rec := range p.records {
		if rec.inUse {
			active++
		} else {
			idle++
		}
	}
	p.mu.Unlock()

	return PoolStats{
		Capacity:            p.cfg.PoolSize,
		Active:              active,
		Idle:                idle,
		TotalCreated:        p.created.Get(),
		Hits:                p.hits.Get(),
		Misses:              p.misses.Get(),
		HealthCheckFailures: p.healthFailures.Get(),
	}
}
