// Package cluster implements the clustered FrostByte client: one
// coordinator routing requests over a set of nodes, each owning its own
// connection pool and metrics, with pluggable load balancing and
// health-based failover.
package cluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/frostbyte-io/frostbyte-go/config"
	"github.com/frostbyte-io/frostbyte-go/events"
	"github.com/frostbyte-io/frostbyte-go/protocol"
	"github.com/frostbyte-io/frostbyte-go/transport"
)

// HealthStatus tags the outcome of the most recent health probe.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// NodeMetrics is a point-in-time snapshot of one node.
type NodeMetrics struct {
	ID              string
	Active          bool
	Weight          int
	Requests        uint64
	Errors          uint64
	AvgLatency      time.Duration
	LastHealthCheck time.Time
	Status          HealthStatus
}

// Node bundles one cluster member's descriptor, its dedicated
// connection pool and its running metrics into a single entity, so the
// three can never drift apart.
type Node struct {
	addr         config.NodeAddress
	pool         *transport.Pool
	probeTimeout time.Duration

	requests *xsync.Counter
	errs     *xsync.Counter

	mu              sync.Mutex
	active          bool
	status          HealthStatus
	avgLatency      time.Duration
	lastHealthCheck time.Time
}

func newNode(addr config.NodeAddress, newCodec protocol.CodecFactory, clientCfg config.ClientConfig, probeTimeout time.Duration, onEvent events.Handler) *Node {
	clientCfg.Host = addr.Host
	clientCfg.Port = addr.Port

	return &Node{
		addr:         addr,
		pool:         transport.NewPool(addr.ID(), newCodec, clientCfg, onEvent),
		probeTimeout: probeTimeout,
		requests:     xsync.NewCounter(),
		errs:         xsync.NewCounter(),
		active:       true,
		status:       HealthUnknown,
	}
}

// ID returns the host:port identifier of the node.
func (n *Node) ID() string {
	return n.addr.ID()
}

// Weight returns the selection bias of the node.
func (n *Node) Weight() int {
	return n.addr.Weight
}

// Active reports whether the node participates in selection.
func (n *Node) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func (n *Node) setActive(v bool) {
	n.mu.Lock()
	n.active = v
	n.mu.Unlock()
}

// Requests returns the total request count routed to this node.
func (n *Node) Requests() uint64 {
	return uint64(n.requests.Value())
}

// recordRequest accounts one routed request and folds its latency into
// the smoothed average.
func (n *Node) recordRequest(latency time.Duration, failed bool) {
	n.requests.Inc()
	if failed {
		n.errs.Inc()
	}
	n.observeLatency(latency)
}

// observeLatency applies the 2-point smoothing (old+new)/2.
func (n *Node) observeLatency(latency time.Duration) {
	n.mu.Lock()
	if n.avgLatency == 0 {
		n.avgLatency = latency
	} else {
		n.avgLatency = (n.avgLatency + latency) / 2
	}
	n.mu.Unlock()
}

// warmUp eagerly establishes the node's first pooled connection.
func (n *Node) warmUp() error {
	return n.pool.WarmUp(1)
}

// probe sends one PING through the node's pool and updates the health
// tag and timestamp. Probe failures count toward the node's error
// total.
func (n *Node) probe() error {
	err := n.doProbe()

	n.mu.Lock()
	n.lastHealthCheck = time.Now()
	if err == nil {
		n.status = HealthHealthy
	} else {
		n.status = HealthUnhealthy
	}
	n.mu.Unlock()

	if err != nil {
		n.errs.Inc()
	}
	return err
}

func (n *Node) doProbe() error {
	conn, err := n.pool.Acquire()
	if err != nil {
		return err
	}
	defer n.pool.Release(conn)

	ping, err := conn.Codec().EncodeCommand(protocol.NewPingCommand())
	if err != nil {
		return err
	}

	start := time.Now()
	frame, err := conn.SendTimeout(ping, n.probeTimeout)
	if err != nil {
		return err
	}
	resp, err := conn.Codec().DecodeResponse(frame)
	if err != nil {
		return err
	}
	if resp.Type != protocol.RespPong {
		return fmt.Errorf("node %s answered %s to health probe", n.ID(), resp.Type)
	}

	n.observeLatency(time.Since(start))
	return nil
}

// Metrics returns a snapshot of the node's state.
func (n *Node) Metrics() NodeMetrics {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NodeMetrics{
		ID:              n.addr.ID(),
		Active:          n.active,
		Weight:          n.addr.Weight,
		Requests:        uint64(n.requests.Value()),
		Errors:          uint64(n.errs.Value()),
		AvgLatency:      n.avgLatency,
		LastHealthCheck: n.lastHealthCheck,
		Status:          n.status,
	}
}

// PoolStats exposes the node's pool snapshot.
func (n *Node) PoolStats() transport.PoolStats {
	return n.pool.Stats()
}

func (n *Node) close() error {
	return n.pool.Close()
}
