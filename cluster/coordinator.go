package cluster

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/frostbyte-io/frostbyte-go/config"
	"github.com/frostbyte-io/frostbyte-go/events"
	"github.com/frostbyte-io/frostbyte-go/protocol"
)

var log = logger.GetLogger("cluster")

// ErrNoActiveNodes is returned when a request cannot be routed because
// every node is currently inactive.
var ErrNoActiveNodes = errors.New("no active cluster nodes")

// ClusterStats aggregates server statistics across active nodes plus
// cluster-level derived fields.
type ClusterStats struct {
	TotalNodes  int
	ActiveNodes int

	Keys        uint64
	Hits        uint64
	Misses      uint64
	Puts        uint64
	Gets        uint64
	Dels        uint64
	Expirations uint64
	Evictions   uint64
	MemoryBytes uint64

	// HitRatio is the plain average of the per-node ratios, not
	// weighted by traffic volume.
	HitRatio      float64
	UptimeSeconds uint64

	// ThroughputEstimate is total served lookups divided by the oldest
	// node's uptime.
	ThroughputEstimate float64

	// LoadBalanceEfficiency is mean/max of per-node request counts;
	// 1.0 means perfectly even routing.
	LoadBalanceEfficiency float64

	// FaultTolerance is active/total.
	FaultTolerance float64
}

// Coordinator presents a single client surface over N nodes. Each node
// owns its pool and metrics; the coordinator owns selection, health
// checking and failover.
type Coordinator struct {
	cfg     config.ClusterConfig
	onEvent events.Handler

	// The cluster wire formats (text, binary) are stateless, so one
	// shared instance encodes a command once for all retry attempts
	// while the per-connection instances handle the sockets.
	codec    protocol.Codec
	newCodec protocol.CodecFactory

	lb balancer

	// nodes is keyed by host:port; order preserves the configured node
	// sequence for deterministic iteration and round-robin.
	nodes *xsync.MapOf[string, *Node]
	order []string

	mu        sync.Mutex
	connected bool

	healthStop chan struct{}
	healthDone chan struct{}

	failovers  *metrics.Counter
	recoveries *metrics.Counter
}

// New creates a coordinator from the given configuration. Nodes are not
// contacted until Connect.
func New(cfg config.ClusterConfig) (*Coordinator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}

	lb, err := newBalancer(cfg.LoadBalancingStrategy)
	if err != nil {
		return nil, err
	}

	newCodec := protocol.CodecFactory(protocol.NewTextCodec)
	if cfg.Client.UseBinaryProtocol {
		newCodec = protocol.NewBinaryCodec
	}

	return &Coordinator{
		cfg:      cfg,
		codec:    newCodec(),
		newCodec: newCodec,
		lb:       lb,
		nodes:    xsync.NewMapOf[string, *Node](),

		failovers:  metrics.GetOrCreateCounter("frostbyte_cluster_failovers_total"),
		recoveries: metrics.GetOrCreateCounter("frostbyte_cluster_recoveries_total"),
	}, nil
}

// OnEvent registers a notification handler. Must be called before
// Connect.
func (c *Coordinator) OnEvent(h events.Handler) {
	c.onEvent = h
}

// Config returns the effective configuration.
func (c *Coordinator) Config() config.ClusterConfig {
	return c.cfg
}

// Connect warms up every node's pool concurrently. A node that fails to
// warm up is marked inactive and reported, but only zero reachable
// nodes fail the connect as a whole.
func (c *Coordinator) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = true
	c.healthStop = make(chan struct{})
	c.healthDone = make(chan struct{})

	// rebuild the node set so a re-connect after Close starts clean
	c.nodes = xsync.NewMapOf[string, *Node]()
	c.order = c.order[:0]
	for _, addr := range c.cfg.Nodes {
		node := newNode(addr, c.newCodec, c.cfg.Client, c.cfg.HealthCheckTimeout, c.onEvent)
		c.nodes.Store(node.ID(), node)
		c.order = append(c.order, node.ID())
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	c.eachNode(func(n *Node) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.warmUp(); err != nil {
				log.Warningf("node %s unreachable during connect: %v", n.ID(), err)
				n.setActive(false)
				events.Emit(c.onEvent, events.Event{Type: events.NodeConnectionFailed, Addr: n.ID(), Err: err})
				return
			}
			events.Emit(c.onEvent, events.Event{Type: events.NodeConnected, Addr: n.ID()})
		}()
	})
	wg.Wait()

	if len(c.activeNodes()) == 0 {
		close(c.healthDone) // health loop never started
		_ = c.Close()
		return fmt.Errorf("cluster connect: %w", ErrNoActiveNodes)
	}

	go c.healthLoop()

	log.Infof("cluster connected: %d/%d nodes active, %s balancing",
		len(c.activeNodes()), len(c.order), c.cfg.LoadBalancingStrategy)
	events.Emit(c.onEvent, events.Event{Type: events.ClusterConnected})
	return nil
}

// Close stops health checking and shuts down every node pool.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	stop, done := c.healthStop, c.healthDone
	c.mu.Unlock()

	close(stop)
	<-done

	var errs []error
	c.eachNode(func(n *Node) {
		if err := n.close(); err != nil {
			errs = append(errs, err)
		}
	})

	events.Emit(c.onEvent, events.Event{Type: events.ClusterDisconnected})
	return errors.Join(errs...)
}

// eachNode visits nodes in configured order.
func (c *Coordinator) eachNode(fn func(*Node)) {
	for _, id := range c.order {
		if n, ok := c.nodes.Load(id); ok {
			fn(n)
		}
	}
}

func (c *Coordinator) activeNodes() []*Node {
	var active []*Node
	c.eachNode(func(n *Node) {
		if n.Active() {
			active = append(active, n)
		}
	})
	return active
}

// selectNode applies the balancing policy to the current active set.
func (c *Coordinator) selectNode() (*Node, error) {
	active := c.activeNodes()
	if len(active) == 0 {
		return nil, ErrNoActiveNodes
	}
	return c.lb.pick(active), nil
}

// --------------------------------------------------------------------------
// Request routing
// --------------------------------------------------------------------------

// Do routes one command to a selected node. With failover enabled, a
// transport failure is retried on a freshly selected node up to
// MaxRetries times; retries never flip node state, only the health
// loop does that. A server-reported ERROR is an application error and
// is never retried.
func (c *Coordinator) Do(cmd *protocol.Command) (*protocol.Response, error) {
	payload, err := c.codec.EncodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cmd.Type, err)
	}

	attempts := 1
	if c.cfg.EnableFailover {
		attempts += c.cfg.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		node, err := c.selectNode()
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%w (last node error: %v)", err, lastErr)
			}
			return nil, err
		}

		start := time.Now()
		resp, err := c.doOnNode(node, payload)
		node.recordRequest(time.Since(start), err != nil)
		if err != nil {
			log.Debugf("request to %s failed (attempt %d/%d): %v", node.ID(), attempt+1, attempts, err)
			lastErr = err
			continue
		}
		return resp, resp.Err()
	}
	return nil, lastErr
}

func (c *Coordinator) doOnNode(node *Node, payload []byte) (*protocol.Response, error) {
	conn, err := node.pool.Acquire()
	if err != nil {
		return nil, err
	}
	defer node.pool.Release(conn)

	frame, err := conn.Send(payload)
	if err != nil {
		return nil, err
	}
	return c.codec.DecodeResponse(frame)
}

// --------------------------------------------------------------------------
// Typed operations
// --------------------------------------------------------------------------

// Ping checks that some active node answers.
func (c *Coordinator) Ping() error {
	resp, err := c.Do(protocol.NewPingCommand())
	if err != nil {
		return err
	}
	if resp.Type != protocol.RespPong {
		return fmt.Errorf("ping answered %s, want PONG", resp.Type)
	}
	return nil
}

// Put stores a value without expiry.
func (c *Coordinator) Put(key, value string) error {
	return c.expectOK(protocol.NewPutCommand(key, []byte(value)))
}

// PutTTL stores a value that expires after ttlSeconds.
func (c *Coordinator) PutTTL(key, value string, ttlSeconds uint64) error {
	return c.expectOK(protocol.NewPutTTLCommand(key, []byte(value), ttlSeconds))
}

// Get fetches a value. The boolean reports whether the key existed.
func (c *Coordinator) Get(key string) (string, bool, error) {
	resp, err := c.Do(protocol.NewGetCommand(key))
	if err != nil {
		return "", false, err
	}
	switch resp.Type {
	case protocol.RespValue:
		return string(resp.Value), true, nil
	case protocol.RespNull:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("get answered %s, want VALUE or NULL", resp.Type)
	}
}

// Del removes a key, reporting whether it existed.
func (c *Coordinator) Del(key string) (bool, error) {
	return c.expectOKOrNull(protocol.NewDelCommand(key))
}

// Expire sets a TTL on an existing key, reporting whether it existed.
func (c *Coordinator) Expire(key string, ttlSeconds uint64) (bool, error) {
	return c.expectOKOrNull(protocol.NewExpireCommand(key, ttlSeconds))
}

func (c *Coordinator) expectOK(cmd *protocol.Command) error {
	resp, err := c.Do(cmd)
	if err != nil {
		return err
	}
	if resp.Type != protocol.RespOK {
		return fmt.Errorf("%s answered %s, want OK", cmd.Type, resp.Type)
	}
	return nil
}

func (c *Coordinator) expectOKOrNull(cmd *protocol.Command) (bool, error) {
	resp, err := c.Do(cmd)
	if err != nil {
		return false, err
	}
	switch resp.Type {
	case protocol.RespOK:
		return true, nil
	case protocol.RespNull:
		return false, nil
	default:
		return false, fmt.Errorf("%s answered %s, want OK or NULL", cmd.Type, resp.Type)
	}
}

// --------------------------------------------------------------------------
// Health checking
// --------------------------------------------------------------------------

func (c *Coordinator) healthLoop() {
	defer close(c.healthDone)

	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.healthStop:
			return
		case <-ticker.C:
			c.checkAllNodes()
		}
	}
}

// checkAllNodes probes every known node concurrently. This is the sole
// mechanism that flips nodes between active and inactive.
func (c *Coordinator) checkAllNodes() {
	var wg sync.WaitGroup
	c.eachNode(func(n *Node) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.checkNode(n)
		}()
	})
	wg.Wait()
}

func (c *Coordinator) checkNode(n *Node) {
	err := n.probe()
	if err == nil {
		if !n.Active() {
			n.setActive(true)
			c.recoveries.Inc()
			log.Infof("node %s recovered", n.ID())
			events.Emit(c.onEvent, events.Event{Type: events.NodeRecovered, Addr: n.ID()})
		}
		return
	}

	if n.Active() {
		n.setActive(false)
		c.failovers.Inc()
		log.Warningf("node %s failed health check: %v", n.ID(), err)
		events.Emit(c.onEvent, events.Event{Type: events.NodeFailure, Addr: n.ID(), Err: err})
	}
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// NodeMetrics returns per-node snapshots in configured order.
func (c *Coordinator) NodeMetrics() []NodeMetrics {
	out := make([]NodeMetrics, 0, len(c.order))
	c.eachNode(func(n *Node) {
		out = append(out, n.Metrics())
	})
	return out
}

// Stats queries STATS on every active node concurrently, skipping nodes
// that error, and reduces the results: counters are summed, hit ratios
// averaged, uptime is the maximum.
func (c *Coordinator) Stats() (*ClusterStats, error) {
	active := c.activeNodes()
	if len(active) == 0 {
		return nil, ErrNoActiveNodes
	}

	payload, err := c.codec.EncodeCommand(protocol.NewStatsCommand())
	if err != nil {
		return nil, err
	}

	perNode := make([]*protocol.ServerStats, len(active))
	var wg sync.WaitGroup
	for i, n := range active {
		wg.Add(1)
		go func(i int, n *Node) {
			defer wg.Done()
			resp, err := c.doOnNode(n, payload)
			if err != nil {
				log.Debugf("stats query to %s failed: %v", n.ID(), err)
				return
			}
			stats, err := protocol.DecodeStats(resp)
			if err != nil {
				log.Debugf("stats from %s undecodable: %v", n.ID(), err)
				return
			}
			perNode[i] = stats
		}(i, n)
	}
	wg.Wait()

	agg := &ClusterStats{
		TotalNodes:  len(c.order),
		ActiveNodes: len(active),
	}

	answered := 0
	ratioSum := 0.0
	for _, s := range perNode {
		if s == nil {
			continue
		}
		answered++
		agg.Keys += s.Keys
		agg.Hits += s.Hits
		agg.Misses += s.Misses
		agg.Puts += s.Puts
		agg.Gets += s.Gets
		agg.Dels += s.Dels
		agg.Expirations += s.Expirations
		agg.Evictions += s.Evictions
		agg.MemoryBytes += s.MemoryBytes
		ratioSum += s.HitRatio
		if s.UptimeSeconds > agg.UptimeSeconds {
			agg.UptimeSeconds = s.UptimeSeconds
		}
	}
	if answered == 0 {
		return nil, fmt.Errorf("stats query failed on all %d active nodes", len(active))
	}

	agg.HitRatio = ratioSum / float64(answered)
	if agg.UptimeSeconds > 0 {
		agg.ThroughputEstimate = float64(agg.Hits+agg.Misses) / float64(agg.UptimeSeconds)
	}
	agg.LoadBalanceEfficiency = c.loadBalanceEfficiency()
	agg.FaultTolerance = float64(len(active)) / float64(len(c.order))
	return agg, nil
}

// loadBalanceEfficiency is mean/max of per-node request counts, 1.0
// when routing is perfectly even. A cluster with no traffic reports 1.0.
func (c *Coordinator) loadBalanceEfficiency() float64 {
	var counts []uint64
	c.eachNode(func(n *Node) {
		counts = append(counts, n.Requests())
	})

	var sum, max uint64
	for _, v := range counts {
		sum += v
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return 1.0
	}
	mean := float64(sum) / float64(len(counts))
	return mean / float64(max)
}
