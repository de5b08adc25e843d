// Package config holds the configuration structs for the single-node
// client, the connection pool, and the clustered client.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultPort                = 6380
	DefaultPoolSize            = 4
	DefaultConnectionTimeout   = 5 * time.Second
	DefaultCommandTimeout      = 5 * time.Second
	DefaultAcquirePollInterval = 10 * time.Millisecond
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 2 * time.Second
	DefaultPipelineBatchSize   = 100

	DefaultClusterHealthCheckInterval = 10 * time.Second
	DefaultMaxRetries                 = 3

	// a connection is evicted after exceeding this many consecutive
	// failed health probes
	DefaultHealthFailureThreshold = 3
)

// --------------------------------------------------------------------------
// Socket configuration
// --------------------------------------------------------------------------

// SocketConfig holds TCP-level settings applied to every new connection.
type SocketConfig struct {
	NoDelay         bool
	KeepAlivePeriod time.Duration
	ReadBufferSize  int
	WriteBufferSize int
}

// --------------------------------------------------------------------------
// Client configuration
// --------------------------------------------------------------------------

// ClientConfig configures a single-node client and, through it, the
// connection pool for that node.
type ClientConfig struct {
	Host string
	Port int

	ConnectionTimeout time.Duration
	CommandTimeout    time.Duration

	// PoolSize caps the number of live connections per node.
	PoolSize int

	// AcquirePollInterval bounds how long an acquire against an
	// exhausted pool sleeps between re-checks when the release
	// notification is missed.
	AcquirePollInterval time.Duration

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	// UseBinaryProtocol selects the binary codec directly instead of
	// negotiating (negotiation currently always lands on text).
	UseBinaryProtocol bool

	// EnableExperimentalCodecs adds the compact and envelope codecs to
	// the negotiation attempt list.
	EnableExperimentalCodecs bool

	EnablePipelining  bool
	PipelineBatchSize int

	Socket SocketConfig

	LogLevel string
}

// WithDefaults returns a copy of the config with zero values replaced
// by defaults.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.AcquirePollInterval == 0 {
		c.AcquirePollInterval = DefaultAcquirePollInterval
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if c.PipelineBatchSize == 0 {
		c.PipelineBatchSize = DefaultPipelineBatchSize
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	return c
}

// Validate checks the configuration for values that cannot work.
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", c.PoolSize)
	}
	return nil
}

// Address returns the host:port target of this client.
func (c *ClientConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String returns a formatted string representation of the configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection(&sb, "Client")
	addField(&sb, "Address", c.Address())
	addField(&sb, "Connection Timeout", c.ConnectionTimeout.String())
	addField(&sb, "Command Timeout", c.CommandTimeout.String())
	addField(&sb, "Binary Protocol", strconv.FormatBool(c.UseBinaryProtocol))
	addField(&sb, "Pipelining", strconv.FormatBool(c.EnablePipelining))
	addField(&sb, "Pipeline Batch Size", strconv.Itoa(c.PipelineBatchSize))

	addSection(&sb, "Pool")
	addField(&sb, "Size", strconv.Itoa(c.PoolSize))
	addField(&sb, "Acquire Poll Interval", c.AcquirePollInterval.String())
	addField(&sb, "Health Check Interval", c.HealthCheckInterval.String())
	addField(&sb, "Health Check Timeout", c.HealthCheckTimeout.String())

	addSection(&sb, "Logging")
	addField(&sb, "Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Cluster configuration
// --------------------------------------------------------------------------

// NodeAddress describes one cluster member.
type NodeAddress struct {
	Host   string
	Port   int
	Weight int
}

// ID returns the node identifier used throughout the cluster layer.
func (n NodeAddress) ID() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// ClusterConfig configures the clustered client. Per-node pool and
// timeout settings come from the embedded client config; the Host/Port
// of that config are ignored in cluster mode.
type ClusterConfig struct {
	Nodes []NodeAddress

	// LoadBalancingStrategy is one of round-robin, weighted,
	// least-loaded, adaptive.
	LoadBalancingStrategy string

	EnableFailover      bool
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	MaxRetries          int

	Client ClientConfig
}

// WithDefaults returns a copy of the config with zero values replaced
// by defaults.
func (c ClusterConfig) WithDefaults() ClusterConfig {
	if c.LoadBalancingStrategy == "" {
		c.LoadBalancingStrategy = "round-robin"
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = DefaultClusterHealthCheckInterval
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	for i := range c.Nodes {
		if c.Nodes[i].Weight == 0 {
			c.Nodes[i].Weight = 1
		}
	}
	c.Client = c.Client.WithDefaults()
	return c
}

// Validate checks the configuration for values that cannot work.
func (c *ClusterConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("cluster config needs at least one node")
	}
	for _, n := range c.Nodes {
		if n.Host == "" || n.Port <= 0 || n.Port > 65535 {
			return fmt.Errorf("invalid node address %s:%d", n.Host, n.Port)
		}
		if n.Weight < 0 {
			return fmt.Errorf("node %s has negative weight %d", n.ID(), n.Weight)
		}
	}
	switch c.LoadBalancingStrategy {
	case "round-robin", "weighted", "least-loaded", "adaptive":
	default:
		return fmt.Errorf("invalid load balancing strategy %q", c.LoadBalancingStrategy)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ClusterConfig) String() string {
	var sb strings.Builder

	addSection(&sb, "Cluster")
	addField(&sb, "Strategy", c.LoadBalancingStrategy)
	addField(&sb, "Failover", strconv.FormatBool(c.EnableFailover))
	addField(&sb, "Health Check Interval", c.HealthCheckInterval.String())
	addField(&sb, "Health Check Timeout", c.HealthCheckTimeout.String())
	addField(&sb, "Max Retries", strconv.Itoa(c.MaxRetries))

	addSection(&sb, "Nodes")
	for i, n := range c.Nodes {
		addField(&sb, strconv.Itoa(i), fmt.Sprintf("%s (weight %d)", n.ID(), n.Weight))
	}

	sb.WriteString(c.Client.String())
	return sb.String()
}

// --------------------------------------------------------------------------
// Formatting helpers
// --------------------------------------------------------------------------

func addSection(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func addField(sb *strings.Builder, name, value string) {
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
}
