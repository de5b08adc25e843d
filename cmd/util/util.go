package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frostbyte-io/frostbyte-go/config"
	"github.com/frostbyte-io/frostbyte-go/internal/logging"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the common connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "host"
	cmd.PersistentFlags().String(key, "localhost", WrapString("The host of the FrostByte server"))

	key = "port"
	cmd.PersistentFlags().Int(key, config.DefaultPort, WrapString("The port of the FrostByte server"))

	key = "connection-timeout"
	cmd.PersistentFlags().Int(key, 5000, WrapString("Connection timeout in milliseconds"))

	key = "command-timeout"
	cmd.PersistentFlags().Int(key, 5000, WrapString("Per-command timeout in milliseconds"))

	key = "pool-size"
	cmd.PersistentFlags().Int(key, config.DefaultPoolSize, WrapString("Maximum number of pooled connections per node"))

	key = "binary"
	cmd.PersistentFlags().Bool(key, false, WrapString("Use the binary wire protocol instead of negotiating"))

	key = "experimental-codecs"
	cmd.PersistentFlags().Bool(key, false, WrapString("Offer the experimental compact and envelope codecs during negotiation"))

	key = "pipelining"
	cmd.PersistentFlags().Bool(key, true, WrapString("Allow batching commands into pipelined writes"))

	key = "pipeline-batch-size"
	cmd.PersistentFlags().Int(key, config.DefaultPipelineBatchSize, WrapString("Maximum number of commands per pipelined write"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY on the connection sockets"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("TCP keepalive interval in seconds (0 disables)"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket write buffer (in KB, 0 for OS default)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket read buffer (in KB, 0 for OS default)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Log level (debug, info, warn, error)"))
}

// SetupClusterFlags adds the cluster-only flags to a command
func SetupClusterFlags(cmd *cobra.Command) {
	key := "nodes"
	cmd.PersistentFlags().String(key, "", WrapString("Cluster nodes as a comma separated list of host:port or host:port:weight"))

	key = "strategy"
	cmd.PersistentFlags().String(key, "round-robin", WrapString("Load balancing strategy (round-robin, weighted, least-loaded, adaptive)"))

	key = "failover"
	cmd.PersistentFlags().Bool(key, true, WrapString("Retry a failed request on another node"))

	key = "max-retries"
	cmd.PersistentFlags().Int(key, config.DefaultMaxRetries, WrapString("How many times to retry a failed request on other nodes"))

	key = "cluster-health-interval"
	cmd.PersistentFlags().Int(key, 10, WrapString("Node health check interval in seconds"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("frostbyte")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads the single-node client configuration from viper
func GetClientConfig() config.ClientConfig {
	conf := config.ClientConfig{
		Host:              viper.GetString("host"),
		Port:              viper.GetInt("port"),
		ConnectionTimeout: time.Duration(viper.GetInt("connection-timeout")) * time.Millisecond,
		CommandTimeout:    time.Duration(viper.GetInt("command-timeout")) * time.Millisecond,
		PoolSize:          viper.GetInt("pool-size"),

		UseBinaryProtocol:        viper.GetBool("binary"),
		EnableExperimentalCodecs: viper.GetBool("experimental-codecs"),

		EnablePipelining:  viper.GetBool("pipelining"),
		PipelineBatchSize: viper.GetInt("pipeline-batch-size"),

		Socket: config.SocketConfig{
			NoDelay:         viper.GetBool("tcp-nodelay"),
			KeepAlivePeriod: time.Duration(viper.GetInt("tcp-keepalive")) * time.Second,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
		},

		LogLevel: viper.GetString("log-level"),
	}

	logging.Init(conf.LogLevel)
	return conf.WithDefaults()
}

// GetClusterConfig reads the cluster configuration from viper
func GetClusterConfig() (config.ClusterConfig, error) {
	nodes, err := ParseNodes(viper.GetString("nodes"))
	if err != nil {
		return config.ClusterConfig{}, err
	}

	conf := config.ClusterConfig{
		Nodes:                 nodes,
		LoadBalancingStrategy: viper.GetString("strategy"),
		EnableFailover:        viper.GetBool("failover"),
		MaxRetries:            viper.GetInt("max-retries"),
		HealthCheckInterval:   time.Duration(viper.GetInt("cluster-health-interval")) * time.Second,
		Client:                GetClientConfig(),
	}
	return conf.WithDefaults(), nil
}

// ParseNodes parses a comma separated host:port or host:port:weight list
func ParseNodes(raw string) ([]config.NodeAddress, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("no cluster nodes specified (use --nodes host:port,host:port)")
	}

	var nodes []config.NodeAddress
	for _, part := range strings.Split(raw, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 2 && len(fields) != 3 {
			return nil, fmt.Errorf("invalid node %q, want host:port or host:port:weight", part)
		}

		port, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid port in node %q: %w", part, err)
		}

		node := config.NodeAddress{Host: fields[0], Port: port, Weight: 1}
		if len(fields) == 3 {
			weight, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("invalid weight in node %q: %w", part, err)
			}
			node.Weight = weight
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
