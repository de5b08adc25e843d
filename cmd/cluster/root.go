// Package cluster implements the cluster CLI command group.
package cluster

import (
	"fmt"

	"github.com/spf13/cobra"

	clusterpkg "github.com/frostbyte-io/frostbyte-go/cluster"
	"github.com/frostbyte-io/frostbyte-go/cmd/util"
)

var (
	coordinator *clusterpkg.Coordinator

	// ClusterCommands represents the cluster command group
	ClusterCommands = &cobra.Command{
		Use:               "cluster",
		Short:             "Work with a FrostByte cluster",
		PersistentPreRunE: setupCluster,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if coordinator != nil {
				return coordinator.Close()
			}
			return nil
		},
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks that at least one cluster node answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := coordinator.Ping(); err != nil {
				return err
			}
			fmt.Println("PONG")
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Prints per-node health and routing metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%-22s %-8s %-10s %-7s %-10s %-8s %-12s\n",
				"NODE", "ACTIVE", "STATUS", "WEIGHT", "REQUESTS", "ERRORS", "AVG LATENCY")
			for _, m := range coordinator.NodeMetrics() {
				fmt.Printf("%-22s %-8t %-10s %-7d %-10d %-8d %-12s\n",
					m.ID, m.Active, m.Status, m.Weight, m.Requests, m.Errors, m.AvgLatency)
			}
			return nil
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints aggregated statistics across active nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := coordinator.Stats()
			if err != nil {
				return err
			}

			fmt.Printf("Nodes:                  %d (%d active)\n", stats.TotalNodes, stats.ActiveNodes)
			fmt.Printf("Keys:                   %d\n", stats.Keys)
			fmt.Printf("Hits / Misses:          %d / %d\n", stats.Hits, stats.Misses)
			fmt.Printf("Puts / Gets / Dels:     %d / %d / %d\n", stats.Puts, stats.Gets, stats.Dels)
			fmt.Printf("Expirations:            %d\n", stats.Expirations)
			fmt.Printf("Evictions:              %d\n", stats.Evictions)
			fmt.Printf("Memory:                 %d B\n", stats.MemoryBytes)
			fmt.Printf("Hit Ratio (avg):        %.3f\n", stats.HitRatio)
			fmt.Printf("Uptime (max):           %d s\n", stats.UptimeSeconds)
			fmt.Printf("Throughput Estimate:    %.1f lookups/s\n", stats.ThroughputEstimate)
			fmt.Printf("Load Balance Efficiency: %.3f\n", stats.LoadBalanceEfficiency)
			fmt.Printf("Fault Tolerance:        %.3f\n", stats.FaultTolerance)
			return nil
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Connection and cluster flags
	util.SetupClientFlags(ClusterCommands)
	util.SetupClusterFlags(ClusterCommands)

	// Add subcommands
	ClusterCommands.AddCommand(pingCmd)
	ClusterCommands.AddCommand(statusCmd)
	ClusterCommands.AddCommand(statsCmd)
}

// setupCluster creates and connects the coordinator
func setupCluster(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetClusterConfig()
	if err != nil {
		return err
	}

	c, err := clusterpkg.New(conf)
	if err != nil {
		return err
	}
	if err := c.Connect(); err != nil {
		return err
	}

	coordinator = c
	return nil
}
