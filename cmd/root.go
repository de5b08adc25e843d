package cmd

import (
	"fmt"
	"os"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"

	clustercmd "github.com/frostbyte-io/frostbyte-go/cmd/cluster"
	"github.com/frostbyte-io/frostbyte-go/cmd/kv"
	"github.com/frostbyte-io/frostbyte-go/cmd/pipe"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "frostbyte",
		Short: "FrostByte cache client",
		Long: fmt.Sprintf(`FrostByte client (v%s)

Command line client for FrostByte cache servers: key-value operations,
pipelined batches, and clustered access with load balancing and
failover.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of the FrostByte client",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("frostbyte v%s\n", Version)
		},
	}

	// clientMetricsCmd dumps the client-side operational metrics
	// gathered during this process in Prometheus text form. Mostly
	// useful at the end of a perf run.
	clientMetricsCmd = &cobra.Command{
		Use:   "client-metrics",
		Short: "Dump client-side operational metrics in Prometheus text format",
		Run: func(cmd *cobra.Command, args []string) {
			metrics.WritePrometheus(os.Stdout, false)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(pipe.PipeCmd)
	RootCmd.AddCommand(clustercmd.ClusterCommands)
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(clientMetricsCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
