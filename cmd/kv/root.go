package kv

import (
	"github.com/spf13/cobra"

	"github.com/frostbyte-io/frostbyte-go/client"
	"github.com/frostbyte-io/frostbyte-go/cmd/util"
)

var (
	cacheClient *client.Client

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform cache key-value operations",
		PersistentPreRunE: setupClient,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cacheClient != nil {
				return cacheClient.Close()
			}
			return nil
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common connection flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(pingCmd)
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(expireCmd)
	KeyValueCommands.AddCommand(statsCmd)
	KeyValueCommands.AddCommand(metricsCmd)
	KeyValueCommands.AddCommand(perfCmd)
}

// setupClient creates and connects the cache client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	c, err := client.New(util.GetClientConfig())
	if err != nil {
		return err
	}
	if err := c.Connect(); err != nil {
		return err
	}

	cacheClient = c
	return nil
}
