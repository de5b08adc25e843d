// Package pipe implements the pipeline CLI command: several commands
// given as arguments are executed as one batched write.
package pipe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frostbyte-io/frostbyte-go/client"
	"github.com/frostbyte-io/frostbyte-go/cmd/util"
)

var (
	// PipeCmd executes its arguments as one pipeline, e.g.
	//   frostbyte pipe "put greeting hello" "get greeting" "del greeting"
	PipeCmd = &cobra.Command{
		Use:   "pipe [command]...",
		Short: "Executes several commands as one pipelined batch",
		Long: util.WrapString("Each argument is one command in the form " +
			"'put key value [ttl]', 'get key', 'del key', 'expire key ttl', " +
			"'ping', 'stats' or 'metrics'. All commands are sent as a single " +
			"write and resolved in order."),
		Args: cobra.MinimumNArgs(1),
		RunE: runPipe,
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)
	util.SetupClientFlags(PipeCmd)

	key := "batch-size"
	PipeCmd.Flags().Int(key, 0, util.WrapString("Split the batch into chunks of this size (0 sends everything as one write)"))
}

func runPipe(cmd *cobra.Command, args []string) error {
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
	defer func() { _ = c.Close() }()

	pipeline, err := c.Pipeline()
	if err != nil {
		return err
	}

	for _, arg := range args {
		if err := queueCommand(pipeline, arg); err != nil {
			return err
		}
	}

	var results []client.Result
	if batchSize := viper.GetInt("batch-size"); batchSize > 0 {
		results, err = pipeline.ExecuteBatched(batchSize)
	} else {
		results, err = pipeline.Execute()
	}
	if err != nil {
		return err
	}

	for i, res := range results {
		if res.Err != nil {
			fmt.Printf("%3d  %-24s ERROR: %v\n", i+1, args[i], res.Err)
			continue
		}
		fmt.Printf("%3d  %-24s %s", i+1, args[i], res.Response.Type)
		if len(res.Response.Value) > 0 {
			fmt.Printf("  %s", res.Response.Value)
		}
		fmt.Println()
	}
	return nil
}

// queueCommand parses one argument and adds it to the pipeline
func queueCommand(p *client.Pipeline, arg string) error {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}

	switch strings.ToLower(fields[0]) {
	case "ping":
		p.Ping()
	case "put":
		switch len(fields) {
		case 3:
			p.Put(fields[1], fields[2])
		case 4:
			ttl, err := strconv.ParseUint(fields[3], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ttl in %q: %w", arg, err)
			}
			p.PutTTL(fields[1], fields[2], ttl)
		default:
			return fmt.Errorf("put wants 'put key value [ttl]', got %q", arg)
		}
	case "get":
		if len(fields) != 2 {
			return fmt.Errorf("get wants 'get key', got %q", arg)
		}
		p.Get(fields[1])
	case "del":
		if len(fields) != 2 {
			return fmt.Errorf("del wants 'del key', got %q", arg)
		}
		p.Del(fields[1])
	case "expire":
		if len(fields) != 3 {
			return fmt.Errorf("expire wants 'expire key ttl', got %q", arg)
		}
		ttl, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ttl in %q: %w", arg, err)
		}
		p.Expire(fields[1], ttl)
	case "stats":
		p.Stats()
	case "metrics":
		p.Metrics()
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}
