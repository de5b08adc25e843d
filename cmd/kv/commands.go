package kv

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks that the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cacheClient.Ping(); err != nil {
				return err
			}
			fmt.Printf("PONG (%s codec)\n", cacheClient.CodecName())
			return nil
		},
	}

	putCmd = &cobra.Command{
		Use:   "put [key] [value] [ttlSeconds]",
		Short: "Stores a value, optionally with a TTL in seconds",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			if len(args) == 3 {
				ttl, err := strconv.ParseUint(args[2], 10, 64)
				if err != nil {
					return fmt.Errorf("ttlSeconds must be a number: %w", err)
				}
				if err := cacheClient.PutTTL(key, value, ttl); err != nil {
					return err
				}
			} else if err := cacheClient.Put(key, value); err != nil {
				return err
			}

			fmt.Println("put successfully")
			return nil
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, found, err := cacheClient.Get(key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%s\n", key, found, value)
			return nil
		},
	}

	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			existed, err := cacheClient.Del(args[0])
			if err != nil {
				return err
			}
			if !existed {
				fmt.Println("key not found")
				return nil
			}
			fmt.Println("delete successfully")
			return nil
		},
	}

	expireCmd = &cobra.Command{
		Use:   "expire [key] [ttlSeconds]",
		Short: "Sets a TTL on an existing key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("ttlSeconds must be a number: %w", err)
			}
			existed, err := cacheClient.Expire(args[0], ttl)
			if err != nil {
				return err
			}
			if !existed {
				fmt.Println("key not found")
				return nil
			}
			fmt.Println("expire successfully")
			return nil
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints the server statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := cacheClient.Stats()
			if err != nil {
				return err
			}

			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}

	metricsCmd = &cobra.Command{
		Use:   "metrics",
		Short: "Prints the server metric gauges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := cacheClient.Metrics()
			if err != nil {
				return err
			}

			names := make([]string, 0, len(m))
			for name := range m {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%-40s%g\n", name, m[name])
			}
			return nil
		},
	}
)
