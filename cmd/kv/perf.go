package kv

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frostbyte-io/frostbyte-go/cmd/util"
)

var (
	perfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for FrostByte servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}

	perfKeyPrefix = "__perf"
	perfOps       = 1000
	perfThreads   = 10
	perfValueSize = 64
	perfKeySpread = 100
	perfPipeDepth = 50
	perfSkip      = make([]string, 0)
)

func init() {
	// add flags
	key := "ops"
	perfCmd.Flags().Int(key, 1000, util.WrapString("Number of operations per benchmark"))
	key = "threads"
	perfCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent workers"))
	key = "value-size"
	perfCmd.Flags().Int(key, 64, util.WrapString("Size of the stored values in bytes"))
	key = "keys"
	perfCmd.Flags().Int(key, 100, util.WrapString("How many different keys to spread the operations over"))
	key = "pipeline-depth"
	perfCmd.Flags().Int(key, 50, util.WrapString("Commands per pipeline batch in the pipeline benchmark"))
	key = "skip"
	perfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,pipeline)"))
	key = "csv"
	perfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfOps = viper.GetInt("ops")
	perfThreads = viper.GetInt("threads")
	perfValueSize = viper.GetInt("value-size")
	perfKeySpread = viper.GetInt("keys")
	perfPipeDepth = viper.GetInt("pipeline-depth")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for FrostByte servers")

	// Print configuration
	conf := cacheClient.Config()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Operations: %d, Threads: %d, Value Size: %d B\n", perfOps, perfThreads, perfValueSize)
	fmt.Println()

	fmt.Println("starting benchmarks...")
	fmt.Println()

	registry := gometrics.NewRegistry()
	value := strings.Repeat("x", perfValueSize)
	order := []string{"put", "get", "del", "pipeline"}

	runBenchmark(registry, "put", func(i int) error {
		return cacheClient.Put(perfKey("put", i), value)
	})

	// seed keys for the read benchmark
	if !shouldSkip("get") {
		for i := 0; i < perfKeySpread; i++ {
			if err := cacheClient.Put(perfKey("get", i), value); err != nil {
				return fmt.Errorf("seeding get benchmark: %w", err)
			}
		}
	}
	runBenchmark(registry, "get", func(i int) error {
		_, _, err := cacheClient.Get(perfKey("get", i))
		return err
	})

	runBenchmark(registry, "del", func(i int) error {
		_, err := cacheClient.Del(perfKey("del", i))
		return err
	})

	if !shouldSkip("pipeline") {
		runPipelineBenchmark(registry, value)
	}

	// cleanup
	for _, prefix := range order {
		for i := 0; i < perfKeySpread; i++ {
			_, _ = cacheClient.Del(perfKey(prefix, i))
		}
	}

	for _, name := range order {
		printPerfResult(registry, name)
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, registry, order); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runBenchmark spreads perfOps calls of op over perfThreads workers,
// timing each call.
func runBenchmark(registry gometrics.Registry, name string, op func(i int) error) {
	if shouldSkip(name) {
		return
	}

	timer := gometrics.GetOrRegisterTimer(name, registry)
	errs := gometrics.GetOrRegisterCounter(name+".errors", registry)

	var wg sync.WaitGroup
	perThread := perfOps / perfThreads
	if perThread == 0 {
		perThread = 1
	}

	for t := 0; t < perfThreads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				start := time.Now()
				if err := op(t*perThread + i); err != nil {
					errs.Inc(1)
					continue
				}
				timer.UpdateSince(start)
			}
		}(t)
	}
	wg.Wait()
}

// runPipelineBenchmark times whole pipeline batches of perfPipeDepth
// alternating PUT/GET commands.
func runPipelineBenchmark(registry gometrics.Registry, value string) {
	timer := gometrics.GetOrRegisterTimer("pipeline", registry)
	errs := gometrics.GetOrRegisterCounter("pipeline.errors", registry)

	batches := perfOps / perfPipeDepth
	if batches == 0 {
		batches = 1
	}

	for b := 0; b < batches; b++ {
		p, err := cacheClient.Pipeline()
		if err != nil {
			errs.Inc(1)
			continue
		}
		for i := 0; i < perfPipeDepth; i++ {
			key := perfKey("pipeline", i)
			if i%2 == 0 {
				p.Put(key, value)
			} else {
				p.Get(key)
			}
		}

		start := time.Now()
		results, err := p.Execute()
		if err != nil {
			errs.Inc(1)
			continue
		}
		timer.UpdateSince(start)

		for _, res := range results {
			if res.Err != nil {
				errs.Inc(1)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

func perfKey(prefix string, i int) string {
	return fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i%perfKeySpread)
}

// printPerfResult prints one timer in a formatted way
func printPerfResult(registry gometrics.Registry, name string) {
	timer, ok := registry.Get(name).(gometrics.Timer)
	if !ok || timer.Count() == 0 {
		fmt.Printf("%-12s skipped\n", name)
		return
	}

	sn := timer.Snapshot()
	fmt.Printf("%-12s %8d ops  %10.0f ops/s  mean %8.3f ms  p95 %8.3f ms  p99 %8.3f ms\n",
		name,
		sn.Count(),
		sn.RateMean(),
		sn.Mean()/1e6,
		sn.Percentile(0.95)/1e6,
		sn.Percentile(0.99)/1e6,
	)
}

// writeResultsToCSV exports the timers to a CSV file
func writeResultsToCSV(path string, registry gometrics.Registry, order []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"test", "ops", "ops_per_sec", "mean_ms", "p95_ms", "p99_ms", "errors"}); err != nil {
		return err
	}

	for _, name := range order {
		timer, ok := registry.Get(name).(gometrics.Timer)
		if !ok || timer.Count() == 0 {
			continue
		}
		sn := timer.Snapshot()

		var errCount int64
		if c, ok := registry.Get(name + ".errors").(gometrics.Counter); ok {
			errCount = c.Count()
		}

		record := []string{
			name,
			strconv.FormatInt(sn.Count(), 10),
			strconv.FormatFloat(sn.RateMean(), 'f', 1, 64),
			strconv.FormatFloat(sn.Mean()/1e6, 'f', 3, 64),
			strconv.FormatFloat(sn.Percentile(0.95)/1e6, 'f', 3, 64),
			strconv.FormatFloat(sn.Percentile(0.99)/1e6, 'f', 3, 64),
			strconv.FormatInt(errCount, 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}
