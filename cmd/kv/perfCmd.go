package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/rkv/cmd/util"
	"github.com/ValentinKolb/rkv/lib/lockmgr"
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/txn"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for rkv servers",
		Long:    "",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// benchmark is a single named perf test. setup fills the keys before the
// timer starts, op runs one operation on a leased connection.
type benchmark struct {
	name  string
	setup bool
	op    func(conn *client.Conn, key string, counter int) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for rkv servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)
	locks := lockmgr.NewLockManager(manager)

	benchmarks := []benchmark{
		{name: "set", op: func(conn *client.Conn, key string, _ int) error {
			return conn.Set(key, "test")
		}},
		{name: "set-large", op: func(conn *client.Conn, key string, _ int) error {
			return conn.Set(key, largeValue)
		}},
		{name: "get", setup: true, op: func(conn *client.Conn, key string, _ int) error {
			_, _, err := conn.Get(key)
			return err
		}},
		{name: "del", setup: true, op: func(conn *client.Conn, key string, _ int) error {
			_, err := conn.Del(key)
			return err
		}},
		{name: "exists", setup: true, op: func(conn *client.Conn, key string, _ int) error {
			_, err := conn.Exists(key)
			return err
		}},
		{name: "txn", op: func(conn *client.Conn, key string, _ int) error {
			tx, err := txn.Begin(conn)
			if err != nil {
				return err
			}
			defer tx.Close()
			if _, err := tx.Set(key, "test"); err != nil {
				return err
			}
			if _, err := tx.Get(key); err != nil {
				return err
			}
			_, err = tx.Commit()
			return err
		}},
		{name: "mixed", setup: true, op: func(conn *client.Conn, key string, counter int) error {
			var err error
			switch counter % 4 {
			case 0: // set
				err = conn.Set(key, "test")
			case 1: // get
				_, _, err = conn.Get(key)
			case 2: // delete
				_, err = conn.Del(key)
			case 3: // exists
				_, err = conn.Exists(key)
			}
			return err
		}},
	}

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	for _, bm := range benchmarks {
		result := runBenchmark(ctx, bm)
		results[bm.name] = result
		printResult(bm.name, result)
	}

	lockResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("lock") {
			return
		}

		getKey, _ := getKeys("lock")

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				lock, err := locks.AcquireLock(ctx, getKey(counter), time.Second)
				if err != nil {
					log.Printf("(lock) - error acquiring lock: %v\n", err)
				} else if err := lock.Release(); err != nil {
					log.Printf("(lock) - error releasing lock: %v\n", err)
				}
				counter++
			}
		})
	})

	results["lock"] = lockResult
	printResult("lock", lockResult)

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runBenchmark runs a single benchmark in parallel over the pool
func runBenchmark(ctx context.Context, bm benchmark) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(bm.name) {
			return
		}

		// prepare keys
		getKey, iter := getKeys(bm.name)

		// set keys
		if bm.setup {
			forEachKey(ctx, bm.name, iter, func(conn *client.Conn, k string) error {
				return conn.Set(k, "test")
			})
		}

		// cleanup
		b.Cleanup(func() {
			forEachKey(ctx, bm.name, iter, func(conn *client.Conn, k string) error {
				_, err := conn.Del(k)
				return err
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				err := manager.WithClient(ctx, func(conn *client.Conn) error {
					return bm.op(conn, key, counter)
				})
				if err != nil {
					log.Printf("(%s) - error: %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// forEachKey applies fn to every test key on a single leased connection
func forEachKey(ctx context.Context, test string, iter func(func(string)), fn func(conn *client.Conn, k string) error) {
	err := manager.WithClient(ctx, func(conn *client.Conn) error {
		var firstErr error
		iter(func(k string) {
			if err := fn(conn, k); err != nil && firstErr == nil {
				firstErr = err
			}
		})
		return firstErr
	})
	if err != nil {
		log.Printf("(%s) - error preparing keys: %v\n", test, err)
	}
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Masters", "Replicas", "PoolSizeMultiplier", "PoolTimeout",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	tests := make([]string, 0, len(results))
	for test := range results {
		tests = append(tests, test)
	}
	sort.Strings(tests)

	// Write test results
	for _, test := range tests {
		result := results[test]
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			joinEndpoints(config.Masters),
			joinEndpoints(config.Replicas),
			strconv.Itoa(config.PoolSizeMultiplier),
			config.PoolTimeout.String(),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}

func joinEndpoints(endpoints []common.Endpoint) string {
	addrs := make([]string, len(endpoints))
	for i, ep := range endpoints {
		addrs[i] = ep.Addr()
	}
	return strings.Join(addrs, ";")
}
