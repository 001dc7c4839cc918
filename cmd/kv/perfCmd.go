package kv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/ikv/cmd/util"
	"github.com/ValentinKolb/ikv/lib/common"
	"github.com/ValentinKolb/ikv/lib/store"
	"github.com/ValentinKolb/ikv/lib/store/index"
	"github.com/ValentinKolb/ikv/lib/store/lstore"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for ikv stores",
		Long: util.WrapString(`Runs a series of benchmarks against the configured store. Every benchmark
submits b.N operations and runs the loop until all of them completed.`),
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)

	perfLog = logger.GetLogger("cli")
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
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

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is one perf test: setup prepares the store, op submits operation i
type benchmark struct {
	name  string
	setup func(h *lstore.Handle, keys []string)
	op    func(h *lstore.Handle, keys []string, i int, fail func(error))
}

func benchmarks() []benchmark {
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	setAll := func(value []byte) func(*lstore.Handle, []string) {
		return func(h *lstore.Handle, keys []string) {
			for _, k := range keys {
				h.Set([]byte(k), value, nil)
			}
		}
	}

	return []benchmark{
		{
			name: "set",
			op: func(h *lstore.Handle, keys []string, i int, fail func(error)) {
				h.Set([]byte(keys[i%len(keys)]), []byte("test"), fail)
			},
		},
		{
			name: "set-large",
			op: func(h *lstore.Handle, keys []string, i int, fail func(error)) {
				h.Set([]byte(keys[i%len(keys)]), largeValue, fail)
			},
		},
		{
			name:  "get",
			setup: setAll([]byte("test")),
			op: func(h *lstore.Handle, keys []string, i int, fail func(error)) {
				h.Get([]byte(keys[i%len(keys)]), func(_ []byte, err error) { fail(err) })
			},
		},
		{
			name: "add-indexed",
			op: func(h *lstore.Handle, keys []string, i int, fail func(error)) {
				// unique primary key per op, index entry collides every len(keys) ops
				primary := []byte(fmt.Sprintf("%s-%d", keys[0], i))
				h.AddIndexed(primary, []byte("test"), index.Map{keys[i%len(keys)]: primary}, func(err error) {
					if err != nil && !isConflict(err) {
						fail(err)
					}
				})
			},
		},
		{
			name:  "scan",
			setup: setAll([]byte("test")),
			op: func(h *lstore.Handle, keys []string, _ int, fail func(error)) {
				h.Scan([]byte(keys[0]), func(_, _ []byte) bool { return true }, fail)
			},
		},
	}
}

func runPerf(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for ikv stores")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(session.Config.String())
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	h := session.Handle

	for _, bm := range benchmarks() {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}

			keys := getKeys(bm.name)
			if bm.setup != nil {
				bm.setup(h, keys)
				if err := session.Run(cmd.Context()); err != nil {
					b.Fatal(err)
				}
			}

			b.Cleanup(func() {
				// every benchmark leaves the store as it found it
				h.Scan([]byte(perfKeyPrefix+"-"+bm.name), func(k, _ []byte) bool {
					h.Remove(k, nil)
					return true
				}, nil)
				if err := session.Run(cmd.Context()); err != nil {
					perfLog.Warningf("(%s) - cleanup failed: %v", bm.name, err)
				}
			})

			failures := 0
			fail := func(err error) {
				if err != nil {
					failures++
					perfLog.Warningf("(%s) - operation failed: %v", bm.name, err)
				}
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				bm.op(h, keys, i, fail)
			}
			if err := session.Run(cmd.Context()); err != nil {
				b.Fatal(err)
			}
			b.StopTimer()

			if failures > 0 {
				b.Logf("%d operations failed", failures)
			}
		})

		results[bm.name] = result
		printResult(bm.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, session.Config); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}
	return nil
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

func isConflict(err error) bool {
	return errors.Is(err, store.ErrIndexConflict)
}

// getKeys creates the test keys of a benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.Config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Path", "Mode", "Workers", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
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
			config.Path,
			config.Mode,
			strconv.Itoa(config.EffectiveWorkers()),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %w", test, err)
		}
	}

	return nil
}
