package badger

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/ikv/lib/db"
	dbtesting "github.com/ValentinKolb/ikv/lib/db/testing"
)

func testOptions() *Options {
	opts := DefaultOptions()
	opts.MemTableSize = 4 << 20
	opts.ValueLogFileSize = 16 << 20
	return opts
}

func config() dbtesting.EngineTestConfig {
	return dbtesting.EngineTestConfig{
		Name:       "Badger",
		New:        func() db.Engine { return NewBadgerDB(testOptions()) },
		MemoryPath: memoryPath,
		FilePath: func(t testing.TB) string {
			return filepath.Join(t.TempDir(), "casket.kch")
		},
	}
}

func Test(t *testing.T) {
	dbtesting.RunEngineTests(t, config())
}

func Benchmark(b *testing.B) {
	dbtesting.RunEngineBenchmarks(b, config())
}
