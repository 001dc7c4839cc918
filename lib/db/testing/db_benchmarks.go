package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/ikv/lib/db"
)

// RunEngineBenchmarks runs all benchmarks for an engine implementation
func RunEngineBenchmarks(b *testing.B, cfg EngineTestConfig) {

	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, cfg.open(b))
	})

	b.Run("SetExisting", func(b *testing.B) {
		benchmarkSetExisting(b, cfg.open(b))
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, cfg.open(b))
	})

	b.Run("GetBulk", func(b *testing.B) {
		benchmarkGetBulk(b, cfg.open(b))
	})

	b.Run("Transaction", func(b *testing.B) {
		benchmarkTransaction(b, cfg.open(b))
	})

	b.Run("AcceptBulk", func(b *testing.B) {
		benchmarkAcceptBulk(b, cfg.open(b))
	})

	b.Run("CursorScan", func(b *testing.B) {
		benchmarkCursorScan(b, cfg.open(b))
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, cfg.open(b))
	})
}

// fill stores n records "test-key-<i>" = "test-value-<i>"
func fill(b *testing.B, engine db.Engine, n int) [][]byte {
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("test-key-%d", i))
		if err := engine.Set(keys[i], []byte(fmt.Sprintf("test-value-%d", i))); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}
	return keys
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Set operation
func benchmarkSet(b *testing.B, engine db.Engine) {
	b.Cleanup(func() {
		engine.Close()
	})

	requireFeature(b, engine, db.FeatureSet)

	var counter int64
	value := []byte("benchmark-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := atomic.AddInt64(&counter, 1)
			_ = engine.Set([]byte(fmt.Sprintf("key-%d", i)), value)
		}
	})
}

// Benchmark for overwriting existing records
func benchmarkSetExisting(b *testing.B, engine db.Engine) {
	b.Cleanup(func() {
		engine.Close()
	})

	requireFeature(b, engine, db.FeatureSet)

	keys := fill(b, engine, 1000)
	value := []byte("new-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_ = engine.Set(keys[counter%len(keys)], value)
			counter++
		}
	})
}

// Benchmark for Get operation
func benchmarkGet(b *testing.B, engine db.Engine) {
	b.Cleanup(func() {
		engine.Close()
	})

	requireFeature(b, engine, db.FeatureGet)

	keys := fill(b, engine, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_, _ = engine.Get(keys[counter%len(keys)])
			counter++
		}
	})
}

// Benchmark for atomic bulk reads of 16 keys
func benchmarkGetBulk(b *testing.B, engine db.Engine) {
	b.Cleanup(func() {
		engine.Close()
	})

	requireFeature(b, engine, db.FeatureGetBulk)

	keys := fill(b, engine, 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := (i * 16) % len(keys)
		_, _ = engine.GetBulk(keys[start:start+16], true)
	}
}

// Benchmark for a transaction with one write (the shape of an indexed write)
// Transactions are exclusive, so parallelization is not meaningful
func benchmarkTransaction(b *testing.B, engine db.Engine) {
	b.Cleanup(func() {
		engine.Close()
	})

	requireFeature(b, engine, db.FeatureTransaction)

	value := []byte("value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.BeginTransaction(false)
		_ = engine.Set([]byte(fmt.Sprintf("key-%d", i)), value)
		_ = engine.EndTransaction(i%2 == 0)
	}
}

// Benchmark for visitor passes over 8 keys
func benchmarkAcceptBulk(b *testing.B, engine db.Engine) {
	b.Cleanup(func() {
		engine.Close()
	})

	requireFeature(b, engine, db.FeatureAcceptBulk)

	keys := fill(b, engine, 1024)
	value := []byte("visited")
	visitor := func(_, _ []byte, found bool) db.Action {
		if found {
			return db.Nop()
		}
		return db.ReplaceWith(value)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := (i * 8) % len(keys)
		_, _ = engine.AcceptBulk(keys[start:start+8], visitor, true)
	}
}

// Benchmark for a full ordered scan with a cursor
func benchmarkCursorScan(b *testing.B, engine db.Engine) {
	b.Cleanup(func() {
		engine.Close()
	})

	requireFeature(b, engine, db.FeatureCursor)

	fill(b, engine, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cursor := engine.Cursor()
		for err := cursor.Jump(); err == nil; err = cursor.Step() {
			_, _, _ = cursor.Get(false)
		}
		_ = cursor.Close()
	}
}

// Benchmark with a realistic mix of operations:
// 70% reads, 20% writes, 10% removes
func benchmarkMixedUsage(b *testing.B, engine db.Engine) {
	b.Cleanup(func() {
		engine.Close()
	})

	requireFeature(b, engine, db.FeatureGet|db.FeatureSet|db.FeatureRemove)

	keys := fill(b, engine, 1000)
	value := []byte("mixed-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := keys[rng.Intn(len(keys))]
			switch op := rng.Intn(10); {
			case op < 7:
				_, _ = engine.Get(key)
			case op < 9:
				_ = engine.Set(key, value)
			default:
				_ = engine.Remove(key)
			}
		}
	})
}
