// Package testing provides standardised tests and benchmarks for
// engine implementations that satisfy the db.Engine interface.
//
// The package contains:
//   - testing: A conformance suite for the Engine contract (record operations and their
//     status codes, transactions, visitor passes, cursors, lifecycle and persistence)
//   - benchmark: Performance tests for common engine operations
//
// Example usage:
//
//	cfg := dbtesting.EngineTestConfig{
//		Name:       "MyEngine",
//		New:        func() db.Engine { return NewMyEngine() },
//		MemoryPath: "+",
//		FilePath:   func(t testing.TB) string { return filepath.Join(t.TempDir(), "test.db") },
//	}
//
//	// Running the standard test suite
//	dbtesting.RunEngineTests(t, cfg)
//
//	// Running performance benchmarks
//	dbtesting.RunEngineBenchmarks(b, cfg)
package testing
