package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/ikv/lib/db"
)

// EngineTestConfig describes an engine implementation under test
type EngineTestConfig struct {
	// Name of the implementation (used as the name of the top level subtest)
	Name string
	// New creates a new, closed engine instance
	New func() db.Engine
	// MemoryPath is the path that opens a memory-only repository (e.g. "+" or "-")
	MemoryPath string
	// FilePath returns a fresh path for a persistent repository.
	// If nil, the persistence tests are skipped.
	FilePath func(t testing.TB) string
}

// open creates and opens a memory-only engine
func (c EngineTestConfig) open(t testing.TB) db.Engine {
	t.Helper()
	engine := c.New()
	if err := engine.Open(c.MemoryPath, db.OWriter|db.OCreate); err != nil {
		t.Fatalf("Failed to open engine at %q: %v", c.MemoryPath, err)
	}
	return engine
}

// RunEngineTests runs a comprehensive test suite for an engine implementation.
func RunEngineTests(t *testing.T, cfg EngineTestConfig) {
	t.Run(cfg.Name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, cfg.open(t))
		})

		t.Run("Add&Replace&Remove", func(t *testing.T) {
			testAddReplaceRemove(t, cfg.open(t))
		})

		t.Run("GetBulk", func(t *testing.T) {
			testGetBulk(t, cfg.open(t))
		})

		t.Run("Transaction", func(t *testing.T) {
			testTransaction(t, cfg.open(t))
		})

		t.Run("TransactionExclusive", func(t *testing.T) {
			testTransactionExclusive(t, cfg.open(t))
		})

		t.Run("AcceptBulk", func(t *testing.T) {
			testAcceptBulk(t, cfg.open(t))
		})

		t.Run("AcceptBulkRollback", func(t *testing.T) {
			testAcceptBulkRollback(t, cfg.open(t))
		})

		t.Run("Cursor", func(t *testing.T) {
			testCursor(t, cfg.open(t))
		})

		t.Run("CursorEdgeCases", func(t *testing.T) {
			testCursorEdgeCases(t, cfg.open(t))
		})

		t.Run("Lifecycle", func(t *testing.T) {
			testLifecycle(t, cfg)
		})

		t.Run("Persistence", func(t *testing.T) {
			testPersistence(t, cfg)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, cfg.open(t))
		})

		t.Run("Concurrency", func(t *testing.T) {
			testConcurrency(t, cfg.open(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, engine db.Engine, feature db.Feature) {
	if !engine.SupportsFeature(feature) {
		t.Skip()
	}
}

// Checks that err carries the expected status
func requireStatus(t testing.TB, op string, err error, expected db.Status) {
	t.Helper()
	if got := db.StatusOf(err); got != expected {
		t.Errorf("%s: expected status %q, got %q (err=%v)", op, expected.Name(), got.Name(), err)
	}
}

// Checks that key holds the expected value
func requireValue(t testing.TB, engine db.Engine, key string, expected string) {
	t.Helper()
	value, err := engine.Get([]byte(key))
	if err != nil {
		t.Errorf("Get(%s): unexpected error %v", key, err)
		return
	}
	if string(value) != expected {
		t.Errorf("Get(%s): expected %q, got %q", key, expected, value)
	}
}

// Checks that key is absent
func requireAbsent(t testing.TB, engine db.Engine, key string) {
	t.Helper()
	_, err := engine.Get([]byte(key))
	requireStatus(t, "Get("+key+")", err, db.StatusNoRec)
}

// load stores all records in the engine
func load(t testing.TB, engine db.Engine, records map[string]string) {
	t.Helper()
	for k, v := range records {
		if err := engine.Set([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureSet|db.FeatureGet)

	testKey := []byte("test-key")
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	if err := engine.Set(testKey, testValue1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	requireValue(t, engine, "test-key", "test-value1")

	if err := engine.Set(testKey, testValue2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	requireValue(t, engine, "test-key", "test-value2")

	requireAbsent(t, engine, "nonexistent-key")

	// returned values are copies
	retrievedValue, _ := engine.Get(testKey)
	retrievedValue[0] = 'X'
	requireValue(t, engine, "test-key", "test-value2")

	// stored values are copies
	input := []byte("original")
	if err := engine.Set([]byte("copy-key"), input); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	input[0] = 'X'
	requireValue(t, engine, "copy-key", "original")
}

func testAddReplaceRemove(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureAdd|db.FeatureReplace|db.FeatureRemove)

	tests := []struct {
		name     string
		op       func() error
		expected db.Status
	}{
		{"Add new", func() error { return engine.Add([]byte("k"), []byte("v1")) }, db.StatusSuccess},
		{"Add existing", func() error { return engine.Add([]byte("k"), []byte("v2")) }, db.StatusDupRec},
		{"Replace existing", func() error { return engine.Replace([]byte("k"), []byte("v3")) }, db.StatusSuccess},
		{"Replace missing", func() error { return engine.Replace([]byte("missing"), []byte("v")) }, db.StatusNoRec},
		{"Remove missing", func() error { return engine.Remove([]byte("missing")) }, db.StatusNoRec},
	}

	for _, tt := range tests {
		requireStatus(t, tt.name, tt.op(), tt.expected)
	}

	// failed Add and Replace do not modify anything
	requireValue(t, engine, "k", "v3")
	requireAbsent(t, engine, "missing")

	requireStatus(t, "Remove existing", engine.Remove([]byte("k")), db.StatusSuccess)
	requireAbsent(t, engine, "k")
	requireStatus(t, "Remove again", engine.Remove([]byte("k")), db.StatusNoRec)
}

func testGetBulk(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureGetBulk)

	load(t, engine, map[string]string{"a": "1", "b": "2", "c": "3"})

	for _, atomic := range []bool{false, true} {
		records, err := engine.GetBulk([][]byte{[]byte("a"), []byte("c"), []byte("missing")}, atomic)
		if err != nil {
			t.Fatalf("GetBulk(atomic=%t) failed: %v", atomic, err)
		}
		if len(records) != 2 {
			t.Errorf("GetBulk(atomic=%t): expected 2 records, got %d", atomic, len(records))
		}
		if string(records["a"]) != "1" || string(records["c"]) != "3" {
			t.Errorf("GetBulk(atomic=%t): unexpected records %v", atomic, records)
		}
		if _, ok := records["missing"]; ok {
			t.Errorf("GetBulk(atomic=%t): missing key must be absent from the result", atomic)
		}
	}

	records, err := engine.GetBulk(nil, true)
	if err != nil || len(records) != 0 {
		t.Errorf("GetBulk(nil): expected empty result, got %v (err=%v)", records, err)
	}
}

func testTransaction(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureTransaction)

	load(t, engine, map[string]string{"keep": "1", "change": "2", "drop": "3"})

	// rollback restores the previous state
	if err := engine.BeginTransaction(false); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	_ = engine.Set([]byte("change"), []byte("changed"))
	_ = engine.Set([]byte("change"), []byte("changed twice"))
	_ = engine.Remove([]byte("drop"))
	_ = engine.Add([]byte("new"), []byte("4"))
	requireValue(t, engine, "change", "changed twice")
	if err := engine.EndTransaction(false); err != nil {
		t.Fatalf("EndTransaction(false) failed: %v", err)
	}

	requireValue(t, engine, "keep", "1")
	requireValue(t, engine, "change", "2")
	requireValue(t, engine, "drop", "3")
	requireAbsent(t, engine, "new")

	// commit keeps the changes
	if err := engine.BeginTransaction(true); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	_ = engine.Replace([]byte("change"), []byte("committed"))
	_ = engine.Remove([]byte("drop"))
	if err := engine.EndTransaction(true); err != nil {
		t.Fatalf("EndTransaction(true) failed: %v", err)
	}

	requireValue(t, engine, "change", "committed")
	requireAbsent(t, engine, "drop")

	// ending without a running transaction is invalid
	requireStatus(t, "EndTransaction without transaction", engine.EndTransaction(true), db.StatusInvalid)
}

func testTransactionExclusive(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureTransaction)

	if err := engine.BeginTransaction(false); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}

	started := make(chan error, 1)
	go func() {
		started <- engine.BeginTransaction(false)
	}()

	select {
	case err := <-started:
		t.Fatalf("second BeginTransaction returned (err=%v) while the first is running", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := engine.EndTransaction(true); err != nil {
		t.Fatalf("EndTransaction failed: %v", err)
	}

	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("second BeginTransaction failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second BeginTransaction did not start after the first ended")
	}

	if err := engine.EndTransaction(true); err != nil {
		t.Fatalf("EndTransaction failed: %v", err)
	}
}

func testAcceptBulk(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureAcceptBulk)

	load(t, engine, map[string]string{"replace": "old", "remove": "x", "nop": "same"})

	type visit struct {
		value string
		found bool
	}
	seen := make(map[string]visit)

	keys := [][]byte{[]byte("replace"), []byte("remove"), []byte("nop"), []byte("insert"), []byte("remove-missing")}
	visited, err := engine.AcceptBulk(keys, func(key, value []byte, found bool) db.Action {
		seen[string(key)] = visit{string(value), found}
		switch string(key) {
		case "replace":
			return db.ReplaceWith([]byte("new"))
		case "insert":
			return db.ReplaceWith([]byte("inserted"))
		case "remove", "remove-missing":
			return db.Remove()
		default:
			return db.Nop()
		}
	}, true)

	if err != nil {
		t.Fatalf("AcceptBulk failed: %v", err)
	}
	if visited != len(keys) {
		t.Errorf("Expected %d visited keys, got %d", len(keys), visited)
	}

	expectedVisits := map[string]visit{
		"replace":        {"old", true},
		"remove":         {"x", true},
		"nop":            {"same", true},
		"insert":         {"", false},
		"remove-missing": {"", false},
	}
	for k, v := range expectedVisits {
		if seen[k] != v {
			t.Errorf("Visitor for %s: expected %+v, got %+v", k, v, seen[k])
		}
	}

	requireValue(t, engine, "replace", "new")
	requireValue(t, engine, "insert", "inserted")
	requireValue(t, engine, "nop", "same")
	requireAbsent(t, engine, "remove")
	requireAbsent(t, engine, "remove-missing")
}

func testAcceptBulkRollback(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureAcceptBulk|db.FeatureTransaction)

	load(t, engine, map[string]string{"idx:a": "pk1"})

	if err := engine.BeginTransaction(false); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	_, err := engine.AcceptBulk([][]byte{[]byte("idx:a"), []byte("idx:b")}, func(key, _ []byte, found bool) db.Action {
		if found {
			return db.Remove()
		}
		return db.ReplaceWith([]byte("pk2"))
	}, true)
	if err != nil {
		t.Fatalf("AcceptBulk failed: %v", err)
	}

	// the visitor pass sees its own changes inside the transaction
	requireAbsent(t, engine, "idx:a")
	requireValue(t, engine, "idx:b", "pk2")

	if err := engine.EndTransaction(false); err != nil {
		t.Fatalf("EndTransaction failed: %v", err)
	}

	requireValue(t, engine, "idx:a", "pk1")
	requireAbsent(t, engine, "idx:b")
}

// cursorRecords is the record set of the cursor tests. In key order:
// aardvark, active, air, allow, alpha, api, apple, arrest
var cursorRecords = map[string]string{
	"alpha":    "1",
	"apple":    "2",
	"api":      "3",
	"aardvark": "4",
	"air":      "5",
	"active":   "6",
	"arrest":   "7",
	"allow":    "8",
}

func testCursor(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureCursor)

	load(t, engine, cursorRecords)

	cursor := engine.Cursor()
	defer cursor.Close()

	expectKey := func(op string, advance bool, expected string) {
		t.Helper()
		key, err := cursor.GetKey(advance)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", op, err)
		}
		if string(key) != expected {
			t.Errorf("%s: expected key %q, got %q", op, expected, key)
		}
	}

	// Jump + Get
	if err := cursor.Jump(); err != nil {
		t.Fatalf("Jump failed: %v", err)
	}
	key, value, err := cursor.Get(false)
	if err != nil || string(key) != "aardvark" || string(value) != "4" {
		t.Errorf("Get after Jump: expected aardvark=4, got %s=%s (err=%v)", key, value, err)
	}
	key, _, _ = cursor.Get(true)
	if string(key) != "aardvark" {
		t.Errorf("Get(advance): expected aardvark, got %s", key)
	}
	key, value, _ = cursor.Get(false)
	if string(key) != "active" || string(value) != "6" {
		t.Errorf("Get after advance: expected active=6, got %s=%s", key, value)
	}

	// GetKey / GetValue
	_ = cursor.Jump()
	expectKey("GetKey", false, "aardvark")
	expectKey("GetKey(advance)", true, "aardvark")
	expectKey("GetKey after advance", false, "active")

	_ = cursor.Jump()
	value, _ = cursor.GetValue(true)
	if string(value) != "4" {
		t.Errorf("GetValue(advance): expected 4, got %s", value)
	}
	value, _ = cursor.GetValue(false)
	if string(value) != "6" {
		t.Errorf("GetValue after advance: expected 6, got %s", value)
	}

	// JumpBack + Get(advance) at the last record exhausts the cursor
	if err := cursor.JumpBack(); err != nil {
		t.Fatalf("JumpBack failed: %v", err)
	}
	key, value, err = cursor.Get(true)
	if err != nil || string(key) != "arrest" || string(value) != "7" {
		t.Errorf("Get(advance) after JumpBack: expected arrest=7, got %s=%s (err=%v)", key, value, err)
	}
	_, _, err = cursor.Get(false)
	requireStatus(t, "Get after last record", err, db.StatusNoRec)

	// JumpTo + Step
	if err := cursor.JumpTo([]byte("ap")); err != nil {
		t.Fatalf("JumpTo failed: %v", err)
	}
	expectKey("GetKey after JumpTo", false, "api")
	if err := cursor.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	expectKey("GetKey after Step", false, "apple")

	// JumpBackTo + StepBack
	if err := cursor.JumpBackTo([]byte("alz")); err != nil {
		t.Fatalf("JumpBackTo failed: %v", err)
	}
	expectKey("GetKey after JumpBackTo", false, "alpha")
	if err := cursor.StepBack(); err != nil {
		t.Fatalf("StepBack failed: %v", err)
	}
	expectKey("GetKey after StepBack", false, "allow")

	// full forward traversal
	var forward []string
	for err = cursor.Jump(); err == nil; err = cursor.Step() {
		key, _ := cursor.GetKey(false)
		forward = append(forward, string(key))
	}
	expected := []string{"aardvark", "active", "air", "allow", "alpha", "api", "apple", "arrest"}
	if fmt.Sprint(forward) != fmt.Sprint(expected) {
		t.Errorf("Forward traversal: expected %v, got %v", expected, forward)
	}

	// full backward traversal
	var backward []string
	for err = cursor.JumpBack(); err == nil; err = cursor.StepBack() {
		key, _ := cursor.GetKey(false)
		backward = append(backward, string(key))
	}
	if len(backward) != len(expected) || backward[0] != "arrest" || backward[len(backward)-1] != "aardvark" {
		t.Errorf("Backward traversal: unexpected order %v", backward)
	}
}

func testCursorEdgeCases(t *testing.T, engine db.Engine) {
	defer engine.Close()

	requireFeature(t, engine, db.FeatureCursor)

	cursor := engine.Cursor()

	// empty engine
	requireStatus(t, "Jump on empty engine", cursor.Jump(), db.StatusNoRec)
	requireStatus(t, "JumpBack on empty engine", cursor.JumpBack(), db.StatusNoRec)

	// unpositioned cursor
	_, _, err := cursor.Get(false)
	requireStatus(t, "Get on unpositioned cursor", err, db.StatusNoRec)
	requireStatus(t, "Step on unpositioned cursor", cursor.Step(), db.StatusNoRec)

	load(t, engine, map[string]string{"b": "1", "d": "2"})

	requireStatus(t, "JumpTo past the end", cursor.JumpTo([]byte("e")), db.StatusNoRec)
	requireStatus(t, "JumpBackTo before the start", cursor.JumpBackTo([]byte("a")), db.StatusNoRec)

	// a jump re-positions an exhausted cursor
	if err := cursor.JumpTo([]byte("c")); err != nil {
		t.Fatalf("JumpTo failed: %v", err)
	}
	key, _ := cursor.GetKey(false)
	if string(key) != "d" {
		t.Errorf("JumpTo(c): expected d, got %s", key)
	}

	// the current record is removed: Get continues with the next record
	_ = cursor.JumpTo([]byte("b"))
	_ = engine.Remove([]byte("b"))
	key, _ = cursor.GetKey(false)
	if string(key) != "d" {
		t.Errorf("Get after removal of current record: expected d, got %s", key)
	}

	// closed cursor
	_ = cursor.Close()
	requireStatus(t, "Jump on closed cursor", cursor.Jump(), db.StatusInvalid)
}

func testLifecycle(t *testing.T, cfg EngineTestConfig) {
	engine := cfg.New()

	// operations before Open fail
	_, err := engine.Get([]byte("k"))
	requireStatus(t, "Get before Open", err, db.StatusInvalid)

	requireStatus(t, "Open without reader/writer flag", engine.Open(cfg.MemoryPath, db.OCreate), db.StatusInvalid)

	if err := engine.Open(cfg.MemoryPath, db.OWriter|db.OCreate); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	requireStatus(t, "Open twice", engine.Open(cfg.MemoryPath, db.OWriter|db.OCreate), db.StatusInvalid)

	_ = engine.Set([]byte("k"), []byte("v"))
	info := engine.Info()
	if info.Count != 1 {
		t.Errorf("Info: expected count 1, got %d", info.Count)
	}
	if info.Path != cfg.MemoryPath {
		t.Errorf("Info: expected path %q, got %q", cfg.MemoryPath, info.Path)
	}

	if err := engine.Synchronize(false); err != nil {
		t.Errorf("Synchronize failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// operations after Close fail
	requireStatus(t, "Set after Close", engine.Set([]byte("k"), []byte("v")), db.StatusInvalid)
	requireStatus(t, "Close twice", engine.Close(), db.StatusInvalid)
}

func testPersistence(t *testing.T, cfg EngineTestConfig) {
	if cfg.FilePath == nil {
		t.Skip()
	}
	path := cfg.FilePath(t)

	engine := cfg.New()
	requireFeature(t, engine, db.FeaturePersistence)

	// missing repository without OCreate
	requireStatus(t, "Open missing repository", engine.Open(path, db.OReader), db.StatusNoRepos)

	if err := engine.Open(path, db.OWriter|db.OCreate); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	load(t, engine, map[string]string{"alpha": "1", "beta": "2"})
	if err := engine.Synchronize(true); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	_ = engine.Set([]byte("gamma"), []byte("3"))
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// reader sees every record written before Close
	reader := cfg.New()
	if err := reader.Open(path, db.OReader); err != nil {
		t.Fatalf("Open(reader) failed: %v", err)
	}
	requireValue(t, reader, "alpha", "1")
	requireValue(t, reader, "beta", "2")
	requireValue(t, reader, "gamma", "3")
	requireStatus(t, "Set on reader", reader.Set([]byte("k"), []byte("v")), db.StatusNoPerm)
	if err := reader.Close(); err != nil {
		t.Fatalf("Close(reader) failed: %v", err)
	}

	// truncate
	writer := cfg.New()
	if err := writer.Open(path, db.OWriter|db.OCreate|db.OTruncate); err != nil {
		t.Fatalf("Open(truncate) failed: %v", err)
	}
	requireAbsent(t, writer, "alpha")
	if info := writer.Info(); info.Count != 0 {
		t.Errorf("Expected empty repository after truncate, got %d records", info.Count)
	}
	_ = writer.Close()
}

func testEdgeCases(t *testing.T, engine db.Engine) {
	defer engine.Close()

	// empty value
	if err := engine.Set([]byte("empty"), []byte{}); err != nil {
		t.Fatalf("Set(empty value) failed: %v", err)
	}
	value, err := engine.Get([]byte("empty"))
	if err != nil || len(value) != 0 {
		t.Errorf("Get(empty value): expected empty value, got %q (err=%v)", value, err)
	}

	// binary keys and values
	binKey := []byte{0x00, 0xff, 0x10}
	binValue := []byte{0xde, 0xad, 0x00, 0xbe, 0xef}
	if err := engine.Set(binKey, binValue); err != nil {
		t.Fatalf("Set(binary) failed: %v", err)
	}
	value, err = engine.Get(binKey)
	if err != nil || !bytes.Equal(value, binValue) {
		t.Errorf("Get(binary): expected %x, got %x (err=%v)", binValue, value, err)
	}

	// large value
	large := bytes.Repeat([]byte("x"), 256*1024)
	if err := engine.Set([]byte("large"), large); err != nil {
		t.Fatalf("Set(large) failed: %v", err)
	}
	value, _ = engine.Get([]byte("large"))
	if !bytes.Equal(value, large) {
		t.Errorf("Get(large): value mismatch (len=%d)", len(value))
	}
}

func testConcurrency(t *testing.T, engine db.Engine) {
	defer engine.Close()

	const (
		goroutines = 8
		perRoutine = 200
	)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perRoutine; i++ {
				key := []byte(fmt.Sprintf("key-%d-%d", g, i))
				if err := engine.Set(key, key); err != nil {
					t.Errorf("Set(%s) failed: %v", key, err)
					return
				}
				if _, err := engine.Get(key); err != nil {
					t.Errorf("Get(%s) failed: %v", key, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if info := engine.Info(); info.Count != goroutines*perRoutine {
		t.Errorf("Expected %d records, got %d", goroutines*perRoutine, info.Count)
	}
}
