package btree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/ikv/lib/db"
)

func TestTryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.kct")

	first := NewTreeDB(nil)
	if err := first.Open(path, db.OWriter|db.OCreate); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer first.Close()

	second := NewTreeDB(nil)
	err := second.Open(path, db.OWriter|db.OTryLock)
	if db.StatusOf(err) != db.StatusInvalid {
		t.Fatalf("Expected locked repository to fail with %q, got %v", db.StatusInvalid.Name(), err)
	}

	// ONoLock ignores the lock
	third := NewTreeDB(nil)
	if err := third.Open(path, db.OReader|db.ONoLock); err != nil {
		t.Fatalf("Open(ONoLock) failed: %v", err)
	}
	_ = third.Close()
}

func TestBrokenSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.kct")
	if err := os.WriteFile(path, []byte("definitely not a snapshot"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		mode     db.Mode
		expected db.Status
	}{
		{"Reader", db.OReader, db.StatusBroken},
		{"WriterNoRepair", db.OWriter | db.ONoRepair, db.StatusBroken},
		{"Writer", db.OWriter, db.StatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewTreeDB(nil)
			err := engine.Open(path, tt.mode)
			if db.StatusOf(err) != tt.expected {
				t.Fatalf("Expected %q, got %v", tt.expected.Name(), err)
			}
			if err == nil {
				if info := engine.Info(); info.Count != 0 {
					t.Errorf("Expected empty tree, got %d records", info.Count)
				}
				_ = engine.Close()
			}
		})
	}

	// the writer replaced the broken file with a valid snapshot
	engine := NewTreeDB(nil)
	if err := engine.Open(path, db.OReader); err != nil {
		t.Fatalf("Open after repair failed: %v", err)
	}
	_ = engine.Close()
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "round.kct")
	records := map[string]string{"a": "1", "b": "", "c/d": "nested", "z": "last"}

	writer := NewTreeDB(nil)
	if err := writer.Open(path, db.OWriter|db.OCreate); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for k, v := range records {
		if err := writer.Set([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Set(%q) failed: %v", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader := NewTreeDB(nil)
	if err := reader.Open(path, db.OReader); err != nil {
		t.Fatalf("Open(reader) failed: %v", err)
	}
	defer reader.Close()

	if info := reader.Info(); info.Count != len(records) {
		t.Errorf("Expected %d records, got %d", len(records), info.Count)
	}
	for k, v := range records {
		value, err := reader.Get([]byte(k))
		if err != nil || string(value) != v {
			t.Errorf("Expected %s=%q, got %q (err=%v)", k, v, value, err)
		}
	}
}

func TestAutoSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auto.kct")

	writer := NewTreeDB(nil)
	if err := writer.Open(path, db.OWriter|db.OCreate|db.OAutoSync|db.ONoLock); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer writer.Close()

	if err := writer.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// the record is visible in the file before the writer is closed
	reader := NewTreeDB(nil)
	if err := reader.Open(path, db.OReader|db.ONoLock); err != nil {
		t.Fatalf("Open(reader) failed: %v", err)
	}
	defer reader.Close()

	value, err := reader.Get([]byte("k"))
	if err != nil || string(value) != "v" {
		t.Errorf("Expected k=v in the snapshot, got %q (err=%v)", value, err)
	}
}

func TestMemoryOnlyInfo(t *testing.T) {
	engine := NewTreeDB(&Options{Degree: 4})
	if err := engine.Open(memoryPath, db.OWriter); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer engine.Close()

	_ = engine.Set([]byte("abc"), []byte("12345"))
	info := engine.Info()
	if info.DbType != db.ImplBTree {
		t.Errorf("Expected type %s, got %s", db.ImplBTree, info.DbType)
	}
	if info.SizeBytes != 8 {
		t.Errorf("Expected 8 bytes, got %d", info.SizeBytes)
	}
	if !engine.SupportsFeature(db.FeaturesAll) {
		t.Errorf("Expected all features to be supported")
	}
}
