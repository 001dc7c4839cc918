package btree

import (
	"bytes"
	"os"
	"sync"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/google/btree"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultDegree = 32  // Degree of the underlying b-tree
	memoryPath    = "+" // Path of a memory-only tree (as in Kyoto Cabinet)
)

// --------------------------------------------------------------------------
// Core tree engine structure
// --------------------------------------------------------------------------

// item is a single record in the tree
type item struct {
	key   []byte
	value []byte
}

func lessItem(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// undo stores the state of a record before its first modification inside a transaction
type undo struct {
	value   []byte
	existed bool
}

// treeImpl is an ordered in-memory engine. If opened with a file path it is loaded from
// and persisted to a snapshot file (see snapshot.go).
type treeImpl struct {
	mu   sync.RWMutex
	data *btree.BTreeG[item]

	// repository state
	path     string
	mode     db.Mode
	file     *os.File // nil for memory-only trees
	opened   bool
	writable bool
	dirty    bool

	// transaction state
	txSem  chan struct{}      // holds one token while a transaction is running
	txLog  map[string]undo    // nil if no transaction is running
	txHard bool               // synchronize physically on commit
}

// Options configures the tree engine
type Options struct {
	Degree int // Degree of the b-tree (0 = default)
}

// DefaultOptions returns the default tree options
func DefaultOptions() *Options {
	return &Options{Degree: defaultDegree}
}

// NewTreeDB creates a new, closed tree engine. Call Open before use.
func NewTreeDB(opts *Options) db.Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	degree := opts.Degree
	if degree <= 1 {
		degree = defaultDegree
	}
	return &treeImpl{
		data:  btree.NewG[item](degree, lessItem),
		txSem: make(chan struct{}, 1),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Open opens the tree. The path "+" opens a memory-only tree, any other path is used as a
// snapshot file.
//
// Thread-safety: This method is thread-safe but must not race with other operations.
func (t *treeImpl) Open(path string, mode db.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opened {
		return db.Errorf(db.StatusInvalid, "already opened")
	}
	if !mode.Has(db.OReader) && !mode.Has(db.OWriter) {
		return db.Errorf(db.StatusInvalid, "mode must contain OReader or OWriter")
	}

	t.path = path
	t.mode = mode
	t.writable = mode.Has(db.OWriter)
	t.data.Clear(false)
	t.dirty = false

	if path != memoryPath {
		file, err := openRepository(path, mode)
		if err != nil {
			return err
		}
		if !mode.Has(db.OWriter) || !mode.Has(db.OTruncate) {
			if err := t.load(file); err != nil {
				_ = closeRepository(file, mode)
				return err
			}
		} else {
			t.dirty = true
		}
		t.file = file
	}

	t.opened = true
	log.Debugf("opened tree %s (records=%d)", path, t.data.Len())
	return nil
}

// Close persists a dirty file-backed tree and releases the repository.
// A running transaction is rolled back.
func (t *treeImpl) Close() error {
	t.mu.RLock()
	inTx := t.txLog != nil
	t.mu.RUnlock()
	if inTx {
		_ = t.EndTransaction(false)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.opened {
		return db.Errorf(db.StatusInvalid, "not opened")
	}
	t.opened = false

	var err error
	if t.file != nil {
		if t.writable && t.dirty {
			err = t.save(t.file, false)
		}
		if cerr := closeRepository(t.file, t.mode); cerr != nil && err == nil {
			err = cerr
		}
		t.file = nil
	}
	t.data.Clear(false)
	return err
}

// Synchronize writes the tree to its snapshot file. It is a no-op for memory-only trees.
func (t *treeImpl) Synchronize(hard bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.opened {
		return db.Errorf(db.StatusInvalid, "not opened")
	}
	if t.file == nil || !t.writable {
		return nil
	}
	if err := t.save(t.file, hard); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers (must be called with t.mu held)
// --------------------------------------------------------------------------

func (t *treeImpl) checkRead() error {
	if !t.opened {
		return db.Errorf(db.StatusInvalid, "not opened")
	}
	return nil
}

func (t *treeImpl) checkWrite() error {
	if !t.opened {
		return db.Errorf(db.StatusInvalid, "not opened")
	}
	if !t.writable {
		return db.Errorf(db.StatusNoPerm, "permission denied")
	}
	return nil
}

func (t *treeImpl) lookup(key []byte) ([]byte, bool) {
	it, ok := t.data.Get(item{key: key})
	return it.value, ok
}

// put stores a copy of key and value, recording the previous state if a transaction is running
func (t *treeImpl) put(key, value []byte) {
	t.record(key)
	t.data.ReplaceOrInsert(item{key: bytes.Clone(key), value: cloneValue(value)})
	t.dirty = true
}

// del removes key, recording the previous state if a transaction is running
func (t *treeImpl) del(key []byte) {
	t.record(key)
	t.data.Delete(item{key: key})
	t.dirty = true
}

// record remembers the state of key before its first modification in the running transaction
func (t *treeImpl) record(key []byte) {
	if t.txLog == nil {
		return
	}
	if _, seen := t.txLog[string(key)]; seen {
		return
	}
	old, existed := t.lookup(key)
	t.txLog[string(key)] = undo{value: old, existed: existed}
}

// afterUpdate synchronizes the file after an update outside a transaction if OAutoSync is set
func (t *treeImpl) afterUpdate() error {
	if t.txLog != nil || t.file == nil || !t.mode.Has(db.OAutoSync) {
		return nil
	}
	if err := t.save(t.file, false); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// --------------------------------------------------------------------------
// Record Operations
// --------------------------------------------------------------------------

func (t *treeImpl) Get(key []byte) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkRead(); err != nil {
		return nil, err
	}
	value, ok := t.lookup(key)
	if !ok {
		return nil, db.StatusNoRec
	}
	return cloneValue(value), nil
}

func (t *treeImpl) Set(key, value []byte) error {
	return t.write(key, func(_ []byte, _ bool) error {
		t.put(key, value)
		return nil
	})
}

func (t *treeImpl) Add(key, value []byte) error {
	return t.write(key, func(_ []byte, exists bool) error {
		if exists {
			return db.StatusDupRec
		}
		t.put(key, value)
		return nil
	})
}

func (t *treeImpl) Replace(key, value []byte) error {
	return t.write(key, func(_ []byte, exists bool) error {
		if !exists {
			return db.StatusNoRec
		}
		t.put(key, value)
		return nil
	})
}

func (t *treeImpl) Remove(key []byte) error {
	return t.write(key, func(_ []byte, exists bool) error {
		if !exists {
			return db.StatusNoRec
		}
		t.del(key)
		return nil
	})
}

// write is the shared implementation of all single record updates.
// fn sees the current value of key and performs the update.
func (t *treeImpl) write(key []byte, fn func(old []byte, exists bool) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkWrite(); err != nil {
		return err
	}
	old, exists := t.lookup(key)
	if err := fn(old, exists); err != nil {
		return err
	}
	return t.afterUpdate()
}

func (t *treeImpl) GetBulk(keys [][]byte, _ bool) (map[string][]byte, error) {
	// all keys are read under the same read lock, so the result is always atomic
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkRead(); err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := t.lookup(key); ok {
			result[string(key)] = cloneValue(value)
		}
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Transactions and Visitors
// --------------------------------------------------------------------------

// BeginTransaction blocks until no other transaction is running.
func (t *treeImpl) BeginTransaction(hard bool) error {
	t.txSem <- struct{}{}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkWrite(); err != nil {
		<-t.txSem
		return err
	}
	t.txLog = make(map[string]undo)
	t.txHard = hard
	return nil
}

func (t *treeImpl) EndTransaction(commit bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.txLog == nil {
		return db.Errorf(db.StatusInvalid, "no transaction is running")
	}
	defer func() { <-t.txSem }()

	txLog := t.txLog
	t.txLog = nil

	if !commit {
		for key, prev := range txLog {
			if prev.existed {
				t.data.ReplaceOrInsert(item{key: []byte(key), value: prev.value})
			} else {
				t.data.Delete(item{key: []byte(key)})
			}
		}
		return nil
	}

	if t.file != nil && len(txLog) > 0 && (t.txHard || t.mode.Has(db.OAutoSync)) {
		if err := t.save(t.file, t.txHard); err != nil {
			return err
		}
		t.dirty = false
	}
	return nil
}

func (t *treeImpl) AcceptBulk(keys [][]byte, visitor db.Visitor, _ bool) (int, error) {
	// the whole pass runs under the write lock, so it is always atomic
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkWrite(); err != nil {
		return 0, err
	}

	visited := 0
	for _, key := range keys {
		old, found := t.lookup(key)
		action := visitor(key, old, found)
		visited++

		if value, ok := action.Value(); ok {
			t.put(key, value)
		} else if action.IsRemove() && found {
			t.del(key)
		}
	}
	return visited, t.afterUpdate()
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

func (t *treeImpl) Cursor() db.Cursor {
	return db.NewSeekCursor(t)
}

// Seek implements db.Seeker.
func (t *treeImpl) Seek(from []byte, reverse, exclusive bool) ([]byte, []byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkRead(); err != nil {
		return nil, nil, false, err
	}

	var (
		found item
		ok    bool
	)
	visit := func(it item) bool {
		if exclusive && from != nil && bytes.Equal(it.key, from) {
			return true
		}
		found, ok = it, true
		return false
	}

	switch {
	case from == nil && !reverse:
		t.data.Ascend(visit)
	case from == nil && reverse:
		t.data.Descend(visit)
	case !reverse:
		t.data.AscendGreaterOrEqual(item{key: from}, visit)
	default:
		t.data.DescendLessOrEqual(item{key: from}, visit)
	}

	if !ok {
		return nil, nil, false, nil
	}
	return bytes.Clone(found.key), cloneValue(found.value), true, nil
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

func (t *treeImpl) SupportsFeature(feature db.Feature) bool {
	return (db.FeaturesAll|db.FeaturePersistence)&feature == feature
}

func (t *treeImpl) Info() db.DatabaseInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	size := 0
	t.data.Ascend(func(it item) bool {
		size += len(it.key) + len(it.value)
		return true
	})

	meta := &struct {
		MemoryOnly    bool `json:"memory_only"`
		Writable      bool `json:"writable"`
		InTransaction bool `json:"in_transaction"`
	}{
		MemoryOnly:    t.file == nil,
		Writable:      t.writable,
		InTransaction: t.txLog != nil,
	}

	return db.DatabaseInfo{
		Path:      t.path,
		Count:     t.data.Len(),
		SizeBytes: size,
		DbType:    db.ImplBTree,
		SupportedFeatures: []db.Feature{
			db.FeatureGet, db.FeatureSet, db.FeatureAdd, db.FeatureReplace, db.FeatureRemove,
			db.FeatureGetBulk, db.FeatureTransaction, db.FeatureAcceptBulk, db.FeatureCursor,
			db.FeaturePersistence,
		},
		Metadata: meta,
	}
}

// cloneValue copies value and keeps empty values non-nil
func cloneValue(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return bytes.Clone(value)
}
