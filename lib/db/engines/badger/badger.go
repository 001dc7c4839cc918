package badger

import (
	"bytes"
	"errors"
	"os"
	"sync"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/dgraph-io/badger/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("engine")

// memoryPath opens an in-memory badger instance (the "hash" database of Kyoto Cabinet)
const memoryPath = "-"

type badgerImpl struct {
	// mu guards the lifecycle state. Operations hold it in shared mode.
	mu       sync.RWMutex
	bdb      *badger.DB
	path     string
	mode     db.Mode
	opened   bool
	writable bool
	inMemory bool

	// txMu serializes writes and every access to txn (badger transactions are not thread-safe)
	txMu   sync.Mutex
	txn    *badger.Txn
	txHard bool
	txSem  chan struct{} // holds one token while a transaction is running

	opts *Options
}

// Options configures the badger engine
type Options struct {
	// Logger receives badger's internal log output (nil = dragonboat logger "badger")
	Logger badger.Logger
	// MemTableSize overrides badger's memtable size (0 = badger default).
	// The value threshold is lowered to fit small memtables.
	MemTableSize int64
	// ValueLogFileSize overrides badger's value log file size (0 = badger default)
	ValueLogFileSize int64
}

// DefaultOptions returns the default badger engine options
func DefaultOptions() *Options {
	return &Options{Logger: logger.GetLogger("badger")}
}

// NewBadgerDB creates a new, closed badger engine. Call Open before use.
func NewBadgerDB(opts *Options) db.Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger("badger")
	}
	return &badgerImpl{
		txSem: make(chan struct{}, 1),
		opts:  opts,
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (b *badgerImpl) Open(path string, mode db.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.opened {
		return db.Errorf(db.StatusInvalid, "already opened")
	}
	if !mode.Has(db.OReader) && !mode.Has(db.OWriter) {
		return db.Errorf(db.StatusInvalid, "mode must contain OReader or OWriter")
	}

	inMemory := path == memoryPath
	writable := mode.Has(db.OWriter)

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if _, err := os.Stat(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return db.Wrap(db.StatusSystem, err, "stat "+path)
			}
			if !writable || !mode.Has(db.OCreate) {
				return db.Wrap(db.StatusNoRepos, err, "open "+path)
			}
		}
		opts = badger.DefaultOptions(path).
			WithReadOnly(!writable).
			WithSyncWrites(mode.Has(db.OAutoSync)).
			WithBypassLockGuard(mode.Has(db.ONoLock))
	}
	opts = opts.WithLogger(b.opts.Logger)
	if b.opts.MemTableSize > 0 {
		opts = opts.WithMemTableSize(b.opts.MemTableSize)
		// badger rejects a value threshold above its max batch size (15% of the memtable)
		if limit := b.opts.MemTableSize / 10; opts.ValueThreshold > limit {
			opts = opts.WithValueThreshold(limit)
		}
	}
	if b.opts.ValueLogFileSize > 0 && !inMemory {
		opts = opts.WithValueLogFileSize(b.opts.ValueLogFileSize)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return db.Wrap(db.StatusSystem, err, "open "+path)
	}

	if writable && mode.Has(db.OTruncate) {
		if err := bdb.DropAll(); err != nil {
			_ = bdb.Close()
			return db.Wrap(db.StatusSystem, err, "truncate "+path)
		}
	}

	b.bdb = bdb
	b.path = path
	b.mode = mode
	b.writable = writable
	b.inMemory = inMemory
	b.opened = true
	log.Debugf("opened badger %s (in-memory=%t, writable=%t)", path, inMemory, writable)
	return nil
}

func (b *badgerImpl) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.opened {
		return db.Errorf(db.StatusInvalid, "not opened")
	}

	b.txMu.Lock()
	if b.txn != nil {
		b.txn.Discard()
		b.txn = nil
		<-b.txSem
	}
	b.txMu.Unlock()

	b.opened = false
	err := b.bdb.Close()
	b.bdb = nil
	if err != nil {
		return db.Wrap(db.StatusSystem, err, "close "+b.path)
	}
	return nil
}

// Synchronize flushes badger to disk. Badger has no cheaper flush, so soft and hard are the same.
func (b *badgerImpl) Synchronize(_ bool) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.opened {
		return db.Errorf(db.StatusInvalid, "not opened")
	}
	if b.inMemory || !b.writable {
		return nil
	}
	if err := b.bdb.Sync(); err != nil {
		return db.Wrap(db.StatusSystem, err, "sync "+b.path)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// view runs fn inside the running transaction or, if none is running, inside a read-only badger transaction
func (b *badgerImpl) view(fn func(txn *badger.Txn) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.opened {
		return db.Errorf(db.StatusInvalid, "not opened")
	}

	b.txMu.Lock()
	if b.txn != nil {
		defer b.txMu.Unlock()
		return translate(fn(b.txn))
	}
	b.txMu.Unlock()

	return translate(b.bdb.View(fn))
}

// update runs fn inside the running transaction or, if none is running, inside its own badger transaction
func (b *badgerImpl) update(fn func(txn *badger.Txn) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.opened {
		return db.Errorf(db.StatusInvalid, "not opened")
	}
	if !b.writable {
		return db.Errorf(db.StatusNoPerm, "permission denied")
	}

	b.txMu.Lock()
	defer b.txMu.Unlock()

	if b.txn != nil {
		return translate(fn(b.txn))
	}
	return translate(b.bdb.Update(fn))
}

// translate maps badger errors to engine status codes. Status errors pass through.
func translate(err error) error {
	var status db.Status
	switch {
	case err == nil:
		return nil
	case errors.As(err, &status):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return db.StatusNoRec
	case errors.Is(err, badger.ErrEmptyKey), errors.Is(err, badger.ErrInvalidKey):
		return db.Wrap(db.StatusInvalid, err, "invalid key")
	case errors.Is(err, badger.ErrReadOnlyTxn), errors.Is(err, badger.ErrBlockedWrites):
		return db.Wrap(db.StatusNoPerm, err, "write rejected")
	case errors.Is(err, badger.ErrConflict), errors.Is(err, badger.ErrTxnTooBig):
		return db.Wrap(db.StatusLogic, err, "transaction failed")
	case errors.Is(err, badger.ErrDBClosed):
		return db.Wrap(db.StatusInvalid, err, "database closed")
	default:
		return db.Wrap(db.StatusSystem, err, "badger")
	}
}

func getValue(txn *badger.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// --------------------------------------------------------------------------
// Record Operations
// --------------------------------------------------------------------------

func (b *badgerImpl) Get(key []byte) (value []byte, err error) {
	err = b.view(func(txn *badger.Txn) error {
		var found bool
		value, found, err = getValue(txn, key)
		if err == nil && !found {
			return db.StatusNoRec
		}
		return err
	})
	return value, err
}

func (b *badgerImpl) Set(key, value []byte) error {
	return b.update(func(txn *badger.Txn) error {
		return txn.Set(bytes.Clone(key), bytes.Clone(value))
	})
}

func (b *badgerImpl) Add(key, value []byte) error {
	return b.update(func(txn *badger.Txn) error {
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if ok {
			return db.StatusDupRec
		}
		return txn.Set(bytes.Clone(key), bytes.Clone(value))
	})
}

func (b *badgerImpl) Replace(key, value []byte) error {
	return b.update(func(txn *badger.Txn) error {
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if !ok {
			return db.StatusNoRec
		}
		return txn.Set(bytes.Clone(key), bytes.Clone(value))
	})
}

func (b *badgerImpl) Remove(key []byte) error {
	return b.update(func(txn *badger.Txn) error {
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if !ok {
			return db.StatusNoRec
		}
		return txn.Delete(bytes.Clone(key))
	})
}

func (b *badgerImpl) GetBulk(keys [][]byte, _ bool) (map[string][]byte, error) {
	// all keys are read in one badger transaction, so the result is always a consistent snapshot
	result := make(map[string][]byte, len(keys))
	err := b.view(func(txn *badger.Txn) error {
		for _, key := range keys {
			value, found, err := getValue(txn, key)
			if err != nil {
				return err
			}
			if found {
				result[string(key)] = value
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Transactions and Visitors
// --------------------------------------------------------------------------

func (b *badgerImpl) BeginTransaction(hard bool) error {
	b.txSem <- struct{}{}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.opened || !b.writable {
		<-b.txSem
		if !b.opened {
			return db.Errorf(db.StatusInvalid, "not opened")
		}
		return db.Errorf(db.StatusNoPerm, "permission denied")
	}

	b.txMu.Lock()
	b.txn = b.bdb.NewTransaction(true)
	b.txHard = hard
	b.txMu.Unlock()
	return nil
}

func (b *badgerImpl) EndTransaction(commit bool) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.txMu.Lock()
	defer b.txMu.Unlock()

	if b.txn == nil {
		return db.Errorf(db.StatusInvalid, "no transaction is running")
	}
	txn, hard := b.txn, b.txHard
	b.txn = nil
	defer func() { <-b.txSem }()

	if !commit {
		txn.Discard()
		return nil
	}
	if err := txn.Commit(); err != nil {
		return translate(err)
	}
	if hard && !b.inMemory {
		if err := b.bdb.Sync(); err != nil {
			return db.Wrap(db.StatusSystem, err, "sync "+b.path)
		}
	}
	return nil
}

func (b *badgerImpl) AcceptBulk(keys [][]byte, visitor db.Visitor, _ bool) (int, error) {
	visited := 0
	err := b.update(func(txn *badger.Txn) error {
		for _, key := range keys {
			old, found, err := getValue(txn, key)
			if err != nil {
				return err
			}
			action := visitor(key, old, found)
			visited++

			if value, ok := action.Value(); ok {
				err = txn.Set(bytes.Clone(key), bytes.Clone(value))
			} else if action.IsRemove() && found {
				err = txn.Delete(bytes.Clone(key))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return visited, err
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

func (b *badgerImpl) Cursor() db.Cursor {
	return db.NewSeekCursor(b)
}

// Seek implements db.Seeker with a short-lived badger iterator per call
func (b *badgerImpl) Seek(from []byte, reverse, exclusive bool) (key, value []byte, ok bool, err error) {
	err = b.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = reverse

		it := txn.NewIterator(opts)
		defer it.Close()

		if from == nil {
			it.Rewind()
		} else {
			it.Seek(from)
			if exclusive && it.Valid() && bytes.Equal(it.Item().Key(), from) {
				it.Next()
			}
		}
		if !it.Valid() {
			return nil
		}

		item := it.Item()
		key = item.KeyCopy(nil)
		if value, err = item.ValueCopy(nil); err != nil {
			return err
		}
		if value == nil {
			value = []byte{}
		}
		ok = true
		return nil
	})
	return key, value, ok, err
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

func (b *badgerImpl) SupportsFeature(feature db.Feature) bool {
	return (db.FeaturesAll|db.FeaturePersistence)&feature == feature
}

func (b *badgerImpl) Info() db.DatabaseInfo {
	count, size := 0, 0
	_ = b.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
			size += len(it.Item().Key()) + int(it.Item().ValueSize())
		}
		return nil
	})

	b.mu.RLock()
	defer b.mu.RUnlock()

	meta := &struct {
		InMemory  bool  `json:"in_memory"`
		Writable  bool  `json:"writable"`
		LSMBytes  int64 `json:"lsm_bytes"`
		VLogBytes int64 `json:"vlog_bytes"`
	}{
		InMemory: b.inMemory,
		Writable: b.writable,
	}
	if b.opened {
		meta.LSMBytes, meta.VLogBytes = b.bdb.Size()
	}

	return db.DatabaseInfo{
		Path:      b.path,
		Count:     count,
		SizeBytes: size,
		DbType:    db.ImplBadger,
		SupportedFeatures: []db.Feature{
			db.FeatureGet, db.FeatureSet, db.FeatureAdd, db.FeatureReplace, db.FeatureRemove,
			db.FeatureGetBulk, db.FeatureTransaction, db.FeatureAcceptBulk, db.FeatureCursor,
			db.FeaturePersistence,
		},
		Metadata: meta,
	}
}
