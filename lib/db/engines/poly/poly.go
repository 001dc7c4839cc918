// Package poly selects an engine implementation from a repository path, in the manner of
// Kyoto Cabinet's polymorphic database:
//
//	"+", "*"           memory-only ordered tree (btree)
//	"-", ":"           in-memory badger instance
//	"*.kct"            ordered tree persisted to a snapshot file (btree)
//	"*.kch", "*.kcd"   badger directory
//	anything else      badger directory
//
// Tuning parameters appended with '#' (e.g. "casket.kch#bnum=1000") are accepted and ignored.
package poly

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/db/engines/badger"
	"github.com/ValentinKolb/ikv/lib/db/engines/btree"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("engine")

// Select returns the implementation and the cleaned path for a repository path
func Select(path string) (db.Implementation, string) {
	if i := strings.IndexByte(path, '#'); i >= 0 {
		log.Debugf("ignoring tuning parameters %q", path[i+1:])
		path = path[:i]
	}

	switch path {
	case "+", "*":
		return db.ImplBTree, "+"
	case "-", ":":
		return db.ImplBadger, "-"
	}

	if strings.EqualFold(filepath.Ext(path), ".kct") {
		return db.ImplBTree, path
	}
	return db.ImplBadger, path
}

// New creates the engine for impl
func New(impl db.Implementation) db.Engine {
	switch impl {
	case db.ImplBTree:
		return btree.NewTreeDB(nil)
	default:
		return badger.NewBadgerDB(nil)
	}
}

// polyImpl delegates to the engine selected on Open
type polyImpl struct {
	mu     sync.RWMutex
	engine db.Engine
	opened bool
}

// NewPolyDB creates a new, closed engine that selects its implementation when it is opened
func NewPolyDB() db.Engine {
	// a closed tree answers every call with "not opened" until Open selects the real engine
	return &polyImpl{engine: btree.NewTreeDB(nil)}
}

func (p *polyImpl) current() db.Engine {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine
}

func (p *polyImpl) Open(path string, mode db.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opened {
		return db.Errorf(db.StatusInvalid, "already opened")
	}

	impl, cleaned := Select(path)
	engine := New(impl)
	if err := engine.Open(cleaned, mode); err != nil {
		return err
	}
	log.Infof("opened %s as %s", path, impl)

	p.engine = engine
	p.opened = true
	return nil
}

func (p *polyImpl) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opened = false
	return p.engine.Close()
}

func (p *polyImpl) Synchronize(hard bool) error {
	return p.current().Synchronize(hard)
}

func (p *polyImpl) Get(key []byte) ([]byte, error) {
	return p.current().Get(key)
}

func (p *polyImpl) Set(key, value []byte) error {
	return p.current().Set(key, value)
}

func (p *polyImpl) Add(key, value []byte) error {
	return p.current().Add(key, value)
}

func (p *polyImpl) Replace(key, value []byte) error {
	return p.current().Replace(key, value)
}

func (p *polyImpl) Remove(key []byte) error {
	return p.current().Remove(key)
}

func (p *polyImpl) GetBulk(keys [][]byte, atomic bool) (map[string][]byte, error) {
	return p.current().GetBulk(keys, atomic)
}

func (p *polyImpl) BeginTransaction(hard bool) error {
	return p.current().BeginTransaction(hard)
}

func (p *polyImpl) EndTransaction(commit bool) error {
	return p.current().EndTransaction(commit)
}

func (p *polyImpl) AcceptBulk(keys [][]byte, visitor db.Visitor, atomic bool) (int, error) {
	return p.current().AcceptBulk(keys, visitor, atomic)
}

func (p *polyImpl) Cursor() db.Cursor {
	return p.current().Cursor()
}

func (p *polyImpl) SupportsFeature(feature db.Feature) bool {
	return p.current().SupportsFeature(feature)
}

func (p *polyImpl) Info() db.DatabaseInfo {
	return p.current().Info()
}
