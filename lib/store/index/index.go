package index

import (
	"bytes"
	"sort"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	log            = logger.GetLogger("index")
	indexConflicts = metrics.NewCounter("ikv_index_conflicts_total")
)

// Map maps an index key to the value it is expected to hold (usually the primary key)
type Map map[string][]byte

// RemovalSet lists index keys to delete. Order is irrelevant, duplicates are harmless.
type RemovalSet [][]byte

// Op is the main operation of an indexed write
type Op uint8

const (
	OpAdd     Op = iota // insert the primary record, fail if it exists
	OpReplace           // overwrite the primary record, fail if it does not exist
	OpRemove            // delete the primary record, fail if it does not exist
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Indexed writes
// --------------------------------------------------------------------------

// AddIndexed adds the record key=value and inserts every entry of toIndex.
func AddIndexed(engine db.Engine, key, value []byte, toIndex Map) error {
	return Apply(engine, OpAdd, key, value, toIndex, nil)
}

// ReplaceIndexed replaces the record key=value, inserts every entry of toIndex and deletes
// every index key of toRemove that still points at key.
func ReplaceIndexed(engine db.Engine, key, value []byte, toIndex Map, toRemove RemovalSet) error {
	return Apply(engine, OpReplace, key, value, toIndex, toRemove)
}

// RemoveIndexed removes the record key and deletes every index key of toRemove that still
// points at key.
func RemoveIndexed(engine db.Engine, key []byte, toRemove RemovalSet) error {
	return Apply(engine, OpRemove, key, nil, nil, toRemove)
}

// Apply runs op on key and maintains the index.
//
// Without index work the operation runs directly on the engine. Otherwise everything runs in
// one engine transaction: the main operation, the insert pass over toIndex and the removal pass
// over toRemove. Any failure or conflict rolls the transaction back.
//
// The returned error is the engine error of the failing step, or a *store.Error of kind
// IndexConflict carrying the conflicting index records. The two are never combined: a failing
// main operation ends the protocol before any index key is visited.
func Apply(engine db.Engine, op Op, key, value []byte, toIndex Map, toRemove RemovalSet) error {
	// fast path
	if len(toIndex) == 0 && len(toRemove) == 0 {
		return mainOp(engine, op, key, value)
	}

	if err := engine.BeginTransaction(false); err != nil {
		return err
	}

	if err := mainOp(engine, op, key, value); err != nil {
		rollback(engine)
		return err
	}

	conflicts := store.ConflictMap{}

	if len(toIndex) > 0 {
		if err := insertPass(engine, toIndex, conflicts); err != nil {
			rollback(engine)
			return err
		}
		if len(conflicts) > 0 {
			return fail(engine, op, key, conflicts)
		}
	}

	if len(toRemove) > 0 {
		if err := removalPass(engine, key, toRemove, conflicts); err != nil {
			rollback(engine)
			return err
		}
		if len(conflicts) > 0 {
			return fail(engine, op, key, conflicts)
		}
	}

	return engine.EndTransaction(true)
}

func mainOp(engine db.Engine, op Op, key, value []byte) error {
	switch op {
	case OpAdd:
		return engine.Add(key, value)
	case OpReplace:
		return engine.Replace(key, value)
	case OpRemove:
		return engine.Remove(key)
	default:
		return db.Errorf(db.StatusInvalid, "unknown indexed operation %d", op)
	}
}

// insertPass inserts every absent index key. Present keys holding a different value are
// recorded in conflicts and left untouched.
func insertPass(engine db.Engine, toIndex Map, conflicts store.ConflictMap) error {
	keys := sortedKeys(toIndex)
	_, err := engine.AcceptBulk(keys, func(ik, current []byte, found bool) db.Action {
		expected := toIndex[string(ik)]
		switch {
		case !found:
			return db.ReplaceWith(expected)
		case !bytes.Equal(current, expected):
			conflicts[string(ik)] = bytes.Clone(current)
			return db.Nop()
		default:
			return db.Nop()
		}
	}, true)
	return err
}

// removalPass deletes every index key that points at key. Keys pointing elsewhere are recorded
// in conflicts and left untouched, absent keys are ignored.
func removalPass(engine db.Engine, key []byte, toRemove RemovalSet, conflicts store.ConflictMap) error {
	_, err := engine.AcceptBulk(toRemove, func(ik, current []byte, found bool) db.Action {
		switch {
		case !found:
			return db.Nop()
		case bytes.Equal(current, key):
			return db.Remove()
		default:
			conflicts[string(ik)] = bytes.Clone(current)
			return db.Nop()
		}
	}, true)
	return err
}

func fail(engine db.Engine, op Op, key []byte, conflicts store.ConflictMap) error {
	rollback(engine)
	indexConflicts.Inc()
	log.Debugf("%s %q rolled back: %d index conflicts", op, key, len(conflicts))
	return store.NewConflictError(conflicts)
}

func rollback(engine db.Engine) {
	if err := engine.EndTransaction(false); err != nil {
		log.Errorf("rollback failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

// Validate reports the entries of toIndex that an indexed write would conflict with, reading
// all index keys in one atomic bulk read. The result is advisory: nothing prevents a conflicting
// write between Validate and the indexed write itself.
func Validate(engine db.Engine, toIndex Map) (store.ConflictMap, error) {
	conflicts := store.ConflictMap{}
	if len(toIndex) == 0 {
		return conflicts, nil
	}

	records, err := engine.GetBulk(sortedKeys(toIndex), true)
	if err != nil {
		return nil, err
	}
	for ik, current := range records {
		if !bytes.Equal(current, toIndex[ik]) {
			conflicts[ik] = current
		}
	}
	return conflicts, nil
}

func sortedKeys(m Map) [][]byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([][]byte, len(keys))
	for i, k := range keys {
		result[i] = []byte(k)
	}
	return result
}
