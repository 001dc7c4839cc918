package index

import (
	"testing"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/db/engines/badger"
	"github.com/ValentinKolb/ikv/lib/db/engines/btree"
	"github.com/ValentinKolb/ikv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachEngine runs fn against a fresh memory-only instance of every engine
func forEachEngine(t *testing.T, fn func(t *testing.T, engine db.Engine)) {
	engines := []struct {
		name string
		new  func() db.Engine
		path string
	}{
		{"BTree", func() db.Engine { return btree.NewTreeDB(nil) }, "+"},
		{"Badger", func() db.Engine { return badger.NewBadgerDB(nil) }, "-"},
	}

	for _, e := range engines {
		t.Run(e.name, func(t *testing.T) {
			engine := e.new()
			require.NoError(t, engine.Open(e.path, db.OWriter|db.OCreate))
			t.Cleanup(func() { _ = engine.Close() })
			fn(t, engine)
		})
	}
}

// snapshot returns every record of the engine
func snapshot(t *testing.T, engine db.Engine) map[string]string {
	t.Helper()
	records := map[string]string{}
	cursor := engine.Cursor()
	defer cursor.Close()
	for err := cursor.Jump(); err == nil; err = cursor.Step() {
		k, v, err := cursor.Get(false)
		require.NoError(t, err)
		records[string(k)] = string(v)
	}
	return records
}

func get(t *testing.T, engine db.Engine, key string) (string, db.Status) {
	t.Helper()
	value, err := engine.Get([]byte(key))
	return string(value), db.StatusOf(err)
}

func requireConflict(t *testing.T, err error, expected store.ConflictMap) {
	t.Helper()
	require.ErrorIs(t, err, store.ErrIndexConflict)
	var storeErr *store.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, expected, storeErr.Conflicts)
}

// P1: indexed writes without index work behave exactly like the plain operations
func TestFastPathEquivalence(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine db.Engine) {
		require.NoError(t, AddIndexed(engine, []byte("k"), []byte("v"), nil))
		require.NoError(t, engine.Add([]byte("plain"), []byte("v")))

		// duplicate: same status as Add
		assert.Equal(t, db.StatusOf(engine.Add([]byte("k"), []byte("x"))),
			db.StatusOf(AddIndexed(engine, []byte("k"), []byte("x"), Map{})))
		assert.Equal(t, db.StatusDupRec, db.StatusOf(AddIndexed(engine, []byte("plain"), []byte("x"), Map{})))

		// replace / remove of missing records: same status as the plain operations
		assert.Equal(t, db.StatusNoRec, db.StatusOf(ReplaceIndexed(engine, []byte("missing"), []byte("x"), nil, nil)))
		assert.Equal(t, db.StatusNoRec, db.StatusOf(RemoveIndexed(engine, []byte("missing"), RemovalSet{})))

		require.NoError(t, ReplaceIndexed(engine, []byte("k"), []byte("v2"), nil, nil))
		v, _ := get(t, engine, "k")
		assert.Equal(t, "v2", v)

		require.NoError(t, RemoveIndexed(engine, []byte("k"), nil))
		_, status := get(t, engine, "k")
		assert.Equal(t, db.StatusNoRec, status)
	})
}

// P2: a successful indexed add stores the record and every index entry
func TestIndexConsistency(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine db.Engine) {
		err := AddIndexed(engine, []byte("user:1"), []byte("alice"), Map{
			"email:alice@x.com": []byte("user:1"),
			"name:alice":        []byte("user:1"),
		})
		require.NoError(t, err)

		assert.Equal(t, map[string]string{
			"user:1":            "alice",
			"email:alice@x.com": "user:1",
			"name:alice":        "user:1",
		}, snapshot(t, engine))

		// an index entry that already holds the expected value is not a conflict
		require.NoError(t, engine.Set([]byte("email:bob@x.com"), []byte("user:2")))
		require.NoError(t, AddIndexed(engine, []byte("user:2"), []byte("bob"), Map{"email:bob@x.com": []byte("user:2")}))
		v, _ := get(t, engine, "user:2")
		assert.Equal(t, "bob", v)
	})
}

// P3 + P4: a conflicting index entry rolls back the whole write
func TestConflictRollsBack(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine db.Engine) {
		require.NoError(t, engine.Set([]byte("email:bob@x.com"), []byte("user:2")))
		before := snapshot(t, engine)

		err := AddIndexed(engine, []byte("user:3"), []byte("eve"), Map{
			"email:bob@x.com": []byte("user:3"),
			"name:eve":        []byte("user:3"),
		})
		requireConflict(t, err, store.ConflictMap{"email:bob@x.com": []byte("user:2")})

		// neither the primary record nor the non-conflicting index entry survived
		assert.Equal(t, before, snapshot(t, engine))
	})
}

func TestReplaceIndexed(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine db.Engine) {
		require.NoError(t, AddIndexed(engine, []byte("user:1"), []byte("alice"), Map{"email:a@x.com": []byte("user:1")}))

		// move the index entry to a new email address
		err := ReplaceIndexed(engine, []byte("user:1"), []byte("alice2"),
			Map{"email:b@x.com": []byte("user:1")},
			RemovalSet{[]byte("email:a@x.com")})
		require.NoError(t, err)

		assert.Equal(t, map[string]string{
			"user:1":        "alice2",
			"email:b@x.com": "user:1",
		}, snapshot(t, engine))

		// a failing main operation ends the protocol before indexing
		err = ReplaceIndexed(engine, []byte("user:9"), []byte("x"), Map{"email:c@x.com": []byte("user:9")}, nil)
		assert.Equal(t, db.StatusNoRec, db.StatusOf(err))
		_, status := get(t, engine, "email:c@x.com")
		assert.Equal(t, db.StatusNoRec, status)
	})
}

// P5: removal only deletes index entries that point at the removed record
func TestRemovalSafety(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine db.Engine) {
		require.NoError(t, engine.Set([]byte("user:1"), []byte("alice")))
		require.NoError(t, engine.Set([]byte("email:a@x.com"), []byte("user:1")))
		require.NoError(t, engine.Set([]byte("email:shared@x.com"), []byte("user:2")))
		before := snapshot(t, engine)

		err := RemoveIndexed(engine, []byte("user:1"), RemovalSet{[]byte("email:a@x.com"), []byte("email:shared@x.com")})
		requireConflict(t, err, store.ConflictMap{"email:shared@x.com": []byte("user:2")})
		assert.Equal(t, before, snapshot(t, engine))

		// absent index keys and duplicates are harmless
		err = RemoveIndexed(engine, []byte("user:1"), RemovalSet{
			[]byte("email:a@x.com"), []byte("email:a@x.com"), []byte("email:gone@x.com"),
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"email:shared@x.com": "user:2"}, snapshot(t, engine))
	})
}

func TestMainOpFailureShortCircuits(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine db.Engine) {
		require.NoError(t, engine.Set([]byte("k"), []byte("v")))
		require.NoError(t, engine.Set([]byte("idx"), []byte("other")))

		// the index entry conflicts too, but only the main operation's error is reported
		err := AddIndexed(engine, []byte("k"), []byte("v2"), Map{"idx": []byte("k")})
		assert.Equal(t, db.StatusDupRec, db.StatusOf(err))
		assert.NotErrorIs(t, err, store.ErrIndexConflict)

		// the transaction was ended: a new one can start
		require.NoError(t, engine.BeginTransaction(false))
		require.NoError(t, engine.EndTransaction(true))
	})
}

func TestValidate(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine db.Engine) {
		require.NoError(t, engine.Set([]byte("idx:taken"), []byte("user:2")))
		require.NoError(t, engine.Set([]byte("idx:mine"), []byte("user:1")))

		conflicts, err := Validate(engine, Map{
			"idx:taken": []byte("user:1"),
			"idx:mine":  []byte("user:1"),
			"idx:free":  []byte("user:1"),
		})
		require.NoError(t, err)
		assert.Equal(t, store.ConflictMap{"idx:taken": []byte("user:2")}, conflicts)

		conflicts, err = Validate(engine, nil)
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})
}

func TestConflictMetric(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine db.Engine) {
		require.NoError(t, engine.Set([]byte("idx"), []byte("a")))
		before := indexConflicts.Get()
		_ = AddIndexed(engine, []byte("k"), []byte("v"), Map{"idx": []byte("k")})
		assert.Equal(t, before+1, indexConflicts.Get())
	})
}
