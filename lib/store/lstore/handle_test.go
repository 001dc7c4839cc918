package lstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/db/engines/badger"
	"github.com/ValentinKolb/ikv/lib/db/engines/btree"
	"github.com/ValentinKolb/ikv/lib/store"
	"github.com/ValentinKolb/ikv/lib/store/index"
	"github.com/ValentinKolb/ikv/lib/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineCase struct {
	name    string
	factory store.DBFactory
	path    string
}

var engineCases = []engineCase{
	{"BTree", func() db.Engine { return btree.NewTreeDB(nil) }, "+"},
	{"Badger", func() db.Engine { return badger.NewBadgerDB(nil) }, "-"},
}

func newScheduler(t *testing.T, workers int) (*task.Loop, *task.Scheduler) {
	t.Helper()
	loop := task.NewLoop(nil)
	sched := task.NewScheduler(loop, workers)
	t.Cleanup(func() {
		sched.Stop()
		loop.Close()
	})
	return loop, sched
}

func run(t *testing.T, loop *task.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
}

// openHandle opens a memory-only handle and runs the loop until it is open
func openHandle(t *testing.T, loop *task.Loop, sched *task.Scheduler, ec engineCase) *Handle {
	t.Helper()
	var openErr error
	h := Open(sched, ec.factory, ec.path, db.OWriter|db.OCreate, func(err error) { openErr = err })
	run(t, loop)
	require.NoError(t, openErr)
	t.Cleanup(func() {
		if h.IsOpen() {
			_ = h.CloseSync()
		}
	})
	return h
}

func forEachEngine(t *testing.T, workers int, fn func(t *testing.T, loop *task.Loop, h *Handle)) {
	for _, ec := range engineCases {
		t.Run(ec.name, func(t *testing.T) {
			loop, sched := newScheduler(t, workers)
			fn(t, loop, openHandle(t, loop, sched, ec))
		})
	}
}

func TestEndToEnd(t *testing.T) {
	forEachEngine(t, 4, func(t *testing.T, loop *task.Loop, h *Handle) {
		var errs []error
		collect := func(err error) { errs = append(errs, err) }

		h.Add([]byte("user:1"), []byte("alice"), collect)
		run(t, loop)
		h.AddIndexed([]byte("user:2"), []byte("bob"), index.Map{"email:bob@x.com": []byte("user:2")}, collect)
		run(t, loop)
		require.Equal(t, []error{nil, nil}, errs)

		var value []byte
		h.Get([]byte("email:bob@x.com"), func(v []byte, err error) {
			require.NoError(t, err)
			value = v
		})
		run(t, loop)
		assert.Equal(t, "user:2", string(value))

		var conflictErr error
		h.AddIndexed([]byte("user:3"), []byte("eve"), index.Map{"email:bob@x.com": []byte("user:3")}, func(err error) {
			conflictErr = err
		})
		run(t, loop)

		require.ErrorIs(t, conflictErr, store.ErrIndexConflict)
		var e *store.Error
		require.ErrorAs(t, conflictErr, &e)
		assert.Equal(t, store.ConflictMap{"email:bob@x.com": []byte("user:2")}, e.Conflicts)

		var getErr error
		h.Get([]byte("user:3"), func(v []byte, err error) {
			assert.Nil(t, v)
			getErr = err
		})
		run(t, loop)
		assert.ErrorIs(t, getErr, store.ErrNotFound)
	})
}

func TestRecordOperations(t *testing.T) {
	forEachEngine(t, 4, func(t *testing.T, loop *task.Loop, h *Handle) {
		results := map[string]error{}
		record := func(name string) func(error) {
			return func(err error) { results[name] = err }
		}

		h.Set([]byte("a"), []byte("1"), record("set"))
		run(t, loop)
		h.Add([]byte("a"), []byte("x"), record("add-dup"))
		h.Replace([]byte("missing"), []byte("x"), record("replace-missing"))
		h.Remove([]byte("missing"), record("remove-missing"))
		h.Replace([]byte("a"), []byte("2"), record("replace"))
		run(t, loop)

		assert.NoError(t, results["set"])
		assert.ErrorIs(t, results["add-dup"], store.ErrDuplicateKey)
		assert.ErrorIs(t, results["replace-missing"], store.ErrNotFound)
		assert.ErrorIs(t, results["remove-missing"], store.ErrNotFound)
		assert.NoError(t, results["replace"])

		var records map[string][]byte
		h.GetBulk([][]byte{[]byte("a"), []byte("missing")}, true, func(r map[string][]byte, err error) {
			require.NoError(t, err)
			records = r
		})
		h.Synchronize(false, record("sync"))
		var info db.DatabaseInfo
		h.Info(func(i db.DatabaseInfo, err error) {
			require.NoError(t, err)
			info = i
		})
		run(t, loop)

		assert.Equal(t, map[string][]byte{"a": []byte("2")}, records)
		assert.NoError(t, results["sync"])
		assert.Equal(t, 1, info.Count)
	})
}

func TestReturnedBuffersAreCopies(t *testing.T) {
	forEachEngine(t, 1, func(t *testing.T, loop *task.Loop, h *Handle) {
		h.Set([]byte("k"), []byte("value"), nil)
		h.Get([]byte("k"), func(v []byte, err error) {
			require.NoError(t, err)
			v[0] = 'X'
		})
		var second []byte
		h.Get([]byte("k"), func(v []byte, err error) { second = v })
		run(t, loop)
		assert.Equal(t, "value", string(second))
	})
}

func TestIndexedOperations(t *testing.T) {
	forEachEngine(t, 4, func(t *testing.T, loop *task.Loop, h *Handle) {
		var err error
		h.AddIndexed([]byte("user:1"), []byte("alice"), index.Map{"email:a@x.com": []byte("user:1")}, func(e error) { err = e })
		run(t, loop)
		require.NoError(t, err)

		var conflicts store.ConflictMap
		h.ValidateIndex(index.Map{"email:a@x.com": []byte("user:9"), "email:new@x.com": []byte("user:9")},
			func(c store.ConflictMap, e error) {
				require.NoError(t, e)
				conflicts = c
			})
		run(t, loop)
		assert.Equal(t, store.ConflictMap{"email:a@x.com": []byte("user:1")}, conflicts)

		h.ReplaceIndexed([]byte("user:1"), []byte("alice2"),
			index.Map{"email:b@x.com": []byte("user:1")},
			index.RemovalSet{[]byte("email:a@x.com")},
			func(e error) { err = e })
		run(t, loop)
		require.NoError(t, err)

		h.RemoveIndexed([]byte("user:1"), index.RemovalSet{[]byte("email:b@x.com")}, func(e error) { err = e })
		run(t, loop)
		require.NoError(t, err)

		var count int
		h.Info(func(i db.DatabaseInfo, _ error) { count = i.Count })
		run(t, loop)
		assert.Zero(t, count)
	})
}

// concurrent indexed writes claiming the same index key: exactly one wins
func TestConcurrentIndexedWrites(t *testing.T) {
	forEachEngine(t, 8, func(t *testing.T, loop *task.Loop, h *Handle) {
		const n = 20
		var succeeded, conflicted int
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("user:%d", i))
			h.AddIndexed(key, []byte("x"), index.Map{"email:shared@x.com": key}, func(err error) {
				switch {
				case err == nil:
					succeeded++
				case assert.ErrorIs(t, err, store.ErrIndexConflict):
					conflicted++
				}
			})
			// plain writes interleaved with the transactions
			h.Set([]byte(fmt.Sprintf("plain:%d", i)), []byte("y"), func(err error) {
				assert.NoError(t, err)
			})
		}
		run(t, loop)

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, n-1, conflicted)

		var count int
		h.Info(func(i db.DatabaseInfo, _ error) { count = i.Count })
		run(t, loop)
		// n plain records, one user record, one index record
		assert.Equal(t, n+2, count)
	})
}

func TestBodyPanicIsMiscellaneous(t *testing.T) {
	loop, sched := newScheduler(t, 1)
	h := openHandle(t, loop, sched, engineCase{
		name:    "Panicking",
		factory: func() db.Engine { return &panickingEngine{Engine: btree.NewTreeDB(nil)} },
		path:    "+",
	})

	var err error
	h.Get([]byte("k"), func(_ []byte, e error) { err = e })
	run(t, loop)

	var e *store.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, store.KindMiscellaneous, e.Kind)
}

type panickingEngine struct {
	db.Engine
}

func (p *panickingEngine) Get([]byte) ([]byte, error) {
	panic("engine failure")
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestOperationsOnClosedHandle(t *testing.T) {
	loop, sched := newScheduler(t, 2)
	h := New(sched, engineCases[0].factory)

	var errs []error
	h.Get([]byte("k"), func(_ []byte, err error) { errs = append(errs, err) })
	h.Set([]byte("k"), []byte("v"), func(err error) { errs = append(errs, err) })
	h.Close(func(err error) { errs = append(errs, err) })
	run(t, loop)

	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, store.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "database is closed")
	}
	assert.ErrorIs(t, h.CloseSync(), store.ErrInvalidArgument)
}

func TestReopenIsNoop(t *testing.T) {
	forEachEngine(t, 2, func(t *testing.T, loop *task.Loop, h *Handle) {
		h.Set([]byte("k"), []byte("v"), nil)
		var err error
		h.Open("ignored", db.OReader, func(e error) { err = e })
		run(t, loop)
		require.NoError(t, err)
		assert.NotEqual(t, "ignored", h.Path())

		var v []byte
		h.Get([]byte("k"), func(value []byte, _ error) { v = value })
		run(t, loop)
		assert.Equal(t, "v", string(v))
	})
}

func TestOpenFailure(t *testing.T) {
	loop, sched := newScheduler(t, 2)
	path := filepath.Join(t.TempDir(), "missing.kct")

	var openErr, getErr error
	h := Open(sched, engineCases[0].factory, path, db.OReader, func(err error) { openErr = err })
	// submitted while the open is in flight
	h.Get([]byte("k"), func(_ []byte, err error) { getErr = err })
	run(t, loop)

	assert.ErrorIs(t, openErr, &store.Error{Kind: store.KindNoRepository})
	assert.ErrorIs(t, getErr, store.ErrInvalidArgument)
	assert.False(t, h.IsOpen())
}

func TestCloseWaitsForRetainedTasks(t *testing.T) {
	forEachEngine(t, 4, func(t *testing.T, loop *task.Loop, h *Handle) {
		const n = 50
		delivered := 0
		for i := 0; i < n; i++ {
			h.Set([]byte(fmt.Sprintf("k%02d", i)), []byte("v"), func(err error) {
				assert.NoError(t, err)
				delivered++
			})
		}

		closed := false
		h.Close(func(err error) {
			assert.NoError(t, err)
			assert.Equal(t, n, delivered, "every earlier completion ran before the engine closed")
			closed = true
		})

		// submitted after Close: fails without running
		var lateErr error
		h.Get([]byte("k00"), func(_ []byte, err error) { lateErr = err })

		run(t, loop)
		assert.True(t, closed)
		assert.ErrorIs(t, lateErr, store.ErrInvalidArgument)
		assert.False(t, h.IsOpen())
	})
}

func TestCloseOnSingleWorker(t *testing.T) {
	forEachEngine(t, 1, func(t *testing.T, loop *task.Loop, h *Handle) {
		const n = 20
		var errs []error
		closed := false
		for i := 0; i < n; i++ {
			h.Set([]byte(fmt.Sprintf("k%02d", i)), []byte("v"), func(err error) {
				errs = append(errs, err)
				if len(errs) == 1 {
					// close from a completion while the other writes are still queued
					h.Close(func(err error) {
						assert.NoError(t, err)
						closed = true
					})
				}
			})
		}

		run(t, loop)
		require.Len(t, errs, n)
		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.True(t, closed)
		assert.False(t, h.IsOpen())
	})
}

func TestCloseSync(t *testing.T) {
	forEachEngine(t, 4, func(t *testing.T, loop *task.Loop, h *Handle) {
		var errs []error
		for i := 0; i < 10; i++ {
			h.Set([]byte(fmt.Sprintf("k%d", i)), []byte("v"), func(err error) { errs = append(errs, err) })
		}
		require.NoError(t, h.CloseSync())
		assert.False(t, h.IsOpen())

		// writes submitted before CloseSync ran, their completions are still delivered
		run(t, loop)
		require.Len(t, errs, 10)
		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.ErrorIs(t, h.CloseSync(), store.ErrInvalidArgument)
	})
}

func TestPersistentReopen(t *testing.T) {
	loop, sched := newScheduler(t, 2)
	path := filepath.Join(t.TempDir(), "casket.kct")
	h := openHandle(t, loop, sched, engineCase{factory: engineCases[0].factory, path: path})

	var setErr, closeErr error
	h.Set([]byte("k"), []byte("v"), func(err error) { setErr = err })
	h.Close(func(err error) { closeErr = err })
	run(t, loop)
	require.NoError(t, setErr)
	require.NoError(t, closeErr)

	var openErr, getErr error
	var v []byte
	h.Open(path, db.OReader, func(err error) { openErr = err })
	h.Get([]byte("k"), func(value []byte, err error) { v, getErr = value, err })
	run(t, loop)

	require.NoError(t, openErr)
	require.NoError(t, getErr)
	assert.Equal(t, "v", string(v))
}
