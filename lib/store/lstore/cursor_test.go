package lstore

import (
	"testing"
	"time"

	"github.com/ValentinKolb/ikv/lib/store"
	"github.com/ValentinKolb/ikv/lib/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, loop *task.Loop, h *Handle, keys ...string) {
	t.Helper()
	for _, k := range keys {
		h.Set([]byte(k), []byte("v:"+k), func(err error) { require.NoError(t, err) })
	}
	run(t, loop)
}

// moveResult captures the completion of a positioning call
type moveResult struct {
	found bool
	err   error
}

func capture(results *[]moveResult) func(bool, error) {
	return func(found bool, err error) {
		*results = append(*results, moveResult{found, err})
	}
}

// exhaustion at the end is not an error, and a jump repositions the cursor
func TestCursorExhaustion(t *testing.T) {
	// one worker: cursor operations run strictly in submission order
	forEachEngine(t, 1, func(t *testing.T, loop *task.Loop, h *Handle) {
		load(t, loop, h, "a", "b", "c")

		c := h.Cursor()
		defer c.Close()
		assert.Equal(t, CursorUnpositioned, c.State())

		var results []moveResult
		c.JumpBack(capture(&results))
		c.Step(capture(&results))
		c.Step(capture(&results))
		run(t, loop)

		assert.Equal(t, []moveResult{{true, nil}, {false, nil}, {false, nil}}, results)
		assert.Equal(t, CursorExhausted, c.State())

		var key []byte
		results = nil
		c.Jump(capture(&results))
		c.GetKey(false, func(k []byte, err error) {
			require.NoError(t, err)
			key = k
		})
		run(t, loop)

		assert.Equal(t, []moveResult{{true, nil}}, results)
		assert.Equal(t, "a", string(key))
		assert.Equal(t, CursorPositioned, c.State())
	})
}

func TestCursorTraversal(t *testing.T) {
	forEachEngine(t, 1, func(t *testing.T, loop *task.Loop, h *Handle) {
		load(t, loop, h, "aardvark", "air", "alpha", "apple")

		c := h.Cursor()
		defer c.Close()

		var keys []string
		var values []string
		collectKey := func(k []byte, err error) {
			require.NoError(t, err)
			keys = append(keys, string(k))
		}

		c.JumpTo([]byte("ai"), nil)
		c.GetKey(true, collectKey)
		c.Get(true, func(k, v []byte, err error) {
			require.NoError(t, err)
			keys = append(keys, string(k))
			values = append(values, string(v))
		})
		c.GetValue(false, func(v []byte, err error) {
			require.NoError(t, err)
			values = append(values, string(v))
		})
		run(t, loop)
		assert.Equal(t, []string{"air", "alpha"}, keys)
		assert.Equal(t, []string{"v:alpha", "v:apple"}, values)

		keys = nil
		c.JumpBackTo([]byte("alz"), nil)
		c.GetKey(false, collectKey)
		c.StepBack(nil)
		c.GetKey(false, collectKey)
		c.JumpBack(nil)
		c.GetKey(false, collectKey)
		run(t, loop)
		assert.Equal(t, []string{"alpha", "air", "apple"}, keys)

		// reading past the last record delivers a nil payload without an error
		var last []byte
		var end []byte
		var endErr error
		c.GetKey(true, func(k []byte, _ error) { last = k })
		c.GetKey(true, func(k []byte, err error) { end, endErr = k, err })
		run(t, loop)
		assert.Equal(t, "apple", string(last))
		assert.Nil(t, end)
		assert.NoError(t, endErr)
		assert.Equal(t, CursorExhausted, c.State())
	})
}

func TestCursorOnEmptyStore(t *testing.T) {
	forEachEngine(t, 1, func(t *testing.T, loop *task.Loop, h *Handle) {
		c := h.Cursor()
		defer c.Close()

		var results []moveResult
		c.Jump(capture(&results))
		c.Step(capture(&results))
		var value []byte
		var err error
		c.GetValue(false, func(v []byte, e error) { value, err = v, e })
		run(t, loop)

		assert.Equal(t, []moveResult{{false, nil}, {false, nil}}, results)
		assert.Nil(t, value)
		assert.NoError(t, err)
	})
}

func TestCursorInvalidatedByClose(t *testing.T) {
	forEachEngine(t, 1, func(t *testing.T, loop *task.Loop, h *Handle) {
		load(t, loop, h, "a")

		c := h.Cursor()
		c.Jump(nil)
		run(t, loop)

		require.NoError(t, h.CloseSync())
		assert.Equal(t, CursorClosed, c.State())

		var err error
		c.Step(func(_ bool, e error) { err = e })
		run(t, loop)
		assert.ErrorIs(t, err, store.ErrInvalidArgument)
	})
}

func TestClosedCursor(t *testing.T) {
	forEachEngine(t, 1, func(t *testing.T, loop *task.Loop, h *Handle) {
		load(t, loop, h, "a")

		c := h.Cursor()
		c.Close()
		c.Close()

		var err error
		c.Jump(func(_ bool, e error) { err = e })
		run(t, loop)
		assert.ErrorIs(t, err, store.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "cursor is closed")
	})
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

func TestEachAndScan(t *testing.T) {
	forEachEngine(t, 2, func(t *testing.T, loop *task.Loop, h *Handle) {
		load(t, loop, h, "user:1", "user:2", "user:3", "email:a", "zebra")

		var all []string
		var eachErr error
		h.Each(func(k, _ []byte) bool {
			all = append(all, string(k))
			return true
		}, func(err error) { eachErr = err })
		run(t, loop)
		require.NoError(t, eachErr)
		assert.Equal(t, []string{"email:a", "user:1", "user:2", "user:3", "zebra"}, all)

		var users []string
		var values []string
		h.Scan([]byte("user:"), func(k, v []byte) bool {
			users = append(users, string(k))
			values = append(values, string(v))
			return true
		}, nil)
		run(t, loop)
		assert.Equal(t, []string{"user:1", "user:2", "user:3"}, users)
		assert.Equal(t, []string{"v:user:1", "v:user:2", "v:user:3"}, values)

		// stopping early
		var first []string
		h.Scan([]byte("user:"), func(k, _ []byte) bool {
			first = append(first, string(k))
			return len(first) < 2
		}, nil)
		// no match
		called := false
		h.Scan([]byte("nothing"), func(k, _ []byte) bool {
			called = true
			return true
		}, nil)
		run(t, loop)
		assert.Equal(t, []string{"user:1", "user:2"}, first)
		assert.False(t, called)

		// every iteration closed its cursor
		assert.Zero(t, h.cursors.Size())
	})
}

// --------------------------------------------------------------------------
// Locks
// --------------------------------------------------------------------------

func TestLocks(t *testing.T) {
	forEachEngine(t, 2, func(t *testing.T, loop *task.Loop, h *Handle) {
		var acquired bool
		var owner string
		h.AcquireLock("job", time.Minute, func(ok bool, o string, err error) {
			require.NoError(t, err)
			acquired, owner = ok, o
		})
		run(t, loop)
		require.True(t, acquired)
		require.NotEmpty(t, owner)

		var second bool
		h.AcquireLock("job", 0, func(ok bool, _ string, err error) {
			require.NoError(t, err)
			second = ok
		})
		var wrongRelease bool
		h.ReleaseLock("job", "not-the-owner", func(ok bool, err error) {
			require.NoError(t, err)
			wrongRelease = ok
		})
		run(t, loop)
		assert.False(t, second)
		assert.False(t, wrongRelease)

		var released bool
		h.ReleaseLock("job", owner, func(ok bool, err error) {
			require.NoError(t, err)
			released = ok
		})
		run(t, loop)
		assert.True(t, released)
	})
}

func TestCloseReleasesLocks(t *testing.T) {
	forEachEngine(t, 2, func(t *testing.T, loop *task.Loop, h *Handle) {
		h.AcquireLock("job", 0, func(ok bool, _ string, err error) {
			require.NoError(t, err)
			require.True(t, ok)
		})
		run(t, loop)
		require.Len(t, h.locks.Held(), 1)

		require.NoError(t, h.CloseSync())
		assert.Empty(t, h.locks.Held())
	})
}
