package lockmgr

import (
	"testing"
	"time"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/db/engines/btree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*lockMgrImpl, db.Engine) {
	t.Helper()
	engine := btree.NewTreeDB(nil)
	require.NoError(t, engine.Open("+", db.OWriter|db.OCreate))
	t.Cleanup(func() { _ = engine.Close() })
	return NewLockManager(engine).(*lockMgrImpl), engine
}

func TestAcquireRelease(t *testing.T) {
	m, engine := newTestManager(t)

	ok, owner, err := m.AcquireLock("res", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, owner)

	value, err := engine.Get([]byte("lock:res"))
	require.NoError(t, err)
	rec, valid := decodeLock(value)
	require.True(t, valid)
	assert.Equal(t, owner, rec.owner)
	assert.Equal(t, map[string]string{"res": owner}, m.Held())

	// held by someone else
	ok, _, err = m.AcquireLock("res", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// wrong owner
	ok, err = m.ReleaseLock("res", "someone-else")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.ReleaseLock("res", owner)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, m.Held())

	_, err = engine.Get([]byte("lock:res"))
	assert.Equal(t, db.StatusNoRec, db.StatusOf(err))

	// releasing a missing lock succeeds
	ok, err = m.ReleaseLock("res", owner)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLockTakeover(t *testing.T) {
	m, _ := newTestManager(t)

	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	ok, first, err := m.AcquireLock("res", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = m.AcquireLock("res", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lock is still valid")

	now = now.Add(2 * time.Second)
	ok, second, err := m.AcquireLock("res", 0)
	require.NoError(t, err)
	require.True(t, ok, "expired lock is taken over")
	assert.NotEqual(t, first, second)

	ok, err = m.ReleaseLock("res", first)
	require.NoError(t, err)
	assert.False(t, ok, "the old owner lost the lock")
}

func TestForeignRecordIsNotALock(t *testing.T) {
	m, engine := newTestManager(t)
	require.NoError(t, engine.Set([]byte("lock:res"), []byte("not a lock")))

	ok, _, err := m.AcquireLock("res", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseAll(t *testing.T) {
	m, engine := newTestManager(t)

	for _, name := range []string{"a", "b", "c"} {
		ok, _, err := m.AcquireLock(name, 0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Len(t, m.Held(), 3)

	require.NoError(t, m.ReleaseAll())
	assert.Empty(t, m.Held())

	for _, name := range []string{"a", "b", "c"} {
		_, err := engine.Get(lockKey(name))
		assert.Equal(t, db.StatusNoRec, db.StatusOf(err))
	}
}

func TestLockRecordEncoding(t *testing.T) {
	rec := lockRecord{owner: "a|b", expiry: 42}
	decoded, ok := decodeLock(rec.encode())
	require.True(t, ok)
	assert.Equal(t, rec, decoded)

	_, ok = decodeLock([]byte("no-separator"))
	assert.False(t, ok)
	_, ok = decodeLock([]byte("owner|nan"))
	assert.False(t, ok)
}
