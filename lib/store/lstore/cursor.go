package lstore

import (
	"sync"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/store"
)

// CursorState is the position state of a Cursor
type CursorState uint8

const (
	CursorUnpositioned CursorState = iota // created, no jump yet
	CursorPositioned                      // at a record
	CursorExhausted                       // a positioning or read call ran past the end
	CursorClosed                          // closed by the caller or by closing the handle
)

func (s CursorState) String() string {
	switch s {
	case CursorUnpositioned:
		return "unpositioned"
	case CursorPositioned:
		return "positioned"
	case CursorExhausted:
		return "exhausted"
	case CursorClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Cursor is a position in the key order of a handle's engine. Every operation is a task
// retained on the owning handle.
//
// Running past either end is not an error: positioning operations complete with
// found=false and reads with a nil payload, both with a nil error, and the cursor is
// exhausted until the next jump.
type Cursor struct {
	h  *Handle
	id uint64

	// mu serializes the engine cursor between workers
	mu    sync.Mutex
	cur   db.Cursor
	state CursorState
}

// Cursor creates a new cursor. The engine cursor is created by the first operation.
func (h *Handle) Cursor() *Cursor {
	c := &Cursor{h: h, id: h.nextCursor.Add(1)}
	h.cursors.Store(c.id, c)
	return c
}

// State returns the current position state
func (c *Cursor) State() CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// engineCursor returns the engine cursor, creating it on first use. Must hold mu.
func (c *Cursor) engineCursor(engine db.Engine) (db.Cursor, error) {
	if c.state == CursorClosed {
		return nil, store.NewError(store.KindInvalidArgument, "cursor is closed")
	}
	if c.cur == nil {
		c.cur = engine.Cursor()
	}
	return c.cur, nil
}

// settle updates the state after an engine call and maps the end of the sequence to
// (false, nil).
func (c *Cursor) settle(err error, jump bool) (bool, error) {
	switch {
	case err == nil:
		if jump || c.state == CursorPositioned {
			c.state = CursorPositioned
		}
		return c.state == CursorPositioned, nil
	case db.StatusOf(err) == db.StatusNoRec:
		c.state = CursorExhausted
		return false, nil
	default:
		return false, err
	}
}

// move runs a positioning call of the engine cursor
func (c *Cursor) move(op string, jump bool, fn func(cur db.Cursor) error, done func(found bool, err error)) {
	submit(c.h, "cursor_"+op, func(engine db.Engine) (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		cur, err := c.engineCursor(engine)
		if err != nil {
			return false, err
		}
		if !jump && c.state != CursorPositioned {
			// only a jump leaves the unpositioned and exhausted states
			return false, nil
		}
		return c.settle(fn(cur), jump)
	}, done)
}

// Jump positions the cursor at the first record.
func (c *Cursor) Jump(done func(found bool, err error)) {
	c.move("jump", true, func(cur db.Cursor) error { return cur.Jump() }, done)
}

// JumpTo positions the cursor at the first record whose key is >= key.
func (c *Cursor) JumpTo(key []byte, done func(found bool, err error)) {
	c.move("jump", true, func(cur db.Cursor) error { return cur.JumpTo(key) }, done)
}

// JumpBack positions the cursor at the last record.
func (c *Cursor) JumpBack(done func(found bool, err error)) {
	c.move("jump_back", true, func(cur db.Cursor) error { return cur.JumpBack() }, done)
}

// JumpBackTo positions the cursor at the last record whose key is <= key.
func (c *Cursor) JumpBackTo(key []byte, done func(found bool, err error)) {
	c.move("jump_back", true, func(cur db.Cursor) error { return cur.JumpBackTo(key) }, done)
}

// Step moves the cursor to the next record.
func (c *Cursor) Step(done func(found bool, err error)) {
	c.move("step", false, func(cur db.Cursor) error { return cur.Step() }, done)
}

// StepBack moves the cursor to the previous record.
func (c *Cursor) StepBack(done func(found bool, err error)) {
	c.move("step_back", false, func(cur db.Cursor) error { return cur.StepBack() }, done)
}

type record struct {
	key, value []byte
}

// read runs a read of the current record, advancing afterwards if requested
func (c *Cursor) read(advance bool, done func(rec record, err error)) {
	submit(c.h, "cursor_get", func(engine db.Engine) (record, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		cur, err := c.engineCursor(engine)
		if err != nil {
			return record{}, err
		}
		if c.state != CursorPositioned {
			return record{}, nil
		}

		key, value, err := cur.Get(advance)
		if _, err := c.settle(err, false); err != nil {
			return record{}, err
		}
		return record{key: key, value: value}, nil
	}, done)
}

// Get delivers the key and value of the current record. A nil key means the cursor is not
// at a record.
func (c *Cursor) Get(advance bool, done func(key, value []byte, err error)) {
	c.read(advance, func(rec record, err error) {
		if done != nil {
			done(rec.key, rec.value, err)
		}
	})
}

// GetKey delivers the key of the current record.
func (c *Cursor) GetKey(advance bool, done func(key []byte, err error)) {
	c.read(advance, func(rec record, err error) {
		if done != nil {
			done(rec.key, err)
		}
	})
}

// GetValue delivers the value of the current record.
func (c *Cursor) GetValue(advance bool, done func(value []byte, err error)) {
	c.read(advance, func(rec record, err error) {
		if done != nil {
			done(rec.value, err)
		}
	})
}

// Close releases the engine cursor. It runs on the calling goroutine and can be called
// more than once.
func (c *Cursor) Close() {
	c.invalidate()
	c.h.cursors.Delete(c.id)
}

func (c *Cursor) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		_ = c.cur.Close()
		c.cur = nil
	}
	c.state = CursorClosed
}
