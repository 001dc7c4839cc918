package lstore

import (
	"bytes"
)

// Each calls fn on the loop goroutine for every record in ascending key order until fn
// returns false. done is called once the iteration ended.
//
// Records are read one task at a time through a cursor, so writes submitted in between
// are visible to the iteration.
func (h *Handle) Each(fn func(key, value []byte) bool, done func(error)) {
	c := h.Cursor()
	c.Jump(func(found bool, err error) {
		if err != nil || !found {
			c.Close()
			finishIteration(done, err)
			return
		}
		c.walk(nil, fn, done)
	})
}

// Scan is Each restricted to the records whose key starts with prefix.
func (h *Handle) Scan(prefix []byte, fn func(key, value []byte) bool, done func(error)) {
	c := h.Cursor()
	c.JumpTo(prefix, func(found bool, err error) {
		if err != nil || !found {
			c.Close()
			finishIteration(done, err)
			return
		}
		c.walk(prefix, fn, done)
	})
}

// walk reads the record at the cursor and advances, chaining the next read from the
// completion until the records run out, leave the prefix or fn stops.
func (c *Cursor) walk(prefix []byte, fn func(key, value []byte) bool, done func(error)) {
	c.Get(true, func(key, value []byte, err error) {
		if err != nil || key == nil || !bytes.HasPrefix(key, prefix) || !fn(key, value) {
			c.Close()
			finishIteration(done, err)
			return
		}
		c.walk(prefix, fn, done)
	})
}

func finishIteration(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
