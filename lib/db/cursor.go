package db

// --------------------------------------------------------------------------
// Seek based cursor (shared by all engines)
// --------------------------------------------------------------------------

// Seeker is the ordered lookup primitive a cursor is built on.
//
// Seek returns the first record whose key is >= from (reverse=false) or the last record whose
// key is <= from (reverse=true). A nil from means the start (or the end if reverse) of the key
// space. If exclusive is set, a record whose key equals from is skipped. Returned slices must be
// copies owned by the caller.
type Seeker interface {
	Seek(from []byte, reverse, exclusive bool) (key, value []byte, ok bool, err error)
}

// seekCursor implements Cursor by remembering the key of its current record.
// Every operation re-seeks from that key, so the cursor stays valid across concurrent
// modifications of the engine: if the current record is removed, Get continues with
// the next greater key.
type seekCursor struct {
	seeker Seeker
	pos    []byte
	valid  bool
	closed bool
}

// NewSeekCursor creates an unpositioned cursor on top of seeker.
func NewSeekCursor(seeker Seeker) Cursor {
	return &seekCursor{seeker: seeker}
}

// position moves the cursor to the result of a seek. A miss invalidates the cursor and returns StatusNoRec.
func (c *seekCursor) position(from []byte, reverse, exclusive bool) error {
	if c.closed {
		return Errorf(StatusInvalid, "cursor is closed")
	}
	key, _, ok, err := c.seeker.Seek(from, reverse, exclusive)
	if err != nil {
		c.valid = false
		return err
	}
	if !ok {
		c.valid = false
		return StatusNoRec
	}
	c.pos = key
	c.valid = true
	return nil
}

func (c *seekCursor) Jump() error {
	return c.position(nil, false, false)
}

func (c *seekCursor) JumpTo(key []byte) error {
	return c.position(key, false, false)
}

func (c *seekCursor) JumpBack() error {
	return c.position(nil, true, false)
}

func (c *seekCursor) JumpBackTo(key []byte) error {
	return c.position(key, true, false)
}

func (c *seekCursor) Step() error {
	if c.closed {
		return Errorf(StatusInvalid, "cursor is closed")
	}
	if !c.valid {
		return StatusNoRec
	}
	return c.position(c.pos, false, true)
}

func (c *seekCursor) StepBack() error {
	if c.closed {
		return Errorf(StatusInvalid, "cursor is closed")
	}
	if !c.valid {
		return StatusNoRec
	}
	return c.position(c.pos, true, true)
}

func (c *seekCursor) Get(advance bool) ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, Errorf(StatusInvalid, "cursor is closed")
	}
	if !c.valid {
		return nil, nil, StatusNoRec
	}

	key, value, ok, err := c.seeker.Seek(c.pos, false, false)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		c.valid = false
		return nil, nil, StatusNoRec
	}
	c.pos = key

	if advance {
		// stepping past the last record invalidates the cursor, the record itself is still returned
		if err := c.position(key, false, true); err != nil && StatusOf(err) != StatusNoRec {
			return nil, nil, err
		}
	}

	return key, value, nil
}

func (c *seekCursor) GetKey(advance bool) ([]byte, error) {
	key, _, err := c.Get(advance)
	return key, err
}

func (c *seekCursor) GetValue(advance bool) ([]byte, error) {
	_, value, err := c.Get(advance)
	return value, err
}

func (c *seekCursor) Close() error {
	c.closed = true
	c.valid = false
	c.pos = nil
	return nil
}
