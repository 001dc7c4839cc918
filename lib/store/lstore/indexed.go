package lstore

import (
	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/store"
	"github.com/ValentinKolb/ikv/lib/store/index"
)

// AddIndexed adds the record of key and inserts every entry of toIndex in one transaction.
// An index key that already holds a different value fails the whole write with
// store.KindIndexConflict, the error's Conflicts carry the values found.
func (h *Handle) AddIndexed(key, value []byte, toIndex index.Map, done func(error)) {
	h.indexed(index.OpAdd, key, value, toIndex, nil, done)
}

// ReplaceIndexed replaces the record of key, inserts toIndex and removes toRemove in one
// transaction. An entry of toRemove is only deleted if it points at key.
func (h *Handle) ReplaceIndexed(key, value []byte, toIndex index.Map, toRemove index.RemovalSet, done func(error)) {
	h.indexed(index.OpReplace, key, value, toIndex, toRemove, done)
}

// RemoveIndexed removes the record of key and the entries of toRemove pointing at it in
// one transaction.
func (h *Handle) RemoveIndexed(key []byte, toRemove index.RemovalSet, done func(error)) {
	h.indexed(index.OpRemove, key, nil, nil, toRemove, done)
}

func (h *Handle) indexed(op index.Op, key, value []byte, toIndex index.Map, toRemove index.RemovalSet, done func(error)) {
	submitErr(h, op.String()+"_indexed", func(engine db.Engine) error {
		apply := func() error {
			return index.Apply(engine, op, key, value, toIndex, toRemove)
		}
		// without index work the write is a plain engine operation
		if len(toIndex) == 0 && len(toRemove) == 0 {
			return h.write(apply)
		}
		return h.writeExclusive(apply)
	}, done)
}

// ValidateIndex delivers the entries of toIndex that currently hold a different value.
// The check reads a consistent snapshot but is advisory: a later indexed write can still
// conflict.
func (h *Handle) ValidateIndex(toIndex index.Map, done func(conflicts store.ConflictMap, err error)) {
	submit(h, "validate_index", func(engine db.Engine) (store.ConflictMap, error) {
		return index.Validate(engine, toIndex)
	}, done)
}
