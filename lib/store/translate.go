package store

import (
	"errors"
	"strconv"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/task"
)

var statusKinds = map[db.Status]Kind{
	db.StatusSuccess: KindSuccess,
	db.StatusNoImpl:  KindNotImplemented,
	db.StatusInvalid: KindInvalidArgument,
	db.StatusNoRepos: KindNoRepository,
	db.StatusNoPerm:  KindNoPermission,
	db.StatusBroken:  KindBroken,
	db.StatusDupRec:  KindDuplicateKey,
	db.StatusNoRec:   KindNotFound,
	db.StatusLogic:   KindLogicError,
	db.StatusSystem:  KindSystemError,
	db.StatusMisc:    KindMiscellaneous,
}

// Translate converts any failure into an *Error:
//   - nil stays nil
//   - an *Error is passed through unchanged
//   - a recovered panic (*task.PanicError) becomes KindMiscellaneous
//   - task.ErrStopped becomes KindSystemError
//   - an engine status (db.Status) becomes the matching kind
//   - everything else becomes KindMiscellaneous
func Translate(err error) *Error {
	if err == nil {
		return nil
	}

	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr
	}

	var panicErr *task.PanicError
	if errors.As(err, &panicErr) {
		return NewError(KindMiscellaneous, err.Error())
	}

	if errors.Is(err, task.ErrStopped) {
		return NewError(KindSystemError, err.Error())
	}

	var status db.Status
	if errors.As(err, &status) {
		if status == db.StatusSuccess {
			return nil
		}
		kind, ok := statusKinds[status]
		if !ok {
			kind = KindMiscellaneous
		}
		return NewError(kind, err.Error())
	}

	return NewError(KindMiscellaneous, err.Error())
}

// AsError is Translate for completions that take a plain error. It never returns a
// non-nil interface holding a nil *Error.
func AsError(err error) error {
	if e := Translate(err); e != nil {
		return e
	}
	return nil
}

// --------------------------------------------------------------------------
// Open Modes
// --------------------------------------------------------------------------

// ParseMode converts a mode string into engine mode flags:
//
//	"r"   reader
//	"r+"  writer
//	"w+"  writer, create, truncate
//	"a+"  writer, create
//
// A decimal number is taken as raw flags.
func ParseMode(mode string) (db.Mode, error) {
	switch mode {
	case "r":
		return db.OReader, nil
	case "r+":
		return db.OWriter, nil
	case "w+":
		return db.OWriter | db.OCreate | db.OTruncate, nil
	case "a+":
		return db.OWriter | db.OCreate, nil
	}

	if n, err := strconv.ParseUint(mode, 10, 32); err == nil {
		return db.Mode(n), nil
	}
	return 0, NewError(KindInvalidArgument, "badly formatted mode: `"+mode+"`")
}
