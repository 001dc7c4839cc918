package store

import (
	"fmt"

	"github.com/ValentinKolb/ikv/lib/db"
)

// --------------------------------------------------------------------------
// Factory
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new, closed engine used by a store handle.
// This is used to abstract the creation of the engine from the store implementation.
type DBFactory func() db.Engine

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// ConflictMap maps an index key to the value actually found under it.
// An empty map means the indexing pass succeeded.
type ConflictMap map[string][]byte

// Error is the error type delivered to every completion of a store handle.
// It wraps a Kind and a message and, for KindIndexConflict, the conflicts found.
// Errors are never modified after construction.
type Error struct {
	Kind      Kind        // The error kind
	Msg       string      // The error message
	Conflicts ConflictMap // Only set for KindIndexConflict
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind == KindIndexConflict {
		return fmt.Sprintf("ikv (%s): %s (%d conflicting index keys)", e.Kind, e.Msg, len(e.Conflicts))
	}
	return fmt.Sprintf("ikv (%s): %s", e.Kind, e.Msg)
}

// Is reports whether target is an *Error of the same kind, so
// errors.Is(err, store.ErrNotFound) matches every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError creates a new Error with the given kind and message.
func NewError(kind Kind, msg string) *Error {
	return &Error{
		Kind: kind,
		Msg:  msg,
	}
}

// NewConflictError creates a KindIndexConflict error carrying conflicts.
func NewConflictError(conflicts ConflictMap) *Error {
	return &Error{
		Kind:      KindIndexConflict,
		Msg:       "index conflict",
		Conflicts: conflicts,
	}
}

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

type Kind uint8

const (
	KindSuccess         Kind = iota // 0: success
	KindNotImplemented              // 1: not implemented by the engine
	KindInvalidArgument             // 2: invalid operation or argument
	KindNoRepository                // 3: the repository does not exist
	KindNoPermission                // 4: no permission
	KindBroken                      // 5: broken repository
	KindDuplicateKey                // 6: the record already exists
	KindNotFound                    // 7: the record does not exist
	KindLogicError                  // 8: logical inconsistency
	KindSystemError                 // 9: system error
	KindMiscellaneous               // 10: everything else (including recovered panics)
	KindIndexConflict               // 11: an indexed write found conflicting index records
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "Success"
	case KindNotImplemented:
		return "NotImplemented"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNoRepository:
		return "NoRepository"
	case KindNoPermission:
		return "NoPermission"
	case KindBroken:
		return "Broken"
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindNotFound:
		return "NotFound"
	case KindLogicError:
		return "LogicError"
	case KindSystemError:
		return "SystemError"
	case KindMiscellaneous:
		return "Miscellaneous"
	case KindIndexConflict:
		return "IndexConflict"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrDuplicateKey    = &Error{Kind: KindDuplicateKey}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrIndexConflict   = &Error{Kind: KindIndexConflict}
)
