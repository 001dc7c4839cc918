package db

import (
	"errors"
	"fmt"
)

// Status is an engine status code. Every engine failure is reported as a Status
// (optionally wrapped) so that callers can recover the code with errors.As.
type Status uint8

const (
	StatusSuccess Status = iota // success
	StatusNoImpl                // not implemented
	StatusInvalid               // invalid operation
	StatusNoRepos               // no repository
	StatusNoPerm                // no permission
	StatusBroken                // broken file
	StatusDupRec                // record duplication
	StatusNoRec                 // no record
	StatusLogic                 // logical inconsistency
	StatusSystem                // system error
	StatusMisc                  // miscellaneous error
)

// Name returns the code name of the status.
func (s Status) Name() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoImpl:
		return "not implemented"
	case StatusInvalid:
		return "invalid operation"
	case StatusNoRepos:
		return "no repository"
	case StatusNoPerm:
		return "no permission"
	case StatusBroken:
		return "broken file"
	case StatusDupRec:
		return "record duplication"
	case StatusNoRec:
		return "no record"
	case StatusLogic:
		return "logical inconsistency"
	case StatusSystem:
		return "system error"
	case StatusMisc:
		return "miscellaneous error"
	default:
		return fmt.Sprintf("unknown status %d", s)
	}
}

// Error implements the error interface.
func (s Status) Error() string {
	return s.Name()
}

// StatusError attaches a detail message (and optionally a cause) to a Status.
type StatusError struct {
	Status Status
	Detail string
	Cause  error
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Status.Name(), e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Status.Name(), e.Detail)
}

// Unwrap returns the status first so errors.Is(err, StatusNoRec) works.
func (e *StatusError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Status, e.Cause}
	}
	return []error{e.Status}
}

// Errorf creates a StatusError with a formatted detail message.
func Errorf(status Status, format string, args ...interface{}) error {
	return &StatusError{Status: status, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates a StatusError around cause.
func Wrap(status Status, cause error, detail string) error {
	return &StatusError{Status: status, Detail: detail, Cause: cause}
}

// StatusOf extracts the Status carried by err.
// nil maps to StatusSuccess and errors without a Status map to StatusMisc.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusMisc
}
