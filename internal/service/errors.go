package service

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindSelectionMismatch   ErrorKind = "selection_mismatch"
	KindEmptySelection      ErrorKind = "empty_selection"
	KindTooManyRecipients   ErrorKind = "too_many_recipients"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindPersistenceFailure  ErrorKind = "persistence_failure"
)

// Sentinels for errors.Is against a *DispatchError of the same kind.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrSelectionMismatch   = errors.New("selection mismatch")
	ErrEmptySelection      = errors.New("empty selection")
	ErrTooManyRecipients   = errors.New("too many recipients")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPersistenceFailure  = errors.New("persistence failure")
	ErrDispatchNotFound    = errors.New("dispatch not found")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidRequest:      ErrInvalidRequest,
	KindSelectionMismatch:   ErrSelectionMismatch,
	KindEmptySelection:      ErrEmptySelection,
	KindTooManyRecipients:   ErrTooManyRecipients,
	KindInsufficientBalance: ErrInsufficientBalance,
	KindPersistenceFailure:  ErrPersistenceFailure,
}

// DispatchError is the structured failure of one orchestration. Only the
// fields relevant to Kind are set.
type DispatchError struct {
	Kind  ErrorKind
	State State
	Msg   string

	// InsufficientBalance
	Required  int64
	Available int64

	// SelectionMismatch and TooManyRecipients
	Requested int
	Found     int
	Limit     int

	Err error
}

func (e *DispatchError) Error() string {
	var s string
	switch e.Kind {
	case KindInsufficientBalance:
		s = fmt.Sprintf("%s: required %d, available %d", e.Kind, e.Required, e.Available)
	case KindSelectionMismatch:
		s = fmt.Sprintf("%s: requested %d, found %d", e.Kind, e.Requested, e.Found)
	case KindTooManyRecipients:
		s = fmt.Sprintf("%s: limit %d, found %d", e.Kind, e.Limit, e.Found)
	default:
		s = string(e.Kind)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func invalidRequest(format string, args ...any) *DispatchError {
	return &DispatchError{Kind: KindInvalidRequest, State: StateValidating, Msg: fmt.Sprintf(format, args...)}
}

func persistenceFailure(state State, msg string, err error) *DispatchError {
	return &DispatchError{Kind: KindPersistenceFailure, State: state, Msg: msg, Err: err}
}

// KindOf reports the kind of a *DispatchError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
