package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger failure. The HTTP adapter maps kinds to status codes.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindDuplicate         Kind = "DUPLICATE"
	KindExhausted         Kind = "EXHAUSTED"
	KindInternal          Kind = "INTERNAL"
)

// Error is the structured error returned by every core operation.
type Error struct {
	Kind      Kind
	Message   string
	Err       error
	Retriable bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinels like
// ErrInsufficientFunds work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	// ErrOverloaded is wrapped by every Overloaded error.
	ErrOverloaded = errors.New("store overloaded")

	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrDuplicate         = &Error{Kind: KindDuplicate}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func InsufficientFunds() *Error {
	return &Error{Kind: KindInsufficientFunds, Message: "Insufficient funds"}
}

func Duplicate(message string) *Error {
	return &Error{Kind: KindDuplicate, Message: message}
}

func Exhausted(message string, err error) *Error {
	return &Error{Kind: KindExhausted, Message: message, Err: err}
}

// Internal wraps a store or transport failure. Internal errors are the only
// kind callers may retry.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err, Retriable: true}
}

// Overloaded signals that the store connection pool has no capacity left.
func Overloaded(err error) *Error {
	return &Error{Kind: KindInternal, Message: "store overloaded, retry later", Err: errors.Join(ErrOverloaded, err), Retriable: true}
}

func IsOverloaded(err error) bool {
	return errors.Is(err, ErrOverloaded)
}

// KindOf returns the kind of err, defaulting to KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable
	}
	return false
}
