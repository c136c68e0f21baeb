// Package cferrors defines the typed error taxonomy used across the
// scheduler, modeled on the node-execution error hierarchy of the
// workflow engine this project grew out of.
package cferrors

import "fmt"

// Kind classifies why an operation failed.
type Kind int

const (
	// KindNoSuchProduct means a lookup referenced a product name that was
	// never published at that data cell.
	KindNoSuchProduct Kind = iota
	// KindTypeMismatch means a product was found but asserted to the
	// wrong Go type.
	KindTypeMismatch
	// KindMisconfiguration means the graph or a node was declared
	// inconsistently (missing input family, duplicate registration, ...).
	KindMisconfiguration
	// KindInvariant means an internal invariant the scheduler relies on
	// was violated — a bug, not a caller error.
	KindInvariant
	// KindUser means user-supplied code (a transform, predicate, fold
	// function) returned an error.
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindNoSuchProduct:
		return "no_such_product"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindMisconfiguration:
		return "misconfiguration"
	case KindInvariant:
		return "invariant"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried through the scheduler. Every
// constructor in this package returns one of these.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, enabling
// errors.Is(err, &cferrors.Error{Kind: cferrors.KindNoSuchProduct})-style
// checks against a sentinel *Error.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// NewNoSuchProduct reports a missing product lookup by name.
func NewNoSuchProduct(name string) *Error {
	return &Error{Kind: KindNoSuchProduct, Message: fmt.Sprintf("no such product %q", name)}
}

// NewTypeMismatch reports a product type assertion failure.
func NewTypeMismatch(name string, want, got any) *Error {
	return &Error{
		Kind:    KindTypeMismatch,
		Message: fmt.Sprintf("product %q: want type %T, got %T", name, want, got),
	}
}

// NewMisconfiguration reports a graph or node declaration error.
func NewMisconfiguration(format string, args ...any) *Error {
	return &Error{Kind: KindMisconfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewInvariant reports an internal invariant violation. It carries no
// wrapped cause; format it into the message instead.
func NewInvariant(format string, args ...any) *Error {
	return &Error{Kind: KindInvariant, Message: fmt.Sprintf(format, args...)}
}

// WrapUser wraps an error returned by user-supplied node code.
func WrapUser(node string, cause error) *Error {
	return &Error{Kind: KindUser, Message: fmt.Sprintf("node %q", node), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
