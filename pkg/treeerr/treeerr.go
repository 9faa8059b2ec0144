// pkg/treeerr/treeerr.go
// Package treeerr defines the error taxonomy shared by the tree store,
// tree engine, and tracker: TreeBroken, InvalidOp, Decode, and the KV
// errors they wrap.
package treeerr

import "golang.org/x/xerrors"

// Kind classifies an Error so callers can dispatch on it with errors.As
// instead of string matching.
type Kind int

const (
	// KindTreeBroken means an invariant was violated: a dangling parent
	// ref in an incoming op, or a node the indices claim exists but
	// doesn't. Fatal to the transaction.
	KindTreeBroken Kind = iota
	// KindInvalidOp means caller misuse: duplicate marker, uninitialized
	// database, location not found. Caller must fix input.
	KindInvalidOp
	// KindDecode means malformed bytes in storage. Treated as corruption.
	KindDecode
	// KindInvalid means misuse not covered above (uninitialized store).
	KindInvalid
	// KindKV wraps an error returned by the underlying KV. Transient
	// variants (lock timeout, optimistic conflict) are retryable.
	KindKV
)

func (k Kind) String() string {
	switch k {
	case KindTreeBroken:
		return "TreeBroken"
	case KindInvalidOp:
		return "InvalidOp"
	case KindDecode:
		return "Decode"
	case KindInvalid:
		return "Invalid"
	case KindKV:
		return "KV"
	default:
		return "Unknown"
	}
}

// Error is the typed error every treesync package returns, carrying
// enough structure for callers to distinguish invalid input from a
// broken invariant from a storage failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether e has Kind KV. The wrapped cause is not
// inspected: every KV error reports true, durable storage failures
// included, and TreeBroken/InvalidOp/Decode/Invalid always report false.
func (e *Error) Retryable() bool {
	return e.Kind == KindKV
}

func TreeBroken(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTreeBroken, Msg: xerrors.Errorf(format, args...).Error()}
}

func InvalidOp(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidOp, Msg: xerrors.Errorf(format, args...).Error()}
}

func Decode(err error) *Error {
	return &Error{Kind: KindDecode, Msg: "malformed bytes", Err: err}
}

func Invalid(msg string) *Error {
	return &Error{Kind: KindInvalid, Msg: msg}
}

func KV(err error) *Error {
	return &Error{Kind: KindKV, Msg: "kv operation failed", Err: err}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
