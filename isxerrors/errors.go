// Error kinds shared across encdex.
//
// Internal errors are defects in the calling code (eg a malformed
// derived key) and should halt the operation. Schema errors come
// from user authored collection schemas and are safe to show to
// the user. Remote errors are reported by the store.
package isxerrors

import (
	"errors"

	"golang.org/x/xerrors"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindInternal
	KindSchema
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindSchema:
		return "schema"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

func newf(k Kind, format string, args []any) error {
	return &Error{Kind: k, err: xerrors.Errorf(format, args...)}
}

func Internal(format string, args ...any) error {
	return newf(KindInternal, format, args)
}

func Schema(format string, args ...any) error {
	return newf(KindSchema, format, args)
}

func Remote(format string, args ...any) error {
	return newf(KindRemote, format, args)
}

// Returns the kind of the outermost *Error in err's chain
// or KindUnknown when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
