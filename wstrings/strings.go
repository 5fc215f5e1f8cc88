// Checks for user supplied names that end up in
// log lines, URL paths and SQL identifiers.
package wstrings

import (
	"errors"
	"unicode"
)

// Postgres truncates identifiers longer than this
const MaxName = 63

var (
	ErrEmpty  = errors.New("must not be empty")
	ErrLong   = errors.New("must be at most 63 characters")
	ErrUnsafe  = errors.New("must be 'a-z', 'A-Z', '0-9', '_', or '-'")
)

func Safe(s string) error {
	for _, r := range s {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			return ErrUnsafe
		}
	}
	return nil
}

// Like Safe but also rejects empty and overly long names.
func Name(s string) error {
	switch {
	case len(s) == 0:
		return ErrEmpty
	case len(s) > MaxName:
		return ErrLong
	default:
		return Safe(s)
	}
}
