package wstrings

import (
	"strings"
	"testing"

	"kr.dev/diff"
)

func TestName(t *testing.T) {
	cases := []struct {
		input string
		want  error
	}{
		{"movies", nil},
		{"movie_titles-2", nil},
		{"", ErrEmpty},
		{strings.Repeat("a", 64), ErrLong},
		{"movies; drop table x", ErrUnsafe},
		{"a.b", ErrUnsafe},
	}
	for _, tc := range cases {
		diff.Test(t, t.Errorf, tc.want, Name(tc.input))
	}
	diff.Test(t, t.Errorf, nil, Safe(""))
}
