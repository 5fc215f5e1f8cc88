// test helpers
package tc

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kr/pretty"
)

func NoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("expected no error. got: %s", err)
	}
}

// Fails unless err is non-nil and its message contains want.
func ErrContains(tb testing.TB, err error, want string) {
	tb.Helper()
	switch {
	case err == nil:
		tb.Errorf("expected error containing %q. got none", want)
	case !strings.Contains(err.Error(), want):
		tb.Errorf("expected error containing %q. got: %s", want, err)
	}
}

func WantGot(tb testing.TB, want, got any) {
	tb.Helper()
	if !reflect.DeepEqual(want, got) {
		tb.Error(pretty.Sprintf("want: %v got: %v", want, got))
		for _, d := range pretty.Diff(want, got) {
			tb.Log(d)
		}
	}
}
