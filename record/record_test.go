package record

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"kr.dev/diff"
)

func TestRecord(t *testing.T) {
	r := New(map[string]any{
		"title": "Star Wars",
		"year":  1977,
		"genre": "scifi",
	})
	if r.ID == uuid.Nil {
		t.Errorf("expected a generated id")
	}
	v, ok, err := r.Field("title")
	diff.Test(t, t.Fatalf, nil, err)
	diff.Test(t, t.Errorf, true, ok)
	diff.Test(t, t.Errorf, "Star Wars", v)

	_, ok, err = r.Field("missing")
	diff.Test(t, t.Fatalf, nil, err)
	diff.Test(t, t.Errorf, false, ok)

	names, err := r.StringFields()
	diff.Test(t, t.Fatalf, nil, err)
	diff.Test(t, t.Errorf, []string{"genre", "title"}, names)
}

func TestRecord_IndexOnly(t *testing.T) {
	r := IndexOnly(uuid.New())
	_, _, err := r.Field("title")
	if !errors.Is(err, ErrIndexOnly) {
		t.Errorf("expected ErrIndexOnly. got: %v", err)
	}
	_, err = r.Fields()
	if !errors.Is(err, ErrIndexOnly) {
		t.Errorf("expected ErrIndexOnly. got: %v", err)
	}
	_, err = r.StringFields()
	if !errors.Is(err, ErrIndexOnly) {
		t.Errorf("expected ErrIndexOnly. got: %v", err)
	}
}
