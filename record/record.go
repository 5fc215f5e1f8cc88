package record

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Returned when reading fields of a record that was
// fetched without its payload.
var ErrIndexOnly = errors.New("record was fetched without its payload")

type Record struct {
	ID        uuid.UUID
	IndexOnly bool
	fields    map[string]any
}

func New(fields map[string]any) Record {
	return Record{ID: uuid.New(), fields: fields}
}

func WithID(id uuid.UUID, fields map[string]any) Record {
	return Record{ID: id, fields: fields}
}

func IndexOnly(id uuid.UUID) Record {
	return Record{ID: id, IndexOnly: true}
}

func (r Record) Fields() (map[string]any, error) {
	if r.IndexOnly {
		return nil, fmt.Errorf("fields of %s: %w", r.ID, ErrIndexOnly)
	}
	return r.fields, nil
}

// Returns false when name isn't present.
func (r Record) Field(name string) (any, bool, error) {
	if r.IndexOnly {
		return nil, false, fmt.Errorf("field %q of %s: %w", name, r.ID, ErrIndexOnly)
	}
	v, ok := r.fields[name]
	return v, ok, nil
}

// Returns the names of all string valued fields, sorted.
func (r Record) StringFields() ([]string, error) {
	if r.IndexOnly {
		return nil, fmt.Errorf("string fields of %s: %w", r.ID, ErrIndexOnly)
	}
	var res []string
	for k, v := range r.fields {
		if _, ok := v.(string); ok {
			res = append(res, k)
		}
	}
	slices.Sort(res)
	return res, nil
}

// Sealed is the form of a record that leaves the client:
// an encrypted payload and the filter bits for each index.
// Payload is nil when the record was fetched index-only.
type Sealed struct {
	ID      uuid.UUID           `json:"id"`
	Payload []byte              `json:"payload,omitempty"`
	Filters map[string][]uint16 `json:"filters"`
}

// Selects records whose filter for Index contains every bit in Bits.
type Query struct {
	Index   string   `json:"index"`
	Bits    []uint16 `json:"bits"`
	Limit   int      `json:"limit,omitempty"`
	Payload bool     `json:"payload"`
}
