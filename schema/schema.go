// Collection schemas
//
// A collection lists the indexes built for each record.
// This package only describes and validates them; see the
// index package for building terms and filters.
package schema

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/indexsupply/encdex/bloom"
	"github.com/indexsupply/encdex/isxerrors"
	"github.com/indexsupply/encdex/textproc"
	"github.com/indexsupply/encdex/wstrings"

	"github.com/goccy/go-json"
)

const (
	// Terms from the listed fields
	KindMatch = "match"
	// Terms from every string field
	KindDynamicMatch = "dynamic-match"
	// Terms from every string field, prefixed with "field:"
	KindFieldDynamicMatch = "field-dynamic-match"
)

var kinds = []string{KindMatch, KindDynamicMatch, KindFieldDynamicMatch}

type Collection struct {
	Name    string  `json:"name"`
	Indexes []Index `json:"indexes"`
}

type Index struct {
	Name    string
	Kind    string
	Fields  []string
	Text    textproc.Settings
	Options bloom.Options
}

func (ix *Index) UnmarshalJSON(d []byte) error {
	x := struct {
		Name           string                 `json:"name"`
		Kind           string                 `json:"kind"`
		Fields         []string               `json:"fields"`
		Tokenizer      textproc.Tokenizer     `json:"tokenizer"`
		TokenFilters   []textproc.TokenFilter `json:"tokenFilters"`
		FilterSize     json.RawMessage        `json:"filterSize"`
		FilterTermBits json.RawMessage        `json:"filterTermBits"`
	}{}
	if err := json.Unmarshal(d, &x); err != nil {
		return err
	}
	ix.Name = x.Name
	ix.Kind = x.Kind
	ix.Fields = x.Fields
	ix.Text.Tokenizer = x.Tokenizer
	ix.Text.TokenFilters = x.TokenFilters
	ix.Options = bloom.Options{}
	opts := []struct {
		name string
		raw  json.RawMessage
	}{
		{bloom.OptFilterSize, x.FilterSize},
		{bloom.OptFilterTermBits, x.FilterTermBits},
	}
	for _, o := range opts {
		if len(o.raw) == 0 {
			continue
		}
		// numbers are kept as json.Number so that
		// 256 and 256.0 can be told apart
		var v any
		dec := json.NewDecoder(bytes.NewReader(o.raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decoding %s: %w", o.name, err)
		}
		ix.Options[o.name] = v
	}
	return nil
}

func (ix Index) MarshalJSON() ([]byte, error) {
	x := map[string]any{
		"name": ix.Name,
		"kind": ix.Kind,
	}
	if len(ix.Fields) > 0 {
		x["fields"] = ix.Fields
	}
	if ix.Text.Tokenizer.Kind != "" {
		x["tokenizer"] = ix.Text.Tokenizer
	}
	if len(ix.Text.TokenFilters) > 0 {
		x["tokenFilters"] = ix.Text.TokenFilters
	}
	for k, v := range ix.Options {
		x[k] = v
	}
	return json.Marshal(x)
}

func (c Collection) Index(name string) (Index, error) {
	for _, ix := range c.Indexes {
		if ix.Name == name {
			return ix, nil
		}
	}
	return Index{}, fmt.Errorf("collection %q has no index %q", c.Name, name)
}

// Returns a schema error describing the first problem found.
func Validate(c Collection) error {
	if err := wstrings.Name(c.Name); err != nil {
		return isxerrors.Schema("collection name %q: %w", c.Name, err)
	}
	seen := map[string]struct{}{}
	for _, ix := range c.Indexes {
		if _, ok := seen[ix.Name]; ok {
			return isxerrors.Schema("collection %q: duplicate index: %s", c.Name, ix.Name)
		}
		seen[ix.Name] = struct{}{}
		if err := ValidateIndex(ix); err != nil {
			return fmt.Errorf("collection %q: %w", c.Name, err)
		}
	}
	return nil
}

func ValidateIndex(ix Index) error {
	if err := wstrings.Name(ix.Name); err != nil {
		return isxerrors.Schema("index name %q: %w", ix.Name, err)
	}
	if !slices.Contains(kinds, ix.Kind) {
		const tag = "index %q: kind must be one of: %v. got: %q"
		return isxerrors.Schema(tag, ix.Name, kinds, ix.Kind)
	}
	if ix.Kind == KindMatch && len(ix.Fields) == 0 {
		return isxerrors.Schema("index %q: match index requires fields", ix.Name)
	}
	if ix.Kind != KindMatch && len(ix.Fields) > 0 {
		const tag = "index %q: %s index uses every string field. remove fields"
		return isxerrors.Schema(tag, ix.Name, ix.Kind)
	}
	if _, err := textproc.New(ix.Text); err != nil {
		return fmt.Errorf("index %q: %w", ix.Name, err)
	}
	if _, _, err := bloom.ValidateOptions(ix.Options); err != nil {
		return fmt.Errorf("index %q: %w", ix.Name, err)
	}
	return nil
}
