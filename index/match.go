// Filter-match indexes
//
// Each record is reduced to the bits of a keyed Bloom filter
// built from the terms of its fields. A query's terms are
// reduced the same way, with the same key and options, and a
// record is a candidate match when the query's bits are a
// subset of the record's bits.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/indexsupply/encdex/bloom"
	"github.com/indexsupply/encdex/record"
	"github.com/indexsupply/encdex/schema"
	"github.com/indexsupply/encdex/textproc"
	"github.com/indexsupply/encdex/wctx"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// An empty query filter is a subset of every filter so
// queries that produce no terms are rejected.
var ErrNoTerms = errors.New("query has no terms")

type Match struct {
	Def  schema.Index
	key  string
	m, k int
	tp   textproc.Processor
}

// key is the hex encoded 32 byte filter key for this index.
// Key problems are internal errors and option problems
// are schema errors.
func NewMatch(def schema.Index, key string) (*Match, error) {
	if err := schema.ValidateIndex(def); err != nil {
		return nil, err
	}
	tp, err := textproc.New(def.Text)
	if err != nil {
		return nil, fmt.Errorf("index %q: %w", def.Name, err)
	}
	f, err := bloom.New(key, def.Options)
	if err != nil {
		return nil, fmt.Errorf("index %q: %w", def.Name, err)
	}
	return &Match{Def: def, key: key, m: f.M(), k: f.K(), tp: tp}, nil
}

func (mx *Match) M() int { return mx.m }
func (mx *Match) K() int { return mx.k }

func (mx *Match) filter() *bloom.Filter {
	f, err := bloom.New(mx.key, mx.Def.Options)
	if err != nil {
		// key and options were checked in NewMatch
		panic(fmt.Sprintf("index %q: %s", mx.Def.Name, err))
	}
	return f
}

// Returns the filter bits for r.
// Fails when r was fetched without its payload.
func (mx *Match) Analyze(r record.Record) ([]uint16, error) {
	var (
		f      = mx.filter()
		nterms int
		add    = func(prefix, v string) {
			terms := mx.tp.Terms(v)
			if prefix != "" {
				for i := range terms {
					terms[i] = prefix + ":" + terms[i]
				}
			}
			nterms += len(terms)
			f.Add(terms...)
		}
	)
	switch mx.Def.Kind {
	case schema.KindMatch:
		for _, name := range mx.Def.Fields {
			v, ok, err := r.Field(name)
			if err != nil {
				return nil, fmt.Errorf("index %q: %w", mx.Def.Name, err)
			}
			if !ok || v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				const tag = "index %q: field %q must be a string. got: %T"
				return nil, fmt.Errorf(tag, mx.Def.Name, name, v)
			}
			add("", s)
		}
	case schema.KindDynamicMatch, schema.KindFieldDynamicMatch:
		fields, err := r.Fields()
		if err != nil {
			return nil, fmt.Errorf("index %q: %w", mx.Def.Name, err)
		}
		names, _ := r.StringFields()
		for _, name := range names {
			var prefix string
			if mx.Def.Kind == schema.KindFieldDynamicMatch {
				prefix = name
			}
			add(prefix, fields[name].(string))
		}
	}
	RecordsAnalyzed.WithLabelValues(mx.Def.Name).Inc()
	TermsAdded.WithLabelValues(mx.Def.Name).Add(float64(nterms))
	return f.Bits(), nil
}

// Returns the filter bits for a query string.
// field-dynamic-match indexes must use QueryField.
func (mx *Match) Query(s string) ([]uint16, error) {
	if mx.Def.Kind == schema.KindFieldDynamicMatch {
		return nil, fmt.Errorf("index %q: query requires a field name", mx.Def.Name)
	}
	terms := mx.tp.Terms(s)
	if len(terms) == 0 {
		return nil, fmt.Errorf("index %q: %w", mx.Def.Name, ErrNoTerms)
	}
	QueriesBuilt.WithLabelValues(mx.Def.Name).Inc()
	return mx.filter().Add(terms...).Bits(), nil
}

func (mx *Match) QueryField(field, s string) ([]uint16, error) {
	if mx.Def.Kind != schema.KindFieldDynamicMatch {
		return mx.Query(s)
	}
	terms := mx.tp.Terms(s)
	if len(terms) == 0 {
		return nil, fmt.Errorf("index %q: %w", mx.Def.Name, ErrNoTerms)
	}
	for i := range terms {
		terms[i] = field + ":" + terms[i]
	}
	QueriesBuilt.WithLabelValues(mx.Def.Name).Inc()
	return mx.filter().Add(terms...).Bits(), nil
}

// Reports whether a record with target bits is a
// candidate match for a query with query bits.
func (mx *Match) Matches(query, target []uint16) bool {
	return bloom.SubsetBits(query, target)
}

// Builds every index in a collection.
type Builder struct {
	Collection string
	Indexes    []*Match
}

// key returns the hex filter key for the named index
func NewBuilder(c schema.Collection, key func(index string) (string, error)) (*Builder, error) {
	if err := schema.Validate(c); err != nil {
		return nil, err
	}
	b := &Builder{Collection: c.Name}
	for _, def := range c.Indexes {
		k, err := key(def.Name)
		if err != nil {
			return nil, fmt.Errorf("key for %s/%s: %w", c.Name, def.Name, err)
		}
		mx, err := NewMatch(def, k)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", c.Name, err)
		}
		b.Indexes = append(b.Indexes, mx)
	}
	return b, nil
}

func (b *Builder) Index(name string) (*Match, error) {
	for _, mx := range b.Indexes {
		if mx.Def.Name == name {
			return mx, nil
		}
	}
	return nil, fmt.Errorf("collection %q has no index %q", b.Collection, name)
}

type Entry struct {
	ID uuid.UUID
	// index name -> filter bits
	Bits map[string][]uint16
}

func (b *Builder) Analyze(r record.Record) (Entry, error) {
	e := Entry{ID: r.ID, Bits: make(map[string][]uint16, len(b.Indexes))}
	for _, mx := range b.Indexes {
		bits, err := mx.Analyze(r)
		if err != nil {
			return Entry{}, fmt.Errorf("record %s: %w", r.ID, err)
		}
		e.Bits[mx.Def.Name] = bits
	}
	return e, nil
}

// Analyzes recs using up to workers goroutines.
// The result is in the same order as recs.
func (b *Builder) AnalyzeAll(ctx context.Context, recs []record.Record, workers int) ([]Entry, error) {
	if workers < 1 {
		workers = 1
	}
	ctx = wctx.WithCollection(ctx, b.Collection)
	var (
		res    = make([]Entry, len(recs))
		eg, gc = errgroup.WithContext(ctx)
	)
	eg.SetLimit(workers)
	for i := range recs {
		if gc.Err() != nil {
			break
		}
		eg.Go(func() error {
			e, err := b.Analyze(recs[i])
			if err != nil {
				return err
			}
			res[i] = e
			wctx.CounterAdd(gc, 1)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "analyzed",
		"n", len(recs),
		"indexes", len(b.Indexes),
		"workers", workers,
	)
	return res, nil
}
