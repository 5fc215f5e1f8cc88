// Encrypted, searchable collections
//
// A Collection ties together the index builder, the payload
// sealer and a Backend that stores sealed records. Plaintext
// never reaches the Backend: records are reduced to filter
// bits and an age encrypted payload before they are written.
package stash

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/indexsupply/encdex/config"
	"github.com/indexsupply/encdex/index"
	"github.com/indexsupply/encdex/keys"
	"github.com/indexsupply/encdex/record"
	"github.com/indexsupply/encdex/schema"
	"github.com/indexsupply/encdex/seal"
	"github.com/indexsupply/encdex/wctx"

	"github.com/google/uuid"
)

// Implemented by stashrpc.Client and pgstore.Store
type Backend interface {
	PutRecords(context.Context, string, []record.Sealed) (int, error)
	GetRecord(context.Context, string, uuid.UUID, bool) (record.Sealed, error)
	DeleteRecord(context.Context, string, uuid.UUID) error
	Query(context.Context, string, record.Query) ([]record.Sealed, error)
}

type Collection struct {
	Name    string
	Workers int

	b       Backend
	builder *index.Builder
	sealer  *seal.Sealer
}

func New(c schema.Collection, root keys.Root, s *seal.Sealer, b Backend) (*Collection, error) {
	builder, err := index.NewBuilder(c, root.For(c.Name))
	if err != nil {
		return nil, err
	}
	return &Collection{
		Name:    c.Name,
		Workers: 1,
		b:       b,
		builder: builder,
		sealer:  s,
	}, nil
}

// Opens the named collection from conf
func Open(ctx context.Context, conf config.Root, name string, b Backend) (*Collection, error) {
	c, err := conf.Collection(name)
	if err != nil {
		return nil, err
	}
	root, err := conf.RootKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading root key: %w", err)
	}
	s, err := seal.New(conf.Keys.Identity, conf.Keys.Recipients...)
	if err != nil {
		return nil, fmt.Errorf("loading sealer: %w", err)
	}
	coll, err := New(c, root, s, b)
	if err != nil {
		return nil, err
	}
	coll.Workers = conf.Workers
	return coll, nil
}

func (c *Collection) Builder() *index.Builder { return c.builder }

// Returns the number of records written.
// Nothing is written if any record fails to analyze.
func (c *Collection) Put(ctx context.Context, recs ...record.Record) (int, error) {
	var analyzed uint64
	ctx = wctx.WithCollection(ctx, c.Name)
	ctx = wctx.WithCounter(ctx, &analyzed)
	t0 := time.Now()
	entries, err := c.builder.AnalyzeAll(ctx, recs, c.Workers)
	if err != nil {
		return 0, err
	}
	sealed := make([]record.Sealed, len(recs))
	for i := range recs {
		fields, err := recs[i].Fields()
		if err != nil {
			return 0, err
		}
		payload, err := c.sealer.Seal(fields)
		if err != nil {
			return 0, fmt.Errorf("sealing %s: %w", recs[i].ID, err)
		}
		sealed[i] = record.Sealed{
			ID:      recs[i].ID,
			Payload: payload,
			Filters: entries[i].Bits,
		}
	}
	n, err := c.b.PutRecords(ctx, c.Name, sealed)
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "put",
		"n", n,
		"analyzed", wctx.Counter(ctx),
		"elapsed", time.Since(t0),
	)
	return n, nil
}

// When payload is false the result is index-only.
func (c *Collection) Get(ctx context.Context, id uuid.UUID, payload bool) (record.Record, error) {
	ctx = wctx.WithCollection(ctx, c.Name)
	s, err := c.b.GetRecord(ctx, c.Name, id, payload)
	if err != nil {
		return record.Record{}, err
	}
	return c.open(s)
}

func (c *Collection) Delete(ctx context.Context, id uuid.UUID) error {
	ctx = wctx.WithCollection(ctx, c.Name)
	return c.b.DeleteRecord(ctx, c.Name, id)
}

// Returns the records whose index filter contains every
// bit of the query built from text. Bloom filters admit
// false positives so callers that need exact matches
// must check the returned fields. Text that yields no
// terms fails with index.ErrNoTerms.
func (c *Collection) Match(ctx context.Context, ixName, text string, limit int) ([]record.Record, error) {
	mx, err := c.builder.Index(ixName)
	if err != nil {
		return nil, err
	}
	bits, err := mx.Query(text)
	if err != nil {
		return nil, err
	}
	return c.find(ctx, ixName, bits, limit)
}

// Like Match but for field-dynamic-match indexes
func (c *Collection) MatchField(ctx context.Context, ixName, field, text string, limit int) ([]record.Record, error) {
	mx, err := c.builder.Index(ixName)
	if err != nil {
		return nil, err
	}
	bits, err := mx.QueryField(field, text)
	if err != nil {
		return nil, err
	}
	return c.find(ctx, ixName, bits, limit)
}

func (c *Collection) find(ctx context.Context, ixName string, bits []uint16, limit int) ([]record.Record, error) {
	ctx = wctx.WithIndex(wctx.WithCollection(ctx, c.Name), ixName)
	found, err := c.b.Query(ctx, c.Name, record.Query{
		Index:   ixName,
		Bits:    bits,
		Limit:   limit,
		Payload: true,
	})
	if err != nil {
		return nil, err
	}
	res := make([]record.Record, 0, len(found))
	for _, s := range found {
		r, err := c.open(s)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	slog.DebugContext(ctx, "match", "bits", len(bits), "n", len(res))
	return res, nil
}

func (c *Collection) open(s record.Sealed) (record.Record, error) {
	if len(s.Payload) == 0 {
		return record.IndexOnly(s.ID), nil
	}
	fields, err := c.sealer.Open(s.Payload)
	if err != nil {
		return record.Record{}, fmt.Errorf("opening %s: %w", s.ID, err)
	}
	return record.WithID(s.ID, fields), nil
}
