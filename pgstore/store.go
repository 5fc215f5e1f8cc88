// Postgres backed record store
//
// Filters are stored as int4 arrays and candidate matching
// is pushed into the database as array containment
// (bits @> query) which is served by a gin index.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/indexsupply/encdex/pgmig"
	"github.com/indexsupply/encdex/record"
	"github.com/indexsupply/encdex/wpg"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	pg *pgxpool.Pool
}

func New(pg *pgxpool.Pool) *Store {
	return &Store{pg: pg}
}

// Connects to url and installs the schema
func Open(ctx context.Context, url string) (*Store, error) {
	pg, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to pg: %w", err)
	}
	if err := pgmig.Migrate(ctx, pg, Migrations); err != nil {
		pg.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return New(pg), nil
}

func (s *Store) Close() { s.pg.Close() }

func toInt4(bits []uint16) []int32 {
	res := make([]int32, len(bits))
	for i := range bits {
		res[i] = int32(bits[i])
	}
	return res
}

func fromInt4(a []int32) []uint16 {
	res := make([]uint16, len(a))
	for i := range a {
		res[i] = uint16(a[i])
	}
	return res
}

// Keeps the last record for each id, in first seen order.
func dedup(recs []record.Sealed) []record.Sealed {
	last := make(map[uuid.UUID]int, len(recs))
	for i, r := range recs {
		last[r.ID] = i
	}
	if len(last) == len(recs) {
		return recs
	}
	var (
		res  = make([]record.Sealed, 0, len(last))
		seen = make(map[uuid.UUID]struct{}, len(last))
	)
	for _, r := range recs {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		res = append(res, recs[last[r.ID]])
	}
	return res
}

// Writes recs in a single transaction. Existing records
// with the same id are replaced along with their filters.
// When recs repeats an id the last one wins.
// Returns the number of distinct records written.
// Writers to the same collection are serialized.
func (s *Store) PutRecords(ctx context.Context, coll string, recs []record.Sealed) (int, error) {
	t0 := time.Now()
	recs = dedup(recs)
	tx, err := s.pg.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("opening put tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := wpg.XactLock(ctx, tx, "encdex-put-"+coll); err != nil {
		return 0, err
	}
	var (
		ids  = make([]uuid.UUID, len(recs))
		rows [][]any
	)
	for i, r := range recs {
		ids[i] = r.ID
		const q = `
			insert into encdex.records (collection, id, payload)
			values ($1, $2, $3)
			on conflict (collection, id)
			do update set payload = excluded.payload
		`
		if _, err := tx.Exec(ctx, q, coll, r.ID, r.Payload); err != nil {
			return 0, fmt.Errorf("inserting %s: %w", r.ID, err)
		}
		for name, bits := range r.Filters {
			rows = append(rows, []any{coll, r.ID, name, toInt4(bits)})
		}
	}
	const dq = `
		delete from encdex.filters
		where collection = $1
		and id = any($2)
	`
	if _, err := tx.Exec(ctx, dq, coll, ids); err != nil {
		return 0, fmt.Errorf("deleting old filters: %w", err)
	}
	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"encdex", "filters"},
		[]string{"collection", "id", "index_name", "bits"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copying filters: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing put tx: %w", err)
	}
	slog.DebugContext(ctx, "pg-put",
		"n", len(recs),
		"filters", len(rows),
		"elapsed", time.Since(t0),
	)
	return len(recs), nil
}

func (s *Store) GetRecord(ctx context.Context, coll string, id uuid.UUID, payload bool) (record.Sealed, error) {
	res := record.Sealed{ID: id, Filters: map[string][]uint16{}}
	const q = `
		select case when $3 then payload end
		from encdex.records
		where collection = $1
		and id = $2
	`
	err := s.pg.QueryRow(ctx, q, coll, id, payload).Scan(&res.Payload)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return record.Sealed{}, fmt.Errorf("%s/%s: %w", coll, id, ErrNotFound)
	case err != nil:
		return record.Sealed{}, fmt.Errorf("querying record %s: %w", id, err)
	}
	const fq = `
		select index_name, bits
		from encdex.filters
		where collection = $1
		and id = $2
	`
	rows, _ := s.pg.Query(ctx, fq, coll, id)
	var (
		name string
		bits []int32
	)
	_, err = pgx.ForEachRow(rows, []any{&name, &bits}, func() error {
		res.Filters[name] = fromInt4(bits)
		return nil
	})
	if err != nil {
		return record.Sealed{}, fmt.Errorf("querying filters for %s: %w", id, err)
	}
	return res, nil
}

// Deleting a missing record is not an error.
func (s *Store) DeleteRecord(ctx context.Context, coll string, id uuid.UUID) error {
	const q = `delete from encdex.records where collection = $1 and id = $2`
	if _, err := s.pg.Exec(ctx, q, coll, id); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return nil
}

// Results are ordered by id. A zero Limit returns
// every candidate.
func (s *Store) Query(ctx context.Context, coll string, q record.Query) ([]record.Sealed, error) {
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	const sq = `
		select r.id, case when $4 then r.payload end, f.bits
		from encdex.filters f
		join encdex.records r using (collection, id)
		where f.collection = $1
		and f.index_name = $2
		and f.bits @> $3::int4[]
		order by r.id
		limit $5
	`
	rows, _ := s.pg.Query(ctx, sq, coll, q.Index, toInt4(q.Bits), q.Payload, limit)
	var (
		res     []record.Sealed
		id      uuid.UUID
		payload []byte
		bits    []int32
	)
	_, err := pgx.ForEachRow(rows, []any{&id, &payload, &bits}, func() error {
		res = append(res, record.Sealed{
			ID:      id,
			Payload: payload,
			Filters: map[string][]uint16{q.Index: fromInt4(bits)},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s/%s: %w", coll, q.Index, err)
	}
	return res, nil
}

type Stats struct {
	Records string
	Filters string
	Size    string
}

func (s *Store) Stats(ctx context.Context) Stats {
	return Stats{
		Records: wpg.RowEstimate(ctx, s.pg, "encdex.records"),
		Filters: wpg.RowEstimate(ctx, s.pg, "encdex.filters"),
		Size:    wpg.TableSize(ctx, s.pg, "encdex.filters"),
	}
}
