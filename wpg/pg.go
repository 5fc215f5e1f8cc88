package wpg

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"blake.io/pqx/pqxtest"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPG(tb testing.TB, schema string) *pgxpool.Pool {
	tb.Helper()
	db := pqxtest.CreateDB(tb, schema)

	var name string
	const q = "select current_database()"
	err := db.QueryRow(q).Scan(&name)
	if err != nil {
		tb.Fatal(err)
	}

	cfg, err := pgconn.ParseConfig(pqxtest.DSN())
	if err != nil {
		tb.Fatal(err)
	}

	pgurl := fmt.Sprintf("postgres://localhost:%d/%s", cfg.Port, name)
	pg, err := pgxpool.New(context.Background(), pgurl)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(pg.Close)
	return pg
}

// table may be schema qualified
func RowEstimate(ctx context.Context, pg Conn, table string) string {
	const q = `
		select trim(to_char(reltuples, '999,999,999,999'))
		from pg_class
		where oid = to_regclass($1)
	`
	var res string
	if err := pg.QueryRow(ctx, q, table).Scan(&res); err != nil {
		return err.Error()
	}
	switch {
	case res == "0":
		return "pending"
	case strings.HasPrefix(res, "-"):
		return "pending"
	default:
		return res
	}
}

func TableSize(ctx context.Context, pg Conn, table string) string {
	const q = `SELECT pg_size_pretty(pg_total_relation_size($1))`
	var res string
	if err := pg.QueryRow(ctx, q, table).Scan(&res); err != nil {
		return err.Error()
	}
	return res
}
