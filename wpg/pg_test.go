package wpg

import (
	"context"
	"database/sql"
	"testing"

	"blake.io/pqx/pqxtest"
	"github.com/jackc/pgx/v5/stdlib"
	"kr.dev/diff"
)

func TestMain(m *testing.M) {
	sql.Register("postgres", stdlib.GetDefaultDriver())
	pqxtest.TestMain(m)
}

func TestLockHash(t *testing.T) {
	a := LockHash("encdex-put-movies")
	diff.Test(t, t.Errorf, a, LockHash("encdex-put-movies"))
	diff.Test(t, t.Errorf, true, a != LockHash("encdex-put-books"))
	diff.Test(t, t.Errorf, true, a >= 0)
}

func TestXactLock(t *testing.T) {
	if testing.Short() {
		t.Skip("requires postgres")
	}
	ctx := context.Background()
	pg := TestPG(t, "")
	tx, err := pg.Begin(ctx)
	diff.Test(t, t.Fatalf, nil, err)
	defer tx.Rollback(ctx)
	diff.Test(t, t.Fatalf, nil, XactLock(ctx, tx, "encdex-put-movies"))

	var locked bool
	const q = `select pg_try_advisory_lock($1)`
	err = pg.QueryRow(ctx, q, LockHash("encdex-put-movies")).Scan(&locked)
	diff.Test(t, t.Fatalf, nil, err)
	diff.Test(t, t.Errorf, false, locked)
}

func TestStats(t *testing.T) {
	if testing.Short() {
		t.Skip("requires postgres")
	}
	ctx := context.Background()
	pg := TestPG(t, "create table x(id int)")
	diff.Test(t, t.Errorf, "pending", RowEstimate(ctx, pg, "public.x"))
	diff.Test(t, t.Errorf, "0 bytes", TableSize(ctx, pg, "public.x"))
}
