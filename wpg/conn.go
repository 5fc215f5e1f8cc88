// Postgres helpers shared by pgmig and pgstore
package wpg

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type Conn interface {
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

var (
	lockCollisions    = map[int64]string{}
	lockCollisionsMut sync.Mutex
)

// Uses fnva to compute a hash
// This is an expensive function since it uses a global map
// and a mutex to check if there was a hash collision.
func LockHash(s string) int64 {
	f := fnv.New32a()
	if _, err := f.Write([]byte(s)); err != nil {
		panic(err)
	}
	n := int64(f.Sum32())

	lockCollisionsMut.Lock()
	defer lockCollisionsMut.Unlock()
	if prev, ok := lockCollisions[n]; ok {
		if prev != s {
			panic(fmt.Sprintf("fnva collision: %s %s %d", s, prev, n))
		}
	} else {
		lockCollisions[n] = s
	}
	return n
}

// Blocks until the transaction holds the advisory lock
// for name. The lock is released when tx ends.
func XactLock(ctx context.Context, tx Conn, name string) error {
	const q = `select pg_advisory_xact_lock($1)`
	if _, err := tx.Exec(ctx, q, LockHash(name)); err != nil {
		return fmt.Errorf("locking %s: %w", name, err)
	}
	return nil
}
