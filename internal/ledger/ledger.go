// internal/ledger/ledger.go

// Package ledger maintains per-officer workload counters. The authoritative
// count lives on the officer row in postgres; the row lock taken by the
// guarded UPDATE is the serialization point for assignments contending for
// the same officer. A redis mirror serves dashboard reads.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"civigo/internal/common/logger"

	stderrors "civigo/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

const mirrorTTL = 30 * time.Second

func mirrorKey(officerID int64) string {
	return fmt.Sprintf("workload:officer:%d", officerID)
}

// Execer is the subset of *sql.DB / *sql.Tx the ledger writes through, so
// increments can join the assignment engine's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Ledger struct {
	db     *sql.DB
	rdb    *redis.Client // optional mirror; nil disables caching
	logger logger.Logger
}

func New(db *sql.DB, rdb *redis.Client, log logger.Logger) *Ledger {
	return &Ledger{
		db:     db,
		rdb:    rdb,
		logger: log.WithFields(map[string]interface{}{"component": "workload-ledger"}),
	}
}

// Increment adds one assignment to the officer's workload.
func (l *Ledger) Increment(ctx context.Context, officerID int64) error {
	if err := l.IncrementTx(ctx, l.db, officerID); err != nil {
		return err
	}
	l.InvalidateMirror(ctx, officerID)
	return nil
}

// Decrement releases one assignment from the officer's workload.
func (l *Ledger) Decrement(ctx context.Context, officerID int64) error {
	if err := l.DecrementTx(ctx, l.db, officerID); err != nil {
		return err
	}
	l.InvalidateMirror(ctx, officerID)
	return nil
}

// IncrementTx increments inside a caller-owned transaction. The UPDATE locks
// the officer row until the transaction ends.
func (l *Ledger) IncrementTx(ctx context.Context, q Execer, officerID int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE officers SET workload_count = workload_count + 1 WHERE id = $1`,
		officerID,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("workload increment", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("workload increment", err)
	}
	if rows == 0 {
		return stderrors.NewOfficerNotFoundError(officerID)
	}
	return nil
}

// DecrementTx decrements inside a caller-owned transaction. The guard keeps
// workload_count from going negative; a guarded decrement that matches no
// row on an existing officer means a double release and is fatal.
func (l *Ledger) DecrementTx(ctx context.Context, q Execer, officerID int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE officers SET workload_count = workload_count - 1
		WHERE id = $1 AND workload_count > 0`,
		officerID,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("workload decrement", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("workload decrement", err)
	}
	if rows == 0 {
		var exists bool
		if err := q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM officers WHERE id = $1)`, officerID,
		).Scan(&exists); err != nil {
			return stderrors.NewQueryExecutionFailedError("workload decrement", err)
		}
		if !exists {
			return stderrors.NewOfficerNotFoundError(officerID)
		}
		l.logger.Error("workload underflow detected", map[string]interface{}{
			"officerId": officerID,
		})
		return stderrors.NewLedgerUnderflowError(officerID)
	}
	return nil
}

// CurrentLoad returns the officer's live workload, read through the mirror.
func (l *Ledger) CurrentLoad(ctx context.Context, officerID int64) (int, error) {
	if l.rdb != nil {
		if val, err := l.rdb.Get(ctx, mirrorKey(officerID)).Result(); err == nil {
			if n, convErr := strconv.Atoi(val); convErr == nil {
				return n, nil
			}
		}
	}

	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT workload_count FROM officers WHERE id = $1`, officerID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, stderrors.NewOfficerNotFoundError(officerID)
		}
		return 0, stderrors.NewQueryExecutionFailedError("workload read", err)
	}

	if l.rdb != nil {
		l.rdb.Set(ctx, mirrorKey(officerID), count, mirrorTTL)
	}
	return count, nil
}

// InvalidateMirror drops cached counts after a committed change. Best effort;
// the mirror TTL bounds staleness anyway.
func (l *Ledger) InvalidateMirror(ctx context.Context, officerIDs ...int64) {
	if l.rdb == nil {
		return
	}
	keys := make([]string, 0, len(officerIDs))
	for _, id := range officerIDs {
		keys = append(keys, mirrorKey(id))
	}
	if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
		l.logger.Warn("mirror invalidation failed", map[string]interface{}{
			"error": err,
		})
	}
}
