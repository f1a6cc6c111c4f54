// internal/lifecycle/machine.go

package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"civigo/internal/common/logger"
	"civigo/internal/common/metrics"
	"civigo/internal/models"

	stderrors "civigo/internal/common/errors"
)

// Execer is the subset of *sql.DB / *sql.Tx transitions are written through,
// so a transition can join a caller-owned transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Auditor records applied transitions for reporting. Implementations must
// be best effort; the machine never fails a transition over audit errors.
type Auditor interface {
	RecordTransition(ctx context.Context, applicationID int64, from, to models.Status)
}

type Machine struct {
	db      *sql.DB
	auditor Auditor // optional
	logger  logger.Logger
}

func NewMachine(db *sql.DB, auditor Auditor, log logger.Logger) *Machine {
	return &Machine{
		db:      db,
		auditor: auditor,
		logger:  log.WithFields(map[string]interface{}{"component": "lifecycle"}),
	}
}

// Transition moves the application from one status to another against the
// machine's own connection.
func (m *Machine) Transition(ctx context.Context, applicationID int64, from, to models.Status) error {
	return m.TransitionTx(ctx, m.db, applicationID, from, to)
}

// TransitionTx applies a compare-and-set status move inside a caller-owned
// transaction. The expected current status is part of the WHERE clause, so
// a concurrent writer that already moved the row makes this a no-op and the
// caller gets a stale-transition error instead of a silent double apply.
func (m *Machine) TransitionTx(ctx context.Context, q Execer, applicationID int64, from, to models.Status) error {
	if !CanTransition(from, to) {
		return stderrors.NewValidationFailedError("status " + string(from) + " cannot move to " + string(to))
	}

	res, err := q.ExecContext(ctx, `
		UPDATE applications SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), applicationID, string(from),
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("status transition", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("status transition", err)
	}
	if rows == 0 {
		return m.classifyMiss(ctx, q, applicationID, from, to)
	}

	metrics.TransitionsApplied.WithLabelValues(string(from), string(to)).Inc()
	m.logger.Info("status transition applied", map[string]interface{}{
		"applicationId": applicationID,
		"from":          string(from),
		"to":            string(to),
	})
	if m.auditor != nil {
		m.auditor.RecordTransition(ctx, applicationID, from, to)
	}
	return nil
}

// classifyMiss distinguishes a vanished application from a row that moved
// on under us.
func (m *Machine) classifyMiss(ctx context.Context, q Execer, applicationID int64, from, to models.Status) error {
	var current string
	err := q.QueryRowContext(ctx,
		`SELECT status FROM applications WHERE id = $1`, applicationID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stderrors.NewApplicationNotFoundError(applicationID)
		}
		return stderrors.NewQueryExecutionFailedError("status transition", err)
	}

	metrics.TransitionsStale.WithLabelValues(string(from), string(to)).Inc()
	m.logger.Warn("stale status transition dropped", map[string]interface{}{
		"applicationId": applicationID,
		"expected":      string(from),
		"actual":        current,
		"target":        string(to),
	})
	return stderrors.NewStaleStateTransitionError(applicationID, string(from), current)
}
