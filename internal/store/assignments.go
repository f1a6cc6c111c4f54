// internal/store/assignments.go

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"civigo/internal/common/logger"
	"civigo/internal/models"

	stderrors "civigo/internal/common/errors"
)

// AssignmentRecordStore writes the append-only assignment trail. Rows are
// inserted when an officer takes an application and closed when the
// assignment ends; nothing is ever updated beyond released_at.
type AssignmentRecordStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewAssignmentRecordStore(db *sql.DB, log logger.Logger) *AssignmentRecordStore {
	return &AssignmentRecordStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "assignment-store"}),
	}
}

// Execer matches *sql.DB and *sql.Tx so records can be written inside the
// assignment engine's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// InsertTx opens a new assignment record and returns its ID.
func (s *AssignmentRecordStore) InsertTx(ctx context.Context, q Execer, applicationID, officerID int64) (string, error) {
	id := uuid.New().String()
	_, err := q.ExecContext(ctx, `
		INSERT INTO assignment_records (id, application_id, officer_id, assigned_at)
		VALUES ($1, $2, $3, $4)`,
		id, applicationID, officerID, time.Now().UTC(),
	)
	if err != nil {
		return "", stderrors.NewQueryExecutionFailedError("assignment record insert", err)
	}
	return id, nil
}

// CloseOpenTx stamps released_at on the application's open record, if any.
func (s *AssignmentRecordStore) CloseOpenTx(ctx context.Context, q Execer, applicationID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE assignment_records SET released_at = $1
		WHERE application_id = $2 AND released_at IS NULL`,
		time.Now().UTC(), applicationID,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("assignment record close", err)
	}
	return nil
}

// History returns all assignment records for an application, oldest first.
func (s *AssignmentRecordStore) History(ctx context.Context, applicationID int64) ([]models.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, officer_id, assigned_at, released_at
		FROM assignment_records WHERE application_id = $1
		ORDER BY assigned_at`,
		applicationID,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("assignment history", err)
	}
	defer rows.Close()

	var records []models.AssignmentRecord
	for rows.Next() {
		var rec models.AssignmentRecord
		if err := rows.Scan(&rec.ID, &rec.ApplicationID, &rec.OfficerID, &rec.AssignedAt, &rec.ReleasedAt); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("assignment history", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PriorOfficerIDs returns every officer who has ever held the application,
// used to exclude repeat assignment on escalation.
func (s *AssignmentRecordStore) PriorOfficerIDs(ctx context.Context, applicationID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT officer_id FROM assignment_records
		WHERE application_id = $1`,
		applicationID,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("assignment history", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("assignment history", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
