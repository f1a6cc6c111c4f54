// internal/store/applications.go

// Package store holds the postgres persistence layer. All queries are
// plain database/sql with lib/pq; stores stay thin and leave business
// rules to the lifecycle and assignment packages.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"civigo/internal/common/logger"
	"civigo/internal/models"

	stderrors "civigo/internal/common/errors"
)

const applicationColumns = `
	id, status, COALESCE(service_category, ''), submitted_at, redaction_passed,
	assigned_officer_id, escalation_count, attempt_count, next_attempt_at,
	COALESCE(pinned_reason, ''), updated_at`

type ApplicationStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewApplicationStore(db *sql.DB, log logger.Logger) *ApplicationStore {
	return &ApplicationStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "application-store"}),
	}
}

func scanApplication(row interface {
	Scan(dest ...interface{}) error
}) (*models.Application, error) {
	var app models.Application
	err := row.Scan(
		&app.ID, &app.Status, &app.ServiceCategory, &app.SubmittedAt,
		&app.RedactionPassed, &app.AssignedOfficerID, &app.EscalationCount,
		&app.AttemptCount, &app.NextAttemptAt, &app.PinnedReason, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// Create inserts the application together with its applicant identity and
// document references in one transaction, and returns the new internal ID.
func (s *ApplicationStore) Create(ctx context.Context, applicant models.Applicant, docs []models.Document) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, stderrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO applications (status, submitted_at, escalation_count, attempt_count, updated_at)
		VALUES ($1, $2, 0, 0, $3)
		RETURNING id`,
		string(models.StatusSubmitted), now, now,
	).Scan(&id)
	if err != nil {
		return 0, stderrors.NewQueryExecutionFailedError("application insert", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO applicants (application_id, name, age, address, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, applicant.Name, applicant.Age, applicant.Address, applicant.Email, applicant.Phone,
	)
	if err != nil {
		return 0, stderrors.NewQueryExecutionFailedError("applicant insert", err)
	}

	for _, doc := range docs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (id, application_id, blob_ref, uploaded_at)
			VALUES ($1, $2, $3, $4)`,
			doc.ID, id, doc.BlobRef, now,
		)
		if err != nil {
			return 0, stderrors.NewQueryExecutionFailedError("document insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, stderrors.NewQueryExecutionFailedError("application insert", err)
	}

	s.logger.Info("application created", map[string]interface{}{
		"applicationId": id,
		"documents":     len(docs),
	})
	return id, nil
}

func (s *ApplicationStore) GetByID(ctx context.Context, id int64) (*models.Application, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, stderrors.NewApplicationNotFoundError(id)
		}
		return nil, stderrors.NewQueryExecutionFailedError("application read", err)
	}
	return app, nil
}

// ClaimBatch returns up to limit applications sitting in the given status
// that are due for processing. Pinned rows and rows waiting out a retry
// backoff are skipped. The read is not a lock; workers claim each row with
// a compare-and-set status transition, so races between concurrent pollers
// resolve to one winner.
func (s *ApplicationStore) ClaimBatch(ctx context.Context, status models.Status, limit int) ([]*models.Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE status = $1
		  AND COALESCE(pinned_reason, '') = ''
		  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		ORDER BY submitted_at
		LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("claim batch", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("claim batch", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("claim batch", err)
	}
	return apps, nil
}

// SetRedactionResult records the gateway verdict alongside the status move
// the caller performs separately.
func (s *ApplicationStore) SetRedactionResult(ctx context.Context, id int64, passed bool) error {
	return s.exec(ctx, "redaction result", id,
		`UPDATE applications SET redaction_passed = $1, updated_at = NOW() WHERE id = $2`,
		passed, id)
}

func (s *ApplicationStore) SetServiceCategory(ctx context.Context, id int64, category string) error {
	return s.exec(ctx, "service category", id,
		`UPDATE applications SET service_category = $1, updated_at = NOW() WHERE id = $2`,
		category, id)
}

// ScheduleRetry bumps the attempt counter and parks the application until
// nextAttempt. The status is left unchanged so the same worker picks it
// back up.
func (s *ApplicationStore) ScheduleRetry(ctx context.Context, id int64, nextAttempt time.Time) error {
	return s.exec(ctx, "retry schedule", id,
		`UPDATE applications SET attempt_count = attempt_count + 1, next_attempt_at = $1, updated_at = NOW()
		 WHERE id = $2`,
		nextAttempt, id)
}

// ResetAttempts clears retry bookkeeping after a stage completes.
func (s *ApplicationStore) ResetAttempts(ctx context.Context, id int64) error {
	return s.exec(ctx, "attempt reset", id,
		`UPDATE applications SET attempt_count = 0, next_attempt_at = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id)
}

// Pin halts automated processing for the application until an operator
// clears it.
func (s *ApplicationStore) Pin(ctx context.Context, id int64, reason string) error {
	return s.exec(ctx, "pin", id,
		`UPDATE applications SET pinned_reason = $1, updated_at = NOW() WHERE id = $2`,
		reason, id)
}

func (s *ApplicationStore) Unpin(ctx context.Context, id int64) error {
	return s.exec(ctx, "unpin", id,
		`UPDATE applications SET pinned_reason = NULL, attempt_count = 0, next_attempt_at = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id)
}

// Documents returns the document references attached to an application.
func (s *ApplicationStore) Documents(ctx context.Context, id int64) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, blob_ref, uploaded_at FROM documents
		WHERE application_id = $1 ORDER BY uploaded_at`,
		id,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("document read", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.ApplicationID, &doc.BlobRef, &doc.UploadedAt); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("document read", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DocumentCount returns how many documents are attached to an application.
func (s *ApplicationStore) DocumentCount(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE application_id = $1`, id,
	).Scan(&n)
	if err != nil {
		return 0, stderrors.NewQueryExecutionFailedError("document count", err)
	}
	return n, nil
}

// Applicant returns the identity record for notification delivery. Officer
// facing paths must not call this.
func (s *ApplicationStore) Applicant(ctx context.Context, id int64) (*models.Applicant, error) {
	var a models.Applicant
	err := s.db.QueryRowContext(ctx, `
		SELECT application_id, name, age, address, COALESCE(email, ''), COALESCE(phone, '')
		FROM applicants WHERE application_id = $1`,
		id,
	).Scan(&a.ApplicationID, &a.Name, &a.Age, &a.Address, &a.Email, &a.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, stderrors.NewApplicationNotFoundError(id)
		}
		return nil, stderrors.NewQueryExecutionFailedError("applicant read", err)
	}
	return &a, nil
}

// CountByStatus powers the dashboard status breakdown.
func (s *ApplicationStore) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("status counts", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("status counts", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *ApplicationStore) exec(ctx context.Context, operation string, id int64, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError(operation, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return stderrors.NewQueryExecutionFailedError(operation, err)
	}
	if rows == 0 {
		return stderrors.NewApplicationNotFoundError(id)
	}
	return nil
}
