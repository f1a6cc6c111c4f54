// internal/store/officers.go

package store

import (
	"context"
	"database/sql"
	"errors"

	"civigo/internal/common/logger"
	"civigo/internal/models"

	stderrors "civigo/internal/common/errors"
)

type OfficerStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewOfficerStore(db *sql.DB, log logger.Logger) *OfficerStore {
	return &OfficerStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "officer-store"}),
	}
}

func (s *OfficerStore) Create(ctx context.Context, officer models.Officer) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO officers (name, department, hierarchy_level, workload_count, is_active)
		VALUES ($1, $2, $3, 0, TRUE)
		RETURNING id`,
		officer.Name, officer.Department, officer.HierarchyLevel,
	).Scan(&id)
	if err != nil {
		return 0, stderrors.NewQueryExecutionFailedError("officer insert", err)
	}
	s.logger.Info("officer created", map[string]interface{}{
		"officerId":  id,
		"department": officer.Department,
		"level":      officer.HierarchyLevel,
	})
	return id, nil
}

func (s *OfficerStore) GetByID(ctx context.Context, id int64) (*models.Officer, error) {
	var o models.Officer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, department, hierarchy_level, workload_count, is_active
		FROM officers WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.Name, &o.Department, &o.HierarchyLevel, &o.WorkloadCount, &o.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, stderrors.NewOfficerNotFoundError(id)
		}
		return nil, stderrors.NewQueryExecutionFailedError("officer read", err)
	}
	return &o, nil
}

// Deactivate marks the officer inactive and returns the IDs of applications
// still assigned to them, for the caller to reassign.
func (s *OfficerStore) Deactivate(ctx context.Context, id int64) ([]int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE officers SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("officer deactivate", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("officer deactivate", err)
	}
	if rows == 0 {
		// Either missing or already inactive; distinguish for the caller.
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, stderrors.NewValidationFailedError("officer is already inactive")
	}

	appRows, err := s.db.QueryContext(ctx, `
		SELECT id FROM applications
		WHERE assigned_officer_id = $1 AND status IN ($2, $3)
		ORDER BY id`,
		id, string(models.StatusAssigned), string(models.StatusInReview),
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("officer deactivate", err)
	}
	defer appRows.Close()

	var appIDs []int64
	for appRows.Next() {
		var appID int64
		if err := appRows.Scan(&appID); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("officer deactivate", err)
		}
		appIDs = append(appIDs, appID)
	}
	return appIDs, appRows.Err()
}

// Queue lists the officer's current assignments oldest first. Applicant
// identity fields are deliberately absent from this query.
func (s *OfficerStore) Queue(ctx context.Context, officerID int64) ([]*models.Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE assigned_officer_id = $1 AND status IN ($2, $3)
		ORDER BY submitted_at`,
		officerID, string(models.StatusAssigned), string(models.StatusInReview),
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("officer queue", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("officer queue", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// WorkloadByDepartment powers the dashboard load breakdown.
func (s *OfficerStore) WorkloadByDepartment(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT department, COALESCE(SUM(workload_count), 0)
		FROM officers WHERE is_active GROUP BY department`)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("department workload", err)
	}
	defer rows.Close()

	loads := make(map[string]int)
	for rows.Next() {
		var dept string
		var n int
		if err := rows.Scan(&dept, &n); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("department workload", err)
		}
		loads[dept] = n
	}
	return loads, rows.Err()
}
