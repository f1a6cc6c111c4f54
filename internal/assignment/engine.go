// internal/assignment/engine.go

// Package assignment selects officers for applications and applies the
// selection atomically. Every assignment runs in a single transaction that
// locks the chosen officer row, bumps the workload ledger, appends the
// assignment record, and moves the application status. Either all of it
// commits or none of it does.
package assignment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"civigo/internal/common/config"
	"civigo/internal/common/logger"
	"civigo/internal/common/metrics"
	"civigo/internal/ledger"
	"civigo/internal/lifecycle"
	"civigo/internal/models"
	"civigo/internal/store"

	stderrors "civigo/internal/common/errors"
)

// Assignment kinds recorded on metrics and audit events.
const (
	KindInitial      = "initial"
	KindFallback     = "fallback"
	KindEscalation   = "escalation"
	KindReassignment = "reassignment"
)

// Auditor records applied assignments. Best effort, never blocks a commit.
type Auditor interface {
	RecordAssignment(ctx context.Context, applicationID, officerID int64, kind string)
}

type Engine struct {
	db      *sql.DB
	machine *lifecycle.Machine
	ledger  *ledger.Ledger
	records *store.AssignmentRecordStore
	cfg     config.AssignmentConfig
	auditor Auditor // optional
	logger  logger.Logger
}

func NewEngine(
	db *sql.DB,
	machine *lifecycle.Machine,
	led *ledger.Ledger,
	records *store.AssignmentRecordStore,
	cfg config.AssignmentConfig,
	auditor Auditor,
	log logger.Logger,
) *Engine {
	return &Engine{
		db:      db,
		machine: machine,
		ledger:  led,
		records: records,
		cfg:     cfg,
		auditor: auditor,
		logger:  log.WithFields(map[string]interface{}{"component": "assignment-engine"}),
	}
}

// Assign performs the initial assignment of a classified application. The
// department follows from the service category; when that department has no
// eligible officer the GENERAL pool is tried before giving up.
func (e *Engine) Assign(ctx context.Context, app *models.Application) error {
	if app.Status != models.StatusClassified {
		return stderrors.NewValidationFailedError("application is not awaiting assignment")
	}
	department := models.DepartmentFor(app.ServiceCategory)
	minLevel := e.cfg.MinLevelFor(app.ServiceCategory)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	kind := KindInitial
	officer, err := e.selectOfficer(ctx, tx, department, minLevel, nil)
	if err != nil {
		if stderrors.CodeOf(err) == stderrors.ErrCodeNoEligibleOfficer && department != models.DepartmentGeneral {
			officer, err = e.selectOfficer(ctx, tx, models.DepartmentGeneral, minLevel, nil)
			kind = KindFallback
		}
		if err != nil {
			metrics.AssignmentsFailed.WithLabelValues(department).Inc()
			return err
		}
	}

	if err := e.applyAssignment(ctx, tx, app.ID, officer, models.StatusClassified, kind); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return stderrors.NewQueryExecutionFailedError("assignment commit", err)
	}
	e.finish(ctx, app.ID, officer, kind)
	return nil
}

// Escalate moves a rejected application to a more senior officer in the same
// department. Officers who already held the application are excluded and the
// GENERAL fallback does not apply. A fully exhausted hierarchy leaves the
// rejection standing.
func (e *Engine) Escalate(ctx context.Context, app *models.Application) error {
	if app.Status != models.StatusRejected {
		return stderrors.NewValidationFailedError("application is not rejected")
	}
	if !e.cfg.EscalateOnReject {
		return stderrors.NewValidationFailedError("escalation on rejection is disabled")
	}
	if app.AssignedOfficerID == nil {
		return stderrors.NewValidationFailedError("rejected application has no assigned officer")
	}
	prevOfficerID := *app.AssignedOfficerID

	var prevDept string
	var prevLevel int
	err := e.db.QueryRowContext(ctx,
		`SELECT department, hierarchy_level FROM officers WHERE id = $1`, prevOfficerID,
	).Scan(&prevDept, &prevLevel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stderrors.NewOfficerNotFoundError(prevOfficerID)
		}
		return stderrors.NewQueryExecutionFailedError("escalation lookup", err)
	}
	if prevLevel >= e.cfg.MaxHierarchyLevel {
		return stderrors.NewNoEligibleOfficerError(prevDept)
	}

	exclude, err := e.records.PriorOfficerIDs(ctx, app.ID)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	officer, err := e.selectOfficer(ctx, tx, prevDept, prevLevel+1, exclude)
	if err != nil {
		metrics.AssignmentsFailed.WithLabelValues(prevDept).Inc()
		return err
	}

	if err := e.releaseCurrent(ctx, tx, app.ID, prevOfficerID); err != nil {
		return err
	}
	if err := e.applyAssignment(ctx, tx, app.ID, officer, models.StatusRejected, KindEscalation); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE applications SET escalation_count = escalation_count + 1 WHERE id = $1`, app.ID,
	); err != nil {
		return stderrors.NewQueryExecutionFailedError("escalation count", err)
	}
	if err := tx.Commit(); err != nil {
		return stderrors.NewQueryExecutionFailedError("assignment commit", err)
	}
	e.ledger.InvalidateMirror(ctx, prevOfficerID)
	e.finish(ctx, app.ID, officer, KindEscalation)
	return nil
}

// ReassignFrom moves one application off a deactivated officer. When no
// replacement exists the application drops back to the assignment backlog
// instead of staying attached to an inactive officer.
func (e *Engine) ReassignFrom(ctx context.Context, applicationID, fromOfficerID int64) error {
	var category, status string
	err := e.db.QueryRowContext(ctx,
		`SELECT COALESCE(service_category, ''), status FROM applications WHERE id = $1`,
		applicationID,
	).Scan(&category, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stderrors.NewApplicationNotFoundError(applicationID)
		}
		return stderrors.NewQueryExecutionFailedError("reassignment lookup", err)
	}
	department := models.DepartmentFor(category)
	minLevel := e.cfg.MinLevelFor(category)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	if err := e.releaseCurrent(ctx, tx, applicationID, fromOfficerID); err != nil {
		return err
	}

	officer, selErr := e.selectOfficer(ctx, tx, department, minLevel, []int64{fromOfficerID})
	if selErr != nil {
		if stderrors.CodeOf(selErr) != stderrors.ErrCodeNoEligibleOfficer {
			return selErr
		}
		// No replacement. Park the application back in the assignment
		// backlog; the assign-officer worker picks it up once capacity
		// returns.
		if _, err := tx.ExecContext(ctx, `
			UPDATE applications
			SET status = $1, assigned_officer_id = NULL, updated_at = NOW()
			WHERE id = $2`,
			string(models.StatusClassified), applicationID,
		); err != nil {
			return stderrors.NewQueryExecutionFailedError("reassignment park", err)
		}
		if err := tx.Commit(); err != nil {
			return stderrors.NewQueryExecutionFailedError("assignment commit", err)
		}
		e.ledger.InvalidateMirror(ctx, fromOfficerID)
		e.logger.Warn("no replacement officer, application parked for assignment", map[string]interface{}{
			"applicationId": applicationID,
			"department":    department,
		})
		return nil
	}

	if err := e.ledger.IncrementTx(ctx, tx, officer.ID); err != nil {
		return err
	}
	if _, err := e.records.InsertTx(ctx, tx, applicationID, officer.ID); err != nil {
		return err
	}
	// The application keeps its current status; only the holder changes.
	if _, err := tx.ExecContext(ctx,
		`UPDATE applications SET assigned_officer_id = $1, updated_at = NOW() WHERE id = $2`,
		officer.ID, applicationID,
	); err != nil {
		return stderrors.NewQueryExecutionFailedError("reassignment", err)
	}
	if err := tx.Commit(); err != nil {
		return stderrors.NewQueryExecutionFailedError("assignment commit", err)
	}
	e.ledger.InvalidateMirror(ctx, fromOfficerID)
	e.finish(ctx, applicationID, officer, KindReassignment)
	return nil
}

// Release ends an assignment without a successor, used when a decision
// finalizes the application.
func (e *Engine) Release(ctx context.Context, applicationID, officerID int64) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	if err := e.releaseCurrent(ctx, tx, applicationID, officerID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return stderrors.NewQueryExecutionFailedError("release commit", err)
	}
	e.ledger.InvalidateMirror(ctx, officerID)
	return nil
}

// selectOfficer picks the least senior, least loaded eligible officer and
// locks the row for the rest of the transaction. Ties break on the lowest
// officer ID so selection is deterministic.
func (e *Engine) selectOfficer(ctx context.Context, tx *sql.Tx, department string, minLevel int, exclude []int64) (*models.Officer, error) {
	if exclude == nil {
		exclude = []int64{}
	}
	var o models.Officer
	err := tx.QueryRowContext(ctx, `
		SELECT id, name, department, hierarchy_level, workload_count, is_active
		FROM officers
		WHERE department = $1
		  AND is_active
		  AND hierarchy_level >= $2
		  AND NOT (id = ANY($3))
		ORDER BY hierarchy_level, workload_count, id
		LIMIT 1
		FOR UPDATE`,
		department, minLevel, pq.Array(exclude),
	).Scan(&o.ID, &o.Name, &o.Department, &o.HierarchyLevel, &o.WorkloadCount, &o.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, stderrors.NewNoEligibleOfficerError(department)
		}
		return nil, stderrors.NewQueryExecutionFailedError("officer selection", err)
	}
	return &o, nil
}

// applyAssignment bumps the ledger, appends the record, sets the holder and
// moves the application to ASSIGNED, all inside the caller's transaction.
func (e *Engine) applyAssignment(ctx context.Context, tx *sql.Tx, applicationID int64, officer *models.Officer, from models.Status, kind string) error {
	if err := e.ledger.IncrementTx(ctx, tx, officer.ID); err != nil {
		return err
	}
	if _, err := e.records.InsertTx(ctx, tx, applicationID, officer.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE applications SET assigned_officer_id = $1 WHERE id = $2`,
		officer.ID, applicationID,
	); err != nil {
		return stderrors.NewQueryExecutionFailedError("assignment", err)
	}
	return e.machine.TransitionTx(ctx, tx, applicationID, from, models.StatusAssigned)
}

// releaseCurrent closes the open assignment record and releases the holding
// officer's workload inside the caller's transaction.
func (e *Engine) releaseCurrent(ctx context.Context, tx *sql.Tx, applicationID, officerID int64) error {
	if err := e.records.CloseOpenTx(ctx, tx, applicationID); err != nil {
		return err
	}
	return e.ledger.DecrementTx(ctx, tx, officerID)
}

func (e *Engine) finish(ctx context.Context, applicationID int64, officer *models.Officer, kind string) {
	e.ledger.InvalidateMirror(ctx, officer.ID)
	metrics.AssignmentsTotal.WithLabelValues(officer.Department, kind).Inc()
	e.logger.Info("application assigned", map[string]interface{}{
		"applicationId": applicationID,
		"officerId":     officer.ID,
		"department":    officer.Department,
		"level":         officer.HierarchyLevel,
		"kind":          kind,
	})
	if e.auditor != nil {
		e.auditor.RecordAssignment(ctx, applicationID, officer.ID, kind)
	}
}
