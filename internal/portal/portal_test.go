// internal/portal/portal_test.go

package portal

import (
	"context"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"civigo/internal/assignment"
	"civigo/internal/common/config"
	"civigo/internal/common/errors"
	"civigo/internal/common/logger"
	"civigo/internal/ledger"
	"civigo/internal/lifecycle"
	"civigo/internal/models"
	"civigo/internal/store"
	"civigo/internal/token"
)

func newTestPortal(t *testing.T, withRedis bool) (*Portal, sqlmock.Sqlmock, *miniredis.Miniredis) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var rdb *redis.Client
	var mr *miniredis.Miniredis
	if withRedis {
		mr = miniredis.RunT(t)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
	}

	log := logger.NewNoOpLogger()
	cfg := config.AssignmentConfig{
		EscalateOnReject:  true,
		MaxHierarchyLevel: 4,
	}
	machine := lifecycle.NewMachine(db, nil, log)
	led := ledger.New(db, nil, log)
	records := store.NewAssignmentRecordStore(db, log)
	engine := assignment.NewEngine(db, machine, led, records, cfg, nil, log)

	p := New(
		token.NewCodec(db, log),
		store.NewApplicationStore(db, log),
		store.NewOfficerStore(db, log),
		records,
		machine,
		engine,
		led,
		store.NewNotificationStore(db, log),
		cfg,
		rdb,
		log,
	)
	return p, mock, mr
}

func submitPayloadFixture() map[string]interface{} {
	return map[string]interface{}{
		"applicant": map[string]interface{}{
			"name":    "Asha Verma",
			"age":     34,
			"address": "14 MG Road, Pune",
			"email":   "asha@example.com",
			"phone":   "+919800000000",
		},
		"documents": []interface{}{
			map[string]interface{}{"id": "doc-1", "blobRef": "blobs/doc-1.pdf"},
		},
	}
}

// ==========================
// Submission
// ==========================

func TestSubmit_ReturnsOpaqueToken(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO applications`).
		WithArgs(string(models.StatusSubmitted), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec(`INSERT INTO applicants`).
		WithArgs(int64(11), "Asha Verma", 34, "14 MG Road, Pune", "asha@example.com", "+919800000000").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("doc-1", int64(11), "blobs/doc-1.pdf", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO application_tokens`).
		WithArgs(sqlmock.AnyArg(), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The submission enters the redaction stage before the token is returned.
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusRedactionPending), sqlmock.AnyArg(), int64(11), string(models.StatusSubmitted)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tok, err := p.Submit(context.Background(), submitPayloadFixture())

	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "app_"))
	assert.NotContains(t, tok, "11", "token must not embed the internal id")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_InvalidPayloadNeverTouchesStorage(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	payload := submitPayloadFixture()
	payload["documents"] = []interface{}{}

	_, err := p.Submit(context.Background(), payload)

	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Status lookup
// ==========================

func TestStatus_ResolvesTokenToView(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)
	tok := "app_" + strings.Repeat("A", 43)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM application_tokens`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"application_id"}).AddRow(11))
	mock.ExpectQuery(`FROM applications`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "service_category", "submitted_at", "redaction_passed",
			"assigned_officer_id", "escalation_count", "attempt_count", "next_attempt_at",
			"pinned_reason", "updated_at",
		}).AddRow(11, string(models.StatusInReview), models.CategoryLandRecord, now, true, int64(5), 0, 0, nil, "", now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM documents`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	view, err := p.Status(context.Background(), tok)

	assert.NoError(t, err)
	assert.Equal(t, models.StatusInReview, view.Status)
	assert.Equal(t, models.CategoryLandRecord, view.ServiceCategory)
	assert.Equal(t, 3, view.DocumentCount)
	assert.False(t, view.NeedsAttention)
}

func TestStatus_MalformedTokenShortCircuits(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	_, err := p.Status(context.Background(), "tok_not-a-token")

	assert.Equal(t, errors.ErrCodeTokenMalformed, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatus_SecondReadServedFromCache(t *testing.T) {
	p, mock, mr := newTestPortal(t, true)
	tok := "app_" + strings.Repeat("B", 43)

	now := time.Now().UTC()
	// Token resolution happens on every call; the application row is read once.
	mock.ExpectQuery(`FROM application_tokens`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"application_id"}).AddRow(12))
	mock.ExpectQuery(`FROM applications`).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "service_category", "submitted_at", "redaction_passed",
			"assigned_officer_id", "escalation_count", "attempt_count", "next_attempt_at",
			"pinned_reason", "updated_at",
		}).AddRow(12, string(models.StatusSubmitted), "", now, nil, nil, 0, 0, nil, "", now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM documents`).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM application_tokens`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"application_id"}).AddRow(12))

	first, err := p.Status(context.Background(), tok)
	assert.NoError(t, err)

	second, err := p.Status(context.Background(), tok)
	assert.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, mr.Exists("status:application:12"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Officer actions
// ==========================

func expectAppRead(mock sqlmock.Sqlmock, id int64, status models.Status, officerID int64) {
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM applications WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "service_category", "submitted_at", "redaction_passed",
			"assigned_officer_id", "escalation_count", "attempt_count", "next_attempt_at",
			"pinned_reason", "updated_at",
		}).AddRow(id, string(status), models.CategoryLandRecord, now, true, officerID, 0, 0, nil, "", now))
}

func TestOfficerAction_StartReview(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	expectAppRead(mock, 20, models.StatusAssigned, 5)
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusInReview), sqlmock.AnyArg(), int64(20), string(models.StatusAssigned)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.OfficerAction(context.Background(), 5, 20, ActionStartReview)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfficerAction_WrongOfficerRejected(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	expectAppRead(mock, 21, models.StatusAssigned, 5)

	err := p.OfficerAction(context.Background(), 9, 21, ActionStartReview)

	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfficerAction_ApproveFinalizesAndNotifies(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	expectAppRead(mock, 22, models.StatusInReview, 5)
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusApproved), sqlmock.AnyArg(), int64(22), string(models.StatusInReview)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Release the officer's workload.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE assignment_records SET released_at`).
		WithArgs(sqlmock.AnyArg(), int64(22)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`workload_count = workload_count - 1`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// Applicant lookup and outbox writes.
	mock.ExpectQuery(`FROM applicants`).
		WithArgs(int64(22)).
		WillReturnRows(sqlmock.NewRows([]string{"application_id", "name", "age", "address", "email", "phone"}).
			AddRow(22, "Asha Verma", 34, "14 MG Road, Pune", "asha@example.com", "+919800000000"))
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(sqlmock.AnyArg(), int64(22), models.NotificationEventDecided, models.NotificationChannelEmail,
			"asha@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), models.NotificationStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(sqlmock.AnyArg(), int64(22), models.NotificationEventDecided, models.NotificationChannelSMS,
			"+919800000000", sqlmock.AnyArg(), sqlmock.AnyArg(), models.NotificationStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.OfficerAction(context.Background(), 5, 22, ActionApprove)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfficerAction_ApproveAsFirstActionOpensReview(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	// The officer's first touch is the verdict itself; the review is opened
	// on the way through.
	expectAppRead(mock, 24, models.StatusAssigned, 5)
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusInReview), sqlmock.AnyArg(), int64(24), string(models.StatusAssigned)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusApproved), sqlmock.AnyArg(), int64(24), string(models.StatusInReview)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE assignment_records SET released_at`).
		WithArgs(sqlmock.AnyArg(), int64(24)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`workload_count = workload_count - 1`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM applicants`).
		WithArgs(int64(24)).
		WillReturnRows(sqlmock.NewRows([]string{"application_id", "name", "age", "address", "email", "phone"}).
			AddRow(24, "Asha Verma", 34, "14 MG Road, Pune", "asha@example.com", ""))
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(sqlmock.AnyArg(), int64(24), models.NotificationEventDecided, models.NotificationChannelEmail,
			"asha@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), models.NotificationStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.OfficerAction(context.Background(), 5, 24, ActionApprove)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfficerAction_RejectEscalates(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	expectAppRead(mock, 23, models.StatusInReview, 5)
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusRejected), sqlmock.AnyArg(), int64(23), string(models.StatusInReview)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Escalation path inside the engine.
	mock.ExpectQuery(`SELECT department, hierarchy_level FROM officers`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"department", "hierarchy_level"}).
			AddRow(models.DepartmentRevenue, 1))
	mock.ExpectQuery(`SELECT DISTINCT officer_id FROM assignment_records`).
		WithArgs(int64(23)).
		WillReturnRows(sqlmock.NewRows([]string{"officer_id"}).AddRow(5))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM officers`).
		WithArgs(models.DepartmentRevenue, 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "department", "hierarchy_level", "workload_count", "is_active",
		}).AddRow(8, "Senior Officer", models.DepartmentRevenue, 2, 0, true))
	mock.ExpectExec(`UPDATE assignment_records SET released_at`).
		WithArgs(sqlmock.AnyArg(), int64(23)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`workload_count = workload_count - 1`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`workload_count = workload_count \+ 1`).
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO assignment_records`).
		WithArgs(sqlmock.AnyArg(), int64(23), int64(8), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET assigned_officer_id`).
		WithArgs(int64(8), int64(23)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusAssigned), sqlmock.AnyArg(), int64(23), string(models.StatusRejected)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`escalation_count = escalation_count \+ 1`).
		WithArgs(int64(23)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := p.OfficerAction(context.Background(), 5, 23, ActionReject)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Officer administration
// ==========================

func TestCreateOfficer_ValidatesDepartmentAndLevel(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	_, err := p.CreateOfficer(context.Background(), models.Officer{
		Name: "X", Department: "SPACE", HierarchyLevel: 1,
	})
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))

	_, err = p.CreateOfficer(context.Background(), models.Officer{
		Name: "X", Department: models.DepartmentRevenue, HierarchyLevel: 9,
	})
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOfficer_Persists(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	mock.ExpectQuery(`INSERT INTO officers`).
		WithArgs("Ravi Kumar", models.DepartmentPolice, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(31))

	id, err := p.CreateOfficer(context.Background(), models.Officer{
		Name: "Ravi Kumar", Department: models.DepartmentPolice, HierarchyLevel: 2,
	})

	assert.NoError(t, err)
	assert.EqualValues(t, 31, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateOfficer_ReassignsOpenApplications(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	mock.ExpectExec(`UPDATE officers SET is_active = FALSE`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM applications`).
		WithArgs(int64(5), string(models.StatusAssigned), string(models.StatusInReview)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(300).AddRow(301))

	for _, appID := range []int64{300, 301} {
		mock.ExpectQuery(`SELECT COALESCE\(service_category, ''\), status FROM applications`).
			WithArgs(appID).
			WillReturnRows(sqlmock.NewRows([]string{"service_category", "status"}).
				AddRow(models.CategoryRationCard, string(models.StatusAssigned)))
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE assignment_records SET released_at`).
			WithArgs(sqlmock.AnyArg(), appID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`workload_count = workload_count - 1`).
			WithArgs(int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`FROM officers`).
			WithArgs(models.DepartmentCivilSupplies, 1, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "department", "hierarchy_level", "workload_count", "is_active",
			}).AddRow(7, "Officer", models.DepartmentCivilSupplies, 1, 0, true))
		mock.ExpectExec(`UPDATE officers SET workload_count = workload_count \+ 1`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO assignment_records`).
			WithArgs(sqlmock.AnyArg(), appID, int64(7), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE applications SET assigned_officer_id`).
			WithArgs(int64(7), appID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	err := p.DeactivateOfficer(context.Background(), 5)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideRedaction_ReopensPipeline(t *testing.T) {
	p, mock, _ := newTestPortal(t, false)

	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusRedactionPending), sqlmock.AnyArg(), int64(40), string(models.StatusRedactionFailed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET attempt_count = 0`).
		WithArgs(int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.OverrideRedaction(context.Background(), 40)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
