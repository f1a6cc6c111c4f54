// internal/workers/redaction-check/handler_test.go
package redactioncheck

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"civigo/internal/common/config"
	"civigo/internal/common/logger"
	"civigo/internal/gateway"
	"civigo/internal/lifecycle"
	"civigo/internal/models"
	"civigo/internal/store"

	stderrors "civigo/internal/common/errors"
)

type fakeRedaction struct {
	result *gateway.RedactionResult
	err    error
	calls  int
}

func (f *fakeRedaction) Check(ctx context.Context, applicationID int64, docs []models.Document) (*gateway.RedactionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

var appColumns = []string{
	"id", "status", "service_category", "submitted_at", "redaction_passed",
	"assigned_officer_id", "escalation_count", "attempt_count", "next_attempt_at",
	"pinned_reason", "updated_at",
}

func pendingRow(id int64, attempts int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(appColumns).
		AddRow(id, string(models.StatusRedactionPending), "", now, nil, nil, 0, attempts, nil, "", now)
}

func newTestHandler(t *testing.T, gw gateway.Redaction, maxRetries int) (*Handler, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewNoOpLogger()
	handler := NewHandler(
		store.NewApplicationStore(db, log),
		lifecycle.NewMachine(db, nil, log),
		gw,
		config.WorkerConfig{Enabled: true, PollInterval: 100, BatchSize: 10, MaxRetries: maxRetries},
		nil,
		log,
	)
	return handler, mock
}

func expectClaim(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(`FROM applications`).
		WithArgs(string(models.StatusRedactionPending), 10).
		WillReturnRows(rows)
}

func expectDocuments(mock sqlmock.Sqlmock, appID int64) {
	mock.ExpectQuery(`FROM documents`).
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "blob_ref", "uploaded_at"}).
			AddRow("doc-1", appID, "blobs/doc-1.pdf", time.Now().UTC()))
}

func TestProcessBatch_CleanDocumentsAdvance(t *testing.T) {
	gw := &fakeRedaction{result: &gateway.RedactionResult{Passed: true}}
	handler, mock := newTestHandler(t, gw, 3)

	expectClaim(mock, pendingRow(1, 0))
	expectDocuments(mock, 1)
	mock.ExpectExec(`SET redaction_passed`).
		WithArgs(true, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusRedactionCleared), sqlmock.AnyArg(), int64(1), string(models.StatusRedactionPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET attempt_count = 0`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := handler.ProcessBatch(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, gw.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_FlaggedDocumentsFail(t *testing.T) {
	gw := &fakeRedaction{result: &gateway.RedactionResult{
		Passed: false,
		Flags:  []models.RedactionFlag{{Kind: "aadhaar", DocumentID: "doc-1"}},
	}}
	handler, mock := newTestHandler(t, gw, 3)

	expectClaim(mock, pendingRow(2, 0))
	expectDocuments(mock, 2)
	mock.ExpectExec(`SET redaction_passed`).
		WithArgs(false, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusRedactionFailed), sqlmock.AnyArg(), int64(2), string(models.StatusRedactionPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET attempt_count = 0`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := handler.ProcessBatch(context.Background())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_GatewayOutageSchedulesRetry(t *testing.T) {
	gw := &fakeRedaction{err: stderrors.NewDependencyUnavailableError("redaction", assert.AnError)}
	handler, mock := newTestHandler(t, gw, 3)

	expectClaim(mock, pendingRow(3, 0))
	expectDocuments(mock, 3)
	mock.ExpectExec(`SET attempt_count = attempt_count \+ 1`).
		WithArgs(sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := handler.ProcessBatch(context.Background())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_ExhaustedRetriesPin(t *testing.T) {
	gw := &fakeRedaction{err: stderrors.NewDependencyUnavailableError("redaction", assert.AnError)}
	handler, mock := newTestHandler(t, gw, 3)

	expectClaim(mock, pendingRow(4, 2))
	expectDocuments(mock, 4)
	mock.ExpectExec(`SET pinned_reason`).
		WithArgs(sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := handler.ProcessBatch(context.Background())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_LostResultRaceSkipsRow(t *testing.T) {
	gw := &fakeRedaction{result: &gateway.RedactionResult{Passed: true}}
	handler, mock := newTestHandler(t, gw, 3)

	expectClaim(mock, pendingRow(5, 0))
	expectDocuments(mock, 5)
	mock.ExpectExec(`SET redaction_passed`).
		WithArgs(true, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Another writer moved the row while the gateway call was in flight.
	mock.ExpectExec(`UPDATE applications SET status`).
		WithArgs(string(models.StatusRedactionCleared), sqlmock.AnyArg(), int64(5), string(models.StatusRedactionPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM applications`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusRedactionCleared)))

	err := handler.ProcessBatch(context.Background())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
