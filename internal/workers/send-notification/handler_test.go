// internal/workers/send-notification/handler_test.go
package sendnotification

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"

	"civigo/internal/common/config"
	"civigo/internal/common/logger"
	"civigo/internal/models"
	"civigo/internal/store"
)

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{}, nil
}

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{}, nil
}

func notificationConfig() config.NotificationConfig {
	var ncfg config.NotificationConfig
	ncfg.Email.Enabled = true
	ncfg.Email.FromEmail = "portal@example.gov"
	ncfg.SMS.Enabled = true
	ncfg.AWS.Region = "ap-south-1"
	return ncfg
}

func newTestHandler(t *testing.T, sesClient SESService, snsClient SNSService) (*Handler, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewNoOpLogger()
	handler := NewHandlerWithClients(
		store.NewNotificationStore(db, log),
		sesClient,
		snsClient,
		config.WorkerConfig{Enabled: true, PollInterval: 2000, BatchSize: 10, MaxRetries: 3},
		notificationConfig(),
		log,
	)
	return handler, mock
}

var notificationColumns = []string{
	"id", "application_id", "event", "channel", "recipient", "subject", "body",
	"status", "attempts", "created_at", "sent_at",
}

func pendingRow(id, channel, recipient string, attempts int) *sqlmock.Rows {
	return sqlmock.NewRows(notificationColumns).
		AddRow(id, 1, models.NotificationEventDecided, channel, recipient,
			"Application update", "Your application has been approved.",
			models.NotificationStatusPending, attempts, time.Now().UTC(), nil)
}

func TestProcessBatch_DeliversEmail(t *testing.T) {
	sesClient := &fakeSES{}
	handler, mock := newTestHandler(t, sesClient, &fakeSNS{})

	mock.ExpectQuery(`FROM notifications`).
		WithArgs(models.NotificationStatusPending, 10).
		WillReturnRows(pendingRow("n-1", models.NotificationChannelEmail, "asha@example.com", 0))
	mock.ExpectExec(`UPDATE notifications SET status`).
		WithArgs(models.NotificationStatusSent, sqlmock.AnyArg(), "n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := handler.ProcessBatch(context.Background())

	assert.NoError(t, err)
	assert.Len(t, sesClient.inputs, 1)
	assert.Equal(t, "portal@example.gov", *sesClient.inputs[0].Source)
	assert.Equal(t, []string{"asha@example.com"}, sesClient.inputs[0].Destination.ToAddresses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_DeliversSMS(t *testing.T) {
	snsClient := &fakeSNS{}
	handler, mock := newTestHandler(t, &fakeSES{}, snsClient)

	mock.ExpectQuery(`FROM notifications`).
		WithArgs(models.NotificationStatusPending, 10).
		WillReturnRows(pendingRow("n-2", models.NotificationChannelSMS, "+919800000000", 0))
	mock.ExpectExec(`UPDATE notifications SET status`).
		WithArgs(models.NotificationStatusSent, sqlmock.AnyArg(), "n-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := handler.ProcessBatch(context.Background())

	assert.NoError(t, err)
	assert.Len(t, snsClient.inputs, 1)
	assert.Equal(t, "+919800000000", *snsClient.inputs[0].PhoneNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_FailureBumpsAttempts(t *testing.T) {
	sesClient := &fakeSES{err: assert.AnError}
	handler, mock := newTestHandler(t, sesClient, &fakeSNS{})

	mock.ExpectQuery(`FROM notifications`).
		WithArgs(models.NotificationStatusPending, 10).
		WillReturnRows(pendingRow("n-3", models.NotificationChannelEmail, "asha@example.com", 1))
	mock.ExpectExec(`SET attempts = attempts \+ 1`).
		WithArgs(3, models.NotificationStatusFailed, models.NotificationStatusPending, "n-3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := handler.ProcessBatch(context.Background())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_DisabledChannelDropsQuietly(t *testing.T) {
	sesClient := &fakeSES{}
	handler, mock := newTestHandler(t, sesClient, &fakeSNS{})
	handler.ncfg.Email.Enabled = false

	mock.ExpectQuery(`FROM notifications`).
		WithArgs(models.NotificationStatusPending, 10).
		WillReturnRows(pendingRow("n-4", models.NotificationChannelEmail, "asha@example.com", 0))
	mock.ExpectExec(`UPDATE notifications SET status`).
		WithArgs(models.NotificationStatusSent, sqlmock.AnyArg(), "n-4").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := handler.ProcessBatch(context.Background())

	assert.NoError(t, err)
	assert.Empty(t, sesClient.inputs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
