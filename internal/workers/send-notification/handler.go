// internal/workers/send-notification/handler.go
package sendnotification

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"civigo/internal/common/config"
	"civigo/internal/common/logger"
	"civigo/internal/models"
	"civigo/internal/store"
)

const WorkerName = "send-notification"

// Interfaces over the AWS clients for mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Handler drains the notification outbox. Delivery failures bump the row's
// attempt counter; rows that exhaust the budget are parked as failed and
// never block the rest of the queue.
type Handler struct {
	outbox    *store.NotificationStore
	sesClient SESService
	snsClient SNSService
	cfg       config.WorkerConfig
	ncfg      config.NotificationConfig
	logger    logger.Logger
}

func NewHandler(
	outbox *store.NotificationStore,
	cfg config.WorkerConfig,
	ncfg config.NotificationConfig,
	log logger.Logger,
) (*Handler, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(ncfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Handler{
		outbox:    outbox,
		sesClient: ses.NewFromConfig(awsCfg),
		snsClient: sns.NewFromConfig(awsCfg),
		cfg:       cfg,
		ncfg:      ncfg,
		logger:    log.WithFields(map[string]interface{}{"worker": WorkerName}),
	}, nil
}

// NewHandlerWithClients wires explicit clients, used by tests.
func NewHandlerWithClients(
	outbox *store.NotificationStore,
	sesClient SESService,
	snsClient SNSService,
	cfg config.WorkerConfig,
	ncfg config.NotificationConfig,
	log logger.Logger,
) *Handler {
	return &Handler{
		outbox:    outbox,
		sesClient: sesClient,
		snsClient: snsClient,
		cfg:       cfg,
		ncfg:      ncfg,
		logger:    log.WithFields(map[string]interface{}{"worker": WorkerName}),
	}
}

func (h *Handler) Name() string { return WorkerName }

func (h *Handler) ProcessBatch(ctx context.Context) error {
	pending, err := h.outbox.ClaimPending(ctx, h.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, n := range pending {
		h.deliver(ctx, n)
	}
	return nil
}

func (h *Handler) deliver(ctx context.Context, n models.Notification) {
	var err error
	switch n.Channel {
	case models.NotificationChannelEmail:
		err = h.sendEmail(ctx, n)
	case models.NotificationChannelSMS:
		err = h.sendSMS(ctx, n)
	default:
		err = fmt.Errorf("unknown channel %q", n.Channel)
	}

	if err != nil {
		h.logger.Warn("notification delivery failed", map[string]interface{}{
			"notificationId": n.ID,
			"channel":        n.Channel,
			"attempt":        n.Attempts + 1,
			"error":          err,
		})
		if markErr := h.outbox.MarkFailed(ctx, n.ID, h.cfg.MaxRetries); markErr != nil {
			h.logger.Error("failure mark failed", map[string]interface{}{
				"notificationId": n.ID,
				"error":          markErr,
			})
		}
		return
	}

	if markErr := h.outbox.MarkSent(ctx, n.ID); markErr != nil {
		h.logger.Error("sent mark failed", map[string]interface{}{
			"notificationId": n.ID,
			"error":          markErr,
		})
		return
	}
	h.logger.Info("notification delivered", map[string]interface{}{
		"notificationId": n.ID,
		"event":          n.Event,
		"channel":        n.Channel,
	})
}

func (h *Handler) sendEmail(ctx context.Context, n models.Notification) error {
	if !h.ncfg.Email.Enabled {
		h.logger.Debug("email channel disabled, dropping", map[string]interface{}{
			"notificationId": n.ID,
		})
		return nil
	}
	_, err := h.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(h.ncfg.Email.FromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{n.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(n.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(n.Body)},
			},
		},
	})
	return err
}

func (h *Handler) sendSMS(ctx context.Context, n models.Notification) error {
	if !h.ncfg.SMS.Enabled {
		h.logger.Debug("sms channel disabled, dropping", map[string]interface{}{
			"notificationId": n.ID,
		})
		return nil
	}
	_, err := h.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(n.Recipient),
		Message:     aws.String(n.Body),
	})
	return err
}
