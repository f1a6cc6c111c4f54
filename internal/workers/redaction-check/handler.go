// internal/workers/redaction-check/handler.go
package redactioncheck

import (
	"context"
	"time"

	"civigo/internal/common/config"
	"civigo/internal/common/logger"
	"civigo/internal/common/observability"
	"civigo/internal/common/retry"
	"civigo/internal/gateway"
	"civigo/internal/lifecycle"
	"civigo/internal/models"
	"civigo/internal/store"

	stderrors "civigo/internal/common/errors"
)

const WorkerName = "redaction-check"

// Handler runs the first automated stage. It claims applications awaiting a
// redaction verdict, asks the gateway about their documents and moves each
// one to REDACTION_CLEARED or REDACTION_FAILED.
type Handler struct {
	apps    *store.ApplicationStore
	machine *lifecycle.Machine
	gateway gateway.Redaction
	cfg     config.WorkerConfig
	obs     *observability.Observability // optional
	logger  logger.Logger
}

func NewHandler(
	apps *store.ApplicationStore,
	machine *lifecycle.Machine,
	gw gateway.Redaction,
	cfg config.WorkerConfig,
	obs *observability.Observability,
	log logger.Logger,
) *Handler {
	return &Handler{
		apps:    apps,
		machine: machine,
		gateway: gw,
		cfg:     cfg,
		obs:     obs,
		logger:  log.WithFields(map[string]interface{}{"worker": WorkerName}),
	}
}

func (h *Handler) Name() string { return WorkerName }

// ProcessBatch claims pending rows that are due, fresh submissions and
// retries alike. Submission itself moves the row to REDACTION_PENDING.
func (h *Handler) ProcessBatch(ctx context.Context) error {
	pending, err := h.apps.ClaimBatch(ctx, models.StatusRedactionPending, h.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, app := range pending {
		h.check(ctx, app)
	}
	return nil
}

func (h *Handler) check(ctx context.Context, app *models.Application) {
	start := time.Now()

	docs, err := h.apps.Documents(ctx, app.ID)
	if err != nil {
		h.logger.Error("document lookup failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err,
		})
		return
	}

	result, err := h.gateway.Check(ctx, app.ID, docs)
	if err != nil {
		h.handleFailure(ctx, app, err)
		return
	}

	if err := h.apps.SetRedactionResult(ctx, app.ID, result.Passed); err != nil {
		h.logger.Error("redaction result write failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err,
		})
		return
	}

	target := models.StatusRedactionCleared
	if !result.Passed {
		target = models.StatusRedactionFailed
		h.logger.Warn("unredacted personal information flagged", map[string]interface{}{
			"applicationId": app.ID,
			"flags":         len(result.Flags),
		})
	}
	if err := h.machine.Transition(ctx, app.ID, models.StatusRedactionPending, target); err != nil {
		// Another writer got to the row first; its result stands.
		if stderrors.CodeOf(err) == stderrors.ErrCodeStaleStateTransition {
			return
		}
		h.logger.Error("redaction transition failed", map[string]interface{}{
			"applicationId": app.ID,
			"target":        string(target),
			"error":         err,
		})
		return
	}
	if err := h.apps.ResetAttempts(ctx, app.ID); err != nil {
		h.logger.Warn("attempt reset failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err,
		})
	}

	if h.obs != nil {
		outcome := "cleared"
		if !result.Passed {
			outcome = "failed"
		}
		h.obs.RecordStageProcessed(ctx, WorkerName, outcome)
		h.obs.RecordStageDuration(ctx, WorkerName, time.Since(start))
	}
}

// handleFailure schedules a bounded retry for transient gateway trouble and
// pins the application once the budget is spent.
func (h *Handler) handleFailure(ctx context.Context, app *models.Application, cause error) {
	if !stderrors.IsRetryable(cause) || app.AttemptCount+1 >= h.cfg.MaxRetries {
		reason := "redaction check failed: " + cause.Error()
		if err := h.apps.Pin(ctx, app.ID, reason); err != nil {
			h.logger.Error("pin failed", map[string]interface{}{
				"applicationId": app.ID,
				"error":         err,
			})
			return
		}
		h.logger.Error("application pinned for manual intervention", map[string]interface{}{
			"applicationId": app.ID,
			"attempts":      app.AttemptCount + 1,
			"cause":         cause,
		})
		return
	}

	delay := retry.Delay(config.GetDuration(h.cfg.PollInterval), app.AttemptCount, 5*time.Minute)
	if err := h.apps.ScheduleRetry(ctx, app.ID, time.Now().UTC().Add(delay)); err != nil {
		h.logger.Error("retry schedule failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err,
		})
		return
	}
	h.logger.Warn("redaction check deferred", map[string]interface{}{
		"applicationId": app.ID,
		"attempt":       app.AttemptCount + 1,
		"nextRetryIn":   delay,
	})
}
