// internal/workers/classify-service/handler.go
package classifyservice

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

const WorkerName = "classify-service"

// Handler derives the service category for applications that cleared
// redaction and moves them to CLASSIFIED.
type Handler struct {
	apps    *store.ApplicationStore
	machine *lifecycle.Machine
	gateway gateway.Classification
	cfg     config.WorkerConfig
	obs     *observability.Observability // optional
	logger  logger.Logger
}

func NewHandler(
	apps *store.ApplicationStore,
	machine *lifecycle.Machine,
	gw gateway.Classification,
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

func (h *Handler) ProcessBatch(ctx context.Context) error {
	apps, err := h.apps.ClaimBatch(ctx, models.StatusRedactionCleared, h.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, app := range apps {
		h.classify(ctx, app)
	}
	return nil
}

func (h *Handler) classify(ctx context.Context, app *models.Application) {
	start := time.Now()

	docs, err := h.apps.Documents(ctx, app.ID)
	if err != nil {
		h.logger.Error("document lookup failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err,
		})
		return
	}

	result, err := h.gateway.Classify(ctx, app.ID, docs)
	if err != nil {
		h.handleFailure(ctx, app, err)
		return
	}

	category := result.ServiceCategory
	if category == "" {
		// Unclassifiable is not a failure. Give the gateway a few more
		// looks, then route the application to the general pool.
		if app.AttemptCount+1 < h.cfg.MaxRetries {
			h.deferRetry(ctx, app, "unclassified")
			return
		}
		category = models.CategoryGeneral
		h.logger.Info("classification fell back to general pool", map[string]interface{}{
			"applicationId": app.ID,
			"attempts":      app.AttemptCount + 1,
		})
	}

	if err := h.apps.SetServiceCategory(ctx, app.ID, category); err != nil {
		h.logger.Error("category write failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err,
		})
		return
	}
	if err := h.machine.Transition(ctx, app.ID, models.StatusRedactionCleared, models.StatusClassified); err != nil {
		if stderrors.CodeOf(err) == stderrors.ErrCodeStaleStateTransition {
			return
		}
		h.logger.Error("classification transition failed", map[string]interface{}{
			"applicationId": app.ID,
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
		h.obs.RecordStageProcessed(ctx, WorkerName, category)
		h.obs.RecordStageDuration(ctx, WorkerName, time.Since(start))
	}
}

func (h *Handler) handleFailure(ctx context.Context, app *models.Application, cause error) {
	if !stderrors.IsRetryable(cause) || app.AttemptCount+1 >= h.cfg.MaxRetries {
		reason := "classification failed: " + cause.Error()
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

	h.deferRetry(ctx, app, cause.Error())
}

func (h *Handler) deferRetry(ctx context.Context, app *models.Application, why string) {
	delay := retry.Delay(config.GetDuration(h.cfg.PollInterval), app.AttemptCount, 5*time.Minute)
	if err := h.apps.ScheduleRetry(ctx, app.ID, time.Now().UTC().Add(delay)); err != nil {
		h.logger.Error("retry schedule failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err,
		})
		return
	}
	h.logger.Warn("classification deferred", map[string]interface{}{
		"applicationId": app.ID,
		"attempt":       app.AttemptCount + 1,
		"cause":         why,
		"nextRetryIn":   delay,
	})
}
