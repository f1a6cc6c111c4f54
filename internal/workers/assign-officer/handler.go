// internal/workers/assign-officer/handler.go
package assignofficer

import (
	"context"
	"time"

	"civigo/internal/assignment"
	"civigo/internal/common/config"
	"civigo/internal/common/logger"
	"civigo/internal/common/observability"
	"civigo/internal/common/retry"
	"civigo/internal/models"
	"civigo/internal/store"

	stderrors "civigo/internal/common/errors"
)

const WorkerName = "assign-officer"

// Handler drains the assignment backlog. Applications with no eligible
// officer stay in the backlog on a capped backoff; they are never pinned,
// since capacity returning is the expected resolution.
type Handler struct {
	apps          *store.ApplicationStore
	engine        *assignment.Engine
	cfg           config.WorkerConfig
	assignmentCfg config.AssignmentConfig
	obs           *observability.Observability // optional
	logger        logger.Logger
}

func NewHandler(
	apps *store.ApplicationStore,
	engine *assignment.Engine,
	cfg config.WorkerConfig,
	assignmentCfg config.AssignmentConfig,
	obs *observability.Observability,
	log logger.Logger,
) *Handler {
	return &Handler{
		apps:          apps,
		engine:        engine,
		cfg:           cfg,
		assignmentCfg: assignmentCfg,
		obs:           obs,
		logger:        log.WithFields(map[string]interface{}{"worker": WorkerName}),
	}
}

func (h *Handler) Name() string { return WorkerName }

func (h *Handler) ProcessBatch(ctx context.Context) error {
	apps, err := h.apps.ClaimBatch(ctx, models.StatusClassified, h.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, app := range apps {
		h.assign(ctx, app)
	}
	return nil
}

func (h *Handler) assign(ctx context.Context, app *models.Application) {
	start := time.Now()

	err := h.engine.Assign(ctx, app)
	if err == nil {
		if resetErr := h.apps.ResetAttempts(ctx, app.ID); resetErr != nil {
			h.logger.Warn("attempt reset failed", map[string]interface{}{
				"applicationId": app.ID,
				"error":         resetErr,
			})
		}
		if h.obs != nil {
			h.obs.RecordStageProcessed(ctx, WorkerName, "assigned")
			h.obs.RecordStageDuration(ctx, WorkerName, time.Since(start))
		}
		return
	}

	switch stderrors.CodeOf(err) {
	case stderrors.ErrCodeNoEligibleOfficer:
		delay := retry.Delay(
			config.GetDuration(h.assignmentCfg.RetryBackoff),
			app.AttemptCount,
			config.GetDuration(h.assignmentCfg.RetryBackoffMax),
		)
		if schedErr := h.apps.ScheduleRetry(ctx, app.ID, time.Now().UTC().Add(delay)); schedErr != nil {
			h.logger.Error("retry schedule failed", map[string]interface{}{
				"applicationId": app.ID,
				"error":         schedErr,
			})
			return
		}
		h.logger.Warn("no eligible officer, assignment deferred", map[string]interface{}{
			"applicationId": app.ID,
			"attempt":       app.AttemptCount + 1,
			"nextRetryIn":   delay,
		})
	case stderrors.ErrCodeStaleStateTransition:
		// Another instance assigned it first.
	default:
		h.logger.Error("assignment failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err,
		})
	}
}
