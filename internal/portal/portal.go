// internal/portal/portal.go

// Package portal is the engine's exposed surface. Citizens interact through
// opaque tracking tokens; officers through their queue and actions. Internal
// application IDs never cross this boundary outward.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"

	"civigo/internal/assignment"
	"civigo/internal/common/config"
	"civigo/internal/common/logger"
	"civigo/internal/common/validation"
	"civigo/internal/ledger"
	"civigo/internal/lifecycle"
	"civigo/internal/models"
	"civigo/internal/store"
	"civigo/internal/token"

	stderrors "civigo/internal/common/errors"
)

const statusCacheTTL = 10 * time.Second

// StatusView is what an applicant sees for their token. Officer identity is
// deliberately absent.
type StatusView struct {
	Status          models.Status `json:"status"`
	ServiceCategory string        `json:"serviceCategory,omitempty"`
	SubmittedAt     time.Time     `json:"submittedAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	DocumentCount   int           `json:"documentCount"`
	NeedsAttention  bool          `json:"needsAttention"` // pinned or redaction failed
}

// QueueItem is what an officer sees for one assignment. Applicant identity
// and the tracking token are deliberately absent.
type QueueItem struct {
	ApplicationID   int64         `json:"applicationId"`
	Status          models.Status `json:"status"`
	ServiceCategory string        `json:"serviceCategory"`
	SubmittedAt     time.Time     `json:"submittedAt"`
	EscalationCount int           `json:"escalationCount"`
}

// Dashboard aggregates portal-wide analytics.
type Dashboard struct {
	ByStatus     map[models.Status]int `json:"byStatus"`
	ByDepartment map[string]int        `json:"byDepartment"`
	GeneratedAt  time.Time             `json:"generatedAt"`
}

// Officer actions.
const (
	ActionStartReview = "START_REVIEW"
	ActionApprove     = "APPROVE"
	ActionReject      = "REJECT"
)

type Portal struct {
	codec    *token.Codec
	apps     *store.ApplicationStore
	officers *store.OfficerStore
	records  *store.AssignmentRecordStore
	machine  *lifecycle.Machine
	engine   *assignment.Engine
	ledger   *ledger.Ledger
	outbox   *store.NotificationStore
	cfg      config.AssignmentConfig
	rdb      *redis.Client // optional status/dashboard cache
	logger   logger.Logger
}

func New(
	codec *token.Codec,
	apps *store.ApplicationStore,
	officers *store.OfficerStore,
	records *store.AssignmentRecordStore,
	machine *lifecycle.Machine,
	engine *assignment.Engine,
	led *ledger.Ledger,
	outbox *store.NotificationStore,
	cfg config.AssignmentConfig,
	rdb *redis.Client,
	log logger.Logger,
) *Portal {
	return &Portal{
		codec:    codec,
		apps:     apps,
		officers: officers,
		records:  records,
		machine:  machine,
		engine:   engine,
		ledger:   led,
		outbox:   outbox,
		cfg:      cfg,
		rdb:      rdb,
		logger:   log.WithFields(map[string]interface{}{"component": "portal"}),
	}
}

// submitPayload mirrors the validated submission schema.
type submitPayload struct {
	Applicant struct {
		Name    string `mapstructure:"name"`
		Age     int    `mapstructure:"age"`
		Address string `mapstructure:"address"`
		Email   string `mapstructure:"email"`
		Phone   string `mapstructure:"phone"`
	} `mapstructure:"applicant"`
	Documents []struct {
		ID      string `mapstructure:"id"`
		BlobRef string `mapstructure:"blobRef"`
	} `mapstructure:"documents"`
}

// Submit validates the payload, persists the application and returns the
// applicant's tracking token. The token is the only handle the applicant
// ever gets.
func (p *Portal) Submit(ctx context.Context, payload map[string]interface{}) (string, error) {
	if err := validation.ValidateSubmission(payload); err != nil {
		return "", err
	}

	var parsed submitPayload
	if err := mapstructure.Decode(payload, &parsed); err != nil {
		return "", stderrors.NewValidationFailedError(fmt.Sprintf("payload decode: %v", err))
	}

	applicant := models.Applicant{
		Name:    parsed.Applicant.Name,
		Age:     parsed.Applicant.Age,
		Address: parsed.Applicant.Address,
		Email:   parsed.Applicant.Email,
		Phone:   parsed.Applicant.Phone,
	}
	docs := make([]models.Document, 0, len(parsed.Documents))
	for _, d := range parsed.Documents {
		docs = append(docs, models.Document{ID: d.ID, BlobRef: d.BlobRef})
	}

	appID, err := p.apps.Create(ctx, applicant, docs)
	if err != nil {
		return "", err
	}

	tok, err := p.codec.Issue(ctx, appID)
	if err != nil {
		return "", err
	}

	// The application enters the pipeline right away; the redaction worker
	// only ever sees REDACTION_PENDING rows.
	if err := p.machine.Transition(ctx, appID, models.StatusSubmitted, models.StatusRedactionPending); err != nil {
		return "", err
	}

	p.logger.Info("application submitted", map[string]interface{}{
		"applicationId": appID,
	})
	return tok, nil
}

// Status resolves a tracking token to the applicant's view. Reads go
// through a short-lived redis cache.
func (p *Portal) Status(ctx context.Context, tok string) (*StatusView, error) {
	appID, err := p.codec.Resolve(ctx, tok)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("status:application:%d", appID)
	if p.rdb != nil {
		if cached, err := p.rdb.Get(ctx, cacheKey).Result(); err == nil {
			var view StatusView
			if json.Unmarshal([]byte(cached), &view) == nil {
				return &view, nil
			}
		}
	}

	app, err := p.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	docCount, err := p.apps.DocumentCount(ctx, appID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		Status:          app.Status,
		ServiceCategory: app.ServiceCategory,
		SubmittedAt:     app.SubmittedAt,
		UpdatedAt:       app.UpdatedAt,
		DocumentCount:   docCount,
		NeedsAttention:  app.Pinned() || app.Status == models.StatusRedactionFailed,
	}

	if p.rdb != nil {
		if encoded, err := json.Marshal(view); err == nil {
			p.rdb.Set(ctx, cacheKey, encoded, statusCacheTTL)
		}
	}
	return view, nil
}

// OfficerQueue lists the officer's open assignments.
func (p *Portal) OfficerQueue(ctx context.Context, officerID int64) ([]QueueItem, error) {
	if _, err := p.officers.GetByID(ctx, officerID); err != nil {
		return nil, err
	}
	apps, err := p.officers.Queue(ctx, officerID)
	if err != nil {
		return nil, err
	}

	items := make([]QueueItem, 0, len(apps))
	for _, app := range apps {
		items = append(items, QueueItem{
			ApplicationID:   app.ID,
			Status:          app.Status,
			ServiceCategory: app.ServiceCategory,
			SubmittedAt:     app.SubmittedAt,
			EscalationCount: app.EscalationCount,
		})
	}
	return items, nil
}

// OfficerAction applies a review action to an application the officer holds.
func (p *Portal) OfficerAction(ctx context.Context, officerID, applicationID int64, action string) error {
	app, err := p.apps.GetByID(ctx, applicationID)
	if err != nil {
		return err
	}
	if app.AssignedOfficerID == nil || *app.AssignedOfficerID != officerID {
		return stderrors.NewValidationFailedError("application is not assigned to this officer")
	}

	switch action {
	case ActionStartReview:
		return p.machine.Transition(ctx, applicationID, models.StatusAssigned, models.StatusInReview)
	case ActionApprove, ActionReject:
		// A decision can be the officer's first touch; the review opens
		// implicitly on the way through.
		if app.Status == models.StatusAssigned {
			if err := p.machine.Transition(ctx, applicationID, models.StatusAssigned, models.StatusInReview); err != nil {
				return err
			}
			app.Status = models.StatusInReview
		}
		if action == ActionApprove {
			return p.decide(ctx, app, officerID, models.StatusApproved)
		}
		return p.reject(ctx, app, officerID)
	default:
		return stderrors.NewValidationFailedError(fmt.Sprintf("unknown action %q", action))
	}
}

func (p *Portal) decide(ctx context.Context, app *models.Application, officerID int64, verdict models.Status) error {
	if err := p.machine.Transition(ctx, app.ID, models.StatusInReview, verdict); err != nil {
		return err
	}
	if err := p.engine.Release(ctx, app.ID, officerID); err != nil {
		return err
	}
	p.notifyDecision(ctx, app.ID, verdict)
	return nil
}

// reject finalizes or escalates depending on configuration. An escalation
// with nobody left above the current officer leaves the rejection standing.
func (p *Portal) reject(ctx context.Context, app *models.Application, officerID int64) error {
	if err := p.machine.Transition(ctx, app.ID, models.StatusInReview, models.StatusRejected); err != nil {
		return err
	}

	if p.cfg.EscalateOnReject {
		rejected := *app
		rejected.Status = models.StatusRejected
		rejected.AssignedOfficerID = &officerID
		err := p.engine.Escalate(ctx, &rejected)
		if err == nil {
			p.logger.Info("rejection escalated", map[string]interface{}{
				"applicationId": app.ID,
			})
			return nil
		}
		if stderrors.CodeOf(err) != stderrors.ErrCodeNoEligibleOfficer {
			return err
		}
	}

	if err := p.engine.Release(ctx, app.ID, officerID); err != nil {
		return err
	}
	p.notifyDecision(ctx, app.ID, models.StatusRejected)
	return nil
}

// notifyDecision queues applicant notifications on whichever contact
// channels were provided. Outbox trouble is logged, never surfaced.
func (p *Portal) notifyDecision(ctx context.Context, applicationID int64, verdict models.Status) {
	applicant, err := p.apps.Applicant(ctx, applicationID)
	if err != nil {
		p.logger.Warn("applicant lookup for notification failed", map[string]interface{}{
			"applicationId": applicationID,
			"error":         err,
		})
		return
	}

	body := "Your application has been approved."
	if verdict == models.StatusRejected {
		body = "Your application has been rejected."
	}

	if applicant.Email != "" {
		_, err := p.outbox.Enqueue(ctx, models.Notification{
			ApplicationID: applicationID,
			Event:         models.NotificationEventDecided,
			Channel:       models.NotificationChannelEmail,
			Recipient:     applicant.Email,
			Subject:       "Application update",
			Body:          body,
		})
		if err != nil {
			p.logger.Warn("email notification enqueue failed", map[string]interface{}{
				"applicationId": applicationID,
				"error":         err,
			})
		}
	}
	if applicant.Phone != "" {
		_, err := p.outbox.Enqueue(ctx, models.Notification{
			ApplicationID: applicationID,
			Event:         models.NotificationEventDecided,
			Channel:       models.NotificationChannelSMS,
			Recipient:     applicant.Phone,
			Body:          body,
		})
		if err != nil {
			p.logger.Warn("sms notification enqueue failed", map[string]interface{}{
				"applicationId": applicationID,
				"error":         err,
			})
		}
	}
}

// CreateOfficer registers a new active officer.
func (p *Portal) CreateOfficer(ctx context.Context, officer models.Officer) (int64, error) {
	if officer.Name == "" {
		return 0, stderrors.NewValidationFailedError("officer name is required")
	}
	if _, ok := map[string]bool{
		models.DepartmentRevenue: true, models.DepartmentPolice: true,
		models.DepartmentHealth: true, models.DepartmentEducation: true,
		models.DepartmentTransport: true, models.DepartmentMunicipal: true,
		models.DepartmentCivilSupplies: true, models.DepartmentGeneral: true,
	}[officer.Department]; !ok {
		return 0, stderrors.NewValidationFailedError(fmt.Sprintf("unknown department %q", officer.Department))
	}
	if officer.HierarchyLevel < 1 || officer.HierarchyLevel > p.cfg.MaxHierarchyLevel {
		return 0, stderrors.NewValidationFailedError(
			fmt.Sprintf("hierarchy level must be between 1 and %d", p.cfg.MaxHierarchyLevel))
	}
	return p.officers.Create(ctx, officer)
}

// DeactivateOfficer retires an officer and redistributes their open
// assignments. Applications with no available replacement return to the
// assignment backlog.
func (p *Portal) DeactivateOfficer(ctx context.Context, officerID int64) error {
	appIDs, err := p.officers.Deactivate(ctx, officerID)
	if err != nil {
		return err
	}
	for _, appID := range appIDs {
		if err := p.engine.ReassignFrom(ctx, appID, officerID); err != nil {
			p.logger.Error("reassignment after deactivation failed", map[string]interface{}{
				"applicationId": appID,
				"officerId":     officerID,
				"error":         err,
			})
		}
	}
	p.logger.Info("officer deactivated", map[string]interface{}{
		"officerId":     officerID,
		"reassignments": len(appIDs),
	})
	return nil
}

// OverrideRedaction sends a failed application back through the redaction
// stage after the applicant resubmits corrected documents out of band.
func (p *Portal) OverrideRedaction(ctx context.Context, applicationID int64) error {
	if err := p.machine.Transition(ctx, applicationID,
		models.StatusRedactionFailed, models.StatusRedactionPending); err != nil {
		return err
	}
	return p.apps.ResetAttempts(ctx, applicationID)
}

// Unpin clears a manual-intervention hold so automation resumes.
func (p *Portal) Unpin(ctx context.Context, applicationID int64) error {
	return p.apps.Unpin(ctx, applicationID)
}

// Dashboard returns portal-wide analytics, cached briefly.
func (p *Portal) Dashboard(ctx context.Context) (*Dashboard, error) {
	const cacheKey = "dashboard:summary"
	if p.rdb != nil {
		if cached, err := p.rdb.Get(ctx, cacheKey).Result(); err == nil {
			var d Dashboard
			if json.Unmarshal([]byte(cached), &d) == nil {
				return &d, nil
			}
		}
	}

	byStatus, err := p.apps.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	byDept, err := p.officers.WorkloadByDepartment(ctx)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{
		ByStatus:     byStatus,
		ByDepartment: byDept,
		GeneratedAt:  time.Now().UTC(),
	}

	if p.rdb != nil {
		if encoded, err := json.Marshal(d); err == nil {
			p.rdb.Set(ctx, cacheKey, encoded, statusCacheTTL)
		}
	}
	return d, nil
}
