// internal/gateway/classification.go

package gateway

import (
	"context"
	"time"

	"civigo/internal/common/config"
	"civigo/internal/common/httpclient"
	"civigo/internal/common/logger"
	"civigo/internal/models"
)

// ClassificationResult is the service category the gateway derived from the
// application's documents, with its confidence score.
type ClassificationResult struct {
	ServiceCategory string  `json:"serviceCategory"`
	Confidence      float64 `json:"confidence"`
}

// Classification derives the service category for an application.
type Classification interface {
	Classify(ctx context.Context, applicationID int64, docs []models.Document) (*ClassificationResult, error)
}

type classificationClient struct {
	client     *httpclient.Client
	baseURL    string
	apiKey     string
	maxRetries int
	backoff    time.Duration
	logger     logger.Logger
}

func NewClassification(cfg config.GatewayConfig, log logger.Logger) Classification {
	return &classificationClient{
		client:     httpclient.NewClient(config.GetDuration(cfg.Timeout)),
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		backoff:    config.GetDuration(cfg.Backoff),
		logger:     log.WithFields(map[string]interface{}{"component": "classification-gateway"}),
	}
}

type classificationRequest struct {
	ApplicationID int64             `json:"applicationId"`
	Documents     []documentPayload `json:"documents"`
}

func (c *classificationClient) Classify(ctx context.Context, applicationID int64, docs []models.Document) (*ClassificationResult, error) {
	payload := classificationRequest{ApplicationID: applicationID}
	for _, doc := range docs {
		payload.Documents = append(payload.Documents, documentPayload{ID: doc.ID, BlobRef: doc.BlobRef})
	}

	var result ClassificationResult
	err := callWithRetry(ctx, callParams{
		client:     c.client,
		name:       "classification",
		url:        c.baseURL + "/v1/classify",
		apiKey:     c.apiKey,
		maxRetries: c.maxRetries,
		backoff:    c.backoff,
		logger:     c.logger,
	}, payload, &result)
	if err != nil {
		return nil, err
	}

	// A category outside the served set is the same as no category at all.
	// The caller decides when to stop waiting and use the general pool.
	if !models.IsKnownCategory(result.ServiceCategory) {
		c.logger.Warn("classification returned no usable category", map[string]interface{}{
			"applicationId": applicationID,
			"raw":           result.ServiceCategory,
		})
		result.ServiceCategory = ""
		return &result, nil
	}

	c.logger.Info("classification completed", map[string]interface{}{
		"applicationId":   applicationID,
		"serviceCategory": result.ServiceCategory,
		"confidence":      result.Confidence,
	})
	return &result, nil
}
