// internal/gateway/redaction.go

// Package gateway holds the HTTP clients for the two external document
// services. Both are called with bounded exponential backoff; an exhausted
// budget surfaces as a retryable dependency error so the calling worker can
// park the application instead of spinning.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"civigo/internal/common/config"
	"civigo/internal/common/httpclient"
	"civigo/internal/common/logger"
	"civigo/internal/common/metrics"
	"civigo/internal/common/retry"
	"civigo/internal/models"

	stderrors "civigo/internal/common/errors"
)

const maxAttemptBackoff = 30 * time.Second

// RedactionResult is the gateway verdict for one application's documents.
type RedactionResult struct {
	Passed bool                   `json:"passed"`
	Flags  []models.RedactionFlag `json:"flags,omitempty"`
}

// Redaction checks uploaded documents for unredacted personal information.
type Redaction interface {
	Check(ctx context.Context, applicationID int64, docs []models.Document) (*RedactionResult, error)
}

type redactionClient struct {
	client     *httpclient.Client
	baseURL    string
	apiKey     string
	maxRetries int
	backoff    time.Duration
	logger     logger.Logger
}

func NewRedaction(cfg config.GatewayConfig, log logger.Logger) Redaction {
	return &redactionClient{
		client:     httpclient.NewClient(config.GetDuration(cfg.Timeout)),
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		backoff:    config.GetDuration(cfg.Backoff),
		logger:     log.WithFields(map[string]interface{}{"component": "redaction-gateway"}),
	}
}

type redactionRequest struct {
	ApplicationID int64             `json:"applicationId"`
	Documents     []documentPayload `json:"documents"`
}

type documentPayload struct {
	ID      string `json:"id"`
	BlobRef string `json:"blobRef"`
}

func (c *redactionClient) Check(ctx context.Context, applicationID int64, docs []models.Document) (*RedactionResult, error) {
	payload := redactionRequest{ApplicationID: applicationID}
	for _, doc := range docs {
		payload.Documents = append(payload.Documents, documentPayload{ID: doc.ID, BlobRef: doc.BlobRef})
	}

	var result RedactionResult
	err := callWithRetry(ctx, callParams{
		client:     c.client,
		name:       "redaction",
		url:        c.baseURL + "/v1/redaction/check",
		apiKey:     c.apiKey,
		maxRetries: c.maxRetries,
		backoff:    c.backoff,
		logger:     c.logger,
	}, payload, &result)
	if err != nil {
		return nil, err
	}

	c.logger.Info("redaction check completed", map[string]interface{}{
		"applicationId": applicationID,
		"passed":        result.Passed,
		"flags":         len(result.Flags),
	})
	return &result, nil
}

type callParams struct {
	client     *httpclient.Client
	name       string
	url        string
	apiKey     string
	maxRetries int
	backoff    time.Duration
	logger     logger.Logger
}

// callWithRetry POSTs the payload and decodes the response, retrying
// transport errors and 5xx answers up to the attempt budget.
func callWithRetry(ctx context.Context, p callParams, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return stderrors.NewValidationFailedError(fmt.Sprintf("%s request encode: %v", p.name, err))
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retry.Delay(p.backoff, attempt-1, maxAttemptBackoff)
			p.logger.Warn("gateway call failed, retrying", map[string]interface{}{
				"gateway":     p.name,
				"attempt":     attempt,
				"maxRetries":  p.maxRetries,
				"nextRetryIn": delay,
				"error":       lastErr,
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return stderrors.NewDependencyUnavailableError(p.name, ctx.Err())
			}
		}

		lastErr = callOnce(ctx, p, body, out)
		if lastErr == nil {
			metrics.GatewayRequests.WithLabelValues(p.name, "success").Inc()
			return nil
		}
	}

	metrics.GatewayRequests.WithLabelValues(p.name, "exhausted").Inc()
	return stderrors.NewDependencyUnavailableError(p.name, lastErr)
}

func callOnce(ctx context.Context, p callParams, body []byte, out interface{}) error {
	start := time.Now()
	defer func() {
		metrics.GatewayDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequest(http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.DoWithContext(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s gateway returned %d: %s", p.name, resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
