// internal/audit/audit.go

// Package audit ships lifecycle events to elasticsearch for reporting.
// Indexing is best effort: a dead audit index never blocks a transition
// or an assignment, it only logs.
package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"civigo/internal/common/logger"
	"civigo/internal/models"
)

const (
	EventTransition = "status_transition"
	EventAssignment = "officer_assignment"
)

// Event is one audit document. Events carry only internal IDs, never
// tracking tokens or applicant identity.
type Event struct {
	Type          string    `json:"type"`
	ApplicationID int64     `json:"applicationId"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	OfficerID     int64     `json:"officerId,omitempty"`
	Kind          string    `json:"kind,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit-indexer"}),
	}
}

func (i *Indexer) RecordTransition(ctx context.Context, applicationID int64, from, to models.Status) {
	i.indexEvent(ctx, Event{
		Type:          EventTransition,
		ApplicationID: applicationID,
		From:          string(from),
		To:            string(to),
		Timestamp:     time.Now().UTC(),
	})
}

func (i *Indexer) RecordAssignment(ctx context.Context, applicationID, officerID int64, kind string) {
	i.indexEvent(ctx, Event{
		Type:          EventAssignment,
		ApplicationID: applicationID,
		OfficerID:     officerID,
		Kind:          kind,
		Timestamp:     time.Now().UTC(),
	})
}

func (i *Indexer) indexEvent(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		i.logger.Error("audit event encode failed", map[string]interface{}{"error": err})
		return
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: uuid.New().String(),
		Body:       strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		i.logger.Warn("audit index unreachable", map[string]interface{}{
			"error":         err,
			"applicationId": event.ApplicationID,
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		i.logger.Warn("audit event rejected", map[string]interface{}{
			"status":        res.String(),
			"applicationId": event.ApplicationID,
		})
	}
}

// History returns the audit trail for one application, oldest first.
func (i *Indexer) History(ctx context.Context, applicationID int64, size int) ([]Event, error) {
	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"applicationId": strconv.FormatInt(applicationID, 10),
			},
		},
		"sort": []map[string]interface{}{
			{"timestamp": map[string]interface{}{"order": "asc"}},
		},
		"size": size,
	}
	body, _ := json.Marshal(queryBody)

	req := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, &searchError{detail: res.String()}
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}

type searchError struct {
	detail string
}

func (e *searchError) Error() string {
	return "audit search failed: " + e.detail
}
