// internal/models/application.go
package models

import "time"

// Application is the engine's view of a submitted application. The internal
// numeric ID is never exposed outside the engine; callers hold the opaque
// tracking token instead.
type Application struct {
	ID                int64      `json:"id"`
	Status            Status     `json:"status"`
	ServiceCategory   string     `json:"serviceCategory,omitempty"` // empty until classified
	SubmittedAt       time.Time  `json:"submittedAt"`
	RedactionPassed   *bool      `json:"redactionPassed,omitempty"` // nil until checked
	AssignedOfficerID *int64     `json:"assignedOfficerId,omitempty"`
	EscalationCount   int        `json:"escalationCount"`
	AttemptCount      int        `json:"attemptCount"` // bounded gateway/assignment attempts
	NextAttemptAt     *time.Time `json:"nextAttemptAt,omitempty"`
	PinnedReason      string     `json:"pinnedReason,omitempty"` // non-empty halts automation
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Pinned reports whether automated transitions are halted for this
// application pending manual intervention.
func (a *Application) Pinned() bool {
	return a.PinnedReason != ""
}

// Applicant holds the identity fields captured at submission. They are stored
// separately from the application and are never returned by officer-facing
// queries.
type Applicant struct {
	ApplicationID int64  `json:"applicationId"`
	Name          string `json:"name"`
	Age           int    `json:"age"`
	Address       string `json:"address"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
}

// Document is an opaque reference to an uploaded file in the external blob
// store. The engine never inspects content beyond what the gateways return.
type Document struct {
	ID            string    `json:"id"`
	ApplicationID int64     `json:"applicationId"`
	BlobRef       string    `json:"blobRef"`
	UploadedAt    time.Time `json:"uploadedAt"`
}

// RedactionFlag is one piece of flagged-field evidence from the redaction
// gateway.
type RedactionFlag struct {
	Kind       string `json:"kind"` // aadhaar, phone, email, pan, name, address, date_of_birth
	DocumentID string `json:"documentId"`
}
