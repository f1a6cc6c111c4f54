// internal/models/status.go
package models

import "fmt"

// Status is the closed set of lifecycle states an application can be in.
// Transition legality is owned by the lifecycle package; everything else
// treats Status as an opaque enum.
type Status string

const (
	StatusSubmitted        Status = "SUBMITTED"
	StatusRedactionPending Status = "REDACTION_PENDING"
	StatusRedactionCleared Status = "REDACTION_CLEARED"
	StatusRedactionFailed  Status = "REDACTION_FAILED"
	StatusClassified       Status = "CLASSIFIED"
	StatusAssigned         Status = "ASSIGNED"
	StatusInReview         Status = "IN_REVIEW"
	StatusApproved         Status = "APPROVED"
	StatusRejected         Status = "REJECTED"
)

var validStatuses = map[Status]bool{
	StatusSubmitted:        true,
	StatusRedactionPending: true,
	StatusRedactionCleared: true,
	StatusRedactionFailed:  true,
	StatusClassified:       true,
	StatusAssigned:         true,
	StatusInReview:         true,
	StatusApproved:         true,
	StatusRejected:         true,
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", fmt.Errorf("unknown application status %q", s)
	}
	return st, nil
}

// IsTerminal reports whether no automated transition leaves this state.
// REDACTION_FAILED is terminal for automation but admits an admin override.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusRedactionFailed:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
