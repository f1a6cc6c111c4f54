// internal/lifecycle/transitions.go

// Package lifecycle owns the application status graph and applies
// transitions with compare-and-set semantics against postgres.
package lifecycle

import "civigo/internal/models"

// transitions is the closed graph of legal status moves. Anything not
// listed here is rejected before touching the database. The two backward
// edges are gated by their callers: REJECTED to ASSIGNED requires the
// escalation flag, REDACTION_FAILED to REDACTION_PENDING requires an
// admin override.
var transitions = map[models.Status][]models.Status{
	models.StatusSubmitted:        {models.StatusRedactionPending},
	models.StatusRedactionPending: {models.StatusRedactionCleared, models.StatusRedactionFailed},
	models.StatusRedactionCleared: {models.StatusClassified},
	models.StatusClassified:       {models.StatusAssigned},
	models.StatusAssigned:         {models.StatusInReview},
	models.StatusInReview:         {models.StatusApproved, models.StatusRejected},
	models.StatusRejected:         {models.StatusAssigned},
	models.StatusRedactionFailed:  {models.StatusRedactionPending},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal successors of a status.
func NextStatuses(from models.Status) []models.Status {
	next := transitions[from]
	out := make([]models.Status, len(next))
	copy(out, next)
	return out
}
