// internal/models/officer.go
package models

import "time"

// Officer is a reviewing officer. WorkloadCount is derived state maintained
// by the workload ledger; it always equals the number of applications
// currently assigned to the officer in a non-terminal state.
type Officer struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Department     string `json:"department"`
	HierarchyLevel int    `json:"hierarchyLevel"` // positive, higher = more senior
	WorkloadCount  int    `json:"workloadCount"`
	IsActive       bool   `json:"isActive"`
}

// AssignmentRecord is one row of the append-only assignment audit trail.
// Records are only ever inserted or closed (ReleasedAt set), never mutated
// otherwise.
type AssignmentRecord struct {
	ID            string     `json:"id"`
	ApplicationID int64      `json:"applicationId"`
	OfficerID     int64      `json:"officerId"`
	AssignedAt    time.Time  `json:"assignedAt"`
	ReleasedAt    *time.Time `json:"releasedAt,omitempty"`
}
