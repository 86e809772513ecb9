// Package membership defines the application ledger records and the status
// state machine that governs them.
package membership

import "time"

// Status is the lifecycle state of an application.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusKicked    Status = "kicked"
)

// Application is one request by a user to join a study. A (study, user) pair
// can accumulate rows over time; only the latest row is live, and terminal
// rows stay behind as history.
type Application struct {
	ID        string    `db:"id" json:"id"`
	StudyID   string    `db:"study_id" json:"studyId"`
	UserID    string    `db:"user_id" json:"userId"`
	Status    Status    `db:"status" json:"status"`
	AppliedAt time.Time `db:"applied_at" json:"appliedAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// transitions is the full state machine. Anything absent is forbidden.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCancelled, StatusKicked},
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled, StatusKicked:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Terminal reports whether the application's status is terminal.
func (a Application) Terminal() bool {
	return a.Status.Terminal()
}

// CanTransition reports whether the state machine allows moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NormalizeStatus maps caller-supplied spellings onto the canonical status
// set. The legacy "accepted" spelling becomes StatusApproved. Unknown input
// passes through unchanged so validation can report it.
func NormalizeStatus(raw string) Status {
	if raw == "accepted" {
		return StatusApproved
	}
	return Status(raw)
}
