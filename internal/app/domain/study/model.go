// Package study defines the study record and its capacity rules.
package study

import "time"

const (
	// OwnerBaseline is the owner's implicit slot. The participant counter
	// starts here and never goes below it while the study exists.
	OwnerBaseline = 1

	// MinCapacity is the smallest allowed max_participants. Capacity counts
	// every occupant including the owner, so anything below 2 leaves no room
	// to join.
	MinCapacity = 2
)

// Status is the derived lifecycle state of a study.
type Status string

const (
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusDeleted Status = "deleted"
)

// Study is a recruiting group with a bounded roster. CurrentParticipants is
// derived data owned by the membership lifecycle; nothing else mutates it.
type Study struct {
	ID                  string     `db:"id" json:"id"`
	OwnerID             string     `db:"owner_id" json:"ownerId"`
	Title               string     `db:"title" json:"title"`
	Description         string     `db:"description" json:"description"`
	StartDate           time.Time  `db:"start_date" json:"startDate"`
	EndDate             time.Time  `db:"end_date" json:"endDate"`
	MaxParticipants     int        `db:"max_participants" json:"maxParticipants"`
	CurrentParticipants int        `db:"current_participants" json:"currentParticipants"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt           *time.Time `db:"deleted_at" json:"-"`
}

// Deleted reports whether the study has been soft-deleted.
func (s Study) Deleted() bool {
	return s.DeletedAt != nil
}

// StatusAt derives the study's status at the given instant.
func (s Study) StatusAt(now time.Time) Status {
	if s.Deleted() {
		return StatusDeleted
	}
	if now.After(s.EndDate) {
		return StatusEnded
	}
	return StatusActive
}

// Summary is the compact shape embedded in cross-entity projections.
type Summary struct {
	ID                  string    `json:"id"`
	OwnerID             string    `json:"ownerId"`
	Title               string    `json:"title"`
	StartDate           time.Time `json:"startDate"`
	EndDate             time.Time `json:"endDate"`
	MaxParticipants     int       `json:"maxParticipants"`
	CurrentParticipants int       `json:"currentParticipants"`
	Status              Status    `json:"status"`
}

// Summarize builds the Summary projection of the study.
func (s Study) Summarize() Summary {
	return Summary{
		ID:                  s.ID,
		OwnerID:             s.OwnerID,
		Title:               s.Title,
		StartDate:           s.StartDate,
		EndDate:             s.EndDate,
		MaxParticipants:     s.MaxParticipants,
		CurrentParticipants: s.CurrentParticipants,
		Status:              s.StatusAt(time.Now().UTC()),
	}
}
