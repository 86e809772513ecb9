// Package storage defines the persistence boundary for the membership
// subsystem. No business validation lives here; stores are keyed data access
// so the lifecycle engine can be exercised against a fake.
package storage

import (
	"context"
	"errors"

	"github.com/studycrew/studycrew/internal/app/domain/membership"
	"github.com/studycrew/studycrew/internal/app/domain/study"
	"github.com/studycrew/studycrew/internal/app/domain/user"
)

// ErrNotFound is returned when a keyed lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// ErrCounterBounds is returned when a guarded participant-counter update would
// cross either bound (the study capacity, or the owner's baseline of 1).
var ErrCounterBounds = errors.New("participant counter out of bounds")

// StudyFilter narrows study listings.
type StudyFilter struct {
	OwnerID   string
	Search    string
	EndedOnly bool
}

// StudyStore persists study records.
type StudyStore interface {
	CreateStudy(ctx context.Context, st study.Study) (study.Study, error)
	GetStudy(ctx context.Context, id string) (study.Study, error)
	UpdateStudy(ctx context.Context, st study.Study) (study.Study, error)
	SoftDeleteStudy(ctx context.Context, id string) error
	ListStudies(ctx context.Context, filter StudyFilter) ([]study.Study, error)
}

// ApplicationStore persists membership applications (the ledger).
type ApplicationStore interface {
	GetApplication(ctx context.Context, id string) (membership.Application, error)
	GetApplicationByStudyAndUser(ctx context.Context, studyID, userID string) (membership.Application, error)
	ListApplicationsByStudy(ctx context.Context, studyID string) ([]membership.Application, error)
	ListApplicationsByUser(ctx context.Context, userID string) ([]membership.Application, error)
	CountApplications(ctx context.Context, studyID string, status membership.Status) (int, error)
}

// UserDirectory resolves opaque user handles for read-side annotation.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]user.User, error)
}

// MembershipTx is the set of operations available inside one atomic lifecycle
// unit. Implementations guarantee that everything executed through a single tx
// is applied fully or not at all, and that StudyForUpdate serializes
// concurrent units touching the same study.
type MembershipTx interface {
	// StudyForUpdate reads a study with a row-level lock held for the
	// remainder of the unit.
	StudyForUpdate(ctx context.Context, id string) (study.Study, error)
	GetApplication(ctx context.Context, id string) (membership.Application, error)
	GetApplicationByStudyAndUser(ctx context.Context, studyID, userID string) (membership.Application, error)
	CountApplications(ctx context.Context, studyID string, status membership.Status) (int, error)
	CreateApplication(ctx context.Context, app membership.Application) (membership.Application, error)
	UpdateApplicationStatus(ctx context.Context, id string, status membership.Status) (membership.Application, error)
	// AdjustParticipantCount applies delta to the study counter. The update is
	// guarded: it fails with ErrCounterBounds rather than exceed the study
	// capacity or drop below the owner's baseline slot.
	AdjustParticipantCount(ctx context.Context, studyID string, delta int) (study.Study, error)
}

// MembershipStore is the full ledger surface: plain reads plus the
// transactional runner the lifecycle engine mutates through.
type MembershipStore interface {
	ApplicationStore
	// InTx runs fn as a single atomic unit. A non-nil error from fn rolls the
	// unit back and is returned unchanged.
	InTx(ctx context.Context, fn func(tx MembershipTx) error) error
}
