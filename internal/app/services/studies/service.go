// Package studies manages the study records themselves: creation, lookup,
// listing, owner edits, and soft deletion. The participant counter is derived
// data owned by the lifecycle engine; this service never touches it.
package studies

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/studycrew/studycrew/internal/app/domain/study"
	"github.com/studycrew/studycrew/internal/app/storage"
	apperrors "github.com/studycrew/studycrew/internal/errors"
	"github.com/studycrew/studycrew/pkg/logger"
)

// CreateInput carries the caller-supplied fields for a new study.
type CreateInput struct {
	Title           string
	Description     string
	StartDate       time.Time
	EndDate         time.Time
	MaxParticipants int
}

// UpdateInput carries the editable fields of an existing study.
type UpdateInput struct {
	Title       string
	Description string
	StartDate   time.Time
	EndDate     time.Time
}

// Service manages study records.
type Service struct {
	store storage.StudyStore
	log   *logger.Logger
}

// New constructs the study record service.
func New(store storage.StudyStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("studies")
	}
	return &Service{store: store, log: log}
}

// Create opens a new study owned by ownerID. The counter starts at the
// owner's implicit slot.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (study.Study, error) {
	if strings.TrimSpace(in.Title) == "" {
		return study.Study{}, apperrors.InvalidInput("title is required")
	}
	if in.MaxParticipants < study.MinCapacity {
		return study.Study{}, apperrors.InvalidInput("max participants must be at least 2").
			WithDetails("maxParticipants", in.MaxParticipants)
	}
	if in.EndDate.Before(in.StartDate) {
		return study.Study{}, apperrors.InvalidInput("end date must not precede start date")
	}

	created, err := s.store.CreateStudy(ctx, study.Study{
		OwnerID:             ownerID,
		Title:               strings.TrimSpace(in.Title),
		Description:         in.Description,
		StartDate:           in.StartDate,
		EndDate:             in.EndDate,
		MaxParticipants:     in.MaxParticipants,
		CurrentParticipants: study.OwnerBaseline,
	})
	if err != nil {
		return study.Study{}, err
	}

	s.log.WithField("study_id", created.ID).WithField("owner_id", ownerID).Info("study created")
	return created, nil
}

// Get returns one study by id.
func (s *Service) Get(ctx context.Context, id string) (study.Study, error) {
	st, err := s.store.GetStudy(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return study.Study{}, apperrors.NotFound("study does not exist")
	}
	return st, err
}

// List returns studies matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter storage.StudyFilter) ([]study.Study, error) {
	return s.store.ListStudies(ctx, filter)
}

// ListEnded returns studies whose end date has passed.
func (s *Service) ListEnded(ctx context.Context) ([]study.Study, error) {
	return s.store.ListStudies(ctx, storage.StudyFilter{EndedOnly: true})
}

// Update edits a study's descriptive fields. Owner only. Ownership and the
// participant counter survive the edit untouched.
func (s *Service) Update(ctx context.Context, id, requesterID string, in UpdateInput) (study.Study, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return study.Study{}, err
	}
	if existing.OwnerID != requesterID {
		return study.Study{}, apperrors.Forbidden("only the study owner can edit a study")
	}
	if strings.TrimSpace(in.Title) == "" {
		return study.Study{}, apperrors.InvalidInput("title is required")
	}
	if in.EndDate.Before(in.StartDate) {
		return study.Study{}, apperrors.InvalidInput("end date must not precede start date")
	}

	existing.Title = strings.TrimSpace(in.Title)
	existing.Description = in.Description
	existing.StartDate = in.StartDate
	existing.EndDate = in.EndDate

	updated, err := s.store.UpdateStudy(ctx, existing)
	if errors.Is(err, storage.ErrNotFound) {
		return study.Study{}, apperrors.NotFound("study does not exist")
	}
	return updated, err
}

// Delete soft-deletes a study. Owner only. Existing applications stay in the
// ledger as history; the study stops resolving.
func (s *Service) Delete(ctx context.Context, id, requesterID string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.OwnerID != requesterID {
		return apperrors.Forbidden("only the study owner can delete a study")
	}

	if err := s.store.SoftDeleteStudy(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NotFound("study does not exist")
		}
		return err
	}

	s.log.WithField("study_id", id).Info("study deleted")
	return nil
}
