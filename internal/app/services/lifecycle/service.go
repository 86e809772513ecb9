// Package lifecycle is the single authority over the application state
// machine. Every mutation of the ledger and of the study participant counter
// goes through this service, and each operation runs as one atomic unit
// against the backing store.
package lifecycle

import (
	"context"
	"errors"

	"github.com/studycrew/studycrew/internal/app/domain/membership"
	"github.com/studycrew/studycrew/internal/app/domain/study"
	"github.com/studycrew/studycrew/internal/app/storage"
	apperrors "github.com/studycrew/studycrew/internal/errors"
	"github.com/studycrew/studycrew/internal/metrics"
	"github.com/studycrew/studycrew/pkg/logger"
)

// Service enforces the membership lifecycle rules.
type Service struct {
	ledger  storage.MembershipStore
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New constructs the lifecycle engine with its ledger injected.
func New(ledger storage.MembershipStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lifecycle")
	}
	return &Service{ledger: ledger, log: log}
}

// AttachMetrics wires the lifecycle collectors. Optional.
func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Apply submits a pending application for studyID on behalf of applicantID.
//
// The duplicate check runs inside the transactional unit, under the study row
// lock, so two racing applies for the same pair cannot both pass it.
func (s *Service) Apply(ctx context.Context, studyID, applicantID string) (membership.Application, error) {
	var created membership.Application
	err := s.ledger.InTx(ctx, func(tx storage.MembershipTx) error {
		st, err := tx.StudyForUpdate(ctx, studyID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NotFound("study does not exist")
		}
		if err != nil {
			return err
		}

		if st.OwnerID == applicantID {
			return apperrors.Forbidden("cannot apply to your own study")
		}

		existing, err := tx.GetApplicationByStudyAndUser(ctx, studyID, applicantID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err == nil && !existing.Status.Terminal() {
			return apperrors.Conflict("an application for this study already exists").
				WithDetails("application_id", existing.ID).
				WithDetails("status", string(existing.Status))
		}

		created, err = tx.CreateApplication(ctx, membership.Application{
			StudyID: studyID,
			UserID:  applicantID,
			Status:  membership.StatusPending,
		})
		return err
	})
	if err != nil {
		return membership.Application{}, err
	}

	s.recordTransition(membership.StatusPending)
	s.log.WithField("application_id", created.ID).
		WithField("study_id", studyID).
		WithField("user_id", applicantID).
		Info("application submitted")
	return created, nil
}

// Decide approves or rejects a pending application. Only the study owner may
// decide. An approval re-checks capacity under the study row lock and
// increments the participant counter in the same unit as the status write.
func (s *Service) Decide(ctx context.Context, applicationID, deciderID string, decision membership.Status) (membership.Application, error) {
	if decision != membership.StatusApproved && decision != membership.StatusRejected {
		return membership.Application{}, apperrors.InvalidInput("decision must be approved or rejected").
			WithDetails("decision", string(decision))
	}

	var updated membership.Application
	err := s.ledger.InTx(ctx, func(tx storage.MembershipTx) error {
		app, err := tx.GetApplication(ctx, applicationID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NotFound("application does not exist")
		}
		if err != nil {
			return err
		}

		st, err := tx.StudyForUpdate(ctx, app.StudyID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NotFound("study does not exist")
		}
		if err != nil {
			return err
		}

		if st.OwnerID != deciderID {
			return apperrors.Forbidden("only the study owner can decide applications")
		}
		if app.Status != membership.StatusPending {
			return apperrors.InvalidTransition("only pending applications can be decided").
				WithDetails("status", string(app.Status))
		}

		if decision == membership.StatusApproved {
			approved, err := tx.CountApplications(ctx, st.ID, membership.StatusApproved)
			if err != nil {
				return err
			}
			if approved+study.OwnerBaseline >= st.MaxParticipants {
				s.recordCapacityRejection()
				return apperrors.CapacityExceeded("study is full").
					WithDetails("capacity", st.MaxParticipants)
			}
			if _, err := tx.AdjustParticipantCount(ctx, st.ID, 1); err != nil {
				if errors.Is(err, storage.ErrCounterBounds) {
					s.recordCapacityRejection()
					return apperrors.CapacityExceeded("study is full").
						WithDetails("capacity", st.MaxParticipants)
				}
				return err
			}
		}

		updated, err = tx.UpdateApplicationStatus(ctx, applicationID, decision)
		return err
	})
	if err != nil {
		return membership.Application{}, err
	}

	s.recordTransition(decision)
	s.log.WithField("application_id", applicationID).
		WithField("status", string(decision)).
		Info("application decided")
	return updated, nil
}

// Cancel withdraws the requester's own application. Cancelling an approved
// application frees its slot; rejected and kicked applications (terminal by
// someone else's hand) cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, applicationID, requesterID string) (membership.Application, error) {
	var updated membership.Application
	err := s.ledger.InTx(ctx, func(tx storage.MembershipTx) error {
		app, err := tx.GetApplication(ctx, applicationID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NotFound("application does not exist")
		}
		if err != nil {
			return err
		}

		if app.UserID != requesterID {
			return apperrors.Forbidden("only the applicant can cancel an application")
		}
		if !membership.CanTransition(app.Status, membership.StatusCancelled) {
			return apperrors.InvalidTransition("application can no longer be cancelled").
				WithDetails("status", string(app.Status))
		}

		if app.Status == membership.StatusApproved {
			// A soft-deleted study no longer carries a counter to maintain,
			// so the cancel degrades to a plain status write. The stores
			// report the missing row differently (not-found vs a guard miss).
			if _, err := tx.AdjustParticipantCount(ctx, app.StudyID, -1); err != nil &&
				!errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrCounterBounds) {
				return err
			}
		}

		updated, err = tx.UpdateApplicationStatus(ctx, applicationID, membership.StatusCancelled)
		return err
	})
	if err != nil {
		return membership.Application{}, err
	}

	s.recordTransition(membership.StatusCancelled)
	s.log.WithField("application_id", applicationID).Info("application cancelled")
	return updated, nil
}

// Kick removes an approved member from a study. Only the owner may kick, the
// owner cannot be kicked, and only approved members hold a slot to free.
func (s *Service) Kick(ctx context.Context, studyID, targetUserID, requesterID string) (membership.Application, error) {
	var updated membership.Application
	err := s.ledger.InTx(ctx, func(tx storage.MembershipTx) error {
		st, err := tx.StudyForUpdate(ctx, studyID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NotFound("study does not exist")
		}
		if err != nil {
			return err
		}

		if st.OwnerID != requesterID {
			return apperrors.Forbidden("only the study owner can remove members")
		}
		if targetUserID == st.OwnerID {
			return apperrors.Forbidden("the study owner cannot be removed")
		}

		app, err := tx.GetApplicationByStudyAndUser(ctx, studyID, targetUserID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NotFound("no application for this member")
		}
		if err != nil {
			return err
		}

		if app.Status != membership.StatusApproved {
			return apperrors.InvalidTransition("only approved members can be removed").
				WithDetails("status", string(app.Status))
		}

		if _, err := tx.AdjustParticipantCount(ctx, studyID, -1); err != nil {
			return err
		}

		updated, err = tx.UpdateApplicationStatus(ctx, app.ID, membership.StatusKicked)
		return err
	})
	if err != nil {
		return membership.Application{}, err
	}

	s.recordTransition(membership.StatusKicked)
	s.log.WithField("study_id", studyID).
		WithField("user_id", targetUserID).
		Info("member removed")
	return updated, nil
}

func (s *Service) recordTransition(to membership.Status) {
	if s.metrics != nil {
		s.metrics.RecordTransition(string(to))
	}
}

func (s *Service) recordCapacityRejection() {
	if s.metrics != nil {
		s.metrics.RecordCapacityRejection()
	}
}
