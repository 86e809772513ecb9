package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/studycrew/studycrew/internal/app/domain/membership"
	"github.com/studycrew/studycrew/internal/app/domain/study"
	"github.com/studycrew/studycrew/internal/app/domain/user"
	"github.com/studycrew/studycrew/internal/app/storage"
)

func seedStudy(t *testing.T, s *Store, max int) study.Study {
	t.Helper()
	s.AddUser(user.User{ID: "owner", Handle: "owner"})
	st, err := s.CreateStudy(context.Background(), study.Study{
		OwnerID:         "owner",
		Title:           "test",
		MaxParticipants: max,
	})
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	return st
}

func TestCreateStudyDefaultsCounter(t *testing.T) {
	s := New()
	st := seedStudy(t, s, 3)
	if st.CurrentParticipants != 1 {
		t.Fatalf("CurrentParticipants = %d, want 1", st.CurrentParticipants)
	}
	if st.ID == "" {
		t.Fatal("expected an assigned ID")
	}
}

func TestSoftDeleteHidesStudy(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStudy(t, s, 3)

	if err := s.SoftDeleteStudy(ctx, st.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := s.GetStudy(ctx, st.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.SoftDeleteStudy(ctx, st.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestLatestApplicationWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStudy(t, s, 3)
	s.AddUser(user.User{ID: "alice", Handle: "alice"})

	var first membership.Application
	err := s.InTx(ctx, func(tx storage.MembershipTx) error {
		var err error
		first, err = tx.CreateApplication(ctx, membership.Application{
			StudyID: st.ID, UserID: "alice", Status: membership.StatusPending,
		})
		if err != nil {
			return err
		}
		_, err = tx.UpdateApplicationStatus(ctx, first.ID, membership.StatusRejected)
		return err
	})
	if err != nil {
		t.Fatalf("first round: %v", err)
	}

	var second membership.Application
	err = s.InTx(ctx, func(tx storage.MembershipTx) error {
		var err error
		second, err = tx.CreateApplication(ctx, membership.Application{
			StudyID: st.ID, UserID: "alice", Status: membership.StatusPending,
		})
		return err
	})
	if err != nil {
		t.Fatalf("second round: %v", err)
	}

	latest, err := s.GetApplicationByStudyAndUser(ctx, st.ID, "alice")
	if err != nil {
		t.Fatalf("get by pair: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("latest = %s, want %s", latest.ID, second.ID)
	}
}

func TestLatestApplicationWinsAcrossIDWidths(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStudy(t, s, 3)
	s.AddUser(user.User{ID: "alice", Handle: "alice"})

	// Equal AppliedAt forces the ID tiebreak; enough rows to cross a digit
	// boundary in the generated IDs.
	appliedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	var last membership.Application
	for i := 0; i < 10; i++ {
		err := s.InTx(ctx, func(tx storage.MembershipTx) error {
			app, err := tx.CreateApplication(ctx, membership.Application{
				StudyID: st.ID, UserID: "alice", Status: membership.StatusPending,
				AppliedAt: appliedAt,
			})
			if err != nil {
				return err
			}
			last = app
			if i < 9 {
				_, err = tx.UpdateApplicationStatus(ctx, app.ID, membership.StatusCancelled)
			}
			return err
		})
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}

	latest, err := s.GetApplicationByStudyAndUser(ctx, st.ID, "alice")
	if err != nil {
		t.Fatalf("get by pair: %v", err)
	}
	if latest.ID != last.ID {
		t.Fatalf("latest = %s, want %s", latest.ID, last.ID)
	}
	if latest.Status != membership.StatusPending {
		t.Fatalf("latest status = %s, want pending", latest.Status)
	}
}

func TestInTxUndoOnFailure(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStudy(t, s, 3)
	s.AddUser(user.User{ID: "alice", Handle: "alice"})

	sentinel := errors.New("unit failed")
	err := s.InTx(ctx, func(tx storage.MembershipTx) error {
		if _, err := tx.CreateApplication(ctx, membership.Application{
			StudyID: st.ID, UserID: "alice", Status: membership.StatusPending,
		}); err != nil {
			return err
		}
		if _, err := tx.AdjustParticipantCount(ctx, st.ID, 1); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}

	// Everything the unit touched must be rolled back.
	if _, err := s.GetApplicationByStudyAndUser(ctx, st.ID, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("application survived rollback: err = %v", err)
	}
	got, err := s.GetStudy(ctx, st.ID)
	if err != nil {
		t.Fatalf("get study: %v", err)
	}
	if got.CurrentParticipants != 1 {
		t.Fatalf("CurrentParticipants = %d, want 1", got.CurrentParticipants)
	}
}

func TestAdjustParticipantCountBounds(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := seedStudy(t, s, 2)

	tests := []struct {
		name  string
		delta int
	}{
		{"below floor", -1},
		{"above capacity", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.InTx(ctx, func(tx storage.MembershipTx) error {
				_, err := tx.AdjustParticipantCount(ctx, st.ID, tt.delta)
				return err
			})
			if !errors.Is(err, storage.ErrCounterBounds) {
				t.Fatalf("err = %v, want ErrCounterBounds", err)
			}
		})
	}
}

func TestListStudiesFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddUser(user.User{ID: "owner", Handle: "owner"})
	s.AddUser(user.User{ID: "other", Handle: "other"})

	mk := func(ownerID, title string) {
		if _, err := s.CreateStudy(ctx, study.Study{
			OwnerID: ownerID, Title: title, MaxParticipants: 3,
		}); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	mk("owner", "golang basics")
	mk("owner", "rust basics")
	mk("other", "golang advanced")

	byOwner, err := s.ListStudies(ctx, storage.StudyFilter{OwnerID: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byOwner) != 1 {
		t.Fatalf("by owner = %d, want 1", len(byOwner))
	}

	bySearch, err := s.ListStudies(ctx, storage.StudyFilter{Search: "GOLANG"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySearch) != 2 {
		t.Fatalf("by search = %d, want 2", len(bySearch))
	}
}
