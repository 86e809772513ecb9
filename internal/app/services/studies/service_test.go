package studies

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studycrew/studycrew/internal/app/domain/user"
	"github.com/studycrew/studycrew/internal/app/storage"
	"github.com/studycrew/studycrew/internal/app/storage/memory"
	apperrors "github.com/studycrew/studycrew/internal/errors"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.AddUser(user.User{ID: "owner", Handle: "owner"})
	store.AddUser(user.User{ID: "mallory", Handle: "mallory"})
	return New(store, nil), store
}

func validInput() CreateInput {
	now := time.Now().UTC()
	return CreateInput{
		Title:           "operating systems",
		Description:     "weekly reading group",
		StartDate:       now,
		EndDate:         now.Add(30 * 24 * time.Hour),
		MaxParticipants: 4,
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	st, err := svc.Create(ctx, "owner", validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "owner", st.OwnerID)
	assert.Equal(t, 1, st.CurrentParticipants)

	t.Run("title required", func(t *testing.T) {
		in := validInput()
		in.Title = "   "
		_, err := svc.Create(ctx, "owner", in)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetServiceError(err).Code)
	})

	t.Run("capacity floor", func(t *testing.T) {
		in := validInput()
		in.MaxParticipants = 1
		_, err := svc.Create(ctx, "owner", in)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetServiceError(err).Code)
	})

	t.Run("end before start", func(t *testing.T) {
		in := validInput()
		in.EndDate = in.StartDate.Add(-time.Hour)
		_, err := svc.Create(ctx, "owner", in)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetServiceError(err).Code)
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	st, err := svc.Create(ctx, "owner", validInput())
	require.NoError(t, err)

	got, err := svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)

	_, err = svc.Get(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetServiceError(err).Code)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	st, err := svc.Create(ctx, "owner", validInput())
	require.NoError(t, err)

	in := UpdateInput{
		Title:       "distributed systems",
		Description: st.Description,
		StartDate:   st.StartDate,
		EndDate:     st.EndDate,
	}

	t.Run("owner only", func(t *testing.T) {
		_, err := svc.Update(ctx, st.ID, "mallory", in)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeForbidden, apperrors.GetServiceError(err).Code)
	})

	t.Run("edits descriptive fields", func(t *testing.T) {
		updated, err := svc.Update(ctx, st.ID, "owner", in)
		require.NoError(t, err)
		assert.Equal(t, "distributed systems", updated.Title)
		assert.Equal(t, st.CurrentParticipants, updated.CurrentParticipants)
		assert.Equal(t, "owner", updated.OwnerID)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	st, err := svc.Create(ctx, "owner", validInput())
	require.NoError(t, err)

	t.Run("owner only", func(t *testing.T) {
		err := svc.Delete(ctx, st.ID, "mallory")
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeForbidden, apperrors.GetServiceError(err).Code)
	})

	t.Run("deleted studies stop resolving", func(t *testing.T) {
		require.NoError(t, svc.Delete(ctx, st.ID, "owner"))
		_, err := svc.Get(ctx, st.ID)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeNotFound, apperrors.GetServiceError(err).Code)
	})
}

func TestListEnded(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	past := validInput()
	past.Title = "finished"
	past.StartDate = time.Now().UTC().Add(-60 * 24 * time.Hour)
	past.EndDate = time.Now().UTC().Add(-time.Hour)
	_, err := svc.Create(ctx, "owner", past)
	require.NoError(t, err)

	_, err = svc.Create(ctx, "owner", validInput())
	require.NoError(t, err)

	ended, err := svc.ListEnded(ctx)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "finished", ended[0].Title)

	all, err := svc.List(ctx, storage.StudyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
