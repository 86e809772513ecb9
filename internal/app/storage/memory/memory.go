// Package memory is an in-memory implementation of the storage interfaces. It
// is safe for concurrent use and is primarily intended for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/studycrew/studycrew/internal/app/domain/membership"
	"github.com/studycrew/studycrew/internal/app/domain/study"
	"github.com/studycrew/studycrew/internal/app/domain/user"
	"github.com/studycrew/studycrew/internal/app/storage"
)

// Store holds all records behind a single mutex. Transactional units hold the
// write lock for their full duration, which gives the same serialization the
// SQL store gets from row locks.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	studies      map[string]study.Study
	applications map[string]membership.Application
	users        map[string]user.User
}

var _ storage.StudyStore = (*Store)(nil)
var _ storage.MembershipStore = (*Store)(nil)
var _ storage.UserDirectory = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		studies:      make(map[string]study.Study),
		applications: make(map[string]membership.Application),
		users:        make(map[string]user.User),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	// Zero-padded so the lexicographic ID tiebreak in the latest-wins reads
	// follows creation order.
	return fmt.Sprintf("%08d", id)
}

// AddUser seeds a directory entry.
func (s *Store) AddUser(u user.User) user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = s.nextIDLocked()
	}
	s.users[u.ID] = u
	return u
}

// UserDirectory implementation ------------------------------------------------

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUsers(_ context.Context, ids []string) (map[string]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]user.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}

// StudyStore implementation ---------------------------------------------------

func (s *Store) CreateStudy(_ context.Context, st study.Study) (study.Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = s.nextIDLocked()
	} else if _, exists := s.studies[st.ID]; exists {
		return study.Study{}, fmt.Errorf("study %s already exists", st.ID)
	}

	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	if st.CurrentParticipants == 0 {
		st.CurrentParticipants = study.OwnerBaseline
	}

	s.studies[st.ID] = st
	return st, nil
}

func (s *Store) GetStudy(_ context.Context, id string) (study.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getStudyLocked(id)
}

func (s *Store) getStudyLocked(id string) (study.Study, error) {
	st, ok := s.studies[id]
	if !ok || st.Deleted() {
		return study.Study{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) UpdateStudy(_ context.Context, st study.Study) (study.Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getStudyLocked(st.ID)
	if err != nil {
		return study.Study{}, err
	}

	st.OwnerID = existing.OwnerID
	st.CurrentParticipants = existing.CurrentParticipants
	st.CreatedAt = existing.CreatedAt
	st.DeletedAt = existing.DeletedAt
	st.UpdatedAt = time.Now().UTC()

	s.studies[st.ID] = st
	return st, nil
}

func (s *Store) SoftDeleteStudy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.getStudyLocked(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	st.DeletedAt = &now
	st.UpdatedAt = now
	s.studies[id] = st
	return nil
}

func (s *Store) ListStudies(_ context.Context, filter storage.StudyFilter) ([]study.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var result []study.Study
	for _, st := range s.studies {
		if st.Deleted() {
			continue
		}
		if filter.OwnerID != "" && st.OwnerID != filter.OwnerID {
			continue
		}
		if filter.EndedOnly && !now.After(st.EndDate) {
			continue
		}
		if filter.Search != "" &&
			!strings.Contains(strings.ToLower(st.Title), strings.ToLower(filter.Search)) &&
			!strings.Contains(strings.ToLower(st.Description), strings.ToLower(filter.Search)) {
			continue
		}
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) GetApplication(_ context.Context, id string) (membership.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getApplicationLocked(id)
}

func (s *Store) getApplicationLocked(id string) (membership.Application, error) {
	app, ok := s.applications[id]
	if !ok {
		return membership.Application{}, storage.ErrNotFound
	}
	return app, nil
}

func (s *Store) GetApplicationByStudyAndUser(_ context.Context, studyID, userID string) (membership.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getByStudyAndUserLocked(studyID, userID)
}

func (s *Store) getByStudyAndUserLocked(studyID, userID string) (membership.Application, error) {
	// A pair can accumulate rows across re-applications; the latest one is
	// the live record.
	var latest membership.Application
	found := false
	for _, app := range s.applications {
		if app.StudyID != studyID || app.UserID != userID {
			continue
		}
		if !found || app.AppliedAt.After(latest.AppliedAt) ||
			(app.AppliedAt.Equal(latest.AppliedAt) && app.ID > latest.ID) {
			latest = app
			found = true
		}
	}
	if !found {
		return membership.Application{}, storage.ErrNotFound
	}
	return latest, nil
}

func (s *Store) ListApplicationsByStudy(_ context.Context, studyID string) ([]membership.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []membership.Application
	for _, app := range s.applications {
		if app.StudyID == studyID {
			result = append(result, app)
		}
	}
	sortApplications(result)
	return result, nil
}

func (s *Store) ListApplicationsByUser(_ context.Context, userID string) ([]membership.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []membership.Application
	for _, app := range s.applications {
		if app.UserID == userID {
			result = append(result, app)
		}
	}
	sortApplications(result)
	return result, nil
}

func (s *Store) CountApplications(_ context.Context, studyID string, status membership.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(studyID, status), nil
}

func (s *Store) countLocked(studyID string, status membership.Status) int {
	count := 0
	for _, app := range s.applications {
		if app.StudyID == studyID && app.Status == status {
			count++
		}
	}
	return count
}

func sortApplications(apps []membership.Application) {
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].AppliedAt.Equal(apps[j].AppliedAt) {
			return apps[i].ID < apps[j].ID
		}
		return apps[i].AppliedAt.Before(apps[j].AppliedAt)
	})
}

// Transactional unit ----------------------------------------------------------

type memTx struct {
	store *Store
	undo  []func()
}

// InTx holds the store lock for the duration of fn. Mutations are undone in
// reverse order if fn fails, so a unit is applied fully or not at all.
func (s *Store) InTx(_ context.Context, fn func(tx storage.MembershipTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (t *memTx) StudyForUpdate(_ context.Context, id string) (study.Study, error) {
	return t.store.getStudyLocked(id)
}

func (t *memTx) GetApplication(_ context.Context, id string) (membership.Application, error) {
	return t.store.getApplicationLocked(id)
}

func (t *memTx) GetApplicationByStudyAndUser(_ context.Context, studyID, userID string) (membership.Application, error) {
	return t.store.getByStudyAndUserLocked(studyID, userID)
}

func (t *memTx) CountApplications(_ context.Context, studyID string, status membership.Status) (int, error) {
	return t.store.countLocked(studyID, status), nil
}

func (t *memTx) CreateApplication(_ context.Context, app membership.Application) (membership.Application, error) {
	if app.ID == "" {
		app.ID = t.store.nextIDLocked()
	} else if _, exists := t.store.applications[app.ID]; exists {
		return membership.Application{}, fmt.Errorf("application %s already exists", app.ID)
	}

	now := time.Now().UTC()
	if app.AppliedAt.IsZero() {
		app.AppliedAt = now
	}
	app.UpdatedAt = now
	if app.Status == "" {
		app.Status = membership.StatusPending
	}

	t.store.applications[app.ID] = app
	id := app.ID
	t.undo = append(t.undo, func() { delete(t.store.applications, id) })
	return app, nil
}

func (t *memTx) UpdateApplicationStatus(_ context.Context, id string, status membership.Status) (membership.Application, error) {
	app, ok := t.store.applications[id]
	if !ok {
		return membership.Application{}, storage.ErrNotFound
	}

	previous := app
	app.Status = status
	app.UpdatedAt = time.Now().UTC()
	t.store.applications[id] = app
	t.undo = append(t.undo, func() { t.store.applications[id] = previous })
	return app, nil
}

func (t *memTx) AdjustParticipantCount(_ context.Context, studyID string, delta int) (study.Study, error) {
	st, err := t.store.getStudyLocked(studyID)
	if err != nil {
		return study.Study{}, err
	}

	next := st.CurrentParticipants + delta
	if next < study.OwnerBaseline || next > st.MaxParticipants {
		return study.Study{}, storage.ErrCounterBounds
	}

	previous := st
	st.CurrentParticipants = next
	st.UpdatedAt = time.Now().UTC()
	t.store.studies[studyID] = st
	t.undo = append(t.undo, func() { t.store.studies[studyID] = previous })
	return st, nil
}

var _ storage.MembershipTx = (*memTx)(nil)
