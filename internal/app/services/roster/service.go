// Package roster serves the read-side projections of the membership ledger:
// who is in a study, and which studies a user has applied to. It never writes.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/studycrew/studycrew/internal/app/domain/membership"
	"github.com/studycrew/studycrew/internal/app/domain/study"
	"github.com/studycrew/studycrew/internal/app/storage"
	apperrors "github.com/studycrew/studycrew/internal/errors"
	"github.com/studycrew/studycrew/pkg/logger"
)

// DefaultVisibility is the status set projected when the caller does not ask
// for specific statuses.
var DefaultVisibility = []membership.Status{
	membership.StatusApproved,
	membership.StatusPending,
}

const cacheTTL = 30 * time.Second

// Entry is one occupant on a study roster. The owner appears first with
// IsAuthor set and no application backing it.
type Entry struct {
	UserID        string            `json:"userId"`
	Handle        string            `json:"handle"`
	Nickname      string            `json:"nickname,omitempty"`
	IsAuthor      bool              `json:"isAuthor"`
	Status        membership.Status `json:"status,omitempty"`
	ApplicationID string            `json:"applicationId,omitempty"`
	AppliedAt     *time.Time        `json:"appliedAt,omitempty"`
}

// Roster is the projection returned by RosterOf.
type Roster struct {
	StudyID string  `json:"studyId"`
	Entries []Entry `json:"entries"`
}

// UserApplication joins one of a user's applications with a summary of the
// study it targets.
type UserApplication struct {
	Application membership.Application `json:"application"`
	Study       study.Summary          `json:"study"`
}

// Service answers membership queries.
type Service struct {
	studies storage.StudyStore
	ledger  storage.ApplicationStore
	users   storage.UserDirectory
	cache   *redis.Client
	log     *logger.Logger
}

// New constructs the query service. cache may be nil; the service then reads
// through to the store on every call.
func New(studies storage.StudyStore, ledger storage.ApplicationStore, users storage.UserDirectory, cache *redis.Client, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("roster")
	}
	return &Service{studies: studies, ledger: ledger, users: users, cache: cache, log: log}
}

// RosterOf projects the occupants of a study: the owner, then applications
// whose status is in the visibility set, annotated with display identity.
// Results for the default visibility set are cached briefly; the cache is
// never consulted for authorization decisions.
func (s *Service) RosterOf(ctx context.Context, studyID string, visibility []membership.Status) (Roster, error) {
	if len(visibility) == 0 {
		visibility = DefaultVisibility
	}
	for _, status := range visibility {
		if !status.Valid() {
			return Roster{}, apperrors.InvalidInput("unknown status in visibility filter").
				WithDetails("status", string(status))
		}
	}

	cacheable := isDefaultVisibility(visibility)
	if cacheable {
		if roster, ok := s.cachedRoster(ctx, studyID); ok {
			return roster, nil
		}
	}

	st, err := s.studies.GetStudy(ctx, studyID)
	if errors.Is(err, storage.ErrNotFound) {
		return Roster{}, apperrors.NotFound("study does not exist")
	}
	if err != nil {
		return Roster{}, err
	}

	apps, err := s.ledger.ListApplicationsByStudy(ctx, studyID)
	if err != nil {
		return Roster{}, err
	}

	visible := apps[:0:0]
	ids := []string{st.OwnerID}
	for _, app := range apps {
		if !statusIn(app.Status, visibility) {
			continue
		}
		visible = append(visible, app)
		ids = append(ids, app.UserID)
	}

	identities, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return Roster{}, err
	}

	roster := Roster{StudyID: studyID, Entries: make([]Entry, 0, len(visible)+1)}
	owner := identities[st.OwnerID]
	roster.Entries = append(roster.Entries, Entry{
		UserID:   st.OwnerID,
		Handle:   owner.Handle,
		Nickname: owner.Nickname,
		IsAuthor: true,
	})
	for _, app := range visible {
		u := identities[app.UserID]
		appliedAt := app.AppliedAt
		roster.Entries = append(roster.Entries, Entry{
			UserID:        app.UserID,
			Handle:        u.Handle,
			Nickname:      u.Nickname,
			Status:        app.Status,
			ApplicationID: app.ID,
			AppliedAt:     &appliedAt,
		})
	}

	if cacheable {
		s.storeRoster(ctx, studyID, roster)
	}
	return roster, nil
}

// ApplicationsOf lists every application the user has filed, newest first,
// each joined with a summary of its study. Applications against soft-deleted
// studies are skipped.
func (s *Service) ApplicationsOf(ctx context.Context, userID string) ([]UserApplication, error) {
	apps, err := s.ledger.ListApplicationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]UserApplication, 0, len(apps))
	for _, app := range apps {
		st, err := s.studies.GetStudy(ctx, app.StudyID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, UserApplication{Application: app, Study: st.Summarize()})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Application.AppliedAt.After(out[j].Application.AppliedAt)
	})
	return out, nil
}

func (s *Service) cachedRoster(ctx context.Context, studyID string) (Roster, bool) {
	if s.cache == nil {
		return Roster{}, false
	}
	raw, err := s.cache.Get(ctx, rosterKey(studyID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.WithError(err).WithField("study_id", studyID).Warn("roster cache read failed")
		}
		return Roster{}, false
	}
	var roster Roster
	if err := json.Unmarshal(raw, &roster); err != nil {
		return Roster{}, false
	}
	return roster, true
}

func (s *Service) storeRoster(ctx context.Context, studyID string, roster Roster) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(roster)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, rosterKey(studyID), raw, cacheTTL).Err(); err != nil {
		s.log.WithError(err).WithField("study_id", studyID).Warn("roster cache write failed")
	}
}

func rosterKey(studyID string) string {
	return "roster:" + studyID
}

func isDefaultVisibility(visibility []membership.Status) bool {
	if len(visibility) != len(DefaultVisibility) {
		return false
	}
	for i, status := range visibility {
		if status != DefaultVisibility[i] {
			return false
		}
	}
	return true
}

func statusIn(status membership.Status, set []membership.Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
