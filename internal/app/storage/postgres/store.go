// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/studycrew/studycrew/internal/app/domain/membership"
	"github.com/studycrew/studycrew/internal/app/domain/study"
	"github.com/studycrew/studycrew/internal/app/domain/user"
	"github.com/studycrew/studycrew/internal/app/storage"
)

// Store implements the storage interfaces over a sqlx database handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.StudyStore = (*Store)(nil)
var _ storage.MembershipStore = (*Store)(nil)
var _ storage.UserDirectory = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// --- UserDirectory ----------------------------------------------------------

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var u user.User
	err := sqlx.GetContext(ctx, s.db, &u, `
		SELECT id, handle, nickname
		FROM users
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, storage.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]user.User, error) {
	if len(ids) == 0 {
		return map[string]user.User{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, handle, nickname
		FROM users
		WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}

	var users []user.User
	if err := sqlx.SelectContext(ctx, s.db, &users, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	result := make(map[string]user.User, len(users))
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// --- StudyStore -------------------------------------------------------------

const studyColumns = `id, owner_id, title, description, start_date, end_date,
	max_participants, current_participants, created_at, updated_at, deleted_at`

func (s *Store) CreateStudy(ctx context.Context, st study.Study) (study.Study, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	if st.CurrentParticipants == 0 {
		st.CurrentParticipants = study.OwnerBaseline
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO studies (id, owner_id, title, description, start_date, end_date,
			max_participants, current_participants, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, st.ID, st.OwnerID, st.Title, st.Description, st.StartDate, st.EndDate,
		st.MaxParticipants, st.CurrentParticipants, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return study.Study{}, err
	}
	return st, nil
}

func (s *Store) GetStudy(ctx context.Context, id string) (study.Study, error) {
	return getStudy(ctx, s.db, id, false)
}

func getStudy(ctx context.Context, q sqlx.ExtContext, id string, forUpdate bool) (study.Study, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM studies
		WHERE id = $1 AND deleted_at IS NULL
	`, studyColumns)
	if forUpdate {
		query += " FOR UPDATE"
	}

	var st study.Study
	err := sqlx.GetContext(ctx, q, &st, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return study.Study{}, storage.ErrNotFound
	}
	if err != nil {
		return study.Study{}, err
	}
	return st, nil
}

func (s *Store) UpdateStudy(ctx context.Context, st study.Study) (study.Study, error) {
	existing, err := s.GetStudy(ctx, st.ID)
	if err != nil {
		return study.Study{}, err
	}

	st.OwnerID = existing.OwnerID
	st.CurrentParticipants = existing.CurrentParticipants
	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE studies
		SET title = $2, description = $3, start_date = $4, end_date = $5,
			max_participants = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`, st.ID, st.Title, st.Description, st.StartDate, st.EndDate,
		st.MaxParticipants, st.UpdatedAt)
	if err != nil {
		return study.Study{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return study.Study{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) SoftDeleteStudy(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE studies
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, now)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListStudies(ctx context.Context, filter storage.StudyFilter) ([]study.Study, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM studies
		WHERE deleted_at IS NULL
	`, studyColumns)
	var args []interface{}

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d)", len(args), len(args))
	}
	if filter.EndedOnly {
		query += " AND end_date < NOW()"
	}
	query += " ORDER BY created_at DESC"

	var result []study.Study
	if err := sqlx.SelectContext(ctx, s.db, &result, query, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// --- ApplicationStore -------------------------------------------------------

const applicationColumns = `id, study_id, user_id, status, applied_at, updated_at`

func (s *Store) GetApplication(ctx context.Context, id string) (membership.Application, error) {
	return getApplication(ctx, s.db, id)
}

func getApplication(ctx context.Context, q sqlx.ExtContext, id string) (membership.Application, error) {
	var app membership.Application
	err := sqlx.GetContext(ctx, q, &app, fmt.Sprintf(`
		SELECT %s
		FROM study_applications
		WHERE id = $1
	`, applicationColumns), id)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Application{}, storage.ErrNotFound
	}
	if err != nil {
		return membership.Application{}, err
	}
	return app, nil
}

func (s *Store) GetApplicationByStudyAndUser(ctx context.Context, studyID, userID string) (membership.Application, error) {
	return getApplicationByStudyAndUser(ctx, s.db, studyID, userID)
}

func getApplicationByStudyAndUser(ctx context.Context, q sqlx.ExtContext, studyID, userID string) (membership.Application, error) {
	var app membership.Application
	err := sqlx.GetContext(ctx, q, &app, fmt.Sprintf(`
		SELECT %s
		FROM study_applications
		WHERE study_id = $1 AND user_id = $2
		ORDER BY applied_at DESC, id DESC
		LIMIT 1
	`, applicationColumns), studyID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Application{}, storage.ErrNotFound
	}
	if err != nil {
		return membership.Application{}, err
	}
	return app, nil
}

func (s *Store) ListApplicationsByStudy(ctx context.Context, studyID string) ([]membership.Application, error) {
	var result []membership.Application
	err := sqlx.SelectContext(ctx, s.db, &result, fmt.Sprintf(`
		SELECT %s
		FROM study_applications
		WHERE study_id = $1
		ORDER BY applied_at
	`, applicationColumns), studyID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListApplicationsByUser(ctx context.Context, userID string) ([]membership.Application, error) {
	var result []membership.Application
	err := sqlx.SelectContext(ctx, s.db, &result, fmt.Sprintf(`
		SELECT %s
		FROM study_applications
		WHERE user_id = $1
		ORDER BY applied_at
	`, applicationColumns), userID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CountApplications(ctx context.Context, studyID string, status membership.Status) (int, error) {
	return countApplications(ctx, s.db, studyID, status)
}

func countApplications(ctx context.Context, q sqlx.ExtContext, studyID string, status membership.Status) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count, `
		SELECT COUNT(*)
		FROM study_applications
		WHERE study_id = $1 AND status = $2
	`, studyID, status)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// --- Transactional unit -----------------------------------------------------

type pgTx struct {
	tx *sqlx.Tx
}

var _ storage.MembershipTx = (*pgTx)(nil)

// InTx runs fn inside one database transaction. The study row lock taken by
// StudyForUpdate serializes concurrent lifecycle units on the same study.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.MembershipTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (t *pgTx) StudyForUpdate(ctx context.Context, id string) (study.Study, error) {
	return getStudy(ctx, t.tx, id, true)
}

func (t *pgTx) GetApplication(ctx context.Context, id string) (membership.Application, error) {
	return getApplication(ctx, t.tx, id)
}

func (t *pgTx) GetApplicationByStudyAndUser(ctx context.Context, studyID, userID string) (membership.Application, error) {
	return getApplicationByStudyAndUser(ctx, t.tx, studyID, userID)
}

func (t *pgTx) CountApplications(ctx context.Context, studyID string, status membership.Status) (int, error) {
	return countApplications(ctx, t.tx, studyID, status)
}

func (t *pgTx) CreateApplication(ctx context.Context, app membership.Application) (membership.Application, error) {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.AppliedAt.IsZero() {
		app.AppliedAt = now
	}
	app.UpdatedAt = now
	if app.Status == "" {
		app.Status = membership.StatusPending
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO study_applications (id, study_id, user_id, status, applied_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, app.ID, app.StudyID, app.UserID, app.Status, app.AppliedAt, app.UpdatedAt)
	if err != nil {
		return membership.Application{}, err
	}
	return app, nil
}

func (t *pgTx) UpdateApplicationStatus(ctx context.Context, id string, status membership.Status) (membership.Application, error) {
	var app membership.Application
	err := sqlx.GetContext(ctx, t.tx, &app, fmt.Sprintf(`
		UPDATE study_applications
		SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING %s
	`, applicationColumns), id, status, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Application{}, storage.ErrNotFound
	}
	if err != nil {
		return membership.Application{}, err
	}
	return app, nil
}

func (t *pgTx) AdjustParticipantCount(ctx context.Context, studyID string, delta int) (study.Study, error) {
	// The guard clause is a backstop behind the engine's own capacity check:
	// the counter never leaves [1, max_participants] even if a unit reaches
	// this point with a stale read. The caller holds the row lock, so a miss
	// here means the bounds, not a vanished row.
	var st study.Study
	err := sqlx.GetContext(ctx, t.tx, &st, fmt.Sprintf(`
		UPDATE studies
		SET current_participants = current_participants + $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
			AND current_participants + $2 >= 1
			AND current_participants + $2 <= max_participants
		RETURNING %s
	`, studyColumns), studyID, delta, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return study.Study{}, storage.ErrCounterBounds
	}
	if err != nil {
		return study.Study{}, err
	}
	return st, nil
}
