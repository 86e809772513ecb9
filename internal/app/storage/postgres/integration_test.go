package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/studycrew/studycrew/internal/app/domain/membership"
	"github.com/studycrew/studycrew/internal/app/domain/study"
	"github.com/studycrew/studycrew/internal/app/services/lifecycle"
	"github.com/studycrew/studycrew/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations and the lifecycle
// engine's transactional units work with real persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(db.DB); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	ctx := context.Background()
	store := New(db)

	suffix := time.Now().UTC().Format("20060102150405.000")
	ownerID := "it-owner-" + suffix
	aliceID := "it-alice-" + suffix
	for _, u := range [][2]string{{ownerID, "it-owner-" + suffix}, {aliceID, "it-alice-" + suffix}} {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO users (id, handle, nickname) VALUES ($1, $2, '')
		`, u[0], u[1]); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	now := time.Now().UTC()
	st, err := store.CreateStudy(ctx, study.Study{
		OwnerID:         ownerID,
		Title:           "integration study",
		StartDate:       now,
		EndDate:         now.Add(24 * time.Hour),
		MaxParticipants: 2,
	})
	if err != nil {
		t.Fatalf("create study: %v", err)
	}

	engine := lifecycle.New(store, nil)

	app, err := engine.Apply(ctx, st.ID, aliceID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	approved, err := engine.Decide(ctx, app.ID, ownerID, membership.StatusApproved)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != membership.StatusApproved {
		t.Fatalf("status = %s, want approved", approved.Status)
	}

	got, err := store.GetStudy(ctx, st.ID)
	if err != nil {
		t.Fatalf("get study: %v", err)
	}
	if got.CurrentParticipants != 2 {
		t.Fatalf("current_participants = %d, want 2", got.CurrentParticipants)
	}

	if _, err := engine.Cancel(ctx, app.ID, aliceID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err = store.GetStudy(ctx, st.ID)
	if err != nil {
		t.Fatalf("get study: %v", err)
	}
	if got.CurrentParticipants != 1 {
		t.Fatalf("current_participants = %d, want 1", got.CurrentParticipants)
	}
}
