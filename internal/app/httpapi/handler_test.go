package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	app "github.com/studycrew/studycrew/internal/app"
	"github.com/studycrew/studycrew/internal/app/domain/user"
	"github.com/studycrew/studycrew/internal/app/storage/memory"
	"github.com/studycrew/studycrew/internal/logging"
)

type fixture struct {
	handler http.Handler
	store   *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.AddUser(user.User{ID: "owner", Handle: "owner", Nickname: "The Owner"})
	store.AddUser(user.User{ID: "alice", Handle: "alice"})
	store.AddUser(user.User{ID: "bob", Handle: "bob"})

	application := app.New(app.Stores{Studies: store, Memberships: store, Users: store}, app.Options{}, nil)
	return &fixture{handler: NewHandler(application, nil), store: store}
}

func (f *fixture) do(t *testing.T, userID, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if userID != "" {
		req = req.WithContext(logging.WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createStudy(t *testing.T, ownerID string, maxParticipants int) string {
	t.Helper()
	now := time.Now().UTC()
	rec := f.do(t, ownerID, http.MethodPost, "/studies", map[string]interface{}{
		"title":           "test study",
		"description":     "a study",
		"startDate":       now.Format(time.RFC3339),
		"endDate":         now.Add(30 * 24 * time.Hour).Format(time.RFC3339),
		"maxParticipants": maxParticipants,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create study: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return gjson.GetBytes(rec.Body.Bytes(), "data.id").String()
}

func (f *fixture) apply(t *testing.T, studyID, userID string) string {
	t.Helper()
	rec := f.do(t, userID, http.MethodPost, "/applications/"+studyID, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("apply: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return gjson.GetBytes(rec.Body.Bytes(), "data.id").String()
}

func TestStudyCRUD(t *testing.T) {
	f := newFixture(t)
	id := f.createStudy(t, "owner", 4)

	rec := f.do(t, "alice", http.MethodGet, "/studies/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get study: expected 200, got %d", rec.Code)
	}
	if got := gjson.GetBytes(rec.Body.Bytes(), "data.currentParticipants").Int(); got != 1 {
		t.Fatalf("currentParticipants = %d, want 1", got)
	}

	rec = f.do(t, "alice", http.MethodPut, "/studies/"+id, map[string]interface{}{
		"title":     "renamed",
		"startDate": time.Now().UTC().Format(time.RFC3339),
		"endDate":   time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner update: expected 403, got %d", rec.Code)
	}

	rec = f.do(t, "owner", http.MethodDelete, "/studies/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete study: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, "alice", http.MethodGet, "/studies/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted study: expected 404, got %d", rec.Code)
	}
	if code := gjson.GetBytes(rec.Body.Bytes(), "error.code").String(); code != "NOT_FOUND" {
		t.Fatalf("error code = %q, want NOT_FOUND", code)
	}
}

func TestMembershipFlow(t *testing.T) {
	f := newFixture(t)
	studyID := f.createStudy(t, "owner", 3)
	appID := f.apply(t, studyID, "alice")

	// Legacy spelling normalizes to approved.
	rec := f.do(t, "owner", http.MethodPatch, "/applications/"+appID+"/status", map[string]string{"status": "accepted"})
	if rec.Code != http.StatusOK {
		t.Fatalf("decide: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := gjson.GetBytes(rec.Body.Bytes(), "data.status").String(); got != "approved" {
		t.Fatalf("status = %q, want approved", got)
	}

	rec = f.do(t, "bob", http.MethodGet, "/applications/study/"+studyID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("roster: expected 200, got %d", rec.Code)
	}
	entries := gjson.GetBytes(rec.Body.Bytes(), "data.entries")
	if n := len(entries.Array()); n != 2 {
		t.Fatalf("roster entries = %d, want 2", n)
	}
	if !entries.Get("0.isAuthor").Bool() {
		t.Fatal("first roster entry should be the owner")
	}

	rec = f.do(t, "alice", http.MethodGet, "/applications/my", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("my applications: expected 200, got %d", rec.Code)
	}
	if got := gjson.GetBytes(rec.Body.Bytes(), "data.0.study.title").String(); got != "test study" {
		t.Fatalf("study title = %q, want %q", got, "test study")
	}

	rec = f.do(t, "owner", http.MethodDelete, "/studies/"+studyID+"/members/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("kick: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := gjson.GetBytes(rec.Body.Bytes(), "data.status").String(); got != "kicked" {
		t.Fatalf("status = %q, want kicked", got)
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture(t)
	studyID := f.createStudy(t, "owner", 3)
	appID := f.apply(t, studyID, "alice")

	rec := f.do(t, "bob", http.MethodDelete, "/applications/"+appID, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cancel by stranger: expected 403, got %d", rec.Code)
	}

	rec = f.do(t, "alice", http.MethodDelete, "/applications/"+appID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, "alice", http.MethodDelete, "/applications/"+appID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel twice: expected 409, got %d", rec.Code)
	}
	if code := gjson.GetBytes(rec.Body.Bytes(), "error.code").String(); code != "INVALID_TRANSITION" {
		t.Fatalf("error code = %q, want INVALID_TRANSITION", code)
	}
}

func TestCapacityConflict(t *testing.T) {
	f := newFixture(t)
	studyID := f.createStudy(t, "owner", 2)

	first := f.apply(t, studyID, "alice")
	second := f.apply(t, studyID, "bob")

	rec := f.do(t, "owner", http.MethodPatch, "/applications/"+first+"/status", map[string]string{"status": "approved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first approval: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, "owner", http.MethodPatch, "/applications/"+second+"/status", map[string]string{"status": "approved"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second approval: expected 409, got %d", rec.Code)
	}
	if code := gjson.GetBytes(rec.Body.Bytes(), "error.code").String(); code != "CAPACITY_EXCEEDED" {
		t.Fatalf("error code = %q, want CAPACITY_EXCEEDED", code)
	}
}

func TestDuplicateApplication(t *testing.T) {
	f := newFixture(t)
	studyID := f.createStudy(t, "owner", 3)
	f.apply(t, studyID, "alice")

	rec := f.do(t, "alice", http.MethodPost, "/applications/"+studyID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate apply: expected 409, got %d", rec.Code)
	}
	if code := gjson.GetBytes(rec.Body.Bytes(), "error.code").String(); code != "CONFLICT" {
		t.Fatalf("error code = %q, want CONFLICT", code)
	}
}

func TestEndedStudiesList(t *testing.T) {
	f := newFixture(t)
	f.createStudy(t, "owner", 3)

	rec := f.do(t, "owner", http.MethodGet, "/studies/ended/list", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ended list: expected 200, got %d", rec.Code)
	}
	if n := len(gjson.GetBytes(rec.Body.Bytes(), "data").Array()); n != 0 {
		t.Fatalf("ended studies = %d, want 0", n)
	}
}

func TestAnonymousWriteRejected(t *testing.T) {
	f := newFixture(t)
	studyID := f.createStudy(t, "owner", 3)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/studies"},
		{http.MethodPost, "/applications/" + studyID},
		{http.MethodGet, "/applications/my"},
		{http.MethodDelete, "/studies/" + studyID},
	} {
		rec := f.do(t, "", tc.method, tc.path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without identity: expected 401, got %d", tc.method, tc.path, rec.Code)
		}
		if code := gjson.GetBytes(rec.Body.Bytes(), "error.code").String(); code != "UNAUTHORIZED" {
			t.Fatalf("%s %s error code = %q, want UNAUTHORIZED", tc.method, tc.path, code)
		}
	}

	// Plain reads stay open at this layer.
	if rec := f.do(t, "", http.MethodGet, "/studies", nil); rec.Code != http.StatusOK {
		t.Fatalf("GET /studies without identity: expected 200, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "", http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	if status := gjson.GetBytes(rec.Body.Bytes(), "data.status").String(); status != "ok" {
		t.Fatalf("health status = %q, want ok", status)
	}
}
