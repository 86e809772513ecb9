// Package httpapi exposes the REST surface over the application services.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	gopsmem "github.com/shirou/gopsutil/v3/mem"

	app "github.com/studycrew/studycrew/internal/app"
	"github.com/studycrew/studycrew/internal/app/domain/membership"
	"github.com/studycrew/studycrew/internal/app/services/studies"
	"github.com/studycrew/studycrew/internal/app/storage"
	apperrors "github.com/studycrew/studycrew/internal/errors"
	"github.com/studycrew/studycrew/internal/httputil"
	"github.com/studycrew/studycrew/internal/metrics"
	"github.com/studycrew/studycrew/internal/middleware"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	started time.Time
}

// NewHandler returns a router exposing the core REST API. Authentication and
// the rest of the middleware stack are attached by the caller; routes that act
// on behalf of a caller additionally require a user ID on the context.
func NewHandler(application *app.Application, m *metrics.Metrics) *mux.Router {
	h := &handler{app: application, started: time.Now().UTC()}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Routes acting on behalf of a caller refuse requests with no identity
	// on the context.
	authed := func(fn http.HandlerFunc) http.Handler { return middleware.RequireUserID(fn) }

	r.Handle("/studies", authed(h.createStudy)).Methods(http.MethodPost)
	r.HandleFunc("/studies", h.listStudies).Methods(http.MethodGet)
	r.HandleFunc("/studies/ended/list", h.listEndedStudies).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}", h.getStudy).Methods(http.MethodGet)
	r.Handle("/studies/{id}", authed(h.updateStudy)).Methods(http.MethodPut)
	r.Handle("/studies/{id}", authed(h.deleteStudy)).Methods(http.MethodDelete)
	r.Handle("/studies/{studyId}/members/{userId}", authed(h.kickMember)).Methods(http.MethodDelete)

	r.Handle("/applications/{studyId}", authed(h.apply)).Methods(http.MethodPost)
	r.Handle("/applications/my", authed(h.myApplications)).Methods(http.MethodGet)
	r.HandleFunc("/applications/study/{studyId}", h.studyRoster).Methods(http.MethodGet)
	r.Handle("/applications/{applicationId}/status", authed(h.decide)).Methods(http.MethodPatch)
	r.Handle("/applications/{applicationId}", authed(h.cancel)).Methods(http.MethodDelete)

	return r
}

// Study endpoints -------------------------------------------------------------

type studyPayload struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	StartDate       time.Time `json:"startDate"`
	EndDate         time.Time `json:"endDate"`
	MaxParticipants int       `json:"maxParticipants"`
}

func (h *handler) createStudy(w http.ResponseWriter, r *http.Request) {
	var payload studyPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, apperrors.InvalidInput(err.Error()))
		return
	}

	st, err := h.app.Studies.Create(r.Context(), middleware.GetUserID(r.Context()), studies.CreateInput{
		Title:           payload.Title,
		Description:     payload.Description,
		StartDate:       payload.StartDate,
		EndDate:         payload.EndDate,
		MaxParticipants: payload.MaxParticipants,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "study created", st)
}

func (h *handler) listStudies(w http.ResponseWriter, r *http.Request) {
	filter := storage.StudyFilter{
		OwnerID: r.URL.Query().Get("owner"),
		Search:  r.URL.Query().Get("search"),
	}
	list, err := h.app.Studies.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", list)
}

func (h *handler) listEndedStudies(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Studies.ListEnded(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", list)
}

func (h *handler) getStudy(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Studies.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", st)
}

func (h *handler) updateStudy(w http.ResponseWriter, r *http.Request) {
	var payload studyPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, apperrors.InvalidInput(err.Error()))
		return
	}

	st, err := h.app.Studies.Update(r.Context(), mux.Vars(r)["id"], middleware.GetUserID(r.Context()), studies.UpdateInput{
		Title:       payload.Title,
		Description: payload.Description,
		StartDate:   payload.StartDate,
		EndDate:     payload.EndDate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "study updated", st)
}

func (h *handler) deleteStudy(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Studies.Delete(r.Context(), mux.Vars(r)["id"], middleware.GetUserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "study deleted", nil)
}

// Membership endpoints --------------------------------------------------------

func (h *handler) apply(w http.ResponseWriter, r *http.Request) {
	created, err := h.app.Lifecycle.Apply(r.Context(), mux.Vars(r)["studyId"], middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "application submitted", created)
}

func (h *handler) decide(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, apperrors.InvalidInput(err.Error()))
		return
	}

	decision := membership.NormalizeStatus(payload.Status)
	updated, err := h.app.Lifecycle.Decide(r.Context(), mux.Vars(r)["applicationId"], middleware.GetUserID(r.Context()), decision)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "application "+string(updated.Status), updated)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	updated, err := h.app.Lifecycle.Cancel(r.Context(), mux.Vars(r)["applicationId"], middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "application cancelled", updated)
}

func (h *handler) kickMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	updated, err := h.app.Lifecycle.Kick(r.Context(), vars["studyId"], vars["userId"], middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "member removed", updated)
}

func (h *handler) myApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.app.Roster.ApplicationsOf(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", apps)
}

func (h *handler) studyRoster(w http.ResponseWriter, r *http.Request) {
	var visibility []membership.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			visibility = append(visibility, membership.NormalizeStatus(strings.TrimSpace(part)))
		}
	}

	rosterView, err := h.app.Roster.RosterOf(r.Context(), mux.Vars(r)["studyId"], visibility)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", rosterView)
}

// Health ----------------------------------------------------------------------

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"status":     "ok",
		"uptime_s":   int(time.Since(h.started).Seconds()),
		"goroutines": runtime.NumGoroutine(),
	}
	if vm, err := gopsmem.VirtualMemory(); err == nil {
		stats["mem_used_percent"] = vm.UsedPercent
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats["cpu_percent"] = pct[0]
	}
	httputil.WriteSuccess(w, http.StatusOK, "", stats)
}

// Helpers ---------------------------------------------------------------------

func decodeJSON(body io.Reader, out interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := apperrors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = apperrors.Internal("request failed", err)
	}
	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}
