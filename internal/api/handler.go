// Package api is the HTTP control surface: trigger CRUD, resource
// state, manual transitions and recent history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Myster-Pmf/Lightning/internal/domain"
	"github.com/Myster-Pmf/Lightning/internal/monitor"
	"github.com/Myster-Pmf/Lightning/internal/schedule"
	"github.com/Myster-Pmf/Lightning/internal/store"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// TriggerStore is the persistence surface the handler needs. Both the
// file and postgres stores satisfy it.
type TriggerStore interface {
	Create(ctx context.Context, t domain.Trigger) error
	Get(ctx context.Context, id uuid.UUID) (domain.Trigger, error)
	Update(ctx context.Context, t domain.Trigger) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, enabledOnly bool) ([]domain.Trigger, error)
}

// StateEngine reads cached resource state and accepts transitions.
// Satisfied by *monitor.Monitor.
type StateEngine interface {
	Snapshot() []domain.Resource
	Current(id domain.ResourceID) (domain.State, time.Time, error)
	Uptime(id domain.ResourceID) (time.Duration, time.Time, error)
	RequestTransition(ctx context.Context, id domain.ResourceID, action domain.Action, machine domain.MachineType) (*monitor.TransitionHandle, error)
}

// History serves recent executions and state changes. Satisfied by
// *eventlog.MemorySink.
type History interface {
	RecentExecutions(triggerID uuid.UUID, limit int) []domain.ExecutionRecord
	RecentStateChanges(limit int) []domain.StateChange
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store   TriggerStore
	engine  StateEngine
	history History
	loc     *time.Location
	clock   func() time.Time
	db      HealthChecker
}

func NewHandler(store TriggerStore, engine StateEngine, history History, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		store:   store,
		engine:  engine,
		history: history,
		loc:     loc,
		clock:   time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithClock overrides the time source. Only for tests.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/triggers" && r.Method == http.MethodPost:
		h.createTrigger(w, r)

	case path == "/triggers" && r.Method == http.MethodGet:
		h.listTriggers(w, r)

	case len(parts) == 2 && parts[0] == "triggers" && r.Method == http.MethodGet:
		h.getTrigger(w, r, parts[1])

	case len(parts) == 2 && parts[0] == "triggers" && r.Method == http.MethodPut:
		h.updateTrigger(w, r, parts[1])

	case len(parts) == 2 && parts[0] == "triggers" && r.Method == http.MethodDelete:
		h.deleteTrigger(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "triggers" && parts[2] == "toggle" && r.Method == http.MethodPost:
		h.toggleTrigger(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "triggers" && parts[2] == "executions" && r.Method == http.MethodGet:
		h.listExecutions(w, r, parts[1])

	case path == "/resources" && r.Method == http.MethodGet:
		h.listResources(w, r)

	case len(parts) == 2 && parts[0] == "resources" && r.Method == http.MethodGet:
		h.getResource(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "resources" && parts[2] == "uptime" && r.Method == http.MethodGet:
		h.getUptime(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "resources" && parts[2] == "transition" && r.Method == http.MethodPost:
		h.requestTransition(w, r, parts[1])

	case path == "/events" && r.Method == http.MethodGet:
		h.listStateChanges(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components["database"] = "unhealthy: " + err.Error()
		} else {
			resp.Components["database"] = "healthy"
		}
	}

	// A resource stuck in error degrades health so a probe notices
	// without scraping metrics.
	errored := 0
	for _, res := range h.engine.Snapshot() {
		if res.State == domain.StateError {
			errored++
		}
	}
	if errored > 0 {
		resp.Status = "degraded"
		resp.Components["resources"] = strconv.Itoa(errored) + " in error state"
	} else {
		resp.Components["resources"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	t, err := buildTrigger(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()
	next, err := schedule.NextAfter(t.Recurrence, now, h.loc)
	if err != nil {
		// A once trigger whose instant already passed would be spent on
		// arrival; reject instead of storing a dead trigger.
		writeError(w, http.StatusBadRequest, "recurrence has no future occurrence: "+err.Error())
		return
	}

	t.ID = uuid.New()
	t.NextFireAt = next
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := h.store.Create(r.Context(), t); err != nil {
		log.Printf("api: create trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create trigger")
		return
	}

	writeJSON(w, http.StatusCreated, triggerResponse(t))
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	triggers, err := h.store.List(r.Context(), enabledOnly)
	if err != nil {
		log.Printf("api: list triggers error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, len(triggers))}
	for i, t := range triggers {
		resp.Triggers[i] = triggerResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getTrigger(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTriggerNotFound) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: get trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get trigger")
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse(t))
}

func (h *Handler) updateTrigger(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	var req TriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := buildTrigger(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTriggerNotFound) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: get trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update trigger")
		return
	}

	now := h.clock().UTC()
	next, err := schedule.NextAfter(updated.Recurrence, now, h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "recurrence has no future occurrence: "+err.Error())
		return
	}

	// Editing the recurrence reactivates a spent trigger: the new
	// occurrence replaces the consumed one.
	updated.ID = existing.ID
	updated.Status = domain.TriggerStatusActive
	updated.NextFireAt = next
	updated.LastFiredAt = existing.LastFiredAt
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = now

	if err := h.store.Update(r.Context(), updated); err != nil {
		log.Printf("api: update trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update trigger")
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse(updated))
}

func (h *Handler) deleteTrigger(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrTriggerNotFound) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: delete trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete trigger")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleTrigger(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTriggerNotFound) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: get trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to toggle trigger")
		return
	}

	now := h.clock().UTC()
	t.Enabled = !t.Enabled
	t.UpdatedAt = now

	// Re-enabling recomputes the next occurrence from now so the
	// trigger does not immediately fire for every instant it sat
	// disabled through.
	if t.Enabled && t.Status == domain.TriggerStatusActive {
		next, err := schedule.NextAfter(t.Recurrence, now, h.loc)
		if err != nil {
			if !errors.Is(err, schedule.ErrSpent) {
				log.Printf("api: recompute next fire for %s: %v", t.ID, err)
			}
			t.Status = domain.TriggerStatusSpent
			t.NextFireAt = time.Time{}
		} else {
			t.NextFireAt = next
		}
	}

	if err := h.store.Update(r.Context(), t); err != nil {
		log.Printf("api: toggle trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to toggle trigger")
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse(t))
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := h.history.RecentExecutions(id, limit)
	resp := ListExecutionsResponse{Executions: make([]ExecutionResponse, len(records))}
	for i, rec := range records {
		resp.Executions[i] = executionResponse(rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	snapshot := h.engine.Snapshot()
	resp := ListResourcesResponse{Resources: make([]ResourceResponse, len(snapshot))}
	for i, res := range snapshot {
		resp.Resources[i] = ResourceResponse{
			Resource:        res.ID.String(),
			State:           string(res.State),
			ObservedAt:      formatTimeOpt(res.ObservedAt),
			LastMachineType: string(res.LastMachineType),
			LastError:       res.LastError,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getResource(w http.ResponseWriter, r *http.Request, name string) {
	id, ok := h.resolveResource(name)
	if !ok {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	state, observedAt, err := h.engine.Current(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, ResourceResponse{
		Resource:   id.String(),
		State:      string(state),
		ObservedAt: formatTimeOpt(observedAt),
	})
}

func (h *Handler) getUptime(w http.ResponseWriter, r *http.Request, name string) {
	id, ok := h.resolveResource(name)
	if !ok {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	state, _, err := h.engine.Current(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	uptime, since, err := h.engine.Uptime(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, UptimeResponse{
		Resource:      id.String(),
		State:         string(state),
		Running:       !since.IsZero(),
		RunningSince:  formatTimeOpt(since),
		UptimeSeconds: uptime.Seconds(),
	})
}

func (h *Handler) requestTransition(w http.ResponseWriter, r *http.Request, name string) {
	id, ok := h.resolveResource(name)
	if !ok {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	var req TransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	action, machine, err := validateTransition(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = h.engine.RequestTransition(r.Context(), id, action, machine)
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrConflict):
			writeError(w, http.StatusConflict, "transition already in flight")
		case errors.Is(err, monitor.ErrUnknownResource):
			writeError(w, http.StatusNotFound, "resource not found")
		default:
			log.Printf("api: transition %s %s error: %v", id, action, err)
			writeError(w, http.StatusBadGateway, "control api rejected the request")
		}
		return
	}

	state, _, _ := h.engine.Current(id)
	writeJSON(w, http.StatusAccepted, TransitionResponse{
		Resource:    id.String(),
		Action:      string(action),
		State:       string(state),
		RequestedAt: formatTime(h.clock()),
	})
}

func (h *Handler) listStateChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := h.history.RecentStateChanges(limit)
	resp := ListStateChangesResponse{Events: make([]StateChangeResponse, len(events))}
	for i, ev := range events {
		resp.Events[i] = StateChangeResponse{
			ID:         ev.ID.String(),
			Resource:   ev.Resource.String(),
			From:       string(ev.From),
			To:         string(ev.To),
			Reason:     ev.Reason,
			ObservedAt: formatTime(ev.ObservedAt),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveResource finds a tracked resource by its unique name.
func (h *Handler) resolveResource(name string) (domain.ResourceID, bool) {
	for _, res := range h.engine.Snapshot() {
		if res.ID.Name == name {
			return res.ID, true
		}
	}
	return domain.ResourceID{}, false
}

// decodeBody decodes a size-limited JSON body, writing the error
// response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseLimit extracts and validates the limit query parameter.
func parseLimit(r *http.Request) (int, error) {
	limit := DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, strconv.ErrRange
		}
		if n > MaxLimit {
			return 0, &limitExceededError{max: MaxLimit}
		}
		if n > 0 {
			limit = n
		}
	}
	return limit, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
