package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendwell/companion/internal/completion"
	"github.com/tendwell/companion/internal/model"
)

const streamKeepAlive = 15 * time.Second

// ContextHandler exposes the per-context completion coordinators.
type ContextHandler struct {
	registry *completion.Registry
}

func NewContextHandler(registry *completion.Registry) *ContextHandler {
	return &ContextHandler{registry: registry}
}

type openContextRequest struct {
	UserID string `json:"userId"`
}

func (h *ContextHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openContextRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err = authorizeUser(r, req.UserID, completion.ErrContextNotFound)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	contextID, coordinator, err := h.registry.Open(r.Context(), req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"contextId": contextID,
		"today":     coordinator.Today(),
	})
}

func (h *ContextHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}

	err := h.registry.Close(userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type triggerRequest struct {
	UserID    string `json:"userId"`
	GoalID    string `json:"goalId"`
	GoalTitle string `json:"goalTitle"`
}

// TriggerCompletion records a completion in the context and announces it to
// the user's other contexts.
func (h *ContextHandler) TriggerCompletion(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	coordinator, ok := h.coordinator(w, r, req.UserID)
	if !ok {
		return
	}
	if req.GoalID == "" {
		writeError(w, http.StatusBadRequest, "goalId is required")
		return
	}

	err = coordinator.TriggerGoalCompletion(r.Context(), req.GoalID, req.GoalTitle)
	if err != nil {
		slog.Error("failed to publish goal completion", "error", err, "goal_id", req.GoalID, "user_id", req.UserID)
	}

	writeJSON(w, http.StatusOK, coordinator.State())
}

func (h *ContextHandler) UncompleteGoal(w http.ResponseWriter, r *http.Request) {
	coordinator, ok := h.coordinator(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}

	coordinator.TriggerGoalUncompletion(r.PathValue("goalId"))
	writeJSON(w, http.StatusOK, coordinator.State())
}

func (h *ContextHandler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	coordinator, ok := h.coordinator(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}

	coordinator.MarkGoalCelebrationViewed(r.PathValue("goalId"))
	writeJSON(w, http.StatusOK, coordinator.State())
}

func (h *ContextHandler) ClearCelebrations(w http.ResponseWriter, r *http.Request) {
	coordinator, ok := h.coordinator(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}

	coordinator.ClearAllCelebrations()
	writeJSON(w, http.StatusOK, coordinator.State())
}

type snapshotResponse struct {
	completion.State
	Date            string                   `json:"date"`
	CompletedOnDate []model.CompletionNotice `json:"completedOnDate"`
}

// Snapshot returns the context's state plus the completions recorded for the
// date query parameter, which defaults to today.
func (h *ContextHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	coordinator, ok := h.coordinator(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = coordinator.Today()
	}
	_, err := time.Parse(model.DateKeyLayout, date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
		return
	}

	onDate := coordinator.GoalsCompletedOnDate(date)
	if onDate == nil {
		onDate = []model.CompletionNotice{}
	}

	writeJSON(w, http.StatusOK, snapshotResponse{
		State:           coordinator.State(),
		Date:            date,
		CompletedOnDate: onDate,
	})
}

// Events streams the context's state as server-sent events: one "state" event
// on connect and another after every change.
func (h *ContextHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	coordinator, ok := h.coordinator(w, r, userID)
	if !ok {
		return
	}
	contextID := r.PathValue("id")

	changes := make(chan struct{}, 1)
	remove := coordinator.OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer remove()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	send := func() error {
		data, err := json.Marshal(coordinator.State())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
		if err != nil {
			return err
		}
		return rc.Flush()
	}

	err := send()
	if err != nil {
		slog.Debug("event stream closed", "error", err, "context_id", contextID)
		return
	}

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-coordinator.Done():
			return
		case <-changes:
			err = send()
		case <-keepAlive.C:
			// An open stream keeps its context from being evicted.
			if _, err := h.registry.Get(userID, contextID); err != nil {
				return
			}
			_, err = fmt.Fprint(w, ": keep-alive\n\n")
			if err == nil {
				err = rc.Flush()
			}
		}
		if err != nil {
			slog.Debug("event stream closed", "error", err, "context_id", contextID)
			return
		}
	}
}

func (h *ContextHandler) userID(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return "", false
	}

	err := authorizeUser(r, userID, completion.ErrContextNotFound)
	if err != nil {
		writeServiceError(w, r, err)
		return "", false
	}
	return userID, true
}

func (h *ContextHandler) coordinator(w http.ResponseWriter, r *http.Request, userID string) (*completion.Coordinator, bool) {
	userID, ok := h.userID(w, r, userID)
	if !ok {
		return nil, false
	}

	coordinator, err := h.registry.Get(userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return coordinator, true
}
