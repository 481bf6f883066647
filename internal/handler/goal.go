package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tendwell/companion/internal/completion"
	"github.com/tendwell/companion/internal/model"
	"github.com/tendwell/companion/internal/service"
)

const (
	ActionUpdateProgress   = "update_progress"
	ActionArchiveGoal      = "archive_goal"
	ActionCleanupCompleted = "cleanup_completed"
	ActionUpdateGoalType   = "update_goal_type"
	ActionAddListItem      = "add_list_item"
	ActionRemoveListItem   = "remove_list_item"
)

type GoalHandler struct {
	goalService *service.GoalService
	registry    *completion.Registry
}

func NewGoalHandler(goalService *service.GoalService, registry *completion.Registry) *GoalHandler {
	return &GoalHandler{
		goalService: goalService,
		registry:    registry,
	}
}

type actionRequest struct {
	Action    string `json:"action"`
	GoalID    string `json:"goalId"`
	UserID    string `json:"userId"`
	ContextID string `json:"contextId"`

	Increment    *int    `json:"increment"`
	SetValue     *int    `json:"setValue"`
	TargetValue  *int    `json:"targetValue"`
	CurrentValue *int    `json:"currentValue"`
	GoalType     string  `json:"goalType"`
	Reason       string  `json:"reason"`
	Value        string  `json:"value"`
	Notes        *string `json:"notes"`
	ItemID       string  `json:"itemId"`
}

type actionResponse struct {
	Success       bool        `json:"success"`
	Goal          *model.Goal `json:"goal,omitempty"`
	ArchivedCount *int        `json:"archivedCount,omitempty"`
}

// Actions is the single mutation endpoint. The action field selects the
// transition; userId is checked before anything touches the store.
func (h *GoalHandler) Actions(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err = authorizeUser(r, req.UserID, service.ErrGoalNotFound)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	ctx := r.Context()
	var goal *model.Goal

	switch req.Action {
	case ActionUpdateProgress:
		var completed bool
		goal, completed, err = h.goalService.UpdateProgress(ctx, req.GoalID, req.UserID, service.ProgressUpdate{
			Increment:   req.Increment,
			SetValue:    req.SetValue,
			TargetValue: req.TargetValue,
		})
		if err == nil && completed {
			h.announceCompletion(r, req.UserID, req.ContextID, goal)
		}

	case ActionArchiveGoal:
		goal, err = h.goalService.ArchiveGoal(ctx, req.GoalID, req.UserID, req.Reason)

	case ActionCleanupCompleted:
		var count int
		count, err = h.goalService.CleanupCompletedGoals(ctx, req.UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Success: true, ArchivedCount: &count})
		return

	case ActionUpdateGoalType:
		goal, err = h.goalService.UpdateGoalType(ctx, req.GoalID, req.UserID, service.TypeChange{
			GoalType:     model.GoalType(req.GoalType),
			TargetValue:  req.TargetValue,
			CurrentValue: req.CurrentValue,
		})

	case ActionAddListItem:
		goal, err = h.goalService.AddListItem(ctx, req.GoalID, req.UserID, service.NewListItem{
			Value: req.Value,
			Notes: req.Notes,
		})

	case ActionRemoveListItem:
		goal, err = h.goalService.RemoveListItem(ctx, req.GoalID, req.UserID, req.ItemID)

	case "":
		err = fmt.Errorf("%w: action is required", service.ErrValidation)

	default:
		err = fmt.Errorf("%w: unknown action %q", service.ErrValidation, req.Action)
	}

	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, actionResponse{Success: true, Goal: goal})
}

// announceCompletion tells the caller's context that the goal just completed.
// The mutation has already been persisted, so failures are only logged.
func (h *GoalHandler) announceCompletion(r *http.Request, userID, contextID string, goal *model.Goal) {
	if contextID == "" {
		return
	}

	coordinator, err := h.registry.Get(userID, contextID)
	if err != nil {
		slog.Warn("completion context unavailable", "error", err, "context_id", contextID, "user_id", userID)
		return
	}

	err = coordinator.TriggerGoalCompletion(r.Context(), goal.ID, goal.Title)
	if err != nil {
		slog.Error("failed to publish goal completion", "error", err, "goal_id", goal.ID, "user_id", userID)
	}
}

type createGoalRequest struct {
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *GoalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGoalRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err = authorizeUser(r, req.UserID, service.ErrGoalNotFound)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	goal, err := h.goalService.Create(r.Context(), req.UserID, req.Title, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, actionResponse{Success: true, Goal: goal})
}

// List returns the user's active goals, sorted by the sort query parameter.
func (h *GoalHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err := authorizeUser(r, userID, service.ErrGoalNotFound)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	goals, err := h.goalService.ActiveGoals(r.Context(), userID, r.URL.Query().Get("sort"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if goals == nil {
		goals = []*model.Goal{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"goals": goals})
}

func (h *GoalHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err := authorizeUser(r, userID, service.ErrGoalNotFound)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	goals, err := h.goalService.AllGoals(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if goals == nil {
		goals = []*model.Goal{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=goals-export.json")

	err = json.NewEncoder(w).Encode(goals)
	if err != nil {
		slog.Error("failed to encode goals", "error", err, "user_id", userID)
	}
}
