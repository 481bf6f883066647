package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendwell/companion/internal/model"
	"github.com/tendwell/companion/internal/repository"
	"github.com/tendwell/companion/internal/validation"
)

// DefaultCleanupAge is how long a completed goal stays active before the
// cleanup archives it.
const DefaultCleanupAge = 30 * 24 * time.Hour

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotListGoal  = errors.New("goal is not a list goal")
	ErrStoreFailure = errors.New("goal store failure")
	ErrGoalNotFound = repository.ErrGoalNotFound
)

type ProgressUpdate struct {
	Increment   *int
	SetValue    *int
	TargetValue *int
}

type TypeChange struct {
	GoalType     model.GoalType
	TargetValue  *int
	CurrentValue *int
}

type NewListItem struct {
	Value string
	Notes *string
}

// GoalService owns every goal transition rule. It keeps no state between
// calls: each operation reads the row, applies the rule and writes it back.
// There is no version check between the read and the write, so two
// concurrent increments of one goal can lose an update.
type GoalService struct {
	repo       repository.GoalRepository
	cleanupAge time.Duration
	now        func() time.Time
}

func NewGoalService(repo repository.GoalRepository, cleanupAge time.Duration) *GoalService {
	if cleanupAge <= 0 {
		cleanupAge = DefaultCleanupAge
	}
	return &GoalService{
		repo:       repo,
		cleanupAge: cleanupAge,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new active basic goal.
func (s *GoalService) Create(ctx context.Context, userID, title, description string) (*model.Goal, error) {
	if userID == "" {
		return nil, missing("userId")
	}
	title, err := validation.Title(title)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	description, err = validation.Description(description)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	now := s.now()
	goal := &model.Goal{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       title,
		Description: description,
		GoalType:    model.GoalTypeBasic,
		ListItems:   model.ListItems{},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.repo.Create(ctx, goal)
	if err != nil {
		return nil, storeErr("create goal", err)
	}

	return goal, nil
}

func (s *GoalService) ByID(ctx context.Context, userID, goalID string) (*model.Goal, error) {
	if err := requireIDs(goalID, userID); err != nil {
		return nil, err
	}

	goal, err := s.repo.ByID(ctx, userID, goalID)
	if err != nil {
		return nil, storeErr("load goal", err)
	}
	return goal, nil
}

// ActiveGoals lists the user's goals that have not been archived.
func (s *GoalService) ActiveGoals(ctx context.Context, userID, sortBy string) ([]*model.Goal, error) {
	return s.goals(ctx, userID, repository.GoalScopeActive, sortBy)
}

func (s *GoalService) AllGoals(ctx context.Context, userID string) ([]*model.Goal, error) {
	return s.goals(ctx, userID, repository.GoalScopeAll, repository.GoalSortRecent)
}

func (s *GoalService) goals(ctx context.Context, userID string, scope repository.GoalScope, sortBy string) ([]*model.Goal, error) {
	if userID == "" {
		return nil, missing("userId")
	}

	goals, err := s.repo.Goals(ctx, userID, scope, sortBy)
	if err != nil {
		return nil, storeErr("list goals", err)
	}
	return goals, nil
}

// UpdateProgress applies an increment or an absolute value, optionally
// retargets the goal, and stamps completion the first time a progress goal
// reaches its target. The returned bool reports whether this call completed
// the goal.
func (s *GoalService) UpdateProgress(ctx context.Context, goalID, userID string, update ProgressUpdate) (*model.Goal, bool, error) {
	if err := requireIDs(goalID, userID); err != nil {
		return nil, false, err
	}

	goal, err := s.repo.ByID(ctx, userID, goalID)
	if err != nil {
		return nil, false, storeErr("load goal", err)
	}

	switch {
	case goal.GoalType == model.GoalTypeList:
		// A list goal's value is its item count and only moves with the items.
	case update.Increment != nil:
		goal.AddValue(*update.Increment)
	case update.SetValue != nil:
		goal.SetValue(*update.SetValue)
	}

	if update.TargetValue != nil {
		target := *update.TargetValue
		goal.TargetValue = &target
	}

	completed := false
	if goal.ReachedTarget() && goal.CompletedAt == nil {
		now := s.now()
		goal.CompletedAt = &now
		completed = true
	}

	err = s.repo.Update(ctx, goal)
	if err != nil {
		return nil, false, storeErr("update progress", err)
	}

	if completed {
		slog.Debug("goal completed", "goal_id", goal.ID, "user_id", userID)
	}
	return goal, completed, nil
}

// ArchiveGoal deactivates the goal. An empty reason means "completed".
func (s *GoalService) ArchiveGoal(ctx context.Context, goalID, userID, reason string) (*model.Goal, error) {
	if err := requireIDs(goalID, userID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = model.ArchiveReasonCompleted
	}

	goal, err := s.repo.ByID(ctx, userID, goalID)
	if err != nil {
		return nil, storeErr("load goal", err)
	}

	goal.Archive(reason, s.now())

	err = s.repo.Update(ctx, goal)
	if err != nil {
		return nil, storeErr("archive goal", err)
	}
	return goal, nil
}

// CleanupCompletedGoals archives, in one batch, every active goal of the user
// completed longer ago than the cleanup age, and returns how many it archived.
func (s *GoalService) CleanupCompletedGoals(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, missing("userId")
	}

	goals, err := s.repo.CompletedActiveGoals(ctx, userID)
	if err != nil {
		return 0, storeErr("list completed goals", err)
	}

	now := s.now()
	cutoff := now.Add(-s.cleanupAge)

	var ids []string
	for _, goal := range goals {
		if goal.CompletedAt.Before(cutoff) {
			ids = append(ids, goal.ID)
		}
	}

	if len(ids) == 0 {
		return 0, nil
	}

	count, err := s.repo.ArchiveMany(ctx, userID, ids, model.ArchiveReasonCompleted, now)
	if err != nil {
		return 0, storeErr("archive completed goals", err)
	}

	slog.Info("archived completed goals", "user_id", userID, "count", count)
	return count, nil
}

// SweepCompletedGoals runs CleanupCompletedGoals for every user that has an
// eligible goal. A failure for one user does not stop the others.
func (s *GoalService) SweepCompletedGoals(ctx context.Context) (int, error) {
	users, err := s.repo.UsersWithCompletedActiveGoals(ctx, s.now().Add(-s.cleanupAge))
	if err != nil {
		return 0, storeErr("list users with completed goals", err)
	}

	total := 0
	var errs []error
	for _, userID := range users {
		count, err := s.CleanupCompletedGoals(ctx, userID)
		if err != nil {
			slog.Error("failed to clean up completed goals", "error", err, "user_id", userID)
			errs = append(errs, err)
			continue
		}
		total += count
	}

	return total, errors.Join(errs...)
}

// UpdateGoalType switches the goal's variant. The switch is destructive: the
// value, target and list items are reset per variant.
func (s *GoalService) UpdateGoalType(ctx context.Context, goalID, userID string, change TypeChange) (*model.Goal, error) {
	if err := requireIDs(goalID, userID); err != nil {
		return nil, err
	}
	if change.GoalType == "" {
		return nil, missing("goalType")
	}
	if _, err := model.ParseGoalType(string(change.GoalType)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	goal, err := s.repo.ByID(ctx, userID, goalID)
	if err != nil {
		return nil, storeErr("load goal", err)
	}

	err = goal.ChangeType(change.GoalType, change.CurrentValue, change.TargetValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	err = s.repo.Update(ctx, goal)
	if err != nil {
		return nil, storeErr("update goal type", err)
	}
	return goal, nil
}

func (s *GoalService) AddListItem(ctx context.Context, goalID, userID string, item NewListItem) (*model.Goal, error) {
	if err := requireIDs(goalID, userID); err != nil {
		return nil, err
	}
	value, err := validation.ListItemValue(item.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	goal, err := s.repo.ByID(ctx, userID, goalID)
	if err != nil {
		return nil, storeErr("load goal", err)
	}
	if goal.GoalType != model.GoalTypeList {
		return nil, ErrNotListGoal
	}

	goal.ListItems = append(goal.ListItems, model.ListItem{
		ID:        uuid.New().String(),
		Value:     value,
		Timestamp: s.now(),
		Notes:     item.Notes,
	})
	goal.CurrentValue = len(goal.ListItems)

	err = s.repo.Update(ctx, goal)
	if err != nil {
		return nil, storeErr("add list item", err)
	}
	return goal, nil
}

// RemoveListItem drops the item with itemID. An unknown id leaves the list
// as it was.
func (s *GoalService) RemoveListItem(ctx context.Context, goalID, userID, itemID string) (*model.Goal, error) {
	if err := requireIDs(goalID, userID); err != nil {
		return nil, err
	}
	if itemID == "" {
		return nil, missing("itemId")
	}

	goal, err := s.repo.ByID(ctx, userID, goalID)
	if err != nil {
		return nil, storeErr("load goal", err)
	}
	if goal.GoalType != model.GoalTypeList {
		return nil, ErrNotListGoal
	}

	goal.ListItems = goal.ListItems.Without(itemID)
	goal.CurrentValue = len(goal.ListItems)

	err = s.repo.Update(ctx, goal)
	if err != nil {
		return nil, storeErr("remove list item", err)
	}
	return goal, nil
}

func requireIDs(goalID, userID string) error {
	if userID == "" {
		return missing("userId")
	}
	if goalID == "" {
		return missing("goalId")
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrValidation, field)
}

// storeErr passes ErrGoalNotFound through untouched and tags every other
// repository error as a store failure.
func storeErr(op string, err error) error {
	if errors.Is(err, repository.ErrGoalNotFound) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %w", ErrStoreFailure, op, err)
}
