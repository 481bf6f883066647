package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tendwell/companion/internal/model"
)

const (
	GoalSortRecent   = "recent"
	GoalSortProgress = "progress"
	GoalSortTitle    = "title"
)

// GoalScope selects goals by archival state.
type GoalScope int

const (
	GoalScopeActive GoalScope = iota
	GoalScopeArchived
	GoalScopeAll
)

var (
	ErrGoalNotFound = errors.New("goal not found")
)

// GoalRepository is the goal store adapter. Every lookup is scoped to the
// owning user; a goal owned by someone else is reported as ErrGoalNotFound.
type GoalRepository interface {
	Create(ctx context.Context, goal *model.Goal) error
	ByID(ctx context.Context, userID, goalID string) (*model.Goal, error)
	Goals(ctx context.Context, userID string, scope GoalScope, sortBy string) ([]*model.Goal, error)
	CompletedActiveGoals(ctx context.Context, userID string) ([]*model.Goal, error)
	UsersWithCompletedActiveGoals(ctx context.Context, completedBefore time.Time) ([]string, error)
	Update(ctx context.Context, goal *model.Goal) error
	ArchiveMany(ctx context.Context, userID string, goalIDs []string, reason string, at time.Time) (int, error)
}

type goalRepository struct {
	db *sqlx.DB
}

func NewGoalRepository(db *sqlx.DB) GoalRepository {
	return &goalRepository{db: db}
}

func (r *goalRepository) Create(ctx context.Context, goal *model.Goal) error {
	query := `INSERT INTO goals (id, user_id, title, description, goal_type, current_value, target_value,
	                             list_items, completed_at, is_active, archived_at, archived_reason, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		goal.ID,
		goal.UserID,
		goal.Title,
		goal.Description,
		goal.GoalType,
		goal.CurrentValue,
		goal.TargetValue,
		goal.ListItems,
		goal.CompletedAt,
		goal.IsActive,
		goal.ArchivedAt,
		goal.ArchivedReason,
		goal.CreatedAt,
		goal.UpdatedAt,
	)

	return err
}

func (r *goalRepository) ByID(ctx context.Context, userID, goalID string) (*model.Goal, error) {
	goal := &model.Goal{}
	query := `SELECT * FROM goals WHERE id = $1 AND user_id = $2`

	err := r.db.GetContext(ctx, goal, query, goalID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGoalNotFound
	}
	if err != nil {
		return nil, err
	}

	return goal, nil
}

func (r *goalRepository) Goals(ctx context.Context, userID string, scope GoalScope, sortBy string) ([]*model.Goal, error) {
	var goals []*model.Goal

	var where string
	switch scope {
	case GoalScopeArchived:
		where = "WHERE user_id = $1 AND is_active = FALSE "
	case GoalScopeAll:
		where = "WHERE user_id = $1 "
	default:
		where = "WHERE user_id = $1 AND is_active = TRUE "
	}

	var orderBy string
	switch sortBy {
	case GoalSortProgress:
		orderBy = "ORDER BY current_value DESC, updated_at DESC"
	case GoalSortTitle:
		orderBy = "ORDER BY LOWER(title) ASC"
	default: // GoalSortRecent or empty
		orderBy = "ORDER BY updated_at DESC"
	}

	query := `SELECT * FROM goals ` + where + orderBy

	err := r.db.SelectContext(ctx, &goals, query, userID)
	if err != nil {
		return nil, err
	}

	return goals, nil
}

// CompletedActiveGoals returns the user's active goals that carry a
// completion timestamp, oldest completion first.
func (r *goalRepository) CompletedActiveGoals(ctx context.Context, userID string) ([]*model.Goal, error) {
	var goals []*model.Goal
	query := `SELECT * FROM goals
	          WHERE user_id = $1 AND is_active = TRUE AND completed_at IS NOT NULL
	          ORDER BY completed_at ASC`

	err := r.db.SelectContext(ctx, &goals, query, userID)
	if err != nil {
		return nil, err
	}

	return goals, nil
}

// UsersWithCompletedActiveGoals lists owners that have at least one active
// goal completed before the cutoff.
func (r *goalRepository) UsersWithCompletedActiveGoals(ctx context.Context, completedBefore time.Time) ([]string, error) {
	var rows []struct {
		UserID      string    `db:"user_id"`
		CompletedAt time.Time `db:"completed_at"`
	}
	query := `SELECT user_id, completed_at FROM goals
	          WHERE is_active = TRUE AND completed_at IS NOT NULL`

	err := r.db.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, err
	}

	// Compared in Go: SQLite keeps timestamps as text, so a SQL range
	// comparison is not portable across drivers.
	seen := make(map[string]struct{})
	var users []string
	for _, row := range rows {
		if !row.CompletedAt.Before(completedBefore) {
			continue
		}
		if _, ok := seen[row.UserID]; ok {
			continue
		}
		seen[row.UserID] = struct{}{}
		users = append(users, row.UserID)
	}

	return users, nil
}

func (r *goalRepository) Update(ctx context.Context, goal *model.Goal) error {
	query := `UPDATE goals
	          SET title = $1, description = $2, goal_type = $3, current_value = $4, target_value = $5,
	              list_items = $6, completed_at = $7, is_active = $8, archived_at = $9, archived_reason = $10,
	              updated_at = $11
	          WHERE id = $12 AND user_id = $13`

	goal.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		goal.Title,
		goal.Description,
		goal.GoalType,
		goal.CurrentValue,
		goal.TargetValue,
		goal.ListItems,
		goal.CompletedAt,
		goal.IsActive,
		goal.ArchivedAt,
		goal.ArchivedReason,
		goal.UpdatedAt,
		goal.ID,
		goal.UserID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrGoalNotFound
	}

	return nil
}

// ArchiveMany archives the listed goals in a single statement. Goals that are
// already archived or belong to another user are left alone. It returns the
// number of rows archived.
func (r *goalRepository) ArchiveMany(ctx context.Context, userID string, goalIDs []string, reason string, at time.Time) (int, error) {
	if len(goalIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`UPDATE goals
	          SET is_active = ?, archived_at = ?, archived_reason = ?, updated_at = ?
	          WHERE user_id = ? AND is_active = ? AND id IN (?)`,
		false, at, reason, at, userID, true, goalIDs)
	if err != nil {
		return 0, err
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(rows), nil
}
