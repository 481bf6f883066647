package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// GoalType is the closed set of goal variants. The variant decides which of
// CurrentValue, TargetValue and ListItems carry meaning.
type GoalType string

const (
	GoalTypeBasic    GoalType = "basic"
	GoalTypeCounter  GoalType = "counter"
	GoalTypeProgress GoalType = "progress"
	GoalTypeList     GoalType = "list"
)

const (
	ArchiveReasonCompleted = "completed"

	// DefaultProgressTarget is applied when a goal becomes a progress goal
	// without an explicit target.
	DefaultProgressTarget = 100

	// MaxValue is the largest value an INTEGER column holds on every driver.
	MaxValue = math.MaxInt32
)

var ErrUnknownGoalType = errors.New("unknown goal type")

// GoalTypes lists every variant in display order.
var GoalTypes = []GoalType{GoalTypeBasic, GoalTypeCounter, GoalTypeProgress, GoalTypeList}

func ParseGoalType(s string) (GoalType, error) {
	for _, t := range GoalTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGoalType, s)
}

type Goal struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Title          string     `db:"title" json:"title"`
	Description    string     `db:"description" json:"description"`
	GoalType       GoalType   `db:"goal_type" json:"goal_type"`
	CurrentValue   int        `db:"current_value" json:"current_value"`
	TargetValue    *int       `db:"target_value" json:"target_value"`
	ListItems      ListItems  `db:"list_items" json:"list_items"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	ArchivedAt     *time.Time `db:"archived_at" json:"archived_at"`
	ArchivedReason *string    `db:"archived_reason" json:"archived_reason"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func (g *Goal) IsCompleted() bool {
	return g.CompletedAt != nil
}

// ReachedTarget reports whether a progress goal's value meets its target.
// Other variants never reach a target.
func (g *Goal) ReachedTarget() bool {
	return g.GoalType == GoalTypeProgress && g.TargetValue != nil && g.CurrentValue >= *g.TargetValue
}

// SetValue stores v, clamped to [0, MaxValue].
func (g *Goal) SetValue(v int) {
	g.CurrentValue = min(max(0, v), MaxValue)
}

// AddValue moves the value by delta, saturating at MaxValue and clamping at
// zero.
func (g *Goal) AddValue(delta int) {
	if delta > 0 && g.CurrentValue > MaxValue-delta {
		g.CurrentValue = MaxValue
		return
	}
	g.SetValue(g.CurrentValue + delta)
}

// Archive marks the goal inactive. Calling it on an archived goal restamps it.
func (g *Goal) Archive(reason string, at time.Time) {
	g.IsActive = false
	g.ArchivedAt = &at
	g.ArchivedReason = &reason
}

// ChangeType switches the goal to t and resets the fields that are not
// meaningful for the new variant. currentValue and targetValue are the
// optional caller-supplied seeds. Items never survive a type change: a list
// goal always starts empty and any other variant must not keep items that no
// longer count towards CurrentValue. CompletedAt is left alone: a progress
// goal seeded at or past its target is stamped by its next progress update.
func (g *Goal) ChangeType(t GoalType, currentValue, targetValue *int) error {
	switch t {
	case GoalTypeBasic:
		g.CurrentValue = 0
		g.TargetValue = nil
	case GoalTypeCounter:
		g.SetValue(valueOr(currentValue, 0))
		g.TargetValue = nil
	case GoalTypeProgress:
		g.SetValue(valueOr(currentValue, 0))
		target := valueOr(targetValue, DefaultProgressTarget)
		g.TargetValue = &target
	case GoalTypeList:
		g.CurrentValue = 0
		g.TargetValue = nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownGoalType, t)
	}

	g.GoalType = t
	g.ListItems = ListItems{}
	return nil
}

func valueOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

type ListItem struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Notes     *string   `json:"notes,omitempty"`
}

// ListItems is persisted as a JSON array in a single column so that the
// items and the goal's value are always written in the same row update.
type ListItems []ListItem

func (l ListItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]ListItem(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ListItems) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = ListItems{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("list items: unsupported column type %T", src)
	}

	if len(raw) == 0 {
		*l = ListItems{}
		return nil
	}

	items := ListItems{}
	err := json.Unmarshal(raw, &items)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	*l = items
	return nil
}

// Without returns a copy of the items minus any item with the given id.
func (l ListItems) Without(itemID string) ListItems {
	out := make(ListItems, 0, len(l))
	for _, item := range l {
		if item.ID != itemID {
			out = append(out, item)
		}
	}
	return out
}
