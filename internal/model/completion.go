package model

import "time"

// DateKeyLayout buckets completions by calendar day.
const DateKeyLayout = "2006-01-02"

// CompletionNotice announces that a goal has just been completed. It is never
// persisted to the goal store.
type CompletionNotice struct {
	GoalID      string    `json:"goalId"`
	GoalTitle   string    `json:"goalTitle"`
	CompletedAt time.Time `json:"completedAt"`
	DateKey     string    `json:"dateKey"`
}

func NewCompletionNotice(goalID, goalTitle string, completedAt time.Time, loc *time.Location) CompletionNotice {
	return CompletionNotice{
		GoalID:      goalID,
		GoalTitle:   goalTitle,
		CompletedAt: completedAt,
		DateKey:     DateKey(completedAt, loc),
	}
}

// DateKey returns the calendar day of t in loc. A nil loc means time.Local.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateKeyLayout)
}
