package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tendwell/companion/internal/model"
)

const completedAtLayout = "2006-01-02T15:04:05.000Z07:00"

var ErrMalformedNotice = errors.New("malformed completion notice")

// wireNotice is the serialised slot payload. Timestamp is the publish wall
// clock in Unix milliseconds and is only used for freshness checks.
type wireNotice struct {
	GoalID      string `json:"goalId"`
	GoalTitle   string `json:"goalTitle"`
	CompletedAt string `json:"completedAt"`
	DateKey     string `json:"dateKey"`
	Timestamp   int64  `json:"timestamp"`
}

func Encode(notice model.CompletionNotice, publishedAt time.Time) ([]byte, error) {
	return json.Marshal(wireNotice{
		GoalID:      notice.GoalID,
		GoalTitle:   notice.GoalTitle,
		CompletedAt: notice.CompletedAt.UTC().Format(completedAtLayout),
		DateKey:     notice.DateKey,
		Timestamp:   publishedAt.UnixMilli(),
	})
}

func Decode(data []byte) (Envelope, error) {
	var w wireNotice
	err := json.Unmarshal(data, &w)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedNotice, err)
	}
	if w.GoalID == "" {
		return Envelope{}, fmt.Errorf("%w: missing goalId", ErrMalformedNotice)
	}

	completedAt, err := time.Parse(time.RFC3339Nano, w.CompletedAt)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: completedAt: %w", ErrMalformedNotice, err)
	}

	return Envelope{
		Notice: model.CompletionNotice{
			GoalID:      w.GoalID,
			GoalTitle:   w.GoalTitle,
			CompletedAt: completedAt,
			DateKey:     w.DateKey,
		},
		PublishedAt: time.UnixMilli(w.Timestamp),
	}, nil
}
