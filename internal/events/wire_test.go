package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tendwell/companion/internal/model"
)

func TestEncodeUsesWireFieldNames(t *testing.T) {
	completedAt := time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
	publishedAt := time.UnixMilli(1792225800123)

	data, err := Encode(model.CompletionNotice{
		GoalID:      "g9",
		GoalTitle:   "Meditate",
		CompletedAt: completedAt,
		DateKey:     "2026-10-17",
	}, publishedAt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}

	want := map[string]any{
		"goalId":      "g9",
		"goalTitle":   "Meditate",
		"completedAt": "2026-10-17T08:30:00.000Z",
		"dateKey":     "2026-10-17",
		"timestamp":   float64(1792225800123),
	}
	if len(raw) != len(want) {
		t.Errorf("expected %d fields, got %v", len(want), raw)
	}
	for k, v := range want {
		if raw[k] != v {
			t.Errorf("field %s: expected %v, got %v", k, v, raw[k])
		}
	}

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !env.Notice.CompletedAt.Equal(completedAt) || env.PublishedAt.UnixMilli() != publishedAt.UnixMilli() {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"goalTitle":"x","completedAt":"2026-10-17T08:30:00.000Z"}`,
		`{"goalId":"g1","completedAt":"yesterday"}`,
	}
	for _, in := range inputs {
		_, err := Decode([]byte(in))
		if !errors.Is(err, ErrMalformedNotice) {
			t.Errorf("Decode(%s): expected ErrMalformedNotice, got %v", in, err)
		}
	}
}
