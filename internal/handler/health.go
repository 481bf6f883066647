package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tendwell/companion/internal/events"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db     *sqlx.DB
	broker events.Broker
}

func NewHealthHandler(db *sqlx.DB, broker events.Broker) *HealthHandler {
	return &HealthHandler{db: db, broker: broker}
}

// Health reports 503 when the database or, if it has one, the broker's
// backing store is unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status := http.StatusOK

	err := h.db.PingContext(ctx)
	if err != nil {
		slog.Error("health check failed", "error", err, "component", "database")
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if p, ok := h.broker.(pinger); ok {
		checks["broker"] = "ok"
		err = p.Ping(ctx)
		if err != nil {
			slog.Error("health check failed", "error", err, "component", "broker")
			checks["broker"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, checks)
}
