package routes

import (
	"net/http"

	"github.com/tendwell/companion/internal/app"
	"github.com/tendwell/companion/internal/handler"
	"github.com/tendwell/companion/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	health := handler.NewHealthHandler(app.DB, app.Broker)
	goal := handler.NewGoalHandler(app.GoalService, app.Registry)
	contexts := handler.NewContextHandler(app.Registry)

	// API routes require a verified user only when JWT_SECRET is configured
	protect := func(h http.HandlerFunc) http.Handler {
		if app.AuthService.Enabled() {
			return middleware.RequireAuth(h)
		}
		return h
	}
	rateLimited := middleware.RateLimit(app.RateLimiter)

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	mux.HandleFunc("GET /healthz", health.Health)

	// ============================================================================
	// GOALS
	// ============================================================================

	mux.Handle("POST /api/goals/actions", rateLimited(protect(goal.Actions)))
	mux.Handle("POST /api/goals", rateLimited(protect(goal.Create)))
	mux.Handle("GET /api/goals", protect(goal.List))
	mux.Handle("GET /api/goals/export", protect(goal.Export))

	// ============================================================================
	// COMPLETION CONTEXTS
	// ============================================================================

	mux.Handle("POST /api/contexts", rateLimited(protect(contexts.Open)))
	mux.Handle("DELETE /api/contexts/{id}", protect(contexts.Close))
	mux.Handle("GET /api/contexts/{id}/completions", protect(contexts.Snapshot))
	mux.Handle("POST /api/contexts/{id}/completions", protect(contexts.TriggerCompletion))
	mux.Handle("DELETE /api/contexts/{id}/completions/{goalId}", protect(contexts.UncompleteGoal))
	mux.Handle("POST /api/contexts/{id}/celebrations/{goalId}/viewed", protect(contexts.MarkViewed))
	mux.Handle("DELETE /api/contexts/{id}/celebrations", protect(contexts.ClearCelebrations))
	mux.Handle("GET /api/contexts/{id}/events", protect(contexts.Events))

	// ============================================================================
	// FALLBACK
	// ============================================================================

	mux.HandleFunc("/{path...}", handler.NotFound)

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		middleware.RequestLogging,
		middleware.Auth(app.AuthService),
	)

	return handler
}
