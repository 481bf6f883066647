package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("CALENDAR_TIMEZONE", "")
	t.Setenv("REDIS_URL", "")

	cfg := Load()

	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Errorf("expected development env, got %q", cfg.AppEnv)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("expected sqlite default driver, got %q", cfg.DBDriver)
	}
	if cfg.CompletionFreshness != 5*time.Second {
		t.Errorf("expected 5s freshness window, got %v", cfg.CompletionFreshness)
	}
	if cfg.GoalCleanupAge != 30*24*time.Hour {
		t.Errorf("expected 30 day cleanup age, got %v", cfg.GoalCleanupAge)
	}
	if cfg.CalendarLocation() != time.Local {
		t.Errorf("expected local calendar zone, got %v", cfg.CalendarLocation())
	}
	if cfg.AuthEnabled() {
		t.Error("auth should be disabled without JWT_SECRET")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("COMPLETION_FRESHNESS", "2s")
	t.Setenv("API_RATE_LIMIT", "10")
	t.Setenv("CALENDAR_TIMEZONE", "Europe/Berlin")
	t.Setenv("JWT_SECRET", "secret")

	cfg := Load()

	if cfg.CompletionFreshness != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.CompletionFreshness)
	}
	if cfg.APIRateLimit != 10 {
		t.Errorf("expected rate limit 10, got %d", cfg.APIRateLimit)
	}
	if loc := cfg.CalendarLocation(); loc.String() != "Europe/Berlin" {
		t.Errorf("expected Europe/Berlin, got %v", loc)
	}
	if !cfg.AuthEnabled() {
		t.Error("expected auth enabled with JWT_SECRET")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("BAD_INT", "ten")
	t.Setenv("BAD_DURATION", "soon")

	if got := envInt("BAD_INT", 3); got != 3 {
		t.Errorf("expected default 3, got %d", got)
	}
	if got := envDuration("BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("expected default 1s, got %v", got)
	}
	if got := loadLocation("Not/AZone"); got != time.Local {
		t.Errorf("expected local fallback, got %v", got)
	}
}
