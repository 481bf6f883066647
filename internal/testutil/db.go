// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tendwell/companion/internal/db"
	"github.com/tendwell/companion/internal/model"
)

// NewDB returns a migrated SQLite database that lives for the duration of t.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()

	conn, err := db.Init(db.DriverSQLite, filepath.Join(t.TempDir(), "goals.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	err = db.RunMigrations(conn.DB, db.DriverSQLite)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return conn
}

// Goal returns an active goal of the given type owned by userID. Callers
// adjust fields before inserting it.
func Goal(userID string, goalType model.GoalType) *model.Goal {
	now := time.Now().UTC()
	return &model.Goal{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     "Meditate",
		GoalType:  goalType,
		ListItems: model.ListItems{},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func IntPtr(v int) *int {
	return &v
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
