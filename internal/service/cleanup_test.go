package service

import (
	"context"
	"testing"
	"time"

	"github.com/tendwell/companion/internal/model"
	"github.com/tendwell/companion/internal/testutil"
)

func TestCleanupSweeperRunsUntilCancelled(t *testing.T) {
	svc, repo := setupGoalService(t)
	goal := testutil.Goal("user-1", model.GoalTypeBasic)
	goal.CompletedAt = testutil.TimePtr(time.Now().UTC().AddDate(0, 0, -60))
	insertGoal(t, repo, goal)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewCleanupSweeper(svc, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := repo.ByID(context.Background(), "user-1", goal.ID)
		if err != nil {
			t.Fatalf("ByID failed: %v", err)
		}
		if !stored.IsActive {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}

	stored, err := repo.ByID(context.Background(), "user-1", goal.ID)
	if err != nil {
		t.Fatalf("ByID failed: %v", err)
	}
	if stored.IsActive {
		t.Error("expected sweeper to archive the stale goal")
	}
}

func TestCleanupSweeperDisabled(t *testing.T) {
	svc, _ := setupGoalService(t)

	done := make(chan struct{})
	go func() {
		NewCleanupSweeper(svc, 0).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper should return immediately")
	}
}
