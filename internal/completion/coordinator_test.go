package completion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/tendwell/companion/internal/events"
	"github.com/tendwell/companion/internal/model"
)

// fakeClock is a settable clock shared by the coordinators under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCoordinator(t *testing.T, broker events.Broker, contextID string, clock *fakeClock) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(context.Background(), broker.Bus("user-1", contextID), Options{
		Location: time.UTC,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// waitForChange returns a channel signalled on every state change of c.
func waitForChange(t *testing.T, c *Coordinator) <-chan struct{} {
	ch := make(chan struct{}, 16)
	remove := c.OnChange(func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	t.Cleanup(remove)
	return ch
}

func awaitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coordinator change")
	}
}

func TestTriggerGoalCompletionIsDeduplicated(t *testing.T) {
	clock := newFakeClock()
	c := newCoordinator(t, events.NewMemoryBroker(), "tab-a", clock)
	ctx := context.Background()

	for range 2 {
		if err := c.TriggerGoalCompletion(ctx, "g1", "Journal"); err != nil {
			t.Fatalf("TriggerGoalCompletion failed: %v", err)
		}
	}

	completed := c.CompletedGoals()
	if len(completed) != 1 || completed[0].GoalID != "g1" {
		t.Fatalf("expected one completion record, got %+v", completed)
	}
	if completed[0].DateKey != "2026-10-17" || !completed[0].CompletedAt.Equal(clock.Now()) {
		t.Errorf("unexpected notice: %+v", completed[0])
	}
	if got := c.Celebrating(); len(got) != 1 || got[0] != "g1" {
		t.Errorf("expected g1 celebrating once, got %v", got)
	}
}

func TestCelebrationLifecycle(t *testing.T) {
	clock := newFakeClock()
	c := newCoordinator(t, events.NewMemoryBroker(), "tab-a", clock)
	ctx := context.Background()

	if err := c.TriggerGoalCompletion(ctx, "g1", "Journal"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}

	c.MarkGoalCelebrationViewed("g1")
	if c.IsCelebrating("g1") {
		t.Error("expected g1 to stop celebrating once viewed")
	}
	if len(c.CompletedGoals()) != 1 {
		t.Error("viewing must keep the completion history")
	}

	// Viewed but not uncompleted: the guard no longer blocks, so a repeat
	// trigger records a second completion.
	if err := c.TriggerGoalCompletion(ctx, "g1", "Journal"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	if len(c.CompletedGoals()) != 2 || !c.IsCelebrating("g1") {
		t.Errorf("expected second completion to celebrate, state %+v", c.State())
	}

	c.TriggerGoalUncompletion("g1")
	if len(c.CompletedGoals()) != 0 || c.IsCelebrating("g1") {
		t.Errorf("uncompletion must clear history and celebration, state %+v", c.State())
	}

	if err := c.TriggerGoalCompletion(ctx, "g1", "Journal"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	if len(c.CompletedGoals()) != 1 || !c.IsCelebrating("g1") {
		t.Errorf("expected goal to re-enter celebration, state %+v", c.State())
	}
}

func TestClearAllCelebrations(t *testing.T) {
	c := newCoordinator(t, events.NewMemoryBroker(), "tab-a", newFakeClock())
	ctx := context.Background()

	for _, id := range []string{"g1", "g2", "g3"} {
		if err := c.TriggerGoalCompletion(ctx, id, id); err != nil {
			t.Fatalf("TriggerGoalCompletion failed: %v", err)
		}
	}

	c.ClearAllCelebrations()
	if got := c.Celebrating(); len(got) != 0 {
		t.Errorf("expected no celebrations, got %v", got)
	}
	if len(c.CompletedGoals()) != 3 {
		t.Errorf("expected history untouched, got %d records", len(c.CompletedGoals()))
	}
}

func TestGoalsCompletedOnDate(t *testing.T) {
	clock := newFakeClock()
	c := newCoordinator(t, events.NewMemoryBroker(), "tab-a", clock)
	ctx := context.Background()

	if err := c.TriggerGoalCompletion(ctx, "g1", "Walk"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	clock.Advance(24 * time.Hour)
	if err := c.TriggerGoalCompletion(ctx, "g2", "Read"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	if err := c.TriggerGoalCompletion(ctx, "g3", "Call mum"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}

	tests := map[string][]string{
		"2026-10-17": {"g1"},
		"2026-10-18": {"g2", "g3"},
		"2026-10-19": nil,
	}
	for date, want := range tests {
		got := c.GoalsCompletedOnDate(date)
		if len(got) != len(want) {
			t.Errorf("%s: expected %d completions, got %d", date, len(want), len(got))
			continue
		}
		for i := range want {
			if got[i].GoalID != want[i] {
				t.Errorf("%s: expected %s at %d, got %s", date, want[i], i, got[i].GoalID)
			}
		}
	}
}

func TestDateKeyUsesLocation(t *testing.T) {
	auckland, err := time.LoadLocation("Pacific/Auckland")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	at := time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC)
	c, err := NewCoordinator(context.Background(), events.NewMemoryBroker().Bus("user-1", "tab-a"), Options{
		Location: auckland,
		Now:      func() time.Time { return at },
	})
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	defer c.Close()

	if err := c.TriggerGoalCompletion(context.Background(), "g1", "Sleep"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	if got := c.CompletedGoals()[0].DateKey; got != "2026-10-18" {
		t.Errorf("expected local date 2026-10-18, got %s", got)
	}
}

func TestRemoteCompletionIsMerged(t *testing.T) {
	clock := newFakeClock()
	broker := events.NewMemoryBroker(events.WithClock(clock.Now))
	tabA := newCoordinator(t, broker, "tab-a", clock)
	tabB := newCoordinator(t, broker, "tab-b", clock)
	changed := waitForChange(t, tabB)

	if err := tabA.TriggerGoalCompletion(context.Background(), "g9", "Meditate"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	awaitSignal(t, changed)

	if !tabB.IsCelebrating("g9") {
		t.Error("expected g9 celebrating in the other context")
	}
	today := tabB.GoalsCompletedOnDate(tabB.Today())
	if len(today) != 1 || today[0].GoalID != "g9" || today[0].GoalTitle != "Meditate" {
		t.Errorf("expected one g9 completion today, got %+v", today)
	}
	if got := tabA.CompletedGoals(); len(got) != 1 {
		t.Errorf("publishing context must not merge its own notice, got %d records", len(got))
	}
}

func TestRemoteCompletionOverRedis(t *testing.T) {
	s := miniredis.RunT(t)
	clock := newFakeClock()
	broker, err := events.NewRedisBroker("redis://"+s.Addr(), events.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewRedisBroker failed: %v", err)
	}
	defer broker.Close()

	tabA := newCoordinator(t, broker, "tab-a", clock)
	tabB := newCoordinator(t, broker, "tab-b", clock)
	changed := waitForChange(t, tabB)

	if err := tabA.TriggerGoalCompletion(context.Background(), "g9", "Meditate"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	awaitSignal(t, changed)

	if !tabB.IsCelebrating("g9") || len(tabB.GoalsCompletedOnDate("2026-10-17")) != 1 {
		t.Errorf("expected g9 merged into tab-b, state %+v", tabB.State())
	}
}

func TestStaleRemoteNoticeIsDropped(t *testing.T) {
	clock := newFakeClock()
	c := newCoordinator(t, events.NewMemoryBroker(), "tab-b", clock)

	notice := model.NewCompletionNotice("g1", "Walk", clock.Now(), time.UTC)

	c.handleNotice(events.Envelope{Notice: notice, PublishedAt: clock.Now().Add(-5001 * time.Millisecond)})
	if len(c.CompletedGoals()) != 0 || c.IsCelebrating("g1") {
		t.Fatalf("stale notice must be dropped, state %+v", c.State())
	}

	c.handleNotice(events.Envelope{Notice: notice, PublishedAt: clock.Now().Add(-5000 * time.Millisecond)})
	if len(c.CompletedGoals()) != 1 || !c.IsCelebrating("g1") {
		t.Errorf("notice at the edge of the window must be merged, state %+v", c.State())
	}
}

func TestStaleNoticeFromLateContext(t *testing.T) {
	clock := newFakeClock()
	broker := events.NewMemoryBroker(events.WithClock(clock.Now))
	tabA := newCoordinator(t, broker, "tab-a", clock)
	tabB := newCoordinator(t, broker, "tab-b", clock)
	changed := waitForChange(t, tabB)

	clockAtPublish := clock.Now()
	if err := tabA.TriggerGoalCompletion(context.Background(), "g1", "Walk"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	awaitSignal(t, changed)
	if len(tabB.CompletedGoals()) != 1 {
		t.Fatalf("fresh notice should be merged, state %+v", tabB.State())
	}

	clock.Advance(10 * time.Second)
	late := newCoordinator(t, broker, "tab-late", clock)
	late.handleNotice(events.Envelope{
		Notice:      model.NewCompletionNotice("g1", "Walk", clockAtPublish, time.UTC),
		PublishedAt: clockAtPublish,
	})
	if len(late.CompletedGoals()) != 0 {
		t.Errorf("late context replayed an old celebration: %+v", late.State())
	}
}

func TestRemoteNoticeForCelebratingGoalIsIgnored(t *testing.T) {
	clock := newFakeClock()
	c := newCoordinator(t, events.NewMemoryBroker(), "tab-b", clock)

	if err := c.TriggerGoalCompletion(context.Background(), "g1", "Walk"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	c.handleNotice(events.Envelope{
		Notice:      model.NewCompletionNotice("g1", "Walk", clock.Now().Add(time.Second), time.UTC),
		PublishedAt: clock.Now(),
	})

	if len(c.CompletedGoals()) != 1 {
		t.Errorf("expected duplicate remote notice ignored, got %d records", len(c.CompletedGoals()))
	}
}

func TestUncompletionIsNotBroadcast(t *testing.T) {
	clock := newFakeClock()
	broker := events.NewMemoryBroker(events.WithClock(clock.Now))
	tabA := newCoordinator(t, broker, "tab-a", clock)
	tabB := newCoordinator(t, broker, "tab-b", clock)
	changed := waitForChange(t, tabB)

	if err := tabA.TriggerGoalCompletion(context.Background(), "g1", "Walk"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	awaitSignal(t, changed)

	tabA.TriggerGoalUncompletion("g1")

	select {
	case <-changed:
		t.Fatal("uncompletion must stay local")
	case <-time.After(100 * time.Millisecond):
	}
	if !tabB.IsCelebrating("g1") {
		t.Error("other context should still celebrate g1")
	}
}

func TestCloseStopsObserving(t *testing.T) {
	clock := newFakeClock()
	broker := events.NewMemoryBroker(events.WithClock(clock.Now))
	tabA := newCoordinator(t, broker, "tab-a", clock)
	tabB := newCoordinator(t, broker, "tab-b", clock)

	tabB.Close()
	tabB.Close()

	select {
	case <-tabB.Done():
	default:
		t.Fatal("expected Done to be closed after Close")
	}

	if err := tabA.TriggerGoalCompletion(context.Background(), "g1", "Walk"); err != nil {
		t.Fatalf("TriggerGoalCompletion failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if len(tabB.CompletedGoals()) != 0 {
		t.Error("closed coordinator must not merge notices")
	}
}
