package dialog

import (
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeClock ручные часы для детерминированных тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
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

func TestStore_SnapshotUnknownUser(t *testing.T) {
	store := NewStore(DefaultInactivityReset)

	if turns := store.Snapshot(42); turns != nil {
		t.Fatalf("expected nil snapshot, got: %v", turns)
	}
}

func TestStore_AppendKeepsInsertionOrder(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(DefaultInactivityReset, WithClock(clock.Now))

	store.Append(1, RoleUser, "first")
	clock.Advance(time.Second)
	store.Append(1, RoleAssistant, "second")
	clock.Advance(time.Second)
	store.Append(1, RoleUser, "third")

	turns := store.Snapshot(1)
	want := []Turn{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "second"},
		{Role: RoleUser, Content: "third"},
	}
	if len(turns) != len(want) {
		t.Fatalf("expected %d turns, got: %d", len(want), len(turns))
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Fatalf("turn %d: expected %v, got %v", i, want[i], turns[i])
		}
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	store := NewStore(DefaultInactivityReset)
	store.Append(1, RoleUser, "Hello")

	turns := store.Snapshot(1)
	turns[0].Content = "mutated"
	store.Append(1, RoleAssistant, "Hi")

	again := store.Snapshot(1)
	if again[0].Content != "Hello" {
		t.Fatalf("snapshot must not share memory with store, got: %s", again[0].Content)
	}
	if len(turns) != 1 {
		t.Fatalf("old snapshot must not see later appends, got %d turns", len(turns))
	}
}

func TestStore_ResetStartsNewOrder(t *testing.T) {
	store := NewStore(DefaultInactivityReset)
	store.Append(1, RoleUser, "old question")
	store.Append(1, RoleAssistant, "old answer")

	store.Reset(1)
	if turns := store.Snapshot(1); turns != nil {
		t.Fatalf("expected empty context after reset, got: %v", turns)
	}

	store.Append(1, RoleUser, "new question")
	turns := store.Snapshot(1)
	if len(turns) != 1 || turns[0].Content != "new question" {
		t.Fatalf("expected only new question after reset, got: %v", turns)
	}

	// Повторный сброс безопасен
	store.Reset(1)
	store.Reset(1)
	if store.Len() != 1 {
		t.Fatalf("expected 1 context, got: %d", store.Len())
	}
}

func TestStore_ResetCreatesEntry(t *testing.T) {
	store := NewStore(DefaultInactivityReset)
	store.Reset(7)

	if store.Len() != 1 {
		t.Fatalf("expected reset to create context, got len %d", store.Len())
	}
}

func TestStore_InactivityResetClearsHistory(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(180*time.Second, WithClock(clock.Now))

	store.Append(1, RoleUser, "at t=0")
	clock.Advance(200 * time.Second)
	store.Append(1, RoleUser, "at t=200")

	turns := store.Snapshot(1)
	if len(turns) != 1 {
		t.Fatalf("expected history to be reset, got: %v", turns)
	}
	if turns[0].Content != "at t=200" {
		t.Fatalf("expected only the t=200 turn, got: %s", turns[0].Content)
	}

	// lastUpdated сдвинулся на t=200: запись не истекает при проверке на t=200+179
	clock.Advance(179 * time.Second)
	if evicted := store.SweepExpired(180 * time.Second); len(evicted) != 0 {
		t.Fatalf("expected no eviction, got: %v", evicted)
	}
}

func TestStore_InactivityWithinThresholdKeepsHistory(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(180*time.Second, WithClock(clock.Now))

	store.Append(1, RoleUser, "a")
	clock.Advance(180 * time.Second)
	store.Append(1, RoleUser, "b")

	if turns := store.Snapshot(1); len(turns) != 2 {
		t.Fatalf("expected 2 turns at exactly the threshold, got: %d", len(turns))
	}
}

func TestStore_ZeroInactivityResetDisablesSoftReset(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(0, WithClock(clock.Now))

	store.Append(1, RoleUser, "a")
	clock.Advance(100 * time.Hour)
	store.Append(1, RoleUser, "b")

	if turns := store.Snapshot(1); len(turns) != 2 {
		t.Fatalf("expected history to survive with reset disabled, got: %d", len(turns))
	}
}

func TestStore_SweepExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(DefaultInactivityReset, WithClock(clock.Now))

	store.Append(1, RoleUser, "t=0")
	store.Append(2, RoleUser, "t=0")
	clock.Advance(150 * time.Second)
	store.Append(3, RoleUser, "t=150")
	clock.Advance(31 * time.Second)

	evicted := store.SweepExpired(180 * time.Second)
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	if len(evicted) != 2 || evicted[0] != 1 || evicted[1] != 2 {
		t.Fatalf("expected users 1 and 2 evicted, got: %v", evicted)
	}
	if store.Snapshot(3) == nil {
		t.Fatalf("expected user 3 untouched")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 remaining context, got: %d", store.Len())
	}
}

func TestStore_AppendAfterEvictionStartsFresh(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(DefaultInactivityReset, WithClock(clock.Now))

	store.Append(1, RoleUser, "old")
	clock.Advance(181 * time.Second)
	store.SweepExpired(180 * time.Second)
	store.Append(1, RoleUser, "new")

	turns := store.Snapshot(1)
	if len(turns) != 1 || turns[0].Content != "new" {
		t.Fatalf("expected evicted history to stay gone, got: %v", turns)
	}
}

func TestStore_LastUpdatedNeverMovesBack(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(DefaultInactivityReset, WithClock(clock.Now))

	store.Append(1, RoleUser, "a")
	clock.Advance(-time.Minute)
	store.Append(1, RoleUser, "b")
	clock.Advance(time.Minute + 180*time.Second)

	// lastUpdated остался на исходном времени, а не на минуту раньше
	if evicted := store.SweepExpired(180 * time.Second); len(evicted) != 0 {
		t.Fatalf("expected no eviction, got: %v", evicted)
	}
}

func TestStore_ConcurrentAppendAndSweep(t *testing.T) {
	store := NewStore(DefaultInactivityReset)

	var wg sync.WaitGroup
	iterations := 100

	// Параллельные записи в разные контексты
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				store.Append(userID, RoleUser, "msg")
				_ = store.Snapshot(userID)
			}
		}(int64(i))
	}

	// Параллельная очистка и сбросы
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < iterations; j++ {
			store.SweepExpired(time.Hour)
			store.Reset(100)
		}
	}()

	wg.Wait()

	for i := 0; i < 10; i++ {
		if turns := store.Snapshot(int64(i)); len(turns) != iterations {
			t.Fatalf("expected %d turns for user %d, got: %d", iterations, i, len(turns))
		}
	}
}
