package session

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestGetOrCreateIdempotent(t *testing.T) {
	st := NewStore(testLogger(), 10, 8)

	s1, err := st.GetOrCreate("MZ1", Hints{CallID: "CA1", Language: "en"})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	defer s1.Close()

	s2, err := st.GetOrCreate("MZ1", Hints{CallID: "other", Language: "ru"})
	if err != nil {
		t.Fatalf("Second GetOrCreate failed: %v", err)
	}

	if s1 != s2 {
		t.Fatal("Expected the same session for the same stream id")
	}
	if st.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", st.Count())
	}

	// Appends through either handle land in the same ordered history.
	s1.AppendTurn(RoleCaller, "first")
	s2.AppendTurn(RoleAssistant, "second")

	history := s1.History()
	if len(history) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(history))
	}
	if history[0].Text != "first" || history[1].Text != "second" {
		t.Errorf("History order wrong: %+v", history)
	}
}

func TestMaxSessions(t *testing.T) {
	st := NewStore(testLogger(), 2, 8)

	a, _ := st.GetOrCreate("MZ1", Hints{})
	b, _ := st.GetOrCreate("MZ2", Hints{})
	defer a.Close()
	defer b.Close()

	if _, err := st.GetOrCreate("MZ3", Hints{}); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("Expected ErrTooManySessions, got %v", err)
	}

	// Existing ids are still returned at the cap.
	if _, err := st.GetOrCreate("MZ1", Hints{}); err != nil {
		t.Errorf("Existing session should be returned at cap: %v", err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	st := NewStore(testLogger(), 10, 8)

	s, _ := st.GetOrCreate("MZ1", Hints{})
	s.Close()

	if !st.Remove("MZ1") {
		t.Error("First remove should report the deletion")
	}
	if st.Remove("MZ1") {
		t.Error("Second remove should be a no-op")
	}
	if st.Remove("never-existed") {
		t.Error("Removing an unknown id should be a no-op")
	}

	if st.Count() != 0 {
		t.Errorf("Expected empty store, got %d sessions", st.Count())
	}
}

func TestRemoveSingleWinnerUnderContention(t *testing.T) {
	st := NewStore(testLogger(), 10, 8)

	s, _ := st.GetOrCreate("MZ1", Hints{})
	s.Close()

	var wg sync.WaitGroup
	var wins atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st.Remove("MZ1") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly 1 winning remove, got %d", wins.Load())
	}
}

func TestQueueOrdering(t *testing.T) {
	st := NewStore(testLogger(), 10, 64)
	s, _ := st.GetOrCreate("MZ1", Hints{})

	var mu sync.Mutex
	var order []int

	for i := 0; i < 20; i++ {
		i := i
		err := s.Enqueue(func() {
			if i == 0 {
				// The first task is artificially slow; later tasks must still wait.
				time.Sleep(50 * time.Millisecond)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}

	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 20 {
		t.Fatalf("Expected 20 completed tasks, got %d", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("Task %d completed out of order (got %d): %v", i, got, order)
		}
	}
}

func TestEnqueueAfterCloseRejected(t *testing.T) {
	st := NewStore(testLogger(), 10, 8)
	s, _ := st.GetOrCreate("MZ1", Hints{})
	s.Close()

	if err := s.Enqueue(func() {}); !errors.Is(err, ErrSessionInactive) {
		t.Errorf("Expected ErrSessionInactive, got %v", err)
	}
	if s.Active() {
		t.Error("Session must be inactive after Close")
	}
}

func TestQueueFull(t *testing.T) {
	st := NewStore(testLogger(), 10, 1)
	s, _ := st.GetOrCreate("MZ1", Hints{})
	defer s.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := s.Enqueue(func() { close(started); <-release }); err != nil {
		t.Fatalf("First enqueue failed: %v", err)
	}
	<-started

	// Worker is busy; one slot in the queue.
	if err := s.Enqueue(func() {}); err != nil {
		t.Fatalf("Second enqueue should fit in the queue: %v", err)
	}
	if err := s.Enqueue(func() {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(release)
}

func TestCloseIdempotentAndDrains(t *testing.T) {
	st := NewStore(testLogger(), 10, 8)
	s, _ := st.GetOrCreate("MZ1", Hints{})

	done := false
	if err := s.Enqueue(func() {
		time.Sleep(20 * time.Millisecond)
		done = true
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	s.Close()
	s.Close()

	if !done {
		t.Error("Close must wait for in-flight work to drain")
	}
}

func TestFallbackLatch(t *testing.T) {
	st := NewStore(testLogger(), 10, 8)
	s, _ := st.GetOrCreate("MZ1", Hints{})
	defer s.Close()

	if s.FallbackSent() {
		t.Error("Fallback flag must start false")
	}
	if !s.MarkFallbackSent() {
		t.Error("First MarkFallbackSent must win")
	}
	if s.MarkFallbackSent() {
		t.Error("Second MarkFallbackSent must not win")
	}
	if !s.FallbackSent() {
		t.Error("Fallback flag must remain true")
	}
}

func TestStale(t *testing.T) {
	st := NewStore(testLogger(), 10, 8)
	s, _ := st.GetOrCreate("MZ1", Hints{})
	defer s.Close()

	if ids := st.Stale(time.Hour); len(ids) != 0 {
		t.Errorf("Fresh session reported stale: %v", ids)
	}

	time.Sleep(10 * time.Millisecond)
	ids := st.Stale(time.Millisecond)
	if len(ids) != 1 || ids[0] != "MZ1" {
		t.Errorf("Expected MZ1 stale, got %v", ids)
	}
}

func TestListSnapshot(t *testing.T) {
	st := NewStore(testLogger(), 10, 8)
	a, _ := st.GetOrCreate("MZ1", Hints{CallID: "CA1"})
	b, _ := st.GetOrCreate("MZ2", Hints{CallID: "CA2"})
	defer a.Close()
	defer b.Close()

	a.AppendTurn(RoleCaller, "hi")

	infos := st.List()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 infos, got %d", len(infos))
	}

	seen := map[string]Info{}
	for _, info := range infos {
		seen[info.StreamID] = info
	}
	if seen["MZ1"].Turns != 1 {
		t.Errorf("Expected 1 turn for MZ1, got %d", seen["MZ1"].Turns)
	}
	if seen["MZ2"].Turns != 0 {
		t.Errorf("Expected 0 turns for MZ2, got %d", seen["MZ2"].Turns)
	}
}

func TestHistoryIsolation(t *testing.T) {
	st := NewStore(testLogger(), 10, 8)
	a, _ := st.GetOrCreate("MZ1", Hints{})
	b, _ := st.GetOrCreate("MZ2", Hints{})
	defer a.Close()
	defer b.Close()

	a.AppendTurn(RoleCaller, "only in a")
	b.AppendTurn(RoleCaller, "only in b")

	if len(a.History()) != 1 || a.History()[0].Text != "only in a" {
		t.Errorf("Session a history polluted: %+v", a.History())
	}
	if len(b.History()) != 1 || b.History()[0].Text != "only in b" {
		t.Errorf("Session b history polluted: %+v", b.History())
	}
}
