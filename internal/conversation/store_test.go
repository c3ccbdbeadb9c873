package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testStore(window int, idle time.Duration) *Store {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewStore(window, idle, logger)
}

func TestStore_AppendAndWindow(t *testing.T) {
	s := testStore(5, time.Minute)
	defer s.Close()

	s.Append("sess-1", "hello", "greeting")
	s.Append("sess-1", "create a ticket", "create_ticket")

	window := s.Window("sess-1")
	if len(window) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(window))
	}
	if window[0].Intent != "greeting" || window[1].Intent != "create_ticket" {
		t.Error("window must be ordered most-recent-last")
	}
}

func TestStore_WindowBounded(t *testing.T) {
	s := testStore(3, time.Minute)
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Append("sess-1", fmt.Sprintf("utterance %d", i), fmt.Sprintf("intent_%d", i))
	}

	window := s.Window("sess-1")
	if len(window) != 3 {
		t.Fatalf("expected window bounded at 3, got %d", len(window))
	}
	// Oldest turns evicted: only 7, 8, 9 remain.
	if window[0].Intent != "intent_7" || window[2].Intent != "intent_9" {
		t.Errorf("expected oldest-evicted window [7..9], got %s..%s", window[0].Intent, window[2].Intent)
	}
}

func TestStore_LastIntent(t *testing.T) {
	s := testStore(5, time.Minute)
	defer s.Close()

	if got := s.LastIntent("unknown"); got != "" {
		t.Errorf("fresh session should have no last intent, got %q", got)
	}

	s.Append("sess-1", "hello", "greeting")
	s.Append("sess-1", "refund please", "refund_request")

	if got := s.LastIntent("sess-1"); got != "refund_request" {
		t.Errorf("expected refund_request, got %q", got)
	}
}

func TestStore_SessionsIsolated(t *testing.T) {
	s := testStore(5, time.Minute)
	defer s.Close()

	s.Append("sess-1", "hello", "greeting")
	s.Append("sess-2", "refund please", "refund_request")

	if len(s.Window("sess-1")) != 1 || len(s.Window("sess-2")) != 1 {
		t.Error("sessions must not share turns")
	}
	if s.LastIntent("sess-1") == s.LastIntent("sess-2") {
		t.Error("sessions must not share intents")
	}
}

func TestStore_IdleEviction(t *testing.T) {
	s := testStore(5, 20*time.Millisecond)
	defer s.Close()

	s.Append("sess-1", "hello", "greeting")
	if s.ActiveSessions() != 1 {
		t.Fatal("expected one active session")
	}

	time.Sleep(30 * time.Millisecond)
	s.evictIdle()

	if s.ActiveSessions() != 0 {
		t.Error("idle session should be garbage-collected")
	}
	if len(s.Window("sess-1")) != 0 {
		t.Error("evicted session should read as empty")
	}
}

func TestStore_ConcurrentSessions(t *testing.T) {
	s := testStore(8, time.Minute)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sess-%d", i)
			for j := 0; j < 50; j++ {
				s.Append(id, "text", fmt.Sprintf("intent_%d", j))
				s.Window(id)
				s.LastIntent(id)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("sess-%d", i)
		if got := s.LastIntent(id); got != "intent_49" {
			t.Errorf("session %s: appends must be applied in order, last intent %q", id, got)
		}
		if len(s.Window(id)) != 8 {
			t.Errorf("session %s: window should be bounded at 8", id)
		}
	}
}
