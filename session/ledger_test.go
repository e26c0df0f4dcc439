package session

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func TestStopAfterNinetySeconds(t *testing.T) {
	clk := newClock()
	l := NewLedger(clk)
	start, ok := l.Start()
	if !ok {
		t.Fatal("expected a new session")
	}
	clk.Advance(90 * time.Second)
	s, ok := l.Stop()
	if !ok {
		t.Fatal("expected a closed session")
	}
	if got := s.Duration.String(); got != "00:01:30" {
		t.Errorf("duration = %s, want 00:01:30", got)
	}
	if !s.Start.Equal(start) {
		t.Errorf("start = %v, want %v", s.Start, start)
	}
	h := l.History()
	if len(h) != 1 || h[0].Duration.TotalSeconds != 90 {
		t.Fatalf("unexpected history %+v", h)
	}
	if h[0].Duration.Minutes != 1 || h[0].Duration.Seconds != 30 {
		t.Errorf("breakdown = %+v", h[0].Duration)
	}
}

func TestStopWithoutSession(t *testing.T) {
	l := NewLedger(newClock())
	if _, ok := l.Stop(); ok {
		t.Fatal("expected no session")
	}
	if len(l.History()) != 0 {
		t.Fatal("history must stay empty")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	clk := newClock()
	l := NewLedger(clk)
	first, _ := l.Start()
	clk.Advance(time.Minute)
	again, ok := l.Start()
	if ok {
		t.Error("second start must not open a new session")
	}
	if !again.Equal(first) {
		t.Errorf("second start returned %v, want %v", again, first)
	}
}

func TestHistoryIsACopy(t *testing.T) {
	clk := newClock()
	l := NewLedger(clk)
	l.Start()
	clk.Advance(time.Second)
	l.Stop()
	h := l.History()
	h[0].Duration.Hours = 99
	if l.History()[0].Duration.Hours != 0 {
		t.Fatal("history was mutated through a returned slice")
	}
}

func TestDurationBreakdown(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{1500 * time.Millisecond, "00:00:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{26 * time.Hour, "26:00:00"},
		{-time.Second, "00:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := NewDuration(tt.in).String(); got != tt.want {
				t.Errorf("NewDuration(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
	if got := NewDuration(1500 * time.Millisecond).TotalSeconds; got != 1.5 {
		t.Errorf("total seconds = %v, want 1.5", got)
	}
}

func TestConcurrentStartStop(t *testing.T) {
	clk := newClock()
	l := NewLedger(clk)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); l.Start() }()
		go func() { defer wg.Done(); l.Stop() }()
	}
	wg.Wait()
	l.Stop()
	if _, open := l.Open(); open {
		t.Fatal("session still open after final stop")
	}
	for _, s := range l.History() {
		if s.End.Before(s.Start) {
			t.Fatalf("session ends before it starts: %+v", s)
		}
	}
}

func TestRestore(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	l := NewLedger(newClock())
	err := l.Restore([]Session{
		{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
		{Start: base, End: base.Add(time.Minute)},
	})
	if err != nil {
		t.Fatal(err)
	}
	h := l.History()
	if len(h) != 2 || !h[0].Start.Equal(base) {
		t.Fatalf("history not sorted oldest first: %+v", h)
	}
	if err := l.Restore(nil); err != ErrHistoryNotEmpty {
		t.Errorf("expected ErrHistoryNotEmpty, got %v", err)
	}
}
