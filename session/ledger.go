package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"strzcam.com/posture/clock"
)

// Duration is the breakdown reported for a closed session.
type Duration struct {
	Hours        int     `json:"hours"`
	Minutes      int     `json:"minutes"`
	Seconds      int     `json:"seconds"`
	TotalSeconds float64 `json:"total_seconds"`
}

func NewDuration(d time.Duration) Duration {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return Duration{
		Hours:        int(total / 3600),
		Minutes:      int(total % 3600 / 60),
		Seconds:      int(total % 60),
		TotalSeconds: d.Seconds(),
	}
}

// String formats the duration as HH:MM:SS.
func (d Duration) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", d.Hours, d.Minutes, d.Seconds)
}

type Session struct {
	Start    time.Time `json:"start_time"`
	End      time.Time `json:"end_time"`
	Duration Duration  `json:"duration"`
}

var ErrHistoryNotEmpty = errors.New("session history already has entries")

// Ledger tracks at most one open session and the append-only list of closed ones.
type Ledger struct {
	clock clock.Clock

	mu      sync.Mutex
	open    time.Time
	isOpen  bool
	history []Session
}

func NewLedger(c clock.Clock) *Ledger {
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Ledger{clock: c}
}

// Start opens a session. When one is already open its start time is
// returned with started == false.
func (l *Ledger) Start() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isOpen {
		return l.open, false
	}
	l.open = l.clock.Now()
	l.isOpen = true
	return l.open, true
}

// Stop closes the open session and appends it to history. With nothing open
// it reports false and leaves history untouched.
func (l *Ledger) Stop() (Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isOpen {
		return Session{}, false
	}
	end := l.clock.Now()
	s := Session{Start: l.open, End: end, Duration: NewDuration(end.Sub(l.open))}
	l.history = append(l.history, s)
	l.open = time.Time{}
	l.isOpen = false
	return s, true
}

func (l *Ledger) Open() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open, l.isOpen
}

// History returns a copy of the closed sessions, oldest first.
func (l *Ledger) History() []Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.history)
}

// Restore seeds history with sessions closed by a previous process.
func (l *Ledger) Restore(sessions []Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.history) > 0 {
		return ErrHistoryNotEmpty
	}
	l.history = slices.Clone(sessions)
	slices.SortStableFunc(l.history, func(a, b Session) int {
		return a.Start.Compare(b.Start)
	})
	return nil
}
