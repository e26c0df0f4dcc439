package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"strzcam.com/posture/capture"
	"strzcam.com/posture/classify"
	"strzcam.com/posture/frame"
	"strzcam.com/posture/notify"
	"strzcam.com/posture/pipeline"
	"strzcam.com/posture/pose"
	"strzcam.com/posture/session"
	"strzcam.com/posture/store"
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

// tickSource yields an empty frame every few milliseconds, limit frames in
// total when limit > 0.
type tickSource struct {
	mu    sync.Mutex
	limit int
	sent  int
}

func (s *tickSource) Next(ctx context.Context) (frame.Frame, error) {
	s.mu.Lock()
	if s.limit > 0 && s.sent >= s.limit {
		s.mu.Unlock()
		return frame.Frame{}, capture.ErrExhausted
	}
	s.sent++
	s.mu.Unlock()
	select {
	case <-time.After(2 * time.Millisecond):
		return frame.Frame{Data: []byte{0xff, 0xd8}, Format: frame.JPEG}, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

func (s *tickSource) Close() error { return nil }

var noPerson = pose.ExtractorFunc(func(context.Context, frame.Frame) (pose.Skeleton, bool, error) {
	return nil, false, nil
})

var anyLabel = classify.ClassifierFunc(func(pose.FeatureVector) (classify.Diagnosis, error) {
	return classify.Diagnosis{Label: "x"}, nil
})

type fixture struct {
	svc   *Service
	clock *fakeClock
	kv    *store.MemoryKV
}

func newFixture(t *testing.T, src capture.Source) *fixture {
	t.Helper()
	kv := store.NewMemoryKV()
	f := newFixtureWithStore(t, src, kv)
	f.kv = kv
	return f
}

func newFixtureWithStore(t *testing.T, src capture.Source, kv store.KV) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	clk := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	rec := store.NewRecorder(kv, store.NewKeyer(time.UTC))
	events := notify.NewHub[notify.Event]()
	frames := notify.NewHub[[]byte]()
	advisor := classify.DefaultAdvisor()
	state := pipeline.NewDiagnosisState(classify.DefaultUnavailable, advisor)
	p, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Source:    src,
		Extractor: noPerson,
		Spine:     anyLabel,
		Sit:       anyLabel,
		Advisor:   advisor,
		Clock:     clk,
		State:     state,
		Events:    events,
		Frames:    frames,
	})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := NewService(ctx, Options{
		Pipeline: p,
		Ledger:   session.NewLedger(clk),
		State:    state,
		Events:   events,
		Frames:   frames,
		Recorder: rec,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		svc.Shutdown(sctx)
		cancel()
		events.Close()
		frames.Close()
	})
	return &fixture{svc: svc, clock: clk}
}

func TestStartStopRecordsSession(t *testing.T) {
	f := newFixture(t, &tickSource{})
	start := f.svc.StartStreaming()
	if start.AlreadyRunning {
		t.Fatal("first start reported already running")
	}
	f.clock.Advance(90 * time.Second)
	res := f.svc.StopStreaming(context.Background())
	if !res.Stopped || res.Duration != "00:01:30" {
		t.Fatalf("stop result = %+v", res)
	}
	h := f.svc.History()
	if len(h) != 1 || h[0].Duration.TotalSeconds != 90 {
		t.Fatalf("history = %+v", h)
	}
	if n := f.kv.Len(store.NamespaceSessions); n != 1 {
		t.Errorf("persisted %d sessions", n)
	}
}

func TestStopWithoutSession(t *testing.T) {
	f := newFixture(t, &tickSource{})
	res := f.svc.StopStreaming(context.Background())
	if res.Stopped {
		t.Fatalf("expected no session, got %+v", res)
	}
	if len(f.svc.History()) != 0 {
		t.Fatal("history changed")
	}
}

func TestStartTwice(t *testing.T) {
	f := newFixture(t, &tickSource{})
	first := f.svc.StartStreaming()
	f.clock.Advance(time.Minute)
	second := f.svc.StartStreaming()
	if !second.AlreadyRunning || !second.StartTime.Equal(first.StartTime) || second.RunID != first.RunID {
		t.Fatalf("first %+v second %+v", first, second)
	}
	if f.svc.Stats().Pipeline.RunID != first.RunID {
		t.Error("a second run was launched")
	}
}

func TestSelfStopClosesSession(t *testing.T) {
	f := newFixture(t, &tickSource{limit: 3})
	f.svc.StartStreaming()
	deadline := time.After(2 * time.Second)
	for len(f.svc.History()) == 0 {
		select {
		case <-deadline:
			t.Fatal("session not closed after source exhaustion")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if f.svc.Diagnosis().Running {
		t.Error("pipeline still reported running")
	}
	if res := f.svc.StopStreaming(context.Background()); res.Stopped {
		t.Error("stop after self-termination found an open session")
	}
}

func TestStaleRunDoesNotCloseSession(t *testing.T) {
	f := newFixture(t, &tickSource{})
	start := f.svc.StartStreaming()
	f.svc.pipelineStopped(start.RunID-1, errors.New("old run"))
	if _, open := f.svc.ledger.Open(); !open {
		t.Fatal("stale callback closed the current session")
	}
}

func TestDiagnosisBeforeFirstFrame(t *testing.T) {
	f := newFixture(t, &tickSource{})
	r := f.svc.Diagnosis()
	if r.Spine != classify.DefaultUnavailable || r.Sit != classify.DefaultUnavailable {
		t.Errorf("report = %+v", r)
	}
	if r.Suggestion != classify.DefaultCorrectMessage || r.Running {
		t.Errorf("report = %+v", r)
	}
}

func TestObservers(t *testing.T) {
	f := newFixture(t, &tickSource{})
	f.svc.ObserverConnected("a")
	f.svc.ObserverConnected("b")
	f.svc.ObserverDisconnected("a")
	f.svc.ObserverDisconnected("unknown")
	if n := f.svc.Observers(); n != 1 {
		t.Errorf("observers = %d", n)
	}
}

func TestRestoreHistory(t *testing.T) {
	f := newFixture(t, &tickSource{})
	start := time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)
	rec := store.NewRecorder(f.kv, store.NewKeyer(time.UTC))
	rec.RecordSession(context.Background(), session.Session{Start: start, End: start.Add(time.Hour), Duration: session.NewDuration(time.Hour)})
	if err := f.svc.RestoreHistory(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := f.svc.History()
	if len(h) != 1 || h[0].Duration.String() != "01:00:00" {
		t.Fatalf("history = %+v", h)
	}
}

func TestRecentKeepsAnalysisEvents(t *testing.T) {
	f := newFixture(t, &tickSource{})
	f.svc.events.Publish(notify.StatusEvent(notify.StatusPayload{State: "running"}))
	f.svc.events.Publish(notify.AnalysisEvent(notify.Analysis{DiagnosisSit: "Baik"}))
	deadline := time.After(time.Second)
	for len(f.svc.Recent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("analysis event not tracked")
		case <-time.After(time.Millisecond):
		}
	}
	if got := f.svc.Recent(); len(got) != 1 || got[0].Name != notify.EventAnalysis {
		t.Errorf("recent = %+v", got)
	}
}

// slowSessionKV holds session writes until release is closed.
type slowSessionKV struct {
	entered chan struct{}
	release chan struct{}
}

func (kv *slowSessionKV) Put(ctx context.Context, ns, key string, value any) error {
	if ns != store.NamespaceSessions {
		return nil
	}
	select {
	case kv.entered <- struct{}{}:
	default:
	}
	select {
	case <-kv.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (kv *slowSessionKV) Close() error { return nil }

func TestSlowSessionWriteDoesNotBlockStart(t *testing.T) {
	kv := &slowSessionKV{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixtureWithStore(t, &tickSource{}, kv)
	f.svc.StartStreaming()
	f.clock.Advance(time.Minute)

	stopped := make(chan StopResult, 1)
	go func() { stopped <- f.svc.StopStreaming(context.Background()) }()
	select {
	case <-kv.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("session write never started")
	}

	started := make(chan StartResult, 1)
	go func() { started <- f.svc.StartStreaming() }()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("start waited for the session write")
	}
	close(kv.release)
	if res := <-stopped; !res.Stopped || res.Duration != "00:01:00" {
		t.Errorf("stop result = %+v", res)
	}
}

type countingSink struct{}

func (countingSink) Counts() (uint64, uint64) { return 7, 2 }

func TestStatsReportsBacklogAndSinks(t *testing.T) {
	f := newFixture(t, &tickSource{})
	f.svc.AttachSink("mqtt", countingSink{})
	f.svc.events.Publish(notify.AnalysisEvent(notify.Analysis{DiagnosisSit: "Baik"}))
	deadline := time.After(time.Second)
	for f.svc.Stats().Backlog == 0 {
		select {
		case <-deadline:
			t.Fatal("backlog stayed empty")
		case <-time.After(time.Millisecond):
		}
	}
	st := f.svc.Stats()
	if st.Backlog != 1 || st.Sinks["mqtt"] != (SinkStats{Published: 7, Failed: 2}) {
		t.Errorf("stats = %+v", st)
	}
}
