package monitor

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"strzcam.com/posture/notify"
	"strzcam.com/posture/pipeline"
	"strzcam.com/posture/session"
	"strzcam.com/posture/store"
)

var log = logging.Logger("posture/monitor")

const DefaultBacklog = 10

type StartResult struct {
	StartTime      time.Time
	RunID          uint64
	AlreadyRunning bool
}

// StopResult.Stopped is false when no session was open.
type StopResult struct {
	Stopped  bool
	Duration string
	Session  session.Session
}

type Report struct {
	Spine            string             `json:"diagnosis_spine"`
	Sit              string             `json:"diagnosis_sit"`
	Suggestion       string             `json:"saran"`
	ProbabilitySpine map[string]float64 `json:"probability_spine,omitempty"`
	ProbabilitySit   map[string]float64 `json:"probability_sit,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`
	Running          bool               `json:"running"`
}

type Stats struct {
	Pipeline  pipeline.Stats       `json:"pipeline"`
	Events    notify.Stats         `json:"events"`
	Frames    notify.Stats         `json:"frames"`
	Observers int                  `json:"observers"`
	Backlog   int                  `json:"backlog"`
	Sinks     map[string]SinkStats `json:"sinks,omitempty"`
}

type SinkStats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// SinkCounter is an outbound event sink, such as the MQTT republisher.
type SinkCounter interface {
	Counts() (published, failed uint64)
}

type Options struct {
	Pipeline *pipeline.Pipeline
	Ledger   *session.Ledger
	State    *pipeline.DiagnosisState
	Events   *notify.Hub[notify.Event]
	Frames   *notify.Hub[[]byte]
	// Recorder persists closed sessions; may be nil.
	Recorder *store.Recorder
	Backlog  int
}

// Service is the control surface core: it owns start/stop of the pipeline
// together with the session ledger.
type Service struct {
	ctx      context.Context
	pipeline *pipeline.Pipeline
	ledger   *session.Ledger
	state    *pipeline.DiagnosisState
	events   *notify.Hub[notify.Event]
	frames   *notify.Hub[[]byte]
	recorder *store.Recorder
	backlog  *notify.Ring[notify.Event]
	tracker  *notify.Subscription[notify.Event]

	mu    sync.Mutex
	runID uint64

	obsMu     sync.Mutex
	observers map[string]time.Time

	sinkMu sync.Mutex
	sinks  map[string]SinkCounter
}

// NewService wires the service. ctx bounds every pipeline run it starts.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	if opts.Pipeline == nil || opts.Ledger == nil || opts.State == nil || opts.Events == nil || opts.Frames == nil {
		return nil, errors.New("monitor service is missing a dependency")
	}
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}
	tracker, err := opts.Events.Subscribe(notify.SubscribeOptions{Buffer: 64, Policy: notify.DropOldest})
	if err != nil {
		return nil, err
	}
	s := &Service{
		ctx:       ctx,
		pipeline:  opts.Pipeline,
		ledger:    opts.Ledger,
		state:     opts.State,
		events:    opts.Events,
		frames:    opts.Frames,
		recorder:  opts.Recorder,
		backlog:   notify.NewRing[notify.Event](opts.Backlog),
		tracker:   tracker,
		observers: make(map[string]time.Time),
		sinks:     make(map[string]SinkCounter),
	}
	s.pipeline.OnStopped(s.pipelineStopped)
	go s.track()
	return s, nil
}

// track keeps the most recent analysis events for observers that join late.
func (s *Service) track() {
	for ev := range s.tracker.C {
		if ev.Name == notify.EventAnalysis {
			s.backlog.Add(ev)
		}
	}
}

// RestoreHistory loads sessions persisted by earlier processes.
func (s *Service) RestoreHistory(ctx context.Context) error {
	if s.recorder == nil {
		return nil
	}
	sessions, err := s.recorder.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}
	if err := s.ledger.Restore(sessions); err != nil {
		return err
	}
	log.Infof("restored %d streaming sessions", len(sessions))
	return nil
}

func (s *Service) StartStreaming() StartResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, started := s.pipeline.Start(s.ctx)
	startTime, opened := s.ledger.Start()
	s.runID = runID
	if opened {
		log.Infow("streaming started", "run", runID, "start_time", startTime)
	}
	return StartResult{StartTime: startTime, RunID: runID, AlreadyRunning: !started && !opened}
}

// StopStreaming signals the pipeline and closes the open session. The loop
// finishes its current frame in the background.
func (s *Service) StopStreaming(ctx context.Context) StopResult {
	s.mu.Lock()
	s.pipeline.Stop()
	sess, ok := s.ledger.Stop()
	s.mu.Unlock()
	if !ok {
		return StopResult{}
	}
	log.Infow("streaming stopped", "duration", sess.Duration.String())
	s.persistSession(ctx, sess)
	return StopResult{Stopped: true, Duration: sess.Duration.String(), Session: sess}
}

// pipelineStopped closes the session of a run that ended on its own. A run
// that is no longer the current one owns no session.
func (s *Service) pipelineStopped(runID uint64, reason error) {
	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		return
	}
	sess, ok := s.ledger.Stop()
	s.mu.Unlock()
	if !ok {
		return
	}
	log.Warnw("streaming ended by the pipeline", "run", runID, "reason", reason, "duration", sess.Duration.String())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.persistSession(ctx, sess)
}

func (s *Service) persistSession(ctx context.Context, sess session.Session) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordSession(ctx, sess); err != nil {
		log.Warnw("persisting session failed", "err", err)
	}
}

// Diagnosis never waits on the pipeline.
func (s *Service) Diagnosis() Report {
	snap := s.state.Snapshot()
	return Report{
		Spine:            snap.Spine.Label,
		Sit:              snap.Sit.Label,
		Suggestion:       snap.Suggestion,
		ProbabilitySpine: maps.Clone(snap.Spine.Probabilities),
		ProbabilitySit:   maps.Clone(snap.Sit.Probabilities),
		UpdatedAt:        snap.UpdatedAt,
		Running:          s.pipeline.State() == pipeline.Running,
	}
}

func (s *Service) History() []session.Session {
	return s.ledger.History()
}

func (s *Service) Recent() []notify.Event {
	return s.backlog.All()
}

func (s *Service) SubscribeEvents(buffer int) (*notify.Subscription[notify.Event], error) {
	return s.events.Subscribe(notify.SubscribeOptions{Buffer: buffer, Policy: notify.DropOldest})
}

func (s *Service) SubscribeFrames() (*notify.Subscription[[]byte], error) {
	return s.frames.Subscribe(notify.SubscribeOptions{Buffer: 2, Policy: notify.DropOldest})
}

// ObserverConnected is bookkeeping only; the pipeline ignores observers.
func (s *Service) ObserverConnected(id string) {
	s.obsMu.Lock()
	s.observers[id] = time.Now()
	n := len(s.observers)
	s.obsMu.Unlock()
	log.Infof("observer %s connected (%d total)", id, n)
}

func (s *Service) ObserverDisconnected(id string) {
	s.obsMu.Lock()
	since, ok := s.observers[id]
	delete(s.observers, id)
	n := len(s.observers)
	s.obsMu.Unlock()
	if ok {
		log.Infof("observer %s disconnected after %s (%d left)", id, time.Since(since).Round(time.Second), n)
	}
}

func (s *Service) Observers() int {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	return len(s.observers)
}

// AttachSink reports c under name in Stats.
func (s *Service) AttachSink(name string, c SinkCounter) {
	s.sinkMu.Lock()
	s.sinks[name] = c
	s.sinkMu.Unlock()
}

func (s *Service) Stats() Stats {
	st := Stats{
		Pipeline:  s.pipeline.Stats(),
		Events:    s.events.Stats(),
		Frames:    s.frames.Stats(),
		Observers: s.Observers(),
		Backlog:   s.backlog.Size(),
	}
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	if len(s.sinks) > 0 {
		st.Sinks = make(map[string]SinkStats, len(s.sinks))
		for name, c := range s.sinks {
			published, failed := c.Counts()
			st.Sinks[name] = SinkStats{Published: published, Failed: failed}
		}
	}
	return st
}

// Shutdown stops streaming and waits for the loop to exit or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.StopStreaming(ctx)
	defer s.tracker.Close()
	select {
	case <-s.pipeline.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
