package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"strzcam.com/posture/capture"
	"strzcam.com/posture/classify"
	"strzcam.com/posture/clock"
	"strzcam.com/posture/frame"
	"strzcam.com/posture/notify"
	"strzcam.com/posture/pose"
	"strzcam.com/posture/store"
)

var log = logging.Logger("posture/pipeline")

const DefaultMaxConsecutiveFailures = 3

type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

type Config struct {
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	JPEGQuality            int           `yaml:"jpeg_quality"`
	DrawLandmarks          bool          `yaml:"draw_landmarks"`
	MinVisibility          float64       `yaml:"min_visibility"`
	PersistTimeout         time.Duration `yaml:"persist_timeout"`
	Autostart              bool          `yaml:"autostart"`
}

func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		JPEGQuality:            frame.DefaultJPEGQuality,
		DrawLandmarks:          true,
		MinVisibility:          0.5,
		PersistTimeout:         5 * time.Second,
	}
}

// Deps are the collaborators of one pipeline. Recorder may be nil.
type Deps struct {
	Source    capture.Source
	Extractor pose.Extractor
	Spine     classify.Classifier
	Sit       classify.Classifier
	Recorder  *store.Recorder
	Advisor   classify.Advisor
	Clock     clock.Clock
	State     *DiagnosisState
	Events    *notify.Hub[notify.Event]
	Frames    *notify.Hub[[]byte]
}

// Pipeline runs at most one frame loop at a time.
type Pipeline struct {
	cfg  Config
	deps Deps

	mu            sync.Mutex
	running       bool
	stopRequested bool
	runID         uint64
	done          chan struct{}
	onStopped     func(runID uint64, reason error)

	counters counters
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline needs a frame source")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline needs a landmark extractor")
	case deps.Spine == nil || deps.Sit == nil:
		return nil, errors.New("pipeline needs both classifiers")
	case deps.State == nil || deps.Events == nil || deps.Frames == nil:
		return nil, errors.New("pipeline needs diagnosis state and both hubs")
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if deps.Clock == nil {
		deps.Clock = clock.SystemClock{}
	}
	done := make(chan struct{})
	close(done)
	return &Pipeline{cfg: cfg, deps: deps, done: done}, nil
}

// OnStopped registers fn to run when a loop ends on its own: source
// exhaustion, the failure threshold or context cancellation. It is not
// called after Stop.
func (p *Pipeline) OnStopped(fn func(runID uint64, reason error)) {
	p.mu.Lock()
	p.onStopped = fn
	p.mu.Unlock()
}

// Start launches the frame loop. If a loop is already running it only
// withdraws a pending stop and reports the current run with started == false.
func (p *Pipeline) Start(ctx context.Context) (runID uint64, started bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.stopRequested = false
		return p.runID, false
	}
	p.runID++
	p.running = true
	p.stopRequested = false
	p.done = make(chan struct{})
	p.counters.resetRun()
	go p.loop(ctx, p.runID, p.done)
	log.Infof("pipeline run %d started", p.runID)
	p.deps.Events.Publish(notify.StatusEvent(notify.StatusPayload{State: Running.String(), RunID: p.runID}))
	return p.runID, true
}

// Stop asks the loop to exit before its next frame. It reports whether a
// loop was running.
func (p *Pipeline) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	p.stopRequested = true
	return true
}

// Done is closed when the current (or last) run exits.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Pipeline) Wait() {
	<-p.Done()
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return Running
	}
	return Stopped
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	st := Stats{RunID: p.runID, State: Stopped.String()}
	if p.running {
		st.State = Running.String()
	}
	p.mu.Unlock()
	p.counters.fill(&st)
	return st
}

// exit decides under the lock whether the loop ends before the next frame.
// Once it returns a reason the pipeline is Stopped and a later Start spawns
// a fresh loop.
func (p *Pipeline) exit(ctx context.Context, pending error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reason := pending
	switch {
	case reason != nil:
	case p.stopRequested:
		reason = ErrStopRequested
	case ctx.Err() != nil:
		reason = ctx.Err()
	default:
		return nil
	}
	p.running = false
	p.stopRequested = false
	return reason
}

func (p *Pipeline) loop(ctx context.Context, runID uint64, done chan struct{}) {
	var pending error
	for {
		reason := p.exit(ctx, pending)
		if reason != nil {
			p.finish(runID, reason, done)
			return
		}
		pending = p.iterate(ctx)
	}
}

func (p *Pipeline) finish(runID uint64, reason error, done chan struct{}) {
	log.Infof("pipeline run %d stopped: %v", runID, reason)
	p.deps.Events.Publish(notify.StatusEvent(notify.StatusPayload{
		State:  Stopped.String(),
		RunID:  runID,
		Reason: reason.Error(),
	}))
	p.mu.Lock()
	fn := p.onStopped
	p.mu.Unlock()
	if fn != nil && !errors.Is(reason, ErrStopRequested) {
		fn(runID, reason)
	}
	close(done)
}

// iterate processes one frame and returns a non-nil error only when the
// loop has to end.
func (p *Pipeline) iterate(ctx context.Context) error {
	started := time.Now()
	detected, err := p.processFrame(ctx)
	if err == nil {
		p.counters.frameDone(detected, time.Since(started), time.Now())
		return nil
	}
	if errors.Is(err, capture.ErrExhausted) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var fe *FrameError
	if !errors.As(err, &fe) {
		fe = frameErr(SourceUnavailable, err)
	}
	n := p.counters.frameFailed()
	if fe.Kind == MalformedSkeleton {
		log.Errorw("extractor and vectorizer disagree on the skeleton layout", "err", fe.Err, "consecutive", n)
	} else {
		log.Warnw("frame failed", "kind", fe.Kind, "err", fe.Err, "consecutive", n)
	}
	p.deps.Events.Publish(notify.ErrorEvent(notify.ErrorPayload{
		Message:     fe.Error(),
		Kind:        string(fe.Kind),
		Consecutive: n,
	}))
	if n >= p.cfg.MaxConsecutiveFailures {
		return fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyFailures, n, fe)
	}
	return nil
}

func (p *Pipeline) processFrame(ctx context.Context) (bool, error) {
	f, err := p.deps.Source.Next(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrExhausted) || ctx.Err() != nil {
			return false, err
		}
		return false, frameErr(SourceUnavailable, err)
	}

	skeleton, ok, err := p.deps.Extractor.Extract(ctx, f)
	if err != nil {
		return false, frameErr(ExtractionFailure, err)
	}
	if !ok {
		log.Debugf("frame %d: no person detected", f.Seq)
		return false, p.emitFrame(f, nil)
	}

	vec, err := pose.Vectorize(skeleton)
	if err != nil {
		return false, frameErr(MalformedSkeleton, err)
	}
	spine, err := p.deps.Spine.Predict(vec)
	if err != nil {
		return false, frameErr(ClassificationFailure, fmt.Errorf("spine: %w", err))
	}
	sit, err := p.deps.Sit.Predict(vec)
	if err != nil {
		return false, frameErr(ClassificationFailure, fmt.Errorf("sit: %w", err))
	}

	now := p.deps.Clock.Now()
	suggestion := p.deps.Advisor.Suggest(sit.Label)
	var key string
	if p.deps.Recorder != nil {
		key = p.deps.Recorder.Keyer().Key(now)
	}
	p.deps.State.Update(Snapshot{Spine: spine, Sit: sit, Suggestion: suggestion, UpdatedAt: now, Key: key})
	p.persist(ctx, key, spine, sit, vec)
	p.deps.Events.Publish(notify.AnalysisEvent(notify.Analysis{
		Timestamp:        now,
		DiagnosisSpine:   spine.Label,
		DiagnosisSit:     sit.Label,
		ProbabilitySpine: spine.Probabilities,
		ProbabilitySit:   sit.Probabilities,
		Saran:            suggestion,
		Key:              key,
	}))
	log.Debugf("frame %d: spine=%s sit=%s", f.Seq, spine.Label, sit.Label)

	if err := p.emitFrame(f, skeleton); err != nil {
		log.Warnw("display frame dropped", "seq", f.Seq, "err", err)
	}
	return true, nil
}

// persist is best effort: failures are reported but keep the frame alive.
func (p *Pipeline) persist(ctx context.Context, key string, spine, sit classify.Diagnosis, vec pose.FeatureVector) {
	if p.deps.Recorder == nil {
		return
	}
	if p.cfg.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PersistTimeout)
		defer cancel()
	}
	if err := p.deps.Recorder.Record(ctx, key, spine, sit, vec); err != nil {
		log.Warnw("persisting detection failed", "key", key, "err", err)
		p.deps.Events.Publish(notify.ErrorEvent(notify.ErrorPayload{
			Message: err.Error(),
			Kind:    string(PersistenceFailure),
		}))
	}
}

// emitFrame encodes the frame for display viewers. Nothing is encoded while
// nobody watches. A failed overlay falls back to the undecorated frame.
func (p *Pipeline) emitFrame(f frame.Frame, skeleton pose.Skeleton) error {
	if p.deps.Frames.Len() == 0 {
		return nil
	}
	if p.cfg.DrawLandmarks && skeleton != nil {
		data, err := p.overlay(f, skeleton)
		if err == nil {
			p.deps.Frames.Publish(data)
			return nil
		}
		log.Warnw("landmark overlay failed, sending raw frame", "seq", f.Seq, "err", err)
	}
	data, err := frame.ToJPEG(f, p.cfg.JPEGQuality)
	if err != nil {
		return frameErr(EncodeFailure, err)
	}
	p.deps.Frames.Publish(data)
	return nil
}

func (p *Pipeline) overlay(f frame.Frame, skeleton pose.Skeleton) ([]byte, error) {
	img, err := frame.Decode(f)
	if err != nil {
		return nil, err
	}
	return frame.EncodeJPEG(frame.DrawSkeleton(img, skeleton.Points(), p.cfg.MinVisibility), p.cfg.JPEGQuality)
}
