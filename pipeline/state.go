package pipeline

import (
	"maps"
	"sync"
	"time"

	"strzcam.com/posture/classify"
)

// Snapshot is the latest diagnosis as one consistent value.
type Snapshot struct {
	Spine      classify.Diagnosis
	Sit        classify.Diagnosis
	Suggestion string
	UpdatedAt  time.Time
	Key        string
}

// DiagnosisState is the container shared between the loop and readers.
// Writers replace the whole snapshot; readers always see a complete one.
type DiagnosisState struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewDiagnosisState(unavailable string, advisor classify.Advisor) *DiagnosisState {
	return &DiagnosisState{snap: Snapshot{
		Spine:      classify.Unavailable(classify.Spine, unavailable),
		Sit:        classify.Unavailable(classify.Sit, unavailable),
		Suggestion: advisor.Suggest(unavailable),
	}}
}

func (s *DiagnosisState) Update(snap Snapshot) {
	snap.Spine.Probabilities = maps.Clone(snap.Spine.Probabilities)
	snap.Sit.Probabilities = maps.Clone(snap.Sit.Probabilities)
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *DiagnosisState) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	snap.Spine.Probabilities = maps.Clone(snap.Spine.Probabilities)
	snap.Sit.Probabilities = maps.Clone(snap.Sit.Probabilities)
	return snap
}
