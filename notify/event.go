package notify

import (
	"time"
)

const (
	EventAnalysis   = "analysis_update"
	EventError      = "error"
	EventConnection = "connection_response"
	EventStatus     = "status"
)

// Event is what observers receive on the push channel.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Analysis is the per-frame verdict pushed to observers.
type Analysis struct {
	Timestamp        time.Time          `json:"timestamp"`
	DiagnosisSpine   string             `json:"diagnosis_spine"`
	DiagnosisSit     string             `json:"diagnosis_sit"`
	ProbabilitySpine map[string]float64 `json:"probability_spine,omitempty"`
	ProbabilitySit   map[string]float64 `json:"probability_sit,omitempty"`
	Saran            string             `json:"saran,omitempty"`
	Key              string             `json:"key,omitempty"`
}

type ErrorPayload struct {
	Message     string `json:"message"`
	Kind        string `json:"kind,omitempty"`
	Consecutive int    `json:"consecutive,omitempty"`
}

type ConnectionPayload struct {
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
}

type StatusPayload struct {
	State  string `json:"state"`
	RunID  uint64 `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

func AnalysisEvent(a Analysis) Event {
	return Event{Name: EventAnalysis, Data: a}
}

func ErrorEvent(p ErrorPayload) Event {
	return Event{Name: EventError, Data: p}
}

func StatusEvent(p StatusPayload) Event {
	return Event{Name: EventStatus, Data: p}
}

func ConnectionEvent(clientID string) Event {
	return Event{Name: EventConnection, Data: ConnectionPayload{Status: "connected", ClientID: clientID}}
}
