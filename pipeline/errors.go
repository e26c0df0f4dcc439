package pipeline

import (
	"errors"
	"fmt"
)

type FailureKind string

const (
	SourceUnavailable     FailureKind = "source_unavailable"
	ExtractionFailure     FailureKind = "extraction_failure"
	MalformedSkeleton     FailureKind = "malformed_skeleton"
	ClassificationFailure FailureKind = "classification_failure"
	EncodeFailure         FailureKind = "encode_failure"
	PersistenceFailure    FailureKind = "persistence_failure"
)

var (
	ErrStopRequested   = errors.New("stop requested")
	ErrTooManyFailures = errors.New("too many consecutive frame failures")
)

// FrameError aborts the current frame and counts toward the failure threshold.
type FrameError struct {
	Kind FailureKind
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

func frameErr(kind FailureKind, err error) *FrameError {
	return &FrameError{Kind: kind, Err: err}
}
