package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"strzcam.com/posture/classify"
	"strzcam.com/posture/pose"
	"strzcam.com/posture/session"
)

// Recorder writes detection results and closed sessions to a KV.
type Recorder struct {
	kv    KV
	keyer *Keyer
}

func NewRecorder(kv KV, keyer *Keyer) *Recorder {
	return &Recorder{kv: kv, keyer: keyer}
}

func (r *Recorder) Keyer() *Keyer {
	return r.keyer
}

// Record writes the three parallel entries of one detection under key. All
// three writes are attempted; failures are joined into one ErrPersistence.
func (r *Recorder) Record(ctx context.Context, key string, spine, sit classify.Diagnosis, coords pose.FeatureVector) error {
	var errs []error
	if err := r.kv.Put(ctx, NamespaceSpine, key, spine.Label); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", NamespaceSpine, err))
	}
	if err := r.kv.Put(ctx, NamespaceSit, key, sit.Label); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", NamespaceSit, err))
	}
	if err := r.kv.Put(ctx, NamespaceCoord, key, coords.Record()); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", NamespaceCoord, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPersistence, errors.Join(errs...))
	}
	return nil
}

func (r *Recorder) RecordSession(ctx context.Context, s session.Session) error {
	key := r.keyer.Key(s.Start)
	if err := r.kv.Put(ctx, NamespaceSessions, key, s); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, NamespaceSessions, err)
	}
	return nil
}

// Sessions reads back persisted sessions when the KV supports listing.
func (r *Recorder) Sessions(ctx context.Context) ([]session.Session, error) {
	lister, ok := r.kv.(Lister)
	if !ok {
		return nil, nil
	}
	records, err := lister.List(ctx, NamespaceSessions)
	if err != nil {
		return nil, err
	}
	out := make([]session.Session, 0, len(records))
	for _, rec := range records {
		var s session.Session
		if err := json.Unmarshal(rec.Value, &s); err != nil {
			log.Warnw("skipping unreadable session record", "key", rec.Key, "err", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
