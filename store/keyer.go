package store

import (
	"fmt"
	"sync"
	"time"
)

// KeyLayout is the civil time part of a persistence key.
const KeyLayout = "2006-01-02 15:04:05"

const keySequenceModulo = 1_000_000

// Keyer builds persistence keys: second-precision civil time in a fixed zone
// followed by a six digit sequence, so frames within one second never share
// a key.
type Keyer struct {
	loc *time.Location

	mu  sync.Mutex
	seq uint64
}

func NewKeyer(loc *time.Location) *Keyer {
	if loc == nil {
		loc = time.UTC
	}
	return &Keyer{loc: loc}
}

func (k *Keyer) Key(t time.Time) string {
	k.mu.Lock()
	k.seq = (k.seq + 1) % keySequenceModulo
	seq := k.seq
	k.mu.Unlock()
	return fmt.Sprintf("%s_%06d", t.In(k.loc).Format(KeyLayout), seq)
}
