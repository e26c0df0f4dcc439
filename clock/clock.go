package clock

import (
	"fmt"
	"time"

	_ "time/tzdata"
)

// DefaultZone is the civil timezone detections and sessions are stamped in.
const DefaultZone = "Asia/Jakarta"

// Clock abstracts time so the ledger and pipeline stay deterministic in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Zoned returns a clock that reports time in loc.
func Zoned(c Clock, loc *time.Location) Clock {
	return zoned{clock: c, loc: loc}
}

type zoned struct {
	clock Clock
	loc   *time.Location
}

func (z zoned) Now() time.Time {
	return z.clock.Now().In(z.loc)
}

func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
