//go:build !gocv

package capture

import (
	"fmt"

	"strzcam.com/posture/clock"
)

func openDevice(Config, clock.Clock) (Source, error) {
	return nil, fmt.Errorf("%w: device sources need a build with -tags gocv", ErrSourceUnavailable)
}
