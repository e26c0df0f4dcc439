package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"strzcam.com/posture/clock"
	"strzcam.com/posture/frame"
)

const maxSnapshotSize = 16 << 20

// SnapshotSource fetches one still image per frame, the way network cameras
// expose /cam-hi.jpg.
type SnapshotSource struct {
	url     string
	client  *http.Client
	stamper stamper
}

func NewSnapshotSource(url string, timeout time.Duration, clk clock.Clock) *SnapshotSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SnapshotSource{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		stamper: stamper{clock: clk},
	}
}

func (s *SnapshotSource) Next(ctx context.Context) (frame.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return frame.Frame{}, ctx.Err()
		}
		return frame.Frame{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return frame.Frame{}, fmt.Errorf("%w: camera answered %s", ErrSourceUnavailable, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: read snapshot: %v", ErrSourceUnavailable, err)
	}
	if len(data) == 0 {
		return frame.Frame{}, fmt.Errorf("%w: empty snapshot", ErrSourceUnavailable)
	}
	return s.stamper.stamp(data, sniffFormat(data)), nil
}

func (s *SnapshotSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
