package capture

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"strzcam.com/posture/clock"
	"strzcam.com/posture/frame"
)

// MJPEGSource reads a multipart/x-mixed-replace camera stream. After a failed
// read the connection is dropped and the next call dials again.
type MJPEGSource struct {
	url     string
	timeout time.Duration
	client  *http.Client
	stamper stamper

	body   io.ReadCloser
	cancel context.CancelFunc
	reader *multipart.Reader
}

func NewMJPEGSource(url string, timeout time.Duration, clk clock.Clock) *MJPEGSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: timeout,
	}
	return &MJPEGSource{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Transport: transport},
		stamper: stamper{clock: clk},
	}
}

func (s *MJPEGSource) connect(ctx context.Context) error {
	// the stream outlives this call, so it gets its own cancel func that
	// reset fires; ctx only bounds the dial
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("camera answered %s", resp.Status)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("not a multipart stream: %q", resp.Header.Get("Content-Type"))
	}
	s.body = resp.Body
	s.cancel = cancel
	s.reader = multipart.NewReader(resp.Body, params["boundary"])
	log.Infof("connected to mjpeg stream %s", s.url)
	return nil
}

func (s *MJPEGSource) readPart() ([]byte, error) {
	part, err := s.reader.NextPart()
	if err != nil {
		return nil, err
	}
	defer part.Close()
	return io.ReadAll(io.LimitReader(part, maxSnapshotSize))
}

func (s *MJPEGSource) reset() {
	if s.body != nil {
		s.body.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.body = nil
	s.cancel = nil
	s.reader = nil
}

func (s *MJPEGSource) Next(ctx context.Context) (frame.Frame, error) {
	if s.reader == nil {
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return frame.Frame{}, ctx.Err()
			}
			return frame.Frame{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
	}

	type partResult struct {
		data []byte
		err  error
	}
	ch := make(chan partResult, 1)
	go func() {
		data, err := s.readPart()
		ch <- partResult{data, err}
	}()
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var r partResult
	select {
	case r = <-ch:
	case <-timer.C:
		// closing the body unblocks the reader goroutine
		s.reset()
		<-ch
		return frame.Frame{}, fmt.Errorf("%w: no part in %s", ErrSourceUnavailable, s.timeout)
	case <-ctx.Done():
		s.reset()
		<-ch
		return frame.Frame{}, ctx.Err()
	}
	if r.err != nil {
		s.reset()
		return frame.Frame{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, r.err)
	}
	if len(r.data) == 0 {
		return frame.Frame{}, fmt.Errorf("%w: empty part", ErrSourceUnavailable)
	}
	return s.stamper.stamp(r.data, sniffFormat(r.data)), nil
}

func (s *MJPEGSource) Close() error {
	s.reset()
	s.client.CloseIdleConnections()
	return nil
}
