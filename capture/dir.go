package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"strzcam.com/posture/clock"
	"strzcam.com/posture/frame"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// DirSource replays the images of a directory in name order.
type DirSource struct {
	files    []string
	next     int
	loop     bool
	interval time.Duration
	last     time.Time
	stamper  stamper
}

func NewDirSource(dir string, loop bool, interval time.Duration, clk clock.Clock) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrSourceUnavailable, dir)
	}
	slices.Sort(files)
	return &DirSource{files: files, loop: loop, interval: interval, stamper: stamper{clock: clk}}, nil
}

func (s *DirSource) Len() int {
	return len(s.files)
}

func (s *DirSource) Next(ctx context.Context) (frame.Frame, error) {
	if s.next >= len(s.files) {
		if !s.loop {
			return frame.Frame{}, ErrExhausted
		}
		s.next = 0
	}
	if err := s.pace(ctx); err != nil {
		return frame.Frame{}, err
	}
	path := s.files[s.next]
	s.next++
	data, err := os.ReadFile(path)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return s.stamper.stamp(data, sniffFormat(data)), nil
}

func (s *DirSource) pace(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	if !s.last.IsZero() {
		if wait := s.interval - time.Since(s.last); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	s.last = time.Now()
	return nil
}

func (s *DirSource) Close() error {
	return nil
}
