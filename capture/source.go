package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"strzcam.com/posture/clock"
	"strzcam.com/posture/frame"
)

var log = logging.Logger("posture/capture")

var (
	// ErrSourceUnavailable marks a frame that could not be produced. The
	// pipeline counts it toward its failure threshold.
	ErrSourceUnavailable = errors.New("frame source unavailable")
	// ErrExhausted marks the end of a finite stream.
	ErrExhausted = errors.New("frame source exhausted")
)

const (
	KindShm      = "shm"
	KindSnapshot = "snapshot"
	KindMJPEG    = "mjpeg"
	KindDir      = "dir"
	KindDevice   = "device"
)

var Kinds = []string{KindShm, KindSnapshot, KindMJPEG, KindDir, KindDevice}

// Source yields frames one at a time. Next is called from a single goroutine.
type Source interface {
	Next(ctx context.Context) (frame.Frame, error)
	Close() error
}

type Config struct {
	Kind string `yaml:"kind"`
	// URL is the camera endpoint for snapshot and mjpeg sources, or a
	// stream URL for device sources.
	URL string `yaml:"url"`
	// Path is the image directory for dir sources and the shared memory
	// name for shm sources.
	Path     string        `yaml:"path"`
	ShmDir   string        `yaml:"shm_dir"`
	Device   int           `yaml:"device"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
	Loop     bool          `yaml:"loop"`
}

func Open(cfg Config, clk clock.Clock) (Source, error) {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	switch cfg.Kind {
	case KindShm:
		return NewShmSource(cfg.ShmDir, cfg.Path, cfg.Timeout, clk)
	case KindSnapshot:
		return NewSnapshotSource(cfg.URL, cfg.Timeout, clk), nil
	case KindMJPEG:
		return NewMJPEGSource(cfg.URL, cfg.Timeout, clk), nil
	case KindDir:
		src, err := NewDirSource(cfg.Path, cfg.Loop, cfg.Interval, clk)
		if err != nil {
			return nil, err
		}
		log.Infof("replaying %d images from %s (loop=%t)", src.Len(), cfg.Path, cfg.Loop)
		return src, nil
	case KindDevice:
		return openDevice(cfg, clk)
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
}

// stamper assigns sequence numbers and capture times.
type stamper struct {
	clock clock.Clock
	seq   atomic.Uint64
}

func (s *stamper) stamp(data []byte, format frame.Format) frame.Frame {
	return frame.Frame{
		Seq:       s.seq.Add(1),
		Timestamp: s.clock.Now(),
		Data:      data,
		Format:    format,
	}
}

// sniffFormat picks the payload format from its magic bytes; anything that is
// not PNG is handed to the JPEG path.
func sniffFormat(data []byte) frame.Format {
	if http.DetectContentType(data) == "image/png" {
		return frame.PNG
	}
	return frame.JPEG
}
