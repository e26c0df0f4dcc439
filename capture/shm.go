package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"strzcam.com/posture/clock"
	"strzcam.com/posture/frame"
)

const (
	DefaultShmDir  = "/dev/shm"
	shmHeaderSize  = 5
	shmQueueLength = 2
)

var errNoShmFile = errors.New("no valid shared memory file found")

// ShmSource reads frames a producer process writes to a shared memory file.
// Each write replaces the file with [int8 detected][uint32 LE length][jpeg].
type ShmSource struct {
	shmPath string
	watcher *fsnotify.Watcher
	frames  chan []byte
	timeout time.Duration
	stamper stamper

	mu  sync.Mutex
	fps float64

	closeOnce sync.Once
	done      chan struct{}
}

func NewShmSource(dir, name string, timeout time.Duration, clk clock.Clock) (*ShmSource, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: shared memory name is empty", ErrSourceUnavailable)
	}
	if dir == "" {
		dir = DefaultShmDir
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrSourceUnavailable, dir, err)
	}
	s := &ShmSource{
		shmPath: filepath.Join(dir, name),
		watcher: watcher,
		frames:  make(chan []byte, shmQueueLength),
		timeout: timeout,
		stamper: stamper{clock: clk},
		done:    make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

// ReadFrame parses the current content of the shared memory file.
func (s *ShmSource) ReadFrame() ([]byte, int, error) {
	detected := -1
	data, err := os.ReadFile(s.shmPath)
	if os.IsNotExist(err) {
		return nil, detected, errNoShmFile
	}
	if err != nil {
		return nil, detected, err
	}
	if len(data) < shmHeaderSize {
		return nil, detected, fmt.Errorf("invalid frame data: too short")
	}
	detected = int(int8(data[0]))
	length := binary.LittleEndian.Uint32(data[1:shmHeaderSize])
	if uint64(length) > uint64(len(data)-shmHeaderSize) {
		return nil, detected, fmt.Errorf("invalid frame data: header says %d bytes, file has %d", length, len(data)-shmHeaderSize)
	}
	return data[shmHeaderSize : shmHeaderSize+int(length)], detected, nil
}

func (s *ShmSource) watch() {
	log.Infof("watching shared memory %s", s.shmPath)
	var last []byte
	start := time.Now()
	count := 0
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.shmPath || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			data, detected, err := s.ReadFrame()
			if err != nil {
				log.Debugf("reading shared memory: %v", err)
				continue
			}
			// the same write is often reported twice
			if bytes.Equal(data, last) {
				continue
			}
			last = data
			count++
			if elapsed := time.Since(start); elapsed > time.Second {
				s.mu.Lock()
				s.fps = float64(count) / elapsed.Seconds()
				s.mu.Unlock()
				count = 0
				start = time.Now()
			}
			log.Debugf("[FPS %.1f] shared memory frame: %d bytes, detected %d", s.FPS(), len(data), detected)
			s.offer(data)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("shared memory watcher error: %v", err)
		case <-s.done:
			return
		}
	}
}

// offer keeps only the freshest frames when the consumer lags.
func (s *ShmSource) offer(data []byte) {
	for {
		select {
		case s.frames <- data:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

func (s *ShmSource) Next(ctx context.Context) (frame.Frame, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case data := <-s.frames:
		return s.stamper.stamp(data, sniffFormat(data)), nil
	case <-timer.C:
		return frame.Frame{}, fmt.Errorf("%w: no frame in %s", ErrSourceUnavailable, s.timeout)
	case <-s.done:
		return frame.Frame{}, ErrExhausted
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

// FPS is the measured rate of distinct frames, refreshed about once a second.
func (s *ShmSource) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return math.Round(s.fps*10) / 10
}

func (s *ShmSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}
