package pipeline

import (
	"sync"
	"time"
)

type Stats struct {
	State               string        `json:"state"`
	RunID               uint64        `json:"run_id"`
	Frames              uint64        `json:"frames"`
	Detections          uint64        `json:"detections"`
	Failures            uint64        `json:"failures"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastLatency         time.Duration `json:"last_latency_ns"`
	FPS                 float64       `json:"fps"`
}

type counters struct {
	mu          sync.Mutex
	frames      uint64
	detections  uint64
	failures    uint64
	consecutive int
	lastLatency time.Duration

	windowStart time.Time
	windowCount int
	fps         float64
}

func (c *counters) frameDone(detected bool, latency time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	if detected {
		c.detections++
	}
	c.consecutive = 0
	c.lastLatency = latency
	if c.windowStart.IsZero() {
		c.windowStart = now
	}
	c.windowCount++
	if elapsed := now.Sub(c.windowStart); elapsed >= time.Second {
		c.fps = float64(c.windowCount) / elapsed.Seconds()
		c.windowCount = 0
		c.windowStart = now
	}
}

// frameFailed returns the new consecutive failure count.
func (c *counters) frameFailed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.consecutive++
	return c.consecutive
}

func (c *counters) resetRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutive = 0
	c.windowStart = time.Time{}
	c.windowCount = 0
	c.fps = 0
}

func (c *counters) fill(st *Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.Frames = c.frames
	st.Detections = c.detections
	st.Failures = c.failures
	st.ConsecutiveFailures = c.consecutive
	st.LastLatency = c.lastLatency
	st.FPS = c.fps
}
