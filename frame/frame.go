package frame

import "time"

type Format int8

const (
	JPEG Format = iota
	PNG
	BGR24
)

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case BGR24:
		return "bgr24"
	}
	return "unknown"
}

// Frame is one captured image. It is owned by a single pipeline iteration.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Data      []byte
	Format    Format
	// Width and Height are only required for BGR24 payloads.
	Width  uint32
	Height uint32
}
