//go:build gocv

package capture

import (
	"bytes"
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"strzcam.com/posture/clock"
	"strzcam.com/posture/frame"
)

// DeviceSource grabs frames through OpenCV from a local camera index or a
// stream URL.
type DeviceSource struct {
	capture *gocv.VideoCapture
	img     gocv.Mat
	stamper stamper
}

func NewDeviceSource(device any, clk clock.Clock) (*DeviceSource, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: open device %v: %v", ErrSourceUnavailable, device, err)
	}
	return &DeviceSource{capture: vc, img: gocv.NewMat(), stamper: stamper{clock: clk}}, nil
}

func openDevice(cfg Config, clk clock.Clock) (Source, error) {
	if cfg.URL != "" {
		return NewDeviceSource(cfg.URL, clk)
	}
	return NewDeviceSource(cfg.Device, clk)
}

func (s *DeviceSource) Next(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	if ok := s.capture.Read(&s.img); !ok {
		return frame.Frame{}, fmt.Errorf("%w: device read failed", ErrSourceUnavailable)
	}
	if s.img.Empty() {
		return frame.Frame{}, fmt.Errorf("%w: empty frame", ErrSourceUnavailable)
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.img)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: encode: %v", ErrSourceUnavailable, err)
	}
	defer buf.Close()
	return s.stamper.stamp(bytes.Clone(buf.GetBytes()), frame.JPEG), nil
}

func (s *DeviceSource) Close() error {
	s.img.Close()
	return s.capture.Close()
}
