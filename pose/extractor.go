package pose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"strzcam.com/posture/frame"
)

var log = logging.Logger("posture/pose")

var ErrExtraction = errors.New("landmark extraction failed")

// Extractor finds at most one body skeleton in a frame. A frame without a
// person is reported as ok == false with a nil error.
type Extractor interface {
	Extract(ctx context.Context, f frame.Frame) (s Skeleton, ok bool, err error)
}

type ExtractorFunc func(ctx context.Context, f frame.Frame) (Skeleton, bool, error)

func (fn ExtractorFunc) Extract(ctx context.Context, f frame.Frame) (Skeleton, bool, error) {
	return fn(ctx, f)
}

type landmarkResponse struct {
	Landmarks []Landmark `json:"landmarks"`
}

// HTTPExtractor delegates landmark detection to a sidecar that accepts a JPEG
// body and answers with {"landmarks": [...]}.
type HTTPExtractor struct {
	url         string
	client      *http.Client
	jpegQuality int
}

func NewHTTPExtractor(url string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPExtractor{
		url:         url,
		client:      &http.Client{Timeout: timeout},
		jpegQuality: frame.DefaultJPEGQuality,
	}
}

func (e *HTTPExtractor) Extract(ctx context.Context, f frame.Frame) (Skeleton, bool, error) {
	body, err := frame.ToJPEG(f, e.jpegQuality)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, false, nil
	case http.StatusOK:
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("%w: sidecar returned %d: %s", ErrExtraction, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var payload landmarkResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("%w: decode response: %v", ErrExtraction, err)
	}
	if len(payload.Landmarks) == 0 {
		return nil, false, nil
	}
	log.Debugf("sidecar returned %d landmarks for frame %d", len(payload.Landmarks), f.Seq)
	return Skeleton(payload.Landmarks), true, nil
}
