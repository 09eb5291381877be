package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"time"
)

// FrameFetcher retrieves camera frames over HTTP with a per-request timeout.
// Fetch failures are transient: the caller skips the camera for the cycle and
// its cached state ages out naturally.
type FrameFetcher struct {
	client *http.Client
}

// NewFrameFetcher creates a fetcher with the given timeout
func NewFrameFetcher(timeout time.Duration) *FrameFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FrameFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads one frame from the camera image URL
func (f *FrameFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame request: %w", err)
	}
	req.Header.Set("User-Agent", "trafficwatchd/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("frame fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("frame fetch returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("frame fetch returned empty body")
	}
	return data, nil
}

// MotionScorer scores inter-frame motion by mean absolute luminance
// difference on a coarse sampling grid. Scores are in [0, inf); 0 means no
// previous frame or no detectable change.
type MotionScorer struct {
	// GridSize is the sampling resolution per axis
	GridSize int
}

// NewMotionScorer creates a scorer with the default 64x64 sampling grid
func NewMotionScorer() *MotionScorer {
	return &MotionScorer{GridSize: 64}
}

// Score compares the current frame against the previous one. A nil or
// undecodable frame on either side scores 0.
func (m *MotionScorer) Score(current, previous []byte) float64 {
	if len(current) == 0 || len(previous) == 0 {
		return 0
	}

	cur, err := decodeLuma(current, m.GridSize)
	if err != nil {
		return 0
	}
	prev, err := decodeLuma(previous, m.GridSize)
	if err != nil {
		return 0
	}
	if len(cur) != len(prev) || len(cur) == 0 {
		return 0
	}

	sum := 0.0
	for i := range cur {
		sum += math.Abs(cur[i] - prev[i])
	}
	return sum / float64(len(cur))
}

// decodeLuma decodes an image and samples its luminance on an n x n grid
func decodeLuma(data []byte, n int) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	luma := make([]float64, 0, n*n)
	for gy := 0; gy < n; gy++ {
		for gx := 0; gx < n; gx++ {
			x := bounds.Min.X + gx*w/n
			y := bounds.Min.Y + gy*h/n
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels scaled to 0-255
			luma = append(luma, (0.299*float64(r)+0.587*float64(g)+0.114*float64(b))/257)
		}
	}
	return luma, nil
}
