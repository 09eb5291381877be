package detector

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDetectParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/detect" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("content type = %q, want image/jpeg", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"vehicle_count": 12, "weighted_vehicle_count": 15.5, "area_ratio": 0.42}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	det, err := client.Detect(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if det.VehicleCount != 12 || det.WeightedVehicleCount != 15.5 || det.AreaRatio != 0.42 {
		t.Errorf("unexpected detection: %+v", det)
	}
}

func TestDetectUnprocessableImageIsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	det, err := client.Detect(context.Background(), []byte("garbled"))
	if err != nil {
		t.Fatalf("422 should not be an error: %v", err)
	}
	if det != (Detection{}) {
		t.Errorf("422 should yield a zero detection, got %+v", det)
	}
}

func TestDetectEmptyImageSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	det, err := client.Detect(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty image should not be an error: %v", err)
	}
	if det != (Detection{}) {
		t.Errorf("empty image should yield a zero detection, got %+v", det)
	}
	if called {
		t.Error("empty image should not reach the endpoint")
	}
}

func TestDetectServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	if _, err := client.Detect(context.Background(), []byte("frame")); err == nil {
		t.Error("HTTP 500 should be an error")
	}
}

func TestDetectClampsOutOfRangeValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"vehicle_count": -3, "weighted_vehicle_count": -1.5, "area_ratio": 1.8}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	det, err := client.Detect(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if det.VehicleCount != 0 || det.WeightedVehicleCount != 0 {
		t.Errorf("negative counts should clamp to 0, got %+v", det)
	}
	if det.AreaRatio != 1 {
		t.Errorf("area ratio should clamp to 1, got %f", det.AreaRatio)
	}
}

func TestFetchFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("frame-bytes"))
	}))
	defer srv.Close()

	fetcher := NewFrameFetcher(5 * time.Second)
	data, err := fetcher.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "frame-bytes" {
		t.Errorf("unexpected frame body %q", data)
	}
}

func TestFetchFrameErrors(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer notFound.Close()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer empty.Close()

	fetcher := NewFrameFetcher(5 * time.Second)
	if _, err := fetcher.Fetch(context.Background(), notFound.URL); err == nil {
		t.Error("non-200 should be an error")
	}
	if _, err := fetcher.Fetch(context.Background(), empty.URL); err == nil {
		t.Error("empty body should be an error")
	}
}

// solidPNG renders a uniform gray image
func solidPNG(t *testing.T, gray uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: gray})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestMotionScoreIdenticalFrames(t *testing.T) {
	scorer := NewMotionScorer()
	frame := solidPNG(t, 128)
	if score := scorer.Score(frame, frame); score != 0 {
		t.Errorf("identical frames should score 0, got %f", score)
	}
}

func TestMotionScoreDifferentFrames(t *testing.T) {
	scorer := NewMotionScorer()
	dark := solidPNG(t, 20)
	bright := solidPNG(t, 220)

	score := scorer.Score(bright, dark)
	if score <= 0 {
		t.Fatalf("different frames should score positive, got %f", score)
	}
	// Uniform 200-level luminance change should score close to 200
	if score < 150 || score > 250 {
		t.Errorf("score %f far from the expected ~200 luminance delta", score)
	}
}

func TestMotionScoreDegenerateInputs(t *testing.T) {
	scorer := NewMotionScorer()
	frame := solidPNG(t, 128)

	if score := scorer.Score(frame, nil); score != 0 {
		t.Errorf("missing previous frame should score 0, got %f", score)
	}
	if score := scorer.Score(nil, frame); score != 0 {
		t.Errorf("missing current frame should score 0, got %f", score)
	}
	if score := scorer.Score([]byte("not an image"), frame); score != 0 {
		t.Errorf("undecodable frame should score 0, got %f", score)
	}
}
