package forecast

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/history"
	"github.com/trafficwatch/trafficwatch/pkg/logx"
)

func testState(cameraID string, ciValue float64) ci.CIState {
	return ci.CIState{
		CameraID:     cameraID,
		Timestamp:    time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
		CI:           ciValue,
		ModelVersion: "ci-v1",
	}
}

func testLogger() *logx.Logger {
	return logx.NewWithWriter("error", io.Discard)
}

func checkVectorShape(t *testing.T, v Vector) {
	t.Helper()
	if len(v.Horizons) != NumHorizons {
		t.Fatalf("vector must have exactly %d points, got %d", NumHorizons, len(v.Horizons))
	}
	for i, p := range v.Horizons {
		wantHorizon := (i + 1) * HorizonStepMinutes
		if p.HorizonMinutes != wantHorizon {
			t.Errorf("point %d: horizon = %d, want %d", i, p.HorizonMinutes, wantHorizon)
		}
		if p.PredictedCI < 0 || p.PredictedCI > 1 {
			t.Errorf("point %d: predicted CI %f out of [0,1]", i, p.PredictedCI)
		}
		wantTime := v.Timestamp.Add(time.Duration(wantHorizon) * time.Minute)
		if !p.ForecastTime.Equal(wantTime) {
			t.Errorf("point %d: forecast time %v, want %v", i, p.ForecastTime, wantTime)
		}
	}
}

func TestStatisticalVectorShape(t *testing.T) {
	s := NewStatistical()
	hist := history.NewStore(60)
	for i := 0; i < 10; i++ {
		hist.Append("cam-1", 0.4+0.01*float64(i))
	}

	v, err := s.Generate("cam-1", testState("cam-1", 0.5), hist)
	if err != nil {
		t.Fatalf("Generate should not error: %v", err)
	}
	checkVectorShape(t, v)
	if v.CameraID != "cam-1" {
		t.Errorf("camera ID = %q, want cam-1", v.CameraID)
	}
}

func TestStatisticalDeterministic(t *testing.T) {
	s := NewStatistical()
	hist := history.NewStore(60)
	for i := 0; i < 8; i++ {
		hist.Append("cam-1", 0.3+0.05*float64(i))
	}
	state := testState("cam-1", 0.65)

	a, _ := s.Generate("cam-1", state, hist)
	b, _ := s.Generate("cam-1", state, hist)
	for i := range a.Horizons {
		if a.Horizons[i] != b.Horizons[i] {
			t.Fatalf("point %d differs between identical calls", i)
		}
	}
}

func TestStatisticalConfidence(t *testing.T) {
	s := NewStatistical()

	sparse := history.NewStore(60)
	sparse.Append("cam-1", 0.5)
	v, _ := s.Generate("cam-1", testState("cam-1", 0.5), sparse)
	if v.Horizons[0].Confidence != 0.3 {
		t.Errorf("sparse history confidence = %f, want 0.3", v.Horizons[0].Confidence)
	}

	rich := history.NewStore(60)
	for i := 0; i < 6; i++ {
		rich.Append("cam-1", 0.5)
	}
	v, _ = s.Generate("cam-1", testState("cam-1", 0.5), rich)
	if v.Horizons[0].Confidence != 0.5 {
		t.Errorf("rich history confidence = %f, want 0.5", v.Horizons[0].Confidence)
	}
}

func TestStatisticalRevertsTowardMean(t *testing.T) {
	s := NewStatistical()
	hist := history.NewStore(60)
	// Flat history well below the current spike
	for i := 0; i < 30; i++ {
		hist.Append("cam-1", 0.2)
	}

	v, _ := s.Generate("cam-1", testState("cam-1", 0.9), hist)
	short := v.Horizons[0].PredictedCI
	long := v.Horizons[len(v.Horizons)-1].PredictedCI
	if long >= short {
		t.Errorf("long horizon should decay toward the mean: short=%f long=%f", short, long)
	}
	if long > 0.4 {
		t.Errorf("120m prediction should be near the 0.2 mean, got %f", long)
	}
}

func TestStatisticalNoHistory(t *testing.T) {
	s := NewStatistical()
	v, err := s.Generate("cam-1", testState("cam-1", 0.5), nil)
	if err != nil {
		t.Fatalf("Generate without history should not error: %v", err)
	}
	checkVectorShape(t, v)
	for i, p := range v.Horizons {
		if math.Abs(p.PredictedCI-0.5) > 1e-9 {
			t.Errorf("point %d: without history the forecast should persist 0.5, got %f", i, p.PredictedCI)
		}
	}
}

func TestRegressionUnavailableWithoutModels(t *testing.T) {
	r := NewRegression("", testLogger())
	if r.Available() {
		t.Error("regression should be unavailable with no trained models")
	}
	if _, err := r.Generate("cam-1", testState("cam-1", 0.5), nil); err == nil {
		t.Error("Generate should error when no models are loaded")
	}
}

func TestRegressionFitAndGenerate(t *testing.T) {
	r := NewRegression("", testLogger())

	// Identity relationship: target equals ci_now
	samples := make([]TrainingSample, 0, 20)
	for i := 0; i < 20; i++ {
		x := float64(i) / 20
		samples = append(samples, TrainingSample{
			Features: []float64{x, 0, x},
			Target:   x,
		})
	}

	for _, h := range TrainedHorizons {
		if err := r.Fit(h, samples); err != nil {
			t.Fatalf("Fit(%d) failed: %v", h, err)
		}
	}
	if !r.Available() {
		t.Fatal("regression should be available after fitting")
	}

	v, err := r.Generate("cam-1", testState("cam-1", 0.5), nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	checkVectorShape(t, v)

	trained := make(map[int]bool, len(TrainedHorizons))
	for _, h := range TrainedHorizons {
		trained[h] = true
	}
	for _, p := range v.Horizons {
		if trained[p.HorizonMinutes] {
			if p.Confidence != 0.85 {
				t.Errorf("horizon %d: trained confidence = %f, want 0.85", p.HorizonMinutes, p.Confidence)
			}
		} else if p.Confidence != 0.75 {
			t.Errorf("horizon %d: interpolated confidence = %f, want 0.75", p.HorizonMinutes, p.Confidence)
		}
	}
}

func TestRegressionFitRejectsTooFewSamples(t *testing.T) {
	r := NewRegression("", testLogger())
	err := r.Fit(10, []TrainingSample{{Features: []float64{0.5, 0, 0.5}, Target: 0.5}})
	if err == nil {
		t.Error("Fit should reject fewer than 2 samples")
	}
}

func TestInterpolateBetweenTrainedHorizons(t *testing.T) {
	trained := []int{10, 30}
	direct := map[int]float64{10: 0.2, 30: 0.6}

	// Midpoint at 20 minutes
	v, conf := interpolate(20, trained, direct)
	if math.Abs(v-0.4) > 1e-9 {
		t.Errorf("interpolated value = %f, want 0.4", v)
	}
	if conf != 0.75 {
		t.Errorf("interpolated confidence = %f, want 0.75", conf)
	}

	// Below the lowest trained horizon clamps to its value
	v, _ = interpolate(2, trained, direct)
	if v != 0.2 {
		t.Errorf("below range should clamp to lowest trained value, got %f", v)
	}

	// Above the highest trained horizon clamps to its value
	v, _ = interpolate(120, trained, direct)
	if v != 0.6 {
		t.Errorf("above range should clamp to highest trained value, got %f", v)
	}

	// A trained horizon returns the direct prediction
	v, conf = interpolate(30, trained, direct)
	if v != 0.6 || conf != 0.85 {
		t.Errorf("trained horizon should be direct: got %f conf %f", v, conf)
	}
}

func TestRegressionModelPersistence(t *testing.T) {
	path := t.TempDir() + "/models.json"

	r := NewRegression(path, testLogger())
	samples := []TrainingSample{
		{Features: []float64{0.1, 0, 0.1}, Target: 0.1},
		{Features: []float64{0.5, 0, 0.5}, Target: 0.5},
		{Features: []float64{0.9, 0, 0.9}, Target: 0.9},
	}
	if err := r.Fit(30, samples); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	reloaded := NewRegression(path, testLogger())
	if !reloaded.Available() {
		t.Fatal("reloaded regression should have the persisted model")
	}
}

func TestAutoFallsBackToStatistical(t *testing.T) {
	stat := NewStatistical()
	reg := NewRegression("", testLogger()) // no models, unavailable
	auto := NewAuto(reg, stat, testLogger())

	if auto.Name() != stat.Name() {
		t.Errorf("auto should select statistical when regression is unavailable, got %s", auto.Name())
	}

	hist := history.NewStore(60)
	for i := 0; i < 10; i++ {
		hist.Append("cam-1", 0.4)
	}
	state := testState("cam-1", 0.5)

	got, err := auto.Generate("cam-1", state, hist)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	want, _ := stat.Generate("cam-1", state, hist)
	for i := range want.Horizons {
		if got.Horizons[i] != want.Horizons[i] {
			t.Fatalf("point %d: auto output should match statistical exactly", i)
		}
	}
}

func TestAutoSelectsRegressionWhenTrained(t *testing.T) {
	reg := NewRegression("", testLogger())
	samples := []TrainingSample{
		{Features: []float64{0.1, 0, 0.1}, Target: 0.1},
		{Features: []float64{0.9, 0, 0.9}, Target: 0.9},
		{Features: []float64{0.5, 0, 0.5}, Target: 0.5},
	}
	if err := reg.Fit(30, samples); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	auto := NewAuto(reg, NewStatistical(), testLogger())
	if auto.Name() != "regression" {
		t.Errorf("auto should select regression when models exist, got %s", auto.Name())
	}
}
