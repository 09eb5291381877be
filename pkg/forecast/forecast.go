// Package forecast produces congestion index forecast vectors from camera history
package forecast

import (
	"math"
	"time"

	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/history"
)

const (
	// HorizonStepMinutes is the spacing between forecast points
	HorizonStepMinutes = 2
	// MaxHorizonMinutes is the furthest point a vector predicts for
	MaxHorizonMinutes = 120
	// NumHorizons is the fixed number of points in every vector
	NumHorizons = MaxHorizonMinutes / HorizonStepMinutes
)

// Point is a single prediction within a forecast vector
type Point struct {
	HorizonMinutes int       `json:"horizon_minutes"`
	PredictedCI    float64   `json:"predicted_ci"`
	Confidence     float64   `json:"confidence"`
	ForecastTime   time.Time `json:"forecast_time"`
}

// Vector is a full forecast for one camera. Horizons always holds exactly
// NumHorizons points at 2,4,...,120 minutes.
type Vector struct {
	CameraID     string    `json:"camera_id"`
	Timestamp    time.Time `json:"timestamp"`
	ModelVersion string    `json:"model_version"`
	Horizons     []Point   `json:"horizons"`
}

// Strategy generates forecast vectors. Implementations must be deterministic
// for identical inputs and must clamp every prediction to [0,1].
type Strategy interface {
	Generate(cameraID string, state ci.CIState, hist *history.Store) (Vector, error)
	Name() string
	Available() bool
}

// Statistical is the always-available persistence-with-mean-reversion
// strategy: short horizons track the current trend, long horizons decay
// toward the recent mean with a 60-minute half-life.
type Statistical struct {
	// MinHistory is the sample count above which confidence rises to 0.5
	MinHistory int
	// SampleIntervalMinutes converts per-sample trend to per-minute trend
	SampleIntervalMinutes float64
	// MeanWindow is how many recent samples feed the reversion mean
	MeanWindow int
}

// NewStatistical creates a statistical strategy with default tuning
func NewStatistical() *Statistical {
	return &Statistical{
		MinHistory:            5,
		SampleIntervalMinutes: 2,
		MeanWindow:            30,
	}
}

// Name returns the strategy identifier
func (s *Statistical) Name() string { return "statistical" }

// Available always reports true; this is the fallback of last resort
func (s *Statistical) Available() bool { return true }

// Generate produces the forecast vector for one camera
func (s *Statistical) Generate(cameraID string, state ci.CIState, hist *history.Store) (Vector, error) {
	trendPerMin := 0.0
	mean := state.CI
	samples := 0

	if hist != nil {
		samples = hist.Len(cameraID)
		if samples >= 2 {
			trendPerMin = hist.Trend(cameraID, s.MeanWindow) / s.SampleIntervalMinutes
			mean = hist.Mean(cameraID, s.MeanWindow)
		}
	}

	confidence := 0.3
	if samples >= s.MinHistory {
		confidence = 0.5
	}

	points := make([]Point, 0, NumHorizons)
	for h := HorizonStepMinutes; h <= MaxHorizonMinutes; h += HorizonStepMinutes {
		hf := float64(h)
		predicted := state.CI + trendPerMin*hf + (1-math.Exp(-hf/60))*(mean-state.CI)
		points = append(points, Point{
			HorizonMinutes: h,
			PredictedCI:    clamp01(predicted),
			Confidence:     confidence,
			ForecastTime:   state.Timestamp.Add(time.Duration(h) * time.Minute),
		})
	}

	return Vector{
		CameraID:     cameraID,
		Timestamp:    state.Timestamp,
		ModelVersion: s.Name(),
		Horizons:     points,
	}, nil
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
