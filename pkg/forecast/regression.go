package forecast

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sajari/regression"
	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/history"
	"github.com/trafficwatch/trafficwatch/pkg/logx"
)

// TrainedHorizons are the horizons with dedicated regression models.
// All other horizons are linearly interpolated between the two nearest.
var TrainedHorizons = []int{2, 5, 10, 15, 30, 60, 120}

const (
	directConfidence       = 0.85
	interpolatedConfidence = 0.75
)

// featureNames are the model inputs, derived from the current state and history
var featureNames = []string{"ci_now", "trend_per_min", "hist_mean"}

// HorizonModel holds the fitted coefficients for one horizon
type HorizonModel struct {
	HorizonMinutes int       `json:"horizon_minutes"`
	Weights        []float64 `json:"weights"`
	Bias           float64   `json:"bias"`
	R2             float64   `json:"r2"`
	TrainedAt      time.Time `json:"trained_at"`
}

// TrainingSample is one (features, observed CI) pair for a horizon
type TrainingSample struct {
	Features []float64 `json:"features"`
	Target   float64   `json:"target"`
}

// Regression predicts each trained horizon with a fitted linear model and
// interpolates the rest. It is only available once models have been loaded
// or fitted; callers fall back to Statistical otherwise.
type Regression struct {
	mu        sync.RWMutex
	models    map[int]*HorizonModel
	modelPath string
	logger    *logx.Logger

	stats *Statistical // shared feature extraction tuning
}

// NewRegression creates a regression strategy, loading persisted models from
// modelPath when the file exists.
func NewRegression(modelPath string, logger *logx.Logger) *Regression {
	r := &Regression{
		models:    make(map[int]*HorizonModel),
		modelPath: modelPath,
		logger:    logger,
		stats:     NewStatistical(),
	}

	if modelPath != "" {
		if err := r.loadModels(); err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("failed to load forecast models", "path", modelPath, "error", err.Error())
			}
		}
	}

	return r
}

// Name returns the strategy identifier
func (r *Regression) Name() string { return "regression" }

// Available reports whether any trained horizon model is loaded
func (r *Regression) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models) > 0
}

// Generate produces the forecast vector using the trained horizon models
func (r *Regression) Generate(cameraID string, state ci.CIState, hist *history.Store) (Vector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.models) == 0 {
		return Vector{}, fmt.Errorf("no trained models for %s", cameraID)
	}

	features := r.extractFeatures(cameraID, state, hist)

	// Direct predictions at the trained horizons
	trained := make([]int, 0, len(r.models))
	direct := make(map[int]float64, len(r.models))
	for h, model := range r.models {
		pred, err := model.predict(features)
		if err != nil {
			return Vector{}, fmt.Errorf("horizon %d inference failed: %w", h, err)
		}
		direct[h] = clamp01(pred)
		trained = append(trained, h)
	}
	sort.Ints(trained)

	points := make([]Point, 0, NumHorizons)
	for h := HorizonStepMinutes; h <= MaxHorizonMinutes; h += HorizonStepMinutes {
		predicted, confidence := interpolate(h, trained, direct)
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
		ModelVersion: r.Name(),
		Horizons:     points,
	}, nil
}

// extractFeatures builds the model input vector from state and history
func (r *Regression) extractFeatures(cameraID string, state ci.CIState, hist *history.Store) []float64 {
	trendPerMin := 0.0
	mean := state.CI
	if hist != nil && hist.Len(cameraID) >= 2 {
		trendPerMin = hist.Trend(cameraID, r.stats.MeanWindow) / r.stats.SampleIntervalMinutes
		mean = hist.Mean(cameraID, r.stats.MeanWindow)
	}
	return []float64{state.CI, trendPerMin, mean}
}

// predict evaluates the fitted linear model against a feature vector
func (m *HorizonModel) predict(features []float64) (float64, error) {
	if len(features) != len(m.Weights) {
		return 0, fmt.Errorf("feature count mismatch: got %d, want %d", len(features), len(m.Weights))
	}
	pred := m.Bias
	for i, f := range features {
		pred += f * m.Weights[i]
	}
	return pred, nil
}

// interpolate returns the prediction at horizon h, using a direct model value
// when one exists and linear interpolation between the two nearest trained
// horizons otherwise. Horizons outside the trained range clamp to the edge.
func interpolate(h int, trained []int, direct map[int]float64) (float64, float64) {
	if v, ok := direct[h]; ok {
		return v, directConfidence
	}

	lo, hi := trained[0], trained[len(trained)-1]
	if h <= lo {
		return direct[lo], interpolatedConfidence
	}
	if h >= hi {
		return direct[hi], interpolatedConfidence
	}

	for _, t := range trained {
		if t < h {
			lo = t
		}
		if t > h {
			hi = t
			break
		}
	}

	frac := float64(h-lo) / float64(hi-lo)
	return direct[lo] + frac*(direct[hi]-direct[lo]), interpolatedConfidence
}

// Fit trains the model for one horizon from collected samples and persists
// the full model set. At least two samples are required.
func (r *Regression) Fit(horizonMinutes int, samples []TrainingSample) error {
	if len(samples) < 2 {
		return fmt.Errorf("horizon %d: need at least 2 training samples, got %d", horizonMinutes, len(samples))
	}

	var reg regression.Regression
	reg.SetObserved(fmt.Sprintf("ci_h%d", horizonMinutes))
	for i, name := range featureNames {
		reg.SetVar(i, name)
	}
	for _, sample := range samples {
		reg.Train(regression.DataPoint(sample.Target, sample.Features))
	}

	if err := reg.Run(); err != nil {
		return fmt.Errorf("horizon %d training failed: %w", horizonMinutes, err)
	}

	coeffs := reg.GetCoeffs()
	if len(coeffs) != len(featureNames)+1 {
		return fmt.Errorf("horizon %d: unexpected coefficient count %d", horizonMinutes, len(coeffs))
	}

	model := &HorizonModel{
		HorizonMinutes: horizonMinutes,
		Bias:           coeffs[0],
		Weights:        coeffs[1:],
		R2:             reg.R2,
		TrainedAt:      time.Now().UTC(),
	}

	r.mu.Lock()
	r.models[horizonMinutes] = model
	r.mu.Unlock()

	if err := r.saveModels(); err != nil {
		r.logger.Warn("failed to persist forecast models", "error", err.Error())
	}
	return nil
}

// loadModels reads the persisted model set from disk
func (r *Regression) loadModels() error {
	data, err := os.ReadFile(r.modelPath)
	if err != nil {
		return err
	}

	var stored []*HorizonModel
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse model file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range stored {
		if m.HorizonMinutes > 0 && len(m.Weights) == len(featureNames) {
			r.models[m.HorizonMinutes] = m
		}
	}
	return nil
}

// saveModels writes the model set to disk as JSON
func (r *Regression) saveModels() error {
	if r.modelPath == "" {
		return nil
	}

	r.mu.RLock()
	models := make([]*HorizonModel, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	r.mu.RUnlock()

	sort.Slice(models, func(i, j int) bool { return models[i].HorizonMinutes < models[j].HorizonMinutes })

	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.modelPath, data, 0o644)
}
