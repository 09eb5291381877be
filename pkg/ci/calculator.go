// Package ci computes the normalized congestion index from raw camera signals
package ci

import (
	"errors"
	"math"
	"time"
)

// ErrObservationInvalid is returned when an observation cannot be normalized.
// Callers must skip history and forecasting for that camera this cycle.
var ErrObservationInvalid = errors.New("observation has invalid signal values")

// CameraObservation holds the raw per-cycle signals for one camera.
// Immutable once created.
type CameraObservation struct {
	CameraID             string    `json:"camera_id"`
	Timestamp            time.Time `json:"timestamp"`
	VehicleCount         int       `json:"vehicle_count"`
	WeightedVehicleCount float64   `json:"weighted_vehicle_count"`
	AreaRatio            float64   `json:"area_ratio"`
	Motion               float64   `json:"motion"`
}

// CIState is the derived congestion index for one camera at one cycle
type CIState struct {
	CameraID     string            `json:"camera_id"`
	Timestamp    time.Time         `json:"timestamp"`
	CI           float64           `json:"ci"`
	Raw          CameraObservation `json:"raw_inputs"`
	ModelVersion string            `json:"model_version"`
}

// Config holds the calculator tuning parameters. The constants are tunable,
// not validated invariants, so they live in configuration.
type Config struct {
	KCount        float64 `json:"k_count"`        // vehicle count saturation
	KArea         float64 `json:"k_area"`         // area ratio saturation
	KMotion       float64 `json:"k_motion"`       // motion score saturation
	WeightDensity float64 `json:"weight_density"` // weighted count contribution
	WeightArea    float64 `json:"weight_area"`    // bbox area contribution
	WeightMotion  float64 `json:"weight_motion"`  // motion relief subtraction
	Alpha         float64 `json:"alpha"`          // EMA smoothing coefficient
	ModelVersion  string  `json:"model_version"`
}

// DefaultConfig returns the calculator defaults
func DefaultConfig() Config {
	return Config{
		KCount:        12.0,
		KArea:         0.35,
		KMotion:       25.0,
		WeightDensity: 0.55,
		WeightArea:    0.35,
		WeightMotion:  0.15,
		Alpha:         0.6,
		ModelVersion:  "ci-v1",
	}
}

// Calculator turns observations into CI states
type Calculator struct {
	config Config
}

// NewCalculator creates a calculator with the given configuration,
// falling back to defaults for unset values.
func NewCalculator(config Config) *Calculator {
	def := DefaultConfig()
	if config.KCount <= 0 {
		config.KCount = def.KCount
	}
	if config.KArea <= 0 {
		config.KArea = def.KArea
	}
	if config.KMotion <= 0 {
		config.KMotion = def.KMotion
	}
	if config.WeightDensity <= 0 {
		config.WeightDensity = def.WeightDensity
	}
	if config.WeightArea <= 0 {
		config.WeightArea = def.WeightArea
	}
	if config.WeightMotion < 0 {
		config.WeightMotion = def.WeightMotion
	}
	if config.Alpha <= 0 || config.Alpha > 1 {
		config.Alpha = def.Alpha
	}
	if config.ModelVersion == "" {
		config.ModelVersion = def.ModelVersion
	}
	return &Calculator{config: config}
}

// Compute derives a CIState from one observation. prevCI is the previous
// cycle's CI for the same camera, or nil when none exists; it drives the
// EMA smoothing that suppresses detector noise.
//
// Fails closed: a malformed observation returns ErrObservationInvalid
// instead of a bogus index.
func (c *Calculator) Compute(obs CameraObservation, prevCI *float64) (CIState, error) {
	if obs.VehicleCount < 0 || obs.WeightedVehicleCount < 0 ||
		obs.AreaRatio < 0 || obs.AreaRatio > 1 || obs.Motion < 0 ||
		math.IsNaN(obs.WeightedVehicleCount) || math.IsNaN(obs.AreaRatio) || math.IsNaN(obs.Motion) {
		return CIState{}, ErrObservationInvalid
	}

	densityNorm := saturate(obs.WeightedVehicleCount, c.config.KCount)
	areaNorm := saturate(obs.AreaRatio, c.config.KArea)
	// High motion means traffic is flowing; it relieves the index
	motionRelief := saturate(obs.Motion, c.config.KMotion)

	raw := c.config.WeightDensity*densityNorm +
		c.config.WeightArea*areaNorm -
		c.config.WeightMotion*motionRelief
	raw = clamp01(raw)

	index := raw
	if prevCI != nil {
		index = c.config.Alpha*raw + (1-c.config.Alpha)*clamp01(*prevCI)
	}

	return CIState{
		CameraID:     obs.CameraID,
		Timestamp:    obs.Timestamp,
		CI:           clamp01(index),
		Raw:          obs,
		ModelVersion: c.config.ModelVersion,
	}, nil
}

// saturate maps [0,inf) onto [0,1) with half-saturation at k
func saturate(x, k float64) float64 {
	if x <= 0 {
		return 0
	}
	return x / (x + k)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
