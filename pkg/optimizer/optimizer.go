// Package optimizer recommends departure times for a route from cached
// congestion forecasts.
package optimizer

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/trafficwatch/trafficwatch/pkg/cache"
	"github.com/trafficwatch/trafficwatch/pkg/camera"
	"github.com/trafficwatch/trafficwatch/pkg/forecast"
	"github.com/trafficwatch/trafficwatch/pkg/geo"
)

// Validation errors, rejected synchronously before any computation
var (
	ErrRouteTooShort = errors.New("route must have at least 2 points")
	ErrInvalidETA    = errors.New("original ETA must be positive")
)

// Request describes one optimization query
type Request struct {
	Route              []geo.Point `json:"route"`
	OriginalETAMin     float64     `json:"original_eta_min"`
	SearchRadiusKM     float64     `json:"search_radius_km,omitempty"`
	ForecastHorizonMin int         `json:"forecast_horizon_min,omitempty"`
	StepMin            int         `json:"step_min,omitempty"`
}

// DepartureOption is one evaluated departure candidate
type DepartureOption struct {
	DepartureOffsetMin int     `json:"departure_offset_min"`
	AverageCI          float64 `json:"average_ci"`
	MaxCI              float64 `json:"max_ci"`
	EstimatedTravelMin float64 `json:"estimated_travel_min"`
	Confidence         float64 `json:"confidence"`
}

// Result is the full optimization outcome. Net-negative waits are reported
// with both figures; suppression is the caller's policy, not ours.
type Result struct {
	Best          DepartureOption   `json:"best"`
	Alternatives  []DepartureOption `json:"alternatives"`
	CamerasUsed   int               `json:"cameras_used"`
	RouteLengthKM float64           `json:"route_length_km"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// SpeedBreakpoint maps a CI ceiling to a speed factor
type SpeedBreakpoint struct {
	MaxCI  float64 `json:"max_ci"`
	Factor float64 `json:"factor"`
}

// Config holds optimizer tuning. The breakpoints and speeds are tunable
// parameters, not validated invariants.
type Config struct {
	BaseSpeedKMH      float64           `json:"base_speed_kmh"`
	DefaultRadiusKM   float64           `json:"default_radius_km"`
	DefaultHorizonMin int               `json:"default_horizon_min"`
	DefaultStepMin    int               `json:"default_step_min"`
	MaxAlternatives   int               `json:"max_alternatives"`
	CameraSaturation  int               `json:"camera_saturation"`
	MinConfidence     float64           `json:"min_confidence"`
	SpeedBreakpoints  []SpeedBreakpoint `json:"speed_breakpoints"`
	FloorSpeedFactor  float64           `json:"floor_speed_factor"`
}

// DefaultConfig returns the optimizer defaults
func DefaultConfig() Config {
	return Config{
		BaseSpeedKMH:      60,
		DefaultRadiusKM:   0.5,
		DefaultHorizonMin: forecast.MaxHorizonMinutes,
		DefaultStepMin:    10,
		MaxAlternatives:   5,
		CameraSaturation:  5,
		MinConfidence:     0.1,
		SpeedBreakpoints: []SpeedBreakpoint{
			{MaxCI: 0.2, Factor: 1.0},
			{MaxCI: 0.4, Factor: 0.85},
			{MaxCI: 0.6, Factor: 0.65},
			{MaxCI: 0.8, Factor: 0.5},
			{MaxCI: 0.9, Factor: 0.4},
		},
		FloorSpeedFactor: 0.3,
	}
}

// Optimizer evaluates departure candidates against the state cache
type Optimizer struct {
	config  Config
	cameras *camera.Registry
	store   *cache.Store
}

// New creates an optimizer
func New(config Config, cameras *camera.Registry, store *cache.Store) *Optimizer {
	def := DefaultConfig()
	if config.BaseSpeedKMH <= 0 {
		config.BaseSpeedKMH = def.BaseSpeedKMH
	}
	if config.DefaultRadiusKM <= 0 {
		config.DefaultRadiusKM = def.DefaultRadiusKM
	}
	if config.DefaultHorizonMin <= 0 {
		config.DefaultHorizonMin = def.DefaultHorizonMin
	}
	if config.DefaultStepMin <= 0 {
		config.DefaultStepMin = def.DefaultStepMin
	}
	if config.MaxAlternatives <= 0 {
		config.MaxAlternatives = def.MaxAlternatives
	}
	if config.CameraSaturation <= 0 {
		config.CameraSaturation = def.CameraSaturation
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = def.MinConfidence
	}
	if len(config.SpeedBreakpoints) == 0 {
		config.SpeedBreakpoints = def.SpeedBreakpoints
	}
	if config.FloorSpeedFactor <= 0 {
		config.FloorSpeedFactor = def.FloorSpeedFactor
	}
	return &Optimizer{config: config, cameras: cameras, store: store}
}

// CamerasAlongRoute exposes the geospatial match for the route API
func (o *Optimizer) CamerasAlongRoute(route []geo.Point, radiusKM float64) ([]geo.RouteCameraInfo, error) {
	if len(route) < 2 {
		return nil, ErrRouteTooShort
	}
	if radiusKM <= 0 {
		radiusKM = o.config.DefaultRadiusKM
	}
	return geo.CamerasAlongRoute(route, o.cameras.All(), radiusKM), nil
}

// Optimize evaluates departure offsets across the forecast horizon and
// returns the candidate with the lowest average CI, ties broken by the
// smallest offset.
func (o *Optimizer) Optimize(req Request) (Result, error) {
	if len(req.Route) < 2 {
		return Result{}, ErrRouteTooShort
	}
	if req.OriginalETAMin <= 0 {
		return Result{}, ErrInvalidETA
	}

	radiusKM := req.SearchRadiusKM
	if radiusKM <= 0 {
		radiusKM = o.config.DefaultRadiusKM
	}
	horizon := req.ForecastHorizonMin
	if horizon <= 0 {
		horizon = o.config.DefaultHorizonMin
	}
	if horizon > forecast.MaxHorizonMinutes {
		horizon = forecast.MaxHorizonMinutes
	}
	step := req.StepMin
	if step <= 0 {
		step = o.config.DefaultStepMin
	}

	routeKM := geo.RouteLengthKM(req.Route)
	matched := geo.CamerasAlongRoute(req.Route, o.cameras.All(), radiusKM)

	if len(matched) == 0 {
		// No data along the route: recommend leaving now at minimum
		// confidence instead of failing.
		option := DepartureOption{
			DepartureOffsetMin: 0,
			EstimatedTravelMin: req.OriginalETAMin,
			Confidence:         o.config.MinConfidence,
		}
		return Result{
			Best:          option,
			Alternatives:  []DepartureOption{},
			CamerasUsed:   0,
			RouteLengthKM: routeKM,
			GeneratedAt:   time.Now().UTC(),
		}, nil
	}

	var options []DepartureOption
	for t := 0; t <= horizon; t += step {
		options = append(options, o.evaluateCandidate(t, horizon, matched, routeKM, req.OriginalETAMin))
	}

	best := options[0]
	for _, opt := range options[1:] {
		if opt.AverageCI < best.AverageCI {
			best = opt // strict < keeps the smallest offset on ties
		}
	}

	sorted := make([]DepartureOption, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].AverageCI != sorted[j].AverageCI {
			return sorted[i].AverageCI < sorted[j].AverageCI
		}
		return sorted[i].DepartureOffsetMin < sorted[j].DepartureOffsetMin
	})
	if len(sorted) > o.config.MaxAlternatives {
		sorted = sorted[:o.config.MaxAlternatives]
	}

	return Result{
		Best:          best,
		Alternatives:  sorted,
		CamerasUsed:   len(matched),
		RouteLengthKM: routeKM,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

// evaluateCandidate scores one departure offset across the matched cameras
func (o *Optimizer) evaluateCandidate(t, horizon int, matched []geo.RouteCameraInfo, routeKM, originalETAMin float64) DepartureOption {
	sum, max := 0.0, 0.0
	used, available := 0, 0

	for _, info := range matched {
		value, ok := o.ciAtOffset(info.Camera.ID, t)
		if !ok {
			continue
		}
		used++
		available++
		sum += value
		if value > max {
			max = value
		}
	}

	option := DepartureOption{DepartureOffsetMin: t}
	if used == 0 {
		// No camera had usable data at this offset
		option.EstimatedTravelMin = originalETAMin
		option.Confidence = o.config.MinConfidence
		return option
	}

	option.AverageCI = sum / float64(used)
	option.MaxCI = max

	factor := o.speedFactor(option.AverageCI)
	if routeKM > 0 {
		option.EstimatedTravelMin = routeKM / (o.config.BaseSpeedKMH * factor) * 60
	} else {
		option.EstimatedTravelMin = originalETAMin / factor
	}

	option.Confidence = o.confidence(t, horizon, len(matched), available)
	return option
}

// ciAtOffset reads the cached CI for a camera at departure offset t minutes:
// the current state at t=0, otherwise the forecast point nearest to t.
func (o *Optimizer) ciAtOffset(cameraID string, t int) (float64, bool) {
	if t == 0 {
		if state, _, ok := o.store.GetState(cameraID); ok {
			return state.CI, true
		}
		return 0, false
	}

	vector, _, ok := o.store.GetForecast(cameraID)
	if !ok || len(vector.Horizons) == 0 {
		return 0, false
	}

	best := vector.Horizons[0]
	bestDiff := math.Abs(float64(best.HorizonMinutes - t))
	for _, point := range vector.Horizons[1:] {
		diff := math.Abs(float64(point.HorizonMinutes - t))
		if diff < bestDiff {
			best = point
			bestDiff = diff
		}
	}
	return best.PredictedCI, true
}

// speedFactor maps an average CI onto the monotonic step function
func (o *Optimizer) speedFactor(avgCI float64) float64 {
	for _, bp := range o.config.SpeedBreakpoints {
		if avgCI < bp.MaxCI {
			return bp.Factor
		}
	}
	return o.config.FloorSpeedFactor
}

// confidence combines the camera-count factor (saturating), the horizon
// decay factor, and the forecast-availability fraction.
func (o *Optimizer) confidence(t, horizon, matched, available int) float64 {
	cameraFactor := math.Min(float64(matched), float64(o.config.CameraSaturation)) / float64(o.config.CameraSaturation)
	horizonFactor := 1.0
	if horizon > 0 {
		horizonFactor = 1 - 0.5*float64(t)/float64(horizon)
	}
	availabilityFactor := float64(available) / float64(matched)

	conf := 0.4*cameraFactor + 0.3*horizonFactor + 0.3*availabilityFactor
	return math.Max(o.config.MinConfidence, math.Min(1, conf))
}
