// Package pipeline orchestrates the periodic ingestion cycle: fetch, detect,
// motion, CI computation, history, forecasting and cache writes for every
// camera, with per-camera isolation.
package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trafficwatch/trafficwatch/pkg/cache"
	"github.com/trafficwatch/trafficwatch/pkg/camera"
	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/detector"
	"github.com/trafficwatch/trafficwatch/pkg/forecast"
	"github.com/trafficwatch/trafficwatch/pkg/history"
	"github.com/trafficwatch/trafficwatch/pkg/logx"
)

// Fetcher retrieves one camera frame
type Fetcher interface {
	Fetch(ctx context.Context, imageURL string) ([]byte, error)
}

// Detector runs vehicle detection on one frame
type Detector interface {
	Detect(ctx context.Context, image []byte) (detector.Detection, error)
}

// MotionScorer scores inter-frame motion
type MotionScorer interface {
	Score(current, previous []byte) float64
}

// Metrics receives pipeline observability events. Implementations must be
// safe for concurrent use.
type Metrics interface {
	RecordCycle(result string)
	RecordCameraError(cameraID, errType string)
	ObserveCI(cameraID string, value float64)
}

// Publisher pushes per-cycle telemetry to an external broker
type Publisher interface {
	PublishState(state ci.CIState) error
	PublishCycleSummary(cameras, failed int, duration time.Duration) error
}

// Config holds pipeline tuning
type Config struct {
	Interval     time.Duration `json:"interval"`
	FetchTimeout time.Duration `json:"fetch_timeout"`
	Concurrency  int           `json:"concurrency"`
}

// DefaultConfig returns the pipeline defaults: one cycle every two minutes
// with a bounded worker pool sized to the image source's I/O capacity.
func DefaultConfig() Config {
	return Config{
		Interval:     2 * time.Minute,
		FetchTimeout: 15 * time.Second,
		Concurrency:  8,
	}
}

// Pipeline runs the ingestion cycle
type Pipeline struct {
	config     Config
	cameras    *camera.Registry
	fetcher    Fetcher
	detector   Detector
	motion     MotionScorer
	calculator *ci.Calculator
	hist       *history.Store
	strategy   forecast.Strategy
	store      *cache.Store
	logger     *logx.Logger
	metrics    Metrics   // optional
	publisher  Publisher // optional

	frameMu    sync.Mutex
	prevFrames map[string][]byte
}

// New creates a pipeline. metrics and publisher may be nil.
func New(config Config, cameras *camera.Registry, fetcher Fetcher, det Detector,
	motion MotionScorer, calculator *ci.Calculator, hist *history.Store,
	strategy forecast.Strategy, store *cache.Store, logger *logx.Logger,
	metrics Metrics, publisher Publisher,
) *Pipeline {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = def.FetchTimeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	return &Pipeline{
		config:     config,
		cameras:    cameras,
		fetcher:    fetcher,
		detector:   det,
		motion:     motion,
		calculator: calculator,
		hist:       hist,
		strategy:   strategy,
		store:      store,
		logger:     logger,
		metrics:    metrics,
		publisher:  publisher,
		prevFrames: make(map[string][]byte),
	}
}

// Run drives the periodic ingestion loop until the context is cancelled.
// The first cycle runs immediately.
func (p *Pipeline) Run(ctx context.Context) {
	p.RunCycle(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ingestion loop stopped")
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle processes every camera once. Per-camera work runs concurrently in
// a bounded pool; one camera's failure never aborts the others.
func (p *Pipeline) RunCycle(ctx context.Context) {
	start := time.Now()
	cameras := p.cameras.All()

	var failed sync.Map
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for _, cam := range cameras {
		cam := cam
		g.Go(func() error {
			if err := p.processCamera(gctx, cam); err != nil {
				failed.Store(cam.ID, struct{}{})
				p.logger.Warn("camera cycle failed", "camera_id", cam.ID, "error", err.Error())
			}
			return nil // failures are isolated, never propagated
		})
	}
	_ = g.Wait() // workers never return errors; failures are counted below

	failedCount := 0
	failed.Range(func(_, _ interface{}) bool {
		failedCount++
		return true
	})

	duration := time.Since(start)
	result := "ok"
	if failedCount > 0 {
		result = "partial"
	}
	if p.metrics != nil {
		p.metrics.RecordCycle(result)
	}
	if p.publisher != nil {
		if err := p.publisher.PublishCycleSummary(len(cameras), failedCount, duration); err != nil {
			p.logger.Warn("cycle summary publish failed", "error", err.Error())
		}
	}

	p.logger.Info("ingestion cycle complete",
		"cameras", len(cameras),
		"failed", failedCount,
		"duration_ms", duration.Milliseconds(),
	)
}

// processCamera runs the strictly sequential per-camera pipeline:
// fetch -> detect -> motion -> CI -> history -> forecast -> cache write.
func (p *Pipeline) processCamera(ctx context.Context, cam camera.Camera) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	frame, err := p.fetcher.Fetch(fetchCtx, cam.ImageURL)
	if err != nil {
		p.recordError(cam.ID, "fetch")
		return err
	}

	det, err := p.detector.Detect(ctx, frame)
	if err != nil {
		p.recordError(cam.ID, "detect")
		return err
	}

	motion := p.motion.Score(frame, p.swapFrame(cam.ID, frame))

	obs := ci.CameraObservation{
		CameraID:             cam.ID,
		Timestamp:            time.Now().UTC(),
		VehicleCount:         det.VehicleCount,
		WeightedVehicleCount: det.WeightedVehicleCount,
		AreaRatio:            det.AreaRatio,
		Motion:               motion,
	}

	var prevCI *float64
	if prev, ok := p.hist.Latest(cam.ID); ok {
		prevCI = &prev
	}

	state, err := p.calculator.Compute(obs, prevCI)
	if err != nil {
		// Malformed observation: drop the cycle for this camera without
		// corrupting history or the cache.
		p.recordError(cam.ID, "observation")
		return err
	}

	p.hist.Append(cam.ID, state.CI)

	vector, err := p.strategy.Generate(cam.ID, state, p.hist)
	if err != nil {
		// State stays useful even when forecasting fails
		p.store.PutState(state)
		p.recordError(cam.ID, "forecast")
		return err
	}

	// State and forecast are committed together and share the cycle timestamp
	p.store.PutState(state)
	p.store.PutForecast(vector)

	if p.metrics != nil {
		p.metrics.ObserveCI(cam.ID, state.CI)
	}
	if p.publisher != nil {
		if err := p.publisher.PublishState(state); err != nil {
			p.logger.Debug("state publish failed", "camera_id", cam.ID, "error", err.Error())
		}
	}

	return nil
}

// swapFrame stores the current frame and returns the previous one
func (p *Pipeline) swapFrame(cameraID string, frame []byte) []byte {
	p.frameMu.Lock()
	defer p.frameMu.Unlock()
	prev := p.prevFrames[cameraID]
	p.prevFrames[cameraID] = frame
	return prev
}

func (p *Pipeline) recordError(cameraID, errType string) {
	if p.metrics != nil {
		p.metrics.RecordCameraError(cameraID, errType)
	}
}
