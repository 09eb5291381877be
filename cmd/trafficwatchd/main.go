package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trafficwatch/trafficwatch/pkg/api"
	"github.com/trafficwatch/trafficwatch/pkg/cache"
	"github.com/trafficwatch/trafficwatch/pkg/camera"
	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/config"
	"github.com/trafficwatch/trafficwatch/pkg/detector"
	"github.com/trafficwatch/trafficwatch/pkg/forecast"
	"github.com/trafficwatch/trafficwatch/pkg/history"
	"github.com/trafficwatch/trafficwatch/pkg/logx"
	"github.com/trafficwatch/trafficwatch/pkg/metrics"
	"github.com/trafficwatch/trafficwatch/pkg/mqtt"
	"github.com/trafficwatch/trafficwatch/pkg/optimizer"
	"github.com/trafficwatch/trafficwatch/pkg/pipeline"
)

const (
	version = "1.0.0-dev"
	appName = "trafficwatchd"
)

func main() {
	var (
		configFile  = flag.String("config", "/etc/trafficwatch/trafficwatchd.conf", "Config file path")
		logLevel    = flag.String("log-level", "", "Log level override (debug|info|warn|error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	effectiveLogLevel := cfg.LogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.New(effectiveLogLevel)

	logger.Info("starting trafficwatch daemon",
		"version", version,
		"config", *configFile,
		"log_level", effectiveLogLevel,
	)

	cameras, err := loadCameras(cfg)
	if err != nil {
		logger.Error("failed to load camera reference data", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("camera reference data loaded", "cameras", cameras.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := cache.NewStore(cfg.CacheConfig())
	store.StartJanitor(ctx)

	hist := history.NewStore(cfg.HistoryCapacity)
	calculator := ci.NewCalculator(cfg.CI)
	strategy := buildStrategy(cfg, logger)

	fetcher := detector.NewFrameFetcher(time.Duration(cfg.FetchTimeoutS) * time.Second)
	detClient := detector.NewClient(cfg.DetectorEndpoint, time.Duration(cfg.DetectorTimeoutS)*time.Second)
	motion := detector.NewMotionScorer()

	var metricsServer *metrics.Server
	var pipelineMetrics pipeline.Metrics
	if cfg.MetricsListener {
		metricsServer = metrics.NewServer(store, logger)
		metricsServer.SetStrategy(strategy.Name())
		if err := metricsServer.Start(cfg.MetricsPort); err != nil {
			logger.Error("failed to start metrics server", "error", err.Error())
			os.Exit(1)
		}
		pipelineMetrics = metricsServer
	}

	var publisher pipeline.Publisher
	mqttCfg := cfg.MQTTConfig()
	if mqttCfg.Enabled {
		pub := mqtt.NewPublisher(mqttCfg, logger)
		if err := pub.Connect(); err != nil {
			// Telemetry publishing is best-effort; the pipeline runs without it
			logger.Warn("mqtt connect failed, continuing without publishing", "error", err.Error())
		} else {
			publisher = pub
			defer pub.Disconnect()
		}
	}

	pipe := pipeline.New(cfg.PipelineConfig(), cameras, fetcher, detClient, motion,
		calculator, hist, strategy, store, logger, pipelineMetrics, publisher)

	opt := optimizer.New(cfg.OptimizerConfig(), cameras, store)
	apiServer := api.NewServer(cameras, store, opt, logger)
	if err := apiServer.Start(cfg.APIPort); err != nil {
		logger.Error("failed to start api server", "error", err.Error())
		os.Exit(1)
	}

	go pipe.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("trafficwatch daemon started",
		"cameras", cameras.Len(),
		"strategy", strategy.Name(),
		"poll_interval_s", cfg.PollIntervalS,
	)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())
	cancel()

	if err := apiServer.Stop(); err != nil {
		logger.Warn("api server shutdown error", "error", err.Error())
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Warn("metrics server shutdown error", "error", err.Error())
		}
	}

	logger.Info("trafficwatch daemon stopped")
}

// loadCameras prefers the SQLite reference database when configured and
// falls back to the JSON file.
func loadCameras(cfg *config.Config) (*camera.Registry, error) {
	if cfg.CameraDB != "" {
		return camera.LoadSQLite(cfg.CameraDB)
	}
	if cfg.CameraFile != "" {
		return camera.LoadFile(cfg.CameraFile)
	}
	return nil, fmt.Errorf("no camera reference data configured (set camera_db or camera_file)")
}

// buildStrategy constructs the configured forecast strategy. Strategies are
// injected into the pipeline, never resolved from global state.
func buildStrategy(cfg *config.Config, logger *logx.Logger) forecast.Strategy {
	statistical := forecast.NewStatistical()

	switch cfg.ForecastStrategy {
	case "statistical":
		return statistical
	case "regression":
		reg := forecast.NewRegression(cfg.ModelPath, logger)
		// Per-call fallback to statistical is still mandatory
		return forecast.NewAuto(reg, statistical, logger)
	default: // auto
		reg := forecast.NewRegression(cfg.ModelPath, logger)
		return forecast.NewAuto(reg, statistical, logger)
	}
}
