// Package config loads the trafficwatchd configuration file
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/trafficwatch/trafficwatch/pkg/cache"
	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/mqtt"
	"github.com/trafficwatch/trafficwatch/pkg/optimizer"
	"github.com/trafficwatch/trafficwatch/pkg/pipeline"
)

// Config is the full daemon configuration. Every tunable has a default so a
// missing file yields a runnable configuration.
type Config struct {
	LogLevel string `json:"log_level"`

	// Listeners
	APIPort         int  `json:"api_port"`
	MetricsPort     int  `json:"metrics_port"`
	MetricsListener bool `json:"metrics_listener"`

	// Camera reference data: SQLite takes precedence when both are set
	CameraFile string `json:"camera_file"`
	CameraDB   string `json:"camera_db"`

	// External adapters
	DetectorEndpoint string `json:"detector_endpoint"`
	DetectorTimeoutS int    `json:"detector_timeout_s"`
	FetchTimeoutS    int    `json:"fetch_timeout_s"`

	// Ingestion cycle
	PollIntervalS   int `json:"poll_interval_s"`
	Concurrency     int `json:"concurrency"`
	HistoryCapacity int `json:"history_capacity"`

	// Forecasting
	ForecastStrategy string `json:"forecast_strategy"` // statistical|regression|auto
	ModelPath        string `json:"model_path"`

	// Cache freshness
	StateTTLS       int `json:"state_ttl_s"`
	ForecastTTLS    int `json:"forecast_ttl_s"`
	StaleThresholdS int `json:"stale_threshold_s"`

	// CI calculator tuning
	CI ci.Config `json:"ci"`

	// Optimizer tuning
	BaseSpeedKMH    float64 `json:"base_speed_kmh"`
	SearchRadiusKM  float64 `json:"search_radius_km"`
	StepMin         int     `json:"step_min"`
	MaxAlternatives int     `json:"max_alternatives"`

	// Telemetry publish
	MQTTBroker      string `json:"mqtt_broker"`
	MQTTPort        int    `json:"mqtt_port"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`
	MQTTEnabled     bool   `json:"mqtt_enabled"`
}

// Default configuration values
const (
	DefaultLogLevel         = "info"
	DefaultAPIPort          = 8080
	DefaultMetricsPort      = 9090
	DefaultDetectorEndpoint = "http://127.0.0.1:8500"
	DefaultDetectorTimeoutS = 10
	DefaultFetchTimeoutS    = 15
	DefaultPollIntervalS    = 120
	DefaultConcurrency      = 8
	DefaultHistoryCapacity  = 60
	DefaultForecastStrategy = "auto"
	DefaultStateTTLS        = 600
	DefaultForecastTTLS     = 600
	DefaultStaleThresholdS  = 300
	DefaultBaseSpeedKMH     = 60
	DefaultSearchRadiusKM   = 0.5
	DefaultStepMin          = 10
	DefaultMaxAlternatives  = 5
	DefaultMQTTPort         = 1883
	DefaultMQTTTopicPrefix  = "trafficwatch"
)

// Load reads and validates the configuration file. A missing file returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := cfg.parseFile(path); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	c.LogLevel = DefaultLogLevel
	c.APIPort = DefaultAPIPort
	c.MetricsPort = DefaultMetricsPort
	c.MetricsListener = true
	c.CameraFile = ""
	c.CameraDB = ""
	c.DetectorEndpoint = DefaultDetectorEndpoint
	c.DetectorTimeoutS = DefaultDetectorTimeoutS
	c.FetchTimeoutS = DefaultFetchTimeoutS
	c.PollIntervalS = DefaultPollIntervalS
	c.Concurrency = DefaultConcurrency
	c.HistoryCapacity = DefaultHistoryCapacity
	c.ForecastStrategy = DefaultForecastStrategy
	c.ModelPath = ""
	c.StateTTLS = DefaultStateTTLS
	c.ForecastTTLS = DefaultForecastTTLS
	c.StaleThresholdS = DefaultStaleThresholdS
	c.CI = ci.DefaultConfig()
	c.BaseSpeedKMH = DefaultBaseSpeedKMH
	c.SearchRadiusKM = DefaultSearchRadiusKM
	c.StepMin = DefaultStepMin
	c.MaxAlternatives = DefaultMaxAlternatives
	c.MQTTBroker = ""
	c.MQTTPort = DefaultMQTTPort
	c.MQTTTopicPrefix = DefaultMQTTTopicPrefix
	c.MQTTEnabled = false
}

// parseFile reads a simple "key value" configuration file. Blank lines and
// lines starting with # are ignored.
func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := parts[0]
		value := strings.Trim(strings.Join(parts[1:], " "), "'\"")
		c.parseOption(key, value)
	}

	return nil
}

func (c *Config) parseOption(key, value string) {
	switch key {
	case "log_level":
		if isValidLogLevel(value) {
			c.LogLevel = value
		}
	case "api_port":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.APIPort = v
		}
	case "metrics_port":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.MetricsPort = v
		}
	case "metrics_listener":
		c.MetricsListener = value == "1" || value == "true"
	case "camera_file":
		c.CameraFile = value
	case "camera_db":
		c.CameraDB = value
	case "detector_endpoint":
		c.DetectorEndpoint = value
	case "detector_timeout_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.DetectorTimeoutS = v
		}
	case "fetch_timeout_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.FetchTimeoutS = v
		}
	case "poll_interval_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.PollIntervalS = v
		}
	case "concurrency":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.Concurrency = v
		}
	case "history_capacity":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.HistoryCapacity = v
		}
	case "forecast_strategy":
		if isValidStrategy(value) {
			c.ForecastStrategy = value
		}
	case "model_path":
		c.ModelPath = value
	case "state_ttl_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.StateTTLS = v
		}
	case "forecast_ttl_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.ForecastTTLS = v
		}
	case "stale_threshold_s":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.StaleThresholdS = v
		}
	case "k_count":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			c.CI.KCount = v
		}
	case "k_area":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			c.CI.KArea = v
		}
	case "k_motion":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			c.CI.KMotion = v
		}
	case "weight_density":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			c.CI.WeightDensity = v
		}
	case "weight_area":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			c.CI.WeightArea = v
		}
	case "weight_motion":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 {
			c.CI.WeightMotion = v
		}
	case "alpha":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 && v <= 1 {
			c.CI.Alpha = v
		}
	case "base_speed_kmh":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			c.BaseSpeedKMH = v
		}
	case "search_radius_km":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			c.SearchRadiusKM = v
		}
	case "step_min":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.StepMin = v
		}
	case "max_alternatives":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.MaxAlternatives = v
		}
	case "mqtt_broker":
		c.MQTTBroker = value
	case "mqtt_port":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.MQTTPort = v
		}
	case "mqtt_topic_prefix":
		c.MQTTTopicPrefix = value
	case "mqtt_enabled":
		c.MQTTEnabled = value == "1" || value == "true"
	}
}

func (c *Config) validate() error {
	if c.PollIntervalS < 30 || c.PollIntervalS > 3600 {
		return fmt.Errorf("poll_interval_s must be between 30 and 3600")
	}
	if c.HistoryCapacity < 10 || c.HistoryCapacity > 1000 {
		return fmt.Errorf("history_capacity must be between 10 and 1000")
	}
	if c.StaleThresholdS >= c.StateTTLS {
		return fmt.Errorf("stale_threshold_s must be shorter than state_ttl_s")
	}
	if c.Concurrency > 128 {
		return fmt.Errorf("concurrency must be at most 128")
	}
	if c.StepMin%2 != 0 {
		return fmt.Errorf("step_min must be a multiple of the 2-minute forecast grid")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidStrategy(strategy string) bool {
	switch strategy {
	case "statistical", "regression", "auto":
		return true
	}
	return false
}

// CacheConfig builds the cache configuration
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		StateTTL:       time.Duration(c.StateTTLS) * time.Second,
		ForecastTTL:    time.Duration(c.ForecastTTLS) * time.Second,
		StaleThreshold: time.Duration(c.StaleThresholdS) * time.Second,
	}
}

// PipelineConfig builds the pipeline configuration
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Interval:     time.Duration(c.PollIntervalS) * time.Second,
		FetchTimeout: time.Duration(c.FetchTimeoutS) * time.Second,
		Concurrency:  c.Concurrency,
	}
}

// OptimizerConfig builds the optimizer configuration
func (c *Config) OptimizerConfig() optimizer.Config {
	cfg := optimizer.DefaultConfig()
	cfg.BaseSpeedKMH = c.BaseSpeedKMH
	cfg.DefaultRadiusKM = c.SearchRadiusKM
	cfg.DefaultStepMin = c.StepMin
	cfg.MaxAlternatives = c.MaxAlternatives
	return cfg
}

// MQTTConfig builds the MQTT publisher configuration
func (c *Config) MQTTConfig() mqtt.Config {
	cfg := mqtt.DefaultConfig()
	if c.MQTTBroker != "" {
		cfg.Broker = c.MQTTBroker
	}
	cfg.Port = c.MQTTPort
	cfg.TopicPrefix = c.MQTTTopicPrefix
	cfg.Enabled = c.MQTTEnabled && c.MQTTBroker != ""
	return cfg
}
