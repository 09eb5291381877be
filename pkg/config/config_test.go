package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trafficwatchd.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/trafficwatchd.conf")
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}

	if cfg.PollIntervalS != DefaultPollIntervalS {
		t.Errorf("poll_interval_s = %d, want %d", cfg.PollIntervalS, DefaultPollIntervalS)
	}
	if cfg.StateTTLS != DefaultStateTTLS {
		t.Errorf("state_ttl_s = %d, want %d", cfg.StateTTLS, DefaultStateTTLS)
	}
	if cfg.StaleThresholdS != DefaultStaleThresholdS {
		t.Errorf("stale_threshold_s = %d, want %d", cfg.StaleThresholdS, DefaultStaleThresholdS)
	}
	if cfg.HistoryCapacity != DefaultHistoryCapacity {
		t.Errorf("history_capacity = %d, want %d", cfg.HistoryCapacity, DefaultHistoryCapacity)
	}
	if cfg.ForecastStrategy != DefaultForecastStrategy {
		t.Errorf("forecast_strategy = %q, want %q", cfg.ForecastStrategy, DefaultForecastStrategy)
	}
	if cfg.MQTTEnabled {
		t.Error("mqtt should be disabled by default")
	}
}

func TestLoadParsesOptions(t *testing.T) {
	path := writeConfig(t, `
# trafficwatchd configuration
log_level debug
api_port 9000
poll_interval_s 60
history_capacity 120
forecast_strategy statistical
camera_db /var/lib/trafficwatch/cameras.db
detector_endpoint http://detector:8500
state_ttl_s 900
stale_threshold_s 450
alpha 0.5
step_min 6
mqtt_enabled true
mqtt_broker broker.local
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.APIPort != 9000 {
		t.Errorf("api_port = %d, want 9000", cfg.APIPort)
	}
	if cfg.PollIntervalS != 60 {
		t.Errorf("poll_interval_s = %d, want 60", cfg.PollIntervalS)
	}
	if cfg.HistoryCapacity != 120 {
		t.Errorf("history_capacity = %d, want 120", cfg.HistoryCapacity)
	}
	if cfg.ForecastStrategy != "statistical" {
		t.Errorf("forecast_strategy = %q, want statistical", cfg.ForecastStrategy)
	}
	if cfg.CameraDB != "/var/lib/trafficwatch/cameras.db" {
		t.Errorf("camera_db = %q", cfg.CameraDB)
	}
	if cfg.CI.Alpha != 0.5 {
		t.Errorf("alpha = %f, want 0.5", cfg.CI.Alpha)
	}
	if cfg.StepMin != 6 {
		t.Errorf("step_min = %d, want 6", cfg.StepMin)
	}
	if !cfg.MQTTEnabled || cfg.MQTTBroker != "broker.local" {
		t.Errorf("mqtt settings not applied: enabled=%v broker=%q", cfg.MQTTEnabled, cfg.MQTTBroker)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	path := writeConfig(t, `
log_level shouting
api_port notaport
forecast_strategy crystal-ball
alpha 2.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("invalid log level should keep the default, got %q", cfg.LogLevel)
	}
	if cfg.APIPort != DefaultAPIPort {
		t.Errorf("invalid port should keep the default, got %d", cfg.APIPort)
	}
	if cfg.ForecastStrategy != DefaultForecastStrategy {
		t.Errorf("invalid strategy should keep the default, got %q", cfg.ForecastStrategy)
	}
	if cfg.CI.Alpha != 0.6 {
		t.Errorf("alpha outside (0,1] should keep the default, got %f", cfg.CI.Alpha)
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"poll too fast", "poll_interval_s 10\n"},
		{"stale threshold past ttl", "state_ttl_s 100\nstale_threshold_s 200\n"},
		{"odd step", "step_min 5\n"},
	}

	for _, tc := range cases {
		path := writeConfig(t, tc.content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestConfigBuilders(t *testing.T) {
	cfg, err := Load("/nonexistent/trafficwatchd.conf")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cacheCfg := cfg.CacheConfig()
	if cacheCfg.StateTTL != 600*time.Second {
		t.Errorf("state TTL = %v, want 10m", cacheCfg.StateTTL)
	}
	if cacheCfg.StaleThreshold != 300*time.Second {
		t.Errorf("stale threshold = %v, want 5m", cacheCfg.StaleThreshold)
	}

	pipeCfg := cfg.PipelineConfig()
	if pipeCfg.Interval != 120*time.Second {
		t.Errorf("pipeline interval = %v, want 2m", pipeCfg.Interval)
	}
	if pipeCfg.Concurrency != DefaultConcurrency {
		t.Errorf("concurrency = %d, want %d", pipeCfg.Concurrency, DefaultConcurrency)
	}

	optCfg := cfg.OptimizerConfig()
	if optCfg.BaseSpeedKMH != 60 {
		t.Errorf("base speed = %f, want 60", optCfg.BaseSpeedKMH)
	}
	if optCfg.DefaultRadiusKM != 0.5 {
		t.Errorf("default radius = %f, want 0.5", optCfg.DefaultRadiusKM)
	}

	// MQTT stays disabled without a broker even if the flag is set
	cfg.MQTTEnabled = true
	cfg.MQTTBroker = ""
	if cfg.MQTTConfig().Enabled {
		t.Error("mqtt should stay disabled without a broker address")
	}
}
