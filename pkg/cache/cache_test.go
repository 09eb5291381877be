package cache

import (
	"testing"
	"time"

	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/forecast"
)

func testState(cameraID string, ciValue float64) ci.CIState {
	return ci.CIState{
		CameraID:     cameraID,
		Timestamp:    time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
		CI:           ciValue,
		ModelVersion: "ci-v1",
	}
}

func TestStateRoundTrip(t *testing.T) {
	store := NewStore(DefaultConfig())
	state := testState("cam-1", 0.42)
	state.Raw = ci.CameraObservation{
		CameraID:             "cam-1",
		Timestamp:            state.Timestamp,
		VehicleCount:         7,
		WeightedVehicleCount: 8.5,
		AreaRatio:            0.3,
		Motion:               11,
	}

	store.PutState(state)
	got, age, ok := store.GetState("cam-1")
	if !ok {
		t.Fatal("state should be retrievable immediately after put")
	}
	if got != state {
		t.Error("retrieved state should be identical to the stored value")
	}
	if age < 0 || age > time.Second {
		t.Errorf("fresh entry should have near-zero age, got %v", age)
	}
}

func TestGetStateMiss(t *testing.T) {
	store := NewStore(DefaultConfig())
	if _, _, ok := store.GetState("unknown"); ok {
		t.Error("a never-stored camera should be a miss, not an error")
	}
}

func TestStateTTLExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateTTL = 10 * time.Minute
	store := NewStore(cfg)

	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	store.PutState(testState("cam-1", 0.5))

	// Just inside the TTL
	store.now = func() time.Time { return base.Add(9 * time.Minute) }
	if _, age, ok := store.GetState("cam-1"); !ok || age != 9*time.Minute {
		t.Errorf("entry within TTL should be served with its age: ok=%v age=%v", ok, age)
	}

	// Past the TTL an entry is treated as missing
	store.now = func() time.Time { return base.Add(11 * time.Minute) }
	if _, _, ok := store.GetState("cam-1"); ok {
		t.Error("entry past the state TTL should be a miss")
	}
}

func TestForecastRoundTripAndTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForecastTTL = 10 * time.Minute
	store := NewStore(cfg)

	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	vec := forecast.Vector{
		CameraID:     "cam-1",
		Timestamp:    base,
		ModelVersion: "statistical",
		Horizons: []forecast.Point{
			{HorizonMinutes: 2, PredictedCI: 0.4, Confidence: 0.5, ForecastTime: base.Add(2 * time.Minute)},
		},
	}
	store.PutForecast(vec)

	got, _, ok := store.GetForecast("cam-1")
	if !ok {
		t.Fatal("forecast should be retrievable after put")
	}
	if got.CameraID != vec.CameraID || len(got.Horizons) != 1 || got.Horizons[0] != vec.Horizons[0] {
		t.Error("retrieved forecast should be identical to the stored value")
	}

	store.now = func() time.Time { return base.Add(11 * time.Minute) }
	if _, _, ok := store.GetForecast("cam-1"); ok {
		t.Error("forecast past its TTL should be a miss")
	}
}

func TestIsStale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleThreshold = 5 * time.Minute
	store := NewStore(cfg)

	if store.IsStale(4 * time.Minute) {
		t.Error("age under the threshold should not be stale")
	}
	if !store.IsStale(6 * time.Minute) {
		t.Error("age over the threshold should be stale")
	}
}

func TestListCameraIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateTTL = 10 * time.Minute
	store := NewStore(cfg)

	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	store.PutState(testState("cam-b", 0.2))
	store.PutState(testState("cam-a", 0.1))

	store.now = func() time.Time { return base.Add(5 * time.Minute) }
	store.PutState(testState("cam-c", 0.3))

	ids := store.ListCameraIDs()
	if len(ids) != 3 || ids[0] != "cam-a" || ids[1] != "cam-b" || ids[2] != "cam-c" {
		t.Fatalf("expected sorted [cam-a cam-b cam-c], got %v", ids)
	}

	// cam-a and cam-b fall out of TTL, cam-c survives
	store.now = func() time.Time { return base.Add(12 * time.Minute) }
	ids = store.ListCameraIDs()
	if len(ids) != 1 || ids[0] != "cam-c" {
		t.Errorf("only live entries should be listed, got %v", ids)
	}
}

func TestEvictExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateTTL = 10 * time.Minute
	cfg.ForecastTTL = 10 * time.Minute
	store := NewStore(cfg)

	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	store.PutState(testState("cam-1", 0.5))
	store.PutForecast(forecast.Vector{CameraID: "cam-1", Timestamp: base})

	store.now = func() time.Time { return base.Add(11 * time.Minute) }
	store.evictExpired()

	states, forecasts := store.Counts()
	if states != 0 || forecasts != 0 {
		t.Errorf("janitor should reclaim expired entries: states=%d forecasts=%d", states, forecasts)
	}
}

func TestHealthCheck(t *testing.T) {
	store := NewStore(DefaultConfig())
	store.PutState(testState("cam-1", 0.5))

	health := store.HealthCheck()
	if health["status"] != "ok" {
		t.Errorf("status = %v, want ok", health["status"])
	}
	if health["state_entries"] != 1 {
		t.Errorf("state_entries = %v, want 1", health["state_entries"])
	}
}
