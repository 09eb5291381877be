// Package cache provides the TTL-governed store for current camera state and forecasts
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/forecast"
)

// Config holds cache tuning
type Config struct {
	StateTTL       time.Duration `json:"state_ttl"`
	ForecastTTL    time.Duration `json:"forecast_ttl"`
	StaleThreshold time.Duration `json:"stale_threshold"`
	JanitorPeriod  time.Duration `json:"janitor_period"`
}

// DefaultConfig returns the cache defaults. The staleness threshold is
// deliberately shorter than the hard TTLs: entries between the two are
// served but flagged as degraded.
func DefaultConfig() Config {
	return Config{
		StateTTL:       10 * time.Minute,
		ForecastTTL:    10 * time.Minute,
		StaleThreshold: 5 * time.Minute,
		JanitorPeriod:  time.Minute,
	}
}

type stateEntry struct {
	value    ci.CIState
	storedAt time.Time
}

type forecastEntry struct {
	value    forecast.Vector
	storedAt time.Time
}

// Store is the in-memory cache keyed by camera ID, with independent TTLs for
// the state and forecast namespaces. Writers touch only their own camera's
// key; readers never block each other.
type Store struct {
	mu        sync.RWMutex
	config    Config
	states    map[string]stateEntry
	forecasts map[string]forecastEntry
	now       func() time.Time
}

// NewStore creates a cache with the given configuration
func NewStore(config Config) *Store {
	def := DefaultConfig()
	if config.StateTTL <= 0 {
		config.StateTTL = def.StateTTL
	}
	if config.ForecastTTL <= 0 {
		config.ForecastTTL = def.ForecastTTL
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = def.StaleThreshold
	}
	if config.JanitorPeriod <= 0 {
		config.JanitorPeriod = def.JanitorPeriod
	}
	return &Store{
		config:    config,
		states:    make(map[string]stateEntry),
		forecasts: make(map[string]forecastEntry),
		now:       time.Now,
	}
}

// PutState stores the latest CI state for a camera
func (s *Store) PutState(state ci.CIState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.CameraID] = stateEntry{value: state, storedAt: s.now()}
}

// GetState returns the cached state, its age, and whether it exists. A
// missing key is the normal "not yet observed" condition. Entries past the
// state TTL are treated as missing and dropped lazily on the next janitor run.
func (s *Store) GetState(cameraID string) (ci.CIState, time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.states[cameraID]
	if !ok {
		return ci.CIState{}, 0, false
	}
	age := s.now().Sub(entry.storedAt)
	if age > s.config.StateTTL {
		return ci.CIState{}, 0, false
	}
	return entry.value, age, true
}

// PutForecast stores the latest forecast vector for a camera
func (s *Store) PutForecast(vector forecast.Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts[vector.CameraID] = forecastEntry{value: vector, storedAt: s.now()}
}

// GetForecast returns the cached forecast, its age, and whether it exists
func (s *Store) GetForecast(cameraID string) (forecast.Vector, time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.forecasts[cameraID]
	if !ok {
		return forecast.Vector{}, 0, false
	}
	age := s.now().Sub(entry.storedAt)
	if age > s.config.ForecastTTL {
		return forecast.Vector{}, 0, false
	}
	return entry.value, age, true
}

// IsStale reports whether an age exceeds the staleness threshold. Stale
// entries are still within TTL but callers should flag them as degraded.
func (s *Store) IsStale(age time.Duration) bool {
	return age > s.config.StaleThreshold
}

// ListCameraIDs returns the IDs of all cameras with a live state entry
func (s *Store) ListCameraIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	ids := make([]string, 0, len(s.states))
	for id, entry := range s.states {
		if now.Sub(entry.storedAt) <= s.config.StateTTL {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// HealthCheck reports cache liveness and basic counts
func (s *Store) HealthCheck() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"status":           "ok",
		"state_entries":    len(s.states),
		"forecast_entries": len(s.forecasts),
		"state_ttl_s":      s.config.StateTTL.Seconds(),
		"forecast_ttl_s":   s.config.ForecastTTL.Seconds(),
	}
}

// Counts returns the number of live state and forecast entries
func (s *Store) Counts() (states, forecasts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states), len(s.forecasts)
}

// StartJanitor runs background expiry until the context is cancelled.
// Expiry is also enforced lazily on read, so the janitor only reclaims memory.
func (s *Store) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.JanitorPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictExpired()
			}
		}
	}()
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, entry := range s.states {
		if now.Sub(entry.storedAt) > s.config.StateTTL {
			delete(s.states, id)
		}
	}
	for id, entry := range s.forecasts {
		if now.Sub(entry.storedAt) > s.config.ForecastTTL {
			delete(s.forecasts, id)
		}
	}
}
