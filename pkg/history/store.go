// Package history provides bounded per-camera CI history for smoothing and forecasting
package history

import "sync"

// DefaultCapacity keeps roughly two hours of history at a two-minute cadence
const DefaultCapacity = 60

// ring is a fixed-capacity FIFO of CI values backed by an array and head index
type ring struct {
	values []float64
	head   int // index of the oldest entry
	count  int
}

func newRing(capacity int) *ring {
	return &ring{values: make([]float64, capacity)}
}

func (r *ring) append(v float64) {
	if r.count < len(r.values) {
		r.values[(r.head+r.count)%len(r.values)] = v
		r.count++
		return
	}
	// Full: overwrite the oldest and advance the head
	r.values[r.head] = v
	r.head = (r.head + 1) % len(r.values)
}

// window copies the last n values, oldest first
func (r *ring) window(n int) []float64 {
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]float64, n)
	start := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.values[(r.head+start+i)%len(r.values)]
	}
	return out
}

// Store keeps a fixed-capacity CI ring buffer per camera. The ingestion cycle
// is the only writer; forecasting reads concurrently and never observes a
// partially-appended buffer.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

// NewStore creates a store with the given per-camera capacity
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Append records a CI value for a camera, evicting the oldest when full
func (s *Store) Append(cameraID string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rings[cameraID]
	if r == nil {
		r = newRing(s.capacity)
		s.rings[cameraID] = r
	}
	r.append(value)
}

// Window returns a copy of the last n values for a camera, oldest first
func (s *Store) Window(cameraID string, n int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.rings[cameraID]
	if r == nil {
		return nil
	}
	return r.window(n)
}

// Len returns the number of stored values for a camera
func (s *Store) Len(cameraID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.rings[cameraID]
	if r == nil {
		return 0
	}
	return r.count
}

// Latest returns the most recent value for a camera
func (s *Store) Latest(cameraID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.rings[cameraID]
	if r == nil || r.count == 0 {
		return 0, false
	}
	return r.values[(r.head+r.count-1)%len(r.values)], true
}

// Mean returns the average of the last n values for a camera
func (s *Store) Mean(cameraID string, n int) float64 {
	window := s.Window(cameraID, n)
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

// Trend returns the least-squares slope over the last n values, in CI units
// per sample. Zero when fewer than two values exist.
func (s *Store) Trend(cameraID string, n int) float64 {
	window := s.Window(cameraID, n)
	if len(window) < 2 {
		return 0
	}

	count := float64(len(window))
	sumX, sumY, sumXY, sumX2 := 0.0, 0.0, 0.0, 0.0
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denom := count*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (count*sumXY - sumX*sumY) / denom
}

// Cameras returns the IDs of all cameras with stored history
func (s *Store) Cameras() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rings))
	for id := range s.rings {
		ids = append(ids, id)
	}
	return ids
}
