// Package camera provides the static camera reference dataset.
// Cameras are loaded once at startup and never mutated at runtime.
package camera

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Camera is a fixed roadside camera position
type Camera struct {
	ID        string  `json:"camera_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ImageURL  string  `json:"image_url,omitempty"`
}

// Registry holds the loaded reference dataset. Read-only after construction.
type Registry struct {
	cameras []Camera
	byID    map[string]Camera
}

// NewRegistry builds a registry from a camera list, dropping entries with
// empty IDs or coordinates outside valid ranges.
func NewRegistry(cameras []Camera) (*Registry, error) {
	byID := make(map[string]Camera, len(cameras))
	kept := make([]Camera, 0, len(cameras))
	for _, cam := range cameras {
		if cam.ID == "" {
			continue
		}
		if cam.Latitude < -90 || cam.Latitude > 90 || cam.Longitude < -180 || cam.Longitude > 180 {
			return nil, fmt.Errorf("camera %s has invalid coordinates (%f, %f)", cam.ID, cam.Latitude, cam.Longitude)
		}
		if _, dup := byID[cam.ID]; dup {
			return nil, fmt.Errorf("duplicate camera id %s", cam.ID)
		}
		byID[cam.ID] = cam
		kept = append(kept, cam)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
	return &Registry{cameras: kept, byID: byID}, nil
}

// All returns a copy of the camera list, sorted by ID
func (r *Registry) All() []Camera {
	out := make([]Camera, len(r.cameras))
	copy(out, r.cameras)
	return out
}

// Get returns the camera with the given ID
func (r *Registry) Get(id string) (Camera, bool) {
	cam, ok := r.byID[id]
	return cam, ok
}

// Len returns the number of cameras in the registry
func (r *Registry) Len() int {
	return len(r.cameras)
}

// LoadFile loads a registry from a JSON array of cameras
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read camera file: %w", err)
	}

	var cameras []Camera
	if err := json.Unmarshal(data, &cameras); err != nil {
		return nil, fmt.Errorf("failed to parse camera file: %w", err)
	}

	return NewRegistry(cameras)
}
