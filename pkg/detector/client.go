// Package detector provides the external adapters feeding the ingestion
// cycle: the vehicle detection inference client, the camera frame fetcher,
// and the frame-differencing motion scorer.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Detection is the narrow contract with the object-detection service
type Detection struct {
	VehicleCount         int     `json:"vehicle_count"`
	WeightedVehicleCount float64 `json:"weighted_vehicle_count"`
	AreaRatio            float64 `json:"area_ratio"`
}

// Client talks to the detection inference endpoint over HTTP
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a detection client for the given endpoint
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Detect posts a camera frame to the inference endpoint and returns the
// detection result. Empty or garbled images yield a zero Detection rather
// than an error; only transport failures are reported.
func (c *Client) Detect(ctx context.Context, image []byte) (Detection, error) {
	if len(image) == 0 {
		return Detection{}, nil
	}

	url := c.endpoint + "/v1/detect"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(image))
	if err != nil {
		return Detection{}, fmt.Errorf("failed to create detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "trafficwatchd/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return Detection{}, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Detection{}, fmt.Errorf("failed to read detect response: %w", err)
	}

	// The detector reports unprocessable images as 422; that is a neutral
	// zero result, not a pipeline failure.
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return Detection{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Detection{}, fmt.Errorf("detect returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var det Detection
	if err := json.Unmarshal(body, &det); err != nil {
		return Detection{}, fmt.Errorf("failed to parse detect response: %w", err)
	}

	// Clamp nonsense from the model to the contract's valid ranges
	if det.VehicleCount < 0 {
		det.VehicleCount = 0
	}
	if det.WeightedVehicleCount < 0 {
		det.WeightedVehicleCount = 0
	}
	if det.AreaRatio < 0 {
		det.AreaRatio = 0
	}
	if det.AreaRatio > 1 {
		det.AreaRatio = 1
	}

	return det, nil
}
