package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"geoattend/internal/geo"
)

// HTTPSource reads fixes from a device location gateway over HTTP.
type HTTPSource struct {
	BaseURL  string
	DeviceID string
	HTTP     *http.Client
}

// NewHTTPSource creates a source for one device.
func NewHTTPSource(baseURL, deviceID string) *HTTPSource {
	return &HTTPSource{
		BaseURL:  baseURL,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Fix requests the device's current position.
func (s *HTTPSource) Fix(ctx context.Context, highAccuracy bool) (geo.Point, error) {
	url := fmt.Sprintf("%s/v1/devices/%s/location", s.BaseURL, s.DeviceID)
	if highAccuracy {
		url += "?high_accuracy=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return geo.Point{}, err
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return geo.Point{}, fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return geo.Point{}, fmt.Errorf("%w: gateway returned %d", ErrSensorUnavailable, resp.StatusCode)
	}

	var body struct {
		Lat        float64   `json:"lat"`
		Lng        float64   `json:"lng"`
		AccuracyM  float64   `json:"accuracy_m"`
		CapturedAt time.Time `json:"captured_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return geo.Point{}, fmt.Errorf("%w: bad payload: %v", ErrSensorUnavailable, err)
	}
	return geo.Point{Lat: body.Lat, Lng: body.Lng, AccuracyM: body.AccuracyM, CapturedAt: body.CapturedAt}, nil
}
