package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sensor-gateway/internal/config"
	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
)

// HubPoller queries the sensor hub's HTTP endpoint on demand. It backs the
// status command when the subscribe connection is down.
type HubPoller struct {
	baseURL string
	client  *http.Client
	logger  *logging.Logger
}

// NewHubPoller returns nil when no hub HTTP endpoint is configured.
func NewHubPoller(cfg config.Config, logger *logging.Logger) *HubPoller {
	if cfg.Hub.BaseURL == "" {
		return nil
	}
	return &HubPoller{
		baseURL: cfg.Hub.BaseURL,
		client:  &http.Client{Timeout: cfg.Hub.PollTimeout},
		logger:  logger,
	}
}

// FetchAll retrieves the hub's current view of every sensor.
func (p *HubPoller) FetchAll(ctx context.Context) ([]models.SensorReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/sensors", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build hub request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub poll failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.logger.Errorf("Failed to close hub response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hub returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read hub response: %w", err)
	}
	var wire []wireReading
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{Err: err}
	}

	readings := make([]models.SensorReading, 0, len(wire))
	for _, w := range wire {
		if w.DeviceID == "" {
			p.logger.Warnf("Hub returned reading without device_id, skipping")
			continue
		}
		ts := time.Now()
		if w.Timestamp > 0 {
			ts = time.Unix(w.Timestamp, 0)
		}
		readings = append(readings, models.SensorReading{
			SensorID:  w.DeviceID,
			Type:      w.SensorType,
			Unit:      w.Unit,
			Value:     w.Value,
			Timestamp: ts,
		})
	}
	return readings, nil
}

// PollLatest returns the hub's latest reading for one sensor, or ErrNotFound.
func (p *HubPoller) PollLatest(ctx context.Context, sensorID string) (models.SensorReading, error) {
	readings, err := p.FetchAll(ctx)
	if err != nil {
		return models.SensorReading{}, err
	}
	for _, r := range readings {
		if r.SensorID == sensorID {
			return r, nil
		}
	}
	return models.SensorReading{}, ErrNotFound
}
