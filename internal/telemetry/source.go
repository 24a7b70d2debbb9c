package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sensor-gateway/internal/models"
)

// ErrNotFound is returned by the hub poller when a sensor is unknown.
var ErrNotFound = errors.New("sensor not found")

// DecodeError marks a malformed telemetry payload. Such payloads are logged
// and dropped, never fatal.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed telemetry payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Source is a telemetry transport delivering decoded readings. Run blocks
// until ctx is cancelled; Readings closes once Run returns.
type Source interface {
	Run(ctx context.Context) error
	Readings() <-chan models.SensorReading
	Healthy() bool
}

// wireReading is the hub's JSON payload shape. Timestamps are unix seconds;
// a missing timestamp means "now".
type wireReading struct {
	DeviceID   string  `json:"device_id"`
	SensorType string  `json:"sensor_type"`
	Unit       string  `json:"unit"`
	Value      float64 `json:"value"`
	Timestamp  int64   `json:"timestamp"`
}

// Decode parses a raw hub payload into a SensorReading.
func Decode(payload []byte) (models.SensorReading, error) {
	var w wireReading
	if err := json.Unmarshal(payload, &w); err != nil {
		return models.SensorReading{}, &DecodeError{Err: err}
	}
	if w.DeviceID == "" {
		return models.SensorReading{}, &DecodeError{Err: errors.New("missing device_id")}
	}
	ts := time.Now()
	if w.Timestamp > 0 {
		ts = time.Unix(w.Timestamp, 0)
	}
	return models.SensorReading{
		SensorID:  w.DeviceID,
		Type:      w.SensorType,
		Unit:      w.Unit,
		Value:     w.Value,
		Timestamp: ts,
	}, nil
}
