package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-gateway/internal/config"
	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
)

func TestMQTTPushAfterCloseIsDropped(t *testing.T) {
	logger, err := logging.New(t.TempDir(), "debug")
	require.NoError(t, err)
	s := NewMQTTSource(config.Config{}, logger)
	ctx := context.Background()
	reading := models.SensorReading{SensorID: "temp1", Value: 21, Timestamp: time.Now()}

	s.push(ctx, reading)
	s.closeReadings()
	s.closeReadings() // idempotent

	// A handler still in flight after shutdown must not panic.
	s.push(ctx, reading)

	got, ok := <-s.Readings()
	assert.True(t, ok)
	assert.Equal(t, "temp1", got.SensorID)
	_, ok = <-s.Readings()
	assert.False(t, ok, "channel must be closed after shutdown")
}
