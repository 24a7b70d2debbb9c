package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-gateway/internal/config"
	"sensor-gateway/internal/logging"
)

func newTestPoller(t *testing.T, handler http.HandlerFunc) *HubPoller {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger, err := logging.New(t.TempDir(), "debug")
	require.NoError(t, err)

	var cfg config.Config
	cfg.Hub.BaseURL = srv.URL
	cfg.Hub.PollTimeout = 0 // no client timeout in tests
	p := NewHubPoller(cfg, logger)
	require.NotNil(t, p)
	return p
}

func TestNewHubPollerNilWithoutEndpoint(t *testing.T) {
	logger, err := logging.New(t.TempDir(), "debug")
	require.NoError(t, err)
	assert.Nil(t, NewHubPoller(config.Config{}, logger))
}

func TestPollLatest(t *testing.T) {
	p := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sensors", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"device_id":"temp1","sensor_type":"temperature","value":21.5,"timestamp":1700000000},
			{"device_id":"hum1","sensor_type":"humidity","value":55,"timestamp":1700000000}
		]`))
	})

	r, err := p.PollLatest(context.Background(), "temp1")
	require.NoError(t, err)
	assert.Equal(t, 21.5, r.Value)

	_, err = p.PollLatest(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchAllSkipsEntriesWithoutDeviceID(t *testing.T) {
	p := newTestPoller(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"device_id":"temp1","value":1},{"value":2}]`))
	})

	readings, err := p.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, "temp1", readings[0].SensorID)
}

func TestFetchAllErrors(t *testing.T) {
	p := newTestPoller(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := p.FetchAll(context.Background())
	assert.ErrorContains(t, err, "status 500")

	p = newTestPoller(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err = p.FetchAll(context.Background())
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}
