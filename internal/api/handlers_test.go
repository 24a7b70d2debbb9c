package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
	"sensor-gateway/internal/registry"
	"sensor-gateway/internal/store"
)

type healthyStub bool

func (h healthyStub) Healthy() bool { return bool(h) }

func newTestServer(t *testing.T, connected bool) (*httptest.Server, *store.Store, *registry.Registry) {
	t.Helper()
	logger, err := logging.New(t.TempDir(), "debug")
	require.NoError(t, err)
	st := store.New(time.Minute, logger)
	reg := registry.New(logger)
	stream := NewAlertStream(logger)
	h := NewHandler(st, reg, healthyStub(connected), stream, logger)
	srv := httptest.NewServer(NewRouter(h, logger))
	t.Cleanup(srv.Close)
	return srv, st, reg
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, true)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthzDegradedWhenDisconnected(t *testing.T) {
	srv, _, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetSensor(t *testing.T) {
	srv, st, _ := newTestServer(t, true)
	st.Update(models.SensorReading{SensorID: "temp1", Value: 21.5, Timestamp: time.Now()})

	resp, err := http.Get(srv.URL + "/api/v0/sensors/temp1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state models.SensorState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, 21.5, state.Reading.Value)

	missing, err := http.Get(srv.URL + "/api/v0/sensors/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListSensors(t *testing.T) {
	srv, st, _ := newTestServer(t, true)
	st.Update(models.SensorReading{SensorID: "a", Value: 1, Timestamp: time.Now()})
	st.Update(models.SensorReading{SensorID: "b", Value: 2, Timestamp: time.Now()})

	resp, err := http.Get(srv.URL + "/api/v0/sensors")
	require.NoError(t, err)
	defer resp.Body.Close()

	var states []models.SensorState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&states))
	assert.Len(t, states, 2)
}

func TestGetSubscriptions(t *testing.T) {
	srv, _, reg := newTestServer(t, true)
	reg.Subscribe(context.Background(), 42, "temp1")

	resp, err := http.Get(srv.URL + "/api/v0/subscriptions/42")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		ChatID  int64    `json:"chat_id"`
		Targets []string `json:"targets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"temp1"}, body.Targets)

	bad, err := http.Get(srv.URL + "/api/v0/subscriptions/notanumber")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}
