package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-gateway/internal/config"
	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
	"sensor-gateway/internal/registry"
	"sensor-gateway/internal/store"
	"sensor-gateway/internal/telemetry"
)

type healthyStub bool

func (h healthyStub) Healthy() bool { return bool(h) }

func newTestRouter(t *testing.T) (*Router, *store.Store, *registry.Registry) {
	t.Helper()
	logger, err := logging.New(t.TempDir(), "debug")
	require.NoError(t, err)
	st := store.New(time.Minute, logger)
	reg := registry.New(logger)
	return New(st, reg, nil, healthyStub(true), logger), st, reg
}

func cmd(verb string, args ...string) models.Command {
	return models.Command{Verb: verb, Args: args, ChatID: 42}
}

func TestStatusUnknownSensorRepliesNotFound(t *testing.T) {
	r, _, _ := newTestRouter(t)
	reply := r.Handle(context.Background(), cmd("status", "temp1"))
	assert.Contains(t, reply, "No data for sensor temp1")
}

func TestStatusRendersReading(t *testing.T) {
	r, st, _ := newTestRouter(t)
	st.Update(models.SensorReading{
		SensorID: "temp1", Type: "temperature", Unit: "°C", Value: 21.5, Timestamp: time.Now(),
	})

	reply := r.Handle(context.Background(), cmd("status", "temp1"))
	assert.Contains(t, reply, "temp1")
	assert.Contains(t, reply, "21.5")

	all := r.Handle(context.Background(), cmd("status"))
	assert.Contains(t, all, "temp1")
}

func TestStatusBackfillFeedsIngest(t *testing.T) {
	logger, err := logging.New(t.TempDir(), "debug")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"device_id":"temp1","value":40,"timestamp":1700000000}]`))
	}))
	t.Cleanup(srv.Close)

	var cfg config.Config
	cfg.Hub.BaseURL = srv.URL
	poller := telemetry.NewHubPoller(cfg, logger)
	require.NotNil(t, poller)

	st := store.New(time.Minute, logger)
	reg := registry.New(logger)
	r := New(st, reg, poller, healthyStub(false), logger)

	var ingested []models.SensorReading
	r.SetIngest(func(reading models.SensorReading) bool {
		ingested = append(ingested, reading)
		return st.Update(reading)
	})

	reply := r.Handle(context.Background(), cmd("status", "temp1"))
	assert.Contains(t, reply, "temp1")
	assert.Contains(t, reply, "40")

	// The backfilled reading takes the same update path as a live one, so
	// rule evaluation sees it.
	require.Len(t, ingested, 1)
	assert.Equal(t, 40.0, ingested[0].Value)

	stored, err := st.Get("temp1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, stored.Reading.Value)
}

func TestStatusWithNoDataAtAll(t *testing.T) {
	r, _, _ := newTestRouter(t)
	reply := r.Handle(context.Background(), cmd("status"))
	assert.Equal(t, "No sensor data received yet.", reply)
}

func TestSubscribeAndUnsubscribeReplies(t *testing.T) {
	r, _, reg := newTestRouter(t)
	ctx := context.Background()

	assert.Contains(t, r.Handle(ctx, cmd("subscribe", "temp1")), "Subscribed to temp1")
	assert.Contains(t, r.Handle(ctx, cmd("subscribe", "temp1")), "Already subscribed")
	assert.Equal(t, []int64{42}, reg.Subscribers("temp1", models.ClassThreshold))

	assert.Contains(t, r.Handle(ctx, cmd("unsubscribe", "temp1")), "Unsubscribed from temp1")
	assert.Contains(t, r.Handle(ctx, cmd("unsubscribe", "temp1")), "not subscribed")
}

func TestSubscribeWithoutArgumentGetsHelp(t *testing.T) {
	r, _, _ := newTestRouter(t)
	reply := r.Handle(context.Background(), cmd("subscribe"))
	assert.Contains(t, reply, "Usage: /subscribe")
	assert.Contains(t, reply, "Available commands")
}

func TestUnknownVerbGetsHelp(t *testing.T) {
	r, _, _ := newTestRouter(t)
	reply := r.Handle(context.Background(), cmd("frobnicate"))
	assert.Contains(t, reply, "Unknown command /frobnicate")
	assert.Contains(t, reply, "Available commands")
}

func TestListShowsSensorsAndSubscriptions(t *testing.T) {
	r, st, reg := newTestRouter(t)
	ctx := context.Background()
	st.Update(models.SensorReading{SensorID: "temp1", Value: 1, Timestamp: time.Now()})
	reg.Subscribe(ctx, 42, "temp1")

	reply := r.Handle(ctx, cmd("list"))
	assert.Contains(t, reply, "temp1")
	assert.Contains(t, reply, "Your subscriptions: temp1")
}

func TestParse(t *testing.T) {
	c, err := Parse("/subscribe temp1", 7)
	require.NoError(t, err)
	assert.Equal(t, models.Command{Verb: "subscribe", Args: []string{"temp1"}, ChatID: 7}, c)

	c, err = Parse("/STATUS@sensorbot temp1", 7)
	require.NoError(t, err)
	assert.Equal(t, "status", c.Verb)
	assert.Equal(t, []string{"temp1"}, c.Args)

	_, err = Parse("hello there", 7)
	var ue *UserError
	assert.ErrorAs(t, err, &ue)

	_, err = Parse("/", 7)
	assert.ErrorAs(t, err, &ue)
}
