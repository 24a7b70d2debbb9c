package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("MQTT_BROKER_URL", "mqtt://localhost:1883")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, SourceMQTT, cfg.Telemetry.Source)
	assert.Equal(t, []string{"sensors/#"}, cfg.MQTT.Topics)
	assert.Equal(t, 15*time.Minute, cfg.Store.StalenessThreshold)
	assert.Equal(t, 30*time.Second, cfg.Store.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.DedupWindow)
	assert.Equal(t, 10*time.Minute, cfg.Hub.PollInterval)
	assert.Equal(t, time.Second, cfg.Backoff.Initial)
	assert.Equal(t, time.Minute, cfg.Backoff.Max)
}

func TestLoadRequiresBotToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("MQTT_BROKER_URL", "mqtt://localhost:1883")

	_, err := Load()
	assert.ErrorContains(t, err, "TELEGRAM_BOT_TOKEN")
}

func TestLoadRequiresBrokerForSelectedSource(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("MQTT_BROKER_URL", "")
	t.Setenv("KAFKA_BROKER", "")

	_, err := Load()
	assert.ErrorContains(t, err, "MQTT_BROKER_URL")

	t.Setenv("TELEMETRY_SOURCE", SourceKafka)
	_, err = Load()
	assert.ErrorContains(t, err, "KAFKA_BROKER")
}

func TestLoadRejectsUnknownSource(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TELEMETRY_SOURCE", "carrier-pigeon")

	_, err := Load()
	assert.ErrorContains(t, err, "TELEMETRY_SOURCE")
}

func TestLoadRejectsBrokenDispatchSettings(t *testing.T) {
	for name, env := range map[string][2]string{
		"negative rate": {"NOTIFY_RATE_PER_MINUTE", "-1"},
		"zero burst":    {"NOTIFY_BURST", "0"},
		"zero queue":    {"NOTIFY_QUEUE_SIZE", "0"},
		"zero attempts": {"NOTIFY_MAX_ATTEMPTS", "0"},
	} {
		t.Run(name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(env[0], env[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadParsesTopicList(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MQTT_TOPICS", "sensors/temp/#, sensors/humidity/# ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"sensors/temp/#", "sensors/humidity/#"}, cfg.MQTT.Topics)
}

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadRulesValid(t *testing.T) {
	path := writeRules(t, `[
		{"name":"hot","sensor_id":"temp1","predicate":"GT","threshold":30,"rearm_seconds":600},
		{"name":"gone","sensor_id":"*","predicate":"STALE","rearm_seconds":300,"notify_recovery":true}
	]`)

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 10*time.Minute, rules[0].Rearm())
	assert.True(t, rules[1].NotifyRecovery)
}

func TestLoadRulesEmptyPath(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadRulesRejectsInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"unknown predicate": `[{"name":"r","sensor_id":"s","predicate":"BETWEEN","rearm_seconds":60}]`,
		"zero rearm":        `[{"name":"r","sensor_id":"s","predicate":"GT","threshold":1}]`,
		"missing sensor":    `[{"name":"r","predicate":"GT","threshold":1,"rearm_seconds":60}]`,
		"duplicate names":   `[{"name":"r","sensor_id":"s","predicate":"GT","threshold":1,"rearm_seconds":60},{"name":"r","sensor_id":"x","predicate":"LT","threshold":1,"rearm_seconds":60}]`,
		"not json":          `{{`,
	} {
		_, err := LoadRules(writeRules(t, content))
		assert.Error(t, err, name)
	}
}
