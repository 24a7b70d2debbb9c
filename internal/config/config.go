package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sensor-gateway/internal/models"
)

// Source names for the telemetry transport.
const (
	SourceMQTT  = "mqtt"
	SourceKafka = "kafka"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Telemetry struct {
		Source string // "mqtt" or "kafka"; exactly one source runs
	}
	MQTT struct {
		BrokerURL string
		Username  string
		Password  string
		Topics    []string
		KeepAlive uint16
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	Hub struct {
		BaseURL      string // HTTP endpoint for on-demand polling/backfill
		PollTimeout  time.Duration
		PollInterval time.Duration // periodic backfill cadence; 0 disables
	}
	Telegram struct {
		BotToken string
	}
	DB struct {
		DSN string // optional; empty disables subscription persistence
	}
	API struct {
		Port string
	}
	Store struct {
		StalenessThreshold time.Duration
		SweepInterval      time.Duration
	}
	Rules struct {
		Path string
	}
	Dispatch struct {
		RatePerMinute int
		Burst         int
		QueueSize     int
		DedupWindow   time.Duration
		MaxAttempts   int
		RetryDelay    time.Duration
	}
	Backoff struct {
		Initial time.Duration
		Max     time.Duration
	}
	Logging struct {
		Dir   string
		Level string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	cfg.Telemetry.Source = getEnv("TELEMETRY_SOURCE", SourceMQTT)

	// MQTT settings
	cfg.MQTT.BrokerURL = os.Getenv("MQTT_BROKER_URL")
	cfg.MQTT.Username = os.Getenv("MQTT_USERNAME")
	cfg.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	cfg.MQTT.Topics = splitList(getEnv("MQTT_TOPICS", "sensors/#"))
	cfg.MQTT.KeepAlive = uint16(getEnvInt("MQTT_KEEP_ALIVE", 60))

	// Kafka settings
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", "sensor_readings")
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", "sensor-gateway")

	// Sensor hub HTTP endpoint
	cfg.Hub.BaseURL = os.Getenv("HUB_HTTP_URL")
	cfg.Hub.PollTimeout = getEnvSeconds("HUB_POLL_TIMEOUT_SECONDS", 10)
	cfg.Hub.PollInterval = getEnvSeconds("HUB_POLL_INTERVAL_SECONDS", 600)

	// Telegram settings
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	// Database DSN (optional)
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// API settings
	cfg.API.Port = getEnv("API_PORT", ":8081")

	// Store settings
	cfg.Store.StalenessThreshold = getEnvSeconds("STALENESS_THRESHOLD_SECONDS", 900)
	cfg.Store.SweepInterval = getEnvSeconds("SWEEP_INTERVAL_SECONDS", 30)

	// Alert rules
	cfg.Rules.Path = os.Getenv("RULES_PATH")

	// Dispatch settings
	cfg.Dispatch.RatePerMinute = getEnvInt("NOTIFY_RATE_PER_MINUTE", 20)
	cfg.Dispatch.Burst = getEnvInt("NOTIFY_BURST", 5)
	cfg.Dispatch.QueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", 100)
	cfg.Dispatch.DedupWindow = getEnvSeconds("DEDUP_WINDOW_SECONDS", 300)
	cfg.Dispatch.MaxAttempts = getEnvInt("NOTIFY_MAX_ATTEMPTS", 3)
	cfg.Dispatch.RetryDelay = getEnvSeconds("NOTIFY_RETRY_DELAY_SECONDS", 2)

	// Reconnect backoff bounds
	cfg.Backoff.Initial = getEnvSeconds("BACKOFF_INITIAL_SECONDS", 1)
	cfg.Backoff.Max = getEnvSeconds("BACKOFF_MAX_SECONDS", 60)

	// Logging
	cfg.Logging.Dir = getEnv("LOG_DIR", "logs")
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	// Validate required settings
	missing := []string{}
	if cfg.Telegram.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	switch cfg.Telemetry.Source {
	case SourceMQTT:
		if cfg.MQTT.BrokerURL == "" {
			missing = append(missing, "MQTT_BROKER_URL")
		}
	case SourceKafka:
		if cfg.Kafka.Broker == "" {
			missing = append(missing, "KAFKA_BROKER")
		}
	default:
		return Config{}, fmt.Errorf("invalid TELEMETRY_SOURCE %q (want %q or %q)",
			cfg.Telemetry.Source, SourceMQTT, SourceKafka)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	if cfg.Backoff.Initial <= 0 || cfg.Backoff.Max < cfg.Backoff.Initial {
		return Config{}, fmt.Errorf("invalid backoff bounds: initial=%v max=%v",
			cfg.Backoff.Initial, cfg.Backoff.Max)
	}
	if cfg.Dispatch.RatePerMinute <= 0 || cfg.Dispatch.Burst <= 0 {
		return Config{}, fmt.Errorf("invalid notify rate limit: rate=%d/min burst=%d",
			cfg.Dispatch.RatePerMinute, cfg.Dispatch.Burst)
	}
	if cfg.Dispatch.QueueSize <= 0 {
		return Config{}, fmt.Errorf("invalid notify queue size: %d", cfg.Dispatch.QueueSize)
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("invalid notify attempt count: %d", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Hub.PollInterval < 0 {
		return Config{}, fmt.Errorf("invalid hub poll interval: %v", cfg.Hub.PollInterval)
	}

	return cfg, nil
}

// LoadRules reads and validates the alert rule set. An empty path yields an
// empty rule set; an invalid rule set is a startup failure.
func LoadRules(path string) ([]models.AlertRule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	var rules []models.AlertRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	seen := map[string]bool{}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule set: %w", err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("invalid rule set: duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
	}
	return rules, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
