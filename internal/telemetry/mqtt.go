package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"sensor-gateway/internal/config"
	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
	"sensor-gateway/internal/utils"
)

const (
	qos               = byte(1)
	disconnectTimeout = 5 * time.Second
)

// MQTTSource subscribes to the sensor hub's telemetry topics. The connection
// manager reconnects on loss and resubscribes to the full topic set every
// time the connection comes up, so an outage never loses subscriptions.
type MQTTSource struct {
	cfg      config.Config
	logger   *logging.Logger
	readings chan models.SensorReading
	up       atomic.Bool

	// closeMu serializes channel close against the paho router handler,
	// which can still fire while the client is shutting down.
	closeMu sync.RWMutex
	closed  bool
}

func NewMQTTSource(cfg config.Config, logger *logging.Logger) *MQTTSource {
	return &MQTTSource{
		cfg:      cfg,
		logger:   logger,
		readings: make(chan models.SensorReading, 64),
	}
}

func (s *MQTTSource) Readings() <-chan models.SensorReading {
	return s.readings
}

func (s *MQTTSource) Healthy() bool {
	return s.up.Load()
}

// push hands a decoded reading to the ingest channel unless the source has
// already shut down.
func (s *MQTTSource) push(ctx context.Context, r models.SensorReading) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.readings <- r:
	case <-ctx.Done():
	}
}

func (s *MQTTSource) closeReadings() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.readings)
	}
}

// Run connects to the broker and pumps decoded readings until ctx is
// cancelled. Malformed payloads are logged and dropped.
func (s *MQTTSource) Run(ctx context.Context) error {
	defer s.closeReadings()

	brokerURL, err := url.Parse(s.cfg.MQTT.BrokerURL)
	if err != nil {
		return fmt.Errorf("failed to parse broker URL %q: %w", s.cfg.MQTT.BrokerURL, err)
	}

	subscriptions := make([]paho.SubscribeOptions, 0, len(s.cfg.MQTT.Topics))
	for _, topic := range s.cfg.MQTT.Topics {
		subscriptions = append(subscriptions, paho.SubscribeOptions{Topic: topic, QoS: qos})
	}

	handler := func(msg *paho.Publish) {
		reading, err := Decode(msg.Payload)
		if err != nil {
			s.logger.Warnf("Dropped payload on %s: %v", msg.Topic, err)
			return
		}
		s.push(ctx, reading)
	}

	cliCfg := autopaho.ClientConfig{
		BrokerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     s.cfg.MQTT.KeepAlive,
		CleanStartOnInitialConnection: true,
		ReconnectBackoff: func(attempt int) time.Duration {
			return utils.Backoff(s.cfg.Backoff.Initial, s.cfg.Backoff.Max, attempt)
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			s.logger.Infof("MQTT connection up, subscribing to %d topics", len(subscriptions))
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: subscriptions,
			}); err != nil {
				s.logger.Errorf("Failed to subscribe: %v", err)
				return
			}
			s.up.Store(true)
		},
		OnConnectError: func(err error) {
			s.up.Store(false)
			s.logger.Errorf("MQTT connect attempt failed: %v", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "sensor-gateway",
			Router:   paho.NewStandardRouterWithDefault(handler),
			OnClientError: func(err error) {
				s.up.Store(false)
				s.logger.Errorf("MQTT client error: %v", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				s.up.Store(false)
				if d.Properties != nil {
					s.logger.Errorf("MQTT server disconnect: %s", d.Properties.ReasonString)
				} else {
					s.logger.Errorf("MQTT server disconnect, reason code %d", d.ReasonCode)
				}
			},
		},
	}
	if s.cfg.MQTT.Username != "" {
		cliCfg.ConnectUsername = s.cfg.MQTT.Username
		cliCfg.ConnectPassword = []byte(s.cfg.MQTT.Password)
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return fmt.Errorf("failed to start MQTT connection: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	<-ctx.Done()
	s.up.Store(false)

	disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := cm.Disconnect(disconnectCtx); err != nil {
		s.logger.Errorf("MQTT disconnect failed: %v", err)
	}
	s.logger.Infof("MQTT source stopped")
	return nil
}
