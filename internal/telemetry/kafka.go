package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"sensor-gateway/internal/config"
	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
	"sensor-gateway/internal/utils"
)

// KafkaSource is the alternative telemetry transport for hubs that publish
// readings to a Kafka topic instead of MQTT. Read failures back off
// exponentially within the configured bounds and never terminate the loop.
type KafkaSource struct {
	cfg      config.Config
	reader   *kafka.Reader
	logger   *logging.Logger
	readings chan models.SensorReading
	up       atomic.Bool
}

func NewKafkaSource(cfg config.Config, logger *logging.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{cfg.Kafka.Broker},
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	})
	return &KafkaSource{
		cfg:      cfg,
		reader:   reader,
		logger:   logger,
		readings: make(chan models.SensorReading, 64),
	}
}

func (s *KafkaSource) Readings() <-chan models.SensorReading {
	return s.readings
}

func (s *KafkaSource) Healthy() bool {
	return s.up.Load()
}

func (s *KafkaSource) Run(ctx context.Context) error {
	defer close(s.readings)
	defer func() {
		if err := s.reader.Close(); err != nil {
			s.logger.Errorf("Kafka reader close failed: %v", err)
		}
	}()

	s.logger.Infof("Kafka source started on topic %s", s.cfg.Kafka.Topic)
	attempt := 0
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Infof("Kafka source stopped")
				return nil
			}
			s.up.Store(false)
			delay := utils.Backoff(s.cfg.Backoff.Initial, s.cfg.Backoff.Max, attempt)
			attempt++
			s.logger.Errorf("Kafka read failed (retry in %v): %v", delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		s.up.Store(true)
		attempt = 0

		reading, err := Decode(msg.Value)
		if err != nil {
			s.logger.Warnf("Dropped payload at offset %d: %v", msg.Offset, err)
			continue
		}
		select {
		case s.readings <- reading:
		case <-ctx.Done():
			return nil
		}
	}
}
