package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sensor-gateway/internal/config"
	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
	"sensor-gateway/internal/registry"
	"sensor-gateway/internal/utils"
)

// Sender delivers one message to a chat. Implementations wrap transient
// failures in TransientError; anything else is treated as permanent.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TransientError marks a delivery failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable delivery failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// destination owns ordered delivery to one chat: a FIFO queue drained by a
// dedicated worker behind a token bucket.
type destination struct {
	queue   chan models.OutboundMessage
	limiter *rate.Limiter
}

// Dispatcher fans alert events out to subscribers and serializes all
// outbound chat traffic. Per destination it preserves submission order,
// rate-limits with a token bucket, and retries transient failures a bounded
// number of times. Recently sent (chat, dedup key) pairs are suppressed.
type Dispatcher struct {
	sender   Sender
	registry *registry.Registry
	cfg      config.Config
	logger   *logging.Logger

	mu    sync.Mutex
	dests map[int64]*destination
	sent  map[string]time.Time // "chatID/dedupKey" -> first send

	ctx       context.Context
	wg        *sync.WaitGroup
	broadcast func(models.AlertEvent)
	now       func() time.Time
}

func New(sender Sender, reg *registry.Registry, cfg config.Config, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		registry: reg,
		cfg:      cfg,
		logger:   logger,
		dests:    make(map[int64]*destination),
		sent:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// OnAlert registers an additional fan-out hook invoked once per published
// alert event (used for the WebSocket stream).
func (d *Dispatcher) OnAlert(fn func(models.AlertEvent)) {
	d.broadcast = fn
}

// Start binds the dispatcher to its lifetime context. Destination workers
// are spawned lazily and join wg; they stop when ctx is cancelled,
// abandoning whatever is still queued.
func (d *Dispatcher) Start(ctx context.Context, wg *sync.WaitGroup) {
	d.ctx = ctx
	d.wg = wg
}

// Publish resolves an alert event's recipients through the registry and
// queues one message per subscriber, all sharing the event's dedup key.
func (d *Dispatcher) Publish(evt models.AlertEvent) {
	subs := d.registry.Subscribers(evt.Reading.SensorID, evt.Rule.Class())
	if len(subs) == 0 {
		d.logger.Debugf("No subscribers for alert %s on %s", evt.Rule.Name, evt.Reading.SensorID)
	}
	body := FormatAlert(evt)
	for _, chatID := range subs {
		d.Send(chatID, body, evt.DedupKey())
	}
	if d.broadcast != nil {
		d.broadcast(evt)
	}
}

// Send queues a message for a chat. A non-empty dedupKey suppresses repeat
// sends of the same notification within the dedup window; returns false when
// the message was suppressed. Enqueueing blocks when the destination queue
// is full rather than dropping, so submission order survives backpressure.
func (d *Dispatcher) Send(chatID int64, body, dedupKey string) bool {
	if dedupKey != "" && d.suppressed(chatID, dedupKey) {
		d.logger.Debugf("Suppressed duplicate notification for chat %d (key %s)", chatID, dedupKey)
		return false
	}
	dest := d.destination(chatID)
	msg := models.OutboundMessage{ChatID: chatID, Body: body, DedupKey: dedupKey}
	select {
	case dest.queue <- msg:
		return true
	case <-d.ctx.Done():
		return false
	}
}

// suppressed records the (chat, key) pair on first sight and prunes expired
// entries as a side effect.
func (d *Dispatcher) suppressed(chatID int64, dedupKey string) bool {
	key := fmt.Sprintf("%d/%s", chatID, dedupKey)
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.sent {
		if now.Sub(at) > d.cfg.Dispatch.DedupWindow {
			delete(d.sent, k)
		}
	}
	if at, ok := d.sent[key]; ok && now.Sub(at) <= d.cfg.Dispatch.DedupWindow {
		return true
	}
	d.sent[key] = now
	return false
}

func (d *Dispatcher) destination(chatID int64) *destination {
	d.mu.Lock()
	defer d.mu.Unlock()
	dest, ok := d.dests[chatID]
	if !ok {
		dest = &destination{
			queue:   make(chan models.OutboundMessage, d.cfg.Dispatch.QueueSize),
			limiter: rate.NewLimiter(rate.Limit(float64(d.cfg.Dispatch.RatePerMinute)/60.0), d.cfg.Dispatch.Burst),
		}
		d.dests[chatID] = dest
		d.wg.Add(1)
		go d.worker(chatID, dest)
	}
	return dest
}

func (d *Dispatcher) worker(chatID int64, dest *destination) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Infof("Dispatch worker for chat %d stopped (%d queued abandoned)", chatID, len(dest.queue))
			return
		case msg := <-dest.queue:
			if err := dest.limiter.Wait(d.ctx); err != nil {
				return
			}
			d.deliver(msg)
		}
	}
}

// deliver sends one message, retrying transient failures up to the
// configured attempt count. Exhaustion and permanent failures are logged as
// delivery failures, never escalated.
func (d *Dispatcher) deliver(msg models.OutboundMessage) {
	var permanent error
	err := utils.Retry(d.logger, d.cfg.Dispatch.MaxAttempts, d.cfg.Dispatch.RetryDelay, func() error {
		err := d.sender.Send(d.ctx, msg.ChatID, msg.Body)
		if err != nil && !IsTransient(err) {
			permanent = err
			return nil // not worth retrying
		}
		return err
	})
	switch {
	case permanent != nil:
		d.logger.Errorf("Delivery to chat %d failed permanently: %v", msg.ChatID, permanent)
	case err != nil:
		d.logger.Errorf("Delivery to chat %d failed: %v", msg.ChatID, err)
	default:
		d.logger.Debugf("Delivered message to chat %d", msg.ChatID)
	}
}

// FormatAlert renders an alert event as a chat message.
func FormatAlert(evt models.AlertEvent) string {
	r := evt.Reading
	when := evt.At.Local().Format("02.01.2006 15:04:05")
	if evt.Recovered {
		return fmt.Sprintf("✅ *%s* recovered: %s is back in range at %.2f %s (%s)",
			evt.Rule.Name, r.SensorID, r.Value, r.Unit, when)
	}
	if evt.Rule.Predicate == models.PredStale {
		return fmt.Sprintf("⚠ *%s*: %s is unreachable, last reading %s",
			evt.Rule.Name, r.SensorID, r.Timestamp.Local().Format("02.01.2006 15:04:05"))
	}
	return fmt.Sprintf("⚠ *%s*: %s value %.2f %s %s threshold %.2f (%s)",
		evt.Rule.Name, r.SensorID, r.Value, r.Unit, evt.Rule.Predicate, evt.Rule.Threshold, when)
}
