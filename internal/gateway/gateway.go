package gateway

import (
	"context"
	"sync"
	"time"

	"sensor-gateway/internal/alert"
	"sensor-gateway/internal/config"
	"sensor-gateway/internal/dispatch"
	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
	"sensor-gateway/internal/store"
	"sensor-gateway/internal/telemetry"
)

// Gateway ties the telemetry source to the store, evaluator, and dispatcher:
// every accepted reading is evaluated synchronously and resulting alerts are
// published, as is every staleness transition found by the sweep. When a hub
// poller is configured it also backfills over HTTP while the live source is
// down.
type Gateway struct {
	source     telemetry.Source
	poller     *telemetry.HubPoller // may be nil
	store      *store.Store
	evaluator  *alert.Evaluator
	dispatcher *dispatch.Dispatcher
	cfg        config.Config
	logger     *logging.Logger
}

func New(src telemetry.Source, poller *telemetry.HubPoller, st *store.Store, ev *alert.Evaluator, d *dispatch.Dispatcher, cfg config.Config, logger *logging.Logger) *Gateway {
	return &Gateway{
		source:     src,
		poller:     poller,
		store:      st,
		evaluator:  ev,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the telemetry source, the ingest loop, the staleness
// sweeper, and the backfill poll loop. All of them stop when ctx is
// cancelled.
func (g *Gateway) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := g.source.Run(ctx); err != nil {
			g.logger.Errorf("Telemetry source failed: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.ingest()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.store.RunSweeper(ctx, g.cfg.Store.SweepInterval, g.onStale)
	}()

	if g.poller != nil && g.cfg.Hub.PollInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.runBackfill(ctx)
		}()
	}
}

// Ingest feeds one reading through the update -> evaluate -> publish path.
// Readings dropped by the store as out-of-order are not evaluated. Returns
// whether the store accepted the reading.
func (g *Gateway) Ingest(reading models.SensorReading) bool {
	if !g.store.Update(reading) {
		return false
	}
	st, err := g.store.Get(reading.SensorID)
	if err != nil {
		return true
	}
	for _, evt := range g.evaluator.Evaluate(st) {
		g.dispatcher.Publish(evt)
	}
	return true
}

// ingest drains the source until its channel closes on shutdown.
func (g *Gateway) ingest() {
	for reading := range g.source.Readings() {
		g.Ingest(reading)
	}
	g.logger.Infof("Ingest loop stopped")
}

// runBackfill periodically pulls the hub's HTTP snapshot while the live
// source is down, so cached state keeps moving and alerting rules still trip
// during an outage. Poll failures are logged and retried on the next tick.
func (g *Gateway) runBackfill(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Hub.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.logger.Infof("Backfill poll loop stopped")
			return
		case <-ticker.C:
			if g.source.Healthy() {
				continue
			}
			readings, err := g.poller.FetchAll(ctx)
			if err != nil {
				g.logger.Errorf("Backfill poll failed: %v", err)
				continue
			}
			for _, reading := range readings {
				g.Ingest(reading)
			}
		}
	}
}

func (g *Gateway) onStale(st models.SensorState) {
	for _, evt := range g.evaluator.Evaluate(st) {
		g.dispatcher.Publish(evt)
	}
}
