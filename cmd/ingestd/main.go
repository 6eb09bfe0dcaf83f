// ingestd is the scheduling trigger for the ingestion core: it polls the
// configured shipments on an interval, invoking the reconciler's two entry
// points, and serves Prometheus metrics. The core itself holds no timers.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coldtrack/carrier"
	"coldtrack/config"
	"coldtrack/db"
	"coldtrack/ingest"
	"coldtrack/metrics"
	"coldtrack/sensor"
	"coldtrack/shipment"
	"coldtrack/source"
	"coldtrack/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*configPath, log); err != nil {
		log.Fatal("ingestd exited", zap.Error(err))
	}
}

func run(configPath string, log *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	httpClient := &http.Client{Timeout: time.Duration(cfg.Poller.RequestTimeout)}

	var tokens *carrier.TokenSource
	if cfg.Carrier.TokenURL != "" {
		tokens = carrier.NewTokenSource(
			carrier.OAuthFetch(cfg.Carrier.TokenURL, cfg.Carrier.ClientID, cfg.Carrier.ClientSecret, httpClient),
			time.Hour,
		)
	} else {
		tokens = carrier.StaticToken(cfg.Carrier.Token)
	}

	svc := ingest.NewService(
		store.NewPGStore(pool),
		carrier.NewClient(cfg.Carrier.BaseURL, httpClient, tokens),
		sensor.NewClient(cfg.Sensor.BaseURL, cfg.Sensor.Token, httpClient),
		log,
	)

	metrics.Register(prometheus.DefaultRegisterer)
	metricsServer := &http.Server{Addr: cfg.Poller.MetricsListen, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	log.Info("ingestd started",
		zap.Int("shipments", len(cfg.Shipments)),
		zap.Duration("interval", time.Duration(cfg.Poller.Interval)),
	)

	ticker := time.NewTicker(time.Duration(cfg.Poller.Interval))
	defer ticker.Stop()

	pollAll(ctx, cfg, svc, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("ingestd shutting down")
			return nil
		case <-ticker.C:
			pollAll(ctx, cfg, svc, log)
		}
	}
}

// pollAll runs one ingestion cycle per tracked shipment. Shipments are
// independent, so cycles fan out concurrently; per-shipment serialization
// lives inside the reconciler.
func pollAll(ctx context.Context, cfg config.Config, svc *ingest.Service, log *zap.Logger) {
	g, ctx := errgroup.WithContext(ctx)
	for _, sc := range cfg.Shipments {
		g.Go(func() error {
			pollShipment(ctx, cfg, svc, log, sc)
			return nil
		})
	}
	_ = g.Wait()
}

func pollShipment(ctx context.Context, cfg config.Config, svc *ingest.Service, log *zap.Logger, sc config.ShipmentConfig) {
	timeout := time.Duration(cfg.Poller.RequestTimeout)

	carrierCtx, cancel := context.WithTimeout(ctx, timeout)
	sum, err := svc.IngestCarrier(carrierCtx, ingest.CarrierParams{TrackingNumber: sc.TrackingNumber})
	cancel()
	if err != nil {
		if carrier.IsUnavailable(err) {
			log.Warn("carrier feed unavailable, will retry next cycle",
				zap.String("tracking_number", sc.TrackingNumber))
			return
		}
		log.Error("carrier ingestion failed",
			zap.String("tracking_number", sc.TrackingNumber), zap.Error(err))
		return
	}

	if sc.SensorRef == "" {
		return
	}

	band := cfg.ResolveBand(sc)
	now := time.Now().UTC()

	sensorCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err = svc.IngestSensorWindow(sensorCtx, ingest.SensorParams{
		ShipmentID: sum.ShipmentID,
		SensorRef:  sc.SensorRef,
		Window:     source.Window{From: now.Add(-time.Duration(cfg.Poller.WindowLookback)), To: now},
		Band:       shipment.TemperatureBand{Min: band.Min, Max: band.Max},
	})
	if err != nil {
		log.Error("sensor ingestion failed",
			zap.String("tracking_number", sc.TrackingNumber), zap.Error(err))
	}
}
