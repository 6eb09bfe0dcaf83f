// Package ingest implements the ingestion-normalization-and-monitoring
// pipeline: it pulls raw feeds through the source adapters, normalizes them
// into the unified event model, merges them idempotently into per-shipment
// state, and evaluates temperature-excursion rules. All writes of one
// invocation commit as a single transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coldtrack/metrics"
	"coldtrack/shipment"
	"coldtrack/source"
	"coldtrack/store"
)

// CarrierSource pulls one tracking update. Implemented by carrier.Client.
type CarrierSource interface {
	FetchUpdate(ctx context.Context, trackingNumber string) (source.CarrierRecord, error)
}

// SensorSource pulls one report window. Implemented by sensor.Client.
type SensorSource interface {
	FetchWindow(ctx context.Context, sensorRef string, window source.Window) ([]source.SensorRecord, error)
}

// Service is the shipment reconciler. One invocation handles one ingestion
// request for one shipment and one source feed.
type Service struct {
	store   store.Store
	carrier CarrierSource
	sensor  SensorSource
	locks   *lockTable
	log     *zap.Logger
	idGen   func() string
	now     func() time.Time
}

func NewService(st store.Store, carrier CarrierSource, sensor SensorSource, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   st,
		carrier: carrier,
		sensor:  sensor,
		locks:   newLockTable(),
		log:     log,
		idGen:   uuid.NewString,
		now:     time.Now,
	}
}

// WithIDGenerator overrides shipment id generation for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Summary reports what one ingestion cycle changed.
type Summary struct {
	ShipmentID            string
	TrackingNumber        string
	CurrentStatus         shipment.Status
	NewStatusEvents       int
	DuplicateStatusEvents int
	NewReadings           int
	DuplicateReadings     int
	NewAlerts             int
}

// CarrierParams identifies one carrier ingestion request.
type CarrierParams struct {
	TrackingNumber string
}

// SensorParams identifies one sensor-window ingestion request. Band is the
// temperature band resolved by the caller for this invocation.
type SensorParams struct {
	ShipmentID string
	SensorRef  string
	Window     source.Window
	Band       shipment.TemperatureBand
}

// IngestCarrier pulls the carrier feed for one tracking number and merges
// the result. The shipment is created on first sight of the tracking
// number. The adapter call runs before the per-shipment lock is taken; only
// the merge-and-commit phase holds it.
func (s *Service) IngestCarrier(ctx context.Context, params CarrierParams) (Summary, error) {
	if params.TrackingNumber == "" {
		return Summary{}, fmt.Errorf("ingest: missing tracking number")
	}

	rec, err := s.carrier.FetchUpdate(ctx, params.TrackingNumber)
	if err != nil {
		return s.failCarrier(params.TrackingNumber, fmt.Errorf("ingest: fetch carrier update: %w", err))
	}

	events := make([]shipment.StatusEvent, 0, len(rec.Events))
	for _, raw := range rec.Events {
		ev, err := NormalizeStatus(raw)
		if err != nil {
			return s.failCarrier(params.TrackingNumber, fmt.Errorf("ingest: normalize status: %w", err))
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	unlock := s.locks.acquire(params.TrackingNumber)
	defer unlock()

	var sum Summary
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sh, mutated, err := s.resolveShipment(ctx, tx, rec)
		if err != nil {
			return err
		}

		for _, ev := range events {
			ev.ShipmentID = sh.ID
			applied, err := s.mergeStatusEvent(ctx, tx, &sh, ev, &sum)
			if err != nil {
				return err
			}
			mutated = mutated || applied
		}

		if mutated {
			sh.UpdatedAt = s.now().UTC()
			if err := tx.UpsertShipment(ctx, sh); err != nil {
				return fmt.Errorf("ingest: upsert shipment: %w", err)
			}
		}

		sum.ShipmentID = sh.ID
		sum.TrackingNumber = sh.TrackingNumber
		sum.CurrentStatus = sh.CurrentStatus
		return nil
	})
	if err != nil {
		return s.failCarrier(params.TrackingNumber, err)
	}

	metrics.IngestCyclesTotal.WithLabelValues("carrier", "ok").Inc()
	metrics.StatusEventsTotal.Add(float64(sum.NewStatusEvents))
	metrics.DuplicatesTotal.WithLabelValues("status_event").Add(float64(sum.DuplicateStatusEvents))

	s.log.Info("carrier cycle applied",
		zap.String("tracking_number", sum.TrackingNumber),
		zap.String("shipment_id", sum.ShipmentID),
		zap.Int("new_status_events", sum.NewStatusEvents),
		zap.Int("duplicate_status_events", sum.DuplicateStatusEvents),
		zap.String("current_status", string(sum.CurrentStatus)),
	)
	return sum, nil
}

// IngestSensorWindow pulls one sensor report window, merges the readings,
// and evaluates excursions against the invocation's band. Shipments are not
// created here; the carrier feed owns first sight.
func (s *Service) IngestSensorWindow(ctx context.Context, params SensorParams) (Summary, error) {
	if params.ShipmentID == "" {
		return Summary{}, fmt.Errorf("ingest: missing shipment id")
	}
	if params.SensorRef == "" {
		return Summary{}, fmt.Errorf("ingest: missing sensor ref")
	}
	if params.Band.Min > params.Band.Max {
		return Summary{}, fmt.Errorf("ingest: inverted temperature band [%v, %v]", params.Band.Min, params.Band.Max)
	}

	// Short read to learn the lock key; tracking numbers are immutable.
	var trackingNumber string
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sh, err := tx.ShipmentByID(ctx, params.ShipmentID)
		if err != nil {
			return err
		}
		trackingNumber = sh.TrackingNumber
		return nil
	})
	if err != nil {
		return s.failSensor(params.ShipmentID, fmt.Errorf("ingest: resolve shipment: %w", err))
	}

	records, err := s.sensor.FetchWindow(ctx, params.SensorRef, params.Window)
	if err != nil {
		return s.failSensor(params.ShipmentID, fmt.Errorf("ingest: fetch sensor window: %w", err))
	}

	readings := make([]shipment.SensorReading, 0, len(records))
	for _, raw := range records {
		r, err := NormalizeReading(raw)
		if err != nil {
			return s.failSensor(params.ShipmentID, fmt.Errorf("ingest: normalize reading: %w", err))
		}
		r.ShipmentID = params.ShipmentID
		readings = append(readings, r)
	}
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})

	unlock := s.locks.acquire(trackingNumber)
	defer unlock()

	var sum Summary
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sh, err := tx.ShipmentByID(ctx, params.ShipmentID)
		if err != nil {
			return fmt.Errorf("ingest: load shipment: %w", err)
		}

		open, err := tx.OpenExcursion(ctx, sh.ID, params.Band)
		if err != nil {
			return fmt.Errorf("ingest: open excursion: %w", err)
		}

		mutated := false
		for _, r := range readings {
			dup, err := tx.HasSensorReading(ctx, sh.ID, r.Timestamp, r.SensorID)
			if err != nil {
				return fmt.Errorf("ingest: check reading: %w", err)
			}
			if dup {
				sum.DuplicateReadings++
				continue
			}

			if err := tx.AppendSensorReading(ctx, r); err != nil {
				return fmt.Errorf("ingest: append reading: %w", err)
			}
			sum.NewReadings++

			dec := Evaluate(r, params.Band, open)
			open = dec.Open
			if dec.Alert == nil {
				continue
			}

			if err := tx.AppendAlert(ctx, *dec.Alert); err != nil {
				return fmt.Errorf("ingest: append alert: %w", err)
			}
			sum.NewAlerts++
			metrics.AlertsTotal.WithLabelValues(string(dec.Alert.AlertType)).Inc()

			applied, err := s.mergeStatusEvent(ctx, tx, &sh, *dec.StatusEvent, &sum)
			if err != nil {
				return err
			}
			mutated = mutated || applied
		}

		if mutated {
			sh.UpdatedAt = s.now().UTC()
			if err := tx.UpsertShipment(ctx, sh); err != nil {
				return fmt.Errorf("ingest: upsert shipment: %w", err)
			}
		}

		sum.ShipmentID = sh.ID
		sum.TrackingNumber = sh.TrackingNumber
		sum.CurrentStatus = sh.CurrentStatus
		return nil
	})
	if err != nil {
		return s.failSensor(params.ShipmentID, err)
	}

	metrics.IngestCyclesTotal.WithLabelValues("sensor", "ok").Inc()
	metrics.SensorReadingsTotal.Add(float64(sum.NewReadings))
	metrics.DuplicatesTotal.WithLabelValues("sensor_reading").Add(float64(sum.DuplicateReadings))

	s.log.Info("sensor cycle applied",
		zap.String("shipment_id", sum.ShipmentID),
		zap.Int("new_readings", sum.NewReadings),
		zap.Int("duplicate_readings", sum.DuplicateReadings),
		zap.Int("new_alerts", sum.NewAlerts),
	)
	return sum, nil
}

// resolveShipment loads the shipment for the record's tracking number,
// creating it on first sight. The returned bool reports whether the row
// needs an upsert even without new events.
func (s *Service) resolveShipment(ctx context.Context, tx store.Tx, rec source.CarrierRecord) (shipment.Shipment, bool, error) {
	sh, err := tx.ShipmentByTracking(ctx, rec.TrackingNumber)
	if errors.Is(err, store.ErrShipmentNotFound) {
		now := s.now().UTC()
		return shipment.Shipment{
			ID:             s.idGen(),
			TrackingNumber: rec.TrackingNumber,
			Origin:         rec.Origin,
			Destination:    rec.Destination,
			CurrentStatus:  shipment.StatusCreated,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, true, nil
	}
	if err != nil {
		return shipment.Shipment{}, false, fmt.Errorf("ingest: load shipment: %w", err)
	}

	mutated := false
	if rec.Origin != "" && rec.Origin != sh.Origin {
		sh.Origin = rec.Origin
		mutated = true
	}
	if rec.Destination != "" && rec.Destination != sh.Destination {
		sh.Destination = rec.Destination
		mutated = true
	}
	return sh, mutated, nil
}

// mergeStatusEvent appends ev to history unless its identity triple already
// exists. CurrentStatus advances only for events at or after the latest
// known status timestamp; late arrivals land in history for audit without
// regressing the shipment.
func (s *Service) mergeStatusEvent(ctx context.Context, tx store.Tx, sh *shipment.Shipment, ev shipment.StatusEvent, sum *Summary) (bool, error) {
	exists, err := tx.HasStatusEvent(ctx, sh.ID, ev.Timestamp, ev.Status)
	if err != nil {
		return false, fmt.Errorf("ingest: check status event: %w", err)
	}
	if exists {
		sum.DuplicateStatusEvents++
		return false, nil
	}

	if err := tx.AppendStatusEvent(ctx, ev); err != nil {
		return false, fmt.Errorf("ingest: append status event: %w", err)
	}
	sum.NewStatusEvents++

	if !ev.Timestamp.Before(sh.LastStatusAt) {
		sh.CurrentStatus = ev.Status
		sh.LastStatusAt = ev.Timestamp
	}
	return true, nil
}

func (s *Service) failCarrier(trackingNumber string, err error) (Summary, error) {
	metrics.IngestCyclesTotal.WithLabelValues("carrier", "error").Inc()
	s.log.Warn("carrier cycle failed", zap.String("tracking_number", trackingNumber), zap.Error(err))
	return Summary{}, err
}

func (s *Service) failSensor(shipmentID string, err error) (Summary, error) {
	metrics.IngestCyclesTotal.WithLabelValues("sensor", "error").Inc()
	s.log.Warn("sensor cycle failed", zap.String("shipment_id", shipmentID), zap.Error(err))
	return Summary{}, err
}
