package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coldtrack/shipment"
)

// PGStore implements the contract on PostgreSQL. Every WithTx scope maps to
// one pgx transaction; rollback is deferred so every non-commit exit path
// releases the transaction.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const shipmentColumns = `id, tracking_number, origin, destination, current_status, last_status_at, created_at, updated_at`

func (t *pgTx) ShipmentByID(ctx context.Context, id string) (shipment.Shipment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id)
	return scanShipment(row)
}

func (t *pgTx) ShipmentByTracking(ctx context.Context, trackingNumber string) (shipment.Shipment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1`, trackingNumber)
	return scanShipment(row)
}

func scanShipment(row pgx.Row) (shipment.Shipment, error) {
	var sh shipment.Shipment
	err := row.Scan(&sh.ID, &sh.TrackingNumber, &sh.Origin, &sh.Destination,
		&sh.CurrentStatus, &sh.LastStatusAt, &sh.CreatedAt, &sh.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return shipment.Shipment{}, ErrShipmentNotFound
	}
	if err != nil {
		return shipment.Shipment{}, fmt.Errorf("store: scan shipment: %w", err)
	}
	return sh, nil
}

func (t *pgTx) UpsertShipment(ctx context.Context, sh shipment.Shipment) error {
	const query = `
        INSERT INTO shipments (id, tracking_number, origin, destination, current_status, last_status_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            origin = EXCLUDED.origin,
            destination = EXCLUDED.destination,
            current_status = EXCLUDED.current_status,
            last_status_at = EXCLUDED.last_status_at,
            updated_at = EXCLUDED.updated_at
    `
	_, err := t.tx.Exec(ctx, query, sh.ID, sh.TrackingNumber, sh.Origin, sh.Destination,
		sh.CurrentStatus, sh.LastStatusAt, sh.CreatedAt, sh.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert shipment: %w", err)
	}
	return nil
}

func (t *pgTx) HasStatusEvent(ctx context.Context, shipmentID string, ts time.Time, status shipment.Status) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM status_history WHERE shipment_id = $1 AND recorded_at = $2 AND status = $3)`,
		shipmentID, ts, status).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check status event: %w", err)
	}
	return exists, nil
}

func (t *pgTx) AppendStatusEvent(ctx context.Context, ev shipment.StatusEvent) error {
	const query = `
        INSERT INTO status_history (shipment_id, status, raw_status, location_kind, location_lat, location_lon, location_place, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	lat, lon, place := locationColumns(ev.Location)
	_, err := t.tx.Exec(ctx, query, ev.ShipmentID, ev.Status, ev.RawStatus,
		ev.Location.Kind, lat, lon, place, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append status event: %w", err)
	}
	return nil
}

func (t *pgTx) StatusHistory(ctx context.Context, shipmentID string) ([]shipment.StatusEvent, error) {
	const query = `
        SELECT shipment_id, status, raw_status, location_kind, location_lat, location_lon, location_place, recorded_at
        FROM status_history WHERE shipment_id = $1 ORDER BY recorded_at, id
    `
	rows, err := t.tx.Query(ctx, query, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("store: query status history: %w", err)
	}
	defer rows.Close()

	var history []shipment.StatusEvent
	for rows.Next() {
		var (
			ev       shipment.StatusEvent
			lat, lon *float64
			place    *string
		)
		if err := rows.Scan(&ev.ShipmentID, &ev.Status, &ev.RawStatus,
			&ev.Location.Kind, &lat, &lon, &place, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan status event: %w", err)
		}
		fillLocation(&ev.Location, lat, lon, place)
		history = append(history, ev)
	}
	return history, rows.Err()
}

func (t *pgTx) HasSensorReading(ctx context.Context, shipmentID string, ts time.Time, sensorID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sensor_readings WHERE shipment_id = $1 AND recorded_at = $2 AND sensor_id = $3)`,
		shipmentID, ts, sensorID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check sensor reading: %w", err)
	}
	return exists, nil
}

func (t *pgTx) AppendSensorReading(ctx context.Context, r shipment.SensorReading) error {
	const query = `
        INSERT INTO sensor_readings (shipment_id, sensor_id, temperature, humidity, location_kind, location_lat, location_lon, location_place, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	lat, lon, place := locationColumns(r.Location)
	_, err := t.tx.Exec(ctx, query, r.ShipmentID, r.SensorID, r.Temperature, r.Humidity,
		r.Location.Kind, lat, lon, place, r.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append sensor reading: %w", err)
	}
	return nil
}

func (t *pgTx) Readings(ctx context.Context, shipmentID string) ([]shipment.SensorReading, error) {
	const query = `
        SELECT shipment_id, sensor_id, temperature, humidity, location_kind, location_lat, location_lon, location_place, recorded_at
        FROM sensor_readings WHERE shipment_id = $1 ORDER BY recorded_at, id
    `
	rows, err := t.tx.Query(ctx, query, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("store: query readings: %w", err)
	}
	defer rows.Close()

	var readings []shipment.SensorReading
	for rows.Next() {
		var (
			r        shipment.SensorReading
			lat, lon *float64
			place    *string
		)
		if err := rows.Scan(&r.ShipmentID, &r.SensorID, &r.Temperature, &r.Humidity,
			&r.Location.Kind, &lat, &lon, &place, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan reading: %w", err)
		}
		fillLocation(&r.Location, lat, lon, place)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (t *pgTx) OpenExcursion(ctx context.Context, shipmentID string, band shipment.TemperatureBand) (shipment.ExcursionType, error) {
	var temperature float64
	err := t.tx.QueryRow(ctx,
		`SELECT temperature FROM sensor_readings WHERE shipment_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		shipmentID).Scan(&temperature)
	if errors.Is(err, pgx.ErrNoRows) {
		return shipment.ExcursionNone, nil
	}
	if err != nil {
		return shipment.ExcursionNone, fmt.Errorf("store: latest reading: %w", err)
	}
	return band.Classify(temperature), nil
}

func (t *pgTx) AppendAlert(ctx context.Context, a shipment.TemperatureAlert) error {
	const query = `
        INSERT INTO temperature_alerts (shipment_id, temperature, alert_type, recorded_at)
        VALUES ($1, $2, $3, $4)
    `
	_, err := t.tx.Exec(ctx, query, a.ShipmentID, a.Temperature, a.AlertType, a.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append alert: %w", err)
	}
	return nil
}

func (t *pgTx) Alerts(ctx context.Context, shipmentID string) ([]shipment.TemperatureAlert, error) {
	const query = `
        SELECT shipment_id, temperature, alert_type, recorded_at
        FROM temperature_alerts WHERE shipment_id = $1 ORDER BY recorded_at, id
    `
	rows, err := t.tx.Query(ctx, query, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("store: query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []shipment.TemperatureAlert
	for rows.Next() {
		var a shipment.TemperatureAlert
		if err := rows.Scan(&a.ShipmentID, &a.Temperature, &a.AlertType, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func locationColumns(loc shipment.Location) (lat, lon *float64, place *string) {
	switch loc.Kind {
	case shipment.LocationCoord:
		lat, lon = &loc.Lat, &loc.Lon
	case shipment.LocationPlace:
		place = &loc.Place
	}
	return lat, lon, place
}

func fillLocation(loc *shipment.Location, lat, lon *float64, place *string) {
	switch loc.Kind {
	case shipment.LocationCoord:
		if lat != nil && lon != nil {
			loc.Lat, loc.Lon = *lat, *lon
		}
	case shipment.LocationPlace:
		if place != nil {
			loc.Place = *place
		}
	}
}
