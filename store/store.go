// Package store defines the persistence contract the reconciler writes
// through, plus its PostgreSQL and in-memory implementations. The contract
// is transactional: every ingestion cycle runs inside one WithTx scope and
// either commits whole or leaves the store untouched.
package store

import (
	"context"
	"errors"
	"time"

	"coldtrack/shipment"
)

// ErrShipmentNotFound is returned by lookups for unknown shipments.
var ErrShipmentNotFound = errors.New("store: shipment not found")

// Store opens transaction scopes.
type Store interface {
	// WithTx runs fn inside a transaction. The transaction commits iff fn
	// returns nil; any error (or panic) rolls every write back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the per-transaction operation set. Append operations do not
// deduplicate; callers check the Has variants first, inside the same
// transaction, under the reconciler's per-shipment lock.
type Tx interface {
	ShipmentByID(ctx context.Context, id string) (shipment.Shipment, error)
	ShipmentByTracking(ctx context.Context, trackingNumber string) (shipment.Shipment, error)
	UpsertShipment(ctx context.Context, s shipment.Shipment) error

	HasStatusEvent(ctx context.Context, shipmentID string, ts time.Time, status shipment.Status) (bool, error)
	AppendStatusEvent(ctx context.Context, ev shipment.StatusEvent) error
	StatusHistory(ctx context.Context, shipmentID string) ([]shipment.StatusEvent, error)

	HasSensorReading(ctx context.Context, shipmentID string, ts time.Time, sensorID string) (bool, error)
	AppendSensorReading(ctx context.Context, r shipment.SensorReading) error
	Readings(ctx context.Context, shipmentID string) ([]shipment.SensorReading, error)

	// OpenExcursion derives the open excursion state: the classification of
	// the shipment's newest stored reading against the band in force for
	// this invocation. No reading means no open excursion. The band is a
	// parameter because it is invocation-scoped configuration, not state.
	OpenExcursion(ctx context.Context, shipmentID string, band shipment.TemperatureBand) (shipment.ExcursionType, error)

	AppendAlert(ctx context.Context, a shipment.TemperatureAlert) error
	Alerts(ctx context.Context, shipmentID string) ([]shipment.TemperatureAlert, error)
}
