package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"coldtrack/shipment"
)

// MemStore is an in-memory implementation of the contract. Each WithTx
// scope works on a deep copy of the state and swaps it in on commit, so a
// failing transaction leaves the store byte-for-byte unchanged. Transactions
// are serialized on one mutex, which is fine for its role as a test double
// and embedded store.
type MemStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	shipments  map[string]shipment.Shipment
	byTracking map[string]string
	history    map[string][]shipment.StatusEvent
	readings   map[string][]shipment.SensorReading
	alerts     map[string][]shipment.TemperatureAlert
}

func NewMemStore() *MemStore {
	return &MemStore{state: newMemState()}
}

func newMemState() memState {
	return memState{
		shipments:  make(map[string]shipment.Shipment),
		byTracking: make(map[string]string),
		history:    make(map[string][]shipment.StatusEvent),
		readings:   make(map[string][]shipment.SensorReading),
		alerts:     make(map[string][]shipment.TemperatureAlert),
	}
}

func (s memState) clone() memState {
	next := memState{
		shipments:  make(map[string]shipment.Shipment, len(s.shipments)),
		byTracking: make(map[string]string, len(s.byTracking)),
		history:    make(map[string][]shipment.StatusEvent, len(s.history)),
		readings:   make(map[string][]shipment.SensorReading, len(s.readings)),
		alerts:     make(map[string][]shipment.TemperatureAlert, len(s.alerts)),
	}
	for k, v := range s.shipments {
		next.shipments[k] = v
	}
	for k, v := range s.byTracking {
		next.byTracking[k] = v
	}
	for k, v := range s.history {
		next.history[k] = append([]shipment.StatusEvent(nil), v...)
	}
	for k, v := range s.readings {
		next.readings[k] = append([]shipment.SensorReading(nil), v...)
	}
	for k, v := range s.alerts {
		next.alerts[k] = append([]shipment.TemperatureAlert(nil), v...)
	}
	return next
}

func (s *MemStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.state = tx.state
	return nil
}

type memTx struct {
	state memState
}

func (t *memTx) ShipmentByID(_ context.Context, id string) (shipment.Shipment, error) {
	sh, ok := t.state.shipments[id]
	if !ok {
		return shipment.Shipment{}, ErrShipmentNotFound
	}
	return sh, nil
}

func (t *memTx) ShipmentByTracking(_ context.Context, trackingNumber string) (shipment.Shipment, error) {
	id, ok := t.state.byTracking[trackingNumber]
	if !ok {
		return shipment.Shipment{}, ErrShipmentNotFound
	}
	return t.state.shipments[id], nil
}

func (t *memTx) UpsertShipment(_ context.Context, sh shipment.Shipment) error {
	t.state.shipments[sh.ID] = sh
	t.state.byTracking[sh.TrackingNumber] = sh.ID
	return nil
}

func (t *memTx) HasStatusEvent(_ context.Context, shipmentID string, ts time.Time, status shipment.Status) (bool, error) {
	for _, ev := range t.state.history[shipmentID] {
		if ev.Status == status && ev.Timestamp.Equal(ts) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) AppendStatusEvent(_ context.Context, ev shipment.StatusEvent) error {
	history := append(t.state.history[ev.ShipmentID], ev)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	t.state.history[ev.ShipmentID] = history
	return nil
}

func (t *memTx) StatusHistory(_ context.Context, shipmentID string) ([]shipment.StatusEvent, error) {
	return append([]shipment.StatusEvent(nil), t.state.history[shipmentID]...), nil
}

func (t *memTx) HasSensorReading(_ context.Context, shipmentID string, ts time.Time, sensorID string) (bool, error) {
	for _, r := range t.state.readings[shipmentID] {
		if r.SensorID == sensorID && r.Timestamp.Equal(ts) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) AppendSensorReading(_ context.Context, r shipment.SensorReading) error {
	readings := append(t.state.readings[r.ShipmentID], r)
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
	t.state.readings[r.ShipmentID] = readings
	return nil
}

func (t *memTx) Readings(_ context.Context, shipmentID string) ([]shipment.SensorReading, error) {
	return append([]shipment.SensorReading(nil), t.state.readings[shipmentID]...), nil
}

func (t *memTx) OpenExcursion(_ context.Context, shipmentID string, band shipment.TemperatureBand) (shipment.ExcursionType, error) {
	readings := t.state.readings[shipmentID]
	if len(readings) == 0 {
		return shipment.ExcursionNone, nil
	}
	latest := readings[len(readings)-1]
	return band.Classify(latest.Temperature), nil
}

func (t *memTx) AppendAlert(_ context.Context, a shipment.TemperatureAlert) error {
	t.state.alerts[a.ShipmentID] = append(t.state.alerts[a.ShipmentID], a)
	return nil
}

func (t *memTx) Alerts(_ context.Context, shipmentID string) ([]shipment.TemperatureAlert, error) {
	return append([]shipment.TemperatureAlert(nil), t.state.alerts[shipmentID]...), nil
}
