package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"coldtrack/shipment"
)

var testBand = shipment.TemperatureBand{Min: 2, Max: 8}

func at(hour int) time.Time {
	return time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC)
}

func seed(t *testing.T, st *MemStore) shipment.Shipment {
	t.Helper()
	sh := shipment.Shipment{
		ID:             "ship-1",
		TrackingNumber: "T1",
		CurrentStatus:  shipment.StatusCreated,
		CreatedAt:      at(0),
		UpdatedAt:      at(0),
	}
	err := st.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpsertShipment(ctx, sh)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return sh
}

func TestMemStore_CommitPersists(t *testing.T) {
	st := NewMemStore()
	seed(t, st)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.AppendStatusEvent(ctx, shipment.StatusEvent{
			ShipmentID: "ship-1",
			Status:     shipment.StatusInTransit,
			Timestamp:  at(1),
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = st.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		history, err := tx.StatusHistory(ctx, "ship-1")
		if err != nil {
			return err
		}
		if len(history) != 1 || history[0].Status != shipment.StatusInTransit {
			t.Errorf("history = %+v", history)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
}

func TestMemStore_RollbackDiscardsWrites(t *testing.T) {
	st := NewMemStore()
	seed(t, st)

	boom := errors.New("boom")
	err := st.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.AppendStatusEvent(ctx, shipment.StatusEvent{
			ShipmentID: "ship-1",
			Status:     shipment.StatusDelivered,
			Timestamp:  at(1),
		}); err != nil {
			return err
		}
		if err := tx.UpsertShipment(ctx, shipment.Shipment{ID: "ship-2", TrackingNumber: "T2"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = st.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		history, err := tx.StatusHistory(ctx, "ship-1")
		if err != nil {
			return err
		}
		if len(history) != 0 {
			t.Errorf("rolled-back event persisted: %+v", history)
		}
		if _, err := tx.ShipmentByTracking(ctx, "T2"); !errors.Is(err, ErrShipmentNotFound) {
			t.Errorf("rolled-back shipment persisted: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
}

func TestMemStore_LookupsAndDedup(t *testing.T) {
	st := NewMemStore()
	sh := seed(t, st)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		got, err := tx.ShipmentByTracking(ctx, "T1")
		if err != nil {
			return err
		}
		if got != sh {
			t.Errorf("by tracking = %+v", got)
		}
		if _, err := tx.ShipmentByID(ctx, "missing"); !errors.Is(err, ErrShipmentNotFound) {
			t.Errorf("missing id: %v", err)
		}

		ev := shipment.StatusEvent{ShipmentID: "ship-1", Status: shipment.StatusInTransit, Timestamp: at(1)}
		if err := tx.AppendStatusEvent(ctx, ev); err != nil {
			return err
		}
		dup, err := tx.HasStatusEvent(ctx, "ship-1", at(1), shipment.StatusInTransit)
		if err != nil {
			return err
		}
		if !dup {
			t.Error("identical status event not detected")
		}
		// Same timestamp, different status: distinct identity.
		dup, err = tx.HasStatusEvent(ctx, "ship-1", at(1), shipment.StatusDelivered)
		if err != nil {
			return err
		}
		if dup {
			t.Error("different status treated as duplicate")
		}

		r := shipment.SensorReading{ShipmentID: "ship-1", SensorID: "sentry-1", Temperature: 5, Timestamp: at(2)}
		if err := tx.AppendSensorReading(ctx, r); err != nil {
			return err
		}
		dup, err = tx.HasSensorReading(ctx, "ship-1", at(2), "sentry-1")
		if err != nil {
			return err
		}
		if !dup {
			t.Error("identical reading not detected")
		}
		dup, err = tx.HasSensorReading(ctx, "ship-1", at(2), "sentry-2")
		if err != nil {
			return err
		}
		if dup {
			t.Error("different sensor treated as duplicate")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemStore_HistorySortedByTimestamp(t *testing.T) {
	st := NewMemStore()
	seed(t, st)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		for _, hour := range []int{3, 1, 2} {
			if err := tx.AppendStatusEvent(ctx, shipment.StatusEvent{
				ShipmentID: "ship-1",
				Status:     shipment.StatusInTransit,
				RawStatus:  "in_transit",
				Timestamp:  at(hour),
			}); err != nil {
				return err
			}
		}
		history, err := tx.StatusHistory(ctx, "ship-1")
		if err != nil {
			return err
		}
		for i := 1; i < len(history); i++ {
			if history[i].Timestamp.Before(history[i-1].Timestamp) {
				t.Errorf("history out of order at %d: %+v", i, history)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemStore_OpenExcursion(t *testing.T) {
	st := NewMemStore()
	seed(t, st)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		open, err := tx.OpenExcursion(ctx, "ship-1", testBand)
		if err != nil {
			return err
		}
		if open != shipment.ExcursionNone {
			t.Errorf("no readings: open = %q", open)
		}

		for hour, temp := range map[int]float64{1: 5, 2: 9} {
			if err := tx.AppendSensorReading(ctx, shipment.SensorReading{
				ShipmentID: "ship-1", SensorID: "sentry-1", Temperature: temp, Timestamp: at(hour),
			}); err != nil {
				return err
			}
		}

		// Latest reading (9 at hour 2) is above the band.
		open, err = tx.OpenExcursion(ctx, "ship-1", testBand)
		if err != nil {
			return err
		}
		if open != shipment.ExcursionAboveMax {
			t.Errorf("open = %q, want above_max", open)
		}

		// A later in-band reading closes it.
		if err := tx.AppendSensorReading(ctx, shipment.SensorReading{
			ShipmentID: "ship-1", SensorID: "sentry-1", Temperature: 4, Timestamp: at(3),
		}); err != nil {
			return err
		}
		open, err = tx.OpenExcursion(ctx, "ship-1", testBand)
		if err != nil {
			return err
		}
		if open != shipment.ExcursionNone {
			t.Errorf("open = %q, want none", open)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemStore_CancelledContext(t *testing.T) {
	st := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := st.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		t.Error("transaction body ran under cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
