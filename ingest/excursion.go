package ingest

import "coldtrack/shipment"

// Decision is the outcome of evaluating one reading against the band.
// Alert and StatusEvent are set together, only on a transition into a new
// excursion type. Open is the excursion state after the reading and feeds
// the evaluation of the next one.
type Decision struct {
	Open        shipment.ExcursionType
	Alert       *shipment.TemperatureAlert
	StatusEvent *shipment.StatusEvent
}

// Evaluate applies the excursion rule to a single reading. open is the
// excursion state before the reading (none, below_min, or above_max).
//
// Consecutive readings inside the same excursion run stay silent: the run
// already has its alert. A reading back inside the band closes the run
// implicitly; no close record is written, the next normal reading is the
// signal. Flipping straight from one excursion type to the other alerts
// immediately.
func Evaluate(reading shipment.SensorReading, band shipment.TemperatureBand, open shipment.ExcursionType) Decision {
	next := band.Classify(reading.Temperature)
	if next == shipment.ExcursionNone || next == open {
		return Decision{Open: next}
	}

	alert := &shipment.TemperatureAlert{
		ShipmentID:  reading.ShipmentID,
		Temperature: reading.Temperature,
		AlertType:   next,
		Timestamp:   reading.Timestamp,
	}
	event := &shipment.StatusEvent{
		ShipmentID: reading.ShipmentID,
		Status:     shipment.StatusTemperatureExcursion,
		RawStatus:  string(next),
		Location:   reading.Location,
		Timestamp:  reading.Timestamp,
	}

	return Decision{Open: next, Alert: alert, StatusEvent: event}
}
