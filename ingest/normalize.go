package ingest

import (
	"fmt"
	"strings"
	"time"

	"coldtrack/shipment"
	"coldtrack/source"
)

// statusVocabulary maps the carrier's status vocabulary onto the internal
// enumeration. Unlisted statuses map to exception with the raw string kept
// on the event, never dropped.
var statusVocabulary = map[string]shipment.Status{
	"label_created":       shipment.StatusCreated,
	"initiated":           shipment.StatusCreated,
	"picked_up":           shipment.StatusInTransit,
	"in_transit":          shipment.StatusInTransit,
	"out_for_delivery":    shipment.StatusInTransit,
	"at_local_facility":   shipment.StatusInTransit,
	"delivered":           shipment.StatusDelivered,
	"delivery_exception":  shipment.StatusException,
	"returned_to_shipper": shipment.StatusException,
}

// NormalizeStatus converts one raw carrier scan event into a unified status
// event. The shipment id is attached later by the reconciler.
func NormalizeStatus(ev source.CarrierEvent) (shipment.StatusEvent, error) {
	ts, err := normalizeTimestamp(ev.Timestamp)
	if err != nil {
		return shipment.StatusEvent{}, err
	}

	raw := strings.TrimSpace(ev.RawStatus)
	status, ok := statusVocabulary[strings.ToLower(raw)]
	if !ok {
		status = shipment.StatusException
	}

	return shipment.StatusEvent{
		Status:    status,
		RawStatus: raw,
		Location:  normalizeLocation(ev.Location),
		Timestamp: ts,
	}, nil
}

// NormalizeReading converts one raw sensor report into a unified reading.
func NormalizeReading(rec source.SensorRecord) (shipment.SensorReading, error) {
	ts, err := normalizeTimestamp(rec.Timestamp)
	if err != nil {
		return shipment.SensorReading{}, err
	}
	if rec.SensorID == "" {
		return shipment.SensorReading{}, fmt.Errorf("ingest: %w: reading without sensor id", source.ErrMalformedPayload)
	}

	return shipment.SensorReading{
		SensorID:    rec.SensorID,
		Temperature: rec.Temperature,
		Humidity:    rec.Humidity,
		Location:    normalizeLocation(rec.Location),
		Timestamp:   ts,
	}, nil
}

// normalizeLocation keeps the source representation: coordinates stay a
// coordinate pair, a bare place name stays a string. No lookup in either
// direction.
func normalizeLocation(loc source.RawLocation) shipment.Location {
	if loc.HasCoord {
		return shipment.CoordLocation(loc.Lat, loc.Lon)
	}
	if loc.Place != "" {
		return shipment.PlaceLocation(loc.Place)
	}
	return shipment.Location{}
}

// Accepted text layouts. Both carry an explicit offset; an offset-less
// timestamp has no absolute instant and is rejected rather than guessed at.
var offsetLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z0700",
}

var nakedLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func normalizeTimestamp(raw source.RawTimestamp) (time.Time, error) {
	if raw.Epoch != nil {
		return time.Unix(*raw.Epoch, 0).UTC(), nil
	}

	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return time.Time{}, fmt.Errorf("ingest: %w: empty timestamp", source.ErrMalformedPayload)
	}

	for _, layout := range offsetLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts.UTC(), nil
		}
	}

	for _, layout := range nakedLayouts {
		if _, err := time.Parse(layout, text); err == nil {
			return time.Time{}, fmt.Errorf("ingest: %w: %q has no offset", source.ErrAmbiguousTimestamp, text)
		}
	}

	return time.Time{}, fmt.Errorf("ingest: %w: unparseable timestamp %q", source.ErrMalformedPayload, text)
}
