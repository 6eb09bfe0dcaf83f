// Package source defines the intermediate records the adapters produce and
// the error taxonomy they share with the normalizer. Records keep whatever
// representation the external feed used; normalization happens downstream.
package source

import (
	"errors"
	"time"
)

var (
	// ErrSourceUnavailable signals a network or timeout failure reaching the
	// external feed. The caller retries with backoff; adapters never do.
	ErrSourceUnavailable = errors.New("source: unavailable")
	// ErrMalformedPayload signals a response that could not be parsed into a
	// record. The ingestion cycle aborts before any write.
	ErrMalformedPayload = errors.New("source: malformed payload")
	// ErrAmbiguousTimestamp signals a timestamp whose absolute instant cannot
	// be determined (no offset, no epoch).
	ErrAmbiguousTimestamp = errors.New("source: ambiguous timestamp")
)

// RawTimestamp holds a source timestamp in the shape it arrived: either an
// offset-aware text form or an epoch value. Epoch is authoritative when set.
type RawTimestamp struct {
	Text  string
	Epoch *int64
}

// RawLocation holds a source location in the shape it arrived: a coordinate
// pair when HasCoord is set, otherwise an optional place name.
type RawLocation struct {
	HasCoord bool
	Lat      float64
	Lon      float64
	Place    string
}

// CarrierEvent is one raw scan event from the carrier feed.
type CarrierEvent struct {
	RawStatus string
	Location  RawLocation
	Timestamp RawTimestamp
}

// CarrierRecord is the parsed result of one carrier tracking pull.
type CarrierRecord struct {
	TrackingNumber string
	Origin         string
	Destination    string
	Events         []CarrierEvent
}

// SensorRecord is one raw telemetry sample from the sensor feed.
type SensorRecord struct {
	SensorID    string
	Temperature float64
	Humidity    float64
	Location    RawLocation
	Timestamp   RawTimestamp
}

// Window bounds a sensor report query, inclusive of From, exclusive of To.
type Window struct {
	From time.Time
	To   time.Time
}
