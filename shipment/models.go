package shipment

import "time"

// Status is the internal status vocabulary. Source-specific statuses are
// mapped onto it during normalization; the raw string survives on the event.
type Status string

const (
	StatusCreated              Status = "created"
	StatusInTransit            Status = "in_transit"
	StatusDelivered            Status = "delivered"
	StatusException            Status = "exception"
	StatusTemperatureExcursion Status = "temperature_excursion"
)

// Shipment mirrors the shipments table columns touched by the reconciler.
// LastStatusAt is the timestamp of the newest status-history entry and
// guards CurrentStatus against late-arriving events.
type Shipment struct {
	ID             string
	TrackingNumber string
	Origin         string
	Destination    string
	CurrentStatus  Status
	LastStatusAt   time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LocationKind tags which representation a Location carries.
type LocationKind string

const (
	LocationNone  LocationKind = ""
	LocationCoord LocationKind = "coord"
	LocationPlace LocationKind = "place"
)

// Location is a tagged union: a coordinate pair or a place name, never
// both. Sources differ and coercing one shape into the other is lossy, so
// events keep whichever representation the source supplied.
type Location struct {
	Kind  LocationKind
	Lat   float64
	Lon   float64
	Place string
}

func CoordLocation(lat, lon float64) Location {
	return Location{Kind: LocationCoord, Lat: lat, Lon: lon}
}

func PlaceLocation(name string) Location {
	return Location{Kind: LocationPlace, Place: name}
}

// StatusEvent is one immutable status-history entry. Identity is the
// (ShipmentID, Timestamp, Status) triple; duplicates are no-ops.
type StatusEvent struct {
	ShipmentID string
	Status     Status
	RawStatus  string
	Location   Location
	Timestamp  time.Time
}

// SensorReading is one immutable telemetry sample. Identity is the
// (ShipmentID, Timestamp, SensorID) triple.
type SensorReading struct {
	ShipmentID  string
	SensorID    string
	Temperature float64
	Humidity    float64
	Location    Location
	Timestamp   time.Time
}

// ExcursionType classifies a reading against a temperature band.
type ExcursionType string

const (
	ExcursionNone     ExcursionType = ""
	ExcursionBelowMin ExcursionType = "below_min"
	ExcursionAboveMax ExcursionType = "above_max"
)

// TemperatureAlert records the transition into an excursion. Exactly one
// alert exists per contiguous out-of-band run. Identity is
// (ShipmentID, Timestamp).
type TemperatureAlert struct {
	ShipmentID  string
	Temperature float64
	AlertType   ExcursionType
	Timestamp   time.Time
}

// TemperatureBand is the allowed temperature range for a shipment. It is
// configuration resolved by the caller per invocation, not persisted state.
type TemperatureBand struct {
	Min float64
	Max float64
}

// Classify returns the excursion type for a temperature under the band.
func (b TemperatureBand) Classify(temperature float64) ExcursionType {
	switch {
	case temperature < b.Min:
		return ExcursionBelowMin
	case temperature > b.Max:
		return ExcursionAboveMax
	default:
		return ExcursionNone
	}
}
