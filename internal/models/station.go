package models

import (
	"errors"
	"fmt"
	"time"
)

// Known source tags. Adapters may introduce new ones; these are the
// sources the service ships with.
const (
	SourceWAQI   = "waqi"
	SourceOpenAQ = "openaq"
	SourceUBA    = "uba"
)

// Validation errors surfaced per reading.
var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrMissingField       = errors.New("missing required field")
)

// NaturalKey identifies one station per source. Two rows never share it.
type NaturalKey struct {
	StationUID int64  `json:"station_uid"`
	Source     string `json:"source"`
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s/%d", k.Source, k.StationUID)
}

// Weather carries the optional meteorological readings a station may report.
type Weather struct {
	Temperature *float64 `db:"temperature" json:"temperature,omitempty"`
	Pressure    *float64 `db:"pressure" json:"pressure,omitempty"`
	Humidity    *float64 `db:"humidity" json:"humidity,omitempty"`
	WindSpeed   *float64 `db:"wind_speed" json:"wind_speed,omitempty"`
}

// StationReading is one observation of one station from one source.
// Built transiently by a source adapter each poll cycle; the reconciler
// decides whether it becomes a new row, overwrites an existing one, or
// gets discarded.
type StationReading struct {
	StationUID int64  `db:"station_uid" json:"station_uid"`
	Source     string `db:"source" json:"source"`
	Name       string `db:"station_name" json:"station_name"`
	URL        string `db:"station_url" json:"station_url,omitempty"`
	Region     string `db:"region" json:"region"`

	AQI *int `db:"aqi" json:"aqi,omitempty"`

	PM25 *float64 `db:"pm25" json:"pm25,omitempty"`
	PM10 *float64 `db:"pm10" json:"pm10,omitempty"`
	NO2  *float64 `db:"no2" json:"no2,omitempty"`
	O3   *float64 `db:"o3" json:"o3,omitempty"`
	CO   *float64 `db:"co" json:"co,omitempty"`
	SO2  *float64 `db:"so2" json:"so2,omitempty"`

	Weather Weather `json:"weather"`

	Latitude  float64 `db:"latitude" json:"latitude"`
	Longitude float64 `db:"longitude" json:"longitude"`

	// ObservedAt is the source-supplied measurement time, or the
	// ingestion time when the source reports none.
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
	// LastUpdate is set by storage on every write.
	LastUpdate time.Time `db:"last_update" json:"last_update"`
}

// Key returns the natural key of the reading.
func (r *StationReading) Key() NaturalKey {
	return NaturalKey{StationUID: r.StationUID, Source: r.Source}
}

// Validate checks the fields a reading must carry before it may be
// persisted. Coordinate ranges follow WGS84.
func (r *StationReading) Validate() error {
	if r.StationUID == 0 {
		return fmt.Errorf("%w: station_uid", ErrMissingField)
	}
	if r.Source == "" {
		return fmt.Errorf("%w: source", ErrMissingField)
	}
	if r.ObservedAt.IsZero() {
		return fmt.Errorf("%w: observed_at", ErrMissingField)
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinates, r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinates, r.Longitude)
	}
	if r.Latitude == 0 && r.Longitude == 0 {
		// Null Island readings are upstream placeholder rows.
		return fmt.Errorf("%w: zero coordinates", ErrInvalidCoordinates)
	}
	return nil
}
