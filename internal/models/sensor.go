package models

import (
	"errors"
	"math"
	"time"
)

// DefaultMaxLux is the upper bound accepted for light readings
const DefaultMaxLux = 5000.0

// SensorReading is one validated snapshot of a plant's sensors
type SensorReading struct {
	PlantID     int       `json:"plant_id"`
	Moisture    float64   `json:"moisture"`    // Soil moisture 0-100%
	Temperature float64   `json:"temperature"` // Celsius
	Humidity    float64   `json:"humidity"`    // Air humidity 0-100%
	Light       float64   `json:"light"`       // Lux-equivalent
	Timestamp   time.Time `json:"timestamp"`
}

// SensorPayload is the wire form of a reading as published by the sensor nodes
// and accepted over HTTP. Pointer fields let missing values be told apart from zero.
type SensorPayload struct {
	Moisture    *float64   `json:"moisture"`
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	Light       *float64   `json:"light"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// ToReading converts the payload into a SensorReading. Missing fields are
// reported as validation errors; a missing timestamp defaults to now.
func (p SensorPayload) ToReading(plantID int, now time.Time) (SensorReading, error) {
	var errs []error
	need := func(field string, v *float64) float64 {
		if v == nil {
			errs = append(errs, &ValidationError{Field: field, Reason: "missing required field"})
			return 0
		}
		return *v
	}

	r := SensorReading{
		PlantID:     plantID,
		Moisture:    need("moisture", p.Moisture),
		Temperature: need("temperature", p.Temperature),
		Humidity:    need("humidity", p.Humidity),
		Light:       need("light", p.Light),
		Timestamp:   now,
	}
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		r.Timestamp = *p.Timestamp
	}
	if len(errs) > 0 {
		return SensorReading{}, errors.Join(errs...)
	}
	return r, nil
}

// ValidateReading checks every field range. All failures are reported together.
func ValidateReading(r SensorReading, maxLux float64) error {
	if maxLux <= 0 {
		maxLux = DefaultMaxLux
	}

	var errs []error
	if r.PlantID <= 0 {
		errs = append(errs, &ValidationError{Field: "plant_id", Reason: "must be a positive integer"})
	}
	checkRange := func(field string, v, lo, hi float64) {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			errs = append(errs, &ValidationError{Field: field, Reason: "must be a finite number"})
		case v < lo || v > hi:
			errs = append(errs, &ValidationError{Field: field, Reason: rangeReason(lo, hi), Value: v})
		}
	}
	checkRange("moisture", r.Moisture, 0, 100)
	checkRange("temperature", r.Temperature, -20, 60)
	checkRange("humidity", r.Humidity, 0, 100)
	checkRange("light", r.Light, 0, maxLux)
	if r.Timestamp.IsZero() {
		errs = append(errs, &ValidationError{Field: "timestamp", Reason: "must be set"})
	}

	return errors.Join(errs...)
}
