package models

import (
	"fmt"
	"time"
)

// Plant represents a monitored plant in the registry
type Plant struct {
	PlantID      int       `json:"plant_id"`
	PlantType    string    `json:"plant_type"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	IsActive     bool      `json:"is_active"`
}

// WateringFrequency is the coarse watering cadence class of a species
type WateringFrequency string

const (
	FrequencyDaily      WateringFrequency = "daily"
	FrequencyEvery2Days WateringFrequency = "every2days"
	FrequencyWeekly     WateringFrequency = "weekly"
)

// Band is an inclusive optimal range
type Band struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies inside the band
func (b Band) Contains(v float64) bool { return v >= b.Min && v <= b.Max }

// PlantProfile holds the per-species thresholds used for scoring. Profiles are
// read-only reference data once loaded.
type PlantProfile struct {
	Type              string            `json:"type" yaml:"type"`
	Name              string            `json:"name" yaml:"name"`
	WateringFrequency WateringFrequency `json:"watering_frequency" yaml:"watering_frequency"`
	BaselineWaterML   int               `json:"baseline_water_ml" yaml:"baseline_water_ml"`
	Moisture          Band              `json:"moisture" yaml:"moisture"`
	Temperature       Band              `json:"temperature" yaml:"temperature"`
	Humidity          Band              `json:"humidity" yaml:"humidity"`
	Light             Band              `json:"light" yaml:"light"`
	CriticalMoisture  float64           `json:"critical_moisture" yaml:"critical_moisture"`
}

// Validate rejects profiles that would make the stress math meaningless
func (p PlantProfile) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("plant profile: empty type")
	}
	switch p.WateringFrequency {
	case FrequencyDaily, FrequencyEvery2Days, FrequencyWeekly:
	default:
		return fmt.Errorf("plant profile %s: unknown watering frequency %q", p.Type, p.WateringFrequency)
	}
	bands := []struct {
		name string
		b    Band
	}{
		{"moisture", p.Moisture},
		{"temperature", p.Temperature},
		{"humidity", p.Humidity},
		{"light", p.Light},
	}
	for _, nb := range bands {
		if nb.b.Min > nb.b.Max {
			return fmt.Errorf("plant profile %s: %s band inverted (%.1f > %.1f)", p.Type, nb.name, nb.b.Min, nb.b.Max)
		}
	}
	if p.Light.Min <= 0 || p.Light.Max <= 0 {
		return fmt.Errorf("plant profile %s: light band must be positive", p.Type)
	}
	if p.BaselineWaterML < 0 {
		return fmt.Errorf("plant profile %s: negative baseline water", p.Type)
	}
	return nil
}
