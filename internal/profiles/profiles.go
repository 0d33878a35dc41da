// Package profiles holds the per-species PlantProfile table. The table is
// built once at startup and only read afterwards.
package profiles

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"irrigation-backend/internal/models"
)

// DefaultType is the generic profile used for unknown species
const DefaultType = "other"

// Table maps a normalized plant type to its profile
type Table struct {
	profiles map[string]models.PlantProfile
}

// Builtin returns the reference profiles for the supported species.
// Light bands are lux-equivalent, matching the sensor nodes' light channel.
func Builtin() *Table {
	list := []models.PlantProfile{
		{Type: "tomato", Name: "Tomato", WateringFrequency: models.FrequencyDaily, BaselineWaterML: 500,
			Moisture: models.Band{Min: 60, Max: 80}, Temperature: models.Band{Min: 18, Max: 25},
			Humidity: models.Band{Min: 60, Max: 80}, Light: models.Band{Min: 600, Max: 1500}, CriticalMoisture: 30},
		{Type: "lettuce", Name: "Lettuce", WateringFrequency: models.FrequencyDaily, BaselineWaterML: 300,
			Moisture: models.Band{Min: 70, Max: 85}, Temperature: models.Band{Min: 15, Max: 20},
			Humidity: models.Band{Min: 50, Max: 70}, Light: models.Band{Min: 300, Max: 1000}, CriticalMoisture: 40},
		{Type: "pepper", Name: "Pepper", WateringFrequency: models.FrequencyDaily, BaselineWaterML: 400,
			Moisture: models.Band{Min: 55, Max: 75}, Temperature: models.Band{Min: 20, Max: 28},
			Humidity: models.Band{Min: 50, Max: 70}, Light: models.Band{Min: 600, Max: 1500}, CriticalMoisture: 25},
		{Type: "cucumber", Name: "Cucumber", WateringFrequency: models.FrequencyDaily, BaselineWaterML: 600,
			Moisture: models.Band{Min: 70, Max: 85}, Temperature: models.Band{Min: 18, Max: 24},
			Humidity: models.Band{Min: 70, Max: 90}, Light: models.Band{Min: 600, Max: 1500}, CriticalMoisture: 35},
		{Type: "herb", Name: "Herb", WateringFrequency: models.FrequencyEvery2Days, BaselineWaterML: 200,
			Moisture: models.Band{Min: 50, Max: 70}, Temperature: models.Band{Min: 16, Max: 22},
			Humidity: models.Band{Min: 40, Max: 60}, Light: models.Band{Min: 300, Max: 1000}, CriticalMoisture: 25},
		{Type: "flower", Name: "Flower", WateringFrequency: models.FrequencyEvery2Days, BaselineWaterML: 250,
			Moisture: models.Band{Min: 60, Max: 80}, Temperature: models.Band{Min: 18, Max: 24},
			Humidity: models.Band{Min: 50, Max: 70}, Light: models.Band{Min: 300, Max: 1000}, CriticalMoisture: 30},
		{Type: DefaultType, Name: "Generic plant", WateringFrequency: models.FrequencyEvery2Days, BaselineWaterML: 350,
			Moisture: models.Band{Min: 60, Max: 80}, Temperature: models.Band{Min: 18, Max: 25},
			Humidity: models.Band{Min: 50, Max: 70}, Light: models.Band{Min: 300, Max: 1000}, CriticalMoisture: 30},
	}

	t := &Table{profiles: make(map[string]models.PlantProfile, len(list))}
	for _, p := range list {
		t.profiles[p.Type] = p
	}
	return t
}

// NewTable builds a table from explicit profiles. A DefaultType entry is required.
func NewTable(list []models.PlantProfile) (*Table, error) {
	t := &Table{profiles: make(map[string]models.PlantProfile, len(list))}
	for _, p := range list {
		p.Type = Normalize(p.Type)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		t.profiles[p.Type] = p
	}
	if _, ok := t.profiles[DefaultType]; !ok {
		return nil, fmt.Errorf("profiles: missing %q default profile", DefaultType)
	}
	return t, nil
}

type fileFormat struct {
	Profiles []models.PlantProfile `yaml:"profiles"`
}

// LoadFile reads a YAML profile file and layers it over the built-in table.
// Entries with an existing type replace the built-in profile.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	merged := Builtin().All()
	byType := make(map[string]int, len(merged))
	for i, p := range merged {
		byType[p.Type] = i
	}
	for _, p := range f.Profiles {
		p.Type = Normalize(p.Type)
		if i, ok := byType[p.Type]; ok {
			merged[i] = p
			continue
		}
		byType[p.Type] = len(merged)
		merged = append(merged, p)
	}
	return NewTable(merged)
}

// Lookup returns the profile for plantType, falling back to the generic
// profile for unknown types. It only fails when the table has no default.
func (t *Table) Lookup(plantType string) (models.PlantProfile, error) {
	if p, ok := t.profiles[Normalize(plantType)]; ok {
		return p, nil
	}
	p, ok := t.profiles[DefaultType]
	if !ok {
		return models.PlantProfile{}, fmt.Errorf("profiles: no profile for %q and no default", plantType)
	}
	return p, nil
}

// Types returns the known plant types, sorted
func (t *Table) Types() []string {
	out := make([]string, 0, len(t.profiles))
	for k := range t.profiles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns every profile sorted by type
func (t *Table) All() []models.PlantProfile {
	out := make([]models.PlantProfile, 0, len(t.profiles))
	for _, k := range t.Types() {
		out = append(out, t.profiles[k])
	}
	return out
}

// Normalize lowercases and trims a plant type; empty means the default type
func Normalize(plantType string) string {
	s := strings.ToLower(strings.TrimSpace(plantType))
	if s == "" {
		return DefaultType
	}
	return s
}
