package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irrigation-backend/internal/models"
)

func TestBuiltinProfilesAreValid(t *testing.T) {
	for _, p := range Builtin().All() {
		assert.NoError(t, p.Validate(), p.Type)
	}
}

func TestLookupFallsBackToDefault(t *testing.T) {
	table := Builtin()

	p, err := table.Lookup(" Tomato ")
	require.NoError(t, err)
	assert.Equal(t, "tomato", p.Type)

	p, err = table.Lookup("baobab")
	require.NoError(t, err)
	assert.Equal(t, DefaultType, p.Type)

	p, err = table.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, DefaultType, p.Type)
}

func TestNewTableRequiresDefault(t *testing.T) {
	_, err := NewTable([]models.PlantProfile{{
		Type: "fern", WateringFrequency: models.FrequencyWeekly,
		Moisture: models.Band{Min: 1, Max: 2}, Temperature: models.Band{Min: 1, Max: 2},
		Humidity: models.Band{Min: 1, Max: 2}, Light: models.Band{Min: 1, Max: 2},
	}})
	assert.Error(t, err)
}

func TestLoadFileOverridesAndExtends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	content := `
profiles:
  - type: Tomato
    name: Cherry tomato
    watering_frequency: daily
    baseline_water_ml: 450
    moisture: {min: 55, max: 75}
    temperature: {min: 18, max: 27}
    humidity: {min: 55, max: 75}
    light: {min: 600, max: 1500}
    critical_moisture: 25
  - type: fern
    name: Fern
    watering_frequency: weekly
    baseline_water_ml: 150
    moisture: {min: 60, max: 85}
    temperature: {min: 15, max: 24}
    humidity: {min: 60, max: 90}
    light: {min: 100, max: 600}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := LoadFile(path)
	require.NoError(t, err)

	tomato, err := table.Lookup("tomato")
	require.NoError(t, err)
	assert.Equal(t, "Cherry tomato", tomato.Name)
	assert.Equal(t, 450, tomato.BaselineWaterML)

	fern, err := table.Lookup("fern")
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyWeekly, fern.WateringFrequency)
	assert.Contains(t, table.Types(), "lettuce")
}

func TestLoadFileRejectsInvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  - type: x\n    watering_frequency: hourly\n"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
