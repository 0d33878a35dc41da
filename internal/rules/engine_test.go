package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irrigation-backend/internal/models"
	"irrigation-backend/internal/profiles"
)

// 20:00 is outside both time-of-day windows
var evening = time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

func reading(m, t, h, l float64, at time.Time) models.SensorReading {
	return models.SensorReading{PlantID: 7, Moisture: m, Temperature: t, Humidity: h, Light: l, Timestamp: at}
}

type failingProfiles struct{}

func (failingProfiles) Lookup(string) (models.PlantProfile, error) {
	return models.PlantProfile{}, errors.New("registry offline")
}

type staticProfile models.PlantProfile

func (s staticProfile) Lookup(string) (models.PlantProfile, error) { return models.PlantProfile(s), nil }

func TestDryAndHot(t *testing.T) {
	e := NewEngine(profiles.Builtin())

	d, err := e.Decide(Input{Reading: reading(15, 32, 30, 900, evening), PlantType: "tomato"})
	require.NoError(t, err)

	assert.True(t, d.ShouldWater)
	assert.Equal(t, 6.25, d.Score)
	assert.Equal(t, 0.95, d.Confidence)
	assert.Equal(t, 264, d.WaterAmountML)
	assert.Equal(t, models.SourceRule, d.Source)
	assert.Equal(t, "tomato", d.PlantType)
	assert.NotEmpty(t, d.Reasoning)
}

func TestSaturatedAndCool(t *testing.T) {
	e := NewEngine(profiles.Builtin())

	d, err := e.Decide(Input{Reading: reading(85, 18, 75, 300, evening), PlantType: "lettuce"})
	require.NoError(t, err)

	assert.False(t, d.ShouldWater)
	assert.Equal(t, -2.0, d.Score)
	assert.Equal(t, 0.8, d.Confidence)
	assert.Zero(t, d.WaterAmountML)
}

func TestDeterminism(t *testing.T) {
	e := NewEngine(profiles.Builtin())
	in := Input{
		Reading:   reading(37.4, 26.1, 44, 760, evening),
		History:   []models.SensorReading{reading(60, 20, 55, 500, evening), reading(50, 22, 50, 600, evening), reading(40, 26, 45, 700, evening)},
		PlantType: "pepper",
	}

	first, err := e.Decide(in)
	require.NoError(t, err)
	second, err := e.Decide(in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestConfidenceBounds(t *testing.T) {
	e := NewEngine(profiles.Builtin())

	// nothing fires: 0.5 start, -0.1 for a small score, then the 0.6 floor
	d, err := e.Decide(Input{Reading: reading(55, 20, 60, 500, evening)})
	require.NoError(t, err)
	assert.False(t, d.ShouldWater)
	assert.Equal(t, 0.6, d.Confidence)
	assert.Equal(t, "other", d.PlantType)
	assert.Contains(t, d.Reasoning, "all conditions within normal range")
}

func TestTimeOfDayNudge(t *testing.T) {
	e := NewEngine(profiles.Builtin())
	at := func(hour int) time.Time { return time.Date(2024, 6, 1, hour, 0, 0, 0, time.UTC) }

	morning, err := e.Decide(Input{Reading: reading(45, 20, 60, 500, at(8))})
	require.NoError(t, err)
	midday, err := e.Decide(Input{Reading: reading(45, 20, 60, 500, at(14))})
	require.NoError(t, err)
	night, err := e.Decide(Input{Reading: reading(45, 20, 60, 500, at(22))})
	require.NoError(t, err)

	assert.Equal(t, 1.25, morning.Score)
	assert.Equal(t, 0.75, midday.Score)
	assert.Equal(t, 1.0, night.Score)

	// a negative score is never nudged
	wet, err := e.Decide(Input{Reading: reading(70, 20, 60, 500, at(8))})
	require.NoError(t, err)
	assert.Equal(t, -1.0, wet.Score)
}

func TestTrendRules(t *testing.T) {
	e := NewEngine(profiles.Builtin())
	history := []models.SensorReading{
		reading(70, 18, 60, 500, evening),
		reading(68, 19, 60, 500, evening),
		reading(66, 19, 60, 500, evening),
		reading(52, 24, 60, 500, evening),
		reading(50, 25, 60, 500, evening),
		reading(48, 25, 60, 500, evening),
	}

	ev, err := e.Evaluate(Input{Reading: reading(55, 20, 60, 500, evening), History: history})
	require.NoError(t, err)

	assert.InDelta(t, 18.0, ev.Trends.MoistureDecline, 1e-9)
	assert.InDelta(t, 6.0, ev.Trends.TemperatureRise, 1e-9)
	// +1 rapid decline, +0.5 rising temperature
	assert.Equal(t, 1.5, ev.Decision.Score)
	assert.Equal(t, 0.8, ev.Decision.Confidence)
}

func TestComputeTrendsShortHistory(t *testing.T) {
	assert.Equal(t, Trends{}, ComputeTrends(nil))
	assert.Equal(t, Trends{Samples: 1}, ComputeTrends([]models.SensorReading{reading(50, 20, 50, 500, evening)}))

	tr := ComputeTrends([]models.SensorReading{reading(60, 20, 50, 500, evening), reading(40, 22, 50, 500, evening)})
	assert.Equal(t, 2, tr.Samples)
	assert.InDelta(t, 0, tr.MoistureDecline, 1e-9) // both windows cover the same two samples
}

func TestAmount(t *testing.T) {
	assert.Equal(t, 264, Amount(15, 32, 30))
	assert.Equal(t, 50, Amount(64, 20, 60))
	assert.Equal(t, 50, Amount(90, 20, 60))
	assert.Equal(t, 343, Amount(0, 35, 20))
	assert.Equal(t, 100, Amount(40, 20, 60))
}

func TestProfileLookupFailure(t *testing.T) {
	e := NewEngine(failingProfiles{})

	_, err := e.Decide(Input{Reading: reading(50, 20, 50, 500, evening)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry offline")
}

func TestInvalidProfileIsAnError(t *testing.T) {
	e := NewEngine(staticProfile{Type: "broken", WateringFrequency: "hourly"})

	_, err := e.Decide(Input{Reading: reading(50, 20, 50, 500, evening)})
	assert.Error(t, err)
}
