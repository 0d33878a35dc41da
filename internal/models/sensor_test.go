package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestValidateReading(t *testing.T) {
	base := SensorReading{PlantID: 1, Moisture: 40, Temperature: 22, Humidity: 55, Light: 600, Timestamp: time.Now()}
	require.NoError(t, ValidateReading(base, 0))

	tests := []struct {
		name  string
		mut   func(r *SensorReading)
		field string
	}{
		{"plant id", func(r *SensorReading) { r.PlantID = 0 }, "plant_id"},
		{"moisture high", func(r *SensorReading) { r.Moisture = 101 }, "moisture"},
		{"temperature low", func(r *SensorReading) { r.Temperature = -21 }, "temperature"},
		{"humidity nan", func(r *SensorReading) { r.Humidity = math.NaN() }, "humidity"},
		{"light above max", func(r *SensorReading) { r.Light = 5001 }, "light"},
		{"timestamp", func(r *SensorReading) { r.Timestamp = time.Time{} }, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mut(&r)
			err := ValidateReading(r, DefaultMaxLux)
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateReadingReportsEveryField(t *testing.T) {
	err := ValidateReading(SensorReading{PlantID: 1, Moisture: -1, Humidity: 200, Timestamp: time.Now()}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moisture")
	assert.Contains(t, err.Error(), "humidity")
}

func TestSensorPayloadToReading(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	r, err := SensorPayload{Moisture: ptr(30), Temperature: ptr(25), Humidity: ptr(50), Light: ptr(400)}.ToReading(7, now)
	require.NoError(t, err)
	assert.Equal(t, 7, r.PlantID)
	assert.Equal(t, now, r.Timestamp)

	_, err = SensorPayload{Moisture: ptr(30)}.ToReading(7, now)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "light")
}

func TestPlantProfileValidate(t *testing.T) {
	p := PlantProfile{
		Type: "x", WateringFrequency: FrequencyDaily,
		Moisture: Band{60, 80}, Temperature: Band{18, 25}, Humidity: Band{50, 70}, Light: Band{300, 1000},
	}
	require.NoError(t, p.Validate())

	p.Temperature = Band{30, 20}
	assert.Error(t, p.Validate())
}

func TestDecisionWithDetailCopiesReasoning(t *testing.T) {
	d := Decision{Source: SourceRule, Reasoning: []string{"a"}}
	out := d.WithDetail(EmergencyDetail{Cause: "x"}, "b")
	assert.Equal(t, SourceEmergency, out.Source)
	assert.Equal(t, []string{"a", "b"}, out.Reasoning)
	assert.Equal(t, []string{"a"}, d.Reasoning)
}

func TestDecisionJSONKeepsDetailVariant(t *testing.T) {
	details := []SourceDetail{
		RuleDetail{Reason: "ml-skipped"},
		MLDetail{Label: true, Confidence: 0.8},
		AgreementDetail{Winner: SideML, RuleConfidence: 0.7, MLConfidence: 0.9},
		WeightedDetail{Winner: SideRule, RuleWeight: 0.8, MLWeight: 0.75},
		EmergencyDetail{Cause: "profile lookup failed"},
	}
	for _, detail := range details {
		in := Decision{PlantID: 4, ShouldWater: true, WaterAmountML: 120, Confidence: 0.8, Reasoning: []string{"x"}}.WithDetail(detail)
		in.ComputedAt = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

		raw, err := json.Marshal(in)
		require.NoError(t, err)

		var out Decision
		require.NoError(t, json.Unmarshal(raw, &out))
		assert.Equal(t, in, out)
	}

	var out Decision
	assert.Error(t, json.Unmarshal([]byte(`{"source":"oracle","detail":{}}`), &out))
}
