package hybrid

import (
	"fmt"
	"math"

	"irrigation-backend/internal/models"
)

const emergencyDefaultMoisture = 50.0

// EmergencyFallback decides from soil moisture alone. It cannot fail: a
// non-finite moisture is replaced by 50% and the value is clamped to [0, 100].
func EmergencyFallback(r models.SensorReading, cause string) models.Decision {
	m := r.Moisture
	if math.IsNaN(m) || math.IsInf(m, 0) {
		m = emergencyDefaultMoisture
	}
	m = math.Max(0, math.Min(100, m))

	shouldWater := m < 40
	confidence := 0.6
	switch {
	case m < 25:
		confidence = 0.9
	case m > 70:
		confidence = 0.8
	}

	amount := 0
	if shouldWater {
		amount = int(math.Max(100, math.Round((65-m)*4)))
	}

	verdict := "no watering needed"
	if shouldWater {
		verdict = "watering needed"
	}

	return models.Decision{
		PlantID:       r.PlantID,
		ShouldWater:   shouldWater,
		WaterAmountML: amount,
		Confidence:    confidence,
		Source:        models.SourceEmergency,
		Detail:        models.EmergencyDetail{Cause: cause},
		Reasoning:     []string{fmt.Sprintf("emergency fallback: %s based on moisture level (%.1f%%)", verdict, m)},
	}
}
