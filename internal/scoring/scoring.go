// Package scoring turns a sensor reading and a plant profile into normalized
// stress factors and a water demand multiplier.
package scoring

import (
	"math"

	"irrigation-backend/internal/models"
)

// Factors holds the per-factor stress values (each 0-1), their mean and the
// water demand multiplier (0.1-2.0 before the moisture and rain discounts)
type Factors struct {
	Temperature float64 `json:"temperature_stress"`
	Humidity    float64 `json:"humidity_stress"`
	Moisture    float64 `json:"moisture_stress"`
	Light       float64 `json:"light_stress"`
	Overall     float64 `json:"overall_stress"`
	WaterDemand float64 `json:"water_demand"`
}

// Score is a pure function of its inputs
func Score(r models.SensorReading, p models.PlantProfile, rainProbability float64) Factors {
	f := Factors{
		Temperature: bandStress(r.Temperature, p.Temperature, 10, 15),
		Humidity:    bandStress(r.Humidity, p.Humidity, 30, 20),
		Moisture:    bandStress(r.Moisture, p.Moisture, 40, 20),
		Light:       bandStress(r.Light, p.Light, p.Light.Min, p.Light.Max*0.5),
	}
	f.Overall = (f.Temperature + f.Humidity + f.Moisture + f.Light) / 4
	f.WaterDemand = waterDemand(f, r.Moisture, rainProbability)
	return f
}

func waterDemand(f Factors, moisture, rain float64) float64 {
	demand := clamp(1+0.5*f.Temperature+0.3*f.Humidity+0.2*f.Light, 0.1, 2.0)

	switch {
	case moisture >= 70:
		demand *= 0.7
	case moisture >= 50:
		demand *= 0.85
	}

	switch {
	case rain > 0.7:
		demand *= 0.5
	case rain > 0.3:
		demand *= 0.8
	}
	return demand
}

// bandStress is 0 inside b and grows linearly with the distance outside,
// scaled by below/above and capped at 1
func bandStress(v float64, b models.Band, below, above float64) float64 {
	var s float64
	switch {
	case v < b.Min:
		s = (b.Min - v) / below
	case v > b.Max:
		s = (v - b.Max) / above
	default:
		return 0
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 1
	}
	return clamp(s, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
