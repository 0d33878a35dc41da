package ml

import (
	"math"

	"irrigation-backend/internal/models"
	"irrigation-backend/internal/scoring"
)

// Feature names understood by Model coefficients
const (
	FeatureMoisture        = "moisture"
	FeatureTemperature     = "temperature"
	FeatureHumidity        = "humidity"
	FeatureLight           = "light"
	FeatureAvgMoisture     = "avg_moisture"
	FeatureAvgTemperature  = "avg_temperature"
	FeatureMoistureDecline = "moisture_decline"
	FeaturePlantType       = "plant_type"
	FeatureOverallStress   = "overall_stress"
	FeatureWaterDemand     = "water_demand"
	FeatureHour            = "hour"
	FeatureRain            = "rain"
)

var featureNames = []string{
	FeatureMoisture, FeatureTemperature, FeatureHumidity, FeatureLight,
	FeatureAvgMoisture, FeatureAvgTemperature, FeatureMoistureDecline,
	FeaturePlantType, FeatureOverallStress, FeatureWaterDemand, FeatureHour, FeatureRain,
}

// plant type codes, spread over [0, 1]
var plantTypeCodes = map[string]float64{
	"tomato":   0.1,
	"lettuce":  0.2,
	"pepper":   0.3,
	"cucumber": 0.4,
	"herb":     0.5,
	"flower":   0.6,
	"other":    0.0,
}

// Features is the normalized input vector; every value is roughly in [0, 1]
type Features struct {
	Moisture        float64
	Temperature     float64
	Humidity        float64
	Light           float64
	AvgMoisture     float64
	AvgTemperature  float64
	MoistureDecline float64
	PlantType       float64
	OverallStress   float64
	WaterDemand     float64
	Hour            float64
	Rain            float64
}

// BuildFeatures normalizes a reading, its history (oldest first) and the
// scorer output. Without history the averages fall back to the reading.
func BuildFeatures(r models.SensorReading, history []models.SensorReading, p models.PlantProfile, s scoring.Factors, rain float64) Features {
	avgM, avgT := r.Moisture, r.Temperature
	decline := 0.0
	if len(history) > 0 {
		avgM, avgT = 0, 0
		for _, h := range history {
			avgM += h.Moisture
			avgT += h.Temperature
		}
		avgM /= float64(len(history))
		avgT /= float64(len(history))
		decline = history[0].Moisture - history[len(history)-1].Moisture
	}

	return Features{
		Moisture:        unit(r.Moisture / 100),
		Temperature:     unit((r.Temperature + 20) / 80),
		Humidity:        unit(r.Humidity / 100),
		Light:           unit(r.Light / 2000),
		AvgMoisture:     unit(avgM / 100),
		AvgTemperature:  unit((avgT + 20) / 80),
		MoistureDecline: unit(decline / 50),
		PlantType:       plantTypeCodes[p.Type],
		OverallStress:   unit(s.Overall),
		WaterDemand:     unit(s.WaterDemand / 2),
		Hour:            float64(r.Timestamp.Hour()) / 24,
		Rain:            unit(rain),
	}
}

// Named maps each feature name to its value
func (f Features) Named() map[string]float64 {
	return map[string]float64{
		FeatureMoisture:        f.Moisture,
		FeatureTemperature:     f.Temperature,
		FeatureHumidity:        f.Humidity,
		FeatureLight:           f.Light,
		FeatureAvgMoisture:     f.AvgMoisture,
		FeatureAvgTemperature:  f.AvgTemperature,
		FeatureMoistureDecline: f.MoistureDecline,
		FeaturePlantType:       f.PlantType,
		FeatureOverallStress:   f.OverallStress,
		FeatureWaterDemand:     f.WaterDemand,
		FeatureHour:            f.Hour,
		FeatureRain:            f.Rain,
	}
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
