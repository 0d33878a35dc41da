package rules

import "irrigation-backend/internal/models"

const trendSamples = 3

// Trends compares the first and last three samples of a history window
type Trends struct {
	MoistureDecline float64
	TemperatureRise float64
	HumidityChange  float64
	Samples         int
}

// ComputeTrends needs at least two samples; shorter windows give zero trends
func ComputeTrends(history []models.SensorReading) Trends {
	t := Trends{Samples: len(history)}
	if len(history) < 2 {
		return t
	}

	n := trendSamples
	if len(history) < n {
		n = len(history)
	}
	older := average(history[:n])
	recent := average(history[len(history)-n:])

	t.MoistureDecline = older.Moisture - recent.Moisture
	t.TemperatureRise = recent.Temperature - older.Temperature
	t.HumidityChange = recent.Humidity - older.Humidity
	return t
}

func average(rs []models.SensorReading) models.SensorReading {
	var avg models.SensorReading
	for _, r := range rs {
		avg.Moisture += r.Moisture
		avg.Temperature += r.Temperature
		avg.Humidity += r.Humidity
	}
	n := float64(len(rs))
	avg.Moisture /= n
	avg.Temperature /= n
	avg.Humidity /= n
	return avg
}
