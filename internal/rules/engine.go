// Package rules implements the deterministic weighted rule engine that
// produces the baseline watering decision.
package rules

import (
	"fmt"
	"math"

	"irrigation-backend/internal/models"
	"irrigation-backend/internal/scoring"
)

const (
	targetMoisture = 65.0
	mlPerPoint     = 4.0
	minAmountML    = 50
	maxAmountML    = 500

	minConfidence = 0.6
	maxConfidence = 0.95
)

// ProfileSource resolves a plant type to its profile
type ProfileSource interface {
	Lookup(plantType string) (models.PlantProfile, error)
}

// Input is everything the engine looks at. History is oldest first.
type Input struct {
	Reading         models.SensorReading
	History         []models.SensorReading
	PlantType       string
	RainProbability float64
}

// Factor is one rule that fired
type Factor struct {
	Name        string
	Weight      float64
	Description string
}

// Evaluation is the full engine output. Decision is what callers see; the
// rest feeds the ML feature vector and the fingerprint.
type Evaluation struct {
	Decision models.Decision
	Profile  models.PlantProfile
	Stress   scoring.Factors
	Trends   Trends
	Factors  []Factor
}

// Engine scores readings against the profile table it owns
type Engine struct {
	profiles ProfileSource
}

func NewEngine(profiles ProfileSource) *Engine {
	return &Engine{profiles: profiles}
}

// Profile exposes the engine's profile lookup
func (e *Engine) Profile(plantType string) (models.PlantProfile, error) {
	if e.profiles == nil {
		return models.PlantProfile{}, fmt.Errorf("rules: no profile source configured")
	}
	p, err := e.profiles.Lookup(plantType)
	if err != nil {
		return models.PlantProfile{}, fmt.Errorf("rules: profile lookup for %q: %w", plantType, err)
	}
	if err := p.Validate(); err != nil {
		return models.PlantProfile{}, fmt.Errorf("rules: %w", err)
	}
	return p, nil
}

// Decide returns the rule decision for in
func (e *Engine) Decide(in Input) (models.Decision, error) {
	ev, err := e.Evaluate(in)
	if err != nil {
		return models.Decision{}, err
	}
	return ev.Decision, nil
}

// Evaluate runs every rule. It never reads the wall clock, so identical
// inputs always give an identical evaluation.
func (e *Engine) Evaluate(in Input) (Evaluation, error) {
	profile, err := e.Profile(in.PlantType)
	if err != nil {
		return Evaluation{}, err
	}

	r := in.Reading
	trends := ComputeTrends(in.History)
	stress := scoring.Score(r, profile, in.RainProbability)

	var s scorer
	s.confidence = 0.5

	switch {
	case r.Moisture < 20:
		s.add("critical_low_moisture", 3, 0.9, fmt.Sprintf("critically low soil moisture (%.1f%%)", r.Moisture))
	case r.Moisture < 35:
		s.add("low_moisture", 2, 0.8, fmt.Sprintf("low soil moisture (%.1f%%)", r.Moisture))
	case r.Moisture < 50:
		s.add("moderate_low_moisture", 1, 0.7, fmt.Sprintf("moderately low soil moisture (%.1f%%)", r.Moisture))
	case r.Moisture > 80:
		s.add("high_moisture", -2, 0.8, fmt.Sprintf("high soil moisture (%.1f%%)", r.Moisture))
	case r.Moisture > 65:
		s.add("adequate_moisture", -1, 0.7, fmt.Sprintf("adequate soil moisture (%.1f%%)", r.Moisture))
	}

	switch {
	case r.Temperature > 30:
		s.add("high_temperature", 1.5, 0.75, fmt.Sprintf("high temperature increases evaporation (%.1f°C)", r.Temperature))
	case r.Temperature > 25:
		s.add("warm_temperature", 0.5, 0, fmt.Sprintf("warm temperature (%.1f°C)", r.Temperature))
	case r.Temperature < 15:
		s.add("cool_temperature", -0.5, 0, fmt.Sprintf("cool temperature reduces water needs (%.1f°C)", r.Temperature))
	}

	switch {
	case r.Humidity < 30:
		s.add("very_low_humidity", 1, 0.75, fmt.Sprintf("very low humidity increases evaporation (%.1f%%)", r.Humidity))
	case r.Humidity < 45:
		s.add("low_humidity", 0.5, 0, fmt.Sprintf("low humidity (%.1f%%)", r.Humidity))
	case r.Humidity > 80:
		s.add("high_humidity", -0.5, 0, fmt.Sprintf("high humidity reduces evaporation (%.1f%%)", r.Humidity))
	}

	switch {
	case r.Light > 1000:
		s.add("high_light", 0.5, 0, "high light intensity increases water use")
	case r.Light > 700:
		s.add("moderate_light", 0.25, 0, "moderate light intensity")
	case r.Light < 200:
		s.add("low_light", -0.25, 0, "low light reduces water needs")
	}

	switch {
	case trends.MoistureDecline > 15:
		s.add("rapid_moisture_decline", 1, 0.8, fmt.Sprintf("rapid moisture decline (%.1f points)", trends.MoistureDecline))
	case trends.MoistureDecline > 8:
		s.add("moderate_moisture_decline", 0.5, 0, fmt.Sprintf("moderate moisture decline (%.1f points)", trends.MoistureDecline))
	}
	if trends.TemperatureRise > 5 {
		s.add("temperature_rising", 0.5, 0, fmt.Sprintf("rising temperature trend (+%.1f°C)", trends.TemperatureRise))
	}

	if r.Moisture < 40 && r.Temperature > 25 && r.Humidity < 50 {
		s.add("stress_conditions", 1, 0.85, "multiple stress conditions detected")
	}

	hour := r.Timestamp.Hour()
	switch {
	case hour >= 6 && hour <= 10 && s.score > 0:
		s.add("morning_time", 0.25, 0, "morning is the preferred watering time")
	case hour >= 12 && hour <= 16 && s.score > 0:
		s.add("midday_time", -0.25, 0, "midday watering is less effective")
	}

	shouldWater := s.score > 0
	confidence := s.confidence
	switch abs := math.Abs(s.score); {
	case abs > 2:
		confidence += 0.1
	case abs < 0.5:
		confidence -= 0.1
	}
	confidence = round2(math.Max(minConfidence, math.Min(maxConfidence, confidence)))

	amount := 0
	if shouldWater {
		amount = Amount(r.Moisture, r.Temperature, r.Humidity)
	}

	reasoning := make([]string, 0, len(s.factors)+2)
	for _, f := range s.factors {
		reasoning = append(reasoning, f.Description)
	}
	reasoning = append(reasoning,
		fmt.Sprintf("%s profile: overall stress %.2f, water demand x%.2f", profile.Name, stress.Overall, stress.WaterDemand))
	if len(s.factors) == 0 {
		reasoning = append(reasoning, "all conditions within normal range")
	}

	d := models.Decision{
		PlantID:       r.PlantID,
		PlantType:     profile.Type,
		ShouldWater:   shouldWater,
		WaterAmountML: amount,
		Confidence:    confidence,
		Source:        models.SourceRule,
		Detail:        models.RuleDetail{Reason: "rule-engine"},
		Score:         round2(s.score),
		Stress:        round2(stress.Overall),
		WaterDemand:   round2(stress.WaterDemand),
		Reasoning:     reasoning,
	}

	return Evaluation{
		Decision: d,
		Profile:  profile,
		Stress:   stress,
		Trends:   trends,
		Factors:  s.factors,
	}, nil
}

// Amount is the recommended volume in ml for a plant that needs water:
// 4 ml per moisture point below 65%, +20% when warm, +10% when dry air,
// clamped to [50, 500].
func Amount(moisture, temperature, humidity float64) int {
	base := math.Max(0, targetMoisture-moisture) * mlPerPoint
	if temperature > 25 {
		base *= 1.2
	}
	if humidity < 45 {
		base *= 1.1
	}
	amount := int(math.Round(base))
	if amount < minAmountML {
		return minAmountML
	}
	if amount > maxAmountML {
		return maxAmountML
	}
	return amount
}

type scorer struct {
	score      float64
	confidence float64
	factors    []Factor
}

func (s *scorer) add(name string, weight, floor float64, desc string) {
	s.score += weight
	s.confidence = math.Max(s.confidence, floor)
	s.factors = append(s.factors, Factor{Name: name, Weight: weight, Description: desc})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
