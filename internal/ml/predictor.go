package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"irrigation-backend/internal/logger"
)

// Prediction is the ML answer: a label and how sure the model is of it (0-1)
type Prediction struct {
	ShouldWater bool    `json:"should_water"`
	Confidence  float64 `json:"confidence"`
}

// Predictor is the optional ML capability. Implementations must be safe for
// concurrent use.
type Predictor interface {
	Predict(ctx context.Context, f Features) (Prediction, error)
}

// Model is a logistic regression over the named feature vector
type Model struct {
	Version      string             `json:"version"`
	Coefficients map[string]float64 `json:"coefficients"`
	Intercept    float64            `json:"intercept"`
	Threshold    float64            `json:"threshold"` // probability at or above which we water
}

// LinearModel serves predictions from a Model loaded from disk
type LinearModel struct {
	model *Model
}

// LoadLinearModel reads the JSON model file
func LoadLinearModel(modelPath string, log *logger.Logger) (*LinearModel, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}
	if err := model.validate(); err != nil {
		return nil, err
	}

	log.Info("Loaded watering model", "path", modelPath, "version", model.Version, "threshold", model.Threshold)
	return &LinearModel{model: &model}, nil
}

// NewLinearModel wraps an in-memory model
func NewLinearModel(m Model) (*LinearModel, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &LinearModel{model: &m}, nil
}

func (m *Model) validate() error {
	if len(m.Coefficients) == 0 {
		return fmt.Errorf("model has no coefficients")
	}
	known := make(map[string]bool, len(featureNames))
	for _, n := range featureNames {
		known[n] = true
	}
	for name := range m.Coefficients {
		if !known[name] {
			return fmt.Errorf("model references unknown feature %q", name)
		}
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		return fmt.Errorf("model threshold must be in (0, 1), got %.2f", m.Threshold)
	}
	return nil
}

// Predict scores f with the logistic model
func (m *LinearModel) Predict(ctx context.Context, f Features) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	z := m.model.Intercept
	values := f.Named()
	for name, coef := range m.model.Coefficients {
		z += coef * values[name]
	}
	p := 1 / (1 + math.Exp(-z))

	if p >= m.model.Threshold {
		return Prediction{ShouldWater: true, Confidence: round2(p)}, nil
	}
	return Prediction{ShouldWater: false, Confidence: round2(1 - p)}, nil
}

// SampleModel is a hand-tuned starting point used when no trained model exists
func SampleModel() Model {
	return Model{
		Version: "sample-1",
		Coefficients: map[string]float64{
			FeatureMoisture:        -7.0, // Wetter soil -> don't water
			FeatureTemperature:     2.5,
			FeatureHumidity:        -1.5,
			FeatureLight:           0.8,
			FeatureMoistureDecline: 4.0,
			FeatureOverallStress:   1.5,
			FeatureWaterDemand:     1.0,
			FeatureRain:            -2.0,
		},
		Intercept: 2.2,
		Threshold: 0.5,
	}
}

// CreateSampleModel writes SampleModel to path.
// Call this if no model file exists.
func CreateSampleModel(path string, log *logger.Logger) error {
	data, err := json.MarshalIndent(SampleModel(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	log.Info("Created sample model", "path", path)
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
