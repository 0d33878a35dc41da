package hybrid

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/ml"
	"irrigation-backend/internal/models"
	"irrigation-backend/internal/profiles"
	"irrigation-backend/internal/rules"
)

var evening = time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

type fakePredictor struct {
	pred  ml.Prediction
	err   error
	calls atomic.Int32
}

func (f *fakePredictor) Predict(context.Context, ml.Features) (ml.Prediction, error) {
	f.calls.Add(1)
	return f.pred, f.err
}

type brokenProfiles struct{}

func (brokenProfiles) Lookup(string) (models.PlantProfile, error) {
	return models.PlantProfile{}, errors.New("profile table unavailable")
}

type panickingProfiles struct{}

func (panickingProfiles) Lookup(string) (models.PlantProfile, error) {
	panic("profile table corrupt")
}

func reading(m, t, h, l float64) models.SensorReading {
	return models.SensorReading{PlantID: 3, Moisture: m, Temperature: t, Humidity: h, Light: l, Timestamp: evening}
}

// moisture 45, temperature 25 sits inside the ambiguous band; rules say water with 0.7
func borderlineInput() Input {
	return Input{Reading: reading(45, 25, 60, 500), PlantType: "tomato"}
}

func newSelector(p ml.Predictor, mode Mode) *Selector {
	cfg := DefaultConfig()
	cfg.Mode = mode
	return NewSelector(rules.NewEngine(profiles.Builtin()), p, cfg, logger.Nop())
}

func decide(t *testing.T, s *Selector, in Input) models.Decision {
	t.Helper()
	d, err := s.Decide(context.Background(), in)
	require.NoError(t, err)
	return d
}

func TestAgreementPicksMoreConfidentSide(t *testing.T) {
	s := newSelector(&fakePredictor{pred: ml.Prediction{ShouldWater: true, Confidence: 0.9}}, ModeHybrid)

	d := decide(t, s, borderlineInput())
	assert.True(t, d.ShouldWater)
	assert.Equal(t, models.SourceHybridAgreement, d.Source)
	assert.Equal(t, 0.9, d.Confidence)
	assert.Equal(t, 80, d.WaterAmountML)
	detail, ok := d.Detail.(models.AgreementDetail)
	require.True(t, ok)
	assert.Equal(t, models.SideML, detail.Winner)
	assert.Equal(t, 0.7, detail.RuleConfidence)

	s = newSelector(&fakePredictor{pred: ml.Prediction{ShouldWater: true, Confidence: 0.65}}, ModeHybrid)
	d = decide(t, s, borderlineInput())
	assert.Equal(t, models.SourceHybridAgreement, d.Source)
	assert.Equal(t, 0.7, d.Confidence)
	assert.Equal(t, models.SideRule, d.Detail.(models.AgreementDetail).Winner)
}

func TestAgreementTieGoesToML(t *testing.T) {
	s := newSelector(&fakePredictor{pred: ml.Prediction{ShouldWater: true, Confidence: 0.7}}, ModeHybrid)

	d := decide(t, s, borderlineInput())
	assert.Equal(t, models.SideML, d.Detail.(models.AgreementDetail).Winner)
}

func TestDisagreementIsWeighted(t *testing.T) {
	s := newSelector(&fakePredictor{pred: ml.Prediction{ShouldWater: false, Confidence: 0.9}}, ModeHybrid)

	d := decide(t, s, borderlineInput())
	assert.Equal(t, models.SourceHybridWeighted, d.Source)
	assert.False(t, d.ShouldWater)
	assert.Zero(t, d.WaterAmountML)
	detail := d.Detail.(models.WeightedDetail)
	assert.Equal(t, models.SideML, detail.Winner)
	assert.Equal(t, 0.8, detail.MLWeight, "ml weight is capped")

	// capped weight equal to the rule confidence: rules win the tie
	s = newSelector(&fakePredictor{pred: ml.Prediction{ShouldWater: false, Confidence: 0.7}}, ModeHybrid)
	d = decide(t, s, borderlineInput())
	assert.Equal(t, models.SourceHybridWeighted, d.Source)
	assert.True(t, d.ShouldWater)
	assert.Equal(t, models.SideRule, d.Detail.(models.WeightedDetail).Winner)
}

func TestConservativeOverrideAtCriticalMoisture(t *testing.T) {
	p := &fakePredictor{pred: ml.Prediction{ShouldWater: false, Confidence: 0.95}}
	s := newSelector(p, ModeHybrid)

	history := make([]models.SensorReading, 5)
	for i := range history {
		history[i] = reading(12, 22, 55, 500)
	}
	d := decide(t, s, Input{Reading: reading(12, 22, 55, 500), History: history, PlantType: "tomato"})

	assert.Equal(t, int32(1), p.calls.Load(), "rich history makes the case borderline")
	assert.True(t, d.ShouldWater)
	assert.Equal(t, models.SourceRule, d.Source)
	assert.Equal(t, models.RuleDetail{Reason: ReasonCriticalMoisture}, d.Detail)
}

func TestRuleFallbacks(t *testing.T) {
	cases := []struct {
		name   string
		pred   *fakePredictor
		reason string
	}{
		{"predictor error", &fakePredictor{err: models.ErrPredictorUnavailable}, ReasonMLUnavailable},
		{"low confidence", &fakePredictor{pred: ml.Prediction{ShouldWater: false, Confidence: 0.55}}, ReasonLowMLConfidence},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := decide(t, newSelector(tc.pred, ModeHybrid), borderlineInput())
			assert.Equal(t, models.SourceRule, d.Source)
			assert.Equal(t, models.RuleDetail{Reason: tc.reason}, d.Detail)
			assert.True(t, d.ShouldWater)
			assert.Equal(t, 0.7, d.Confidence)
		})
	}
}

func TestNilPredictorIsUnavailable(t *testing.T) {
	d := decide(t, newSelector(nil, ModeHybrid), borderlineInput())
	assert.Equal(t, models.RuleDetail{Reason: ReasonMLUnavailable}, d.Detail)
}

func TestNonBorderlineSkipsML(t *testing.T) {
	p := &fakePredictor{pred: ml.Prediction{ShouldWater: false, Confidence: 0.99}}
	s := newSelector(p, ModeHybrid)

	d := decide(t, s, Input{Reading: reading(15, 32, 30, 900), PlantType: "tomato"})
	assert.Zero(t, p.calls.Load())
	assert.Equal(t, models.RuleDetail{Reason: ReasonMLSkipped}, d.Detail)
	assert.True(t, d.ShouldWater)
}

func TestRulesModeNeverCallsML(t *testing.T) {
	p := &fakePredictor{pred: ml.Prediction{ShouldWater: false, Confidence: 0.99}}
	d := decide(t, newSelector(p, ModeRules), borderlineInput())

	assert.Zero(t, p.calls.Load())
	assert.Equal(t, models.RuleDetail{Reason: ReasonRulesOnly}, d.Detail)
}

func TestMLFirstMode(t *testing.T) {
	p := &fakePredictor{pred: ml.Prediction{ShouldWater: false, Confidence: 0.75}}
	d := decide(t, newSelector(p, ModeMLFirst), borderlineInput())

	assert.Equal(t, models.SourceML, d.Source)
	assert.False(t, d.ShouldWater)
	assert.Equal(t, 0.75, d.Confidence)
	assert.Equal(t, models.MLDetail{Label: false, Confidence: 0.75}, d.Detail)
}

func TestEmergencyWhenRuleEngineFails(t *testing.T) {
	s := NewSelector(rules.NewEngine(brokenProfiles{}), nil, DefaultConfig(), logger.Nop())

	d := decide(t, s, Input{Reading: reading(10, 22, 50, 500)})
	assert.Equal(t, models.SourceEmergency, d.Source)
	assert.True(t, d.ShouldWater)
	assert.Equal(t, 0.9, d.Confidence)
	assert.Equal(t, 220, d.WaterAmountML)
	assert.False(t, d.ComputedAt.IsZero())
	assert.Contains(t, d.Detail.(models.EmergencyDetail).Cause, "profile table unavailable")

	s = NewSelector(rules.NewEngine(panickingProfiles{}), nil, DefaultConfig(), logger.Nop())
	var got models.Decision
	require.NotPanics(t, func() { got = decide(t, s, Input{Reading: reading(10, 22, 50, 500), PlantType: "tomato"}) })
	assert.Equal(t, models.SourceEmergency, got.Source)
	assert.True(t, got.ShouldWater)
	assert.Equal(t, "tomato", got.PlantType)
	assert.Contains(t, got.Detail.(models.EmergencyDetail).Cause, "profile table corrupt")
}

func TestEmergencyFallbackBands(t *testing.T) {
	cases := []struct {
		moisture   float64
		water      bool
		confidence float64
		amount     int
	}{
		{10, true, 0.9, 220},
		{30, true, 0.6, 140},
		{45, false, 0.6, 0},
		{80, false, 0.8, 0},
		{math.NaN(), false, 0.6, 0},
		{-5, true, 0.9, 260},
	}
	for _, tc := range cases {
		d := EmergencyFallback(models.SensorReading{Moisture: tc.moisture}, "test")
		assert.Equal(t, tc.water, d.ShouldWater, "moisture %v", tc.moisture)
		assert.Equal(t, tc.confidence, d.Confidence, "moisture %v", tc.moisture)
		assert.Equal(t, tc.amount, d.WaterAmountML, "moisture %v", tc.moisture)
	}
}

func TestBorderlinePolicy(t *testing.T) {
	p := DefaultBorderline()

	assert.True(t, p.IsBorderline(Input{Reading: reading(50, 25, 50, 500)}))
	assert.False(t, p.IsBorderline(Input{Reading: reading(40, 25, 50, 500)}), "bounds are exclusive")
	assert.False(t, p.IsBorderline(Input{Reading: reading(50, 30, 50, 500)}))
	assert.True(t, p.IsBorderline(Input{Reading: reading(10, 35, 50, 500), History: make([]models.SensorReading, 5)}))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)

	m, err = ParseMode("ml-first")
	require.NoError(t, err)
	assert.Equal(t, ModeMLFirst, m)

	_, err = ParseMode("tensorflow")
	assert.Error(t, err)
}
