// Package hybrid reconciles the rule engine baseline with the optional ML
// predictor and owns the emergency fallback.
package hybrid

import (
	"context"
	"fmt"
	"math"
	"time"

	"irrigation-backend/internal/logger"
	"irrigation-backend/internal/ml"
	"irrigation-backend/internal/models"
	"irrigation-backend/internal/rules"
)

// Input is the full decision input: reading, history (oldest first), plant
// type and forecast rain probability
type Input = rules.Input

// Rule-side reasons recorded in models.RuleDetail
const (
	ReasonRulesOnly        = "rules-only"
	ReasonMLSkipped        = "ml-skipped"
	ReasonMLUnavailable    = "ml-unavailable"
	ReasonLowMLConfidence  = "low-ml-confidence"
	ReasonCriticalMoisture = "critical-moisture"
)

// Mode selects how much the ML predictor is trusted
type Mode string

const (
	// ModeHybrid reconciles both predictors on borderline cases
	ModeHybrid Mode = "hybrid"
	// ModeRules never calls the predictor
	ModeRules Mode = "rules"
	// ModeMLFirst uses a confident ML answer directly on borderline cases
	ModeMLFirst Mode = "ml-first"
)

// ParseMode validates a configured mode string
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeHybrid, ModeRules, ModeMLFirst:
		return m, nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown selector mode %q", s)
	}
}

// Config holds the selection policy. The thresholds are tunable policy.
type Config struct {
	Mode              Mode
	FallbackThreshold float64 // ML confidence below this falls back to rules
	CriticalMoisture  float64 // below this the rule engine always wins
	MLWeightCap       float64 // cap on the ML weight when the predictors disagree
	Borderline        BorderlinePolicy
}

func DefaultConfig() Config {
	return Config{
		Mode:              ModeHybrid,
		FallbackThreshold: 0.6,
		CriticalMoisture:  20,
		MLWeightCap:       0.8,
		Borderline:        DefaultBorderline(),
	}
}

// Selector produces the final Decision for one input
type Selector struct {
	engine    *rules.Engine
	predictor ml.Predictor
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
}

// NewSelector wires the engine and an optional predictor; a nil predictor is
// treated as always unavailable
func NewSelector(engine *rules.Engine, predictor ml.Predictor, cfg Config, log *logger.Logger) *Selector {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	return &Selector{
		engine:    engine,
		predictor: predictor,
		cfg:       cfg,
		log:       log.Component("HybridSelector"),
		now:       time.Now,
	}
}

// Decide never returns an error: every failure ends in a rule or emergency
// decision. The error result keeps the signature usable by the scheduler.
func (s *Selector) Decide(ctx context.Context, in Input) (models.Decision, error) {
	d := s.decide(ctx, in)
	d.ComputedAt = s.now()
	return d, nil
}

func (s *Selector) decide(ctx context.Context, in Input) models.Decision {
	ev, err := s.evaluate(in)
	if err != nil {
		s.log.Warn("Rule engine failed, using emergency fallback", "plantId", in.Reading.PlantID, "error", err)
		d := EmergencyFallback(in.Reading, err.Error())
		d.PlantType = in.PlantType
		return d
	}
	base := ev.Decision

	if s.cfg.Mode == ModeRules {
		return base.WithDetail(models.RuleDetail{Reason: ReasonRulesOnly})
	}
	if !s.cfg.Borderline.IsBorderline(in) {
		return base.WithDetail(models.RuleDetail{Reason: ReasonMLSkipped})
	}
	if s.predictor == nil {
		return base.WithDetail(models.RuleDetail{Reason: ReasonMLUnavailable}, "ml predictor not configured")
	}

	features := ml.BuildFeatures(in.Reading, in.History, ev.Profile, ev.Stress, in.RainProbability)
	pred, err := s.predictor.Predict(ctx, features)
	if err != nil {
		s.log.Debug("ML predictor unavailable", "plantId", in.Reading.PlantID, "error", err)
		return base.WithDetail(models.RuleDetail{Reason: ReasonMLUnavailable}, "ml predictor unavailable, using rules")
	}

	return s.reconcile(base, pred, in.Reading)
}

// evaluate runs the rule engine, turning a panic (e.g. a corrupt profile
// table) into an error so the emergency fallback still answers
func (s *Selector) evaluate(in Input) (ev rules.Evaluation, err error) {
	if s.engine == nil {
		return ev, fmt.Errorf("rule engine not configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule engine panic: %v", r)
		}
	}()
	return s.engine.Evaluate(in)
}

func (s *Selector) reconcile(base models.Decision, pred ml.Prediction, r models.SensorReading) models.Decision {
	if pred.Confidence < s.cfg.FallbackThreshold {
		return base.WithDetail(models.RuleDetail{Reason: ReasonLowMLConfidence},
			fmt.Sprintf("ml confidence too low (%.2f), using rules", pred.Confidence))
	}
	if r.Moisture < s.cfg.CriticalMoisture {
		return base.WithDetail(models.RuleDetail{Reason: ReasonCriticalMoisture},
			fmt.Sprintf("critical moisture (%.1f%%), using conservative rules", r.Moisture))
	}

	if s.cfg.Mode == ModeMLFirst {
		return fromML(base, pred, r, models.MLDetail{Label: pred.ShouldWater, Confidence: pred.Confidence},
			fmt.Sprintf("confident ml prediction (%.2f)", pred.Confidence))
	}

	if pred.ShouldWater == base.ShouldWater {
		detail := models.AgreementDetail{RuleConfidence: base.Confidence, MLConfidence: pred.Confidence}
		if pred.Confidence >= base.Confidence {
			detail.Winner = models.SideML
			return fromML(base, pred, r, detail,
				fmt.Sprintf("both agree, ml more confident (%.2f vs %.2f)", pred.Confidence, base.Confidence))
		}
		detail.Winner = models.SideRule
		return base.WithDetail(detail,
			fmt.Sprintf("both agree, rules more confident (%.2f vs %.2f)", base.Confidence, pred.Confidence))
	}

	mlWeight := math.Min(pred.Confidence, s.cfg.MLWeightCap)
	ruleWeight := base.Confidence
	detail := models.WeightedDetail{RuleWeight: ruleWeight, MLWeight: mlWeight}
	if mlWeight > ruleWeight {
		detail.Winner = models.SideML
		return fromML(base, pred, r, detail,
			fmt.Sprintf("predictors disagree, ml weighted higher (%.2f vs %.2f)", mlWeight, ruleWeight))
	}
	detail.Winner = models.SideRule
	return base.WithDetail(detail,
		fmt.Sprintf("predictors disagree, rules weighted higher (%.2f vs %.2f)", ruleWeight, mlWeight))
}

// fromML takes the label and confidence from the prediction; the amount
// always comes from the rule engine's formula
func fromML(base models.Decision, pred ml.Prediction, r models.SensorReading, detail models.SourceDetail, why string) models.Decision {
	d := base.WithDetail(detail, why)
	d.ShouldWater = pred.ShouldWater
	d.Confidence = pred.Confidence
	d.WaterAmountML = 0
	if pred.ShouldWater {
		d.WaterAmountML = rules.Amount(r.Moisture, r.Temperature, r.Humidity)
	}
	return d
}
