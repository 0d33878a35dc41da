package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Source identifies which decision path produced a Decision
type Source string

const (
	SourceRule            Source = "rule"
	SourceML              Source = "ml"
	SourceHybridAgreement Source = "hybrid-agreement"
	SourceHybridWeighted  Source = "hybrid-weighted"
	SourceEmergency       Source = "emergency"
)

// Sources lists every decision source, in a stable order for metrics labels
func Sources() []Source {
	return []Source{SourceRule, SourceML, SourceHybridAgreement, SourceHybridWeighted, SourceEmergency}
}

// Side names one of the two reconciled predictors
type Side string

const (
	SideRule Side = "rule"
	SideML   Side = "ml"
)

// SourceDetail carries the fields relevant to a single Source. The set of
// implementations is closed to this package.
type SourceDetail interface {
	Source() Source
	sourceDetail()
}

// RuleDetail explains why the rule engine result was used
type RuleDetail struct {
	Reason string `json:"reason"` // "ml-skipped", "ml-unavailable", "low-ml-confidence", "critical-moisture", "rules-only"
}

// MLDetail is attached when the ML answer was used directly
type MLDetail struct {
	Label      bool    `json:"label"`
	Confidence float64 `json:"confidence"`
}

// AgreementDetail records both confidences when the predictors agreed
type AgreementDetail struct {
	Winner         Side    `json:"winner"`
	RuleConfidence float64 `json:"rule_confidence"`
	MLConfidence   float64 `json:"ml_confidence"`
}

// WeightedDetail records the weights compared when the predictors disagreed
type WeightedDetail struct {
	Winner     Side    `json:"winner"`
	RuleWeight float64 `json:"rule_weight"`
	MLWeight   float64 `json:"ml_weight"`
}

// EmergencyDetail records what forced the emergency fallback
type EmergencyDetail struct {
	Cause string `json:"cause"`
}

func (RuleDetail) Source() Source      { return SourceRule }
func (MLDetail) Source() Source        { return SourceML }
func (AgreementDetail) Source() Source { return SourceHybridAgreement }
func (WeightedDetail) Source() Source  { return SourceHybridWeighted }
func (EmergencyDetail) Source() Source { return SourceEmergency }

func (RuleDetail) sourceDetail()      {}
func (MLDetail) sourceDetail()        {}
func (AgreementDetail) sourceDetail() {}
func (WeightedDetail) sourceDetail()  {}
func (EmergencyDetail) sourceDetail() {}

// Decision is the irrigation answer for one fingerprint. It is built once and
// must not be mutated afterwards; the cache hands the same value to many callers.
type Decision struct {
	PlantID       int          `json:"plant_id"`
	PlantType     string       `json:"plant_type"`
	ShouldWater   bool         `json:"should_water"`
	WaterAmountML int          `json:"water_amount_ml"`
	Confidence    float64      `json:"confidence"`
	Source        Source       `json:"source"`
	Detail        SourceDetail `json:"detail"`
	Score         float64      `json:"score"`
	Stress        float64      `json:"stress"`       // Overall environmental stress 0-1
	WaterDemand   float64      `json:"water_demand"` // Demand multiplier 0.1-2.0
	Reasoning     []string     `json:"reasoning"`
	ComputedAt    time.Time    `json:"computed_at"`
}

// WithDetail returns a copy of d tagged with detail; Source follows the detail.
// The reasoning slice is copied so the original decision stays untouched.
func (d Decision) WithDetail(detail SourceDetail, extra ...string) Decision {
	out := d
	out.Detail = detail
	out.Source = detail.Source()
	out.Reasoning = make([]string, 0, len(d.Reasoning)+len(extra))
	out.Reasoning = append(out.Reasoning, d.Reasoning...)
	out.Reasoning = append(out.Reasoning, extra...)
	return out
}

// Clone returns a copy that shares no mutable state with d
func (d Decision) Clone() Decision {
	d.Reasoning = slices.Clone(d.Reasoning)
	return d
}

// UnmarshalJSON restores the concrete Detail variant from Source
func (d *Decision) UnmarshalJSON(data []byte) error {
	type plain Decision
	aux := struct {
		*plain
		Detail json.RawMessage `json:"detail"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	d.Detail = nil
	if len(aux.Detail) == 0 || string(aux.Detail) == "null" {
		return nil
	}

	var (
		detail SourceDetail
		err    error
	)
	switch d.Source {
	case SourceRule:
		var v RuleDetail
		err = json.Unmarshal(aux.Detail, &v)
		detail = v
	case SourceML:
		var v MLDetail
		err = json.Unmarshal(aux.Detail, &v)
		detail = v
	case SourceHybridAgreement:
		var v AgreementDetail
		err = json.Unmarshal(aux.Detail, &v)
		detail = v
	case SourceHybridWeighted:
		var v WeightedDetail
		err = json.Unmarshal(aux.Detail, &v)
		detail = v
	case SourceEmergency:
		var v EmergencyDetail
		err = json.Unmarshal(aux.Detail, &v)
		detail = v
	default:
		return fmt.Errorf("decision: unknown source %q", d.Source)
	}
	if err != nil {
		return fmt.Errorf("decision: decode %s detail: %w", d.Source, err)
	}
	d.Detail = detail
	return nil
}
