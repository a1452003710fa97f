// Package crossval reconciles active-set verdicts from two independent
// sources into a single confidence-rated recommendation.
package crossval

import (
	"go.uber.org/zap"

	"github.com/monad-tools/activeset-monitor/pkg/types"
)

// Result is the reconciliation of two source verdicts for one validator.
// It is recomputed on every check and never persisted.
type Result struct {
	ValidatorKey string

	SourceAActive *bool
	SourceBActive *bool

	SourcesAgree      bool
	Confidence        types.Confidence
	RecommendedStatus bool
}

// Validator reconciles verdicts with source A as the authority: it carries
// richer round-level telemetry, so it wins disagreements outright.
type Validator struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// Reconcile applies the decision table:
//
//	both nil        -> agree, low, inactive (the safe default)
//	one source only -> agree, medium, the available verdict
//	equal verdicts  -> agree, high, the shared verdict
//	disagreement    -> disagree, low, source A's verdict
func (v *Validator) Reconcile(validatorKey string, sourceA, sourceB *bool) Result {
	result := Result{
		ValidatorKey:  validatorKey,
		SourceAActive: sourceA,
		SourceBActive: sourceB,
	}

	switch {
	case sourceA == nil && sourceB == nil:
		result.SourcesAgree = true
		result.Confidence = types.ConfidenceLow
		result.RecommendedStatus = false

	case sourceA != nil && sourceB == nil:
		result.SourcesAgree = true
		result.Confidence = types.ConfidenceMedium
		result.RecommendedStatus = *sourceA

	case sourceA == nil && sourceB != nil:
		result.SourcesAgree = true
		result.Confidence = types.ConfidenceMedium
		result.RecommendedStatus = *sourceB

	case *sourceA == *sourceB:
		result.SourcesAgree = true
		result.Confidence = types.ConfidenceHigh
		result.RecommendedStatus = *sourceA

	default:
		v.logger.Sugar().Warnw("active-set sources disagree",
			"validator", validatorKey, "source_a", *sourceA, "source_b", *sourceB)
		result.SourcesAgree = false
		result.Confidence = types.ConfidenceLow
		result.RecommendedStatus = *sourceA
	}

	return result
}

// Summary aggregates reconciliation results for the status surface.
type Summary struct {
	Total            int `json:"total"`
	Active           int `json:"active"`
	Inactive         int `json:"inactive"`
	HighConfidence   int `json:"high_confidence"`
	MediumConfidence int `json:"medium_confidence"`
	LowConfidence    int `json:"low_confidence"`
	SourcesAgree     int `json:"sources_agree"`
	SourcesDisagree  int `json:"sources_disagree"`
}

func Summarize(results []Result) Summary {
	summary := Summary{Total: len(results)}
	for _, result := range results {
		if result.RecommendedStatus {
			summary.Active++
		} else {
			summary.Inactive++
		}
		switch result.Confidence {
		case types.ConfidenceHigh:
			summary.HighConfidence++
		case types.ConfidenceMedium:
			summary.MediumConfidence++
		default:
			summary.LowConfidence++
		}
		if result.SourcesAgree {
			summary.SourcesAgree++
		} else {
			summary.SourcesDisagree++
		}
	}
	return summary
}
