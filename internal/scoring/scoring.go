// Package scoring evaluates deals against a sales qualification framework
// (MEDDIC or BANT) through an LLM collaborator. The analysis loop consumes
// it as a black box: score a snapshot, get back per-dimension scores, gaps
// and recommendations.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/salestack/dealsense/config"
	"github.com/salestack/dealsense/internal/analyst/telemetry"
	"github.com/salestack/dealsense/models"
	"github.com/salestack/dealsense/provider"
)

// Framework identifiers.
const (
	FrameworkMEDDIC = "meddic"
	FrameworkBANT   = "bant"
)

// MEDDIC dimensions, in canonical order.
const (
	DimMetrics          = "metrics"
	DimEconomicBuyer    = "economic_buyer"
	DimDecisionCriteria = "decision_criteria"
	DimDecisionProcess  = "decision_process"
	DimPain             = "pain"
	DimChampion         = "champion"
)

// BANT dimensions, in canonical order.
const (
	DimBudget    = "budget"
	DimAuthority = "authority"
	DimNeed      = "need"
	DimTimeline  = "timeline"
)

var meddicOrder = []string{DimMetrics, DimEconomicBuyer, DimDecisionCriteria, DimDecisionProcess, DimPain, DimChampion}
var bantOrder = []string{DimBudget, DimAuthority, DimNeed, DimTimeline}

// ScoringError reports a failed or malformed framework evaluation, such as
// an unreachable LLM or a non-numeric score in its output.
type ScoringError struct {
	Framework string
	Err       error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring (%s): %v", e.Framework, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// ScoreResult is the framework evaluation of one deal snapshot. Overall and
// every dimension score are on a 0-100 scale.
type ScoreResult struct {
	Framework       string         `json:"framework"`
	Overall         int            `json:"overall_score"`
	Dimensions      map[string]int `json:"dimensions"`
	Gaps            []string       `json:"gaps"`
	Recommendations []string       `json:"recommendations"`
	Reasoning       string         `json:"reasoning"`
	Qualified       *bool          `json:"is_qualified,omitempty"`
}

// Agent scores a deal snapshot against one qualification framework.
type Agent interface {
	Name() string
	Score(ctx context.Context, deal models.DealSnapshot) (*ScoreResult, error)
}

// NewAgent builds the scoring agent selected by configuration.
func NewAgent(cfg *config.Config, prov provider.Provider, tele *telemetry.Telemetry) (Agent, error) {
	costIn, costOut := modelCosts(cfg, prov.Model())
	switch cfg.Scoring.Framework {
	case FrameworkBANT:
		return &BANTAgent{provider: prov, telemetry: tele, costPer1KInput: costIn, costPer1KOutput: costOut}, nil
	case FrameworkMEDDIC, "":
		return &MEDDICAgent{provider: prov, telemetry: tele, costPer1KInput: costIn, costPer1KOutput: costOut}, nil
	default:
		return nil, fmt.Errorf("unknown scoring framework %q", cfg.Scoring.Framework)
	}
}

func modelCosts(cfg *config.Config, model string) (float64, float64) {
	for _, p := range cfg.LLM.Providers {
		for _, m := range p.Models {
			if m.Name == model || m.APIName == model {
				return m.CostPer1K, m.CostPer1KOutput
			}
		}
	}
	return 0, 0
}

func dimensionOrder(framework string) []string {
	if framework == FrameworkBANT {
		return bantOrder
	}
	return meddicOrder
}

// DimensionDisplayName renders a dimension key for humans: underscores to
// spaces, words title-cased ("economic_buyer" -> "Economic Buyer").
func DimensionDisplayName(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// PrioritizeRecommendations orders recommendations by dimension weakness:
// sort the dimensions ascending by score, take the bottom max, and for each
// claim the first unclaimed recommendation mentioning that dimension's
// display name, case-insensitively. Dimensions with no matching
// recommendation contribute nothing.
//
// Substring matching is a known approximation: a recommendation that happens
// to mention two dimension names can be claimed by the wrong one. Kept for
// output stability.
func PrioritizeRecommendations(res *ScoreResult, max int) []string {
	type dimScore struct {
		name  string
		score int
	}
	var dims []dimScore
	for _, name := range dimensionOrder(res.Framework) {
		if score, ok := res.Dimensions[name]; ok {
			dims = append(dims, dimScore{name, score})
		}
	}
	sort.SliceStable(dims, func(i, j int) bool { return dims[i].score < dims[j].score })
	if len(dims) > max {
		dims = dims[:max]
	}

	used := make(map[int]bool)
	var out []string
	for _, d := range dims {
		needle := strings.ToLower(DimensionDisplayName(d.name))
		for i, rec := range res.Recommendations {
			if used[i] {
				continue
			}
			if strings.Contains(strings.ToLower(rec), needle) {
				out = append(out, rec)
				used[i] = true
				break
			}
		}
	}
	return out
}

// CriticalGaps lists the dimensions scoring below 50, in canonical order.
func CriticalGaps(res *ScoreResult) []string {
	var out []string
	for _, name := range dimensionOrder(res.Framework) {
		score, ok := res.Dimensions[name]
		if ok && score < 50 {
			out = append(out, fmt.Sprintf("%s (score: %d/100)", DimensionDisplayName(name), score))
		}
	}
	return out
}
