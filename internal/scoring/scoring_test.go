package scoring

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/salestack/dealsense/models"
)

type stubProvider struct {
	response string
	err      error
}

func (s *stubProvider) CompleteJSON(ctx context.Context, system, user string) (string, int64, int64, error) {
	if s.err != nil {
		return "", 0, 0, s.err
	}
	return s.response, 100, 50, nil
}

func (s *stubProvider) Model() string { return "gpt-4o" }

func TestPrioritizeRecommendations(t *testing.T) {
	res := &ScoreResult{
		Framework: FrameworkMEDDIC,
		Dimensions: map[string]int{
			DimMetrics:          80,
			DimEconomicBuyer:    40,
			DimDecisionCriteria: 90,
			DimDecisionProcess:  50,
			DimPain:             85,
			DimChampion:         30,
		},
		Recommendations: []string{
			"Fix champion engagement",
			"Improve economic buyer access",
			"Clarify decision process timeline",
		},
	}

	got := PrioritizeRecommendations(res, 3)
	want := []string{
		"Fix champion engagement",
		"Improve economic buyer access",
		"Clarify decision process timeline",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PrioritizeRecommendations = %v, want %v", got, want)
	}
}

func TestPrioritizeRecommendationsSkipsUnmatchedDimensions(t *testing.T) {
	res := &ScoreResult{
		Framework: FrameworkMEDDIC,
		Dimensions: map[string]int{
			DimMetrics:          10,
			DimEconomicBuyer:    20,
			DimDecisionCriteria: 30,
			DimDecisionProcess:  90,
			DimPain:             95,
			DimChampion:         99,
		},
		Recommendations: []string{"Quantify ROI metrics with the buyer"},
	}

	got := PrioritizeRecommendations(res, 3)
	if len(got) != 1 || got[0] != "Quantify ROI metrics with the buyer" {
		t.Fatalf("unexpected recommendations: %v", got)
	}
}

func TestPrioritizeRecommendationsClaimsEachOnce(t *testing.T) {
	// One recommendation mentions two weak dimensions; it must only be
	// claimed once, by the weaker of the two.
	res := &ScoreResult{
		Framework: FrameworkMEDDIC,
		Dimensions: map[string]int{
			DimMetrics:          95,
			DimEconomicBuyer:    40,
			DimDecisionCriteria: 90,
			DimDecisionProcess:  85,
			DimPain:             80,
			DimChampion:         30,
		},
		Recommendations: []string{"Ask the champion to introduce the economic buyer"},
	}

	got := PrioritizeRecommendations(res, 3)
	if len(got) != 1 {
		t.Fatalf("expected single claim, got %v", got)
	}
}

func TestCriticalGaps(t *testing.T) {
	res := &ScoreResult{
		Framework: FrameworkMEDDIC,
		Dimensions: map[string]int{
			DimMetrics:          80,
			DimEconomicBuyer:    45,
			DimDecisionCriteria: 60,
			DimDecisionProcess:  50,
			DimPain:             85,
			DimChampion:         20,
		},
	}

	got := CriticalGaps(res)
	want := []string{"Economic Buyer (score: 45/100)", "Champion (score: 20/100)"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CriticalGaps = %v, want %v", got, want)
	}
}

func TestDimensionDisplayName(t *testing.T) {
	cases := map[string]string{
		"economic_buyer":    "Economic Buyer",
		"metrics":           "Metrics",
		"decision_process":  "Decision Process",
		"decision_criteria": "Decision Criteria",
		"timeline":          "Timeline",
	}
	for key, want := range cases {
		if got := DimensionDisplayName(key); got != want {
			t.Errorf("DimensionDisplayName(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestMEDDICScore(t *testing.T) {
	prov := &stubProvider{response: `{
		"overall_score": 72,
		"metrics_score": 80,
		"economic_buyer_score": 60,
		"decision_criteria_score": 70,
		"decision_process_score": 75,
		"pain_score": 85,
		"champion_score": 62,
		"gaps": ["Economic buyer not engaged"],
		"recommendations": ["Schedule meeting with CFO (economic buyer)"],
		"reasoning": "Strong pain, weak buyer access."
	}`}
	agent := &MEDDICAgent{provider: prov}

	res, err := agent.Score(context.Background(), models.DealSnapshot{ID: "d1", Stage: models.StageProposal})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Overall != 72 {
		t.Fatalf("overall = %d", res.Overall)
	}
	if res.Dimensions[DimChampion] != 62 {
		t.Fatalf("champion = %d", res.Dimensions[DimChampion])
	}
	if len(res.Recommendations) != 1 {
		t.Fatalf("recommendations = %v", res.Recommendations)
	}
}

func TestMEDDICMalformedOutput(t *testing.T) {
	agent := &MEDDICAgent{provider: &stubProvider{response: `{"overall_score": "seventy"}`}}

	_, err := agent.Score(context.Background(), models.DealSnapshot{ID: "d1", Stage: models.StageProposal})
	var se *ScoringError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScoringError, got %v", err)
	}
	if se.Framework != FrameworkMEDDIC {
		t.Fatalf("unexpected framework %q", se.Framework)
	}
}

func TestMEDDICProviderFailure(t *testing.T) {
	agent := &MEDDICAgent{provider: &stubProvider{err: errors.New("timeout")}}

	_, err := agent.Score(context.Background(), models.DealSnapshot{ID: "d1", Stage: models.StageProposal})
	var se *ScoringError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScoringError, got %v", err)
	}
}

func TestBANTScore(t *testing.T) {
	prov := &stubProvider{response: `{
		"overall_score": 75,
		"budget_score": 80,
		"authority_score": 70,
		"need_score": 85,
		"timeline_score": 65,
		"is_qualified": true,
		"gaps": ["Timeline is unclear"],
		"recommendations": ["Confirm budget cycle and decision timeline"],
		"reasoning": "Strong need and budget."
	}`}
	agent := &BANTAgent{provider: prov}

	res, err := agent.Score(context.Background(), models.DealSnapshot{ID: "d1", Stage: models.StageQualification})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Qualified == nil || !*res.Qualified {
		t.Fatalf("expected qualified deal")
	}
	if res.Dimensions[DimTimeline] != 65 {
		t.Fatalf("timeline = %d", res.Dimensions[DimTimeline])
	}

	gaps := CriticalGaps(res)
	if len(gaps) != 0 {
		t.Fatalf("no dimension under 50, got %v", gaps)
	}
}
