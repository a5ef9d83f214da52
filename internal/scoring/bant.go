package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/salestack/dealsense/internal/analyst/telemetry"
	"github.com/salestack/dealsense/models"
	"github.com/salestack/dealsense/provider"
)

// BANTAgent scores deals against the BANT framework: Budget, Authority,
// Need, Timeline. Simpler than MEDDIC, suited to early-stage qualification.
type BANTAgent struct {
	provider        provider.Provider
	telemetry       *telemetry.Telemetry
	costPer1KInput  float64
	costPer1KOutput float64
}

func (a *BANTAgent) Name() string { return "bant_agent" }

type bantAnalysis struct {
	OverallScore    int      `json:"overall_score"`
	BudgetScore     int      `json:"budget_score"`
	AuthorityScore  int      `json:"authority_score"`
	NeedScore       int      `json:"need_score"`
	TimelineScore   int      `json:"timeline_score"`
	IsQualified     bool     `json:"is_qualified"`
	Gaps            []string `json:"gaps"`
	Recommendations []string `json:"recommendations"`
	Reasoning       string   `json:"reasoning"`
}

func (a *BANTAgent) Score(ctx context.Context, deal models.DealSnapshot) (*ScoreResult, error) {
	start := time.Now()
	raw, inTok, outTok, err := a.provider.CompleteJSON(ctx, bantSystemPrompt, buildDealPrompt("BANT", deal))
	a.recordEvent(ctx, start, inTok, outTok, err)
	if err != nil {
		return nil, &ScoringError{Framework: FrameworkBANT, Err: err}
	}

	var analysis bantAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, &ScoringError{Framework: FrameworkBANT, Err: fmt.Errorf("malformed model output: %w", err)}
	}

	qualified := analysis.IsQualified
	return &ScoreResult{
		Framework: FrameworkBANT,
		Overall:   analysis.OverallScore,
		Dimensions: map[string]int{
			DimBudget:    analysis.BudgetScore,
			DimAuthority: analysis.AuthorityScore,
			DimNeed:      analysis.NeedScore,
			DimTimeline:  analysis.TimelineScore,
		},
		Gaps:            analysis.Gaps,
		Recommendations: analysis.Recommendations,
		Reasoning:       analysis.Reasoning,
		Qualified:       &qualified,
	}, nil
}

func (a *BANTAgent) recordEvent(ctx context.Context, start time.Time, inTok, outTok int64, err error) {
	if a.telemetry == nil {
		return
	}
	event := telemetry.ScoringEvent{
		Framework:    FrameworkBANT,
		Model:        a.provider.Model(),
		Duration:     time.Since(start),
		Success:      err == nil,
		InputTokens:  inTok,
		OutputTokens: outTok,
		Cost:         a.telemetry.CalculateCost(inTok, outTok, a.costPer1KInput, a.costPer1KOutput),
	}
	if err != nil {
		event.Error = err.Error()
	}
	a.telemetry.RecordScoringEvent(ctx, event)
}

const bantSystemPrompt = `You are a BANT qualification expert. Analyze deals using the BANT framework:

**BANT Framework:**
1. **Budget** (0-100): Does the prospect have budget allocated? Can they afford our solution?
2. **Authority** (0-100): Are we talking to the decision maker? Do they have authority to buy?
3. **Need** (0-100): Is there a clear, urgent need for our solution?
4. **Timeline** (0-100): Is there a defined timeline for making a decision?

Provide scores, qualification status (qualified/unqualified), and recommendations.

Output JSON:
{
    "overall_score": 75,
    "budget_score": 80,
    "authority_score": 70,
    "need_score": 85,
    "timeline_score": 65,
    "is_qualified": true,
    "gaps": ["Timeline is unclear"],
    "recommendations": ["Confirm budget cycle and decision timeline"],
    "reasoning": "Strong need and budget, but timeline needs clarification..."
}`
