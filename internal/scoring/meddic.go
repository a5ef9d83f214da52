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

// MEDDICAgent scores deals against the MEDDIC methodology: Metrics,
// Economic Buyer, Decision Criteria, Decision Process, Pain, Champion.
type MEDDICAgent struct {
	provider        provider.Provider
	telemetry       *telemetry.Telemetry
	costPer1KInput  float64
	costPer1KOutput float64
}

func (a *MEDDICAgent) Name() string { return "meddic_agent" }

type meddicAnalysis struct {
	OverallScore          int      `json:"overall_score"`
	MetricsScore          int      `json:"metrics_score"`
	EconomicBuyerScore    int      `json:"economic_buyer_score"`
	DecisionCriteriaScore int      `json:"decision_criteria_score"`
	DecisionProcessScore  int      `json:"decision_process_score"`
	PainScore             int      `json:"pain_score"`
	ChampionScore         int      `json:"champion_score"`
	Gaps                  []string `json:"gaps"`
	Recommendations       []string `json:"recommendations"`
	Reasoning             string   `json:"reasoning"`
}

func (a *MEDDICAgent) Score(ctx context.Context, deal models.DealSnapshot) (*ScoreResult, error) {
	start := time.Now()
	raw, inTok, outTok, err := a.provider.CompleteJSON(ctx, meddicSystemPrompt, buildDealPrompt("MEDDIC", deal))
	a.recordEvent(ctx, start, inTok, outTok, err)
	if err != nil {
		return nil, &ScoringError{Framework: FrameworkMEDDIC, Err: err}
	}

	var analysis meddicAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, &ScoringError{Framework: FrameworkMEDDIC, Err: fmt.Errorf("malformed model output: %w", err)}
	}

	return &ScoreResult{
		Framework: FrameworkMEDDIC,
		Overall:   analysis.OverallScore,
		Dimensions: map[string]int{
			DimMetrics:          analysis.MetricsScore,
			DimEconomicBuyer:    analysis.EconomicBuyerScore,
			DimDecisionCriteria: analysis.DecisionCriteriaScore,
			DimDecisionProcess:  analysis.DecisionProcessScore,
			DimPain:             analysis.PainScore,
			DimChampion:         analysis.ChampionScore,
		},
		Gaps:            analysis.Gaps,
		Recommendations: analysis.Recommendations,
		Reasoning:       analysis.Reasoning,
	}, nil
}

func (a *MEDDICAgent) recordEvent(ctx context.Context, start time.Time, inTok, outTok int64, err error) {
	if a.telemetry == nil {
		return
	}
	event := telemetry.ScoringEvent{
		Framework:    FrameworkMEDDIC,
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

const meddicSystemPrompt = `You are a MEDDIC sales framework expert. Your role is to analyze sales deals and score them against the MEDDIC methodology.

MEDDIC Framework:
1. **Metrics** (0-100): Are there quantifiable metrics showing the value this solution will deliver? (ROI, cost savings, revenue increase, time saved)
2. **Economic Buyer** (0-100): Have we identified and engaged the person with budget authority? Are they actively involved?
3. **Decision Criteria** (0-100): Do we understand their evaluation criteria? Are we aligned with their requirements?
4. **Decision Process** (0-100): Do we know their buying process, timeline, and who's involved in the decision?
5. **Identify Pain** (0-100): Have we identified a clear, urgent business pain? Does the customer acknowledge it?
6. **Champion** (0-100): Do we have an internal advocate who will sell on our behalf? Are they influential and motivated?

Scoring Guidelines:
- 80-100: Excellent - This dimension is well-covered
- 60-79: Good - Some information, but could be stronger
- 40-59: Weak - Significant gaps that need attention
- 0-39: Critical - This dimension is missing or very weak

For each deal, provide:
1. A score (0-100) for each MEDDIC dimension
2. An overall score (weighted average)
3. A list of gaps (what's missing or weak)
4. Specific, actionable recommendations to improve weak areas
5. Your reasoning for the scores

Output must be valid JSON with this structure:
{
    "overall_score": 75,
    "metrics_score": 80,
    "economic_buyer_score": 60,
    "decision_criteria_score": 70,
    "decision_process_score": 75,
    "pain_score": 85,
    "champion_score": 70,
    "gaps": ["Economic buyer not actively engaged", "Champion's influence unclear"],
    "recommendations": ["Schedule meeting with CFO (economic buyer)", "Validate champion's relationship with decision makers"],
    "reasoning": "Deal shows strong pain and metrics, but economic buyer engagement is weak..."
}`

func buildDealPrompt(framework string, deal models.DealSnapshot) string {
	notes := "No notes available"
	description := "No description"
	if deal.RawData != nil {
		if v, ok := deal.RawData["notes"].(string); ok && v != "" {
			notes = v
		}
		if v, ok := deal.RawData["description"].(string); ok && v != "" {
			description = v
		}
	}
	rawJSON, _ := json.MarshalIndent(deal.RawData, "", "  ")

	return fmt.Sprintf(`Analyze this deal using the %s framework:

**Deal Information:**
- Deal Name: %s
- Company: %s
- Stage: %s
- Value: $%.2f

**Deal Context:**
%s

**Notes:**
%s

**Additional Data:**
%s

Provide a comprehensive %s analysis with scores, gaps, and actionable recommendations.`,
		framework, deal.DealName, deal.CompanyName, deal.Stage, deal.DealValue, description, notes, rawJSON, framework)
}
