// Package analyst implements the deal analysis loop: perceive the deal's
// current state, plan actions from intent and learned patterns, act on the
// plan, then reflect the outcome back into memory so future analyses plan
// better.
package analyst

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/salestack/dealsense/config"
	"github.com/salestack/dealsense/internal/analyst/telemetry"
	"github.com/salestack/dealsense/internal/memory"
	"github.com/salestack/dealsense/internal/scoring"
	"github.com/salestack/dealsense/models"
)

// Intent classifies what an analysis call should do for a deal.
type Intent string

const (
	IntentAnalyze   Intent = "analyze"
	IntentMonitor   Intent = "monitor"
	IntentAlert     Intent = "alert"
	IntentRecommend Intent = "recommend"
)

// ActionKind is the closed set of plan step kinds.
type ActionKind string

const (
	ActionRunScoring        ActionKind = "run_scoring_analysis"
	ActionGenerateRecs      ActionKind = "generate_recommendations"
	ActionCheckHealth       ActionKind = "check_health"
	ActionCreateAlert       ActionKind = "create_alert"
	ActionSuggestAction     ActionKind = "suggest_action"
	ActionPrioritizeActions ActionKind = "prioritize_actions"
	ActionRecoveryPlan      ActionKind = "generate_recovery_plan"
)

// PlanStep is one step of an action plan. Kind selects which of the typed
// parameter fields is meaningful.
type PlanStep struct {
	Kind      ActionKind
	AlertType string           // create_alert
	Pattern   *models.Pattern  // suggest_action
	Patterns  []models.Pattern // prioritize_actions, generate_recovery_plan
}

// ActionPlan is a pure value produced by plan and threaded into act. The
// loop never stores it.
type ActionPlan struct {
	Intent Intent
	Steps  []PlanStep
}

// StepKinds returns the comma-joined step kinds, used as the semantic
// memory action key for the whole analysis.
func (p ActionPlan) StepKinds() string {
	kinds := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		kinds[i] = string(s.Kind)
	}
	return strings.Join(kinds, ", ")
}

// DealState is the perceived state of a deal at the start of one analysis.
type DealState struct {
	DealID              string
	Snapshot            models.DealSnapshot
	Stage               string
	DaysInStage         int
	LastActivityDaysAgo int
	Intent              Intent
	History             []models.Interaction
}

// Alert flags a deal needing human attention.
type Alert struct {
	Type              string `json:"type"`
	Severity          string `json:"severity"`
	Message           string `json:"message"`
	RecommendedAction string `json:"recommended_action"`
}

// Insight is a suggestion derived from a learned pattern.
type Insight struct {
	Action      string  `json:"action"`
	SuccessRate float64 `json:"success_rate"`
	Confidence  float64 `json:"confidence"`
	LearnedRule string  `json:"learned_rule"`
}

// AnalysisResult is the accumulated outcome of one analyzeDeal call.
type AnalysisResult struct {
	DealID            string               `json:"deal_id"`
	AnalysisTimestamp time.Time            `json:"analysis_timestamp"`
	Intent            Intent               `json:"intent"`
	ActionsTaken      []string             `json:"actions_taken"`
	Score             *scoring.ScoreResult `json:"score,omitempty"`
	HealthStatus      string               `json:"health_status,omitempty"`
	Recommendations   []string             `json:"recommendations"`
	Alerts            []Alert              `json:"alerts"`
	LearnedInsights   []Insight            `json:"learned_insights"`
	Warnings          []string             `json:"warnings,omitempty"`
}

// Loop runs the perceive/plan/act/reflect cycle. It holds no per-call
// state; concurrent AnalyzeDeal calls share only the memory stores.
type Loop struct {
	memory    *memory.Memory
	scorer    scoring.Agent
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	planMinConfidence  float64
	minSuccessRate     float64
	bestLimit          int
	maxRecommendations int

	now func() time.Time
}

const agentName = "deal_analyst"

// NewLoop builds an analysis loop over the given memory facade and scoring
// agent.
func NewLoop(cfg *config.Config, mem *memory.Memory, scorer scoring.Agent, tele *telemetry.Telemetry) *Loop {
	return &Loop{
		memory:             mem,
		scorer:             scorer,
		telemetry:          tele,
		logger:             log.New(log.Writer(), "[ANALYST] ", log.LstdFlags),
		planMinConfidence:  cfg.Memory.Semantic.PlanMinConfidence,
		minSuccessRate:     cfg.Memory.Semantic.MinSuccessRate,
		bestLimit:          cfg.Memory.Semantic.BestLimit,
		maxRecommendations: cfg.Scoring.MaxRecommendations,
		now:                time.Now,
	}
}

// AnalyzeDeal runs the full loop for one snapshot. Perceive and plan
// failures abort the call; a scoring failure inside act degrades the result
// instead; a reflect failure is reported as a warning on the result, never
// discarding what act produced.
func (l *Loop) AnalyzeDeal(ctx context.Context, snapshot models.DealSnapshot) (*AnalysisResult, error) {
	start := l.now()
	if err := snapshot.Validate(); err != nil {
		l.recordAnalysis(ctx, start, snapshot.ID, "", nil, err)
		return nil, err
	}

	state, err := l.perceive(ctx, snapshot)
	if err != nil {
		l.recordAnalysis(ctx, start, snapshot.ID, "", nil, err)
		return nil, fmt.Errorf("perceive: %w", err)
	}

	plan, err := l.plan(ctx, state)
	if err != nil {
		l.recordAnalysis(ctx, start, snapshot.ID, state.Intent, nil, err)
		return nil, fmt.Errorf("plan: %w", err)
	}

	result := l.act(ctx, plan, state)

	if err := l.reflect(ctx, state, plan, result); err != nil {
		l.logger.Printf("reflect failed for deal %s: %v", state.DealID, err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("reflect: %v", err))
	}

	l.recordAnalysis(ctx, start, snapshot.ID, state.Intent, result, nil)
	return result, nil
}

// perceive computes activity metrics, recalls recent history and classifies
// intent.
func (l *Loop) perceive(ctx context.Context, snapshot models.DealSnapshot) (DealState, error) {
	now := l.now()
	lastActivityDaysAgo := 0
	if !snapshot.LastUpdatedAt.IsZero() {
		lastActivityDaysAgo = int(now.Sub(snapshot.LastUpdatedAt).Hours() / 24)
	}

	history, err := l.memory.RecallDealHistory(ctx, snapshot.ID, 5)
	if err != nil {
		return DealState{}, err
	}

	return DealState{
		DealID:   snapshot.ID,
		Snapshot: snapshot,
		Stage:    snapshot.Stage,
		// Days in stage approximated by days since last update.
		DaysInStage:         lastActivityDaysAgo,
		LastActivityDaysAgo: lastActivityDaysAgo,
		Intent:              classifyIntent(snapshot.Stage, history, lastActivityDaysAgo, now),
		History:             history,
	}, nil
}

// classifyIntent decides what to do with a deal. The order of checks
// matters: a stalled deal raises an alert regardless of history.
func classifyIntent(stage string, history []models.Interaction, lastActivityDaysAgo int, now time.Time) Intent {
	if lastActivityDaysAgo > 10 && !models.IsTerminalStage(stage) {
		return IntentAlert
	}
	if len(history) == 0 {
		return IntentAnalyze
	}
	daysSinceAnalysis := int(now.Sub(history[0].CreatedAt).Hours() / 24)
	if daysSinceAnalysis < 3 {
		return IntentMonitor
	}
	return IntentAnalyze
}

// plan maps the perceived intent to a fixed sequence of steps, informed by
// the patterns learned for this stage.
func (l *Loop) plan(ctx context.Context, state DealState) (ActionPlan, error) {
	strategies, err := l.memory.BestStrategiesFor(ctx, state.Stage, l.planMinConfidence, l.minSuccessRate, l.bestLimit)
	if err != nil {
		return ActionPlan{}, err
	}

	plan := ActionPlan{Intent: state.Intent}
	switch state.Intent {
	case IntentAnalyze:
		plan.Steps = append(plan.Steps,
			PlanStep{Kind: ActionRunScoring},
			PlanStep{Kind: ActionGenerateRecs})
	case IntentMonitor:
		plan.Steps = append(plan.Steps, PlanStep{Kind: ActionCheckHealth})
		if len(strategies) > 0 {
			best := strategies[0]
			plan.Steps = append(plan.Steps, PlanStep{Kind: ActionSuggestAction, Pattern: &best})
		}
	case IntentAlert:
		plan.Steps = append(plan.Steps,
			PlanStep{Kind: ActionRunScoring},
			PlanStep{Kind: ActionCreateAlert, AlertType: "deal_stalled"},
			PlanStep{Kind: ActionRecoveryPlan, Patterns: strategies})
	case IntentRecommend:
		plan.Steps = append(plan.Steps,
			PlanStep{Kind: ActionRunScoring},
			PlanStep{Kind: ActionPrioritizeActions, Patterns: strategies})
	}
	return plan, nil
}

// act executes the plan steps in order, accumulating into the result. A
// scoring failure degrades the result (no score) but later steps still run.
func (l *Loop) act(ctx context.Context, plan ActionPlan, state DealState) *AnalysisResult {
	result := &AnalysisResult{
		DealID:            state.DealID,
		AnalysisTimestamp: l.now(),
		Intent:            state.Intent,
		ActionsTaken:      []string{},
		Recommendations:   []string{},
		Alerts:            []Alert{},
		LearnedInsights:   []Insight{},
	}

	for _, step := range plan.Steps {
		switch step.Kind {
		case ActionRunScoring:
			score, err := l.scorer.Score(ctx, state.Snapshot)
			if err != nil {
				l.logger.Printf("scoring failed for deal %s: %v", state.DealID, err)
				result.Warnings = append(result.Warnings, fmt.Sprintf("scoring: %v", err))
				continue
			}
			result.Score = score
			result.ActionsTaken = append(result.ActionsTaken, fmt.Sprintf("%s analysis completed", strings.ToUpper(score.Framework)))

		case ActionGenerateRecs:
			if result.Score == nil {
				continue
			}
			result.Recommendations = scoring.PrioritizeRecommendations(result.Score, l.maxRecommendations)
			result.ActionsTaken = append(result.ActionsTaken, "Generated prioritized recommendations")

		case ActionCheckHealth:
			result.HealthStatus = assessHealth(state.LastActivityDaysAgo)
			result.ActionsTaken = append(result.ActionsTaken, "Health check completed")

		case ActionCreateAlert:
			result.Alerts = append(result.Alerts, Alert{
				Type:              step.AlertType,
				Severity:          "high",
				Message:           fmt.Sprintf("Deal %s has stalled for %d days", state.Snapshot.DealName, state.LastActivityDaysAgo),
				RecommendedAction: "Schedule follow-up call with decision maker",
			})
			result.ActionsTaken = append(result.ActionsTaken, fmt.Sprintf("Alert created: %s", step.AlertType))

		case ActionSuggestAction:
			if step.Pattern == nil {
				continue
			}
			result.LearnedInsights = append(result.LearnedInsights, insightFromPattern(*step.Pattern))
			result.ActionsTaken = append(result.ActionsTaken, "Applied learned strategy")

		case ActionPrioritizeActions:
			if len(step.Patterns) == 0 {
				continue
			}
			for _, p := range topPatterns(step.Patterns, 3) {
				result.LearnedInsights = append(result.LearnedInsights, insightFromPattern(p))
			}
			result.ActionsTaken = append(result.ActionsTaken, "Prioritized actions using learned patterns")

		case ActionRecoveryPlan:
			if len(step.Patterns) == 0 {
				continue
			}
			for _, p := range topPatterns(step.Patterns, 3) {
				result.LearnedInsights = append(result.LearnedInsights, insightFromPattern(p))
			}
			result.ActionsTaken = append(result.ActionsTaken, "Generated recovery plan from learned patterns")

		default:
			l.logger.Printf("unhandled action kind %q for deal %s", step.Kind, state.DealID)
			result.Warnings = append(result.Warnings, fmt.Sprintf("unhandled action kind %q", step.Kind))
		}
	}
	return result
}

func topPatterns(patterns []models.Pattern, n int) []models.Pattern {
	if len(patterns) > n {
		return patterns[:n]
	}
	return patterns
}

func insightFromPattern(p models.Pattern) Insight {
	return Insight{
		Action:      p.Action,
		SuccessRate: p.SuccessRate,
		Confidence:  p.ConfidenceScore,
		LearnedRule: p.LearnedRule,
	}
}

func assessHealth(lastActivityDaysAgo int) string {
	switch {
	case lastActivityDaysAgo > 14:
		return "critical"
	case lastActivityDaysAgo > 7:
		return "at_risk"
	default:
		return "healthy"
	}
}

// reflect judges the analysis and writes the experience into both memory
// stores, which is where learning happens.
func (l *Loop) reflect(ctx context.Context, state DealState, plan ActionPlan, result *AnalysisResult) error {
	success := evaluateSuccess(result)

	overall := "N/A"
	if result.Score != nil {
		overall = fmt.Sprintf("%d", result.Score.Overall)
	}

	metadata := map[string]interface{}{
		"intent":                state.Intent,
		"recommendations_count": len(result.Recommendations),
	}
	if result.Score != nil {
		metadata["overall_score"] = result.Score.Overall
		metadata["framework"] = result.Score.Framework
	}

	_, err := l.memory.RememberInteraction(ctx, models.Interaction{
		ID:              uuid.NewString(),
		DealID:          state.DealID,
		InteractionType: "analysis",
		AgentName:       agentName,
		Context:         fmt.Sprintf("Deal in %s stage, %d days in stage", state.Stage, state.DaysInStage),
		ActionTaken:     plan.StepKinds(),
		Outcome:         fmt.Sprintf("Analysis completed. Score: %s", overall),
		Success:         success,
		Metadata:        metadata,
	})
	return err
}

// evaluateSuccess is a heuristic stand-in for real outcome feedback: any
// recommendation, or an overall score above 60, counts as a success.
func evaluateSuccess(result *AnalysisResult) bool {
	if len(result.Recommendations) > 0 {
		return true
	}
	return result.Score != nil && result.Score.Overall > 60
}

func (l *Loop) recordAnalysis(ctx context.Context, start time.Time, dealID string, intent Intent, result *AnalysisResult, err error) {
	if l.telemetry == nil {
		return
	}
	event := telemetry.AnalysisEvent{
		ID:        uuid.NewString(),
		DealID:    dealID,
		Intent:    string(intent),
		StartTime: start,
		EndTime:   l.now(),
		Duration:  l.now().Sub(start),
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if result != nil {
		event.Recommendations = len(result.Recommendations)
		event.Alerts = len(result.Alerts)
		for _, w := range result.Warnings {
			if strings.HasPrefix(w, "reflect:") {
				event.ReflectFailed = true
			}
		}
	}
	l.telemetry.RecordAnalysisEvent(ctx, event)
}
