package analyst

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/salestack/dealsense/internal/memory"
	"github.com/salestack/dealsense/internal/scoring"
	"github.com/salestack/dealsense/models"
)

type stubScorer struct {
	result *scoring.ScoreResult
	err    error
	calls  int
}

func (s *stubScorer) Name() string { return "stub_scorer" }

func (s *stubScorer) Score(ctx context.Context, deal models.DealSnapshot) (*scoring.ScoreResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func goodScore() *scoring.ScoreResult {
	return &scoring.ScoreResult{
		Framework: scoring.FrameworkMEDDIC,
		Overall:   72,
		Dimensions: map[string]int{
			scoring.DimMetrics:          80,
			scoring.DimEconomicBuyer:    40,
			scoring.DimDecisionCriteria: 90,
			scoring.DimDecisionProcess:  50,
			scoring.DimPain:             85,
			scoring.DimChampion:         30,
		},
		Gaps: []string{"Economic buyer not engaged"},
		Recommendations: []string{
			"Fix champion engagement",
			"Improve economic buyer access",
			"Clarify decision process timeline",
		},
		Reasoning: "test",
	}
}

func newTestLoop(mem *memory.Memory, scorer scoring.Agent, now time.Time) *Loop {
	return &Loop{
		memory:             mem,
		scorer:             scorer,
		logger:             log.New(log.Writer(), "[ANALYST] ", log.LstdFlags),
		planMinConfidence:  0.3,
		minSuccessRate:     0.6,
		bestLimit:          5,
		maxRecommendations: 3,
		now:                func() time.Time { return now },
	}
}

func snapshotWithActivity(daysAgo int, stage string, now time.Time) models.DealSnapshot {
	return models.DealSnapshot{
		ID:            "deal-1",
		DealName:      "Acme Renewal",
		CompanyName:   "Acme",
		DealValue:     50000,
		Stage:         stage,
		LastUpdatedAt: now.Add(-time.Duration(daysAgo)*24*time.Hour - time.Hour),
	}
}

func TestIntentStalledDealAlerts(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)

	state, err := l.perceive(context.Background(), snapshotWithActivity(11, models.StageNegotiation, now))
	if err != nil {
		t.Fatalf("perceive: %v", err)
	}
	if state.Intent != IntentAlert {
		t.Fatalf("intent = %s, want alert", state.Intent)
	}
	if state.LastActivityDaysAgo != 11 {
		t.Fatalf("lastActivityDaysAgo = %d", state.LastActivityDaysAgo)
	}
}

func TestIntentTerminalStageNeverAlerts(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)

	state, err := l.perceive(context.Background(), snapshotWithActivity(30, models.StageClosedWon, now))
	if err != nil {
		t.Fatalf("perceive: %v", err)
	}
	if state.Intent != IntentAnalyze {
		t.Fatalf("intent = %s, want analyze for closed deal", state.Intent)
	}
}

func TestIntentEmptyHistoryAnalyzes(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)

	state, _ := l.perceive(context.Background(), snapshotWithActivity(2, models.StageProposal, now))
	if state.Intent != IntentAnalyze {
		t.Fatalf("intent = %s, want analyze", state.Intent)
	}
}

func TestIntentRecentHistoryMonitors(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	_, err := mem.RememberInteraction(context.Background(), models.Interaction{
		DealID:      "deal-1",
		Context:     "Deal in proposal stage, 2 days in stage",
		ActionTaken: "run_scoring_analysis",
		CreatedAt:   now.Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("RememberInteraction: %v", err)
	}

	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)
	state, _ := l.perceive(context.Background(), snapshotWithActivity(2, models.StageProposal, now))
	if state.Intent != IntentMonitor {
		t.Fatalf("intent = %s, want monitor", state.Intent)
	}
}

func TestIntentStaleHistoryReanalyzes(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	_, _ = mem.RememberInteraction(context.Background(), models.Interaction{
		DealID:    "deal-1",
		Context:   "c",
		CreatedAt: now.Add(-5 * 24 * time.Hour),
	})

	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)
	state, _ := l.perceive(context.Background(), snapshotWithActivity(2, models.StageProposal, now))
	if state.Intent != IntentAnalyze {
		t.Fatalf("intent = %s, want analyze", state.Intent)
	}
}

func TestPlanBranches(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)
	ctx := context.Background()

	cases := []struct {
		intent Intent
		kinds  []ActionKind
	}{
		{IntentAnalyze, []ActionKind{ActionRunScoring, ActionGenerateRecs}},
		{IntentMonitor, []ActionKind{ActionCheckHealth}},
		{IntentAlert, []ActionKind{ActionRunScoring, ActionCreateAlert, ActionRecoveryPlan}},
		{IntentRecommend, []ActionKind{ActionRunScoring, ActionPrioritizeActions}},
	}
	for _, tc := range cases {
		plan, err := l.plan(ctx, DealState{DealID: "d", Stage: models.StageProposal, Intent: tc.intent})
		if err != nil {
			t.Fatalf("plan(%s): %v", tc.intent, err)
		}
		if len(plan.Steps) != len(tc.kinds) {
			t.Fatalf("plan(%s) = %d steps, want %d", tc.intent, len(plan.Steps), len(tc.kinds))
		}
		for i, k := range tc.kinds {
			if plan.Steps[i].Kind != k {
				t.Fatalf("plan(%s)[%d] = %s, want %s", tc.intent, i, plan.Steps[i].Kind, k)
			}
		}
	}
}

func TestPlanMonitorSuggestsLearnedStrategy(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	ctx := context.Background()

	// Build a pattern confident and successful enough to surface in plans.
	for i := 0; i < 40; i++ {
		_, _ = mem.Observe(ctx, models.StageProposal, "schedule demo", true)
	}

	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)
	plan, err := l.plan(ctx, DealState{DealID: "d", Stage: models.StageProposal, Intent: IntentMonitor})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Steps) != 2 || plan.Steps[1].Kind != ActionSuggestAction {
		t.Fatalf("expected suggest_action step, got %+v", plan.Steps)
	}
	if plan.Steps[1].Pattern == nil || plan.Steps[1].Pattern.Action != "schedule demo" {
		t.Fatalf("suggest step missing pattern")
	}
}

func TestAnalyzeDealFullCycle(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	scorer := &stubScorer{result: goodScore()}
	l := newTestLoop(mem, scorer, now)

	result, err := l.AnalyzeDeal(context.Background(), snapshotWithActivity(2, models.StageProposal, now))
	if err != nil {
		t.Fatalf("AnalyzeDeal: %v", err)
	}
	if result.Intent != IntentAnalyze {
		t.Fatalf("intent = %s", result.Intent)
	}
	if result.Score == nil || result.Score.Overall != 72 {
		t.Fatalf("missing score: %+v", result.Score)
	}
	if len(result.Recommendations) != 3 {
		t.Fatalf("recommendations = %v", result.Recommendations)
	}
	if result.Recommendations[0] != "Fix champion engagement" {
		t.Fatalf("weakest dimension first, got %v", result.Recommendations)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}

	// Reflect wrote the experience back into both stores.
	history, _ := mem.RecallDealHistory(context.Background(), "deal-1", 5)
	if len(history) != 1 {
		t.Fatalf("expected 1 interaction, got %d", len(history))
	}
	in := history[0]
	if in.Context != "Deal in proposal stage, 2 days in stage" {
		t.Fatalf("unexpected context %q", in.Context)
	}
	if in.ActionTaken != "run_scoring_analysis, generate_recommendations" {
		t.Fatalf("unexpected action %q", in.ActionTaken)
	}
	if !strings.Contains(in.Outcome, "72") {
		t.Fatalf("outcome should embed score, got %q", in.Outcome)
	}
	if !in.Success {
		t.Fatal("interaction with recommendations must be judged successful")
	}

	patterns, _ := mem.Patterns(context.Background(), 0, "observation_count", 10)
	if len(patterns) != 1 || patterns[0].ObservationCount != 1 {
		t.Fatalf("expected semantic observation, got %+v", patterns)
	}
}

func TestAnalyzeDealScoringFailureDegrades(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	scorer := &stubScorer{err: &scoring.ScoringError{Framework: scoring.FrameworkMEDDIC, Err: errors.New("malformed model output")}}
	l := newTestLoop(mem, scorer, now)

	// Stalled deal: alert plan runs scoring, then alert and recovery steps.
	result, err := l.AnalyzeDeal(context.Background(), snapshotWithActivity(12, models.StageNegotiation, now))
	if err != nil {
		t.Fatalf("AnalyzeDeal must not fail on scoring errors: %v", err)
	}
	if result.Score != nil {
		t.Fatalf("expected degraded result without score")
	}
	if len(result.Alerts) != 1 {
		t.Fatalf("alert step must still run, got %+v", result.Alerts)
	}
	if result.Alerts[0].Message != "Deal Acme Renewal has stalled for 12 days" {
		t.Fatalf("unexpected alert message %q", result.Alerts[0].Message)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.HasPrefix(w, "scoring:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected scoring warning, got %v", result.Warnings)
	}

	// Reflect still ran: no recommendations and no score means failure.
	history, _ := mem.RecallDealHistory(context.Background(), "deal-1", 5)
	if len(history) != 1 {
		t.Fatalf("expected reflected interaction")
	}
	if history[0].Success {
		t.Fatal("degraded analysis must be judged unsuccessful")
	}
	if !strings.Contains(history[0].Outcome, "N/A") {
		t.Fatalf("outcome should embed N/A, got %q", history[0].Outcome)
	}
}

type reflectFailingSemantic struct {
	*memory.InMemorySemantic
}

func (s *reflectFailingSemantic) Observe(ctx context.Context, c, a string, success bool) (models.Pattern, error) {
	return models.Pattern{}, &models.StorageError{Op: "record_observation", Err: errors.New("down")}
}

func TestAnalyzeDealReflectFailureWarnsOnly(t *testing.T) {
	now := time.Now()
	ep := memory.NewInMemoryEpisodic(100)
	mem := memory.New(ep, ep, &reflectFailingSemantic{memory.NewInMemorySemantic()})
	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)

	result, err := l.AnalyzeDeal(context.Background(), snapshotWithActivity(2, models.StageProposal, now))
	if err != nil {
		t.Fatalf("reflect failure must not fail the call: %v", err)
	}
	if result.Score == nil || len(result.Recommendations) != 3 {
		t.Fatalf("act result must survive reflect failure: %+v", result)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.HasPrefix(w, "reflect:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected reflect warning, got %v", result.Warnings)
	}
}

type failingEpisodic struct {
	*memory.InMemoryEpisodic
}

func (f *failingEpisodic) History(ctx context.Context, dealID string, limit int) ([]models.Interaction, error) {
	return nil, &models.StorageError{Op: "list_interactions", Err: errors.New("down")}
}

func TestAnalyzeDealPerceiveFailurePropagates(t *testing.T) {
	now := time.Now()
	ep := &failingEpisodic{memory.NewInMemoryEpisodic(100)}
	mem := memory.New(ep, ep.InMemoryEpisodic, memory.NewInMemorySemantic())
	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)

	_, err := l.AnalyzeDeal(context.Background(), snapshotWithActivity(2, models.StageProposal, now))
	var se *models.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestAnalyzeDealInvalidSnapshot(t *testing.T) {
	now := time.Now()
	mem := memory.NewInMemory(100)
	l := newTestLoop(mem, &stubScorer{result: goodScore()}, now)

	_, err := l.AnalyzeDeal(context.Background(), models.DealSnapshot{Stage: models.StageProposal})
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestHealthThresholds(t *testing.T) {
	cases := []struct {
		days int
		want string
	}{
		{0, "healthy"},
		{7, "healthy"},
		{8, "at_risk"},
		{14, "at_risk"},
		{15, "critical"},
	}
	for _, tc := range cases {
		if got := assessHealth(tc.days); got != tc.want {
			t.Errorf("assessHealth(%d) = %q, want %q", tc.days, got, tc.want)
		}
	}
}

func TestEvaluateSuccess(t *testing.T) {
	if !evaluateSuccess(&AnalysisResult{Recommendations: []string{"r"}}) {
		t.Fatal("recommendations imply success")
	}
	if !evaluateSuccess(&AnalysisResult{Score: &scoring.ScoreResult{Overall: 61}}) {
		t.Fatal("score above 60 implies success")
	}
	if evaluateSuccess(&AnalysisResult{Score: &scoring.ScoreResult{Overall: 60}}) {
		t.Fatal("score of exactly 60 is not a success")
	}
	if evaluateSuccess(&AnalysisResult{}) {
		t.Fatal("empty result is not a success")
	}
}
