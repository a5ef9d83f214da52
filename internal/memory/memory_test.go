package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/salestack/dealsense/models"
)

func TestPatternKeyNormalization(t *testing.T) {
	got := models.PatternKey("Stage:Proposal High Value", "Schedule Demo")
	want := "stage:proposal_high_value_schedule_demo"
	if got != want {
		t.Fatalf("PatternKey = %q, want %q", got, want)
	}
}

func TestEpisodicCapacityEviction(t *testing.T) {
	ep := NewInMemoryEpisodic(5)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := ep.Record(ctx, models.Interaction{
			DealID:  fmt.Sprintf("deal-%d", i%2),
			Context: fmt.Sprintf("ctx-%d", i),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	n, _ := ep.Count(ctx)
	if n != 5 {
		t.Fatalf("expected capacity 5, got %d", n)
	}

	// Eviction is global and oldest-first: ctx-0..ctx-2 are gone.
	got, _ := ep.Similar(ctx, "ctx-0", 10)
	if len(got) != 0 {
		t.Fatalf("expected oldest entries evicted, found %+v", got)
	}
	got, _ = ep.Similar(ctx, "ctx-7", 10)
	if len(got) != 1 {
		t.Fatalf("expected newest entry retained")
	}
}

func TestHistoryIsPerDealMostRecentFirst(t *testing.T) {
	ep := NewInMemoryEpisodic(100)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = ep.Record(ctx, models.Interaction{DealID: "a", Context: fmt.Sprintf("a-%d", i)})
		_, _ = ep.Record(ctx, models.Interaction{DealID: "b", Context: fmt.Sprintf("b-%d", i)})
	}

	got, err := ep.History(ctx, "a", 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Context != "a-3" || got[2].Context != "a-1" {
		t.Fatalf("unexpected order: %s .. %s", got[0].Context, got[2].Context)
	}
	for _, in := range got {
		if in.DealID != "a" {
			t.Fatalf("history leaked across deals: %+v", in)
		}
	}
}

func TestObserveStatistics(t *testing.T) {
	sem := NewInMemorySemantic()
	ctx := context.Background()

	p, err := sem.Observe(ctx, "stage:proposal", "schedule demo", true)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if p.SuccessRate != 1.0 {
		t.Fatalf("expected success_rate 1.0, got %v", p.SuccessRate)
	}
	if p.ConfidenceScore != 0.01 {
		t.Fatalf("expected initial confidence 0.01, got %v", p.ConfidenceScore)
	}
	if !strings.Contains(p.LearnedRule, "Early pattern") {
		t.Fatalf("unexpected learned rule %q", p.LearnedRule)
	}

	p, _ = sem.Observe(ctx, "stage:proposal", "schedule demo", false)
	if p.ObservationCount != 2 || p.SuccessRate != 0.5 {
		t.Fatalf("expected 2 observations at 0.5, got %+v", p)
	}
	if p.ConfidenceScore != 0.02 {
		t.Fatalf("expected confidence 0.02, got %v", p.ConfidenceScore)
	}
}

func TestConfidenceCapsAtOne(t *testing.T) {
	sem := NewInMemorySemantic()
	ctx := context.Background()

	var p models.Pattern
	for i := 0; i < 150; i++ {
		p, _ = sem.Observe(ctx, "c", "a", true)
	}
	if p.ConfidenceScore != 1.0 {
		t.Fatalf("expected confidence capped at 1.0, got %v", p.ConfidenceScore)
	}
	if p.ObservationCount != 150 {
		t.Fatalf("expected 150 observations, got %d", p.ObservationCount)
	}
}

func TestConcurrentObservationsLoseNothing(t *testing.T) {
	sem := NewInMemorySemantic()
	ctx := context.Background()

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := sem.Observe(ctx, "stage:negotiation", "send pricing", success); err != nil {
					t.Errorf("Observe: %v", err)
				}
			}
		}(w%2 == 0)
	}
	wg.Wait()

	p, ok, _ := sem.Get(ctx, models.PatternKey("stage:negotiation", "send pricing"))
	if !ok {
		t.Fatal("pattern missing")
	}
	if p.ObservationCount != workers*perWorker {
		t.Fatalf("lost observations: got %d, want %d", p.ObservationCount, workers*perWorker)
	}
	if p.SuccessCount+p.FailureCount != p.ObservationCount {
		t.Fatalf("counter drift: %+v", p)
	}
	if p.SuccessRate != 0.5 {
		t.Fatalf("expected success_rate 0.5, got %v", p.SuccessRate)
	}
}

func TestBestActionsFiltersAndSorts(t *testing.T) {
	sem := NewInMemorySemantic()
	ctx := context.Background()

	// Strong pattern: 100 successes.
	for i := 0; i < 100; i++ {
		_, _ = sem.Observe(ctx, "stage:proposal", "strong", true)
	}
	// Weak pattern: mostly failures.
	for i := 0; i < 100; i++ {
		_, _ = sem.Observe(ctx, "stage:proposal", "weak", i%4 == 0)
	}
	// New pattern: one success but no confidence yet.
	_, _ = sem.Observe(ctx, "stage:proposal", "unproven", true)
	// Different context.
	for i := 0; i < 100; i++ {
		_, _ = sem.Observe(ctx, "stage:negotiation", "elsewhere", true)
	}

	got, err := sem.BestActions(ctx, "stage:proposal", 0.3, 0.6, 5)
	if err != nil {
		t.Fatalf("BestActions: %v", err)
	}
	if len(got) != 1 || got[0].Action != "strong" {
		t.Fatalf("unexpected best actions: %+v", got)
	}
}

func TestTiedPatternsReturnStableOrder(t *testing.T) {
	sem := NewInMemorySemantic()
	ctx := context.Background()

	// Six patterns with identical statistics: rate 1.0, confidence 0.4.
	actions := []string{"echo", "alpha", "delta", "bravo", "foxtrot", "charlie"}
	for _, a := range actions {
		for i := 0; i < 40; i++ {
			_, _ = sem.Observe(ctx, "stage:proposal", a, true)
		}
	}

	keysOf := func(ps []models.Pattern) string {
		keys := make([]string, len(ps))
		for i, p := range ps {
			keys[i] = p.PatternKey
		}
		return strings.Join(keys, ",")
	}

	first, err := sem.BestActions(ctx, "stage:proposal", 0.3, 0.6, 6)
	if err != nil {
		t.Fatalf("BestActions: %v", err)
	}
	if len(first) != 6 {
		t.Fatalf("expected all 6 patterns, got %d", len(first))
	}
	firstList, _ := sem.List(ctx, 0.3, "success_rate", 6)
	firstTop, _ := sem.Top(ctx, 0.3, 6)

	// Identical queries with no intervening writes must return identical
	// orders regardless of map iteration.
	for i := 0; i < 20; i++ {
		got, _ := sem.BestActions(ctx, "stage:proposal", 0.3, 0.6, 6)
		if keysOf(got) != keysOf(first) {
			t.Fatalf("BestActions order changed: %s vs %s", keysOf(got), keysOf(first))
		}
		got, _ = sem.List(ctx, 0.3, "success_rate", 6)
		if keysOf(got) != keysOf(firstList) {
			t.Fatalf("List order changed: %s vs %s", keysOf(got), keysOf(firstList))
		}
		got, _ = sem.Top(ctx, 0.3, 6)
		if keysOf(got) != keysOf(firstTop) {
			t.Fatalf("Top order changed: %s vs %s", keysOf(got), keysOf(firstTop))
		}
	}

	// Ties break on pattern_key ascending.
	if first[0].Action != "alpha" || first[5].Action != "foxtrot" {
		t.Fatalf("unexpected tiebreak order: %s", keysOf(first))
	}
}

type failingEpisodic struct{ InMemoryEpisodic }

func (f *failingEpisodic) Record(ctx context.Context, in models.Interaction) (models.Interaction, error) {
	return models.Interaction{}, &models.StorageError{Op: "insert_interaction", Err: errors.New("down")}
}

type failingSemantic struct{ InMemorySemantic }

func (f *failingSemantic) Observe(ctx context.Context, c, a string, success bool) (models.Pattern, error) {
	return models.Pattern{}, &models.StorageError{Op: "record_observation", Err: errors.New("down")}
}

func TestRememberInteractionEpisodicFailureSkipsSemantic(t *testing.T) {
	ep := &failingEpisodic{}
	sem := NewInMemorySemantic()
	m := New(ep, ep, sem)

	_, err := m.RememberInteraction(context.Background(), models.Interaction{DealID: "d", Context: "c", ActionTaken: "a"})
	if err == nil || !strings.Contains(err.Error(), "episodic store") {
		t.Fatalf("expected episodic failure, got %v", err)
	}
	if n, _ := sem.CountConfident(context.Background(), 0); n != 0 {
		t.Fatalf("semantic store must not be touched after episodic failure")
	}
}

func TestRememberInteractionSemanticFailureNamed(t *testing.T) {
	ep := NewInMemoryEpisodic(10)
	m := New(ep, ep, &failingSemantic{})

	_, err := m.RememberInteraction(context.Background(), models.Interaction{DealID: "d", Context: "c", ActionTaken: "a"})
	if err == nil || !strings.Contains(err.Error(), "semantic store") {
		t.Fatalf("expected semantic failure, got %v", err)
	}
	// Episodic write survives; the stores may disagree by one entry.
	if n, _ := ep.Count(context.Background()); n != 1 {
		t.Fatalf("episodic write should have persisted")
	}
	var se *models.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected wrapped StorageError, got %v", err)
	}
}

func TestStats(t *testing.T) {
	m := NewInMemory(100)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := m.RememberInteraction(ctx, models.Interaction{
			DealID:      "d1",
			Context:     "stage:proposal",
			ActionTaken: "schedule demo",
			Success:     true,
		})
		if err != nil {
			t.Fatalf("RememberInteraction: %v", err)
		}
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.EpisodicMemories != 60 {
		t.Fatalf("expected 60 episodic memories, got %d", stats.EpisodicMemories)
	}
	if stats.LearnedPatterns != 1 {
		t.Fatalf("expected 1 learned pattern, got %d", stats.LearnedPatterns)
	}
	if len(stats.TopPatterns) != 1 {
		t.Fatalf("expected 1 top pattern, got %d", len(stats.TopPatterns))
	}
}
