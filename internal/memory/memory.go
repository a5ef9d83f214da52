// Package memory implements the dual-memory system for deal intelligence:
// an episodic store of raw per-deal interactions and a semantic store of
// aggregated (context, action) outcome patterns. The Memory facade is the
// single entry point the analysis loop talks to.
package memory

import (
	"context"
	"fmt"
	"log"

	"github.com/salestack/dealsense/models"
)

// EpisodicStore records and recalls individual interactions. Implementations
// must evict the oldest rows across all deals once capacity is exceeded.
type EpisodicStore interface {
	Record(ctx context.Context, in models.Interaction) (models.Interaction, error)
	History(ctx context.Context, dealID string, limit int) ([]models.Interaction, error)
	Count(ctx context.Context) (int, error)
}

// SimilarityRetriever finds past interactions relevant to a query. The
// default implementations match on substrings of the context and action
// fields; swapping in an embedding-backed retriever only requires
// implementing this interface.
type SimilarityRetriever interface {
	Similar(ctx context.Context, query string, limit int) ([]models.Interaction, error)
}

// SemanticStore aggregates observed outcomes into patterns. Observe must be
// atomic per pattern key: concurrent observations of the same (context,
// action) pair may interleave in any order but none may be lost.
type SemanticStore interface {
	Observe(ctx context.Context, patternContext, action string, success bool) (models.Pattern, error)
	Get(ctx context.Context, key string) (models.Pattern, bool, error)
	List(ctx context.Context, minConfidence float64, orderBy string, limit int) ([]models.Pattern, error)
	BestActions(ctx context.Context, patternContext string, minConfidence, minSuccessRate float64, limit int) ([]models.Pattern, error)
	Top(ctx context.Context, minConfidence float64, limit int) ([]models.Pattern, error)
	CountConfident(ctx context.Context, minConfidence float64) (int, error)
}

// Memory is the facade over both stores.
type Memory struct {
	episodic   EpisodicStore
	similarity SimilarityRetriever
	semantic   SemanticStore
	logger     *log.Logger
}

func New(episodic EpisodicStore, similarity SimilarityRetriever, semantic SemanticStore) *Memory {
	return &Memory{
		episodic:   episodic,
		similarity: similarity,
		semantic:   semantic,
		logger:     log.New(log.Writer(), "[MEMORY] ", log.LstdFlags),
	}
}

// RememberInteraction persists one interaction to both memory stores. The
// episodic write happens first; if it fails the semantic store is not
// touched. A semantic failure after a successful episodic write is still an
// error, so callers must tolerate the stores disagreeing by one entry.
func (m *Memory) RememberInteraction(ctx context.Context, in models.Interaction) (models.Interaction, error) {
	stored, err := m.episodic.Record(ctx, in)
	if err != nil {
		return models.Interaction{}, fmt.Errorf("episodic store: %w", err)
	}
	if _, err := m.semantic.Observe(ctx, in.Context, in.ActionTaken, in.Success); err != nil {
		m.logger.Printf("episodic write %s kept, semantic observation failed: %v", stored.ID, err)
		return stored, fmt.Errorf("semantic store: %w", err)
	}
	return stored, nil
}

// RecallDealHistory returns a deal's recent interactions, most recent first.
func (m *Memory) RecallDealHistory(ctx context.Context, dealID string, limit int) ([]models.Interaction, error) {
	return m.episodic.History(ctx, dealID, limit)
}

// RecallSimilarExperiences returns past interactions across all deals whose
// context or action resembles the query.
func (m *Memory) RecallSimilarExperiences(ctx context.Context, query string, limit int) ([]models.Interaction, error) {
	return m.similarity.Similar(ctx, query, limit)
}

// BestStrategiesFor returns proven patterns for a context, ordered best
// first.
func (m *Memory) BestStrategiesFor(ctx context.Context, patternContext string, minConfidence, minSuccessRate float64, limit int) ([]models.Pattern, error) {
	return m.semantic.BestActions(ctx, patternContext, minConfidence, minSuccessRate, limit)
}

// Observe feeds one outcome directly into the semantic store.
func (m *Memory) Observe(ctx context.Context, patternContext, action string, success bool) (models.Pattern, error) {
	return m.semantic.Observe(ctx, patternContext, action, success)
}

// Pattern looks up a single semantic pattern by key.
func (m *Memory) Pattern(ctx context.Context, key string) (models.Pattern, bool, error) {
	return m.semantic.Get(ctx, key)
}

// Patterns lists semantic patterns at or above a confidence floor, sorted by
// the given column.
func (m *Memory) Patterns(ctx context.Context, minConfidence float64, orderBy string, limit int) ([]models.Pattern, error) {
	return m.semantic.List(ctx, minConfidence, orderBy, limit)
}

// Stats summarises both stores.
func (m *Memory) Stats(ctx context.Context) (models.MemoryStats, error) {
	var stats models.MemoryStats
	n, err := m.episodic.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("episodic store: %w", err)
	}
	stats.EpisodicMemories = n

	learned, err := m.semantic.CountConfident(ctx, 0.3)
	if err != nil {
		return stats, fmt.Errorf("semantic store: %w", err)
	}
	stats.LearnedPatterns = learned

	top, err := m.semantic.Top(ctx, 0.5, 5)
	if err != nil {
		return stats, fmt.Errorf("semantic store: %w", err)
	}
	stats.TopPatterns = top
	return stats, nil
}
