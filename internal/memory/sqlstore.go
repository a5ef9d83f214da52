package memory

import (
	"context"

	"github.com/salestack/dealsense/internal/store"
	"github.com/salestack/dealsense/models"
)

// SQLEpisodic adapts the Postgres store to the EpisodicStore and
// SimilarityRetriever interfaces.
type SQLEpisodic struct {
	Store *store.Store
}

func (s *SQLEpisodic) Record(ctx context.Context, in models.Interaction) (models.Interaction, error) {
	return s.Store.InsertInteraction(ctx, in)
}

func (s *SQLEpisodic) History(ctx context.Context, dealID string, limit int) ([]models.Interaction, error) {
	return s.Store.ListInteractionsByDeal(ctx, dealID, limit)
}

func (s *SQLEpisodic) Similar(ctx context.Context, query string, limit int) ([]models.Interaction, error) {
	return s.Store.SearchInteractions(ctx, query, limit)
}

func (s *SQLEpisodic) Count(ctx context.Context) (int, error) {
	return s.Store.CountInteractions(ctx)
}

// SQLSemantic adapts the Postgres store to the SemanticStore interface.
type SQLSemantic struct {
	Store *store.Store
}

func (s *SQLSemantic) Observe(ctx context.Context, patternContext, action string, success bool) (models.Pattern, error) {
	return s.Store.RecordObservation(ctx, patternContext, action, success)
}

func (s *SQLSemantic) Get(ctx context.Context, key string) (models.Pattern, bool, error) {
	return s.Store.GetPattern(ctx, key)
}

func (s *SQLSemantic) List(ctx context.Context, minConfidence float64, orderBy string, limit int) ([]models.Pattern, error) {
	return s.Store.ListPatterns(ctx, minConfidence, orderBy, limit)
}

func (s *SQLSemantic) BestActions(ctx context.Context, patternContext string, minConfidence, minSuccessRate float64, limit int) ([]models.Pattern, error) {
	return s.Store.BestPatterns(ctx, patternContext, minConfidence, minSuccessRate, limit)
}

func (s *SQLSemantic) Top(ctx context.Context, minConfidence float64, limit int) ([]models.Pattern, error) {
	return s.Store.TopPatterns(ctx, minConfidence, limit)
}

func (s *SQLSemantic) CountConfident(ctx context.Context, minConfidence float64) (int, error) {
	return s.Store.CountConfidentPatterns(ctx, minConfidence)
}

// NewSQL wires a Memory facade over the Postgres store.
func NewSQL(st *store.Store) *Memory {
	ep := &SQLEpisodic{Store: st}
	return New(ep, ep, &SQLSemantic{Store: st})
}

var (
	_ EpisodicStore       = (*SQLEpisodic)(nil)
	_ SimilarityRetriever = (*SQLEpisodic)(nil)
	_ SemanticStore       = (*SQLSemantic)(nil)
)
