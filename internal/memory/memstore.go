package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/salestack/dealsense/models"
)

// InMemoryEpisodic is an EpisodicStore backed by a slice. It is used by the
// one-shot CLI mode and by tests; semantics mirror the Postgres store,
// including global oldest-first eviction past capacity.
type InMemoryEpisodic struct {
	mu       sync.Mutex
	capacity int
	items    []models.Interaction // oldest first
}

func NewInMemoryEpisodic(capacity int) *InMemoryEpisodic {
	return &InMemoryEpisodic{capacity: capacity}
}

func (s *InMemoryEpisodic) Record(ctx context.Context, in models.Interaction) (models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	s.items = append(s.items, in)
	if s.capacity > 0 && len(s.items) > s.capacity {
		s.items = s.items[len(s.items)-s.capacity:]
	}
	return in, nil
}

func (s *InMemoryEpisodic) History(ctx context.Context, dealID string, limit int) ([]models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Interaction
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		if s.items[i].DealID == dealID {
			out = append(out, s.items[i])
		}
	}
	return out, nil
}

func (s *InMemoryEpisodic) Similar(ctx context.Context, query string, limit int) ([]models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []models.Interaction
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		in := s.items[i]
		if strings.Contains(strings.ToLower(in.Context), q) || strings.Contains(strings.ToLower(in.ActionTaken), q) {
			out = append(out, in)
		}
	}
	return out, nil
}

func (s *InMemoryEpisodic) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

// InMemorySemantic is a SemanticStore backed by a map. A single mutex guards
// every update, so concurrent observations of the same key never lose counts.
type InMemorySemantic struct {
	mu       sync.Mutex
	patterns map[string]models.Pattern
}

func NewInMemorySemantic() *InMemorySemantic {
	return &InMemorySemantic{patterns: make(map[string]models.Pattern)}
}

func (s *InMemorySemantic) Observe(ctx context.Context, patternContext, action string, success bool) (models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.PatternKey(patternContext, action)
	p, ok := s.patterns[key]
	if !ok {
		p = models.Pattern{
			PatternKey:  key,
			Description: "Pattern for " + action + " in " + patternContext,
			Context:     patternContext,
			Action:      action,
			LearnedRule: "Early pattern: " + action + " in " + patternContext + " context",
		}
	}
	if success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.ObservationCount++
	p.SuccessRate = float64(p.SuccessCount) / float64(p.ObservationCount)
	p.ConfidenceScore = math.Min(1.0, float64(p.ObservationCount)/100.0)
	p.LastUpdatedAt = time.Now().UTC()
	s.patterns[key] = p
	return p, nil
}

func (s *InMemorySemantic) Get(ctx context.Context, key string) (models.Pattern, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[key]
	return p, ok, nil
}

func (s *InMemorySemantic) List(ctx context.Context, minConfidence float64, orderBy string, limit int) ([]models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if p.ConfidenceScore >= minConfidence {
			out = append(out, p)
		}
	}
	// The map iteration order above is random, so every comparator falls
	// through to pattern_key: identical queries must return identical orders.
	sort.Slice(out, func(i, j int) bool {
		switch orderBy {
		case "confidence_score":
			if out[i].ConfidenceScore != out[j].ConfidenceScore {
				return out[i].ConfidenceScore > out[j].ConfidenceScore
			}
		case "observation_count":
			if out[i].ObservationCount != out[j].ObservationCount {
				return out[i].ObservationCount > out[j].ObservationCount
			}
		case "last_updated_at":
			if !out[i].LastUpdatedAt.Equal(out[j].LastUpdatedAt) {
				return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
			}
		default:
			if out[i].SuccessRate != out[j].SuccessRate {
				return out[i].SuccessRate > out[j].SuccessRate
			}
		}
		return out[i].PatternKey < out[j].PatternKey
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemorySemantic) BestActions(ctx context.Context, patternContext string, minConfidence, minSuccessRate float64, limit int) ([]models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Pattern
	for _, p := range s.patterns {
		if p.Context == patternContext && p.ConfidenceScore >= minConfidence && p.SuccessRate >= minSuccessRate {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].PatternKey < out[j].PatternKey
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemorySemantic) Top(ctx context.Context, minConfidence float64, limit int) ([]models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Pattern
	for _, p := range s.patterns {
		if p.ConfidenceScore >= minConfidence {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		return out[i].PatternKey < out[j].PatternKey
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemorySemantic) CountConfident(ctx context.Context, minConfidence float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.patterns {
		if p.ConfidenceScore >= minConfidence {
			n++
		}
	}
	return n, nil
}

// NewInMemory wires a Memory facade over purely in-process stores.
func NewInMemory(capacity int) *Memory {
	ep := NewInMemoryEpisodic(capacity)
	return New(ep, ep, NewInMemorySemantic())
}

var (
	_ EpisodicStore       = (*InMemoryEpisodic)(nil)
	_ SimilarityRetriever = (*InMemoryEpisodic)(nil)
	_ SemanticStore       = (*InMemorySemantic)(nil)
)
