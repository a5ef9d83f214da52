package models

import (
	"strings"
	"time"
	"unicode"
)

// Pipeline stages. The set is open: CRM systems emit arbitrary stage labels,
// so these are the well-known values rather than an exhaustive enum.
const (
	StageProspecting   = "prospecting"
	StageQualification = "qualification"
	StageProposal      = "proposal"
	StageNegotiation   = "negotiation"
	StageClosedWon     = "closed_won"
	StageClosedLost    = "closed_lost"
)

// IsTerminalStage reports whether a deal stage is closed (won or lost).
func IsTerminalStage(stage string) bool {
	return stage == StageClosedWon || stage == StageClosedLost
}

// DealSnapshot is the immutable input to a deal analysis. It is supplied by
// the caller once per analysis call and never mutated.
type DealSnapshot struct {
	ID            string                 `json:"id"`
	DealName      string                 `json:"deal_name"`
	CompanyName   string                 `json:"company_name"`
	DealValue     float64                `json:"deal_value"`
	Stage         string                 `json:"stage"`
	OwnerEmail    string                 `json:"owner_email"`
	LastUpdatedAt time.Time              `json:"updated_at"`
	RawData       map[string]interface{} `json:"raw_data,omitempty"`
}

// Validate checks the snapshot for the fields the analysis loop depends on.
func (d DealSnapshot) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return &ValidationError{Field: "id", Reason: "deal id required"}
	}
	if strings.TrimSpace(d.Stage) == "" {
		return &ValidationError{Field: "stage", Reason: "stage required"}
	}
	if d.DealValue < 0 {
		return &ValidationError{Field: "deal_value", Reason: "deal value cannot be negative"}
	}
	return nil
}

// Interaction is a single episodic memory entry: one thing that happened to a
// deal, what the agent did about it and how it went. Rows are immutable after
// insert; the only deletion path is capacity eviction in the episodic store.
type Interaction struct {
	ID              string                 `json:"id"`
	DealID          string                 `json:"deal_id"`
	InteractionType string                 `json:"interaction_type"`
	AgentName       string                 `json:"agent_name"`
	Context         string                 `json:"context"`
	ActionTaken     string                 `json:"action_taken"`
	Outcome         string                 `json:"outcome"`
	Success         bool                   `json:"success"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Pattern is a semantic memory entry: an aggregated (context, action) pair
// with incrementally updated outcome statistics. success_rate and
// confidence_score are derived fields, recomputed on every observation.
type Pattern struct {
	PatternKey       string    `json:"pattern_key"`
	Description      string    `json:"pattern_description"`
	Context          string    `json:"context"`
	Action           string    `json:"action"`
	SuccessCount     int       `json:"success_count"`
	FailureCount     int       `json:"failure_count"`
	SuccessRate      float64   `json:"success_rate"`
	ConfidenceScore  float64   `json:"confidence_score"`
	ObservationCount int       `json:"observation_count"`
	LearnedRule      string    `json:"learned_rule"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
}

// PatternKey derives the deterministic semantic key for a (context, action)
// pair: lowercase, every whitespace run character replaced with underscore.
func PatternKey(context, action string) string {
	key := context + "_" + action
	key = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, key)
	return strings.ToLower(key)
}

// MemoryStats summarises the state of both memory stores.
type MemoryStats struct {
	EpisodicMemories int       `json:"episodic_memories"`
	LearnedPatterns  int       `json:"learned_patterns"`
	TopPatterns      []Pattern `json:"top_patterns"`
}
