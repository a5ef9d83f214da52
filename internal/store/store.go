package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/salestack/dealsense/models"
)

// Store is the Postgres persistence layer for both memory stores and the
// operational tables (users, watchlist). EpisodicCapacity bounds the total
// number of interaction rows across all deals; zero disables eviction.
type Store struct {
	DB               *sql.DB
	EpisodicCapacity int
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &models.StorageError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, &models.StorageError{Op: "ping", Err: err}
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Episodic memory operations

// InsertInteraction appends an interaction row and evicts the oldest rows
// beyond EpisodicCapacity. Eviction is global, not per deal: a busy deal can
// push out another deal's history. Both statements run in one transaction so
// a failed eviction never leaves a half-recorded interaction.
func (s *Store) InsertInteraction(ctx context.Context, in models.Interaction) (models.Interaction, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return models.Interaction{}, &models.StorageError{Op: "insert_interaction", Err: err}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Interaction{}, &models.StorageError{Op: "insert_interaction", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO deal_interactions (id, deal_id, interaction_type, agent_name, context, action_taken, outcome, success, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		in.ID, in.DealID, in.InteractionType, in.AgentName, in.Context, in.ActionTaken, in.Outcome, in.Success, meta, in.CreatedAt)
	if err != nil {
		return models.Interaction{}, &models.StorageError{Op: "insert_interaction", Err: err}
	}

	if s.EpisodicCapacity > 0 {
		_, err = tx.ExecContext(ctx, `
DELETE FROM deal_interactions WHERE id IN (
    SELECT id FROM deal_interactions ORDER BY created_at DESC, id DESC OFFSET $1
)`, s.EpisodicCapacity)
		if err != nil {
			return models.Interaction{}, &models.StorageError{Op: "evict_interactions", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Interaction{}, &models.StorageError{Op: "insert_interaction", Err: err}
	}
	return in, nil
}

const interactionColumns = `id, deal_id, interaction_type, agent_name, context, action_taken, outcome, success, metadata, created_at`

// ListInteractionsByDeal returns a deal's history, most recent first.
func (s *Store) ListInteractionsByDeal(ctx context.Context, dealID string, limit int) ([]models.Interaction, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+interactionColumns+` FROM deal_interactions WHERE deal_id=$1 ORDER BY created_at DESC LIMIT $2`, dealID, limit)
	if err != nil {
		return nil, &models.StorageError{Op: "list_interactions", Err: err}
	}
	defer rows.Close()
	return scanInteractions(rows, "list_interactions")
}

// SearchInteractions returns interactions whose context or action contains
// the query, case-insensitively, most recent first.
func (s *Store) SearchInteractions(ctx context.Context, query string, limit int) ([]models.Interaction, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+interactionColumns+` FROM deal_interactions WHERE context ILIKE $1 OR action_taken ILIKE $1 ORDER BY created_at DESC LIMIT $2`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, &models.StorageError{Op: "search_interactions", Err: err}
	}
	defer rows.Close()
	return scanInteractions(rows, "search_interactions")
}

func (s *Store) CountInteractions(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM deal_interactions`).Scan(&n); err != nil {
		return 0, &models.StorageError{Op: "count_interactions", Err: err}
	}
	return n, nil
}

func scanInteractions(rows *sql.Rows, op string) ([]models.Interaction, error) {
	var out []models.Interaction
	for rows.Next() {
		var in models.Interaction
		var meta []byte
		if err := rows.Scan(&in.ID, &in.DealID, &in.InteractionType, &in.AgentName, &in.Context, &in.ActionTaken, &in.Outcome, &in.Success, &meta, &in.CreatedAt); err != nil {
			return nil, &models.StorageError{Op: op, Err: err}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &in.Metadata); err != nil {
				return nil, &models.StorageError{Op: op, Err: err}
			}
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: op, Err: err}
	}
	return out, nil
}

// Semantic memory operations

const patternColumns = `pattern_key, pattern_description, context, action, success_count, failure_count, success_rate, confidence_score, observation_count, learned_rule, last_updated_at`

// RecordObservation merges one observed outcome into the pattern keyed by
// (context, action). The upsert computes the new counters, success_rate and
// confidence_score inside a single statement, so concurrent observations of
// the same key serialize in Postgres and none are lost.
func (s *Store) RecordObservation(ctx context.Context, patternContext, action string, success bool) (models.Pattern, error) {
	key := models.PatternKey(patternContext, action)
	successDelta, failureDelta := 0, 0
	initialRate := 0.0
	if success {
		successDelta = 1
		initialRate = 1.0
	} else {
		failureDelta = 1
	}
	description := fmt.Sprintf("Pattern for %s in %s", action, patternContext)
	rule := fmt.Sprintf("Early pattern: %s in %s context", action, patternContext)

	var p models.Pattern
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO deal_patterns (pattern_key, pattern_description, context, action, success_count, failure_count, success_rate, confidence_score, observation_count, learned_rule, last_updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,0.01,1,$8,NOW())
ON CONFLICT (pattern_key) DO UPDATE SET
    success_count = deal_patterns.success_count + $5,
    failure_count = deal_patterns.failure_count + $6,
    observation_count = deal_patterns.observation_count + 1,
    success_rate = (deal_patterns.success_count + $5)::float8 / (deal_patterns.observation_count + 1)::float8,
    confidence_score = LEAST(1.0, (deal_patterns.observation_count + 1)::float8 / 100.0),
    last_updated_at = NOW()
RETURNING `+patternColumns,
		key, description, patternContext, action, successDelta, failureDelta, initialRate, rule).
		Scan(&p.PatternKey, &p.Description, &p.Context, &p.Action, &p.SuccessCount, &p.FailureCount, &p.SuccessRate, &p.ConfidenceScore, &p.ObservationCount, &p.LearnedRule, &p.LastUpdatedAt)
	if err != nil {
		return models.Pattern{}, &models.StorageError{Op: "record_observation", Err: err}
	}
	return p, nil
}

func (s *Store) GetPattern(ctx context.Context, key string) (models.Pattern, bool, error) {
	var p models.Pattern
	err := s.DB.QueryRowContext(ctx, `
SELECT `+patternColumns+` FROM deal_patterns WHERE pattern_key=$1`, key).
		Scan(&p.PatternKey, &p.Description, &p.Context, &p.Action, &p.SuccessCount, &p.FailureCount, &p.SuccessRate, &p.ConfidenceScore, &p.ObservationCount, &p.LearnedRule, &p.LastUpdatedAt)
	if err == sql.ErrNoRows {
		return models.Pattern{}, false, nil
	}
	if err != nil {
		return models.Pattern{}, false, &models.StorageError{Op: "get_pattern", Err: err}
	}
	return p, true, nil
}

var patternOrderColumns = map[string]string{
	"success_rate":      "success_rate",
	"confidence_score":  "confidence_score",
	"observation_count": "observation_count",
	"last_updated_at":   "last_updated_at",
}

// ListPatterns returns patterns at or above a confidence floor, sorted by
// one of the whitelisted columns, descending. Unknown columns fall back to
// success_rate.
func (s *Store) ListPatterns(ctx context.Context, minConfidence float64, orderBy string, limit int) ([]models.Pattern, error) {
	col, ok := patternOrderColumns[orderBy]
	if !ok {
		col = "success_rate"
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+patternColumns+` FROM deal_patterns WHERE confidence_score >= $1 ORDER BY `+col+` DESC, pattern_key ASC LIMIT $2`, minConfidence, limit)
	if err != nil {
		return nil, &models.StorageError{Op: "list_patterns", Err: err}
	}
	defer rows.Close()
	return scanPatterns(rows, "list_patterns")
}

// BestPatterns returns proven patterns for a context, filtered by confidence
// and success-rate thresholds, best first.
func (s *Store) BestPatterns(ctx context.Context, patternContext string, minConfidence, minSuccessRate float64, limit int) ([]models.Pattern, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+patternColumns+` FROM deal_patterns
WHERE context=$1 AND confidence_score >= $2 AND success_rate >= $3
ORDER BY success_rate DESC, confidence_score DESC, pattern_key ASC LIMIT $4`,
		patternContext, minConfidence, minSuccessRate, limit)
	if err != nil {
		return nil, &models.StorageError{Op: "best_patterns", Err: err}
	}
	defer rows.Close()
	return scanPatterns(rows, "best_patterns")
}

func scanPatterns(rows *sql.Rows, op string) ([]models.Pattern, error) {
	var out []models.Pattern
	for rows.Next() {
		var p models.Pattern
		if err := rows.Scan(&p.PatternKey, &p.Description, &p.Context, &p.Action, &p.SuccessCount, &p.FailureCount, &p.SuccessRate, &p.ConfidenceScore, &p.ObservationCount, &p.LearnedRule, &p.LastUpdatedAt); err != nil {
			return nil, &models.StorageError{Op: op, Err: err}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: op, Err: err}
	}
	return out, nil
}

// CountConfidentPatterns counts patterns at or above a confidence floor.
func (s *Store) CountConfidentPatterns(ctx context.Context, minConfidence float64) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM deal_patterns WHERE confidence_score >= $1`, minConfidence).Scan(&n); err != nil {
		return 0, &models.StorageError{Op: "count_patterns", Err: err}
	}
	return n, nil
}

// TopPatterns returns the strongest patterns regardless of context.
func (s *Store) TopPatterns(ctx context.Context, minConfidence float64, limit int) ([]models.Pattern, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+patternColumns+` FROM deal_patterns WHERE confidence_score >= $1 ORDER BY success_rate DESC, pattern_key ASC LIMIT $2`,
		minConfidence, limit)
	if err != nil {
		return nil, &models.StorageError{Op: "top_patterns", Err: err}
	}
	defer rows.Close()
	return scanPatterns(rows, "top_patterns")
}

// Watchlist operations

// WatchlistEntry is a deal scheduled for periodic re-analysis.
type WatchlistEntry struct {
	DealID         string
	Snapshot       []byte
	CronExpr       string
	CreatedAt      time.Time
	LastAnalyzedAt *time.Time
}

func (s *Store) UpsertWatch(ctx context.Context, dealID string, snapshot []byte, cronExpr string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO deal_watchlist (deal_id, snapshot, cron_expr) VALUES ($1,$2,$3)
ON CONFLICT (deal_id) DO UPDATE SET snapshot=EXCLUDED.snapshot, cron_expr=EXCLUDED.cron_expr`,
		dealID, snapshot, cronExpr)
	if err != nil {
		return &models.StorageError{Op: "upsert_watch", Err: err}
	}
	return nil
}

func (s *Store) ListWatches(ctx context.Context) ([]WatchlistEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT deal_id, snapshot, cron_expr, created_at, last_analyzed_at FROM deal_watchlist ORDER BY created_at`)
	if err != nil {
		return nil, &models.StorageError{Op: "list_watches", Err: err}
	}
	defer rows.Close()
	var out []WatchlistEntry
	for rows.Next() {
		var w WatchlistEntry
		var last sql.NullTime
		if err := rows.Scan(&w.DealID, &w.Snapshot, &w.CronExpr, &w.CreatedAt, &last); err != nil {
			return nil, &models.StorageError{Op: "list_watches", Err: err}
		}
		if last.Valid {
			t := last.Time
			w.LastAnalyzedAt = &t
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list_watches", Err: err}
	}
	return out, nil
}

func (s *Store) DeleteWatch(ctx context.Context, dealID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM deal_watchlist WHERE deal_id=$1`, dealID)
	if err != nil {
		return &models.StorageError{Op: "delete_watch", Err: err}
	}
	return nil
}

func (s *Store) TouchWatch(ctx context.Context, dealID string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE deal_watchlist SET last_analyzed_at=$2 WHERE deal_id=$1`, dealID, at)
	if err != nil {
		return &models.StorageError{Op: "touch_watch", Err: err}
	}
	return nil
}
