package server

import (
	"time"

	"github.com/salestack/dealsense/models"
)

// HTTPError is the generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// DealAnalysisRequest is the payload for POST /api/deals/analyze.
type DealAnalysisRequest struct {
	DealID      string                 `json:"deal_id"`
	DealName    string                 `json:"deal_name"`
	CompanyName string                 `json:"company_name"`
	DealValue   float64                `json:"deal_value"`
	Stage       string                 `json:"stage"`
	OwnerEmail  string                 `json:"owner_email"`
	UpdatedAt   time.Time              `json:"updated_at"`
	RawData     map[string]interface{} `json:"raw_data"`
}

func (r DealAnalysisRequest) toSnapshot() models.DealSnapshot {
	return models.DealSnapshot{
		ID:            r.DealID,
		DealName:      r.DealName,
		CompanyName:   r.CompanyName,
		DealValue:     r.DealValue,
		Stage:         r.Stage,
		OwnerEmail:    r.OwnerEmail,
		LastUpdatedAt: r.UpdatedAt,
		RawData:       r.RawData,
	}
}

// DealHistoryResponse wraps a deal's episodic history.
type DealHistoryResponse struct {
	DealID       string               `json:"deal_id"`
	Interactions []models.Interaction `json:"interactions"`
	Count        int                  `json:"count"`
}

// SimilarDealsResponse wraps a similarity recall.
type SimilarDealsResponse struct {
	QueryContext       string               `json:"query_context"`
	SimilarExperiences []models.Interaction `json:"similar_experiences"`
	Count              int                  `json:"count"`
}

// WatchDealRequest schedules a deal for periodic re-analysis.
type WatchDealRequest struct {
	Snapshot models.DealSnapshot `json:"snapshot"`
	Cron     string              `json:"cron"`
}

// WatchlistEntryResponse is one watched deal.
type WatchlistEntryResponse struct {
	DealID         string              `json:"deal_id"`
	Snapshot       models.DealSnapshot `json:"snapshot"`
	Cron           string              `json:"cron"`
	CreatedAt      time.Time           `json:"created_at"`
	LastAnalyzedAt *time.Time          `json:"last_analyzed_at,omitempty"`
}

// WatchlistResponse lists all watched deals.
type WatchlistResponse struct {
	Watches []WatchlistEntryResponse `json:"watches"`
	Count   int                      `json:"count"`
}

// SlackAlertRequest is the payload for the Slack alert placeholder.
type SlackAlertRequest struct {
	DealID  string `json:"deal_id"`
	Message string `json:"message"`
}
