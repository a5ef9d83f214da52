package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/salestack/dealsense/config"
)

// Telemetry provides monitoring and LLM cost tracking for deal analyses
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds various performance metrics
type Metrics struct {
	// Analysis metrics
	TotalAnalyses       int64
	SuccessfulAnalyses  int64
	FailedAnalyses      int64
	AverageAnalysisTime time.Duration
	ReflectFailures     int64

	// Intent distribution
	IntentCounts map[string]int64

	// Scoring collaborator metrics
	ScoringRequests       map[string]int64 // model -> count
	ScoringTokensUsed     map[string]int64
	ScoringAverageLatency map[string]time.Duration
	ScoringFailures       int64
}

// CostTracker tracks LLM costs across models
type CostTracker struct {
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// AnalysisEvent represents a single analyzeDeal call
type AnalysisEvent struct {
	ID              string
	DealID          string
	Intent          string
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	Success         bool
	Error           string
	Recommendations int
	Alerts          int
	ReflectFailed   bool
}

// ScoringEvent represents a single scoring collaborator call
type ScoringEvent struct {
	Framework    string
	Model        string
	Duration     time.Duration
	Success      bool
	Error        string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			IntentCounts:          make(map[string]int64),
			ScoringRequests:       make(map[string]int64),
			ScoringTokensUsed:     make(map[string]int64),
			ScoringAverageLatency: make(map[string]time.Duration),
		},
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
		},
	}

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startMetricsReporting()
	}

	return t
}

// RecordAnalysisEvent records a completed (or failed) analysis.
func (t *Telemetry) RecordAnalysisEvent(ctx context.Context, event AnalysisEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalAnalyses++
	if event.Success {
		t.metrics.SuccessfulAnalyses++
	} else {
		t.metrics.FailedAnalyses++
	}
	if event.ReflectFailed {
		t.metrics.ReflectFailures++
	}
	if event.Intent != "" {
		t.metrics.IntentCounts[event.Intent]++
	}

	if t.metrics.TotalAnalyses == 1 {
		t.metrics.AverageAnalysisTime = event.Duration
	} else {
		total := t.metrics.AverageAnalysisTime * time.Duration(t.metrics.TotalAnalyses-1)
		t.metrics.AverageAnalysisTime = (total + event.Duration) / time.Duration(t.metrics.TotalAnalyses)
	}

	t.logger.Printf("Analysis Event: ID=%s, Deal=%s, Intent=%s, Success=%t, Duration=%v, Recs=%d, Alerts=%d",
		event.ID, event.DealID, event.Intent, event.Success, event.Duration, event.Recommendations, event.Alerts)
}

// RecordScoringEvent records a scoring collaborator call.
func (t *Telemetry) RecordScoringEvent(ctx context.Context, event ScoringEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.ScoringRequests[event.Model]++
	tokens := event.InputTokens + event.OutputTokens
	t.metrics.ScoringTokensUsed[event.Model] += tokens
	if !event.Success {
		t.metrics.ScoringFailures++
	}

	requests := t.metrics.ScoringRequests[event.Model]
	currentAvg := t.metrics.ScoringAverageLatency[event.Model]
	if requests == 1 {
		t.metrics.ScoringAverageLatency[event.Model] = event.Duration
	} else {
		total := currentAvg * time.Duration(requests-1)
		t.metrics.ScoringAverageLatency[event.Model] = (total + event.Duration) / time.Duration(requests)
	}

	if t.config.CostTracking {
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += tokens
		t.costTracker.ModelCosts[event.Model] += event.Cost
	}

	t.logger.Printf("Scoring Event: Framework=%s, Model=%s, Success=%t, Duration=%v, Cost=$%.4f",
		event.Framework, event.Model, event.Success, event.Duration, event.Cost)
}

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Deep copy to avoid race conditions
	metrics := *t.metrics
	metrics.IntentCounts = make(map[string]int64)
	metrics.ScoringRequests = make(map[string]int64)
	metrics.ScoringTokensUsed = make(map[string]int64)
	metrics.ScoringAverageLatency = make(map[string]time.Duration)

	for k, v := range t.metrics.IntentCounts {
		metrics.IntentCounts[k] = v
	}
	for k, v := range t.metrics.ScoringRequests {
		metrics.ScoringRequests[k] = v
	}
	for k, v := range t.metrics.ScoringTokensUsed {
		metrics.ScoringTokensUsed[k] = v
	}
	for k, v := range t.metrics.ScoringAverageLatency {
		metrics.ScoringAverageLatency[k] = v
	}

	return metrics
}

// CostSummary provides a summary of LLM costs
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
}

// GetCostSummary returns current cost summary
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		ModelCosts:  make(map[string]float64),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	return summary
}

// CalculateCost calculates the cost for a completion given per-1k rates
func (t *Telemetry) CalculateCost(inputTokens, outputTokens int64, costPer1KInput, costPer1KOutput float64) float64 {
	inputCost := float64(inputTokens) / 1000.0 * costPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * costPer1KOutput
	return inputCost + outputCost
}

// startMetricsReporting starts periodic metrics logging
func (t *Telemetry) startMetricsReporting() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		metrics := t.GetMetrics()
		costs := t.GetCostSummary()

		t.logger.Printf("Metrics Snapshot: Analyses=%d/%d, AvgTime=%v, ReflectFailures=%d, TotalCost=$%.4f",
			metrics.SuccessfulAnalyses, metrics.TotalAnalyses,
			metrics.AverageAnalysisTime, metrics.ReflectFailures, costs.TotalCost)
	}
}

// Shutdown gracefully shuts down the telemetry system
func (t *Telemetry) Shutdown() {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Analyses: %d", metrics.TotalAnalyses)
	if metrics.TotalAnalyses > 0 {
		t.logger.Printf("  Success Rate: %.2f%%", float64(metrics.SuccessfulAnalyses)/float64(metrics.TotalAnalyses)*100)
	}
	t.logger.Printf("  Average Analysis Time: %v", metrics.AverageAnalysisTime)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}

// GetPerformanceReport returns a detailed performance report
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Overall Metrics:
  Total Analyses: %d
  Successful: %d
  Failed: %d
  Reflect Failures: %d
  Average Analysis Time: %v
  Total Cost: $%.4f
  Total Tokens: %d

Intent Distribution:
`, metrics.TotalAnalyses, metrics.SuccessfulAnalyses, metrics.FailedAnalyses,
		metrics.ReflectFailures, metrics.AverageAnalysisTime, costs.TotalCost, costs.TotalTokens)

	for intent, count := range metrics.IntentCounts {
		report += fmt.Sprintf("  %s: %d\n", intent, count)
	}

	report += "\nScoring Usage:\n"
	for model, requests := range metrics.ScoringRequests {
		tokens := metrics.ScoringTokensUsed[model]
		cost := costs.ModelCosts[model]
		avg := metrics.ScoringAverageLatency[model]
		report += fmt.Sprintf("  %s: %d requests, %d tokens, $%.4f, %v avg latency\n",
			model, requests, tokens, cost, avg)
	}

	return report
}
