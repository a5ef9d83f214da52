package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/salestack/dealsense/internal/store"
	"github.com/salestack/dealsense/models"
)

// Scheduler periodically re-analyzes watched deals on their cron schedule.
type Scheduler struct {
	Store       *store.Store
	Loop        Analyzer
	Rdb         *redis.Client
	Stop        chan struct{}
	Interval    time.Duration
	DefaultCron string
}

func (s *Scheduler) Start() {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	logger := log.New(log.Writer(), "[SCHED] ", log.LstdFlags)

	watches, err := s.Store.ListWatches(ctx)
	if err != nil {
		logger.Printf("listing watchlist: %v", err)
		return
	}
	for _, w := range watches {
		cron := w.CronExpr
		if cron == "" {
			cron = s.DefaultCron
		}
		if !isDue(cron, w.LastAnalyzedAt) {
			continue
		}

		// distributed lock so only one instance analyzes each deal
		if s.Rdb != nil {
			lockKey := "sched:lock:" + w.DealID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		var snapshot models.DealSnapshot
		if err := json.Unmarshal(w.Snapshot, &snapshot); err != nil {
			logger.Printf("deal %s: bad snapshot: %v", w.DealID, err)
			continue
		}

		go func(dealID string, snapshot models.DealSnapshot) {
			// jitter to avoid stampedes
			time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
			if _, err := s.Loop.AnalyzeDeal(ctx, snapshot); err != nil {
				logger.Printf("deal %s: scheduled analysis failed: %v", dealID, err)
				return
			}
			if err := s.Store.TouchWatch(ctx, dealID, time.Now().UTC()); err != nil {
				logger.Printf("deal %s: touch watch: %v", dealID, err)
			}
		}(w.DealID, snapshot)
	}
}

// isDue determines whether a watch with cronSpec should run now given its
// last analysis time. Supports "@daily", "@hourly" and standard 5-field
// cron expressions; invalid expressions fall back to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
