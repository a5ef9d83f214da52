package server

import (
	"testing"
	"time"
)

func TestIsDueDaily(t *testing.T) {
	if !isDue("@daily", nil) {
		t.Fatal("never-analyzed watch must be due")
	}
	recent := time.Now().Add(-time.Hour)
	if isDue("@daily", &recent) {
		t.Fatal("analyzed an hour ago, not due")
	}
	old := time.Now().Add(-25 * time.Hour)
	if !isDue("@daily", &old) {
		t.Fatal("analyzed 25h ago, due")
	}
}

func TestIsDueHourly(t *testing.T) {
	recent := time.Now().Add(-30 * time.Minute)
	if isDue("@hourly", &recent) {
		t.Fatal("analyzed 30m ago, not due")
	}
	old := time.Now().Add(-61 * time.Minute)
	if !isDue("@hourly", &old) {
		t.Fatal("analyzed 61m ago, due")
	}
}

func TestIsDueCronExpression(t *testing.T) {
	// every 15 minutes; 20 minutes since the last run always straddles a
	// quarter-hour boundary
	old := time.Now().Add(-20 * time.Minute)
	if !isDue("*/15 * * * *", &old) {
		t.Fatal("next fire time already passed, due")
	}
	if isDue("*/15 * * * *", nil) == false {
		t.Fatal("never-analyzed watch must be due")
	}
}

func TestIsDueInvalidExprFallsBackToDaily(t *testing.T) {
	recent := time.Now().Add(-time.Hour)
	if isDue("not a cron", &recent) {
		t.Fatal("invalid cron falls back to daily")
	}
	old := time.Now().Add(-25 * time.Hour)
	if !isDue("not a cron", &old) {
		t.Fatal("invalid cron falls back to daily, due after 25h")
	}
}
