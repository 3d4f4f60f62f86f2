// Package health watches the quota ledger for systematic
// mis-configuration: a per-consumer cap set so low that daily quota goes
// to waste, or so high that the quota runs dry before every consumer is
// served. A single bad day is noise; a streak of them is a signal, so
// alerts fire only once a condition has held for consecutive days, and
// exactly once per streak.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"recruitflow/outreach-service/internal/quota"
)

// Condition is one of the two quota-health signals tracked per kind.
type Condition string

const (
	// ConditionUnderutilized holds when used/limit is below the
	// configured threshold at end of cycle.
	ConditionUnderutilized Condition = "underutilized"
	// ConditionExhausted holds when the day's quota reached zero.
	ConditionExhausted Condition = "exhausted"
)

// Streak is one alert_streaks row: consecutive qualifying days for a
// (kind, condition) pair. Consumers accumulates the new-consumer count
// over the streak so the exhausted suggestion can average it. Notified
// resets only when the streak breaks, so each streak alerts once.
type Streak struct {
	Kind      quota.Kind
	Condition Condition
	Days      int
	Consumers int
	Notified  bool
	LastDay   time.Time
}

// DayUsage is one day of the alert's evidence window.
type DayUsage struct {
	Day     time.Time `json:"day"`
	Used    int       `json:"used"`
	Limit   int       `json:"limit"`
	Percent float64   `json:"percent"`
}

// Alert is the payload delivered when a streak crosses the threshold.
type Alert struct {
	Kind         quota.Kind `json:"kind"`
	Condition    Condition  `json:"condition"`
	StreakDays   int        `json:"streak_days"`
	Window       []DayUsage `json:"window"`
	CurrentCap   int        `json:"current_cap"`
	SuggestedCap int        `json:"suggested_cap"`
}

// StreakStore persists streak state across cycles.
type StreakStore interface {
	// Get returns the streak for the pair, or a zero-day streak when
	// none exists yet.
	Get(ctx context.Context, kind quota.Kind, condition Condition) (Streak, error)
	Put(ctx context.Context, s Streak) error
}

// Notifier delivers an alert. Delivery transport is external to the
// monitor.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// HistorySource provides the per-day usage evidence for alerts.
type HistorySource interface {
	History(ctx context.Context, kind quota.Kind, days int) ([]quota.Record, error)
}

// Monitor evaluates both conditions for a quota kind once per discovery
// cycle, after allocation has finished for the day.
type Monitor struct {
	history        HistorySource
	streaks        StreakStore
	notify         Notifier
	underThreshold float64 // used/limit below this is underutilized
	streakDays     int     // consecutive days before an alert fires
	capCeiling     int     // upper clamp for a raised-cap suggestion
	log            *slog.Logger
}

// NewMonitor constructs a Monitor.
func NewMonitor(history HistorySource, streaks StreakStore, notify Notifier,
	underThreshold float64, streakDays, capCeiling int, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		history:        history,
		streaks:        streaks,
		notify:         notify,
		underThreshold: underThreshold,
		streakDays:     streakDays,
		capCeiling:     capCeiling,
		log:            log,
	}
}

// Check evaluates today's final record for one quota kind. currentCap is
// the per-consumer cap in force, newConsumers the number of consumers
// that entered allocation today. Returns how many alerts fired. Calling
// Check twice for the same day never double-counts a streak day.
func (m *Monitor) Check(ctx context.Context, rec quota.Record, currentCap, newConsumers int) (int, error) {
	if rec.Limit <= 0 {
		return 0, fmt.Errorf("quota record for %s has no limit", rec.Kind)
	}

	fired := 0
	conditions := []struct {
		cond      Condition
		qualifies bool
	}{
		{ConditionUnderutilized, float64(rec.Used)/float64(rec.Limit) < m.underThreshold},
		{ConditionExhausted, rec.Remaining == 0},
	}
	for _, c := range conditions {
		n, err := m.advance(ctx, rec, c.cond, c.qualifies, currentCap, newConsumers)
		if err != nil {
			return fired, err
		}
		fired += n
	}
	return fired, nil
}

func (m *Monitor) advance(ctx context.Context, rec quota.Record, cond Condition, qualifies bool, currentCap, newConsumers int) (int, error) {
	streak, err := m.streaks.Get(ctx, rec.Kind, cond)
	if err != nil {
		return 0, fmt.Errorf("load streak %s/%s: %w", rec.Kind, cond, err)
	}
	streak.Kind = rec.Kind
	streak.Condition = cond

	if !qualifies {
		if streak.Days == 0 && !streak.Notified {
			return 0, nil
		}
		streak.Days = 0
		streak.Consumers = 0
		streak.Notified = false
		streak.LastDay = rec.Day
		return 0, m.streaks.Put(ctx, streak)
	}

	if sameDay(streak.LastDay, rec.Day) {
		// Already counted this day; a second Check is a no-op.
		return 0, nil
	}
	streak.Days++
	streak.Consumers += newConsumers
	streak.LastDay = rec.Day

	fired := 0
	if streak.Days >= m.streakDays && !streak.Notified {
		alert, err := m.buildAlert(ctx, rec, streak, currentCap)
		if err != nil {
			return 0, err
		}
		if err := m.notify.Notify(ctx, alert); err != nil {
			// The streak row is not saved: the next cycle re-counts the
			// day and retries delivery.
			return 0, fmt.Errorf("deliver %s/%s alert: %w", rec.Kind, cond, err)
		}
		m.log.Warn("quota health alert",
			"kind", rec.Kind, "condition", cond,
			"streak_days", streak.Days, "suggested_cap", alert.SuggestedCap)
		streak.Notified = true
		fired = 1
	}
	return fired, m.streaks.Put(ctx, streak)
}

func (m *Monitor) buildAlert(ctx context.Context, rec quota.Record, streak Streak, currentCap int) (Alert, error) {
	records, err := m.history.History(ctx, rec.Kind, streak.Days)
	if err != nil {
		return Alert{}, fmt.Errorf("quota history for %s: %w", rec.Kind, err)
	}
	window := make([]DayUsage, 0, len(records))
	for _, r := range records {
		pct := 0.0
		if r.Limit > 0 {
			pct = 100 * float64(r.Used) / float64(r.Limit)
		}
		window = append(window, DayUsage{Day: r.Day, Used: r.Used, Limit: r.Limit, Percent: pct})
	}

	var suggested int
	switch streak.Condition {
	case ConditionUnderutilized:
		suggested = suggestRaisedCap(currentCap, window, m.capCeiling)
	case ConditionExhausted:
		suggested = suggestLoweredCap(rec.Limit, streak.Consumers, streak.Days)
	}

	return Alert{
		Kind:         rec.Kind,
		Condition:    streak.Condition,
		StreakDays:   streak.Days,
		Window:       window,
		CurrentCap:   currentCap,
		SuggestedCap: suggested,
	}, nil
}

// suggestRaisedCap scales the cap up by the inverse of the window's
// average utilization, clamped to ceiling. A window that used nothing
// suggests the ceiling outright.
func suggestRaisedCap(currentCap int, window []DayUsage, ceiling int) int {
	var usedSum, limitSum int
	for _, d := range window {
		usedSum += d.Used
		limitSum += d.Limit
	}
	if limitSum == 0 {
		return ceiling
	}
	rate := float64(usedSum) / float64(limitSum)
	if rate <= 0 {
		return ceiling
	}
	suggested := int(math.Round(float64(currentCap) / rate))
	if suggested > ceiling {
		return ceiling
	}
	if suggested < currentCap {
		return currentCap
	}
	return suggested
}

// suggestLoweredCap spreads the daily limit across the streak's average
// new-consumer count, clamped to a floor of 1.
func suggestLoweredCap(limit, totalConsumers, days int) int {
	if days <= 0 || totalConsumers <= 0 {
		return 1
	}
	avg := float64(totalConsumers) / float64(days)
	suggested := int(math.Floor(float64(limit) / avg))
	if suggested < 1 {
		return 1
	}
	return suggested
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
