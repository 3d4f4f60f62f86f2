package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recruitflow/outreach-service/internal/quota"
)

// PostgresStreakStore persists streaks in the alert_streaks table.
type PostgresStreakStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStreakStore returns a StreakStore backed by the given pool.
func NewPostgresStreakStore(pool *pgxpool.Pool) *PostgresStreakStore {
	return &PostgresStreakStore{pool: pool}
}

func (s *PostgresStreakStore) Get(ctx context.Context, kind quota.Kind, condition Condition) (Streak, error) {
	var (
		st      Streak
		rawKind string
		lastDay sql.NullTime
	)
	err := s.pool.QueryRow(ctx,
		`SELECT kind, condition, days, consumers, notified, last_day
		 FROM alert_streaks
		 WHERE kind = $1 AND condition = $2`,
		string(kind), string(condition),
	).Scan(&rawKind, &st.Condition, &st.Days, &st.Consumers, &st.Notified, &lastDay)
	if errors.Is(err, pgx.ErrNoRows) {
		return Streak{Kind: kind, Condition: condition}, nil
	}
	if err != nil {
		return Streak{}, fmt.Errorf("load streak: %w", err)
	}
	st.Kind = quota.Kind(rawKind)
	if lastDay.Valid {
		st.LastDay = lastDay.Time
	}
	return st, nil
}

func (s *PostgresStreakStore) Put(ctx context.Context, st Streak) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_streaks (kind, condition, days, consumers, notified, last_day)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (kind, condition) DO UPDATE
		 SET days = EXCLUDED.days,
		     consumers = EXCLUDED.consumers,
		     notified = EXCLUDED.notified,
		     last_day = EXCLUDED.last_day`,
		string(st.Kind), string(st.Condition), st.Days, st.Consumers, st.Notified,
		st.LastDay.Format("2006-01-02"),
	)
	if err != nil {
		return fmt.Errorf("save streak: %w", err)
	}
	return nil
}
