package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Bootstrap creates the service's tables when they do not exist and prunes
// retention-expired rows. Idempotent; called once at startup.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS applications (
			id           UUID PRIMARY KEY,
			company      TEXT NOT NULL,
			job_url      TEXT NOT NULL UNIQUE,
			job_title    TEXT NOT NULL DEFAULT '',
			applied_date DATE NOT NULL DEFAULT CURRENT_DATE,
			status       TEXT NOT NULL DEFAULT 'active',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id          UUID PRIMARY KEY,
			company     TEXT NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			title       TEXT NOT NULL DEFAULT '',
			email       TEXT NOT NULL UNIQUE,
			confidence  TEXT NOT NULL DEFAULT 'auto',
			status      TEXT NOT NULL DEFAULT 'active',
			verified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS application_contacts (
			application_id UUID NOT NULL REFERENCES applications(id),
			contact_id     UUID NOT NULL REFERENCES contacts(id),
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (application_id, contact_id)
		)`,
		`CREATE TABLE IF NOT EXISTS outreach (
			id             UUID PRIMARY KEY,
			contact_id     UUID NOT NULL REFERENCES contacts(id),
			application_id UUID NOT NULL REFERENCES applications(id),
			stage          INT  NOT NULL DEFAULT 0,
			status         TEXT NOT NULL DEFAULT 'scheduled',
			replied        BOOLEAN NOT NULL DEFAULT FALSE,
			scheduled_for  TIMESTAMPTZ NOT NULL,
			sent_at        TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS quota_records (
			day       DATE NOT NULL,
			kind      TEXT NOT NULL,
			day_limit INT  NOT NULL,
			used      INT  NOT NULL DEFAULT 0,
			remaining INT  NOT NULL,
			PRIMARY KEY (day, kind),
			CHECK (used + remaining = day_limit)
		)`,
		`CREATE TABLE IF NOT EXISTS attempted_terms (
			company TEXT NOT NULL,
			term    TEXT NOT NULL,
			PRIMARY KEY (company, term)
		)`,
		`CREATE TABLE IF NOT EXISTS alert_streaks (
			kind      TEXT NOT NULL,
			condition TEXT NOT NULL,
			days      INT  NOT NULL DEFAULT 0,
			consumers INT  NOT NULL DEFAULT 0,
			notified  BOOLEAN NOT NULL DEFAULT FALSE,
			last_day  DATE,
			PRIMARY KEY (kind, condition)
		)`,
		// Retention: quota history older than 21 days is never consulted.
		`DELETE FROM quota_records WHERE day < CURRENT_DATE - INTERVAL '21 days'`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	return nil
}
