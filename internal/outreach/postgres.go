package outreach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over pgxpool. Status transitions are
// guarded in SQL (`WHERE status = ...`) so a concurrent cycle can never
// move an item through an illegal edge.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const itemColumns = `
	o.id, o.contact_id, o.application_id, o.stage, o.status, o.replied,
	o.scheduled_for, o.sent_at,
	c.name, c.email, c.company, a.job_title, a.job_url`

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time) ([]Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+`
		 FROM outreach o
		 JOIN contacts c     ON c.id = o.contact_id
		 JOIN applications a ON a.id = o.application_id
		 WHERE o.status = 'scheduled'
		   AND o.scheduled_for::date <= $1::date
		   AND c.status = 'active'
		   AND a.status = 'active'
		   AND NOT EXISTS (
		     SELECT 1 FROM outreach r
		     WHERE r.contact_id = o.contact_id
		       AND r.application_id = o.application_id
		       AND r.replied = TRUE
		   )
		 ORDER BY o.scheduled_for ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("listDue query: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *PostgresStore) LinksNeedingInitial(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT '', ac.contact_id, ac.application_id, 0, 'scheduled', FALSE,
		        NOW(), NULL::timestamptz,
		        c.name, c.email, c.company, a.job_title, a.job_url
		 FROM application_contacts ac
		 JOIN contacts c     ON c.id = ac.contact_id
		 JOIN applications a ON a.id = ac.application_id
		 WHERE c.status = 'active'
		   AND a.status = 'active'
		   AND NOT EXISTS (
		     SELECT 1 FROM outreach o
		     WHERE o.contact_id = ac.contact_id
		       AND o.application_id = ac.application_id
		       AND (o.status IN ('scheduled', 'sent', 'completed', 'replied')
		            OR o.replied = TRUE)
		   )`,
	)
	if err != nil {
		return nil, fmt.Errorf("linksNeedingInitial query: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *PostgresStore) Schedule(ctx context.Context, contactID, applicationID string, stage Stage, scheduledFor time.Time) (string, error) {
	id := uuid.NewString()
	// One pending item per pair, and a finished pair never restarts. The
	// guard must not include 'sent': the follow-up is inserted while the
	// prior stage's row stays sent.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO outreach (id, contact_id, application_id, stage, status, scheduled_for)
		 SELECT $1, $2, $3, $4, 'scheduled', $5
		 WHERE NOT EXISTS (
		   SELECT 1 FROM outreach
		   WHERE contact_id = $2 AND application_id = $3
		     AND (status IN ('scheduled', 'completed', 'replied') OR replied = TRUE)
		 )`,
		id, contactID, applicationID, int(stage), scheduledFor,
	)
	if err != nil {
		return "", fmt.Errorf("schedule outreach: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("pair %s/%s has a pending item or a finished sequence", contactID, applicationID)
	}
	return id, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, StatusScheduled, StatusSent, &at)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusScheduled, StatusFailed, nil)
}

func (s *PostgresStore) MarkBounced(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusScheduled, StatusBounced, nil)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusSent, StatusCompleted, nil)
}

func (s *PostgresStore) MarkCancelled(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusScheduled, StatusCancelled, nil)
}

// MarkReplied records an operator-observed reply: the item is terminal
// and replied=TRUE suppresses every future stage for the pair.
func (s *PostgresStore) MarkReplied(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach SET status = 'replied', replied = TRUE
		 WHERE id = $1 AND status IN ('scheduled', 'sent')`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s not open for reply", id)
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, id string, to time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach SET scheduled_for = $1
		 WHERE id = $2 AND status = 'scheduled'`,
		to, id,
	)
	if err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s not in scheduled state", id)
	}
	return nil
}

func (s *PostgresStore) Replied(ctx context.Context, contactID, applicationID string) (bool, error) {
	var replied bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM outreach
		   WHERE contact_id = $1 AND application_id = $2 AND replied = TRUE
		 )`,
		contactID, applicationID,
	).Scan(&replied)
	if err != nil {
		return false, fmt.Errorf("replied query: %w", err)
	}
	return replied, nil
}

// CancelForContact cancels every non-terminal item for a contact (Tier 0
// and Tier 3 cascades). Returns the number of items cancelled.
func (s *PostgresStore) CancelForContact(ctx context.Context, contactID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach SET status = 'cancelled'
		 WHERE contact_id = $1 AND status IN ('scheduled', 'sent')`,
		contactID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel for contact: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) transition(ctx context.Context, id string, from, to Status, sentAt *time.Time) error {
	if !IsTransitionAllowed(from, to) {
		return fmt.Errorf("transition %s → %s not allowed", from, to)
	}
	var tagErr error
	if sentAt != nil {
		tag, err := s.pool.Exec(ctx,
			`UPDATE outreach SET status = $1, sent_at = $2 WHERE id = $3 AND status = $4`,
			string(to), *sentAt, id, string(from))
		if err != nil {
			return fmt.Errorf("transition %s: %w", to, err)
		}
		if tag.RowsAffected() == 0 {
			tagErr = fmt.Errorf("item %s not in %s state", id, from)
		}
	} else {
		tag, err := s.pool.Exec(ctx,
			`UPDATE outreach SET status = $1 WHERE id = $2 AND status = $3`,
			string(to), id, string(from))
		if err != nil {
			return fmt.Errorf("transition %s: %w", to, err)
		}
		if tag.RowsAffected() == 0 {
			tagErr = fmt.Errorf("item %s not in %s state", id, from)
		}
	}
	return tagErr
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanItems(rows rowScanner) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var (
			it     Item
			stage  int
			status string
		)
		if err := rows.Scan(
			&it.ID, &it.ContactID, &it.ApplicationID, &stage, &status, &it.Replied,
			&it.ScheduledFor, &it.SentAt,
			&it.ContactName, &it.ContactEmail, &it.Company, &it.JobTitle, &it.JobURL,
		); err != nil {
			return nil, fmt.Errorf("outreach scan: %w", err)
		}
		it.Stage = Stage(stage)
		st, err := ParseStatus(status)
		if err != nil {
			return nil, err
		}
		it.Status = st
		items = append(items, it)
	}
	return items, rows.Err()
}
