package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recruitflow/outreach-service/internal/model"
)

// PostgresStore owns the applications, contacts, application_contacts and
// attempted_terms tables. It also backs the verification engine's contact
// access.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ActiveApplications returns applications still in play, most recent first.
func (s *PostgresStore) ActiveApplications(ctx context.Context) ([]model.Application, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company, job_url, job_title, applied_date, status, created_at
		 FROM applications
		 WHERE status = 'active'
		 ORDER BY applied_date DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active applications: %w", err)
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		var a model.Application
		if err := rows.Scan(&a.ID, &a.Company, &a.JobURL, &a.JobTitle,
			&a.AppliedDate, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

const contactColumns = `id, company, name, title, email, confidence, status, verified_at, created_at`

// ListActive returns every active contact, stalest verification first.
func (s *PostgresStore) ListActive(ctx context.Context) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contactColumns+`
		 FROM contacts
		 WHERE status = 'active'
		 ORDER BY verified_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active contacts: %w", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// ActiveContactsByCompany returns the company's active contacts.
func (s *PostgresStore) ActiveContactsByCompany(ctx context.Context, company string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contactColumns+`
		 FROM contacts
		 WHERE company = $1 AND status = 'active'
		 ORDER BY created_at ASC`,
		company)
	if err != nil {
		return nil, fmt.Errorf("query contacts for %s: %w", company, err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// ContactIDByEmail returns the id of the contact holding the address, or
// "" when the address is unknown. Email is the natural key, so a hit here
// is the zero-cost path.
func (s *PostgresStore) ContactIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM contacts WHERE email = $1`, email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("contact lookup by email: %w", err)
	}
	return id, nil
}

// AddContact inserts a newly discovered contact, returning its id. When
// the email already exists the existing row's id is returned unchanged.
func (s *PostgresStore) AddContact(ctx context.Context, c model.Contact) (string, error) {
	id := uuid.NewString()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO contacts (id, company, name, title, email, confidence, status, verified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'active', NOW())
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id`,
		id, c.Company, c.Name, c.Title, c.Email, c.Confidence,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert contact %s: %w", c.Email, err)
	}
	return id, nil
}

// RefreshVerified resets verified_at; non-empty email/title overwrite the
// stored values.
func (s *PostgresStore) RefreshVerified(ctx context.Context, contactID, email, title string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE contacts
		 SET verified_at = NOW(),
		     email = COALESCE(NULLIF($2, ''), email),
		     title = COALESCE(NULLIF($3, ''), title)
		 WHERE id = $1`,
		contactID, email, title)
	if err != nil {
		return fmt.Errorf("refresh contact %s: %w", contactID, err)
	}
	return nil
}

// MarkInactive retires a contact. Terminal: nothing reactivates a contact.
func (s *PostgresStore) MarkInactive(ctx context.Context, contactID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE contacts SET status = 'inactive' WHERE id = $1 AND status = 'active'`,
		contactID)
	if err != nil {
		return fmt.Errorf("retire contact %s: %w", contactID, err)
	}
	return nil
}

// Link attaches a contact to an application. Returns true when the link
// is new.
func (s *PostgresStore) Link(ctx context.Context, applicationID, contactID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO application_contacts (application_id, contact_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		applicationID, contactID)
	if err != nil {
		return false, fmt.Errorf("link contact %s to application %s: %w", contactID, applicationID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// AttemptedTerms returns the search terms already tried for the company.
// The remaining term set only ever shrinks across runs.
func (s *PostgresStore) AttemptedTerms(ctx context.Context, company string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT term FROM attempted_terms WHERE company = $1`, company)
	if err != nil {
		return nil, fmt.Errorf("query attempted terms for %s: %w", company, err)
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// RecordTerm marks a term as attempted for the company.
func (s *PostgresStore) RecordTerm(ctx context.Context, company, term string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attempted_terms (company, term) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		company, term)
	if err != nil {
		return fmt.Errorf("record term %q for %s: %w", term, company, err)
	}
	return nil
}

func scanContacts(rows pgx.Rows) ([]model.Contact, error) {
	var contacts []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Company, &c.Name, &c.Title, &c.Email,
			&c.Confidence, &c.Status, &c.VerifiedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
