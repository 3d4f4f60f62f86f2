package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"recruitflow/outreach-service/internal/model"
)

// ContactStore is the slice of contact persistence the engine needs.
type ContactStore interface {
	ListActive(ctx context.Context) ([]model.Contact, error)
	// RefreshVerified resets verified_at to now; non-empty email/title
	// also overwrite the stored values (Tier 3 may discover changes).
	RefreshVerified(ctx context.Context, contactID, email, title string) error
	MarkInactive(ctx context.Context, contactID string) error
}

// OutreachCanceller cancels every non-terminal outreach item for a contact.
type OutreachCanceller interface {
	CancelForContact(ctx context.Context, contactID string) (int, error)
}

// ProfileChecker performs the external check actions. Both target cached
// data on the contact source, so neither consumes discovery quota.
type ProfileChecker interface {
	// StillListed is the Tier 2 lightweight check: the contact's name
	// appears in the company's current result set.
	StillListed(ctx context.Context, company, name string) (bool, error)
	// Revisit is the Tier 3 full profile re-visit. Returns nil when the
	// contact no longer belongs to the company.
	Revisit(ctx context.Context, c model.Contact) (*model.Contact, error)
}

// Stats summarises one verification run.
type Stats struct {
	Checked   int
	Refreshed int
	Escalated int
	Retired   int
}

// Engine walks all active contacts once per discovery cycle, before any
// new discovery work, and applies the tier state machine to each.
type Engine struct {
	store    ContactStore
	outreach OutreachCanceller
	checker  ProfileChecker
	now      func() time.Time
	log      *slog.Logger
}

// NewEngine constructs an Engine. nowFn may be nil (defaults to time.Now).
func NewEngine(store ContactStore, outreach OutreachCanceller, checker ProfileChecker, nowFn func() time.Time, log *slog.Logger) *Engine {
	if nowFn == nil {
		nowFn = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, outreach: outreach, checker: checker, now: nowFn, log: log}
}

// Run evaluates every active contact. A failure on one contact is logged
// and does not abort the run.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	contacts, err := e.store.ListActive(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list active contacts: %w", err)
	}

	var stats Stats
	for _, c := range contacts {
		if err := e.verifyOne(ctx, c, &stats); err != nil {
			e.log.Warn("verification failed", "contact", c.ID, "company", c.Company, "err", err)
		}
	}
	return stats, nil
}

func (e *Engine) verifyOne(ctx context.Context, c model.Contact, stats *Stats) error {
	tier := ForAge(e.now().Sub(c.VerifiedAt))
	if tier == Tier1 {
		return nil
	}
	stats.Checked++

	if tier == Tier2 {
		found, err := e.checker.StillListed(ctx, c.Company, c.Name)
		if err != nil {
			return fmt.Errorf("tier2 check: %w", err)
		}
		result := CheckMissing
		if found {
			result = CheckFound
		}
		tier = Next(tier, result)
		if tier == Tier1 {
			stats.Refreshed++
			return e.store.RefreshVerified(ctx, c.ID, "", "")
		}
		// Tier 2 miss: fall through to Tier 3 in the same cycle.
		stats.Escalated++
		e.log.Info("tier2 miss, escalating", "contact", c.ID, "company", c.Company)
	}

	profile, err := e.checker.Revisit(ctx, c)
	if err != nil {
		return fmt.Errorf("tier3 revisit: %w", err)
	}
	if profile != nil {
		stats.Refreshed++
		return e.store.RefreshVerified(ctx, c.ID, profile.Email, profile.Title)
	}

	stats.Retired++
	_, err = e.retire(ctx, c.ID)
	return err
}

// HandleBounce is Tier 0: a hard-bounce signal retires the contact
// immediately, even inside the Tier 1 trust window. Returns the number of
// outreach items cancelled by the cascade.
func (e *Engine) HandleBounce(ctx context.Context, contactID string) (int, error) {
	e.log.Info("hard bounce, retiring contact", "contact", contactID)
	return e.retire(ctx, contactID)
}

// retire marks the contact inactive (terminal) and cancels all of its
// non-terminal outreach items.
func (e *Engine) retire(ctx context.Context, contactID string) (int, error) {
	if err := e.store.MarkInactive(ctx, contactID); err != nil {
		return 0, fmt.Errorf("mark inactive: %w", err)
	}
	cancelled, err := e.outreach.CancelForContact(ctx, contactID)
	if err != nil {
		return 0, fmt.Errorf("cancel outreach: %w", err)
	}
	if cancelled > 0 {
		e.log.Info("cancelled outreach for retired contact", "contact", contactID, "items", cancelled)
	}
	return cancelled, nil
}
