// Package discovery orchestrates the nightly discovery cycle: ledger
// resync, contact verification, zero-cost linking, allocated contact
// search, content warming, and quota health checks.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recruitflow/outreach-service/internal/content"
	"recruitflow/outreach-service/internal/model"
	"recruitflow/outreach-service/internal/quota"
	"recruitflow/outreach-service/internal/verify"
)

// searchTerms are tried in order per company; a term is attempted at most
// once per company across all runs, so the remaining set only shrinks.
var searchTerms = []string{
	"technical recruiter",
	"talent acquisition",
	"recruiter",
	"sourcer",
	"hiring manager",
}

// searchPasses is the per-company escalation ladder: strict first, then
// progressively looser until a pass yields a usable result.
var searchPasses = []struct {
	roleFiltered  bool
	requireEmail  bool
	excludeSenior bool
}{
	{roleFiltered: true, requireEmail: true, excludeSenior: true},
	{roleFiltered: true, requireEmail: true, excludeSenior: false},
	{roleFiltered: false, requireEmail: false, excludeSenior: true},
}

// Store is the persistence surface the cycle needs.
type Store interface {
	ActiveApplications(ctx context.Context) ([]model.Application, error)
	ActiveContactsByCompany(ctx context.Context, company string) ([]model.Contact, error)
	ContactIDByEmail(ctx context.Context, email string) (string, error)
	AddContact(ctx context.Context, c model.Contact) (string, error)
	Link(ctx context.Context, applicationID, contactID string) (bool, error)
	AttemptedTerms(ctx context.Context, company string) ([]string, error)
	RecordTerm(ctx context.Context, company, term string) error
}

// LedgerStore is the slice of the quota ledger the cycle uses.
type LedgerStore interface {
	SyncRemote(ctx context.Context, day time.Time, kind quota.Kind, limit, remaining int) error
	Ensure(ctx context.Context, day time.Time, kind quota.Kind, limit int) (quota.Record, error)
	Debit(ctx context.Context, day time.Time, kind quota.Kind, n int) error
}

// Verifier runs the tiered verification pass.
type Verifier interface {
	Run(ctx context.Context) (verify.Stats, error)
}

// Generator produces (or returns cached) outreach content for an
// application.
type Generator interface {
	Generate(ctx context.Context, company, title string, jobText *string) (*content.Bundle, error)
}

// TextSource reads cached raw job text by cache key.
type TextSource interface {
	GetText(ctx context.Context, key string) (*string, error)
}

// HealthMonitor evaluates a day's final quota record, one call per kind.
type HealthMonitor interface {
	Check(ctx context.Context, rec quota.Record, currentCap, newConsumers int) (int, error)
}

// Report summarises one discovery cycle.
type Report struct {
	ContactsFound    int
	QuotaUsed        int
	VerificationsRun int
	AlertsFired      int
	Linked           int // new (contact, application) links, incl. zero-cost
	ContentWarmed    int
}

// Engine runs the discovery cycle. One failing company or application
// never aborts the cycle; only ledger errors and exhaustion stop work.
type Engine struct {
	store      Store
	finder     Finder
	ledger     LedgerStore
	verifier   Verifier
	generator  Generator
	texts      TextSource
	monitor    HealthMonitor
	models     []string // generation models whose quota buckets get health checks
	modelLimit int      // per-model daily call cap
	dailyLimit int
	companyCap int // hard per-company contact cap
	minPerCo   int // below this a company still needs discovery
	now        func() time.Time
	log        *slog.Logger
}

// NewEngine constructs an Engine. nowFn may be nil.
func NewEngine(store Store, finder Finder, ledger LedgerStore, verifier Verifier,
	generator Generator, texts TextSource, monitor HealthMonitor,
	models []string, modelLimit, dailyLimit, companyCap, minPerCo int,
	nowFn func() time.Time, log *slog.Logger) *Engine {
	if nowFn == nil {
		nowFn = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:      store,
		finder:     finder,
		ledger:     ledger,
		verifier:   verifier,
		generator:  generator,
		texts:      texts,
		monitor:    monitor,
		models:     models,
		modelLimit: modelLimit,
		dailyLimit: dailyLimit,
		companyCap: companyCap,
		minPerCo:   minPerCo,
		now:        nowFn,
		log:        log,
	}
}

// companyState accumulates per-company work across the cycle's passes.
type companyState struct {
	name  string
	apps  []model.Application
	held  int // active contacts before this cycle
	found int // contacts added this cycle
}

func (c *companyState) fulfilled() int { return c.held + c.found }

// RunDiscoveryCycle executes one full cycle.
func (e *Engine) RunDiscoveryCycle(ctx context.Context) (Report, error) {
	var report Report
	day := e.now()
	kind := quota.KindContactDiscovery

	// Resync the ledger with the authoritative balance; on failure keep
	// the local value and continue.
	if remote, err := e.finder.RemoteQuota(ctx); err != nil {
		e.log.Warn("remote quota read failed, keeping local ledger", "err", err)
	} else if err := e.ledger.SyncRemote(ctx, day, kind, e.dailyLimit, remote); err != nil {
		return report, fmt.Errorf("sync quota ledger: %w", err)
	}
	rec, err := e.ledger.Ensure(ctx, day, kind, e.dailyLimit)
	if err != nil {
		return report, fmt.Errorf("ensure quota record: %w", err)
	}

	// Verification runs before any new discovery work.
	stats, err := e.verifier.Run(ctx)
	if err != nil {
		e.log.Warn("verification run failed", "err", err)
	}
	report.VerificationsRun = stats.Checked

	companies, err := e.loadCompanies(ctx, &report)
	if err != nil {
		return report, err
	}

	// Pass 1: companies with no contacts at all, full cap available.
	var fresh []*companyState
	for _, c := range companies {
		if c.held == 0 {
			fresh = append(fresh, c)
		}
	}
	if err := e.allocateAndSearch(ctx, day, fresh, rec.Remaining, &report); err != nil &&
		!errors.Is(err, quota.ErrExhausted) {
		return report, err
	}

	// Top-up pass: whatever quota remains, spread over companies that
	// entered the cycle below the minimum and are still under cap,
	// most-depleted-and-most-recent first.
	left, err := e.ledger.Ensure(ctx, day, kind, e.dailyLimit)
	if err != nil {
		return report, fmt.Errorf("read quota record: %w", err)
	}
	var topups []*companyState
	for _, c := range companies {
		if c.held < e.minPerCo && c.fulfilled() > 0 && c.fulfilled() < e.companyCap {
			topups = append(topups, c)
		}
	}
	if err := e.allocateAndSearch(ctx, day, topups, left.Remaining, &report); err != nil &&
		!errors.Is(err, quota.ErrExhausted) {
		return report, err
	}

	e.warmContent(ctx, companies, &report)

	final, err := e.ledger.Ensure(ctx, day, kind, e.dailyLimit)
	if err != nil {
		return report, fmt.Errorf("read quota record: %w", err)
	}
	fired, err := e.monitor.Check(ctx, final, e.companyCap, len(fresh))
	if err != nil {
		e.log.Warn("quota health check failed", "err", err)
	}
	report.AlertsFired = fired

	// The generation buckets get the same treatment; content warming has
	// already run, so today's records reflect the cycle's real usage.
	for _, m := range e.models {
		rec, err := e.ledger.Ensure(ctx, day, quota.ModelKind(m), e.modelLimit)
		if err != nil {
			e.log.Warn("read model quota record failed", "model", m, "err", err)
			continue
		}
		fired, err := e.monitor.Check(ctx, rec, e.modelLimit, len(fresh))
		if err != nil {
			e.log.Warn("quota health check failed", "model", m, "err", err)
			continue
		}
		report.AlertsFired += fired
	}

	e.log.Info("discovery cycle complete",
		"contacts_found", report.ContactsFound, "quota_used", report.QuotaUsed,
		"verifications", report.VerificationsRun, "linked", report.Linked,
		"content_warmed", report.ContentWarmed, "alerts", report.AlertsFired)
	return report, nil
}

// loadCompanies groups active applications by company and links every
// already-known contact to every application — the zero-cost path.
func (e *Engine) loadCompanies(ctx context.Context, report *Report) ([]*companyState, error) {
	apps, err := e.store.ActiveApplications(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active applications: %w", err)
	}

	byName := make(map[string]*companyState)
	var companies []*companyState
	for _, a := range apps {
		c, ok := byName[a.Company]
		if !ok {
			c = &companyState{name: a.Company}
			byName[a.Company] = c
			companies = append(companies, c)
		}
		c.apps = append(c.apps, a)
	}

	for _, c := range companies {
		contacts, err := e.store.ActiveContactsByCompany(ctx, c.name)
		if err != nil {
			e.log.Warn("contact load failed", "company", c.name, "err", err)
			continue
		}
		c.held = len(contacts)
		for _, app := range c.apps {
			for _, contact := range contacts {
				created, err := e.store.Link(ctx, app.ID, contact.ID)
				if err != nil {
					e.log.Warn("link failed", "company", c.name, "contact", contact.ID, "err", err)
					continue
				}
				if created {
					report.Linked++
				}
			}
		}
	}
	return companies, nil
}

// allocateAndSearch distributes remaining quota over the given companies
// and runs the search ladder for each allotment. Returns
// quota.ErrExhausted the moment the ledger runs dry; remaining companies
// in the pass get nothing.
func (e *Engine) allocateAndSearch(ctx context.Context, day time.Time, companies []*companyState, remaining int, report *Report) error {
	if len(companies) == 0 || remaining <= 0 {
		return nil
	}

	consumers := make([]model.Consumer, len(companies))
	for i, c := range companies {
		consumers[i] = model.Consumer{
			ID:            c.name,
			Fulfilled:     c.fulfilled(),
			RecencyWeight: recencyWeight(latestApplied(c.apps), day),
		}
	}

	counts := quota.Allocate(remaining, consumers, e.companyCap)
	for i, c := range companies {
		if counts[i] == 0 {
			continue
		}
		if err := e.searchCompany(ctx, day, c, counts[i], report); err != nil {
			if errors.Is(err, quota.ErrExhausted) {
				e.log.Info("discovery quota exhausted mid-pass",
					"company", c.name, "companies_left", len(companies)-i-1)
				return err
			}
			e.log.Warn("company search failed", "company", c.name, "err", err)
		}
	}
	return nil
}

// searchCompany walks the pass ladder for one company, each pass spending
// one unattempted search term. Stops at the first pass that yields a
// usable contact.
func (e *Engine) searchCompany(ctx context.Context, day time.Time, c *companyState, allot int, report *Report) error {
	attempted, err := e.store.AttemptedTerms(ctx, c.name)
	if err != nil {
		return err
	}
	tried := make(map[string]bool, len(attempted))
	for _, t := range attempted {
		tried[t] = true
	}
	var terms []string
	for _, t := range searchTerms {
		if !tried[t] {
			terms = append(terms, t)
		}
	}

	for pi, pass := range searchPasses {
		if pi >= len(terms) {
			break // term set exhausted for this company
		}
		term := terms[pi]

		results, cost, err := e.finder.FindContacts(ctx, SearchQuery{
			Company:       c.name,
			Term:          term,
			RoleFiltered:  pass.roleFiltered,
			RequireEmail:  pass.requireEmail,
			ExcludeSenior: pass.excludeSenior,
			MaxResults:    allot,
		})
		if rerr := e.store.RecordTerm(ctx, c.name, term); rerr != nil {
			e.log.Warn("record term failed", "company", c.name, "term", term, "err", rerr)
		}
		if err != nil {
			e.log.Warn("contact search failed", "company", c.name, "term", term, "err", err)
			continue
		}
		if cost > 0 {
			if err := e.ledger.Debit(ctx, day, quota.KindContactDiscovery, cost); err != nil {
				return err
			}
			report.QuotaUsed += cost
		}

		if e.storeResults(ctx, c, results, allot, report) > 0 {
			return nil
		}
	}
	return nil
}

// storeResults persists usable results up to the allotment. A known email
// is linked without counting against the allotment.
func (e *Engine) storeResults(ctx context.Context, c *companyState, results []model.SearchResult, allot int, report *Report) int {
	stored := 0
	for _, r := range results {
		if r.Email == "" {
			continue
		}
		if stored >= allot {
			break
		}

		id, err := e.store.ContactIDByEmail(ctx, r.Email)
		if err != nil {
			e.log.Warn("contact lookup failed", "email", r.Email, "err", err)
			continue
		}
		isNew := id == ""
		if isNew {
			confidence := "auto"
			if r.Fallback {
				confidence = "manual_review"
			}
			id, err = e.store.AddContact(ctx, model.Contact{
				Company:    c.name,
				Name:       r.Name,
				Title:      r.Title,
				Email:      r.Email,
				Confidence: confidence,
			})
			if err != nil {
				e.log.Warn("contact insert failed", "email", r.Email, "err", err)
				continue
			}
		}

		for _, app := range c.apps {
			created, err := e.store.Link(ctx, app.ID, id)
			if err != nil {
				e.log.Warn("link failed", "company", c.name, "contact", id, "err", err)
				continue
			}
			if created {
				report.Linked++
			}
		}

		if isNew {
			stored++
			c.found++
			report.ContactsFound++
		}
	}
	return stored
}

// warmContent generates (or refreshes from cache) the content bundle for
// every active application so the morning send cycle never waits on the
// generator. Stops once the generation quota is spent.
func (e *Engine) warmContent(ctx context.Context, companies []*companyState, report *Report) {
	for _, c := range companies {
		for _, app := range c.apps {
			text, err := e.texts.GetText(ctx, content.JobTextKey(app.JobURL))
			if err != nil {
				e.log.Warn("job text lookup failed", "application", app.ID, "err", err)
				text = nil
			}
			if _, err := e.generator.Generate(ctx, app.Company, app.JobTitle, text); err != nil {
				if errors.Is(err, quota.ErrExhausted) {
					e.log.Info("generation quota exhausted, remaining applications wait for tomorrow")
					return
				}
				e.log.Warn("content generation failed", "application", app.ID, "company", app.Company, "err", err)
				continue
			}
			report.ContentWarmed++
		}
	}
}

// recencyWeight favors companies with fresher applications: 1.0 on the
// application day, roughly halving every week.
func recencyWeight(latest, now time.Time) float64 {
	days := now.Sub(latest).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days/7)
}

func latestApplied(apps []model.Application) time.Time {
	var latest time.Time
	for _, a := range apps {
		if a.AppliedDate.After(latest) {
			latest = a.AppliedDate
		}
	}
	return latest
}
