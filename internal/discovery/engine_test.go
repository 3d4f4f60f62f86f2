package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"recruitflow/outreach-service/internal/content"
	"recruitflow/outreach-service/internal/model"
	"recruitflow/outreach-service/internal/quota"
	"recruitflow/outreach-service/internal/verify"
)

type fakeDiscoveryStore struct {
	apps     []model.Application
	contacts map[string][]model.Contact // company -> active contacts
	emails   map[string]string          // email -> contact id
	links    map[string]bool            // appID|contactID
	terms    map[string][]string        // company -> attempted
	added    []model.Contact
	nextID   int
}

func newFakeDiscoveryStore() *fakeDiscoveryStore {
	return &fakeDiscoveryStore{
		contacts: map[string][]model.Contact{},
		emails:   map[string]string{},
		links:    map[string]bool{},
		terms:    map[string][]string{},
	}
}

func (s *fakeDiscoveryStore) ActiveApplications(ctx context.Context) ([]model.Application, error) {
	return s.apps, nil
}

func (s *fakeDiscoveryStore) ActiveContactsByCompany(ctx context.Context, company string) ([]model.Contact, error) {
	return s.contacts[company], nil
}

func (s *fakeDiscoveryStore) ContactIDByEmail(ctx context.Context, email string) (string, error) {
	return s.emails[email], nil
}

func (s *fakeDiscoveryStore) AddContact(ctx context.Context, c model.Contact) (string, error) {
	if id := s.emails[c.Email]; id != "" {
		return id, nil
	}
	s.nextID++
	id := fmt.Sprintf("contact-%d", s.nextID)
	c.ID = id
	s.emails[c.Email] = id
	s.added = append(s.added, c)
	return id, nil
}

func (s *fakeDiscoveryStore) Link(ctx context.Context, applicationID, contactID string) (bool, error) {
	key := applicationID + "|" + contactID
	if s.links[key] {
		return false, nil
	}
	s.links[key] = true
	return true, nil
}

func (s *fakeDiscoveryStore) AttemptedTerms(ctx context.Context, company string) ([]string, error) {
	return s.terms[company], nil
}

func (s *fakeDiscoveryStore) RecordTerm(ctx context.Context, company, term string) error {
	s.terms[company] = append(s.terms[company], term)
	return nil
}

// fakeContactFinder yields one fresh profile per requested slot, charging
// one credit each, unless a canned response is set for the company.
type fakeContactFinder struct {
	queries   []SearchQuery
	remote    int
	remoteErr error
	costEach  int // cost per returned profile (default 1)
	empty     map[string]bool
	serial    int
}

func (f *fakeContactFinder) FindContacts(ctx context.Context, q SearchQuery) ([]model.SearchResult, int, error) {
	f.queries = append(f.queries, q)
	if f.empty[q.Company] {
		return nil, 0, nil
	}
	cost := f.costEach
	if cost == 0 {
		cost = 1
	}
	var results []model.SearchResult
	for i := 0; i < q.MaxResults; i++ {
		f.serial++
		results = append(results, model.SearchResult{
			Name:     fmt.Sprintf("Person %d", f.serial),
			Title:    "Recruiter",
			Email:    fmt.Sprintf("person%d@%s.example.com", f.serial, q.Company),
			Fallback: !q.RoleFiltered,
		})
	}
	return results, cost * len(results), nil
}

func (f *fakeContactFinder) RemoteQuota(ctx context.Context) (int, error) {
	if f.remoteErr != nil {
		return 0, f.remoteErr
	}
	return f.remote, nil
}

type fakeLedger struct {
	limit     int
	used      int
	remaining int
	synced    bool
}

func (l *fakeLedger) SyncRemote(ctx context.Context, day time.Time, kind quota.Kind, limit, remaining int) error {
	l.limit = limit
	l.remaining = remaining
	l.used = limit - remaining
	l.synced = true
	return nil
}

func (l *fakeLedger) Ensure(ctx context.Context, day time.Time, kind quota.Kind, limit int) (quota.Record, error) {
	if l.limit == 0 {
		l.limit = limit
		l.remaining = limit
	}
	return quota.Record{Day: day, Kind: kind, Limit: l.limit, Used: l.used, Remaining: l.remaining}, nil
}

func (l *fakeLedger) Debit(ctx context.Context, day time.Time, kind quota.Kind, n int) error {
	if l.remaining < n {
		return quota.ErrExhausted
	}
	l.remaining -= n
	l.used += n
	return nil
}

type fakeVerifier struct {
	stats verify.Stats
}

func (v *fakeVerifier) Run(ctx context.Context) (verify.Stats, error) {
	return v.stats, nil
}

type fakeGenerator struct {
	calls     int
	exhausted bool
}

func (g *fakeGenerator) Generate(ctx context.Context, company, title string, jobText *string) (*content.Bundle, error) {
	if g.exhausted {
		return nil, fmt.Errorf("all models spent: %w", quota.ErrExhausted)
	}
	g.calls++
	return &content.Bundle{}, nil
}

type fakeTexts struct{}

func (fakeTexts) GetText(ctx context.Context, key string) (*string, error) { return nil, nil }

type fakeMonitor struct {
	recs    []quota.Record
	fresh   []int
	alerted int
}

func (m *fakeMonitor) Check(ctx context.Context, rec quota.Record, currentCap, newConsumers int) (int, error) {
	m.recs = append(m.recs, rec)
	m.fresh = append(m.fresh, newConsumers)
	return m.alerted, nil
}

// testDay pins the cycle clock: recency weights must be exactly equal
// for same-age applications so ties resolve by ascending ID alone.
var testDay = time.Date(2026, time.March, 10, 2, 0, 0, 0, time.UTC)

func app(id, company string, daysAgo int) model.Application {
	return model.Application{
		ID:          id,
		Company:     company,
		JobURL:      "https://jobs.example.com/" + id,
		JobTitle:    "Backend Engineer",
		AppliedDate: testDay.AddDate(0, 0, -daysAgo),
		Status:      "active",
	}
}

type cycleFixture struct {
	store   *fakeDiscoveryStore
	finder  *fakeContactFinder
	ledger  *fakeLedger
	monitor *fakeMonitor
	gen     *fakeGenerator
	engine  *Engine
}

func newCycleFixture(dailyLimit, cap, min int) *cycleFixture {
	f := &cycleFixture{
		store:   newFakeDiscoveryStore(),
		finder:  &fakeContactFinder{remote: dailyLimit},
		ledger:  &fakeLedger{},
		monitor: &fakeMonitor{},
		gen:     &fakeGenerator{},
	}
	f.engine = NewEngine(f.store, f.finder, f.ledger, &fakeVerifier{stats: verify.Stats{Checked: 4}},
		f.gen, fakeTexts{}, f.monitor, nil, 0, dailyLimit, cap, min,
		func() time.Time { return testDay }, nil)
	return f
}

func TestCycleThreeNewCompaniesQuotaSeven(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.finder.remote = 7
	f.store.apps = []model.Application{
		app("app1", "alpha", 1),
		app("app2", "beta", 1),
		app("app3", "gamma", 1),
	}

	report, err := f.engine.RunDiscoveryCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDiscoveryCycle: %v", err)
	}

	if report.ContactsFound != 7 {
		t.Errorf("ContactsFound = %d, want 7", report.ContactsFound)
	}
	if report.QuotaUsed != 7 {
		t.Errorf("QuotaUsed = %d, want 7", report.QuotaUsed)
	}
	if f.ledger.remaining != 0 {
		t.Errorf("ledger remaining = %d, want 0", f.ledger.remaining)
	}

	// Equal weights: the extra unit goes to the ascending-ID tie-break
	// winner, so alpha gets 3, beta and gamma get 2.
	perCompany := map[string]int{}
	for _, c := range f.store.added {
		perCompany[c.Company]++
	}
	want := map[string]int{"alpha": 3, "beta": 2, "gamma": 2}
	for company, n := range want {
		if perCompany[company] != n {
			t.Errorf("%s got %d contacts, want %d", company, perCompany[company], n)
		}
	}

	if report.VerificationsRun != 4 {
		t.Errorf("VerificationsRun = %d, want 4", report.VerificationsRun)
	}
	if f.gen.calls != 3 {
		t.Errorf("content generated for %d applications, want 3", f.gen.calls)
	}
}

func TestCycleLinksKnownContactsAtZeroCost(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.finder.remote = 0 // no credits: only the zero-cost path may run
	f.store.apps = []model.Application{app("app1", "delta", 1)}
	f.store.contacts["delta"] = []model.Contact{
		{ID: "c1", Company: "delta", Email: "c1@delta.example.com", Status: model.ContactActive},
		{ID: "c2", Company: "delta", Email: "c2@delta.example.com", Status: model.ContactActive},
	}

	report, err := f.engine.RunDiscoveryCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDiscoveryCycle: %v", err)
	}

	if report.Linked != 2 {
		t.Errorf("Linked = %d, want 2", report.Linked)
	}
	if report.QuotaUsed != 0 {
		t.Errorf("QuotaUsed = %d, want 0", report.QuotaUsed)
	}
	if len(f.finder.queries) != 0 {
		t.Errorf("finder queried %d times with zero quota, want 0", len(f.finder.queries))
	}
}

func TestCycleSkipsSatisfiedCompanies(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.store.apps = []model.Application{app("app1", "delta", 1)}
	// Already at the minimum: no discovery quota should be spent.
	f.store.contacts["delta"] = []model.Contact{
		{ID: "c1", Company: "delta", Email: "c1@delta.example.com", Status: model.ContactActive},
		{ID: "c2", Company: "delta", Email: "c2@delta.example.com", Status: model.ContactActive},
	}

	report, err := f.engine.RunDiscoveryCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDiscoveryCycle: %v", err)
	}
	if len(f.finder.queries) != 0 {
		t.Errorf("finder queried %d times for a satisfied company, want 0", len(f.finder.queries))
	}
	if report.ContactsFound != 0 {
		t.Errorf("ContactsFound = %d, want 0", report.ContactsFound)
	}
}

func TestCycleTermSetShrinksAcrossRuns(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.store.apps = []model.Application{app("app1", "alpha", 1)}
	f.store.terms["alpha"] = []string{"technical recruiter", "talent acquisition"}
	f.finder.empty = map[string]bool{"alpha": true} // every pass comes back empty

	if _, err := f.engine.RunDiscoveryCycle(context.Background()); err != nil {
		t.Fatalf("RunDiscoveryCycle: %v", err)
	}

	// Three passes, each spending one of the three remaining terms.
	wantTerms := []string{"recruiter", "sourcer", "hiring manager"}
	if len(f.finder.queries) != len(wantTerms) {
		t.Fatalf("finder queried %d times, want %d", len(f.finder.queries), len(wantTerms))
	}
	for i, q := range f.finder.queries {
		if q.Term != wantTerms[i] {
			t.Errorf("query %d used term %q, want %q", i, q.Term, wantTerms[i])
		}
	}
	if len(f.store.terms["alpha"]) != 5 {
		t.Errorf("attempted terms = %d, want all 5 recorded", len(f.store.terms["alpha"]))
	}
}

func TestCyclePassLadderLoosens(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.store.apps = []model.Application{app("app1", "alpha", 1)}
	f.finder.empty = map[string]bool{"alpha": true}

	if _, err := f.engine.RunDiscoveryCycle(context.Background()); err != nil {
		t.Fatalf("RunDiscoveryCycle: %v", err)
	}
	if len(f.finder.queries) != 3 {
		t.Fatalf("finder queried %d times, want 3 passes", len(f.finder.queries))
	}
	q := f.finder.queries
	if !q[0].RoleFiltered || !q[0].RequireEmail || !q[0].ExcludeSenior {
		t.Errorf("pass 1 = %+v, want strict (role+email+no senior)", q[0])
	}
	if !q[1].RoleFiltered || !q[1].RequireEmail || q[1].ExcludeSenior {
		t.Errorf("pass 2 = %+v, want senior titles included", q[1])
	}
	if q[2].RoleFiltered || q[2].ExcludeSenior != true {
		t.Errorf("pass 3 = %+v, want unfiltered without senior titles", q[2])
	}
}

func TestCycleStopsAllocationOnExhaustion(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.finder.remote = 3
	f.finder.costEach = 2 // each stored profile costs double
	f.store.apps = []model.Application{
		app("app1", "alpha", 1),
		app("app2", "beta", 1),
		app("app3", "gamma", 1),
	}

	report, err := f.engine.RunDiscoveryCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDiscoveryCycle: %v", err)
	}

	// alpha's lookup costs 2 of 3 credits; beta's costs 2 and fails the
	// debit, stopping the pass before gamma is ever queried. The top-up
	// pass retries alpha once with the last credit and exhausts again.
	if len(f.finder.queries) != 3 {
		t.Fatalf("finder queried %d times, want 3", len(f.finder.queries))
	}
	if f.finder.queries[0].Company != "alpha" || f.finder.queries[1].Company != "beta" ||
		f.finder.queries[2].Company != "alpha" {
		t.Errorf("query order = %v, want alpha, beta, alpha (gamma never queried)",
			[]string{f.finder.queries[0].Company, f.finder.queries[1].Company, f.finder.queries[2].Company})
	}
	if report.ContactsFound != 1 {
		t.Errorf("ContactsFound = %d, want 1", report.ContactsFound)
	}
}

func TestCycleKeepsLocalLedgerWhenRemoteFails(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.finder.remoteErr = errors.New("contact source is down")
	f.store.apps = []model.Application{app("app1", "alpha", 1)}

	if _, err := f.engine.RunDiscoveryCycle(context.Background()); err != nil {
		t.Fatalf("RunDiscoveryCycle should not fail on remote read: %v", err)
	}
	if f.ledger.synced {
		t.Error("ledger must keep its local value when the remote read fails")
	}
}

func TestCycleReportsFreshConsumerCountToMonitor(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.store.apps = []model.Application{
		app("app1", "alpha", 1),
		app("app2", "beta", 1),
	}
	f.store.contacts["beta"] = []model.Contact{
		{ID: "c1", Company: "beta", Email: "c1@beta.example.com", Status: model.ContactActive},
	}
	f.monitor.alerted = 1

	report, err := f.engine.RunDiscoveryCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDiscoveryCycle: %v", err)
	}
	if len(f.monitor.fresh) != 1 || f.monitor.fresh[0] != 1 {
		t.Errorf("monitor saw fresh consumers %v, want [1] (beta already had a contact)", f.monitor.fresh)
	}
	if report.AlertsFired != 1 {
		t.Errorf("AlertsFired = %d, want 1", report.AlertsFired)
	}
}

func TestCycleChecksEveryQuotaKind(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.engine = NewEngine(f.store, f.finder, f.ledger, &fakeVerifier{},
		f.gen, fakeTexts{}, f.monitor, []string{"flash-lite", "flash"}, 20, 50, 3, 2,
		func() time.Time { return testDay }, nil)
	f.store.apps = []model.Application{app("app1", "alpha", 1)}
	f.monitor.alerted = 1

	report, err := f.engine.RunDiscoveryCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDiscoveryCycle: %v", err)
	}

	wantKinds := []quota.Kind{
		quota.KindContactDiscovery,
		quota.ModelKind("flash-lite"),
		quota.ModelKind("flash"),
	}
	if len(f.monitor.recs) != len(wantKinds) {
		t.Fatalf("monitor checked %d records, want %d", len(f.monitor.recs), len(wantKinds))
	}
	for i, k := range wantKinds {
		if f.monitor.recs[i].Kind != k {
			t.Errorf("check %d was for kind %q, want %q", i, f.monitor.recs[i].Kind, k)
		}
	}
	if report.AlertsFired != 3 {
		t.Errorf("AlertsFired = %d, want one per kind", report.AlertsFired)
	}
}

func TestCycleStopsWarmingOnGenerationExhaustion(t *testing.T) {
	f := newCycleFixture(50, 3, 2)
	f.gen.exhausted = true
	f.store.apps = []model.Application{app("app1", "alpha", 1)}

	report, err := f.engine.RunDiscoveryCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDiscoveryCycle: %v", err)
	}
	if report.ContentWarmed != 0 {
		t.Errorf("ContentWarmed = %d, want 0 when the generation quota is spent", report.ContentWarmed)
	}
}
