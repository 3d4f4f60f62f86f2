package outreach_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"recruitflow/outreach-service/internal/content"
	"recruitflow/outreach-service/internal/outreach"
)

// fakeStore is an in-memory Store tracking every transition the scheduler
// makes. Its read methods mirror the Postgres predicates so multi-cycle
// tests see the same rows a real store would return.
type fakeStore struct {
	due         []outreach.Item
	links       []outreach.Item
	replied     map[string]bool   // contactID|applicationID
	replyOnSend map[string]string // item id -> pair key flipped replied at send time
	scheduled   []outreach.Item   // items created via Schedule
	sent        map[string]time.Time
	failed      map[string]bool
	bounced     map[string]bool
	completed   map[string]bool
	cancelled   map[string]bool
	moved       map[string]time.Time // id -> rescheduled to
	nextID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		replied:     map[string]bool{},
		replyOnSend: map[string]string{},
		sent:        map[string]time.Time{},
		failed:      map[string]bool{},
		bounced:     map[string]bool{},
		completed:   map[string]bool{},
		cancelled:   map[string]bool{},
		moved:       map[string]time.Time{},
	}
}

func (s *fakeStore) items() []outreach.Item {
	all := make([]outreach.Item, 0, len(s.due)+len(s.scheduled))
	all = append(all, s.due...)
	all = append(all, s.scheduled...)
	return all
}

// pending reports whether the item is still in scheduled status.
func (s *fakeStore) pending(id string) bool {
	if _, ok := s.sent[id]; ok {
		return false
	}
	return !s.failed[id] && !s.bounced[id] && !s.cancelled[id]
}

// pairClosed mirrors the open-pair predicate: a pair with a pending,
// sent, completed or replied item never re-enters the sequence.
func (s *fakeStore) pairClosed(contactID, applicationID string) bool {
	if s.replied[contactID+"|"+applicationID] {
		return true
	}
	for _, it := range s.items() {
		if it.ContactID != contactID || it.ApplicationID != applicationID {
			continue
		}
		if s.failed[it.ID] || s.bounced[it.ID] || s.cancelled[it.ID] {
			continue
		}
		return true
	}
	return false
}

// ListDue keeps replied pairs in its result on purpose: a reply can land
// between the due query and the send, and the scheduler must catch it.
func (s *fakeStore) ListDue(ctx context.Context, now time.Time) ([]outreach.Item, error) {
	var due []outreach.Item
	for _, it := range s.due {
		if s.pending(it.ID) {
			due = append(due, it)
		}
	}
	return due, nil
}

func (s *fakeStore) LinksNeedingInitial(ctx context.Context) ([]outreach.Item, error) {
	var open []outreach.Item
	for _, l := range s.links {
		if !s.pairClosed(l.ContactID, l.ApplicationID) {
			open = append(open, l)
		}
	}
	return open, nil
}

func (s *fakeStore) Schedule(ctx context.Context, contactID, applicationID string, stage outreach.Stage, scheduledFor time.Time) (string, error) {
	if s.replied[contactID+"|"+applicationID] {
		return "", fmt.Errorf("pair %s/%s has a finished sequence", contactID, applicationID)
	}
	for _, it := range s.items() {
		if it.ContactID != contactID || it.ApplicationID != applicationID {
			continue
		}
		if s.completed[it.ID] || s.pending(it.ID) {
			return "", fmt.Errorf("pair %s/%s has a pending item or a finished sequence", contactID, applicationID)
		}
	}
	s.nextID++
	id := fmt.Sprintf("item-%d", s.nextID)
	s.scheduled = append(s.scheduled, outreach.Item{
		ID:            id,
		ContactID:     contactID,
		ApplicationID: applicationID,
		Stage:         stage,
		Status:        outreach.StatusScheduled,
		ScheduledFor:  scheduledFor,
	})
	return id, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	s.sent[id] = at
	if pair, ok := s.replyOnSend[id]; ok {
		s.replied[pair] = true
	}
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id string) error {
	s.failed[id] = true
	return nil
}

func (s *fakeStore) MarkBounced(ctx context.Context, id string) error {
	s.bounced[id] = true
	return nil
}

func (s *fakeStore) MarkCompleted(ctx context.Context, id string) error {
	s.completed[id] = true
	return nil
}

func (s *fakeStore) MarkCancelled(ctx context.Context, id string) error {
	s.cancelled[id] = true
	return nil
}

func (s *fakeStore) Reschedule(ctx context.Context, id string, to time.Time) error {
	s.moved[id] = to
	return nil
}

func (s *fakeStore) Replied(ctx context.Context, contactID, applicationID string) (bool, error) {
	return s.replied[contactID+"|"+applicationID], nil
}

type fakeDeliverer struct {
	sent []outreach.Item
	fail map[string]error // contact email -> error to return
}

func (d *fakeDeliverer) Send(ctx context.Context, item outreach.Item, subject, body string) error {
	if err := d.fail[item.ContactEmail]; err != nil {
		return err
	}
	d.sent = append(d.sent, item)
	return nil
}

type fakeContents struct {
	bundles map[string]*content.Bundle // keyed by company
	err     error
}

func (c *fakeContents) BundleFor(ctx context.Context, company, jobTitle, jobURL string) (*content.Bundle, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.bundles[company], nil
}

type fakeBounces struct {
	contacts  []string
	cancelled int
}

func (b *fakeBounces) HandleBounce(ctx context.Context, contactID string) (int, error) {
	b.contacts = append(b.contacts, contactID)
	return b.cancelled, nil
}

// fakeClock is an adjustable now() whose sleep advances it.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) { c.t = c.t.Add(d) }

func fullBundle() *content.Bundle {
	return &content.Bundle{
		SubjectInitial:   "Regarding your Backend Engineer opening",
		SubjectFollowup1: "Following up",
		SubjectFollowup2: "One last note",
		Intro:            "Hi, I recently applied...",
		Followup1:        "Just checking in...",
		Followup2:        "Closing the loop...",
	}
}

func dueItem(id, contactID, appID string, stage outreach.Stage, at time.Time) outreach.Item {
	return outreach.Item{
		ID:            id,
		ContactID:     contactID,
		ApplicationID: appID,
		Stage:         stage,
		Status:        outreach.StatusScheduled,
		ScheduledFor:  at,
		ContactName:   "Dana Reyes",
		ContactEmail:  contactID + "@example.com",
		Company:       "Acme",
		JobTitle:      "Backend Engineer",
		JobURL:        "https://jobs.example.com/1",
	}
}

type schedulerFixture struct {
	store    *fakeStore
	deliver  *fakeDeliverer
	contents *fakeContents
	bounces  *fakeBounces
	clock    *fakeClock
	sched    *outreach.Scheduler
}

func newFixture(t *testing.T, at time.Time) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		store:    newFakeStore(),
		deliver:  &fakeDeliverer{fail: map[string]error{}},
		contents: &fakeContents{bundles: map[string]*content.Bundle{"Acme": fullBundle()}},
		bounces:  &fakeBounces{},
		clock:    &fakeClock{t: at},
	}
	f.sched = outreach.NewScheduler(f.store, f.deliver, f.contents, f.bounces,
		testWindow(t), 7, f.clock.now, f.clock.sleep, nil)
	return f
}

func TestRunSendCycleSendsAndSchedulesFollowup(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f := newFixture(t, at)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageInitial, at)}

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("Sent = %d, want 1", report.Sent)
	}
	if len(f.store.scheduled) != 1 {
		t.Fatalf("scheduled %d follow-ups, want 1", len(f.store.scheduled))
	}
	next := f.store.scheduled[0]
	if next.Stage != outreach.StageFollowup1 {
		t.Errorf("follow-up stage = %v, want %v", next.Stage, outreach.StageFollowup1)
	}
	sentAt := f.store.sent["item-a"]
	if want := sentAt.Add(7 * 24 * time.Hour); !next.ScheduledFor.Equal(want) {
		t.Errorf("follow-up scheduled for %v, want sent+7d = %v", next.ScheduledFor, want)
	}
}

func TestRunSendCycleRepliedPairCancelsWithoutSending(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f := newFixture(t, at)
	// The reply landed on the initial item; a follow-up scheduled before
	// it arrived is still pending with its own flag false.
	f.store.due = []outreach.Item{dueItem("item-b", "c1", "app1", outreach.StageFollowup1, at)}
	f.store.replied["c1|app1"] = true

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Sent != 0 {
		t.Fatalf("Sent = %d, want 0 for a replied pair", report.Sent)
	}
	if len(f.deliver.sent) != 0 {
		t.Errorf("delivered %d emails to a replied pair, want 0", len(f.deliver.sent))
	}
	if report.Cancelled != 1 || !f.store.cancelled["item-b"] {
		t.Errorf("pending item should be cancelled, report = %+v", report)
	}
	if len(f.store.scheduled) != 0 {
		t.Errorf("scheduled %d follow-ups after reply, want 0", len(f.store.scheduled))
	}
}

func TestRunSendCycleReplyAtSendTimeSuppressesFollowup(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f := newFixture(t, at)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageInitial, at)}
	f.store.replyOnSend["item-a"] = "c1|app1"

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("Sent = %d, want 1", report.Sent)
	}
	if len(f.store.scheduled) != 0 {
		t.Errorf("scheduled %d follow-ups after reply, want 0", len(f.store.scheduled))
	}
}

func TestRunSendCycleFinishedPairNeverRestarts(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f := newFixture(t, at)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageFollowup2, at)}
	f.store.links = []outreach.Item{
		{ContactID: "c1", ApplicationID: "app1"},
		{ContactID: "c2", ApplicationID: "app2"},
	}
	f.store.replied["c2|app2"] = true

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Sent != 1 || !f.store.completed["item-a"] {
		t.Fatalf("last stage should send and complete, report = %+v", report)
	}

	// The next day both pairs are finished: neither may be offered a
	// fresh initial.
	f.clock.t = at.AddDate(0, 0, 1)
	report, err = f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunSendCycle: %v", err)
	}
	if report.Scheduled != 0 {
		t.Errorf("Scheduled = %d on the day after completion, want 0", report.Scheduled)
	}
	if report.Sent != 0 || len(f.store.scheduled) != 0 {
		t.Errorf("finished pairs restarted: report = %+v, new items = %d",
			report, len(f.store.scheduled))
	}
}

func TestRunSendCycleLastStageCompletes(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f := newFixture(t, at)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageFollowup2, at)}

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("Sent = %d, want 1", report.Sent)
	}
	if len(f.store.scheduled) != 0 {
		t.Errorf("scheduled %d items after last stage, want 0", len(f.store.scheduled))
	}
	if !f.store.completed["item-a"] {
		t.Error("last-stage item should be marked completed")
	}
}

func TestRunSendCycleHoldsItemWithoutContent(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f := newFixture(t, at)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageInitial, at)}
	f.contents.bundles = map[string]*content.Bundle{} // nothing cached

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	if report.Sent != 0 || report.Failed != 0 {
		t.Errorf("held item must not count as sent or failed: %+v", report)
	}
	if f.store.failed["item-a"] {
		t.Error("held item must stay scheduled, not be failed")
	}
}

func TestRunSendCycleHardBounceCascades(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f := newFixture(t, at)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageInitial, at)}
	f.deliver.fail["c1@example.com"] = &outreach.HardBounceError{Recipient: "c1@example.com"}
	f.bounces.cancelled = 2

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Bounced != 1 {
		t.Errorf("Bounced = %d, want 1", report.Bounced)
	}
	if report.Cancelled != 2 {
		t.Errorf("Cancelled = %d, want 2 from the cascade", report.Cancelled)
	}
	if !f.store.bounced["item-a"] {
		t.Error("bounced item should be marked bounced")
	}
	if len(f.bounces.contacts) != 1 || f.bounces.contacts[0] != "c1" {
		t.Errorf("HandleBounce contacts = %v, want [c1]", f.bounces.contacts)
	}
	if len(f.store.scheduled) != 0 {
		t.Error("no follow-up after a bounce")
	}
}

func TestRunSendCycleTransientFailureIsTerminalForItemOnly(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f := newFixture(t, at)
	f.store.due = []outreach.Item{
		dueItem("item-a", "c1", "app1", outreach.StageInitial, at),
		dueItem("item-b", "c2", "app1", outreach.StageInitial, at),
	}
	f.deliver.fail["c1@example.com"] = errors.New("smtp: connection reset")

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Failed != 1 || report.Sent != 1 {
		t.Errorf("report = %+v, want 1 failed and 1 sent", report)
	}
	if !f.store.failed["item-a"] {
		t.Error("failed item should be marked failed")
	}
	if _, ok := f.store.sent["item-b"]; !ok {
		t.Error("one failure must not abort the rest of the cycle")
	}
	if len(f.bounces.contacts) != 0 {
		t.Error("transient failure must not trigger the bounce cascade")
	}
}

func TestRunSendCycleWaitsUntilWindowOpens(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 8, 45, 0, 0, w.Loc)
	f := newFixture(t, at)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageInitial, at)}

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("Sent = %d, want 1 after waiting for the window", report.Sent)
	}
	sentAt := f.store.sent["item-a"]
	opens := w.OpensAt(at)
	if sentAt.Before(opens) {
		t.Errorf("sent at %v, before the window opens at %v", sentAt, opens)
	}
}

func TestRunSendCycleGraceMinusOneSecondSends(t *testing.T) {
	w := testWindow(t)
	// One second before the hard cutoff: still inside grace.
	at := time.Date(2026, time.March, 9, 11, 59, 59, 0, w.Loc)
	f := newFixture(t, at)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageInitial, at)}

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Sent != 1 {
		t.Errorf("Sent = %d, want 1 inside the grace period", report.Sent)
	}
}

func TestRunSendCyclePastCutoffReschedulesTomorrow(t *testing.T) {
	w := testWindow(t)
	// One second past the hard cutoff.
	at := time.Date(2026, time.March, 9, 12, 0, 1, 0, w.Loc)
	f := newFixture(t, at)
	scheduledFor := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageInitial, scheduledFor)}

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Rescheduled != 1 || report.Sent != 0 {
		t.Fatalf("report = %+v, want 1 rescheduled and 0 sent", report)
	}
	moved, ok := f.store.moved["item-a"]
	if !ok {
		t.Fatal("item should have been rescheduled")
	}
	want := scheduledFor.AddDate(0, 0, 1)
	if !moved.Equal(want) {
		t.Errorf("rescheduled to %v, want same time tomorrow %v", moved, want)
	}
}

func TestRunSendCycleStaleItemReschedulesFromToday(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 12, 0, 1, 0, w.Loc)
	f := newFixture(t, at)
	// Three days overdue: tomorrow must be relative to now, not to the
	// stale scheduled time.
	scheduledFor := time.Date(2026, time.March, 6, 9, 30, 0, 0, w.Loc)
	f.store.due = []outreach.Item{dueItem("item-a", "c1", "app1", outreach.StageInitial, scheduledFor)}

	if _, err := f.sched.RunSendCycle(context.Background()); err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	moved, ok := f.store.moved["item-a"]
	if !ok {
		t.Fatal("item should have been rescheduled")
	}
	want := time.Date(2026, time.March, 10, 9, 30, 0, 0, w.Loc)
	if !moved.Equal(want) {
		t.Errorf("rescheduled to %v, want tomorrow at the item's time %v", moved, want)
	}
}

func TestRunSendCycleMidRunCutoffReschedulesRemainder(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 11, 59, 58, 0, w.Loc)
	f := newFixture(t, at)
	scheduledFor := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f.store.due = []outreach.Item{
		dueItem("item-a", "c1", "app1", outreach.StageInitial, scheduledFor),
		dueItem("item-b", "c2", "app1", outreach.StageInitial, scheduledFor),
		dueItem("item-c", "c3", "app2", outreach.StageInitial, scheduledFor),
	}
	// Each delivery takes long enough to push the clock past the cutoff.
	slow := &slowDeliverer{clock: f.clock, perSend: 5 * time.Second}
	f.sched = outreach.NewScheduler(f.store, slow, f.contents, f.bounces,
		w, 7, f.clock.now, f.clock.sleep, nil)

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Sent != 1 {
		t.Errorf("Sent = %d, want 1 before the cutoff", report.Sent)
	}
	if report.Rescheduled != 2 {
		t.Errorf("Rescheduled = %d, want 2 after the mid-run cutoff", report.Rescheduled)
	}
	for _, id := range []string{"item-b", "item-c"} {
		if _, ok := f.store.moved[id]; !ok {
			t.Errorf("%s should have been rescheduled", id)
		}
	}
}

func TestScheduleInitialsCreatesMissingItems(t *testing.T) {
	w := testWindow(t)
	at := time.Date(2026, time.March, 9, 9, 30, 0, 0, w.Loc)
	f := newFixture(t, at)
	f.store.links = []outreach.Item{
		{ContactID: "c1", ApplicationID: "app1"},
		{ContactID: "c2", ApplicationID: "app1"},
	}

	report, err := f.sched.RunSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunSendCycle: %v", err)
	}
	if report.Scheduled != 2 {
		t.Errorf("Scheduled = %d, want 2", report.Scheduled)
	}
	for _, it := range f.store.scheduled {
		if it.Stage != outreach.StageInitial {
			t.Errorf("new item stage = %v, want %v", it.Stage, outreach.StageInitial)
		}
	}
}

// slowDeliverer advances the shared clock on every send, simulating a
// cycle that overruns the window.
type slowDeliverer struct {
	clock   *fakeClock
	perSend time.Duration
	sent    int
}

func (d *slowDeliverer) Send(ctx context.Context, item outreach.Item, subject, body string) error {
	d.clock.t = d.clock.t.Add(d.perSend)
	d.sent++
	return nil
}
