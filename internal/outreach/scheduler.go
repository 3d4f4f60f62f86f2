package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recruitflow/outreach-service/internal/content"
)

// Item is one outreach row joined with its contact and application.
type Item struct {
	ID            string
	ContactID     string
	ApplicationID string
	Stage         Stage
	Status        Status
	Replied       bool
	ScheduledFor  time.Time
	SentAt        *time.Time

	ContactName  string
	ContactEmail string
	Company      string
	JobTitle     string
	JobURL       string
}

// HardBounceError signals the recipient address is gone. Terminal for the
// contact: it triggers the Tier 0 cascade.
type HardBounceError struct {
	Recipient string
}

func (e *HardBounceError) Error() string {
	return fmt.Sprintf("hard bounce for %s", e.Recipient)
}

// Store is the outreach persistence the scheduler needs. Every status
// change is a single conditional UPDATE so overlapping cycles cannot race
// an item through two transitions.
type Store interface {
	// ListDue returns scheduled items whose scheduled_for date has
	// arrived, for active contacts only, oldest first. Pairs with a
	// replied item anywhere in their sequence are excluded.
	ListDue(ctx context.Context, now time.Time) ([]Item, error)
	// LinksNeedingInitial returns (contact, application) pairs whose
	// sequence has never started: no pending, sent or finished outreach.
	LinksNeedingInitial(ctx context.Context) ([]Item, error)
	// Schedule inserts a new scheduled item for the pair and stage.
	Schedule(ctx context.Context, contactID, applicationID string, stage Stage, scheduledFor time.Time) (string, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string) error
	MarkBounced(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkCancelled(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, to time.Time) error
	// Replied reports whether the pair has been marked replied.
	Replied(ctx context.Context, contactID, applicationID string) (bool, error)
}

// Deliverer performs one send. A *HardBounceError return distinguishes
// "recipient is gone" from a transient send problem.
type Deliverer interface {
	Send(ctx context.Context, item Item, subject, body string) error
}

// ContentSource resolves the cached bundle for an application. A nil
// bundle means content is unavailable — the item is held, never failed.
type ContentSource interface {
	BundleFor(ctx context.Context, company, jobTitle, jobURL string) (*content.Bundle, error)
}

// BounceHandler runs the Tier 0 cascade for a bounced contact and
// returns how many items it cancelled.
type BounceHandler interface {
	HandleBounce(ctx context.Context, contactID string) (int, error)
}

// Report summarises one send cycle.
type Report struct {
	Scheduled   int // new initial items created
	Sent        int
	Rescheduled int
	Bounced     int
	Cancelled   int // via bounce cascades and reply suppression
	Failed      int
	Skipped     int // held for missing content
}

// Scheduler advances the send sequence for every due item inside the
// daily send window.
type Scheduler struct {
	store    Store
	deliver  Deliverer
	contents ContentSource
	bounces  BounceHandler
	window   Window
	interval time.Duration // SEND_INTERVAL_DAYS between stages
	now      func() time.Time
	sleep    func(time.Duration)
	log      *slog.Logger
}

// NewScheduler constructs a Scheduler. nowFn and sleepFn may be nil
// (defaulting to the real clock).
func NewScheduler(store Store, deliver Deliverer, contents ContentSource, bounces BounceHandler,
	window Window, intervalDays int, nowFn func() time.Time, sleepFn func(time.Duration), log *slog.Logger) *Scheduler {
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = time.Sleep
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:    store,
		deliver:  deliver,
		contents: contents,
		bounces:  bounces,
		window:   window,
		interval: time.Duration(intervalDays) * 24 * time.Hour,
		now:      nowFn,
		sleep:    sleepFn,
		log:      log,
	}
}

// RunSendCycle schedules any missing initial items, then processes every
// due item under send-window gating. One failed item never aborts the
// cycle. There is no in-run retry: failed and deferred items wait for the
// next cycle.
func (s *Scheduler) RunSendCycle(ctx context.Context) (Report, error) {
	var report Report

	if err := s.scheduleInitials(ctx, &report); err != nil {
		return report, err
	}

	switch s.window.StateAt(s.now()) {
	case WindowWait:
		// Invoked before the window: hold until it opens, never send early.
		opens := s.window.OpensAt(s.now())
		s.log.Info("before send window, waiting", "opens", opens)
		s.sleep(opens.Sub(s.now()))
	case WindowClosed:
		return report, s.rescheduleAll(ctx, &report)
	}

	due, err := s.store.ListDue(ctx, s.now())
	if err != nil {
		return report, fmt.Errorf("list due outreach: %w", err)
	}
	if len(due) == 0 {
		s.log.Info("no outreach due today")
		return report, nil
	}

	for i, item := range due {
		// The window can close mid-run; remaining items move to tomorrow.
		if s.window.StateAt(s.now()) == WindowClosed {
			s.log.Info("hard cutoff reached mid-cycle", "remaining", len(due)-i)
			for _, rest := range due[i:] {
				if err := s.store.Reschedule(ctx, rest.ID, s.window.SameTimeTomorrow(s.now(), rest.ScheduledFor)); err != nil {
					s.log.Warn("reschedule failed", "item", rest.ID, "err", err)
					continue
				}
				report.Rescheduled++
			}
			break
		}

		s.processItem(ctx, item, &report)
	}

	s.log.Info("send cycle complete",
		"sent", report.Sent, "rescheduled", report.Rescheduled,
		"bounced", report.Bounced, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

func (s *Scheduler) scheduleInitials(ctx context.Context, report *Report) error {
	links, err := s.store.LinksNeedingInitial(ctx)
	if err != nil {
		return fmt.Errorf("links needing initial outreach: %w", err)
	}
	for _, l := range links {
		if _, err := s.store.Schedule(ctx, l.ContactID, l.ApplicationID, StageInitial, s.now()); err != nil {
			s.log.Warn("schedule initial failed", "contact", l.ContactID, "application", l.ApplicationID, "err", err)
			continue
		}
		report.Scheduled++
	}
	if report.Scheduled > 0 {
		s.log.Info("scheduled initial outreach", "items", report.Scheduled)
	}
	return nil
}

func (s *Scheduler) rescheduleAll(ctx context.Context, report *Report) error {
	due, err := s.store.ListDue(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list due outreach: %w", err)
	}
	for _, item := range due {
		if err := s.store.Reschedule(ctx, item.ID, s.window.SameTimeTomorrow(s.now(), item.ScheduledFor)); err != nil {
			s.log.Warn("reschedule failed", "item", item.ID, "err", err)
			continue
		}
		report.Rescheduled++
	}
	if report.Rescheduled > 0 {
		s.log.Info("past hard cutoff, rescheduled for tomorrow", "items", report.Rescheduled)
	}
	return nil
}

func (s *Scheduler) processItem(ctx context.Context, item Item, report *Report) {
	// A reply anywhere in the pair's sequence suppresses every later
	// stage; the check runs before delivery, not after.
	replied, err := s.store.Replied(ctx, item.ContactID, item.ApplicationID)
	if err != nil {
		s.log.Warn("replied lookup failed", "item", item.ID, "err", err)
		report.Skipped++
		return
	}
	if replied {
		s.log.Info("pair replied, cancelling pending item",
			"item", item.ID, "contact", item.ContactID, "application", item.ApplicationID)
		if err := s.store.MarkCancelled(ctx, item.ID); err != nil {
			s.log.Warn("mark cancelled failed", "item", item.ID, "err", err)
		}
		report.Cancelled++
		return
	}

	bundle, err := s.contents.BundleFor(ctx, item.Company, item.JobTitle, item.JobURL)
	if err != nil {
		s.log.Warn("content lookup failed", "item", item.ID, "company", item.Company, "err", err)
		report.Skipped++
		return
	}
	if bundle == nil {
		// Held at scheduled for the next cycle — never failed for content.
		s.log.Warn("no content for application, holding item",
			"item", item.ID, "company", item.Company, "stage", item.Stage.String())
		report.Skipped++
		return
	}

	subject, body, err := bundle.ForStage(int(item.Stage))
	if err != nil {
		s.log.Warn("bundle missing stage", "item", item.ID, "stage", item.Stage.String(), "err", err)
		report.Skipped++
		return
	}

	if err := s.deliver.Send(ctx, item, subject, body); err != nil {
		var bounce *HardBounceError
		if errors.As(err, &bounce) {
			s.log.Warn("hard bounce", "item", item.ID, "recipient", bounce.Recipient)
			if err := s.store.MarkBounced(ctx, item.ID); err != nil {
				s.log.Warn("mark bounced failed", "item", item.ID, "err", err)
			}
			report.Bounced++
			cancelled, err := s.bounces.HandleBounce(ctx, item.ContactID)
			if err != nil {
				s.log.Warn("bounce cascade failed", "contact", item.ContactID, "err", err)
			}
			report.Cancelled += cancelled
			return
		}

		// Transient send problem: terminal for this item only, surfaced
		// for manual review, never auto-retried.
		s.log.Warn("send failed", "item", item.ID, "recipient", item.ContactEmail, "err", err)
		if err := s.store.MarkFailed(ctx, item.ID); err != nil {
			s.log.Warn("mark failed failed", "item", item.ID, "err", err)
		}
		report.Failed++
		return
	}

	sentAt := s.now()
	if err := s.store.MarkSent(ctx, item.ID, sentAt); err != nil {
		s.log.Warn("mark sent failed", "item", item.ID, "err", err)
		return
	}
	report.Sent++

	if err := s.advance(ctx, item, sentAt); err != nil {
		s.log.Warn("could not schedule next stage", "item", item.ID, "err", err)
	}
}

// advance applies Option B: the follow-up item is created only now that
// this stage is confirmed sent, and only while the pair is unreplied.
func (s *Scheduler) advance(ctx context.Context, item Item, sentAt time.Time) error {
	replied, err := s.store.Replied(ctx, item.ContactID, item.ApplicationID)
	if err != nil {
		return err
	}
	if replied {
		s.log.Info("pair replied, sequence suppressed", "contact", item.ContactID, "application", item.ApplicationID)
		return nil
	}

	next, ok := NextStage(item.Stage)
	if !ok {
		// Last follow-up sent: sequence complete.
		return s.store.MarkCompleted(ctx, item.ID)
	}

	id, err := s.store.Schedule(ctx, item.ContactID, item.ApplicationID, next, sentAt.Add(s.interval))
	if err != nil {
		return err
	}
	s.log.Info("scheduled next stage", "item", id, "stage", next.String(), "for", sentAt.Add(s.interval))
	return nil
}
