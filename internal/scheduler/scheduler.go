// Package scheduler wires up the cron entries that trigger the nightly
// discovery cycle and the morning send cycle.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"recruitflow/outreach-service/internal/discovery"
	"recruitflow/outreach-service/internal/outreach"
)

// DiscoveryRunner runs one discovery cycle.
type DiscoveryRunner interface {
	RunDiscoveryCycle(ctx context.Context) (discovery.Report, error)
}

// SendRunner runs one send cycle.
type SendRunner interface {
	RunSendCycle(ctx context.Context) (outreach.Report, error)
}

// Scheduler wraps robfig/cron and manages both daily cycles.
type Scheduler struct {
	cron          *cron.Cron
	discovery     DiscoveryRunner
	sender        SendRunner
	discoverySpec string
	sendSpec      string
}

// New creates a Scheduler with the given cron specs.
func New(discoveryRunner DiscoveryRunner, sendRunner SendRunner, discoverySpec, sendSpec string) *Scheduler {
	return &Scheduler{
		cron:          cron.New(cron.WithLogger(cron.DefaultLogger)),
		discovery:     discoveryRunner,
		sender:        sendRunner,
		discoverySpec: discoverySpec,
		sendSpec:      sendSpec,
	}
}

// Start registers both jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.discoverySpec, func() { s.RunDiscovery(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc discovery: %w", err)
	}
	if _, err := s.cron.AddFunc(s.sendSpec, func() { s.RunSend(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc send: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started — discovery: %q, send: %q", s.discoverySpec, s.sendSpec)
	return nil
}

// Stop gracefully shuts down the cron loop.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[scheduler] Cron stopped")
}

// RunDiscovery executes one discovery cycle immediately.
func (s *Scheduler) RunDiscovery(ctx context.Context) {
	log.Println("[scheduler] Discovery cycle started")
	report, err := s.discovery.RunDiscoveryCycle(ctx)
	if err != nil {
		log.Printf("[scheduler] Discovery cycle error: %v", err)
		return
	}
	log.Printf("[scheduler] Discovery cycle complete — contacts=%d quota=%d verified=%d linked=%d warmed=%d alerts=%d",
		report.ContactsFound, report.QuotaUsed, report.VerificationsRun,
		report.Linked, report.ContentWarmed, report.AlertsFired)
}

// RunSend executes one send cycle immediately.
func (s *Scheduler) RunSend(ctx context.Context) {
	log.Println("[scheduler] Send cycle started")
	report, err := s.sender.RunSendCycle(ctx)
	if err != nil {
		log.Printf("[scheduler] Send cycle error: %v", err)
		return
	}
	log.Printf("[scheduler] Send cycle complete — scheduled=%d sent=%d rescheduled=%d bounced=%d cancelled=%d failed=%d held=%d",
		report.Scheduled, report.Sent, report.Rescheduled,
		report.Bounced, report.Cancelled, report.Failed, report.Skipped)
}
