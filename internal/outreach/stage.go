// Package outreach drives the per-(contact, application) send sequence.
//
// Valid status graph:
//
//	scheduled ──► sent ──► (replied | scheduled(next stage) | completed)
//	    │           │
//	    │           ├──► bounced   (hard bounce — cascades via Tier 0)
//	    ├──► failed │
//	    └───────────┴──► cancelled (contact retired)
//
// bounced, failed, cancelled, completed and replied are terminal.
// Exactly one non-terminal item exists per (contact, application) pair;
// the next stage's item is created only after the prior stage is
// confirmed sent and only while replied is false.
package outreach

import "fmt"

// Stage is the position in the three-step send sequence.
type Stage int

const (
	StageInitial Stage = iota
	StageFollowup1
	StageFollowup2
)

func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "initial"
	case StageFollowup1:
		return "followup1"
	case StageFollowup2:
		return "followup2"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// NextStage returns the stage that follows s. ok is false after the last
// follow-up — the sequence is complete.
func NextStage(s Stage) (next Stage, ok bool) {
	switch s {
	case StageInitial:
		return StageFollowup1, true
	case StageFollowup1:
		return StageFollowup2, true
	}
	return 0, false
}

// Status values mirror the outreach.status column.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusBounced   Status = "bounced"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusReplied   Status = "replied"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status][]Status{
	StatusScheduled: {StatusSent, StatusFailed, StatusBounced, StatusCancelled, StatusReplied},
	StatusSent:      {StatusReplied, StatusCompleted, StatusBounced, StatusCancelled},
	// terminal statuses have no outgoing transitions
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusScheduled, StatusSent, StatusBounced, StatusFailed,
		StatusCancelled, StatusCompleted, StatusReplied:
		return st, nil
	}
	return "", fmt.Errorf("unknown outreach status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by
// the state machine.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true when no outgoing transitions exist from s.
func IsTerminal(s Status) bool {
	_, ok := validTransitions[s]
	return !ok
}
