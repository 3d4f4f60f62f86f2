// Package verify re-validates previously discovered contacts at minimal
// cost, escalating through tiers by staleness.
//
// Tier graph:
//
//	Tier 1 (age < 30d)    — trusted, no action, zero cost
//	Tier 2 (30d ≤ age < 60d) — lightweight existence check
//	Tier 3 (age ≥ 60d, or Tier 2 miss) — full profile re-visit
//	Tier 0 (hard bounce, event-driven) — contact retired immediately
//
// A Tier 2 miss escalates to Tier 3 within the same cycle; Tier 0 fires
// synchronously on a bounce signal and pre-empts the age-based tiers.
// None of this consumes discovery quota.
package verify

import (
	"fmt"
	"time"
)

// Tier is a verification cost level assigned to a contact.
type Tier int

const (
	// Tier0 retires the contact: inactive + cancel all pending outreach.
	Tier0 Tier = iota
	// Tier1 trusts the contact as-is.
	Tier1
	// Tier2 runs a lightweight existence check against company results.
	Tier2
	// Tier3 runs a full profile re-visit.
	Tier3
)

// Age boundaries for the staleness tiers.
const (
	Tier1MaxAge = 30 * 24 * time.Hour
	Tier2MaxAge = 60 * 24 * time.Hour
)

func (t Tier) String() string {
	switch t {
	case Tier0:
		return "tier0"
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ForAge maps a contact's verified_at age to its staleness tier.
func ForAge(age time.Duration) Tier {
	switch {
	case age < Tier1MaxAge:
		return Tier1
	case age < Tier2MaxAge:
		return Tier2
	default:
		return Tier3
	}
}

// CheckResult is the outcome of a tier's check action.
type CheckResult int

const (
	// CheckFound: the contact was located; verified_at is refreshed.
	CheckFound CheckResult = iota
	// CheckMissing: the contact was not located at this tier.
	CheckMissing
)

// Next is the pure tier transition function.
//
//	Tier2 + missing → Tier3 (escalate within the same cycle)
//	Tier3 + missing → Tier0 (contact is gone: retire)
//	any   + found   → Tier1 (refreshed, trusted again)
//	Tier0 / Tier1   → unchanged (terminal / no check ran)
func Next(current Tier, result CheckResult) Tier {
	switch current {
	case Tier0, Tier1:
		return current
	case Tier2:
		if result == CheckFound {
			return Tier1
		}
		return Tier3
	case Tier3:
		if result == CheckFound {
			return Tier1
		}
		return Tier0
	}
	return current
}
