// Package model defines shared data structures for the outreach service.
package model

import "time"

// Application mirrors an applications table row: one job you applied to.
type Application struct {
	ID          string
	Company     string
	JobURL      string
	JobTitle    string
	AppliedDate time.Time
	Status      string // "active" or "archived"
	CreatedAt   time.Time
}

// ContactStatus is the lifecycle state of a discovered contact.
// Inactive is terminal — a contact is never reactivated automatically.
type ContactStatus string

const (
	ContactActive   ContactStatus = "active"
	ContactInactive ContactStatus = "inactive"
)

// Contact is a discovered recruiter, owned at company granularity so the
// same person is never duplicated across applications to one company.
// Email is the natural key.
type Contact struct {
	ID         string
	Company    string
	Name       string
	Title      string
	Email      string
	Confidence string // "auto" or "manual_review"
	Status     ContactStatus
	VerifiedAt time.Time
	CreatedAt  time.Time
}

// Consumer is an entity competing for a share of a daily quota: a company
// awaiting contact discovery, or an application awaiting content generation.
// Attempted search terms are tracked per company in the attempted_terms
// table, not here.
type Consumer struct {
	ID            string
	Fulfilled     int     // contacts (or bundles) already held
	RecencyWeight float64 // derived from related application recency
}

// SearchResult is one profile returned by the discovery collaborator.
type SearchResult struct {
	Name     string
	Title    string
	Email    string
	Fallback bool // matched only via a loosened search pass
}
