// Package quota tracks the two daily-resetting external quotas and
// distributes them across competing consumers.
//
// Quota kinds:
//
//	contact_discovery   — profile-view credits on the contact source (50/day)
//	model:<name>        — per-model content generation calls (20/day each)
//
// One quota_records row exists per (day, kind); used + remaining == limit
// holds at all times within a day, and rows are immutable once the date
// rolls over.
package quota

import "fmt"

// Kind identifies a daily quota bucket.
type Kind string

const (
	KindContactDiscovery Kind = "contact_discovery"

	// modelKindPrefix namespaces per-model generation buckets.
	modelKindPrefix = "model:"
)

// ModelKind returns the quota kind for a named generation model.
func ModelKind(model string) Kind {
	return Kind(modelKindPrefix + model)
}

// ParseKind converts a raw string to a Kind, returning an error for
// unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if k == KindContactDiscovery || len(s) > len(modelKindPrefix) && s[:len(modelKindPrefix)] == modelKindPrefix {
		return k, nil
	}
	return "", fmt.Errorf("unknown quota kind %q", s)
}
