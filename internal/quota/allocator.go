package quota

import (
	"sort"

	"recruitflow/outreach-service/internal/model"
)

// Allocate distributes remaining quota units across consumers, one integer
// count per consumer in input order.
//
// Guarantees:
//   - sum(counts) == min(remaining, total headroom)
//   - counts[i] never exceeds the consumer's headroom (cap − fulfilled)
//   - with unlimited headroom the split is as even as possible
//     (max − min ≤ 1)
//
// The extra units from the integer split — and any surplus carried off a
// capped consumer — go to consumers in priority order:
// score = headroom × recencyWeight descending, ties by ascending ID.
func Allocate(remaining int, consumers []model.Consumer, perConsumerCap int) []int {
	n := len(consumers)
	if n == 0 {
		return nil
	}

	counts := make([]int, n)
	if remaining <= 0 {
		return counts
	}

	headroom := make([]int, n)
	for i, c := range consumers {
		h := perConsumerCap - c.Fulfilled
		if h < 0 {
			h = 0
		}
		headroom[i] = h
	}

	order := priorityOrder(consumers, headroom)

	base := remaining / n
	extra := remaining % n
	for i := range counts {
		counts[i] = base
	}
	for _, idx := range order[:extra] {
		counts[idx]++
	}

	// Cap each consumer and pool the surplus.
	surplus := 0
	for i := range counts {
		if counts[i] > headroom[i] {
			surplus += counts[i] - headroom[i]
			counts[i] = headroom[i]
		}
	}

	// Carry surplus to uncapped consumers, one unit per round in priority
	// order. Stops when everyone is at headroom; leftover quota then stays
	// unused for this pass.
	for surplus > 0 {
		granted := false
		for _, idx := range order {
			if surplus == 0 {
				break
			}
			if counts[idx] < headroom[idx] {
				counts[idx]++
				surplus--
				granted = true
			}
		}
		if !granted {
			break
		}
	}

	return counts
}

// priorityOrder returns consumer indices sorted by allocation priority:
// most-depleted-and-most-recent first, ascending ID on ties.
func priorityOrder(consumers []model.Consumer, headroom []int) []int {
	order := make([]int, len(consumers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa := float64(headroom[order[a]]) * consumers[order[a]].RecencyWeight
		sb := float64(headroom[order[b]]) * consumers[order[b]].RecencyWeight
		if sa != sb {
			return sa > sb
		}
		return consumers[order[a]].ID < consumers[order[b]].ID
	})
	return order
}
