package dispatch

import "fmt"

// Outcome classifies what happened to one subscription during a broadcast.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeFailed
	OutcomeGone
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	case OutcomeGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Result is the per-subscription record of a broadcast.
// PruneErr is only set for OutcomeGone when deleting the record failed.
type Result struct {
	Endpoint   string
	Outcome    Outcome
	StatusCode int
	Err        error
	Pruned     bool
	PruneErr   error
}

// Report summarises a completed broadcast.
type Report struct {
	BroadcastID string
	Results     []Result
}

// Attempted is the number of delivery attempts made.
func (r *Report) Attempted() int {
	return len(r.Results)
}

// Count returns how many results ended with the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Pruned returns how many gone subscriptions were actually deleted.
func (r *Report) Pruned() int {
	n := 0
	for _, res := range r.Results {
		if res.Pruned {
			n++
		}
	}
	return n
}

// Receipt renders the summary line logged and returned for each broadcast.
func (r *Report) Receipt() string {
	delivered := r.Count(OutcomeDelivered)
	gone := r.Count(OutcomeGone)
	return fmt.Sprintf("success:%d invalid:%d total_fail:%d", delivered, gone, r.Attempted()-delivered)
}
