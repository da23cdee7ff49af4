package transmit

import (
	"fmt"

	"channel-sync/internal/channel"
)

// Operation names one bucket type in reports and logs.
type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpCompletion Operation = "completion"
)

// Failure is one item that did not transmit, with its error class so
// operators can tell self-healing failures from ones needing attention.
type Failure struct {
	Key    string
	Op     Operation
	Status channel.Status
	Reason string
}

// Report aggregates one unit of work (one channel configuration, one run).
type Report struct {
	ConfigID string
	Customer string
	Channel  string

	Created      int
	Updated      int
	Deleted      int
	Unchanged    int
	SkippedStuck int // items parked by the consecutive-failure give-up policy

	CompletionsSent    int
	CompletionsSkipped int

	Failures []Failure

	// Err is set when the whole unit failed (collaborator unreachable);
	// counts above are then partial or zero.
	Err error
}

func (r *Report) fail(key string, op Operation, status channel.Status, reason string) {
	r.Failures = append(r.Failures, Failure{Key: key, Op: op, Status: status, Reason: reason})
}

// HasPermanentFailures reports whether anything needs operator attention:
// permanently rejected items or a whole-unit failure.
func (r *Report) HasPermanentFailures() bool {
	if r.Err != nil {
		return true
	}
	for _, f := range r.Failures {
		if f.Status == channel.StatusPermanent {
			return true
		}
	}
	return false
}

// Summary is the one-line operator view of the unit.
func (r *Report) Summary() string {
	return fmt.Sprintf(
		"%s/%s (%s): created=%d updated=%d deleted=%d unchanged=%d stuck=%d completions=%d completions_skipped=%d failures=%d",
		r.Customer, r.Channel, r.ConfigID,
		r.Created, r.Updated, r.Deleted, r.Unchanged, r.SkippedStuck,
		r.CompletionsSent, r.CompletionsSkipped, len(r.Failures),
	)
}
