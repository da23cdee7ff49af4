package channel

import (
	"channel-sync/internal/domain"
	"channel-sync/internal/httpx"
)

// Status classifies one item's transmission result.
type Status int

const (
	StatusOK Status = iota
	StatusRetryable
	StatusPermanent
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRetryable:
		return "retryable"
	case StatusPermanent:
		return "permanent"
	}
	return "unknown"
}

// Outcome is the per-item result of a channel call. Key is the content key for
// content operations and the enrollment ID for completions.
type Outcome struct {
	Key    string
	Status Status
	Reason string
}

func OK(key string) Outcome { return Outcome{Key: key, Status: StatusOK} }

func Retryable(key, reason string) Outcome {
	return Outcome{Key: key, Status: StatusRetryable, Reason: reason}
}

func Permanent(key, reason string) Outcome {
	return Outcome{Key: key, Status: StatusPermanent, Reason: reason}
}

// Classify maps a transport error onto the outcome taxonomy: timeouts, 5xx and
// throttling are retryable, everything else (validation rejections, 4xx) is
// permanent.
func Classify(err error) Status {
	if err == nil {
		return StatusOK
	}
	if httpx.Retryable(err) {
		return StatusRetryable
	}
	return StatusPermanent
}

// ItemOutcomes builds one uniform outcome per item, for channels whose API
// only reports a whole-call result.
func ItemOutcomes(items []domain.ContentItem, status Status, reason string) []Outcome {
	out := make([]Outcome, 0, len(items))
	for _, it := range items {
		out = append(out, Outcome{Key: it.Key, Status: status, Reason: reason})
	}
	return out
}

// CompletionOutcomes is ItemOutcomes for completion records.
func CompletionOutcomes(records []domain.CompletionRecord, status Status, reason string) []Outcome {
	out := make([]Outcome, 0, len(records))
	for _, r := range records {
		out = append(out, Outcome{Key: r.EnrollmentID, Status: status, Reason: reason})
	}
	return out
}
