package transmit

import (
	"context"

	"channel-sync/internal/channel"
	"channel-sync/internal/domain"
)

// fakeClient records every call and can be told to fail specific chunks or
// individual items.
type fakeClient struct {
	pageLimit  int
	fullResync bool

	createCalls [][]domain.ContentItem
	updateCalls [][]domain.ContentItem
	deleteCalls [][]domain.ContentItem
	completions [][]domain.CompletionRecord

	// callOrder logs operation names in invocation order.
	callOrder []string

	// failCreateCall makes the Nth (1-based) create call fail retryable.
	failCreateCall int

	// permanentKeys get a permanent per-item rejection.
	permanentKeys map[string]string
}

func (f *fakeClient) Name() string           { return "fake" }
func (f *fakeClient) PageLimit() int         { return f.pageLimit }
func (f *fakeClient) MaxRemoteIDLength() int { return 0 }
func (f *fakeClient) FullResync() bool       { return f.fullResync }

func (f *fakeClient) totalCalls() int {
	return len(f.createCalls) + len(f.updateCalls) + len(f.deleteCalls) + len(f.completions)
}

func (f *fakeClient) outcomes(items []domain.ContentItem) []channel.Outcome {
	out := make([]channel.Outcome, 0, len(items))
	for _, item := range items {
		if reason, ok := f.permanentKeys[item.Key]; ok {
			out = append(out, channel.Permanent(item.Key, reason))
			continue
		}
		out = append(out, channel.OK(item.Key))
	}
	return out
}

func (f *fakeClient) CreateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	f.createCalls = append(f.createCalls, items)
	f.callOrder = append(f.callOrder, "create")
	if f.failCreateCall == len(f.createCalls) {
		return nil, &retryableErr{}
	}
	return f.outcomes(items), nil
}

func (f *fakeClient) UpdateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	f.updateCalls = append(f.updateCalls, items)
	f.callOrder = append(f.callOrder, "update")
	return f.outcomes(items), nil
}

func (f *fakeClient) DeleteContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	f.deleteCalls = append(f.deleteCalls, items)
	f.callOrder = append(f.callOrder, "delete")
	return f.outcomes(items), nil
}

func (f *fakeClient) SendCompletions(ctx context.Context, records []domain.CompletionRecord) ([]channel.Outcome, error) {
	f.completions = append(f.completions, records)
	f.callOrder = append(f.callOrder, "completion")
	out := make([]channel.Outcome, 0, len(records))
	for _, rec := range records {
		out = append(out, channel.OK(rec.EnrollmentID))
	}
	return out, nil
}

// retryableErr mimics a transient transport failure (timeout).
type retryableErr struct{}

func (*retryableErr) Error() string   { return "fake: connection reset by peer" }
func (*retryableErr) Timeout() bool   { return true }
func (*retryableErr) Temporary() bool { return true }
