// Package channel defines the capability contract every integrated channel
// client implements. The transmitters are channel-agnostic and depend only on
// this interface; per-channel auth, serialization and page limits live in the
// implementations.
package channel

import (
	"context"

	"channel-sync/internal/domain"
)

// Client is one channel instance's API surface. Chunking is the transmitter's
// job: every slice passed in is already at most PageLimit items.
type Client interface {
	Name() string

	// PageLimit is the maximum number of items the channel accepts per call.
	PageLimit() int

	// MaxRemoteIDLength is the channel's identifier length limit, 0 for none.
	// Keys whose transformed identifier would exceed it get a surrogate id.
	MaxRemoteIDLength() int

	// FullResync reports whether the channel requires the complete desired
	// set on every run (it infers deletions itself from the full feed).
	FullResync() bool

	CreateContent(ctx context.Context, items []domain.ContentItem) ([]Outcome, error)
	UpdateContent(ctx context.Context, items []domain.ContentItem) ([]Outcome, error)
	DeleteContent(ctx context.Context, items []domain.ContentItem) ([]Outcome, error)

	SendCompletions(ctx context.Context, records []domain.CompletionRecord) ([]Outcome, error)
}
