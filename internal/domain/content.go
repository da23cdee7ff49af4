package domain

import "time"

// ContentItem is the canonical representation of one piece of content (course or
// program) as exposed by a catalog. All catalogs map into this model, and all
// channel clients map from it. Recomputed on every export, never persisted.
type ContentItem struct {
	Key         string // natural content key, e.g. "course-v1:OrgX+CS101+2026"
	Title       string
	Description string
	ContentURL  string
	Language    string

	ContentType   string // "course" or "program"
	DurationHours float64
	ImageURL      string
	Price         float64

	LastModified time.Time

	// RemoteID is the channel-scoped identifier after per-channel transforms
	// (prefixing, surrogate substitution). Empty until an exporter sets it.
	RemoteID string

	// Fields carries channel-agnostic extra metadata untouched by transforms.
	Fields map[string]string
}
