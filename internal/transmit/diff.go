// Package transmit is the diff/chunk/transmit core of the pipeline: it
// decides what each channel must receive, sends it in page-limit sized
// chunks, and commits the audit trail per successfully transmitted chunk.
package transmit

import (
	"sort"

	"channel-sync/internal/audit"
	"channel-sync/internal/domain"
)

// Buckets is the outcome of diffing desired state against the audit trail.
type Buckets struct {
	Create    []domain.ContentItem
	Update    []domain.ContentItem
	Delete    []domain.ContentItem
	Unchanged int
}

// itemFingerprint hashes the transformed item. LastModified is excluded so a
// catalog touch without a field change stays a no-op.
func itemFingerprint(item domain.ContentItem) string {
	type hashed struct {
		Key           string            `json:"key"`
		RemoteID      string            `json:"remote_id"`
		Title         string            `json:"title"`
		Description   string            `json:"description"`
		ContentURL    string            `json:"content_url"`
		Language      string            `json:"language"`
		ContentType   string            `json:"content_type"`
		DurationHours float64           `json:"duration_hours"`
		ImageURL      string            `json:"image_url"`
		Price         float64           `json:"price"`
		Fields        map[string]string `json:"fields,omitempty"`
	}
	return audit.Fingerprint(hashed{
		Key:           item.Key,
		RemoteID:      item.RemoteID,
		Title:         item.Title,
		Description:   item.Description,
		ContentURL:    item.ContentURL,
		Language:      item.Language,
		ContentType:   item.ContentType,
		DurationHours: item.DurationHours,
		ImageURL:      item.ImageURL,
		Price:         item.Price,
		Fields:        item.Fields,
	})
}

// DiffContent partitions desired items against the active audit records:
// absent from audit means create, changed fingerprint means update, present
// only in audit means delete. Unchanged items are skipped — that skip is the
// idempotence guarantee. With fullResync every desired item transmits
// regardless of fingerprint, for channels that need the complete feed.
//
// Buckets come back sorted by content key so retries after partial failures
// walk the same order run after run.
func DiffContent(desired []domain.ContentItem, records map[string]audit.ContentRecord, fullResync bool) Buckets {
	var b Buckets

	seen := make(map[string]bool, len(desired))
	for _, item := range desired {
		seen[item.Key] = true
		rec, exists := records[item.Key]
		switch {
		case !exists:
			b.Create = append(b.Create, item)
		case fullResync || rec.Fingerprint != itemFingerprint(item):
			b.Update = append(b.Update, item)
		default:
			b.Unchanged++
		}
	}

	for key, rec := range records {
		if seen[key] {
			continue
		}
		b.Delete = append(b.Delete, domain.ContentItem{Key: key, RemoteID: rec.RemoteID})
	}

	sortByKey(b.Create)
	sortByKey(b.Update)
	sortByKey(b.Delete)
	return b
}

func sortByKey(items []domain.ContentItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
}

// ChunkItems splits items into slices of at most size, preserving order.
func ChunkItems[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
