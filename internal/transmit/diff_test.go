package transmit

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"channel-sync/internal/audit"
	"channel-sync/internal/domain"
)

func item(key, title string) domain.ContentItem {
	return domain.ContentItem{Key: key, RemoteID: key, Title: title}
}

func recordFor(it domain.ContentItem) audit.ContentRecord {
	return audit.ContentRecord{
		ContentKey:  it.Key,
		RemoteID:    it.RemoteID,
		Fingerprint: itemFingerprint(it),
	}
}

func keys(items []domain.ContentItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key)
	}
	return out
}

func TestDiffContentBuckets(t *testing.T) {
	b := item("B", "b")
	c := item("C", "c")
	records := map[string]audit.ContentRecord{
		"A": recordFor(item("A", "a")),
		"B": recordFor(b),
		"C": recordFor(c),
	}
	desired := []domain.ContentItem{b, c, item("D", "d")}

	buckets := DiffContent(desired, records, false)

	if diff := cmp.Diff([]string{"D"}, keys(buckets.Create)); diff != "" {
		t.Errorf("create bucket (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A"}, keys(buckets.Delete)); diff != "" {
		t.Errorf("delete bucket (-want +got):\n%s", diff)
	}
	if len(buckets.Update) != 0 {
		t.Errorf("expected empty update bucket, got %v", keys(buckets.Update))
	}
	if buckets.Unchanged != 2 {
		t.Errorf("expected 2 unchanged, got %d", buckets.Unchanged)
	}
}

func TestDiffContentDetectsFieldChange(t *testing.T) {
	b := item("B", "b")
	records := map[string]audit.ContentRecord{"B": recordFor(b)}

	changed := b
	changed.Title = "b (renamed)"
	buckets := DiffContent([]domain.ContentItem{changed}, records, false)

	if diff := cmp.Diff([]string{"B"}, keys(buckets.Update)); diff != "" {
		t.Errorf("update bucket (-want +got):\n%s", diff)
	}
	if buckets.Unchanged != 0 {
		t.Errorf("expected 0 unchanged, got %d", buckets.Unchanged)
	}
}

func TestDiffContentIgnoresLastModifiedTouch(t *testing.T) {
	b := item("B", "b")
	records := map[string]audit.ContentRecord{"B": recordFor(b)}

	touched := b
	touched.LastModified = touched.LastModified.AddDate(0, 0, 1)
	buckets := DiffContent([]domain.ContentItem{touched}, records, false)

	if len(buckets.Update) != 0 {
		t.Errorf("timestamp-only touch must not trigger an update, got %v", keys(buckets.Update))
	}
	if buckets.Unchanged != 1 {
		t.Errorf("expected 1 unchanged, got %d", buckets.Unchanged)
	}
}

func TestDiffContentFullResyncBypassesSkip(t *testing.T) {
	b := item("B", "b")
	records := map[string]audit.ContentRecord{"B": recordFor(b)}

	buckets := DiffContent([]domain.ContentItem{b}, records, true)

	if diff := cmp.Diff([]string{"B"}, keys(buckets.Update)); diff != "" {
		t.Errorf("full resync must retransmit unchanged items (-want +got):\n%s", diff)
	}
	if buckets.Unchanged != 0 {
		t.Errorf("expected 0 unchanged under full resync, got %d", buckets.Unchanged)
	}
}

func TestDiffContentDeterministicOrder(t *testing.T) {
	desired := []domain.ContentItem{item("z", "z"), item("a", "a"), item("m", "m")}
	buckets := DiffContent(desired, nil, false)

	if diff := cmp.Diff([]string{"a", "m", "z"}, keys(buckets.Create)); diff != "" {
		t.Errorf("create bucket not sorted (-want +got):\n%s", diff)
	}
}

func TestChunkItems(t *testing.T) {
	items := make([]domain.ContentItem, 205)
	chunks := ChunkItems(items, 100)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	want := []int{100, 100, 5}
	for i, chunk := range chunks {
		if len(chunk) != want[i] {
			t.Errorf("chunk %d: expected %d items, got %d", i+1, want[i], len(chunk))
		}
	}

	if got := ChunkItems([]domain.ContentItem{}, 100); got != nil {
		t.Errorf("expected nil for empty input, got %d chunks", len(got))
	}
}
