package transmit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"channel-sync/internal/audit"
	"channel-sync/internal/channel"
	"channel-sync/internal/domain"
	"channel-sync/internal/metrics"
)

const defaultGiveUpAfter = 5

// ContentTransmitter diffs desired content against the audit store and sends
// the create/update/delete buckets through a channel client, committing audit
// records chunk by chunk. A re-run with unchanged desired state produces zero
// API calls.
type ContentTransmitter struct {
	Store *audit.Store

	// GiveUpAfter parks an item after this many consecutive permanent
	// failures with an unchanged fingerprint; 0 means the default of 5.
	GiveUpAfter int

	DryRun bool
	Log    zerolog.Logger
}

func (t *ContentTransmitter) giveUpAfter() int {
	if t.GiveUpAfter > 0 {
		return t.GiveUpAfter
	}
	return defaultGiveUpAfter
}

// Transmit runs one content synchronization for cfg. Chunk-level failures are
// recorded in report and do not stop later chunks or buckets; only a context
// cancellation (run deadline) aborts the remaining uncommitted chunks.
// Already-committed chunks stay committed.
func (t *ContentTransmitter) Transmit(ctx context.Context, cfg domain.ChannelConfiguration, client channel.Client, desired []domain.ContentItem, report *Report) error {
	records, err := t.Store.ActiveContentRecords(cfg.ID)
	if err != nil {
		return fmt.Errorf("transmit: load audit records: %w", err)
	}

	fullResync := cfg.FullResync || client.FullResync()
	buckets := DiffContent(desired, records, fullResync)
	report.Unchanged += buckets.Unchanged

	create, err := t.dropStuck(cfg.ID, buckets.Create, report)
	if err != nil {
		return err
	}
	update, err := t.dropStuck(cfg.ID, buckets.Update, report)
	if err != nil {
		return err
	}

	if t.DryRun {
		report.Created += len(create)
		report.Updated += len(update)
		report.Deleted += len(buckets.Delete)
		return nil
	}

	limit := client.PageLimit()

	// Deletes go last so a key racing between desired-state computation and
	// the audit trail is never deleted after being recreated in the same run.
	if err := t.sendBucket(ctx, cfg, client, OpCreate, ChunkItems(create, limit), report); err != nil {
		return err
	}
	if err := t.sendBucket(ctx, cfg, client, OpUpdate, ChunkItems(update, limit), report); err != nil {
		return err
	}
	if err := t.sendBucket(ctx, cfg, client, OpDelete, ChunkItems(buckets.Delete, limit), report); err != nil {
		return err
	}
	return nil
}

// dropStuck filters out items parked by the give-up policy: they retry only
// once their desired-state fingerprint changes.
func (t *ContentTransmitter) dropStuck(configID string, items []domain.ContentItem, report *Report) ([]domain.ContentItem, error) {
	out := items[:0]
	for _, item := range items {
		count, err := t.Store.ContentFailureCount(configID, item.Key, itemFingerprint(item))
		if err != nil {
			return nil, fmt.Errorf("transmit: failure count for %s: %w", item.Key, err)
		}
		if count >= t.giveUpAfter() {
			report.SkippedStuck++
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (t *ContentTransmitter) sendBucket(ctx context.Context, cfg domain.ChannelConfiguration, client channel.Client, op Operation, chunks [][]domain.ContentItem, report *Report) error {
	for _, chunk := range chunks {
		// Chunks within a bucket are sequential: chunk N+1 may depend on
		// audit state committed by chunk N when a retryable run resumes.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.sendChunk(ctx, cfg, client, op, chunk, report); err != nil {
			return err
		}
	}
	return nil
}

func (t *ContentTransmitter) sendChunk(ctx context.Context, cfg domain.ChannelConfiguration, client channel.Client, op Operation, chunk []domain.ContentItem, report *Report) error {
	outcomes, err := t.callClient(ctx, client, op, chunk)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Whole-chunk transport failure: classify once, fail every item,
		// carry on with the next chunk.
		status := channel.Classify(err)
		t.Log.Warn().Err(err).Str("op", string(op)).Int("items", len(chunk)).Msg("chunk failed")
		for _, item := range chunk {
			report.fail(item.Key, op, status, err.Error())
			if status == channel.StatusPermanent {
				if rerr := t.Store.RecordContentFailure(cfg.ID, item.Key, itemFingerprint(item)); rerr != nil {
					return rerr
				}
			}
		}
		metrics.ContentFailures.WithLabelValues(client.Name(), status.String()).Add(float64(len(chunk)))
		return nil
	}

	byKey := make(map[string]domain.ContentItem, len(chunk))
	for _, item := range chunk {
		byKey[item.Key] = item
	}

	var succeeded []domain.ContentItem
	for _, outcome := range outcomes {
		item, ok := byKey[outcome.Key]
		if !ok {
			continue
		}
		switch outcome.Status {
		case channel.StatusOK:
			succeeded = append(succeeded, item)
		case channel.StatusPermanent:
			report.fail(outcome.Key, op, outcome.Status, outcome.Reason)
			if err := t.Store.RecordContentFailure(cfg.ID, outcome.Key, itemFingerprint(item)); err != nil {
				return err
			}
			metrics.ContentFailures.WithLabelValues(client.Name(), outcome.Status.String()).Inc()
		default:
			report.fail(outcome.Key, op, outcome.Status, outcome.Reason)
			metrics.ContentFailures.WithLabelValues(client.Name(), outcome.Status.String()).Inc()
		}
	}

	if len(succeeded) == 0 {
		return nil
	}
	if err := t.commit(cfg.ID, op, succeeded); err != nil {
		return fmt.Errorf("transmit: commit %s chunk: %w", op, err)
	}

	switch op {
	case OpCreate:
		report.Created += len(succeeded)
	case OpUpdate:
		report.Updated += len(succeeded)
	case OpDelete:
		report.Deleted += len(succeeded)
	}
	metrics.ContentTransmitted.WithLabelValues(client.Name(), string(op)).Add(float64(len(succeeded)))
	return nil
}

func (t *ContentTransmitter) callClient(ctx context.Context, client channel.Client, op Operation, chunk []domain.ContentItem) ([]channel.Outcome, error) {
	switch op {
	case OpCreate:
		return client.CreateContent(ctx, chunk)
	case OpUpdate:
		return client.UpdateContent(ctx, chunk)
	case OpDelete:
		return client.DeleteContent(ctx, chunk)
	}
	return nil, fmt.Errorf("transmit: unknown operation %q", op)
}

// commit writes the audit records of one chunk's succeeding subset in a
// single transaction, so a crash between chunks never leaves a half-recorded
// chunk behind.
func (t *ContentTransmitter) commit(configID string, op Operation, items []domain.ContentItem) error {
	now := time.Now().UTC()
	if op == OpDelete {
		keys := make([]string, 0, len(items))
		for _, item := range items {
			keys = append(keys, item.Key)
		}
		return t.Store.MarkContentDeleted(configID, keys, now)
	}

	recs := make([]audit.ContentRecord, 0, len(items))
	for _, item := range items {
		snapshot, err := audit.CompressSnapshot(item)
		if err != nil {
			return err
		}
		recs = append(recs, audit.ContentRecord{
			ContentKey:    item.Key,
			RemoteID:      item.RemoteID,
			Fingerprint:   itemFingerprint(item),
			Snapshot:      snapshot,
			TransmittedAt: now,
		})
	}
	return t.Store.UpsertContentRecords(configID, recs)
}
