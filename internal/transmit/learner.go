package transmit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"channel-sync/internal/audit"
	"channel-sync/internal/channel"
	"channel-sync/internal/domain"
	"channel-sync/internal/metrics"
)

// ErrCompletionRegression marks an incoming record that would flip a
// transmitted completion back to false. Re-attempts create new enrollment
// IDs, so a regression on the same ID is upstream data corruption, not a
// legitimate state change.
var ErrCompletionRegression = fmt.Errorf("completion regression: completed=true may not revert to false")

// LearnerTransmitter sends completion records, skipping those identical to
// the last-transmitted state and rejecting monotonic-completion violations
// before anything goes on the wire.
type LearnerTransmitter struct {
	Store  *audit.Store
	DryRun bool
	Log    zerolog.Logger
}

// learnerFingerprint covers the transmitted facts only. CompletedAt is
// derived at export time for some tracks and must not defeat the idempotence
// skip on its own.
func learnerFingerprint(rec domain.CompletionRecord) string {
	type hashed struct {
		Completed  bool   `json:"completed"`
		Grade      string `json:"grade"`
		BestEffort bool   `json:"best_effort"`
	}
	return audit.Fingerprint(hashed{
		Completed:  rec.Completed,
		Grade:      rec.Grade,
		BestEffort: rec.BestEffort,
	})
}

func (t *LearnerTransmitter) Transmit(ctx context.Context, cfg domain.ChannelConfiguration, client channel.Client, records []domain.CompletionRecord, report *Report) error {
	pending := make([]domain.CompletionRecord, 0, len(records))
	for _, rec := range records {
		existing, err := t.Store.LearnerRecord(cfg.ID, rec.EnrollmentID)
		if err != nil {
			return err
		}

		if existing != nil && existing.Completed && !rec.Completed {
			t.Log.Error().
				Str("enrollment", rec.EnrollmentID).
				Msg("rejected completion regression")
			report.fail(rec.EnrollmentID, OpCompletion, channel.StatusPermanent, ErrCompletionRegression.Error())
			metrics.IntegrityViolations.WithLabelValues(client.Name()).Inc()
			continue
		}

		if existing != nil && existing.Fingerprint == learnerFingerprint(rec) {
			report.CompletionsSkipped++
			continue
		}
		pending = append(pending, rec)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].EnrollmentID < pending[j].EnrollmentID
	})

	if t.DryRun {
		report.CompletionsSent += len(pending)
		return nil
	}

	byID := make(map[string]domain.CompletionRecord, len(pending))
	for _, rec := range pending {
		byID[rec.EnrollmentID] = rec
	}

	for _, chunk := range ChunkItems(pending, client.PageLimit()) {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcomes, err := client.SendCompletions(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			status := channel.Classify(err)
			for _, rec := range chunk {
				report.fail(rec.EnrollmentID, OpCompletion, status, err.Error())
			}
			metrics.CompletionFailures.WithLabelValues(client.Name(), status.String()).Add(float64(len(chunk)))
			continue
		}

		now := time.Now().UTC()
		for _, outcome := range outcomes {
			rec, ok := byID[outcome.Key]
			if !ok {
				continue
			}
			if outcome.Status != channel.StatusOK {
				report.fail(outcome.Key, OpCompletion, outcome.Status, outcome.Reason)
				metrics.CompletionFailures.WithLabelValues(client.Name(), outcome.Status.String()).Inc()
				continue
			}
			err := t.Store.PutLearnerRecord(cfg.ID, audit.LearnerRecord{
				EnrollmentID:  rec.EnrollmentID,
				Completed:     rec.Completed,
				Grade:         rec.Grade,
				CompletedAt:   rec.CompletedAt,
				Fingerprint:   learnerFingerprint(rec),
				TransmittedAt: now,
			})
			if err != nil {
				return err
			}
			report.CompletionsSent++
			metrics.CompletionsTransmitted.WithLabelValues(client.Name()).Inc()
		}
	}
	return nil
}
