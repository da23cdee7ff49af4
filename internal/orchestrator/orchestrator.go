// Package orchestrator iterates active channel configurations and runs the
// export/transmit pipeline for each as an isolated unit of work: a failing
// unit is reported, never allowed to abort its siblings.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"channel-sync/internal/audit"
	"channel-sync/internal/catalog"
	"channel-sync/internal/channel"
	"channel-sync/internal/domain"
	"channel-sync/internal/export"
	"channel-sync/internal/grades"
	"channel-sync/internal/metrics"
	"channel-sync/internal/transmit"
)

// ClientFactory builds the channel client for a configuration.
type ClientFactory func(cfg domain.ChannelConfiguration) (channel.Client, error)

// Filter narrows a run to one customer and/or channel type; empty fields
// match everything.
type Filter struct {
	Customer    string
	ChannelType string
}

func (f Filter) matches(cfg domain.ChannelConfiguration) bool {
	if f.Customer != "" && f.Customer != cfg.Customer {
		return false
	}
	if f.ChannelType != "" && f.ChannelType != cfg.ChannelType {
		return false
	}
	return true
}

// RunReport aggregates all units of one orchestrator run.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Units      []*transmit.Report
}

// HasPermanentFailures reports whether any unit needs operator attention;
// the sync command exits non-zero when it does.
func (r *RunReport) HasPermanentFailures() bool {
	for _, unit := range r.Units {
		if unit.HasPermanentFailures() {
			return true
		}
	}
	return false
}

type Orchestrator struct {
	Store     *audit.Store
	Catalog   catalog.Service
	Grades    grades.Service
	NewClient ClientFactory
	Configs   []domain.ChannelConfiguration

	Workers     int
	GiveUpAfter int
	RunDeadline time.Duration
	DryRun      bool
	Log         zerolog.Logger
}

// Run processes every active configuration matching filter. Units run in
// parallel across the worker pool; within a unit, content and learner
// transmission run concurrently while each bucket's chunks stay sequential.
func (o *Orchestrator) Run(ctx context.Context, filter Filter) (*RunReport, error) {
	started := time.Now()
	runID := uuid.New().String()[:8]

	if o.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.RunDeadline)
		defer cancel()
	}

	var selected []domain.ChannelConfiguration
	for _, cfg := range o.Configs {
		if cfg.Active && filter.matches(cfg) {
			selected = append(selected, cfg)
		}
	}
	o.Log.Info().Str("run_id", runID).Int("configurations", len(selected)).Msg("starting run")

	units := mapParallel(ctx, selected, o.Workers, func(ctx context.Context, cfg domain.ChannelConfiguration) *transmit.Report {
		return o.runUnit(ctx, runID, cfg)
	})

	report := &RunReport{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Units:      units,
	}
	metrics.RunDuration.Observe(report.FinishedAt.Sub(started).Seconds())
	for _, unit := range units {
		if unit.Err != nil {
			metrics.UnitsFailed.WithLabelValues(unit.Channel).Inc()
		}
	}
	return report, nil
}

func (o *Orchestrator) runUnit(ctx context.Context, runID string, cfg domain.ChannelConfiguration) *transmit.Report {
	log := o.Log.With().
		Str("run_id", runID).
		Str("customer", cfg.Customer).
		Str("channel", cfg.ChannelType).
		Str("config", cfg.ID).
		Logger()

	report := &transmit.Report{ConfigID: cfg.ID, Customer: cfg.Customer, Channel: cfg.ChannelType}
	if err := ctx.Err(); err != nil {
		report.Err = err
		return report
	}

	client, err := o.NewClient(cfg)
	if err != nil {
		report.Err = err
		log.Error().Err(err).Msg("unit failed: no client")
		return report
	}

	contentReport := &transmit.Report{}
	learnerReport := &transmit.Report{}
	var contentErr, learnerErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		contentErr = o.syncContent(ctx, cfg, client, log, contentReport)
	}()
	go func() {
		defer wg.Done()
		learnerErr = o.syncLearners(ctx, cfg, client, log, learnerReport)
	}()
	wg.Wait()

	mergeReports(report, contentReport)
	mergeReports(report, learnerReport)
	report.Err = errors.Join(contentErr, learnerErr)

	if report.Err != nil {
		log.Error().Err(report.Err).Msg("unit failed")
	} else {
		log.Info().Msg(report.Summary())
	}
	return report
}

func (o *Orchestrator) syncContent(ctx context.Context, cfg domain.ChannelConfiguration, client channel.Client, log zerolog.Logger, report *transmit.Report) error {
	exporter := &export.ContentExporter{Catalog: o.Catalog, Store: o.Store, Log: log}
	transmitter := &transmit.ContentTransmitter{
		Store:       o.Store,
		GiveUpAfter: o.GiveUpAfter,
		DryRun:      o.DryRun,
		Log:         log,
	}

	desired, fetches, err := exporter.Export(ctx, cfg, client)
	if err != nil {
		return err
	}
	if err := transmitter.Transmit(ctx, cfg, client, desired, report); err != nil {
		return err
	}
	if o.DryRun {
		return nil
	}

	// The freshness marks commit only after the full pass went through, so a
	// unit aborted mid-run re-fetches next time instead of trusting a mark
	// it never earned.
	now := time.Now().UTC()
	for _, fetch := range fetches {
		err := o.Store.PutCatalogMark(cfg.ID, audit.CatalogMark{
			CatalogID:     fetch.CatalogID,
			LastModified:  fetch.LastModified,
			TransmittedAt: now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) syncLearners(ctx context.Context, cfg domain.ChannelConfiguration, client channel.Client, log zerolog.Logger, report *transmit.Report) error {
	exporter := &export.LearnerExporter{Grades: o.Grades}
	transmitter := &transmit.LearnerTransmitter{Store: o.Store, DryRun: o.DryRun, Log: log}

	enrollments, err := o.Catalog.EnrollmentsForCustomer(ctx, cfg.Customer)
	if err != nil {
		return err
	}
	records, err := exporter.ExportAll(ctx, enrollments)
	if err != nil {
		return err
	}
	return transmitter.Transmit(ctx, cfg, client, records, report)
}

func mergeReports(dst, src *transmit.Report) {
	dst.Created += src.Created
	dst.Updated += src.Updated
	dst.Deleted += src.Deleted
	dst.Unchanged += src.Unchanged
	dst.SkippedStuck += src.SkippedStuck
	dst.CompletionsSent += src.CompletionsSent
	dst.CompletionsSkipped += src.CompletionsSkipped
	dst.Failures = append(dst.Failures, src.Failures...)
}
