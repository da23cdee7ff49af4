// Command sync runs the channel synchronization pipeline: export desired
// state from the catalog and grading collaborators, diff it against the
// audit trail, and transmit the difference to every active channel.
//
// One-shot by default; -interval keeps it running as a daemon with a
// metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"channel-sync/internal/audit"
	"channel-sync/internal/catalog"
	"channel-sync/internal/channel"
	"channel-sync/internal/channel/cornerstone"
	"channel-sync/internal/channel/degreed"
	"channel-sync/internal/channel/successfactors"
	"channel-sync/internal/config"
	"channel-sync/internal/domain"
	"channel-sync/internal/grades"
	"channel-sync/internal/logging"
	"channel-sync/internal/orchestrator"
)

func main() {
	var (
		configPath  = flag.String("config", config.FindFile(), "path to the YAML configuration file")
		customer    = flag.String("customer", "", "only sync configurations of this customer")
		channelType = flag.String("channel", "", "only sync configurations of this channel type")
		dryRun      = flag.Bool("dry-run", false, "compute and report the diff without transmitting or committing")
		interval    = flag.Duration("interval", 0, "run continuously at this interval (0 = one shot)")
		metricsAddr = flag.String("metrics-addr", "", "listen address for /metrics and /healthz (daemon mode)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *interval == 0 {
		*interval = cfg.Interval
	}
	if *metricsAddr == "" {
		*metricsAddr = cfg.MetricsAddr
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	store, err := audit.Open(cfg.AuditDBPath, log)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.AuditDBPath).Msg("open audit store")
	}
	defer store.Close()

	orch := &orchestrator.Orchestrator{
		Store:       store,
		Catalog:     catalog.New(cfg.Catalog.BaseURL, cfg.Catalog.Token),
		Grades:      grades.New(cfg.Grades.BaseURL, cfg.Grades.Token),
		NewClient:   clientFactory(log),
		Configs:     cfg.Channels,
		Workers:     cfg.Workers,
		GiveUpAfter: cfg.GiveUpAfter,
		RunDeadline: cfg.RunDeadline,
		DryRun:      *dryRun,
		Log:         log,
	}
	filter := orchestrator.Filter{Customer: *customer, ChannelType: *channelType}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *interval <= 0 {
		report, err := orch.Run(ctx, filter)
		if err != nil {
			log.Fatal().Err(err).Msg("run failed")
		}
		printReport(report)
		if report.HasPermanentFailures() {
			os.Exit(1)
		}
		return
	}

	runDaemon(ctx, orch, filter, *interval, *metricsAddr, log)
}

func runDaemon(ctx context.Context, orch *orchestrator.Orchestrator, filter orchestrator.Filter, interval time.Duration, metricsAddr string, log zerolog.Logger) {
	srv := &http.Server{Addr: metricsAddr, Handler: router()}
	go func() {
		log.Info().Str("addr", metricsAddr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := orch.Run(ctx, filter)
		if err != nil {
			log.Error().Err(err).Msg("run failed")
		} else {
			log.Info().
				Str("run_id", report.RunID).
				Dur("took", report.FinishedAt.Sub(report.StartedAt)).
				Bool("permanent_failures", report.HasPermanentFailures()).
				Int("units", len(report.Units)).
				Msg("run finished")
		}

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			return
		case <-ticker.C:
		}
	}
}

func router() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

func clientFactory(log zerolog.Logger) orchestrator.ClientFactory {
	return func(cfg domain.ChannelConfiguration) (channel.Client, error) {
		switch cfg.ChannelType {
		case "successfactors":
			return successfactors.New(cfg, log), nil
		case "degreed":
			return degreed.New(cfg, log), nil
		case "cornerstone":
			return cornerstone.New(cfg, log), nil
		}
		return nil, fmt.Errorf("unknown channel type %q", cfg.ChannelType)
	}
}

func printReport(report *orchestrator.RunReport) {
	fmt.Printf("run %s finished in %s\n", report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	for _, unit := range report.Units {
		if unit.Err != nil {
			fmt.Printf("  %s/%s (%s): FAILED: %v\n", unit.Customer, unit.Channel, unit.ConfigID, unit.Err)
			continue
		}
		fmt.Printf("  %s\n", unit.Summary())
		for _, f := range unit.Failures {
			fmt.Printf("    %s %s: %s (%s)\n", f.Op, f.Key, f.Reason, f.Status)
		}
	}
}
