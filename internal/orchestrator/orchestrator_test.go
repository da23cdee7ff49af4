package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"channel-sync/internal/audit"
	"channel-sync/internal/channel"
	"channel-sync/internal/domain"
	"channel-sync/internal/transmit"
)

type stubCatalog struct {
	items       []domain.ContentItem
	enrollments []domain.Enrollment
}

func (s *stubCatalog) CatalogsForCustomer(ctx context.Context, customer string) ([]string, error) {
	return []string{"cat-" + customer}, nil
}

func (s *stubCatalog) LastModified(ctx context.Context, catalogID string) (time.Time, error) {
	return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), nil
}

func (s *stubCatalog) ContentMetadata(ctx context.Context, catalogID string, pageSize int) ([]domain.ContentItem, error) {
	return s.items, nil
}

func (s *stubCatalog) EnrollmentsForCustomer(ctx context.Context, customer string) ([]domain.Enrollment, error) {
	return s.enrollments, nil
}

type stubGrades struct{}

func (stubGrades) Certificate(ctx context.Context, user, courseKey string) (*domain.Certificate, error) {
	return &domain.Certificate{Grade: "A", CreatedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (stubGrades) Grade(ctx context.Context, user, courseKey string) (domain.Grade, error) {
	return domain.Grade{}, nil
}

func (stubGrades) FreeContentExhausted(ctx context.Context, user, courseKey string) (bool, error) {
	return false, nil
}

type recordingClient struct {
	mu          sync.Mutex
	created     int
	completions int
	failCreates bool
}

func (c *recordingClient) Name() string           { return "recording" }
func (c *recordingClient) PageLimit() int         { return 100 }
func (c *recordingClient) MaxRemoteIDLength() int { return 0 }
func (c *recordingClient) FullResync() bool       { return false }

func (c *recordingClient) CreateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created += len(items)
	outcomes := make([]channel.Outcome, 0, len(items))
	for _, item := range items {
		if c.failCreates {
			outcomes = append(outcomes, channel.Permanent(item.Key, "rejected"))
		} else {
			outcomes = append(outcomes, channel.OK(item.Key))
		}
	}
	return outcomes, nil
}

func (c *recordingClient) UpdateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return channel.ItemOutcomes(items, channel.StatusOK, ""), nil
}

func (c *recordingClient) DeleteContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return channel.ItemOutcomes(items, channel.StatusOK, ""), nil
}

func (c *recordingClient) SendCompletions(ctx context.Context, records []domain.CompletionRecord) ([]channel.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions += len(records)
	return channel.CompletionOutcomes(records, channel.StatusOK, ""), nil
}

func testOrchestrator(t *testing.T, configs []domain.ChannelConfiguration, factory ClientFactory) (*Orchestrator, *audit.Store) {
	t.Helper()
	store, err := audit.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &Orchestrator{
		Store: store,
		Catalog: &stubCatalog{
			items: []domain.ContentItem{{Key: "course-1", Title: "Intro"}},
			enrollments: []domain.Enrollment{
				{ID: "enr-1", User: "user-1", CourseKey: "course-1", Track: domain.TrackVerified},
			},
		},
		Grades:    stubGrades{},
		NewClient: factory,
		Configs:   configs,
		Workers:   2,
		Log:       zerolog.Nop(),
	}, store
}

func activeConfig(id, customer string) domain.ChannelConfiguration {
	return domain.ChannelConfiguration{
		ID:          id,
		Customer:    customer,
		ChannelType: "successfactors",
		Active:      true,
		Catalogs:    []string{"cat-1"},
	}
}

func TestRunSyncsAllActiveConfigurations(t *testing.T) {
	clients := map[string]*recordingClient{}
	var mu sync.Mutex
	factory := func(cfg domain.ChannelConfiguration) (channel.Client, error) {
		mu.Lock()
		defer mu.Unlock()
		c := &recordingClient{}
		clients[cfg.ID] = c
		return c, nil
	}

	inactive := activeConfig("cfg-3", "gamma")
	inactive.Active = false
	o, _ := testOrchestrator(t, []domain.ChannelConfiguration{
		activeConfig("cfg-1", "alpha"),
		activeConfig("cfg-2", "beta"),
		inactive,
	}, factory)

	report, err := o.Run(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(report.Units))
	}
	for _, unit := range report.Units {
		if unit.Err != nil {
			t.Errorf("unit %s failed: %v", unit.ConfigID, unit.Err)
		}
		if unit.Created != 1 || unit.CompletionsSent != 1 {
			t.Errorf("unit %s counts: %+v", unit.ConfigID, unit)
		}
	}
	if _, ok := clients["cfg-3"]; ok {
		t.Error("inactive configuration received a client")
	}
	if report.HasPermanentFailures() {
		t.Error("clean run flagged permanent failures")
	}
}

func TestRunIsolatesFailingUnit(t *testing.T) {
	factory := func(cfg domain.ChannelConfiguration) (channel.Client, error) {
		if cfg.ID == "cfg-1" {
			return nil, errors.New("credential store unreachable")
		}
		return &recordingClient{}, nil
	}
	o, _ := testOrchestrator(t, []domain.ChannelConfiguration{
		activeConfig("cfg-1", "alpha"),
		activeConfig("cfg-2", "beta"),
	}, factory)

	report, err := o.Run(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	byID := map[string]*transmit.Report{}
	for _, unit := range report.Units {
		byID[unit.ConfigID] = unit
	}
	if byID["cfg-1"] == nil || byID["cfg-1"].Err == nil {
		t.Fatal("expected cfg-1 to fail")
	}
	if healthy := byID["cfg-2"]; healthy == nil || healthy.Err != nil || healthy.Created != 1 {
		t.Fatalf("cfg-2 should have completed normally: %+v", healthy)
	}
	if !report.HasPermanentFailures() {
		t.Error("failed unit not surfaced on the run report")
	}
}

func TestRunFilter(t *testing.T) {
	var mu sync.Mutex
	var built []string
	factory := func(cfg domain.ChannelConfiguration) (channel.Client, error) {
		mu.Lock()
		built = append(built, cfg.ID)
		mu.Unlock()
		return &recordingClient{}, nil
	}
	o, _ := testOrchestrator(t, []domain.ChannelConfiguration{
		activeConfig("cfg-1", "alpha"),
		activeConfig("cfg-2", "beta"),
	}, factory)

	report, err := o.Run(context.Background(), Filter{Customer: "beta"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Units) != 1 || report.Units[0].ConfigID != "cfg-2" {
		t.Fatalf("filter selected wrong units: %+v", report.Units)
	}
	if len(built) != 1 || built[0] != "cfg-2" {
		t.Errorf("clients built for unfiltered configs: %v", built)
	}
}

func TestRunCommitsCatalogMarksAfterSuccess(t *testing.T) {
	client := &recordingClient{}
	factory := func(cfg domain.ChannelConfiguration) (channel.Client, error) { return client, nil }
	o, store := testOrchestrator(t, []domain.ChannelConfiguration{activeConfig("cfg-1", "alpha")}, factory)

	if _, err := o.Run(context.Background(), Filter{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	mark, err := store.CatalogMark("cfg-1", "cat-1")
	if err != nil {
		t.Fatalf("load mark: %v", err)
	}
	if mark == nil {
		t.Fatal("expected a catalog mark after a successful run")
	}

	// Second run replays the cached set and skips the wire entirely.
	if _, err := o.Run(context.Background(), Filter{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if client.created != 1 {
		t.Errorf("expected no additional creates on an unchanged catalog, got %d", client.created)
	}
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	client := &recordingClient{}
	factory := func(cfg domain.ChannelConfiguration) (channel.Client, error) { return client, nil }
	o, store := testOrchestrator(t, []domain.ChannelConfiguration{activeConfig("cfg-1", "alpha")}, factory)
	o.DryRun = true

	report, err := o.Run(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if client.created != 0 || client.completions != 0 {
		t.Errorf("dry run hit the channel: creates=%d completions=%d", client.created, client.completions)
	}
	if report.Units[0].Created != 1 {
		t.Errorf("dry run should still report the planned create, got %+v", report.Units[0])
	}
	mark, err := store.CatalogMark("cfg-1", "cat-1")
	if err != nil {
		t.Fatalf("load mark: %v", err)
	}
	if mark != nil {
		t.Error("dry run committed a catalog mark")
	}
}

func TestRunCancelledContextSurfacesAsUnitErrors(t *testing.T) {
	factory := func(cfg domain.ChannelConfiguration) (channel.Client, error) {
		return &recordingClient{}, nil
	}
	o, _ := testOrchestrator(t, []domain.ChannelConfiguration{activeConfig("cfg-1", "alpha")}, factory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := o.Run(ctx, Filter{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Units) != 1 {
		t.Fatalf("expected the unit to be reported, got %d units", len(report.Units))
	}
	if !errors.Is(report.Units[0].Err, context.Canceled) {
		t.Errorf("expected cancellation to surface as a unit error, got %v", report.Units[0].Err)
	}
}
