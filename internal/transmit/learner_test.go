package transmit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"channel-sync/internal/audit"
	"channel-sync/internal/channel"
	"channel-sync/internal/domain"
)

func newLearnerTransmitter(t *testing.T) (*LearnerTransmitter, *audit.Store) {
	t.Helper()
	store, err := audit.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &LearnerTransmitter{Store: store, Log: zerolog.Nop()}, store
}

func completion(id string, completed bool, grade string) domain.CompletionRecord {
	return domain.CompletionRecord{
		EnrollmentID: id,
		User:         "user-1",
		CourseKey:    "course-1",
		Completed:    completed,
		Grade:        grade,
		CompletedAt:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLearnerTransmitAndSkip(t *testing.T) {
	tr, _ := newLearnerTransmitter(t)
	client := &fakeClient{pageLimit: 50}
	cfg := testConfig()
	recs := []domain.CompletionRecord{completion("enr-1", true, domain.GradePassing)}

	report := &Report{}
	if err := tr.Transmit(context.Background(), cfg, client, recs, report); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if report.CompletionsSent != 1 {
		t.Fatalf("expected 1 sent, got %d", report.CompletionsSent)
	}

	// Identical record: nothing goes on the wire.
	report = &Report{}
	if err := tr.Transmit(context.Background(), cfg, client, recs, report); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.CompletionsSkipped != 1 || report.CompletionsSent != 0 {
		t.Errorf("expected idempotent skip, got %+v", report)
	}
	if len(client.completions) != 1 {
		t.Errorf("expected 1 completion call total, got %d", len(client.completions))
	}
}

func TestLearnerTransmitRejectsRegression(t *testing.T) {
	tr, store := newLearnerTransmitter(t)
	client := &fakeClient{pageLimit: 50}
	cfg := testConfig()

	report := &Report{}
	err := tr.Transmit(context.Background(), cfg, client,
		[]domain.CompletionRecord{completion("enr-1", true, domain.GradePassing)}, report)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Upstream regression: completed flips back to false.
	report = &Report{}
	err = tr.Transmit(context.Background(), cfg, client,
		[]domain.CompletionRecord{completion("enr-1", false, domain.GradeIncomplete)}, report)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(report.Failures) != 1 {
		t.Fatalf("expected 1 integrity failure, got %d", len(report.Failures))
	}
	f := report.Failures[0]
	if f.Op != OpCompletion || f.Status != channel.StatusPermanent {
		t.Errorf("unexpected failure classification: %+v", f)
	}
	if len(client.completions) != 1 {
		t.Errorf("regression was transmitted")
	}

	// Stored record must remain completed.
	stored, err := store.LearnerRecord(cfg.ID, "enr-1")
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if stored == nil || !stored.Completed {
		t.Errorf("stored completion regressed: %+v", stored)
	}
}

func TestLearnerTransmitGradeChangeRetransmits(t *testing.T) {
	tr, _ := newLearnerTransmitter(t)
	client := &fakeClient{pageLimit: 50}
	cfg := testConfig()

	report := &Report{}
	err := tr.Transmit(context.Background(), cfg, client,
		[]domain.CompletionRecord{completion("enr-1", false, domain.GradeIncomplete)}, report)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	report = &Report{}
	err = tr.Transmit(context.Background(), cfg, client,
		[]domain.CompletionRecord{completion("enr-1", true, domain.GradePassing)}, report)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.CompletionsSent != 1 {
		t.Errorf("expected grade change to retransmit, got %+v", report)
	}
}

func TestLearnerTransmitChunksByPageLimit(t *testing.T) {
	tr, _ := newLearnerTransmitter(t)
	client := &fakeClient{pageLimit: 2}
	cfg := testConfig()

	recs := []domain.CompletionRecord{
		completion("enr-1", true, domain.GradePassing),
		completion("enr-2", true, domain.GradePassing),
		completion("enr-3", true, domain.GradePassing),
	}
	report := &Report{}
	if err := tr.Transmit(context.Background(), cfg, client, recs, report); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(client.completions) != 2 {
		t.Errorf("expected 2 chunks for 3 records at limit 2, got %d", len(client.completions))
	}
	if report.CompletionsSent != 3 {
		t.Errorf("expected 3 sent, got %d", report.CompletionsSent)
	}
}
