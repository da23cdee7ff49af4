package export

import (
	"context"
	"fmt"
	"time"

	"channel-sync/internal/domain"
	"channel-sync/internal/grades"
)

// LearnerExporter turns enrollments into completion records. The policy is
// keyed on enrollment track and course pacing:
//
//   - paid tracks complete when a certificate exists;
//   - audit + instructor-paced completes once the course end date passes,
//     with a binary pass/fail grade as of now;
//   - audit + self-paced completes on a passing grade, or best-effort when
//     the learner has exhausted all non-gated content.
//
// DetermineCompletion is pure over the enrollment and the collaborator
// snapshot, so re-invoking it is safe.
type LearnerExporter struct {
	Grades grades.Service

	// Now is swapped in tests.
	Now func() time.Time
}

func (e *LearnerExporter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *LearnerExporter) DetermineCompletion(ctx context.Context, enrollment domain.Enrollment) (domain.CompletionRecord, error) {
	rec := domain.CompletionRecord{
		EnrollmentID: enrollment.ID,
		User:         enrollment.User,
		CourseKey:    enrollment.CourseKey,
		Grade:        domain.GradeIncomplete,
	}

	if enrollment.Track.Paid() {
		cert, err := e.Grades.Certificate(ctx, enrollment.User, enrollment.CourseKey)
		if err != nil {
			return rec, fmt.Errorf("export: certificate lookup: %w", err)
		}
		if cert == nil {
			return rec, nil
		}
		rec.Completed = true
		rec.Grade = cert.Grade
		rec.CompletedAt = cert.CreatedAt
		return rec, nil
	}

	// Audit track: no certificates are ever issued.
	if enrollment.Pacing == domain.PacingInstructor {
		if enrollment.CourseEndDate.IsZero() || e.now().Before(enrollment.CourseEndDate) {
			return rec, nil
		}
		grade, err := e.Grades.Grade(ctx, enrollment.User, enrollment.CourseKey)
		if err != nil {
			return rec, fmt.Errorf("export: grade lookup: %w", err)
		}
		rec.Completed = true
		rec.CompletedAt = enrollment.CourseEndDate
		if grade.Passed {
			rec.Grade = domain.GradePassing
		} else {
			rec.Grade = domain.GradeFailing
		}
		return rec, nil
	}

	grade, err := e.Grades.Grade(ctx, enrollment.User, enrollment.CourseKey)
	if err != nil {
		return rec, fmt.Errorf("export: grade lookup: %w", err)
	}
	if grade.Passed {
		rec.Completed = true
		rec.Grade = domain.GradePassing
		rec.CompletedAt = e.now()
		return rec, nil
	}

	exhausted, err := e.Grades.FreeContentExhausted(ctx, enrollment.User, enrollment.CourseKey)
	if err != nil {
		return rec, fmt.Errorf("export: progress lookup: %w", err)
	}
	if exhausted {
		// Nothing left the learner can do without upgrading. Reported as
		// completed for external reporting, tagged so channels don't present
		// it as a certification.
		rec.Completed = true
		rec.BestEffort = true
		rec.Grade = domain.GradePassing
		rec.CompletedAt = e.now()
	}
	return rec, nil
}

// ExportAll determines completion for every enrollment. A collaborator
// failure aborts the whole batch: the unit of work retries on the next run
// rather than transmitting a partial learner set.
func (e *LearnerExporter) ExportAll(ctx context.Context, enrollments []domain.Enrollment) ([]domain.CompletionRecord, error) {
	out := make([]domain.CompletionRecord, 0, len(enrollments))
	for _, enrollment := range enrollments {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rec, err := e.DetermineCompletion(ctx, enrollment)
		if err != nil {
			return nil, fmt.Errorf("export: enrollment %s: %w", enrollment.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
