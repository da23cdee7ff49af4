package domain

import "time"

// Track is the enrollment mode of a learner in a course.
type Track string

const (
	TrackAudit        Track = "audit"
	TrackVerified     Track = "verified"
	TrackProfessional Track = "professional"
)

// Paid reports whether the track grants access to certification.
func (t Track) Paid() bool { return t != TrackAudit && t != "" }

// Pacing describes how a course run is scheduled.
type Pacing string

const (
	PacingInstructor Pacing = "instructor"
	PacingSelf       Pacing = "self"
)

// Enrollment is one learner's enrollment in one course run, as provided by the
// enrollment collaborator. Re-attempts produce new enrollment IDs.
type Enrollment struct {
	ID        string
	User      string
	CourseKey string
	Track     Track
	Pacing    Pacing

	// CourseEndDate is zero for self-paced courses and for runs without an end.
	CourseEndDate time.Time
}

// Certificate is a passing certificate issued to a learner for a course.
type Certificate struct {
	Grade     string
	CreatedAt time.Time
}

// Grade is the learner's current grade snapshot from the grading collaborator.
type Grade struct {
	Passed  bool
	Percent float64
}

// CompletionRecord is the exported completion status for one enrollment.
type CompletionRecord struct {
	EnrollmentID string
	User         string
	CourseKey    string
	Completed    bool
	Grade        string
	CompletedAt  time.Time

	// BestEffort marks a completion inferred from exhausted free content rather
	// than a formal pass. Channels must not present these as certifications.
	BestEffort bool
}

// Common grade values reported to channels.
const (
	GradePassing    = "Pass"
	GradeFailing    = "Fail"
	GradeIncomplete = "In Progress"
)
