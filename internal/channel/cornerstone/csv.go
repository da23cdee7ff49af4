package cornerstone

import (
	"encoding/csv"
	"io"
	"strconv"

	"channel-sync/internal/domain"
)

// Cornerstone course-feed template. Keep header order EXACT; the loader on the
// channel side maps columns by position.
var contentHeader = []string{
	"COURSE_ID",
	"TITLE",
	"DESCRIPTION",
	"URL",
	"LANGUAGE",
	"CONTENT_TYPE",
	"DURATION_HOURS",
	"IMAGE_URL",
	"PRICE",
	"STATUS",
}

// WriteContentCSV writes items in the Cornerstone course-feed format with the
// given status column value ("Active" or "Inactive").
func WriteContentCSV(w io.Writer, items []domain.ContentItem, status string) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(contentHeader); err != nil {
		return err
	}
	for _, item := range items {
		row := []string{
			item.RemoteID,
			item.Title,
			item.Description,
			item.ContentURL,
			item.Language,
			item.ContentType,
			formatFloat(item.DurationHours),
			item.ImageURL,
			formatFloat(item.Price),
			status,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var completionHeader = []string{
	"USER_ID",
	"COURSE_ID",
	"COMPLETED",
	"COMPLETION_DATE",
	"GRADE",
	"VERIFIED",
}

// WriteCompletionCSV writes completion records in the Cornerstone
// transcript-feed format. Best-effort completions carry VERIFIED=N.
func WriteCompletionCSV(w io.Writer, records []domain.CompletionRecord) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(completionHeader); err != nil {
		return err
	}
	for _, rec := range records {
		completed := "N"
		if rec.Completed {
			completed = "Y"
		}
		verified := "Y"
		if rec.BestEffort {
			verified = "N"
		}
		date := ""
		if !rec.CompletedAt.IsZero() {
			date = rec.CompletedAt.UTC().Format("2006-01-02")
		}
		row := []string{rec.User, rec.CourseKey, completed, date, rec.Grade, verified}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
