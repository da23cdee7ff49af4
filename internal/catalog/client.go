// Package catalog consumes the external catalog/config service: catalog
// membership, content metadata, freshness signals, and enrollments. The
// pipeline never persists catalog data; this client is the sole source.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"channel-sync/internal/domain"
	"channel-sync/internal/httpx"
)

// Service is what the exporters need from the catalog collaborator.
type Service interface {
	// CatalogsForCustomer lists the catalog IDs owned by a customer, used
	// when a channel configuration does not pin an explicit catalog list.
	CatalogsForCustomer(ctx context.Context, customer string) ([]string, error)

	// LastModified is the cheap freshness signal behind the update-only check.
	LastModified(ctx context.Context, catalogID string) (time.Time, error)

	// ContentMetadata fetches the full current content of a catalog,
	// paginated internally.
	ContentMetadata(ctx context.Context, catalogID string, pageSize int) ([]domain.ContentItem, error)

	// EnrollmentsForCustomer lists the customer's learner enrollments.
	EnrollmentsForCustomer(ctx context.Context, customer string) ([]domain.Enrollment, error)
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Retry   httpx.RetryConfig
}

var _ Service = (*Client)(nil)

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    httpx.NewClient(),
		Retry:   httpx.DefaultRetryConfig(),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		u := c.BaseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Accept", "application/json")
		r.Header.Set("Authorization", "Bearer "+c.Token)
		return r, nil
	}, out, c.Retry)
}

func (c *Client) CatalogsForCustomer(ctx context.Context, customer string) ([]string, error) {
	var resp struct {
		Results []struct {
			UUID string `json:"uuid"`
		} `json:"results"`
	}
	q := url.Values{"enterprise_customer": {customer}}
	if err := c.get(ctx, "/api/v1/enterprise-catalogs/", q, &resp); err != nil {
		return nil, fmt.Errorf("catalog: list catalogs for %s: %w", customer, err)
	}
	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r.UUID)
	}
	return out, nil
}

func (c *Client) LastModified(ctx context.Context, catalogID string) (time.Time, error) {
	var resp struct {
		ContentLastModified time.Time `json:"content_last_modified"`
	}
	if err := c.get(ctx, "/api/v1/enterprise-catalogs/"+url.PathEscape(catalogID)+"/", nil, &resp); err != nil {
		return time.Time{}, fmt.Errorf("catalog: last modified of %s: %w", catalogID, err)
	}
	return resp.ContentLastModified, nil
}

type contentRow struct {
	Key           string            `json:"key"`
	Title         string            `json:"title"`
	Description   string            `json:"short_description"`
	ContentURL    string            `json:"marketing_url"`
	Language      string            `json:"content_language"`
	ContentType   string            `json:"content_type"`
	DurationHours float64           `json:"duration_hours"`
	ImageURL      string            `json:"image_url"`
	Price         float64           `json:"first_enrollable_paid_seat_price"`
	LastModified  time.Time         `json:"modified"`
	Fields        map[string]string `json:"extra_metadata"`
}

func (c *Client) ContentMetadata(ctx context.Context, catalogID string, pageSize int) ([]domain.ContentItem, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	out := make([]domain.ContentItem, 0, pageSize)
	page := 1
	for {
		var resp struct {
			Results []contentRow `json:"results"`
			Next    string       `json:"next"`
		}
		q := url.Values{
			"page":      {strconv.Itoa(page)},
			"page_size": {strconv.Itoa(pageSize)},
		}
		err := c.get(ctx, "/api/v1/enterprise-catalogs/"+url.PathEscape(catalogID)+"/get_content_metadata/", q, &resp)
		if err != nil {
			return nil, fmt.Errorf("catalog: content of %s page %d: %w", catalogID, page, err)
		}

		for _, row := range resp.Results {
			out = append(out, domain.ContentItem{
				Key:           row.Key,
				Title:         row.Title,
				Description:   row.Description,
				ContentURL:    row.ContentURL,
				Language:      row.Language,
				ContentType:   row.ContentType,
				DurationHours: row.DurationHours,
				ImageURL:      row.ImageURL,
				Price:         row.Price,
				LastModified:  row.LastModified,
				Fields:        row.Fields,
			})
		}

		if resp.Next == "" || len(resp.Results) == 0 {
			break
		}
		page++
	}
	return out, nil
}

func (c *Client) EnrollmentsForCustomer(ctx context.Context, customer string) ([]domain.Enrollment, error) {
	var resp struct {
		Results []struct {
			ID            string    `json:"enterprise_enrollment_id"`
			User          string    `json:"user_id"`
			CourseKey     string    `json:"course_id"`
			Mode          string    `json:"mode"`
			Pacing        string    `json:"pacing_type"`
			CourseEndDate time.Time `json:"course_end"`
		} `json:"results"`
	}
	q := url.Values{"enterprise_customer": {customer}}
	if err := c.get(ctx, "/api/v1/enterprise-course-enrollments/", q, &resp); err != nil {
		return nil, fmt.Errorf("catalog: enrollments for %s: %w", customer, err)
	}

	out := make([]domain.Enrollment, 0, len(resp.Results))
	for _, r := range resp.Results {
		pacing := domain.PacingSelf
		if r.Pacing == "instructor_paced" || r.Pacing == "instructor" {
			pacing = domain.PacingInstructor
		}
		out = append(out, domain.Enrollment{
			ID:            r.ID,
			User:          r.User,
			CourseKey:     r.CourseKey,
			Track:         domain.Track(r.Mode),
			Pacing:        pacing,
			CourseEndDate: r.CourseEndDate,
		})
	}
	return out, nil
}
