// Package grades consumes the grading/certificate collaborator.
package grades

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"channel-sync/internal/domain"
	"channel-sync/internal/httpx"
)

// Service is what the learner-data exporter needs from the grading side.
type Service interface {
	// Certificate returns the passing certificate for a learner+course, or
	// nil when none has been issued.
	Certificate(ctx context.Context, user, courseKey string) (*domain.Certificate, error)

	// Grade returns the learner's current grade snapshot.
	Grade(ctx context.Context, user, courseKey string) (domain.Grade, error)

	// FreeContentExhausted reports whether the learner has consumed all
	// non-gated content of the course.
	FreeContentExhausted(ctx context.Context, user, courseKey string) (bool, error)
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

func (c *Client) get(ctx context.Context, path string, out any) error {
	return httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Accept", "application/json")
		r.Header.Set("Authorization", "Bearer "+c.Token)
		return r, nil
	}, out, c.Retry)
}

func (c *Client) Certificate(ctx context.Context, user, courseKey string) (*domain.Certificate, error) {
	var resp struct {
		Grade     string `json:"grade"`
		CreatedAt string `json:"created_date"`
		IsPassing bool   `json:"is_passing"`
	}
	path := fmt.Sprintf("/api/certificates/v0/certificates/%s/courses/%s/",
		url.PathEscape(user), url.PathEscape(courseKey))
	err := c.get(ctx, path, &resp)
	if err != nil {
		var herr *httpx.HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("grades: certificate %s/%s: %w", user, courseKey, err)
	}
	if !resp.IsPassing {
		return nil, nil
	}

	cert := &domain.Certificate{Grade: resp.Grade}
	if t, perr := time.Parse(time.RFC3339, resp.CreatedAt); perr == nil {
		cert.CreatedAt = t
	}
	return cert, nil
}

func (c *Client) Grade(ctx context.Context, user, courseKey string) (domain.Grade, error) {
	var resp struct {
		Passed  bool    `json:"passed"`
		Percent float64 `json:"percent"`
	}
	path := fmt.Sprintf("/api/grades/v1/courses/%s/users/%s/",
		url.PathEscape(courseKey), url.PathEscape(user))
	if err := c.get(ctx, path, &resp); err != nil {
		return domain.Grade{}, fmt.Errorf("grades: grade %s/%s: %w", user, courseKey, err)
	}
	return domain.Grade{Passed: resp.Passed, Percent: resp.Percent}, nil
}

func (c *Client) FreeContentExhausted(ctx context.Context, user, courseKey string) (bool, error) {
	var resp struct {
		Exhausted bool `json:"non_gated_content_exhausted"`
	}
	path := fmt.Sprintf("/api/completion/v1/courses/%s/users/%s/progress/",
		url.PathEscape(courseKey), url.PathEscape(user))
	if err := c.get(ctx, path, &resp); err != nil {
		return false, fmt.Errorf("grades: progress %s/%s: %w", user, courseKey, err)
	}
	return resp.Exhausted, nil
}
