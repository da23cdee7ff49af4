// Package successfactors implements the channel client for SAP SuccessFactors
// Learning (OCN). Content goes through the batch OcnCourses endpoint which
// reports per-item results; deletions are transmitted as status INACTIVE
// because OCN has no hard delete.
package successfactors

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"channel-sync/internal/channel"
	"channel-sync/internal/domain"
	"channel-sync/internal/httpx"
)

const (
	defaultPageLimit = 500
	maxCourseIDLen   = 64

	tokenPath       = "/learning/oauth-api/rest/v1/token"
	coursesPath     = "/learning/odatav4/public/admin/ocn/v1/OcnCourses"
	completionsPath = "/learning/odatav4/public/admin/ocn/v1/OcnLearnerActivity"
)

type Client struct {
	baseURL      string
	companyID    string
	clientID     string
	clientSecret string
	pageLimit    int

	http    *http.Client
	retry   httpx.RetryConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     zerolog.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func New(cfg domain.ChannelConfiguration, log zerolog.Logger) *Client {
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	return &Client{
		baseURL:      cfg.Credentials.BaseURL,
		companyID:    cfg.Credentials.Username,
		clientID:     cfg.Credentials.ClientID,
		clientSecret: cfg.Credentials.ClientSecret,
		pageLimit:    limit,
		http:         httpx.NewClient(),
		retry:        httpx.DefaultRetryConfig(),
		limiter:      rate.NewLimiter(rate.Limit(5), 10), // SF throttles aggressively
		breaker:      channel.NewBreaker("successfactors:"+cfg.ID, log),
		log:          log,
	}
}

func (c *Client) Name() string           { return "successfactors" }
func (c *Client) PageLimit() int         { return c.pageLimit }
func (c *Client) MaxRemoteIDLength() int { return maxCourseIDLen }
func (c *Client) FullResync() bool       { return false }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"client_id":  c.clientID,
		"scope":      "admin",
		"company_id": c.companyID,
	})
	if err != nil {
		return "", err
	}

	var tr tokenResponse
	err = httpx.DoJSON(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.SetBasicAuth(c.clientID, c.clientSecret)
		return r, nil
	}, &tr, c.retry)
	if err != nil {
		return "", fmt.Errorf("successfactors: token: %w", err)
	}

	c.token = tr.AccessToken
	// renew a minute early
	c.tokenExp = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return c.breaker.Execute(func() ([]byte, error) {
		return httpx.DoWithRetry(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			r.Header.Set("Content-Type", "application/json")
			r.Header.Set("Accept", "application/json")
			r.Header.Set("Authorization", "Bearer "+token)
			return r, nil
		}, c.retry)
	})
}

type localized struct {
	Locale string `json:"locale"`
	Value  string `json:"value"`
}

type ocnCourse struct {
	CourseID    string      `json:"courseID"`
	ProviderID  string      `json:"providerID"`
	Status      string      `json:"status"`
	Title       []localized `json:"title"`
	Description []localized `json:"description,omitempty"`
	Thumbnail   string      `json:"thumbnailURI,omitempty"`
	LaunchURL   string      `json:"launchURL,omitempty"`
	ContentType string      `json:"contentType,omitempty"`
	Duration    string      `json:"duration,omitempty"`
	Price       []price     `json:"price,omitempty"`
}

type price struct {
	Currency string  `json:"currency"`
	Value    float64 `json:"value"`
}

type courseStatus struct {
	CourseID string `json:"courseID"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

type coursesResponse struct {
	Statuses []courseStatus `json:"ocnCoursesStatus"`
}

func toOCNCourse(item domain.ContentItem, status string) ocnCourse {
	locale := item.Language
	if locale == "" {
		locale = "en-US"
	}
	course := ocnCourse{
		CourseID:    item.RemoteID,
		ProviderID:  "CHANNEL-SYNC",
		Status:      status,
		Title:       []localized{{Locale: locale, Value: item.Title}},
		Thumbnail:   item.ImageURL,
		LaunchURL:   item.ContentURL,
		ContentType: item.ContentType,
	}
	if item.Description != "" {
		course.Description = []localized{{Locale: locale, Value: item.Description}}
	}
	if item.DurationHours > 0 {
		course.Duration = fmt.Sprintf("%.2f hours", item.DurationHours)
	}
	if item.Price > 0 {
		course.Price = []price{{Currency: "USD", Value: item.Price}}
	}
	return course
}

func (c *Client) sendCourses(ctx context.Context, items []domain.ContentItem, status string) ([]channel.Outcome, error) {
	courses := make([]ocnCourse, 0, len(items))
	keyByRemote := make(map[string]string, len(items))
	for _, item := range items {
		courses = append(courses, toOCNCourse(item, status))
		keyByRemote[item.RemoteID] = item.Key
	}

	body, err := c.do(ctx, http.MethodPost, coursesPath, map[string]any{"ocnCourses": courses})
	if err != nil {
		return nil, err
	}

	var resp coursesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("successfactors: parse course statuses: %w", err)
	}

	// OCN reports per-item results; missing entries count as accepted.
	byRemote := make(map[string]courseStatus, len(resp.Statuses))
	for _, st := range resp.Statuses {
		byRemote[st.CourseID] = st
	}

	out := make([]channel.Outcome, 0, len(items))
	for _, item := range items {
		st, ok := byRemote[item.RemoteID]
		if !ok || st.Status == "OK" || st.Status == "SUCCESS" {
			out = append(out, channel.OK(item.Key))
			continue
		}
		out = append(out, channel.Permanent(item.Key, st.Message))
	}
	return out, nil
}

func (c *Client) CreateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return c.sendCourses(ctx, items, "ACTIVE")
}

func (c *Client) UpdateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return c.sendCourses(ctx, items, "ACTIVE")
}

// DeleteContent inactivates courses; OCN keeps the row on its side too.
func (c *Client) DeleteContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return c.sendCourses(ctx, items, "INACTIVE")
}

type learnerActivity struct {
	UserID          string `json:"userID"`
	CourseID        string `json:"courseID"`
	ProviderID      string `json:"providerID"`
	CompletedDate   string `json:"courseCompletedTimestamp,omitempty"`
	Grade           string `json:"grade,omitempty"`
	CompletionState string `json:"completionStatusID"`
}

func (c *Client) SendCompletions(ctx context.Context, records []domain.CompletionRecord) ([]channel.Outcome, error) {
	out := make([]channel.Outcome, 0, len(records))
	for _, rec := range records {
		state := "INCOMPLETE"
		if rec.Completed {
			state = "COMPLETED"
		}
		activity := learnerActivity{
			UserID:          rec.User,
			CourseID:        rec.CourseKey,
			ProviderID:      "CHANNEL-SYNC",
			Grade:           rec.Grade,
			CompletionState: state,
		}
		if !rec.CompletedAt.IsZero() {
			activity.CompletedDate = rec.CompletedAt.UTC().Format(time.RFC3339)
		}

		if _, err := c.do(ctx, http.MethodPost, completionsPath, activity); err != nil {
			out = append(out, channel.Outcome{
				Key:    rec.EnrollmentID,
				Status: channel.Classify(err),
				Reason: err.Error(),
			})
			continue
		}
		out = append(out, channel.OK(rec.EnrollmentID))
	}
	return out, nil
}
