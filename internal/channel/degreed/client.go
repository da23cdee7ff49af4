// Package degreed implements the channel client for Degreed. The Degreed API
// takes one course per call, so a chunk is transmitted item by item and each
// item gets its own outcome.
package degreed

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
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
	defaultPageLimit = 100

	tokenPath       = "/oauth/token"
	coursesPath     = "/api/v2/content/courses"
	completionsPath = "/api/v2/completions"
)

type Client struct {
	baseURL      string
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
		clientID:     cfg.Credentials.ClientID,
		clientSecret: cfg.Credentials.ClientSecret,
		pageLimit:    limit,
		http:         httpx.NewClient(),
		retry:        httpx.DefaultRetryConfig(),
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
		breaker:      channel.NewBreaker("degreed:"+cfg.ID, log),
		log:          log,
	}
}

func (c *Client) Name() string           { return "degreed" }
func (c *Client) PageLimit() int         { return c.pageLimit }
func (c *Client) MaxRemoteIDLength() int { return 0 }
func (c *Client) FullResync() bool       { return false }

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {"content:write completions:write"},
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := httpx.DoJSON(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath,
			bytes.NewReader([]byte(form.Encode())))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r, nil
	}, &tr, c.retry)
	if err != nil {
		return "", fmt.Errorf("degreed: token: %w", err)
	}

	c.token = tr.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	_, err = c.breaker.Execute(func() ([]byte, error) {
		return httpx.DoWithRetry(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			r.Header.Set("Content-Type", "application/json")
			r.Header.Set("Authorization", "Bearer "+token)
			return r, nil
		}, c.retry)
	})
	return err
}

type course struct {
	ExternalID   string `json:"external-id"`
	Title        string `json:"title"`
	Summary      string `json:"summary,omitempty"`
	URL          string `json:"url,omitempty"`
	ImageURL     string `json:"image-url,omitempty"`
	Language     string `json:"language,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	DurationType string `json:"duration-type,omitempty"`
	Obsolete     bool   `json:"obsolete"`
}

func toCourse(item domain.ContentItem) course {
	c := course{
		ExternalID: item.RemoteID,
		Title:      item.Title,
		Summary:    item.Description,
		URL:        item.ContentURL,
		ImageURL:   item.ImageURL,
		Language:   item.Language,
	}
	if item.DurationHours > 0 {
		c.Duration = int(item.DurationHours * 60)
		c.DurationType = "Minutes"
	}
	return c
}

func (c *Client) sendEach(ctx context.Context, items []domain.ContentItem,
	send func(ctx context.Context, item domain.ContentItem) error,
) ([]channel.Outcome, error) {
	out := make([]channel.Outcome, 0, len(items))
	for _, item := range items {
		if err := send(ctx, item); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out = append(out, channel.Outcome{
				Key:    item.Key,
				Status: channel.Classify(err),
				Reason: err.Error(),
			})
			continue
		}
		out = append(out, channel.OK(item.Key))
	}
	return out, nil
}

func (c *Client) CreateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return c.sendEach(ctx, items, func(ctx context.Context, item domain.ContentItem) error {
		return c.do(ctx, http.MethodPost, coursesPath, toCourse(item))
	})
}

func (c *Client) UpdateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return c.sendEach(ctx, items, func(ctx context.Context, item domain.ContentItem) error {
		return c.do(ctx, http.MethodPatch, coursesPath+"/"+url.PathEscape(item.RemoteID), toCourse(item))
	})
}

func (c *Client) DeleteContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return c.sendEach(ctx, items, func(ctx context.Context, item domain.ContentItem) error {
		return c.do(ctx, http.MethodDelete, coursesPath+"/"+url.PathEscape(item.RemoteID), nil)
	})
}

type completion struct {
	UserID       string `json:"user-id"`
	ContentID    string `json:"content-id"`
	ContentType  string `json:"content-id-type"`
	CompletedAt  string `json:"completed-at,omitempty"`
	Percentile   string `json:"percentile,omitempty"`
	Verification string `json:"verification,omitempty"`
}

func (c *Client) SendCompletions(ctx context.Context, records []domain.CompletionRecord) ([]channel.Outcome, error) {
	out := make([]channel.Outcome, 0, len(records))
	for _, rec := range records {
		comp := completion{
			UserID:      rec.User,
			ContentID:   rec.CourseKey,
			ContentType: "externalId",
			Percentile:  rec.Grade,
		}
		if !rec.CompletedAt.IsZero() {
			comp.CompletedAt = rec.CompletedAt.UTC().Format("2006-01-02")
		}
		// Best-effort completions must not read as certified results.
		if rec.BestEffort {
			comp.Verification = "unverified"
		}

		if err := c.do(ctx, http.MethodPost, completionsPath, comp); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
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
