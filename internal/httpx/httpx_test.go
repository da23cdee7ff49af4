package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func buildGet(url string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDoWithRetryRecoversFrom5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	body, err := DoWithRetry(context.Background(), srv.Client(), buildGet(srv.URL), fastRetry(5))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("expected body %q, got %q", "ok", string(body))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDoWithRetryStopsOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad title"}`))
	}))
	defer srv.Close()

	_, err := DoWithRetry(context.Background(), srv.Client(), buildGet(srv.URL), fastRetry(5))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 attempt for a 4xx, got %d", got)
	}

	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if herr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", herr.StatusCode)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"500", &HTTPError{StatusCode: 500}, true},
		{"429", &HTTPError{StatusCode: 429}, true},
		{"404", &HTTPError{StatusCode: 404}, false},
		{"422", &HTTPError{StatusCode: 422}, false},
		{"reset", errors.New("read tcp: connection reset by peer"), true},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"7"}}}
	if got := ParseRetryAfter(resp); got != 7*time.Second {
		t.Errorf("expected 7s, got %v", got)
	}

	resp = &http.Response{Header: http.Header{}}
	if got := ParseRetryAfter(resp); got != 0 {
		t.Errorf("expected 0 for missing header, got %v", got)
	}
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"course-1"}`))
	}))
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
	}
	if err := DoJSON(context.Background(), srv.Client(), buildGet(srv.URL), &out, fastRetry(2)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Name != "course-1" {
		t.Errorf("expected name %q, got %q", "course-1", out.Name)
	}
}
