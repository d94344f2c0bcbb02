package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reelpulse/reelpulse/internal/testutil"
)

func testConfig(baseURL string, mode Mode) Config {
	return Config{
		BaseURL:           baseURL,
		Token:             "secret",
		Mode:              mode,
		PollInterval:      10 * time.Millisecond,
		PollTimeout:       500 * time.Millisecond,
		RequestsPerSecond: 1000,
		Burst:             100,
		Retry:             fastPolicy(2),
	}
}

func TestClient_RunSync(t *testing.T) {
	var gotInput map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/acts/clockworks~tiktok-scraper/run-sync-get-dataset-items" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&gotInput)
		fmt.Fprint(w, `[{"id":"1","playCount":10},{"id":"2","playCount":20}]`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, ModeSync), nil, testutil.DiscardLogger())
	result, err := client.Run(context.Background(), JobSpec{
		TaskID: "clockworks/tiktok-scraper",
		Input:  map[string]any{"profiles": []string{"creator"}, "resultsPerPage": 10},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusSucceeded || len(result.Items) != 2 {
		t.Fatalf("result = %+v", result)
	}
	if result.Items[1].Get("playCount").Int() != 20 {
		t.Errorf("second item playCount = %v", result.Items[1].Get("playCount"))
	}
	if gotInput["resultsPerPage"] != float64(10) {
		t.Errorf("input not forwarded: %v", gotInput)
	}
}

func TestClient_RunPoll(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/acts/{task}/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"id":"run1","status":"READY","defaultDatasetId":"ds1"}}`)
	})
	mux.HandleFunc("GET /v2/actor-runs/run1", func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		switch {
		case n == 1:
			// transient failure is retried by the poll loop
			w.WriteHeader(http.StatusServiceUnavailable)
		case n < 3:
			fmt.Fprint(w, `{"data":{"status":"RUNNING"}}`)
		default:
			fmt.Fprint(w, `{"data":{"status":"SUCCEEDED"}}`)
		}
	})
	mux.HandleFunc("GET /v2/datasets/ds1/items", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"shortCode":"abc"}]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(testConfig(server.URL, ModePoll), nil, testutil.DiscardLogger())
	result, err := client.Run(context.Background(), JobSpec{TaskID: "apify/instagram-scraper"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Get("shortCode").String() != "abc" {
		t.Errorf("items = %v", result.Items)
	}
	if polls.Load() < 3 {
		t.Errorf("expected at least 3 status polls, got %d", polls.Load())
	}
}

func TestClient_RunPollFailedRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/acts/{task}/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"id":"run2","defaultDatasetId":"ds2"}}`)
	})
	mux.HandleFunc("GET /v2/actor-runs/run2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"status":"FAILED"}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(testConfig(server.URL, ModePoll), nil, testutil.DiscardLogger())
	result, err := client.Run(context.Background(), JobSpec{TaskID: "task"})
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("err = %v, want ErrRunFailed", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("status = %q, want failed", result.Status)
	}
}

func TestClient_RunPollTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/acts/{task}/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"id":"run3","defaultDatasetId":"ds3"}}`)
	})
	mux.HandleFunc("GET /v2/actor-runs/run3", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"status":"RUNNING"}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(server.URL, ModePoll)
	cfg.PollTimeout = 50 * time.Millisecond
	client := NewClient(cfg, nil, testutil.DiscardLogger())

	_, err := client.Run(context.Background(), JobSpec{TaskID: "task"})
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
	if !IsRetryable(err) {
		t.Error("poll timeout should be retryable at the job level")
	}
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, ModeSync), nil, testutil.DiscardLogger())
	for i := 0; i < 5; i++ {
		if _, err := client.Run(context.Background(), JobSpec{TaskID: "task"}); !IsRetryable(err) {
			t.Fatalf("run %d: expected retryable error, got %v", i, err)
		}
	}
	if client.BreakerState() != "open" {
		t.Fatalf("breaker state = %s, want open", client.BreakerState())
	}

	_, err := client.Run(context.Background(), JobSpec{TaskID: "task"})
	if err == nil || !strings.Contains(err.Error(), "gateway unavailable") {
		t.Errorf("expected rejection while open, got %v", err)
	}
	if calls.Load() != 5 {
		t.Errorf("server saw %d calls, want 5", calls.Load())
	}
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, ModeSync), nil, testutil.DiscardLogger())
	for i := 0; i < 6; i++ {
		_, err := client.Run(context.Background(), JobSpec{TaskID: "task"})
		if err == nil || IsRetryable(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	}
	if client.BreakerState() != "closed" {
		t.Errorf("breaker state = %s, want closed", client.BreakerState())
	}
}

func TestYouTubeClient_ChunksRequests(t *testing.T) {
	var requests [][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "yt-key" {
			t.Errorf("missing api key")
		}
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		requests = append(requests, ids)

		items := make([]string, 0, len(ids))
		for _, id := range ids {
			items = append(items, fmt.Sprintf(`{"id":%q,"statistics":{"viewCount":"5"}}`, id))
		}
		fmt.Fprintf(w, `{"items":[%s]}`, strings.Join(items, ","))
	}))
	defer server.Close()

	client := NewYouTubeClient(server.URL, "yt-key", testutil.DiscardLogger())
	if !client.Enabled() {
		t.Fatal("client with key should be enabled")
	}

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("vid%03d", i)
	}
	items, err := client.Videos(context.Background(), ids)
	if err != nil {
		t.Fatalf("Videos: %v", err)
	}
	if len(items) != 120 {
		t.Errorf("got %d items, want 120", len(items))
	}
	if len(requests) != 3 || len(requests[0]) != 50 || len(requests[1]) != 50 || len(requests[2]) != 20 {
		sizes := make([]int, len(requests))
		for i, r := range requests {
			sizes[i] = len(r)
		}
		t.Errorf("request sizes = %v, want [50 50 20]", sizes)
	}

	if NewYouTubeClient("", "", testutil.DiscardLogger()).Enabled() {
		t.Error("client without key should be disabled")
	}
}

func TestClient_RunPollTimeoutWhileRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/acts/{task}/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"id":"run4","defaultDatasetId":"ds4"}}`)
	})
	mux.HandleFunc("GET /v2/actor-runs/run4", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"status":"RUNNING"}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// The start request spends the only token; the next one is a second away,
	// well past the poll deadline.
	cfg := testConfig(server.URL, ModePoll)
	cfg.RequestsPerSecond = 1
	cfg.Burst = 1
	cfg.PollTimeout = 50 * time.Millisecond
	client := NewClient(cfg, nil, testutil.DiscardLogger())

	_, err := client.Run(context.Background(), JobSpec{TaskID: "task"})
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
	if !IsRetryable(err) {
		t.Error("poll timeout should be retryable at the job level")
	}
}

func TestPollExpired(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	shortOuter, cancelOuter := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelOuter()
	wrapped := fmt.Errorf("%w: rate limited", context.DeadlineExceeded)

	tests := []struct {
		name    string
		ctx     context.Context
		pollFor time.Duration
		err     error
		want    bool
	}{
		{name: "poll deadline passed", ctx: live, pollFor: -time.Second, err: errors.New("x"), want: true},
		{name: "limiter refused before deadline fired", ctx: live, pollFor: time.Hour, err: wrapped, want: true},
		{name: "caller cancelled", ctx: cancelled, pollFor: time.Hour, err: wrapped, want: false},
		{name: "outer deadline is sooner", ctx: shortOuter, pollFor: time.Hour, err: wrapped, want: false},
		{name: "plain failure", ctx: live, pollFor: time.Hour, err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pollCtx, cancel := context.WithTimeout(tt.ctx, tt.pollFor)
			defer cancel()
			if got := pollExpired(tt.ctx, pollCtx, tt.err); got != tt.want {
				t.Errorf("pollExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_RejectsOversizedResponse(t *testing.T) {
	prev := maxResponseBytes
	maxResponseBytes = 32
	defer func() { maxResponseBytes = prev }()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"1","caption":"`+strings.Repeat("a", 64)+`"}]`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, ModeSync), nil, testutil.DiscardLogger())
	_, err := client.Run(context.Background(), JobSpec{TaskID: "task"})
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
	if IsRetryable(err) {
		t.Error("oversized response should not be retried")
	}
}
