// Package gateway talks to the third-party scrape service: run a named task
// with an input document and read back the items it produced.
//
// The client speaks the Apify REST API in one of two modes. ModeSync uses the
// run-sync-get-dataset-items endpoint and blocks until the run finishes.
// ModePoll starts a run, polls its status until it is terminal or the poll
// timeout expires, then reads the run's dataset. Every run goes through a
// shared circuit breaker and token-bucket limiter.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/reelpulse/reelpulse/internal/metrics"
)

var (
	// ErrRunFailed is returned when the remote run ends in a non-success state.
	ErrRunFailed = errors.New("gateway run failed")
	// ErrPollTimeout is returned when a polled run is still going at the poll deadline.
	ErrPollTimeout = errors.New("gateway run did not finish before poll timeout")
	// ErrResponseTooLarge is returned when a response body exceeds maxResponseBytes.
	ErrResponseTooLarge = errors.New("gateway response too large")
)

// maxResponseBytes caps gateway and YouTube response bodies.
var maxResponseBytes = 64 << 20

// Mode selects how runs are executed.
type Mode string

const (
	ModeSync Mode = "sync"
	ModePoll Mode = "poll"
)

// RunStatus is the normalized terminal status of a run.
type RunStatus string

const (
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// JobSpec names a gateway task and its input.
type JobSpec struct {
	TaskID string
	Input  map[string]any
}

// RunResult carries the raw items of a finished run. Items have no fixed
// schema; callers extract fields by path.
type RunResult struct {
	Status RunStatus
	Items  []gjson.Result
}

// Runner runs gateway jobs. Platform adapters depend on this interface.
type Runner interface {
	Run(ctx context.Context, spec JobSpec) (RunResult, error)
}

// Config configures the client.
type Config struct {
	BaseURL           string
	Token             string
	Mode              Mode
	RequestTimeout    time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             RetryPolicy
}

// Client is the Apify-compatible gateway client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[RunResult]
	metrics    *metrics.Pipeline
	logger     *slog.Logger
}

const breakerName = "scrape-gateway"

// NewClient creates a gateway client.
func NewClient(cfg Config, m *metrics.Pipeline, logger *slog.Logger) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Minute
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		metrics:    m,
		logger:     logger,
	}

	m.SetBreakerState(breakerName, 0)
	c.breaker = gobreaker.NewCircuitBreaker[RunResult](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// client errors are the caller's fault, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || !(IsRetryable(err) || errors.Is(err, ErrRunFailed))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			m.SetBreakerState(name, stateValue(to))
		},
	})

	return c
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState reports the circuit breaker state name.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Run executes spec and returns its items.
func (c *Client) Run(ctx context.Context, spec JobSpec) (RunResult, error) {
	if spec.TaskID == "" {
		return RunResult{}, errors.New("gateway task id is required")
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (RunResult, error) {
		if c.cfg.Mode == ModePoll {
			return c.runPoll(ctx, spec)
		}
		return c.runSync(ctx, spec)
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.RecordBreakerRequest(breakerName, "rejected")
		c.metrics.RecordGatewayRun(spec.TaskID, "rejected")
		return RunResult{}, NewRetryableError(fmt.Errorf("gateway unavailable: %w", err))
	case err != nil:
		c.metrics.RecordBreakerRequest(breakerName, "failure")
		c.metrics.RecordGatewayRun(spec.TaskID, string(StatusFailed))
		c.logger.Warn("gateway run failed",
			"task", spec.TaskID,
			"mode", string(c.cfg.Mode),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return result, err
	}

	c.metrics.RecordBreakerRequest(breakerName, "success")
	c.metrics.RecordGatewayRun(spec.TaskID, string(StatusSucceeded))
	c.logger.Debug("gateway run finished",
		"task", spec.TaskID,
		"items", len(result.Items),
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (c *Client) runSync(ctx context.Context, spec JobSpec) (RunResult, error) {
	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?clean=true&format=json",
		c.cfg.BaseURL, taskPath(spec.TaskID))

	body, err := c.do(ctx, http.MethodPost, endpoint, spec.Input)
	if err != nil {
		return RunResult{}, err
	}
	items, err := parseItems(body)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{Status: StatusSucceeded, Items: items}, nil
}

func (c *Client) runPoll(ctx context.Context, spec JobSpec) (RunResult, error) {
	endpoint := fmt.Sprintf("%s/v2/acts/%s/runs", c.cfg.BaseURL, taskPath(spec.TaskID))
	body, err := c.do(ctx, http.MethodPost, endpoint, spec.Input)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to start run: %w", err)
	}

	run := gjson.GetBytes(body, "data")
	runID := run.Get("id").String()
	datasetID := run.Get("defaultDatasetId").String()
	if runID == "" {
		return RunResult{}, fmt.Errorf("gateway did not return a run id")
	}

	status, err := c.waitForRun(ctx, runID)
	if err != nil {
		return RunResult{}, err
	}
	if status != "SUCCEEDED" {
		return RunResult{Status: StatusFailed}, fmt.Errorf("%w: run %s ended %s", ErrRunFailed, runID, status)
	}

	var items []gjson.Result
	err = Retry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		body, err := c.do(ctx, http.MethodGet,
			fmt.Sprintf("%s/v2/datasets/%s/items?clean=true&format=json", c.cfg.BaseURL, url.PathEscape(datasetID)), nil)
		if err != nil {
			return err
		}
		items, err = parseItems(body)
		return err
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to read dataset %s: %w", datasetID, err)
	}
	return RunResult{Status: StatusSucceeded, Items: items}, nil
}

// waitForRun polls the run until it reaches a terminal status.
func (c *Client) waitForRun(ctx context.Context, runID string) (string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	statusURL := fmt.Sprintf("%s/v2/actor-runs/%s", c.cfg.BaseURL, url.PathEscape(runID))
	for {
		var status string
		err := Retry(pollCtx, c.cfg.Retry, func(ctx context.Context) error {
			body, err := c.do(ctx, http.MethodGet, statusURL, nil)
			if err != nil {
				return err
			}
			status = gjson.GetBytes(body, "data.status").String()
			return nil
		})
		if err != nil {
			if pollExpired(ctx, pollCtx, err) {
				return "", NewRetryableError(fmt.Errorf("%w: run %s", ErrPollTimeout, runID))
			}
			return "", fmt.Errorf("failed to poll run %s: %w", runID, err)
		}

		switch status {
		case "SUCCEEDED", "FAILED", "ABORTED", "TIMED-OUT":
			return status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-pollCtx.Done():
			return "", NewRetryableError(fmt.Errorf("%w: run %s still %s", ErrPollTimeout, runID, status))
		case <-ticker.C:
		}
	}
}

// pollExpired reports whether err ended polling because the poll deadline
// passed while the caller's context is still live. The limiter refuses a wait
// that would cross the deadline before pollCtx.Err() is set.
func pollExpired(ctx, pollCtx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if pollCtx.Err() != nil {
		return true
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	pollDeadline, _ := pollCtx.Deadline()
	outer, ok := ctx.Deadline()
	return !ok || pollDeadline.Before(outer)
}

// do performs one rate-limited request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, ok := ctx.Deadline(); ok {
			return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode input: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewRetryableError(fmt.Errorf("gateway request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBytes)+1))
	if err != nil {
		return nil, NewRetryableError(fmt.Errorf("failed to read gateway response: %w", err))
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxResponseBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, body)
	}
	return body, nil
}

// taskPath encodes "user/actor" task names the way the API expects ("user~actor").
func taskPath(taskID string) string {
	return url.PathEscape(strings.ReplaceAll(taskID, "/", "~"))
}

func parseItems(body []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("gateway returned invalid JSON")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		// some tasks wrap items in {"items": [...]}
		parsed = parsed.Get("items")
	}
	return parsed.Array(), nil
}
