// Package tracker talks to a remote issue tracker's REST API.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/newhook/kb/internal/bulk"
	"github.com/newhook/kb/internal/cachemanager"
	"github.com/newhook/kb/internal/logging"
)

const (
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetryElapsed bounds how long a request is retried.
	DefaultMaxRetryElapsed = 30 * time.Second
	// DefaultCacheTTL is how long issue listings are cached.
	DefaultCacheTTL = time.Minute

	bulkPath   = "/api/issues/bulk"
	issuesPath = "/api/issues"
)

// idempotencyNamespace scopes idempotency keys derived from operation ids.
var idempotencyNamespace = uuid.MustParse("6f0d8a4e-2b7c-4f43-9a57-0d9c3e5b1f21")

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config holds the settings for an HTTPClient.
type Config struct {
	Endpoint        string
	Token           string
	Timeout         time.Duration
	MaxRetryElapsed time.Duration
	CacheTTL        time.Duration
}

// HTTPClient implements bulk.Submitter against the tracker REST API.
type HTTPClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
	maxRetry   time.Duration
	cacheTTL   time.Duration
	cache      cachemanager.CacheManager[string, []bulk.IssueSelection]
}

var _ bulk.Submitter = (*HTTPClient)(nil)

// NewHTTPClient creates a client for cfg.Endpoint.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracker endpoint not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = DefaultMaxRetryElapsed
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &HTTPClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetry:   cfg.MaxRetryElapsed,
		cacheTTL:   cfg.CacheTTL,
		cache: cachemanager.NewInMemoryCacheManager[string, []bulk.IssueSelection](
			"tracker-issues", cfg.CacheTTL, cachemanager.DefaultCleanupInterval),
	}, nil
}

// SetEndpoint sets a custom endpoint (useful for testing)
func (c *HTTPClient) SetEndpoint(endpoint string) {
	c.endpoint = strings.TrimRight(endpoint, "/")
}

type bulkRequest struct {
	IssueIDs  []int              `json:"issueIds"`
	Operation bulk.BulkOperation `json:"operation"`
}

// SubmitBatch posts one chunk to the bulk endpoint. Retries of the same
// chunk carry the same Idempotency-Key.
func (c *HTTPClient) SubmitBatch(ctx context.Context, issueIDs []int, op bulk.BulkOperation) (*bulk.BatchResponse, error) {
	// Previous is controller bookkeeping, not part of the wire request.
	op.Previous = nil
	body, err := json.Marshal(bulkRequest{IssueIDs: issueIDs, Operation: op})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bulk request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Idempotency-Key", IdempotencyKey(op.ID, issueIDs))

	var resp bulk.BatchResponse
	if err := c.do(ctx, http.MethodPost, bulkPath, body, headers, &resp); err != nil {
		return nil, err
	}
	if err := c.Invalidate(ctx); err != nil {
		logging.WarnContext(ctx, "failed to invalidate issue cache", "error", err)
	}
	return &resp, nil
}

// IdempotencyKey derives a stable key for one chunk of an operation.
func IdempotencyKey(opID string, issueIDs []int) string {
	var b strings.Builder
	b.WriteString(opID)
	for _, id := range issueIDs {
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(id))
	}
	return uuid.NewSHA1(idempotencyNamespace, []byte(b.String())).String()
}

// ListIssues returns the tracker's issues, optionally filtered by status.
// Results are cached until the TTL expires or a batch is submitted.
func (c *HTTPClient) ListIssues(ctx context.Context, status string) ([]bulk.IssueSelection, error) {
	key := "issues:" + status
	if issues, ok := c.cache.Get(ctx, key); ok {
		return issues, nil
	}

	path := issuesPath
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var issues []bulk.IssueSelection
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &issues); err != nil {
		return nil, err
	}
	c.cache.Set(ctx, key, issues, c.cacheTTL)
	return issues, nil
}

// Invalidate drops cached issue listings.
func (c *HTTPClient) Invalidate(ctx context.Context) error {
	return c.cache.Flush(ctx)
}

func (c *HTTPClient) newBackOff(ctx context.Context) backoff.BackOff {
	// BackOff implementations are stateful; always use a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.maxRetry
	return backoff.WithContext(bo, ctx)
}

// do sends a request, retrying transport errors, 5xx and 429 responses.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, headers http.Header, out any) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.doOnce(ctx, method, path, body, headers, out)
		if err == nil {
			return nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.retryable() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		logging.DebugContext(ctx, "tracker request failed, retrying", "method", method, "path", path, "attempt", attempt, "error", err)
		return err
	}, c.newBackOff(ctx))
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, body []byte, headers http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}
