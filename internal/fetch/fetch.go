package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxConcurrent = 4
	DefaultTimeout       = 9 * time.Second
)

// Priority is a coarse two-level scheduling hint. It does not reorder the
// queue; it is forwarded to the server as an RFC 9218 priority header.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// Request describes one outbound call.
type Request struct {
	Method   string
	URL      string
	Body     []byte
	Header   http.Header
	Priority Priority
	Timeout  time.Duration // per-request override; zero uses the client default
}

// Client caps the number of in-flight requests and joins identical concurrent
// requests to a single round trip. Admission is a weighted semaphore, so a
// waiter is woken exactly when a slot frees; the slot is released
// unconditionally when the request settles.
type Client struct {
	hc      *http.Client
	sem     *semaphore.Weighted
	group   singleflight.Group
	timeout time.Duration
}

func New(maxConcurrent int, timeout time.Duration) *Client {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		hc: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
	}
}

// Do executes the request and returns the response body. Identical in-flight
// requests (same method, URL, and body) share one execution and all receive
// the same result. Non-2xx statuses are errors.
//
// The shared execution runs under the first caller's context: if that
// caller's timeout or cancellation fires, every joined caller receives the
// same error. Joined callers should treat such errors as transient and
// re-issue the request.
func (c *Client) Do(ctx context.Context, req *Request) ([]byte, error) {
	key := dedupKey(req)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.execute(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Get is a convenience wrapper for simple GET calls.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: url})
}

// Post is a convenience wrapper for JSON POST calls.
func (c *Client) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return c.Do(ctx, &Request{Method: http.MethodPost, URL: url, Body: body, Header: h})
}

func (c *Client) execute(ctx context.Context, req *Request) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("cancelled while waiting for request slot: %w", err)
	}
	defer c.sem.Release(1)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Priority == PriorityHigh {
		httpReq.Header.Set("Priority", "u=1")
	} else {
		httpReq.Header.Set("Priority", "u=3")
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s returned status %d: %s", req.Method, req.URL, resp.StatusCode, truncate(string(data), 200))
	}

	return data, nil
}

// dedupKey identifies a request by method, URL, and body digest.
func dedupKey(req *Request) string {
	sum := sha256.Sum256(req.Body)
	return req.Method + " " + req.URL + " " + hex.EncodeToString(sum[:8])
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
