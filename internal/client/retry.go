package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// APIError is a non-2xx control-plane response. 4xx responses are terminal;
// 5xx responses are treated as transient and retried.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane returned status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the error deserves another attempt.
func (e *APIError) Retryable() bool {
	return e.Status >= 500
}

// request is one control-plane call. Body is re-marshaled per attempt so
// retries never reuse a consumed reader.
type request struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

// doWithRetry sends the request with bounded exponential backoff. Transport
// errors and 5xx responses are retried up to maxAttempts; 4xx responses and
// context cancellation are returned immediately. On success it returns the
// response body.
func doWithRetry(ctx context.Context, httpClient *http.Client, req request) ([]byte, error) {
	backoff := initialBackoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := doOnce(ctx, httpClient, req)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if apiErr, ok := err.(*APIError); ok && !apiErr.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", req.method, req.url, ctx.Err())
		}
		if attempt < maxAttempts {
			log.Printf("[client] %s %s failed (attempt %d/%d), retrying in %v: %v",
				req.method, req.url, attempt, maxAttempts, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%s %s: %w", req.method, req.url, ctx.Err())
			}
			backoff *= 2
		}
	}

	return nil, lastErr
}

func doOnce(ctx context.Context, httpClient *http.Client, req request) ([]byte, error) {
	var reader io.Reader
	if req.body != nil {
		reader = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
