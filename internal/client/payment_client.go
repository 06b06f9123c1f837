package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// PaymentClient manages per-tenant webhook endpoints on the payment
// provider's control plane.
type PaymentClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewPaymentClient creates a new payment-provider client
func NewPaymentClient(baseURL, secretKey string, timeout time.Duration) *PaymentClient {
	return &PaymentClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WebhookEndpoint is a registered webhook. The signing secret is disclosed
// exactly once, at creation: there is no retrieval operation, so the caller
// must persist it immediately or recreate the endpoint.
type WebhookEndpoint struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	SigningSecret string `json:"secret"`
}

// FindEndpointByURL returns the endpoint already registered for a URL, or
// nil. This is the idempotency guard for CreateWebhookEndpoint; note the
// returned endpoint carries no signing secret (single disclosure).
func (c *PaymentClient) FindEndpointByURL(ctx context.Context, endpointURL string) (*WebhookEndpoint, error) {
	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodGet,
		url:     c.baseURL + "/webhook_endpoints?limit=100",
		headers: c.authHeaders(),
	})
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}

	var result struct {
		Data []WebhookEndpoint `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	for i := range result.Data {
		if result.Data[i].URL == endpointURL {
			return &result.Data[i], nil
		}
	}
	return nil, nil
}

// CreateWebhookEndpoint registers a webhook endpoint for the tenant
// backend's event URL and returns its id and signing secret.
func (c *PaymentClient) CreateWebhookEndpoint(ctx context.Context, endpointURL string, eventTypes []string, description string) (*WebhookEndpoint, error) {
	log.Printf("[PaymentClient] Creating webhook endpoint for %s", endpointURL)

	body, err := json.Marshal(map[string]interface{}{
		"url":            endpointURL,
		"enabled_events": eventTypes,
		"description":    description,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPost,
		url:     c.baseURL + "/webhook_endpoints",
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook endpoint for %q: %w", endpointURL, err)
	}

	var endpoint WebhookEndpoint
	if err := json.Unmarshal(respBody, &endpoint); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if endpoint.ID == "" || endpoint.SigningSecret == "" {
		return nil, fmt.Errorf("incomplete webhook endpoint in response (id=%q)", endpoint.ID)
	}

	log.Printf("[PaymentClient] Webhook endpoint created: %s", endpoint.ID)
	return &endpoint, nil
}

// DeleteWebhookEndpoint removes a webhook endpoint. Used by the teardown
// reaper.
func (c *PaymentClient) DeleteWebhookEndpoint(ctx context.Context, id string) error {
	_, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodDelete,
		url:     c.baseURL + "/webhook_endpoints/" + id,
		headers: c.authHeaders(),
	})
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete webhook endpoint %q: %w", id, err)
	}
	return nil
}

func (c *PaymentClient) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.secretKey,
	}
}
