package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
)

// DispatchClient fires the out-of-band provisioning job via a
// repository-dispatch style API. Used only in external dispatch mode; the
// detached runner reports back through /provisioning-callback.
type DispatchClient struct {
	baseURL    string
	token      string
	owner      string
	repo       string
	eventType  string
	httpClient *http.Client
}

// NewDispatchClient creates a new dispatch client
func NewDispatchClient(baseURL, token, owner, repo, eventType string, timeout time.Duration) *DispatchClient {
	return &DispatchClient{
		baseURL:   baseURL,
		token:     token,
		owner:     owner,
		repo:      repo,
		eventType: eventType,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Trigger fires the dispatch event carrying the saga's entry payload. The
// dispatch API returns 204 with no body; acknowledgment of the run itself
// only arrives later through the callback.
func (c *DispatchClient) Trigger(ctx context.Context, payload *models.DispatchPayload) error {
	log.Printf("[DispatchClient] Triggering provisioning run for %s", payload.Email)

	body, err := json.Marshal(map[string]interface{}{
		"event_type":     c.eventType,
		"client_payload": payload,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = doWithRetry(ctx, c.httpClient, request{
		method: http.MethodPost,
		url:    fmt.Sprintf("%s/repos/%s/%s/dispatches", c.baseURL, c.owner, c.repo),
		headers: map[string]string{
			"Authorization": "token " + c.token,
			"Accept":        "application/vnd.github.v3+json",
		},
		body: body,
	})
	if err != nil {
		return fmt.Errorf("trigger dispatch: %w", err)
	}
	return nil
}
