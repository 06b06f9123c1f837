package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

// IdentityClient manages organizations and memberships on the identity
// provider's control plane.
type IdentityClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewIdentityClient creates a new identity-provider client
func NewIdentityClient(baseURL, apiKey string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LookupUserByEmail returns the provider's user id for an email, or empty
// when no such user exists yet. The caller falls back to a pending
// placeholder identity the provider reconciles on first login.
func (c *IdentityClient) LookupUserByEmail(ctx context.Context, email string) (string, error) {
	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodGet,
		url:     fmt.Sprintf("%s/user_management/users?email=%s", c.baseURL, url.QueryEscape(email)),
		headers: c.authHeaders(),
	})
	if err != nil {
		return "", fmt.Errorf("lookup user %q: %w", email, err)
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Data) == 0 {
		return "", nil
	}
	return result.Data[0].ID, nil
}

// FindOrganizationByName returns the org id for an exact name match, or
// empty when absent. This is the idempotency guard for CreateOrganization:
// org creation is not idempotent server-side, so a retried run must find
// the org from the previous attempt instead of creating a duplicate.
func (c *IdentityClient) FindOrganizationByName(ctx context.Context, name string) (string, error) {
	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodGet,
		url:     fmt.Sprintf("%s/organizations?name=%s", c.baseURL, url.QueryEscape(name)),
		headers: c.authHeaders(),
	})
	if err != nil {
		return "", fmt.Errorf("find organization %q: %w", name, err)
	}

	var result struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	for _, org := range result.Data {
		if org.Name == name {
			return org.ID, nil
		}
	}
	return "", nil
}

// CreateOrganization creates the tenant's organization and returns its id.
func (c *IdentityClient) CreateOrganization(ctx context.Context, name string) (string, error) {
	log.Printf("[IdentityClient] Creating organization: %s", name)

	body, err := json.Marshal(map[string]interface{}{
		"name":                               name,
		"allow_profiles_outside_organization": true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPost,
		url:     c.baseURL + "/organizations",
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		return "", fmt.Errorf("create organization %q: %w", name, err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("empty organization id in response")
	}

	log.Printf("[IdentityClient] Organization created: %s", result.ID)
	return result.ID, nil
}

// SendInvitation attaches the user to the organization by invitation. On
// failure the error names both the org id and the email: there is no
// automatic rollback of a just-created org, so the operator needs both ids
// for manual remediation.
func (c *IdentityClient) SendInvitation(ctx context.Context, orgID, email string) error {
	body, err := json.Marshal(map[string]interface{}{
		"email":           email,
		"organization_id": orgID,
		"expires_in_days": 7,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPost,
		url:     c.baseURL + "/user_management/invitations",
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		return fmt.Errorf("send invitation (org=%s user=%s): %w", orgID, email, err)
	}

	log.Printf("[IdentityClient] Invitation sent for %s to org %s", email, orgID)
	return nil
}

// DeleteOrganization removes an organization. Used by the teardown reaper.
func (c *IdentityClient) DeleteOrganization(ctx context.Context, orgID string) error {
	_, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodDelete,
		url:     c.baseURL + "/organizations/" + orgID,
		headers: c.authHeaders(),
	})
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete organization %q: %w", orgID, err)
	}
	return nil
}

func (c *IdentityClient) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}
}
