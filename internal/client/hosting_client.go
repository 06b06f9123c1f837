package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// HostingClient manages per-tenant static-site projects on the hosting
// control plane.
type HostingClient struct {
	baseURL    string
	accountID  string
	apiToken   string
	siteSuffix string
	httpClient *http.Client
}

// NewHostingClient creates a new hosting client
func NewHostingClient(baseURL, accountID, apiToken, siteSuffix string, timeout time.Duration) *HostingClient {
	return &HostingClient{
		baseURL:    baseURL,
		accountID:  accountID,
		apiToken:   apiToken,
		siteSuffix: siteSuffix,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// envelope is the hosting API's standard response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (e *envelope) errorSummary() string {
	if len(e.Errors) == 0 {
		return "unknown error"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, er := range e.Errors {
		parts = append(parts, fmt.Sprintf("%d: %s", er.Code, er.Message))
	}
	return strings.Join(parts, "; ")
}

// CreateProject creates the tenant's hosting project. Project creation is
// not idempotent at the API level, so "already exists" is tolerated as
// success and the saga continues with the existing project.
func (c *HostingClient) CreateProject(ctx context.Context, name string) error {
	log.Printf("[HostingClient] Creating hosting project: %s", name)

	body, err := json.Marshal(map[string]string{
		"name":              name,
		"production_branch": "main",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPost,
		url:     fmt.Sprintf("%s/accounts/%s/pages/projects", c.baseURL, c.accountID),
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && alreadyExists(apiErr) {
			log.Printf("[HostingClient] Project %s already exists, continuing", name)
			return nil
		}
		return fmt.Errorf("create hosting project %q: %w", name, err)
	}
	return nil
}

// SiteURL returns the platform-default URL for a hosting project.
func (c *HostingClient) SiteURL(project string) string {
	return fmt.Sprintf("https://%s.%s", project, c.siteSuffix)
}

// SetEnvVars bulk-patches the project's deployment env vars. These values
// cross system boundaries (the backend deployment URL and identity-provider
// ids), so the saga must call this only after those steps have run.
func (c *HostingClient) SetEnvVars(ctx context.Context, project string, vars map[string]string) error {
	type envVar struct {
		Value string `json:"value"`
	}
	envVars := make(map[string]envVar, len(vars))
	for name, value := range vars {
		if value == "" {
			continue
		}
		envVars[name] = envVar{Value: value}
	}

	body, err := json.Marshal(map[string]interface{}{
		"deployment_configs": map[string]interface{}{
			"production": map[string]interface{}{"env_vars": envVars},
			"preview":    map[string]interface{}{"env_vars": envVars},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPatch,
		url:     fmt.Sprintf("%s/accounts/%s/pages/projects/%s", c.baseURL, c.accountID, project),
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		return fmt.Errorf("set hosting env vars for %q: %w", project, err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("set hosting env vars for %q: %s", project, env.errorSummary())
	}

	log.Printf("[HostingClient] Set %d environment variables on %s", len(envVars), project)
	return nil
}

// ListDomains returns the custom domains attached to a project.
func (c *HostingClient) ListDomains(ctx context.Context, project string) ([]string, error) {
	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodGet,
		url:     fmt.Sprintf("%s/accounts/%s/pages/projects/%s/domains", c.baseURL, c.accountID, project),
		headers: c.authHeaders(),
	})
	if err != nil {
		return nil, fmt.Errorf("list domains for %q: %w", project, err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var result []struct {
		Name string `json:"name"`
	}
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &result); err != nil {
			return nil, fmt.Errorf("decode domain list: %w", err)
		}
	}

	names := make([]string, 0, len(result))
	for _, d := range result {
		names = append(names, d.Name)
	}
	return names, nil
}

// AttachCustomDomain binds a domain to the project. Lists first and
// short-circuits when the domain is already attached. Returns false
// (without error) when attachment fails: a missing custom domain degrades
// the result to the platform-default URL but must not abort the saga.
func (c *HostingClient) AttachCustomDomain(ctx context.Context, project, domain string) bool {
	domains, err := c.ListDomains(ctx, project)
	if err != nil {
		log.Printf("[HostingClient] Failed to list domains for %s: %v", project, err)
		return false
	}
	for _, d := range domains {
		if d == domain {
			log.Printf("[HostingClient] Domain %s already attached to %s", domain, project)
			return true
		}
	}

	body, err := json.Marshal(map[string]string{"name": domain})
	if err != nil {
		log.Printf("[HostingClient] Failed to marshal attach request: %v", err)
		return false
	}

	_, err = doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPost,
		url:     fmt.Sprintf("%s/accounts/%s/pages/projects/%s/domains", c.baseURL, c.accountID, project),
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		log.Printf("[HostingClient] Failed to attach domain %s to %s: %v", domain, project, err)
		return false
	}

	log.Printf("[HostingClient] Attached custom domain %s to %s", domain, project)
	return true
}

// DeleteProject removes a hosting project. Used only by the teardown reaper;
// missing projects count as already deleted.
func (c *HostingClient) DeleteProject(ctx context.Context, project string) error {
	_, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodDelete,
		url:     fmt.Sprintf("%s/accounts/%s/pages/projects/%s", c.baseURL, c.accountID, project),
		headers: c.authHeaders(),
	})
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete hosting project %q: %w", project, err)
	}
	return nil
}

func (c *HostingClient) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.apiToken,
	}
}

// alreadyExists detects the control plane's duplicate-name rejection.
func alreadyExists(err *APIError) bool {
	if err.Status == http.StatusConflict {
		return true
	}
	return err.Status == http.StatusBadRequest && strings.Contains(strings.ToLower(err.Body), "already exists")
}
