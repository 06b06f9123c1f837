package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// BackendClient manages per-tenant backend projects on the backend-platform
// control plane (project creation, deploy keys, env vars, deploys).
type BackendClient struct {
	baseURL     string
	teamID      string
	accessToken string
	httpClient  *http.Client
}

// NewBackendClient creates a new backend-platform client
func NewBackendClient(baseURL, teamID, accessToken string, timeout time.Duration) *BackendClient {
	return &BackendClient{
		baseURL:     baseURL,
		teamID:      teamID,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BackendProject is the result of creating a backend project. One project
// carries one production deployment whose URL is the tenant backend's
// endpoint.
type BackendProject struct {
	ProjectID      string
	Slug           string
	DeploymentName string
	DeploymentURL  string
}

type createProjectResponse struct {
	ProjectID         string `json:"projectId"`
	Slug              string `json:"slug"`
	ProdDeploymentURL string `json:"prodDeploymentUrl"`
	DeploymentName    string `json:"deploymentName"`
	ProductionDeployment struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"production_deployment"`
}

// CreateProject creates a backend project with a production deployment.
// The name must be globally unique on the platform; the caller derives it
// from the run's project slug. Non-2xx (after retries) is fatal for the
// saga: project creation consumes quota and has no compensation.
func (c *BackendClient) CreateProject(ctx context.Context, name string) (*BackendProject, error) {
	log.Printf("[BackendClient] Creating project: %s", name)

	body, err := json.Marshal(map[string]string{
		"projectName":    name,
		"deploymentType": "prod",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPost,
		url:     fmt.Sprintf("%s/v1/teams/%s/create_project", c.baseURL, c.teamID),
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend project %q: %w", name, err)
	}

	var result createProjectResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}

	project := &BackendProject{
		ProjectID:      result.ProjectID,
		Slug:           result.Slug,
		DeploymentName: result.DeploymentName,
		DeploymentURL:  result.ProdDeploymentURL,
	}
	// older API shape nests the production deployment
	if project.DeploymentURL == "" {
		project.DeploymentURL = result.ProductionDeployment.URL
	}
	if project.DeploymentName == "" {
		project.DeploymentName = result.ProductionDeployment.Name
	}
	if project.DeploymentURL == "" {
		return nil, fmt.Errorf("no production deployment URL in response for project %q (body: %s)", name, string(respBody))
	}
	if project.Slug == "" {
		project.Slug = name
	}

	log.Printf("[BackendClient] Project created: %s (deployment: %s)", project.Slug, project.DeploymentURL)
	return project, nil
}

// CreateDeployKey mints a deploy key for a deployment. Idempotent by
// overwrite: keys with the same name are rotated, not duplicated.
func (c *BackendClient) CreateDeployKey(ctx context.Context, deploymentName string) (string, error) {
	body, err := json.Marshal(map[string]string{"name": "provisioner deploy key"})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPost,
		url:     fmt.Sprintf("%s/v1/deployments/%s/create_deploy_key", c.baseURL, deploymentName),
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		return "", fmt.Errorf("create deploy key for %q: %w", deploymentName, err)
	}

	var result struct {
		DeployKey string `json:"deployKey"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.DeployKey == "" {
		return "", fmt.Errorf("empty deploy key for deployment %q", deploymentName)
	}
	return result.DeployKey, nil
}

// SetEnvVars writes environment variables into a deployment. Setting the
// same variable twice is safe (plain overwrite), so the call needs no guard.
func (c *BackendClient) SetEnvVars(ctx context.Context, deploymentURL string, vars map[string]string) error {
	type change struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	changes := make([]change, 0, len(vars))
	for name, value := range vars {
		if value == "" {
			continue
		}
		changes = append(changes, change{Name: name, Value: value})
	}

	body, err := json.Marshal(map[string]interface{}{"changes": changes})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPost,
		url:     deploymentURL + "/api/v1/update_environment_variables",
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		return fmt.Errorf("set env vars: %w", err)
	}

	log.Printf("[BackendClient] Set %d environment variables", len(changes))
	return nil
}

// TriggerDeploy pushes the application code to a fresh deployment using its
// deploy key.
func (c *BackendClient) TriggerDeploy(ctx context.Context, deploymentName, deployKey string) error {
	log.Printf("[BackendClient] Deploying code to %s", deploymentName)

	body, err := json.Marshal(map[string]string{"deployment": "prod:" + deploymentName})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = doWithRetry(ctx, c.httpClient, request{
		method: http.MethodPost,
		url:    fmt.Sprintf("%s/v1/deployments/%s/deploy", c.baseURL, deploymentName),
		headers: map[string]string{
			"Authorization": "Bearer " + deployKey,
		},
		body: body,
	})
	if err != nil {
		return fmt.Errorf("trigger deploy for %q: %w", deploymentName, err)
	}
	return nil
}

// DeleteProject tears a backend project down. Used only by the reaper under
// the teardown policy; missing projects are treated as already gone.
func (c *BackendClient) DeleteProject(ctx context.Context, projectID string) error {
	_, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodDelete,
		url:     fmt.Sprintf("%s/v1/projects/%s", c.baseURL, projectID),
		headers: c.authHeaders(),
	})
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete project %q: %w", projectID, err)
	}
	return nil
}

func (c *BackendClient) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.accessToken,
	}
}
