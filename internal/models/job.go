package models

import (
	"time"
)

// Provision job status constants.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Saga step names, in execution order.
const (
	StepIdentityOrg      = "identity_org"
	StepBackendProject   = "backend_project"
	StepBackendEnv       = "backend_env"
	StepDeployBackend    = "deploy_backend"
	StepHostingProject   = "hosting_project"
	StepPaymentWebhook   = "payment_webhook"
	StepBindCustomDomain = "bind_custom_domain"
	StepHostingEnv       = "hosting_env"
	StepRegisterInstance = "register_instance"
)

// ProvisionJob is the durable record of one provisioning run. The inbound
// event handler creates it synchronously; the saga runner updates it as the
// run progresses, so operators always have a queryable status.
type ProvisionJob struct {
	ID             string
	TenantID       string
	Email          string
	SubscriptionID string
	Plan           string
	ProjectSlug    string
	Status         string
	LastStep       *string
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// StepRecord is one completed step in a job's ledger. Outputs captured here
// let a retried job resume from the last completed step instead of
// re-executing external calls.
type StepRecord struct {
	ID          string
	JobID       string
	Step        string
	Outputs     StepOutputs
	CompletedAt time.Time
}

// StepOutputs is the value bag passed forward between saga steps. Serialized
// as JSONB into the step ledger.
type StepOutputs struct {
	OrgID          string `json:"org_id,omitempty"`
	IdentityUserID string `json:"identity_user_id,omitempty"`

	BackendProjectID string `json:"backend_project_id,omitempty"`
	BackendSlug      string `json:"backend_slug,omitempty"`
	DeploymentName   string `json:"deployment_name,omitempty"`
	DeploymentURL    string `json:"deployment_url,omitempty"`
	DeployKey        string `json:"deploy_key,omitempty"`

	HostingProject string `json:"hosting_project,omitempty"`
	HostingURL     string `json:"hosting_url,omitempty"`
	CustomDomain   string `json:"custom_domain,omitempty"`

	WebhookEndpointID string `json:"webhook_endpoint_id,omitempty"`
	WebhookSecret     string `json:"webhook_secret,omitempty"`
}

// Merge overlays non-empty fields of other onto o.
func (o *StepOutputs) Merge(other StepOutputs) {
	if other.OrgID != "" {
		o.OrgID = other.OrgID
	}
	if other.IdentityUserID != "" {
		o.IdentityUserID = other.IdentityUserID
	}
	if other.BackendProjectID != "" {
		o.BackendProjectID = other.BackendProjectID
	}
	if other.BackendSlug != "" {
		o.BackendSlug = other.BackendSlug
	}
	if other.DeploymentName != "" {
		o.DeploymentName = other.DeploymentName
	}
	if other.DeploymentURL != "" {
		o.DeploymentURL = other.DeploymentURL
	}
	if other.DeployKey != "" {
		o.DeployKey = other.DeployKey
	}
	if other.HostingProject != "" {
		o.HostingProject = other.HostingProject
	}
	if other.HostingURL != "" {
		o.HostingURL = other.HostingURL
	}
	if other.CustomDomain != "" {
		o.CustomDomain = other.CustomDomain
	}
	if other.WebhookEndpointID != "" {
		o.WebhookEndpointID = other.WebhookEndpointID
	}
	if other.WebhookSecret != "" {
		o.WebhookSecret = other.WebhookSecret
	}
}

// PaymentEvent is an inbound payment-provider event kept for auditing and
// duplicate-delivery detection.
type PaymentEvent struct {
	ID             string
	EventID        string
	EventType      string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	Payload        []byte
	ProcessedAt    time.Time
}

// ProvisionLog is an operator-facing action log entry for a job.
type ProvisionLog struct {
	ID        string
	JobID     string
	Action    string
	Status    string
	Message   string
	CreatedAt time.Time
}
