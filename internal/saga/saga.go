// Package saga runs the ordered provisioning workflow that stands up one
// tenant stack across the external control planes. There is no cross-system
// transaction: each step is individually idempotent and every completed step
// is recorded in a durable ledger, so a crashed or failed run can be retried
// and resumes from the last completed step.
package saga

import (
	"context"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/client"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
)

// BackendAPI is the slice of the backend-platform control plane the saga uses.
type BackendAPI interface {
	CreateProject(ctx context.Context, name string) (*client.BackendProject, error)
	CreateDeployKey(ctx context.Context, deploymentName string) (string, error)
	SetEnvVars(ctx context.Context, deploymentURL string, vars map[string]string) error
	TriggerDeploy(ctx context.Context, deploymentName, deployKey string) error
}

// HostingAPI is the slice of the static-site hosting control plane the saga uses.
type HostingAPI interface {
	CreateProject(ctx context.Context, name string) error
	SiteURL(project string) string
	SetEnvVars(ctx context.Context, project string, vars map[string]string) error
	AttachCustomDomain(ctx context.Context, project, domain string) bool
}

// DNSAPI is the slice of the DNS/CDN control plane the saga uses.
type DNSAPI interface {
	ResolveZone(ctx context.Context, baseDomain string) (string, error)
	UpsertCNAME(ctx context.Context, zoneID, fqdn, target string) error
}

// IdentityAPI is the slice of the identity-provider control plane the saga uses.
type IdentityAPI interface {
	LookupUserByEmail(ctx context.Context, email string) (string, error)
	FindOrganizationByName(ctx context.Context, name string) (string, error)
	CreateOrganization(ctx context.Context, name string) (string, error)
	SendInvitation(ctx context.Context, orgID, email string) error
}

// PaymentAPI is the slice of the payment control plane the saga uses.
type PaymentAPI interface {
	FindEndpointByURL(ctx context.Context, endpointURL string) (*client.WebhookEndpoint, error)
	CreateWebhookEndpoint(ctx context.Context, endpointURL string, eventTypes []string, description string) (*client.WebhookEndpoint, error)
}

// JobStore persists job lifecycle transitions and serializes runs per tenant.
type JobStore interface {
	MarkRunning(ctx context.Context, id string) error
	SetLastStep(ctx context.Context, id, step string) error
	Finish(ctx context.Context, id, status string, errorMsg *string) error
	AcquireTenantLock(ctx context.Context, tenantID string) (bool, func(), error)
}

// LedgerStore persists the per-job step ledger.
type LedgerStore interface {
	RecordStep(ctx context.Context, jobID, step string, outputs models.StepOutputs) error
	CompletedSteps(ctx context.Context, jobID string) (map[string]bool, models.StepOutputs, error)
}

// InstanceStore registers provisioned instances in the tenant registry.
type InstanceStore interface {
	UpsertBySlug(ctx context.Context, inst *models.Instance) (*models.Instance, error)
}

// TenantStore records identity-provider references back onto the tenant.
type TenantStore interface {
	SetIdentity(ctx context.Context, id string, orgID, identityUserID *string) error
}

// ActionLogger appends operator-facing action log entries. Implementations
// must never fail the caller.
type ActionLogger interface {
	LogAction(ctx context.Context, jobID, action, status, message string)
}

// Clients bundles the control-plane clients the runner calls.
type Clients struct {
	Backend  BackendAPI
	Hosting  HostingAPI
	DNS      DNSAPI
	Identity IdentityAPI
	Payment  PaymentAPI
}

// Stores bundles the persistence the runner depends on.
type Stores struct {
	Jobs      JobStore
	Ledger    LedgerStore
	Instances InstanceStore
	Tenants   TenantStore
	Logs      ActionLogger
}
