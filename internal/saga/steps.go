package saga

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/naming"
)

// paymentWebhookPath is the route every tenant backend exposes for
// payment-provider events.
const paymentWebhookPath = "/payments/webhook"

// stepIdentityOrg resolves or creates the tenant's identity-provider
// organization and invites the tenant into it. Lookup-by-name before create
// keeps retried runs from minting duplicate organizations.
func (r *Runner) stepIdentityOrg(ctx context.Context, run *runState) error {
	orgName := organizationName(run.tenant)

	orgID, err := r.clients.Identity.FindOrganizationByName(ctx, orgName)
	if err != nil {
		return err
	}
	if orgID == "" {
		orgID, err = r.clients.Identity.CreateOrganization(ctx, orgName)
		if err != nil {
			return err
		}
	}
	run.outputs.OrgID = orgID

	if err := r.clients.Identity.SendInvitation(ctx, orgID, run.tenant.Email); err != nil {
		return err
	}

	resolvedID, err := r.clients.Identity.LookupUserByEmail(ctx, run.tenant.Email)
	if err != nil {
		return err
	}
	identity := models.Identity{Email: run.tenant.Email, ResolvedID: resolvedID}
	run.outputs.IdentityUserID = identity.WireID()
	return nil
}

// stepBackendProject creates the tenant's backend project and a deploy key
// for it. The control plane rejects duplicate names, so the collision
// resistance of the project slug is what makes retries safe here.
func (r *Runner) stepBackendProject(ctx context.Context, run *runState) error {
	project, err := r.clients.Backend.CreateProject(ctx, run.job.ProjectSlug)
	if err != nil {
		return err
	}
	run.outputs.BackendProjectID = project.ProjectID
	run.outputs.BackendSlug = project.Slug
	run.outputs.DeploymentName = project.DeploymentName
	run.outputs.DeploymentURL = project.DeploymentURL

	deployKey, err := r.clients.Backend.CreateDeployKey(ctx, project.DeploymentName)
	if err != nil {
		return err
	}
	run.outputs.DeployKey = deployKey
	return nil
}

func (r *Runner) stepBackendEnv(ctx context.Context, run *runState) error {
	vars := make(map[string]string, len(r.opts.BackendEnvVars)+3)
	for k, v := range r.opts.BackendEnvVars {
		vars[k] = v
	}
	vars["APP_IDP_ORG_ID"] = run.outputs.OrgID
	vars["APP_IDP_CLIENT_ID"] = r.opts.IdentityClientID
	vars["APP_OWNER_EMAIL"] = run.tenant.Email
	return r.clients.Backend.SetEnvVars(ctx, run.outputs.DeploymentURL, vars)
}

func (r *Runner) stepDeployBackend(ctx context.Context, run *runState) error {
	return r.clients.Backend.TriggerDeploy(ctx, run.outputs.DeploymentName, run.outputs.DeployKey)
}

func (r *Runner) stepHostingProject(ctx context.Context, run *runState) error {
	if err := r.clients.Hosting.CreateProject(ctx, run.job.ProjectSlug); err != nil {
		return err
	}
	run.outputs.HostingProject = run.job.ProjectSlug
	run.outputs.HostingURL = r.clients.Hosting.SiteURL(run.job.ProjectSlug)
	return nil
}

// stepPaymentWebhook registers a webhook endpoint on the payment control
// plane pointing at the tenant backend, then writes the signing secret into
// the backend deployment. The provider discloses the secret only on
// creation, so when the endpoint already exists the secret write is skipped
// and whatever the backend already holds stays in place.
func (r *Runner) stepPaymentWebhook(ctx context.Context, run *runState) error {
	endpointURL := run.outputs.DeploymentURL + paymentWebhookPath

	endpoint, err := r.clients.Payment.FindEndpointByURL(ctx, endpointURL)
	if err != nil {
		return err
	}
	if endpoint == nil {
		endpoint, err = r.clients.Payment.CreateWebhookEndpoint(ctx, endpointURL, r.opts.PaymentEvents,
			fmt.Sprintf("tenant %s webhook", run.job.ProjectSlug))
		if err != nil {
			return err
		}
	}
	run.outputs.WebhookEndpointID = endpoint.ID
	run.outputs.WebhookSecret = endpoint.SigningSecret

	if endpoint.SigningSecret == "" {
		log.Printf("[SagaRunner] Webhook endpoint %s already existed, keeping backend secret as-is", endpoint.ID)
		return nil
	}
	return r.clients.Backend.SetEnvVars(ctx, run.outputs.DeploymentURL, map[string]string{
		"PAYMENT_WEBHOOK_SECRET": endpoint.SigningSecret,
	})
}

// stepBindCustomDomain points {subdomain}.{base domain} at the hosting
// project. The step is optional: with no base domain configured or no
// subdomain requested it is a no-op, and a record or attach failure degrades
// the tenant to the platform-default URL instead of aborting the run. A
// missing zone is different: the base domain itself is wrong, which is a
// misconfiguration affecting every run, so that error is fatal.
func (r *Runner) stepBindCustomDomain(ctx context.Context, run *runState) error {
	subdomain := naming.SanitizeSubdomain(run.tenant.SubdomainName)
	if r.opts.BaseDomain == "" || subdomain == "" {
		return nil
	}
	fqdn := naming.FQDN(subdomain, r.opts.BaseDomain)

	zoneID, err := r.clients.DNS.ResolveZone(ctx, r.opts.BaseDomain)
	if err != nil {
		return err
	}
	target := strings.TrimPrefix(run.outputs.HostingURL, "https://")
	if err := r.clients.DNS.UpsertCNAME(ctx, zoneID, fqdn, target); err != nil {
		log.Printf("[SagaRunner] Skipping custom domain %s: %v", fqdn, err)
		return nil
	}
	if !r.clients.Hosting.AttachCustomDomain(ctx, run.outputs.HostingProject, fqdn) {
		return nil
	}
	run.outputs.CustomDomain = fqdn
	return nil
}

func (r *Runner) stepHostingEnv(ctx context.Context, run *runState) error {
	return r.clients.Hosting.SetEnvVars(ctx, run.outputs.HostingProject, map[string]string{
		"APP_BACKEND_URL":   run.outputs.DeploymentURL,
		"APP_IDP_ORG_ID":    run.outputs.OrgID,
		"APP_IDP_CLIENT_ID": r.opts.IdentityClientID,
	})
}

// stepRegisterInstance records the provisioned stack in the tenant registry
// and writes the identity references back onto the tenant. Keyed by project
// slug, so a retried run updates its own row instead of appending another.
func (r *Runner) stepRegisterInstance(ctx context.Context, run *runState) error {
	instanceURL := run.outputs.HostingURL
	if run.outputs.CustomDomain != "" {
		instanceURL = "https://" + run.outputs.CustomDomain
	}

	inst := &models.Instance{
		TenantID:       run.tenant.ID,
		InstanceURL:    instanceURL,
		ProjectSlug:    run.job.ProjectSlug,
		OrgID:          optionalString(run.outputs.OrgID),
		IdentityUserID: optionalString(run.outputs.IdentityUserID),
		CustomDomain:   optionalString(run.outputs.CustomDomain),
		Subdomain:      optionalString(naming.SanitizeSubdomain(run.tenant.SubdomainName)),
		Plan:           run.job.Plan,
		Status:         models.InstanceStatusActive,
	}
	if _, err := r.stores.Instances.UpsertBySlug(ctx, inst); err != nil {
		return err
	}

	return r.stores.Tenants.SetIdentity(ctx, run.tenant.ID,
		optionalString(run.outputs.OrgID), optionalString(run.outputs.IdentityUserID))
}

// organizationName derives the identity-provider organization name from
// whatever the tenant supplied at checkout.
func organizationName(t *models.Tenant) string {
	if t.OrganizationName != "" {
		return t.OrganizationName
	}
	if t.Name != "" {
		return t.Name + "'s Startup"
	}
	return t.Email + "'s Startup"
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
