package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/config"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/naming"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/repository"
)

// TenantStore is the tenant registry surface the service uses.
type TenantStore interface {
	Upsert(ctx context.Context, t *models.Tenant) (*models.Tenant, error)
	GetByEmail(ctx context.Context, email string) (*models.Tenant, error)
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	UpdateSubscriptionStatus(ctx context.Context, id, status string) error
	SetIdentity(ctx context.Context, id string, orgID, identityUserID *string) error
}

// InstanceStore is the instance registry surface the service uses.
type InstanceStore interface {
	UpsertBySlug(ctx context.Context, inst *models.Instance) (*models.Instance, error)
	GetByTenantID(ctx context.Context, tenantID string) ([]*models.Instance, error)
	SuspendActiveByTenant(ctx context.Context, tenantID string) (int64, error)
}

// JobStore is the job record surface the service uses.
type JobStore interface {
	Create(ctx context.Context, job *models.ProvisionJob) error
	GetByID(ctx context.Context, id string) (*models.ProvisionJob, error)
	GetBySlug(ctx context.Context, slug string) (*models.ProvisionJob, error)
	GetByTenantID(ctx context.Context, tenantID string) ([]*models.ProvisionJob, error)
	Finish(ctx context.Context, id, status string, errorMsg *string) error
}

// EventStore deduplicates inbound payment events.
type EventStore interface {
	SaveIfNew(ctx context.Context, ev *models.PaymentEvent) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Dispatcher triggers an out-of-band provisioning run (external mode).
type Dispatcher interface {
	Trigger(ctx context.Context, payload *models.DispatchPayload) error
}

// JobRunner executes a provisioning job in-process (local mode).
type JobRunner interface {
	Run(ctx context.Context, job *models.ProvisionJob, tenant *models.Tenant) error
}

// ProvisionService orchestrates tenant provisioning: it turns inbound
// subscription events into durable jobs, dispatches the runs, and maintains
// the tenant and instance registries.
type ProvisionService struct {
	tenants    TenantStore
	instances  InstanceStore
	jobs       JobStore
	events     EventStore
	dispatcher Dispatcher
	runner     JobRunner

	dispatchMode string
	callbackURL  string
	slugPrefix   string
}

func NewProvisionService(
	tenants TenantStore,
	instances InstanceStore,
	jobs JobStore,
	events EventStore,
	dispatcher Dispatcher,
	runner JobRunner,
	cfg *config.Config,
) *ProvisionService {
	return &ProvisionService{
		tenants:      tenants,
		instances:    instances,
		jobs:         jobs,
		events:       events,
		dispatcher:   dispatcher,
		runner:       runner,
		dispatchMode: cfg.Dispatch.Mode,
		callbackURL:  cfg.Server.CallbackURL,
		slugPrefix:   cfg.Saga.SlugPrefix,
	}
}

// HandleSubscriptionEvent processes one payment-provider event. Duplicate
// deliveries are detected by event id and acknowledged without reprocessing.
func (s *ProvisionService) HandleSubscriptionEvent(ctx context.Context, ev *models.SubscriptionEvent, payload []byte) error {
	obj := ev.Data.Object
	email := customerEmail(&obj)

	fresh, err := s.events.SaveIfNew(ctx, &models.PaymentEvent{
		EventID:        ev.ID,
		EventType:      ev.Type,
		CustomerID:     obj.Customer,
		CustomerEmail:  email,
		SubscriptionID: obj.ID,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	if !fresh {
		log.Printf("[ProvisionService] Duplicate delivery of event %s, ignoring", ev.ID)
		return nil
	}

	var handleErr error
	switch ev.Type {
	case "checkout.session.completed", "customer.subscription.created":
		handleErr = s.startProvisioning(ctx, &obj, email)
	case "customer.subscription.deleted":
		handleErr = s.suspendTenant(ctx, email)
	case "customer.subscription.updated":
		handleErr = s.refreshSubscription(ctx, &obj, email)
	default:
		log.Printf("[ProvisionService] Ignoring event type %s", ev.Type)
	}

	if handleErr != nil {
		// a failed handler returns 5xx and the provider redelivers; release
		// the dedup record so the redelivery is reprocessed, not dropped
		if derr := s.events.Delete(ctx, ev.ID); derr != nil {
			log.Printf("[ProvisionService] Failed to release event %s for redelivery: %v", ev.ID, derr)
		}
		return handleErr
	}
	return nil
}

// startProvisioning upserts the tenant, creates a queued job with a fresh
// collision-resistant project slug, and dispatches the run.
func (s *ProvisionService) startProvisioning(ctx context.Context, obj *models.SubscriptionObject, email string) error {
	if email == "" {
		return errors.New("subscription event has no customer email")
	}

	tenant, err := s.tenants.Upsert(ctx, &models.Tenant{
		Email:              email,
		Name:               obj.Metadata["name"],
		FirstName:          obj.Metadata["firstName"],
		LastName:           obj.Metadata["lastName"],
		OrganizationName:   obj.Metadata["organizationName"],
		SubdomainName:      obj.Metadata["subdomainName"],
		PaymentCustomerID:  obj.Customer,
		SubscriptionID:     &obj.ID,
		SubscriptionStatus: subscriptionStatus(obj),
		Plan:               planOf(obj),
	})
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}

	job := &models.ProvisionJob{
		TenantID:       tenant.ID,
		Email:          tenant.Email,
		SubscriptionID: obj.ID,
		Plan:           tenant.Plan,
		ProjectSlug:    naming.ProjectSlug(s.slugPrefix, tenant.ID, uuid.NewString()),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	log.Printf("[ProvisionService] Created job %s (slug %s) for tenant %s", job.ID, job.ProjectSlug, tenant.ID)

	return s.dispatch(ctx, job, tenant)
}

func (s *ProvisionService) dispatch(ctx context.Context, job *models.ProvisionJob, tenant *models.Tenant) error {
	if s.dispatchMode == config.DispatchExternal {
		return s.dispatcher.Trigger(ctx, &models.DispatchPayload{
			UserID:           tenant.ID,
			Email:            tenant.Email,
			Name:             tenant.Name,
			FirstName:        tenant.FirstName,
			LastName:         tenant.LastName,
			OrganizationName: tenant.OrganizationName,
			SubdomainName:    tenant.SubdomainName,
			Plan:             job.Plan,
			SubscriptionID:   job.SubscriptionID,
			CallbackURL:      s.callbackURL + "/provisioning-callback",
		})
	}

	// local mode runs the saga in-process; the job record carries the
	// outcome, so the webhook response never waits on external calls
	go func() {
		if err := s.runner.Run(context.Background(), job, tenant); err != nil {
			log.Printf("[ProvisionService] Provisioning run for job %s failed: %v", job.ID, err)
		}
	}()
	return nil
}

// suspendTenant marks the subscription canceled and suspends the tenant's
// active instances. Suspension never deletes anything here: teardown is the
// reaper's job, under the explicit deprovision policy.
func (s *ProvisionService) suspendTenant(ctx context.Context, email string) error {
	tenant, err := s.tenants.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[ProvisionService] Cancellation for unknown tenant %s, ignoring", email)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup tenant: %w", err)
	}

	if err := s.tenants.UpdateSubscriptionStatus(ctx, tenant.ID, models.SubscriptionCanceled); err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}

	n, err := s.instances.SuspendActiveByTenant(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("suspend instances: %w", err)
	}
	log.Printf("[ProvisionService] Suspended %d instances for tenant %s", n, tenant.ID)
	return nil
}

// refreshSubscription mirrors the provider's subscription status onto the
// tenant. Only deletion events suspend instances.
func (s *ProvisionService) refreshSubscription(ctx context.Context, obj *models.SubscriptionObject, email string) error {
	tenant, err := s.tenants.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[ProvisionService] Subscription update for unknown tenant %s, ignoring", email)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup tenant: %w", err)
	}
	if obj.Status == "" {
		return nil
	}
	return s.tenants.UpdateSubscriptionStatus(ctx, tenant.ID, obj.Status)
}

// HandleCallback registers the result of an out-of-band provisioning run.
// The tenant must already exist: callbacks never create accounts.
func (s *ProvisionService) HandleCallback(ctx context.Context, cb *models.ProvisionCallback) error {
	tenant, err := s.tenants.GetByEmail(ctx, cb.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("callback for unknown tenant %s", cb.Email)
	}
	if err != nil {
		return fmt.Errorf("lookup tenant: %w", err)
	}

	_, err = s.instances.UpsertBySlug(ctx, &models.Instance{
		TenantID:       tenant.ID,
		InstanceURL:    cb.InstanceURL,
		ProjectSlug:    cb.ProjectSlug,
		Subdomain:      cb.Subdomain,
		CustomDomain:   cb.CustomDomain,
		OrgID:          cb.OrgID,
		IdentityUserID: cb.IdentityUserID,
		Plan:           cb.Plan,
		Status:         models.InstanceStatusActive,
	})
	if err != nil {
		return fmt.Errorf("register instance: %w", err)
	}

	if cb.OrgID != nil || cb.IdentityUserID != nil {
		if err := s.tenants.SetIdentity(ctx, tenant.ID, cb.OrgID, cb.IdentityUserID); err != nil {
			return fmt.Errorf("record identity references: %w", err)
		}
	}

	// an externally-run saga reports through this callback, so the job
	// record created at intake is finished here
	job, err := s.jobs.GetBySlug(ctx, cb.ProjectSlug)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Printf("[ProvisionService] No local job for slug %s, skipping job update", cb.ProjectSlug)
	case err != nil:
		return fmt.Errorf("resolve job for slug %s: %w", cb.ProjectSlug, err)
	case job.Status != models.JobStatusSucceeded:
		if err := s.jobs.Finish(ctx, job.ID, models.JobStatusSucceeded, nil); err != nil {
			return fmt.Errorf("finish job %s: %w", job.ID, err)
		}
	}

	log.Printf("[ProvisionService] Registered instance %s for tenant %s", cb.ProjectSlug, tenant.ID)
	return nil
}

// GetJobStatus returns the operator view of one job.
func (s *ProvisionService) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	resp := jobResponse(job)
	return &resp, nil
}

// GetTenantJobs returns a tenant's jobs, newest first.
func (s *ProvisionService) GetTenantJobs(ctx context.Context, email string) ([]models.JobStatusResponse, error) {
	tenant, err := s.tenants.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.GetByTenantID(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	out := make([]models.JobStatusResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse(j))
	}
	return out, nil
}

// GetTenantInstances returns a tenant's instances with subscription context.
func (s *ProvisionService) GetTenantInstances(ctx context.Context, email string) (*models.TenantInstancesResponse, error) {
	tenant, err := s.tenants.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	instances, err := s.instances.GetByTenantID(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}

	resp := &models.TenantInstancesResponse{
		Email:              tenant.Email,
		SubscriptionStatus: tenant.SubscriptionStatus,
		Plan:               tenant.Plan,
		Instances:          make([]models.InstanceResponse, 0, len(instances)),
	}
	for _, inst := range instances {
		resp.Instances = append(resp.Instances, models.InstanceResponse{
			InstanceURL:  inst.InstanceURL,
			ProjectSlug:  inst.ProjectSlug,
			Subdomain:    inst.Subdomain,
			CustomDomain: inst.CustomDomain,
			OrgID:        inst.OrgID,
			Plan:         inst.Plan,
			Status:       inst.Status,
			CreatedAt:    inst.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp, nil
}

func jobResponse(job *models.ProvisionJob) models.JobStatusResponse {
	resp := models.JobStatusResponse{
		JobID:          job.ID,
		TenantID:       job.TenantID,
		Email:          job.Email,
		SubscriptionID: job.SubscriptionID,
		Plan:           job.Plan,
		ProjectSlug:    job.ProjectSlug,
		Status:         job.Status,
		LastStep:       job.LastStep,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		v := job.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &v
	}
	if job.FinishedAt != nil {
		v := job.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &v
	}
	return resp
}

func customerEmail(obj *models.SubscriptionObject) string {
	if obj.CustomerEmail != "" {
		return obj.CustomerEmail
	}
	return obj.Metadata["email"]
}

func subscriptionStatus(obj *models.SubscriptionObject) string {
	if obj.Status != "" {
		return obj.Status
	}
	return models.SubscriptionActive
}

func planOf(obj *models.SubscriptionObject) string {
	if obj.Plan != "" {
		return obj.Plan
	}
	if p := obj.Metadata["plan"]; p != "" {
		return p
	}
	return "starter"
}
