package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/config"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/repository"
)

// ReaperInstanceStore is the instance registry surface the reaper uses.
type ReaperInstanceStore interface {
	ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*models.Instance, error)
	Delete(ctx context.Context, id string) error
}

// ReaperJobStore resolves the job that provisioned a slug, whose step ledger
// holds the external resource ids teardown needs.
type ReaperJobStore interface {
	GetBySlug(ctx context.Context, slug string) (*models.ProvisionJob, error)
}

// StepLedger reads back a job's recorded step outputs.
type StepLedger interface {
	CompletedSteps(ctx context.Context, jobID string) (map[string]bool, models.StepOutputs, error)
}

// Teardown surfaces of the control-plane clients. All implementations treat
// already-deleted resources as success.
type (
	BackendTeardown interface {
		DeleteProject(ctx context.Context, projectID string) error
	}
	HostingTeardown interface {
		DeleteProject(ctx context.Context, project string) error
	}
	DNSTeardown interface {
		ResolveZone(ctx context.Context, baseDomain string) (string, error)
		DeleteRecordByName(ctx context.Context, zoneID, fqdn string) error
	}
	IdentityTeardown interface {
		DeleteOrganization(ctx context.Context, orgID string) error
	}
	PaymentTeardown interface {
		DeleteWebhookEndpoint(ctx context.Context, id string) error
	}
)

// TeardownClients bundles the control-plane surfaces the reaper deletes through.
type TeardownClients struct {
	Backend  BackendTeardown
	Hosting  HostingTeardown
	DNS      DNSTeardown
	Identity IdentityTeardown
	Payment  PaymentTeardown
}

// Reaper deletes the external resources of suspended instances once their
// grace period has elapsed. It only exists under the "teardown" deprovision
// policy; under "retain" nothing is ever deleted.
type Reaper struct {
	instances ReaperInstanceStore
	jobs      ReaperJobStore
	ledger    StepLedger
	clients   TeardownClients

	policy      string
	gracePeriod time.Duration
	cronSpec    string
	baseDomain  string

	cron *cron.Cron
}

func NewReaper(
	instances ReaperInstanceStore,
	jobs ReaperJobStore,
	ledger StepLedger,
	clients TeardownClients,
	cfg *config.Config,
) *Reaper {
	return &Reaper{
		instances:   instances,
		jobs:        jobs,
		ledger:      ledger,
		clients:     clients,
		policy:      cfg.Deprovision.Policy,
		gracePeriod: cfg.Deprovision.GracePeriod,
		cronSpec:    cfg.Deprovision.CronSpec,
		baseDomain:  cfg.DNS.BaseDomain,
	}
}

// Start schedules the sweep. Under the retain policy this is a no-op.
func (r *Reaper) Start() error {
	if r.policy != config.DeprovisionTeardown {
		log.Printf("[Reaper] Deprovision policy is %q, teardown sweeps disabled", r.policy)
		return nil
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.cronSpec, func() {
		if err := r.Sweep(context.Background()); err != nil {
			log.Printf("[Reaper] Sweep failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	r.cron.Start()
	log.Printf("[Reaper] Teardown sweeps scheduled (%s), grace period %s", r.cronSpec, r.gracePeriod)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep tears down every suspended instance whose grace period has elapsed.
// Each instance is independent: one failure is logged and retried on the
// next sweep without blocking the rest.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.gracePeriod)
	expired, err := r.instances.ListSuspendedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list expired instances: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}
	log.Printf("[Reaper] %d suspended instances past grace period", len(expired))

	for _, inst := range expired {
		if err := r.teardown(ctx, inst); err != nil {
			log.Printf("[Reaper] Teardown of %s incomplete, will retry: %v", inst.ProjectSlug, err)
			continue
		}
		if err := r.instances.Delete(ctx, inst.ID); err != nil {
			log.Printf("[Reaper] Failed to delete registry row for %s: %v", inst.ProjectSlug, err)
			continue
		}
		log.Printf("[Reaper] Tore down instance %s", inst.ProjectSlug)
	}
	return nil
}

// teardown deletes an instance's external resources. The registry row is
// only removed by the caller when everything here succeeded, so a partial
// teardown converges over repeated sweeps.
func (r *Reaper) teardown(ctx context.Context, inst *models.Instance) error {
	outputs := r.recordedOutputs(ctx, inst.ProjectSlug)

	var errs []error

	if outputs.WebhookEndpointID != "" {
		if err := r.clients.Payment.DeleteWebhookEndpoint(ctx, outputs.WebhookEndpointID); err != nil {
			errs = append(errs, fmt.Errorf("webhook endpoint: %w", err))
		}
	}

	if inst.CustomDomain != nil && r.baseDomain != "" {
		zoneID, err := r.clients.DNS.ResolveZone(ctx, r.baseDomain)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve zone: %w", err))
		} else if err := r.clients.DNS.DeleteRecordByName(ctx, zoneID, *inst.CustomDomain); err != nil {
			errs = append(errs, fmt.Errorf("dns record: %w", err))
		}
	}

	if err := r.clients.Hosting.DeleteProject(ctx, inst.ProjectSlug); err != nil {
		errs = append(errs, fmt.Errorf("hosting project: %w", err))
	}

	if outputs.BackendProjectID != "" {
		if err := r.clients.Backend.DeleteProject(ctx, outputs.BackendProjectID); err != nil {
			errs = append(errs, fmt.Errorf("backend project: %w", err))
		}
	}

	if inst.OrgID != nil {
		if err := r.clients.Identity.DeleteOrganization(ctx, *inst.OrgID); err != nil {
			errs = append(errs, fmt.Errorf("organization: %w", err))
		}
	}

	return errors.Join(errs...)
}

// recordedOutputs recovers the external ids the provisioning run recorded.
// Instances registered through the callback path may have no local job; the
// teardown then covers only what the registry row itself names.
func (r *Reaper) recordedOutputs(ctx context.Context, slug string) models.StepOutputs {
	job, err := r.jobs.GetBySlug(ctx, slug)
	if errors.Is(err, repository.ErrNotFound) {
		return models.StepOutputs{}
	}
	if err != nil {
		log.Printf("[Reaper] Failed to resolve job for %s: %v", slug, err)
		return models.StepOutputs{}
	}
	_, outputs, err := r.ledger.CompletedSteps(ctx, job.ID)
	if err != nil {
		log.Printf("[Reaper] Failed to read ledger for job %s: %v", job.ID, err)
		return models.StepOutputs{}
	}
	return outputs
}
