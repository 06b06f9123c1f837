package saga

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
)

// StepOrder is the fixed execution order of a provisioning run. Identity and
// backend resources come first because their outputs feed the hosting layer;
// instance registration is always last so the registry only ever sees stacks
// whose endpoints exist.
var StepOrder = []string{
	models.StepIdentityOrg,
	models.StepBackendProject,
	models.StepBackendEnv,
	models.StepDeployBackend,
	models.StepHostingProject,
	models.StepPaymentWebhook,
	models.StepBindCustomDomain,
	models.StepHostingEnv,
	models.StepRegisterInstance,
}

const (
	defaultStepTimeout = 30 * time.Second
	defaultJobTimeout  = 10 * time.Minute
	lockRetryInterval  = 2 * time.Second
)

// StepError reports which step failed and which external resources the run
// had already created, so an operator can inspect or clean up by hand.
type StepError struct {
	Step        string
	ProjectSlug string
	Created     models.StepOutputs
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed for %s: %v%s", e.Step, e.ProjectSlug, e.Err, e.createdSummary())
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) createdSummary() string {
	var parts []string
	if e.Created.OrgID != "" {
		parts = append(parts, "org="+e.Created.OrgID)
	}
	if e.Created.BackendProjectID != "" {
		parts = append(parts, "backend_project="+e.Created.BackendProjectID)
	}
	if e.Created.DeploymentName != "" {
		parts = append(parts, "deployment="+e.Created.DeploymentName)
	}
	if e.Created.HostingProject != "" {
		parts = append(parts, "hosting_project="+e.Created.HostingProject)
	}
	if e.Created.WebhookEndpointID != "" {
		parts = append(parts, "webhook_endpoint="+e.Created.WebhookEndpointID)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (created: " + strings.Join(parts, ", ") + ")"
}

// Options bounds a run and carries the cross-cutting values steps need.
type Options struct {
	StepTimeout time.Duration
	JobTimeout  time.Duration

	BaseDomain       string            // empty disables custom-domain binding
	BackendEnvVars   map[string]string // propagated into every tenant backend
	IdentityClientID string
	PaymentEvents    []string
}

// Runner executes provisioning jobs.
type Runner struct {
	clients Clients
	stores  Stores
	opts    Options
}

func NewRunner(clients Clients, stores Stores, opts Options) *Runner {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	return &Runner{clients: clients, stores: stores, opts: opts}
}

// Run executes one provisioning job to completion, resuming from the step
// ledger when the job already has completed steps. Runs for the same tenant
// are serialized: a run waits for the tenant lock until the job timeout
// expires. The job record is always finished as succeeded or failed.
func (r *Runner) Run(ctx context.Context, job *models.ProvisionJob, tenant *models.Tenant) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	defer cancel()

	release, err := r.waitForTenantLock(ctx, tenant.ID)
	if err != nil {
		return r.fail(job, fmt.Errorf("acquire tenant lock: %w", err))
	}
	defer release()

	if err := r.stores.Jobs.MarkRunning(ctx, job.ID); err != nil {
		return r.fail(job, fmt.Errorf("mark job running: %w", err))
	}

	done, outputs, err := r.stores.Ledger.CompletedSteps(ctx, job.ID)
	if err != nil {
		return r.fail(job, fmt.Errorf("load step ledger: %w", err))
	}
	if len(done) > 0 {
		log.Printf("[SagaRunner] Job %s resuming with %d completed steps", job.ID, len(done))
	}

	run := &runState{job: job, tenant: tenant, outputs: outputs}

	for _, step := range StepOrder {
		if done[step] {
			continue
		}
		if err := r.runStep(ctx, run, step); err != nil {
			stepErr := &StepError{Step: step, ProjectSlug: job.ProjectSlug, Created: run.outputs, Err: err}
			r.stores.Logs.LogAction(context.WithoutCancel(ctx), job.ID, step, "failed", stepErr.Error())
			return r.fail(job, stepErr)
		}
	}

	if err := r.stores.Jobs.Finish(context.WithoutCancel(ctx), job.ID, models.JobStatusSucceeded, nil); err != nil {
		log.Printf("[SagaRunner] Failed to finish job %s: %v", job.ID, err)
	}
	log.Printf("[SagaRunner] Job %s succeeded, instance %s provisioned for tenant %s", job.ID, job.ProjectSlug, tenant.ID)
	return nil
}

// runState is the mutable state threaded through one run's steps.
type runState struct {
	job     *models.ProvisionJob
	tenant  *models.Tenant
	outputs models.StepOutputs
}

func (r *Runner) runStep(ctx context.Context, run *runState, step string) error {
	if err := r.stores.Jobs.SetLastStep(ctx, run.job.ID, step); err != nil {
		return fmt.Errorf("record last step: %w", err)
	}
	log.Printf("[SagaRunner] Job %s step %s starting", run.job.ID, step)

	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	err := r.execute(stepCtx, run, step)
	cancel()
	if err != nil {
		return err
	}

	// the ledger write uses the parent context so a step that consumed its
	// whole budget still gets recorded
	if err := r.stores.Ledger.RecordStep(ctx, run.job.ID, step, run.outputs); err != nil {
		return fmt.Errorf("record step ledger: %w", err)
	}
	r.stores.Logs.LogAction(ctx, run.job.ID, step, "completed", "")
	return nil
}

func (r *Runner) execute(ctx context.Context, run *runState, step string) error {
	switch step {
	case models.StepIdentityOrg:
		return r.stepIdentityOrg(ctx, run)
	case models.StepBackendProject:
		return r.stepBackendProject(ctx, run)
	case models.StepBackendEnv:
		return r.stepBackendEnv(ctx, run)
	case models.StepDeployBackend:
		return r.stepDeployBackend(ctx, run)
	case models.StepHostingProject:
		return r.stepHostingProject(ctx, run)
	case models.StepPaymentWebhook:
		return r.stepPaymentWebhook(ctx, run)
	case models.StepBindCustomDomain:
		return r.stepBindCustomDomain(ctx, run)
	case models.StepHostingEnv:
		return r.stepHostingEnv(ctx, run)
	case models.StepRegisterInstance:
		return r.stepRegisterInstance(ctx, run)
	default:
		return fmt.Errorf("unknown step %q", step)
	}
}

func (r *Runner) waitForTenantLock(ctx context.Context, tenantID string) (func(), error) {
	for {
		acquired, release, err := r.stores.Jobs.AcquireTenantLock(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if acquired {
			return release, nil
		}
		log.Printf("[SagaRunner] Tenant %s has a run in progress, waiting", tenantID)
		select {
		case <-ctx.Done():
			return nil, errors.New("timed out waiting for in-progress run")
		case <-time.After(lockRetryInterval):
		}
	}
}

// fail finishes the job as failed and returns the error. Uses a detached
// context so the failure is recorded even when the job context expired.
func (r *Runner) fail(job *models.ProvisionJob, err error) error {
	msg := err.Error()
	if ferr := r.stores.Jobs.Finish(context.Background(), job.ID, models.JobStatusFailed, &msg); ferr != nil {
		log.Printf("[SagaRunner] Failed to record failure for job %s: %v", job.ID, ferr)
	}
	log.Printf("[SagaRunner] Job %s failed: %v", job.ID, err)
	return err
}
