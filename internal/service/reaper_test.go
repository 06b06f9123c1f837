package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/config"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/repository"
)

type memReaperInstances struct {
	mu      sync.Mutex
	expired []*models.Instance
	deleted []string
}

func (m *memReaperInstances) ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired, nil
}

func (m *memReaperInstances) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

type memReaperJobs struct {
	bySlug map[string]*models.ProvisionJob
}

func (m *memReaperJobs) GetBySlug(ctx context.Context, slug string) (*models.ProvisionJob, error) {
	j, ok := m.bySlug[slug]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return j, nil
}

type memStepLedger struct {
	outputs map[string]models.StepOutputs // by job id
}

func (m *memStepLedger) CompletedSteps(ctx context.Context, jobID string) (map[string]bool, models.StepOutputs, error) {
	return nil, m.outputs[jobID], nil
}

type recordingTeardown struct {
	mu               sync.Mutex
	backendDeleted   []string
	hostingDeleted   []string
	dnsDeleted       []string
	orgsDeleted      []string
	endpointsDeleted []string
	failHosting      error
}

func (r *recordingTeardown) DeleteProject(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backendDeleted = append(r.backendDeleted, id)
	return nil
}

type hostingTeardownFake struct{ r *recordingTeardown }

func (h hostingTeardownFake) DeleteProject(ctx context.Context, project string) error {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	if h.r.failHosting != nil {
		return h.r.failHosting
	}
	h.r.hostingDeleted = append(h.r.hostingDeleted, project)
	return nil
}

type dnsTeardownFake struct{ r *recordingTeardown }

func (d dnsTeardownFake) ResolveZone(ctx context.Context, baseDomain string) (string, error) {
	return "zone_1", nil
}

func (d dnsTeardownFake) DeleteRecordByName(ctx context.Context, zoneID, fqdn string) error {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	d.r.dnsDeleted = append(d.r.dnsDeleted, fqdn)
	return nil
}

type identityTeardownFake struct{ r *recordingTeardown }

func (i identityTeardownFake) DeleteOrganization(ctx context.Context, orgID string) error {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()
	i.r.orgsDeleted = append(i.r.orgsDeleted, orgID)
	return nil
}

type paymentTeardownFake struct{ r *recordingTeardown }

func (p paymentTeardownFake) DeleteWebhookEndpoint(ctx context.Context, id string) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	p.r.endpointsDeleted = append(p.r.endpointsDeleted, id)
	return nil
}

func reaperConfig(policy string) *config.Config {
	cfg := &config.Config{}
	cfg.Deprovision.Policy = policy
	cfg.Deprovision.GracePeriod = time.Hour
	cfg.Deprovision.CronSpec = "@hourly"
	cfg.DNS.BaseDomain = "example.com"
	return cfg
}

func suspendedInstance() *models.Instance {
	suspended := time.Now().Add(-48 * time.Hour)
	domain := "acme.example.com"
	org := "org_1"
	return &models.Instance{
		ID:           "inst_1",
		TenantID:     "tenant_1",
		ProjectSlug:  "startup-a1b2c3d4",
		InstanceURL:  "https://acme.example.com",
		CustomDomain: &domain,
		OrgID:        &org,
		Status:       models.InstanceStatusSuspended,
		SuspendedAt:  &suspended,
	}
}

func TestSweepTearsDownExpiredInstance(t *testing.T) {
	instances := &memReaperInstances{expired: []*models.Instance{suspendedInstance()}}
	jobs := &memReaperJobs{bySlug: map[string]*models.ProvisionJob{
		"startup-a1b2c3d4": {ID: "job_1", ProjectSlug: "startup-a1b2c3d4"},
	}}
	ledger := &memStepLedger{outputs: map[string]models.StepOutputs{
		"job_1": {BackendProjectID: "proj_123", WebhookEndpointID: "we_1"},
	}}
	rec := &recordingTeardown{}

	reaper := NewReaper(instances, jobs, ledger, TeardownClients{
		Backend:  rec,
		Hosting:  hostingTeardownFake{rec},
		DNS:      dnsTeardownFake{rec},
		Identity: identityTeardownFake{rec},
		Payment:  paymentTeardownFake{rec},
	}, reaperConfig(config.DeprovisionTeardown))

	require.NoError(t, reaper.Sweep(context.Background()))

	assert.Equal(t, []string{"proj_123"}, rec.backendDeleted)
	assert.Equal(t, []string{"startup-a1b2c3d4"}, rec.hostingDeleted)
	assert.Equal(t, []string{"acme.example.com"}, rec.dnsDeleted)
	assert.Equal(t, []string{"org_1"}, rec.orgsDeleted)
	assert.Equal(t, []string{"we_1"}, rec.endpointsDeleted)
	assert.Equal(t, []string{"inst_1"}, instances.deleted)
}

func TestSweepKeepsRowOnPartialTeardown(t *testing.T) {
	instances := &memReaperInstances{expired: []*models.Instance{suspendedInstance()}}
	jobs := &memReaperJobs{bySlug: map[string]*models.ProvisionJob{}}
	ledger := &memStepLedger{outputs: map[string]models.StepOutputs{}}
	rec := &recordingTeardown{failHosting: errors.New("upstream 500")}

	reaper := NewReaper(instances, jobs, ledger, TeardownClients{
		Backend:  rec,
		Hosting:  hostingTeardownFake{rec},
		DNS:      dnsTeardownFake{rec},
		Identity: identityTeardownFake{rec},
		Payment:  paymentTeardownFake{rec},
	}, reaperConfig(config.DeprovisionTeardown))

	require.NoError(t, reaper.Sweep(context.Background()))
	assert.Empty(t, instances.deleted, "registry row must survive until teardown fully succeeds")
}

func TestReaperDisabledUnderRetainPolicy(t *testing.T) {
	reaper := NewReaper(&memReaperInstances{}, &memReaperJobs{}, &memStepLedger{}, TeardownClients{}, reaperConfig(config.DeprovisionRetain))
	require.NoError(t, reaper.Start())
	assert.Nil(t, reaper.cron, "retain policy must not schedule sweeps")
	reaper.Stop()
}
