package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/config"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/repository"
)

// --- in-memory stores ------------------------------------------------------

type memTenants struct {
	mu         sync.Mutex
	byEmail    map[string]*models.Tenant
	failUpsert error
}

func newMemTenants() *memTenants {
	return &memTenants{byEmail: make(map[string]*models.Tenant)}
}

func (m *memTenants) Upsert(ctx context.Context, t *models.Tenant) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert != nil {
		return nil, m.failUpsert
	}
	if existing, ok := m.byEmail[t.Email]; ok {
		t.ID = existing.ID
	} else if t.ID == "" {
		t.ID = uuid.NewString()
	}
	cp := *t
	m.byEmail[t.Email] = &cp
	return &cp, nil
}

func (m *memTenants) GetByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTenants) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byEmail {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memTenants) UpdateSubscriptionStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byEmail {
		if t.ID == id {
			t.SubscriptionStatus = status
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memTenants) SetIdentity(ctx context.Context, id string, orgID, identityUserID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byEmail {
		if t.ID == id {
			if orgID != nil {
				t.OrgID = orgID
			}
			if identityUserID != nil {
				t.IdentityUserID = identityUserID
			}
			return nil
		}
	}
	return repository.ErrNotFound
}

type memInstances struct {
	mu     sync.Mutex
	bySlug map[string]*models.Instance
}

func newMemInstances() *memInstances {
	return &memInstances{bySlug: make(map[string]*models.Instance)}
}

func (m *memInstances) UpsertBySlug(ctx context.Context, inst *models.Instance) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bySlug[inst.ProjectSlug]; ok {
		existing.InstanceURL = firstNonEmpty(existing.InstanceURL, inst.InstanceURL)
		existing.Plan = inst.Plan
		if existing.Status != models.InstanceStatusSuspended {
			existing.Status = inst.Status
		}
		if inst.CustomDomain != nil {
			existing.CustomDomain = inst.CustomDomain
		}
		cp := *existing
		return &cp, nil
	}
	cp := *inst
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now()
	m.bySlug[inst.ProjectSlug] = &cp
	out := cp
	return &out, nil
}

func (m *memInstances) GetByTenantID(ctx context.Context, tenantID string) ([]*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Instance
	for _, inst := range m.bySlug {
		if inst.TenantID == tenantID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memInstances) SuspendActiveByTenant(ctx context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, inst := range m.bySlug {
		if inst.TenantID == tenantID && inst.Status == models.InstanceStatusActive {
			inst.Status = models.InstanceStatusSuspended
			inst.SuspendedAt = &now
			n++
		}
	}
	return n, nil
}

type memJobs struct {
	mu   sync.Mutex
	byID map[string]*models.ProvisionJob
}

func newMemJobs() *memJobs {
	return &memJobs{byID: make(map[string]*models.ProvisionJob)}
}

func (m *memJobs) Create(ctx context.Context, job *models.ProvisionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	job.CreatedAt = time.Now()
	cp := *job
	m.byID[job.ID] = &cp
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, id string) (*models.ProvisionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) GetBySlug(ctx context.Context, slug string) (*models.ProvisionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.byID {
		if j.ProjectSlug == slug {
			cp := *j
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memJobs) Finish(ctx context.Context, id, status string, errorMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	j.Status = status
	j.ErrorMessage = errorMsg
	now := time.Now()
	j.FinishedAt = &now
	return nil
}

func (m *memJobs) GetByTenantID(ctx context.Context, tenantID string) ([]*models.ProvisionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ProvisionJob
	for _, j := range m.byID {
		if j.TenantID == tenantID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memEvents struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemEvents() *memEvents {
	return &memEvents{seen: make(map[string]bool)}
}

func (m *memEvents) SaveIfNew(ctx context.Context, ev *models.PaymentEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[ev.EventID] {
		return false, nil
	}
	m.seen[ev.EventID] = true
	return true, nil
}

func (m *memEvents) Delete(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	payloads []*models.DispatchPayload
}

func (d *recordingDispatcher) Trigger(ctx context.Context, payload *models.DispatchPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, payload)
	return nil
}

type recordingRunner struct {
	mu   sync.Mutex
	runs []*models.ProvisionJob
	done chan struct{}
}

func (r *recordingRunner) Run(ctx context.Context, job *models.ProvisionJob, tenant *models.Tenant) error {
	r.mu.Lock()
	r.runs = append(r.runs, job)
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
	return nil
}

// --- fixtures --------------------------------------------------------------

type serviceFixture struct {
	tenants    *memTenants
	instances  *memInstances
	jobs       *memJobs
	events     *memEvents
	dispatcher *recordingDispatcher
	runner     *recordingRunner
	svc        *ProvisionService
}

func newServiceFixture(dispatchMode string) *serviceFixture {
	f := &serviceFixture{
		tenants:    newMemTenants(),
		instances:  newMemInstances(),
		jobs:       newMemJobs(),
		events:     newMemEvents(),
		dispatcher: &recordingDispatcher{},
		runner:     &recordingRunner{done: make(chan struct{})},
	}
	cfg := &config.Config{}
	cfg.Dispatch.Mode = dispatchMode
	cfg.Server.CallbackURL = "https://provisioner.example.com"
	cfg.Saga.SlugPrefix = "startup"
	f.svc = NewProvisionService(f.tenants, f.instances, f.jobs, f.events, f.dispatcher, f.runner, cfg)
	return f
}

func checkoutEvent(id, email string) *models.SubscriptionEvent {
	ev := &models.SubscriptionEvent{ID: id, Type: "checkout.session.completed"}
	ev.Data.Object = models.SubscriptionObject{
		ID:            "sub_1",
		Customer:      "cus_1",
		CustomerEmail: email,
		Status:        "active",
		Metadata: map[string]string{
			"name":             "Ada Founder",
			"organizationName": "Acme Inc",
			"subdomainName":    "acme",
			"plan":             "pro",
		},
	}
	return ev
}

func rawJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// --- tests -----------------------------------------------------------------

func TestCheckoutEventCreatesJobAndRunsLocally(t *testing.T) {
	f := newServiceFixture(config.DispatchLocal)
	ev := checkoutEvent("evt_1", "founder@acme.com")

	require.NoError(t, f.svc.HandleSubscriptionEvent(context.Background(), ev, rawJSON(t, ev)))

	select {
	case <-f.runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("local dispatch never ran the job")
	}

	tenant, err := f.tenants.GetByEmail(context.Background(), "founder@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", tenant.OrganizationName)
	assert.Equal(t, "pro", tenant.Plan)

	require.Len(t, f.runner.runs, 1)
	job := f.runner.runs[0]
	assert.Equal(t, tenant.ID, job.TenantID)
	assert.Regexp(t, `^startup-[0-9a-f]{8}$`, job.ProjectSlug)
	assert.Empty(t, f.dispatcher.payloads)
}

func TestDuplicateEventIsIgnored(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)
	ev := checkoutEvent("evt_1", "founder@acme.com")

	require.NoError(t, f.svc.HandleSubscriptionEvent(context.Background(), ev, rawJSON(t, ev)))
	require.NoError(t, f.svc.HandleSubscriptionEvent(context.Background(), ev, rawJSON(t, ev)))

	assert.Len(t, f.dispatcher.payloads, 1, "redelivery must not start a second run")
	jobs, _ := f.jobs.GetByTenantID(context.Background(), f.dispatcher.payloads[0].UserID)
	assert.Len(t, jobs, 1)
}

func TestExternalDispatchCarriesCallbackURL(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)
	ev := checkoutEvent("evt_1", "founder@acme.com")

	require.NoError(t, f.svc.HandleSubscriptionEvent(context.Background(), ev, rawJSON(t, ev)))

	require.Len(t, f.dispatcher.payloads, 1)
	p := f.dispatcher.payloads[0]
	assert.Equal(t, "founder@acme.com", p.Email)
	assert.Equal(t, "Acme Inc", p.OrganizationName)
	assert.Equal(t, "sub_1", p.SubscriptionID)
	assert.Equal(t, "https://provisioner.example.com/provisioning-callback", p.CallbackURL)
}

func TestRepeatCheckoutCreatesSecondInstanceSlug(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)

	ev1 := checkoutEvent("evt_1", "founder@acme.com")
	ev2 := checkoutEvent("evt_2", "founder@acme.com")
	require.NoError(t, f.svc.HandleSubscriptionEvent(context.Background(), ev1, rawJSON(t, ev1)))
	require.NoError(t, f.svc.HandleSubscriptionEvent(context.Background(), ev2, rawJSON(t, ev2)))

	tenant, err := f.tenants.GetByEmail(context.Background(), "founder@acme.com")
	require.NoError(t, err)
	jobs, err := f.jobs.GetByTenantID(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2, "a new purchase means a new instance, not a collision")
	assert.NotEqual(t, jobs[0].ProjectSlug, jobs[1].ProjectSlug)
}

func TestCallbackRegistersInstanceIdempotently(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)
	ctx := context.Background()

	tenant, err := f.tenants.Upsert(ctx, &models.Tenant{Email: "founder@acme.com"})
	require.NoError(t, err)

	orgID := "org_1"
	cb := &models.ProvisionCallback{
		Email:       "founder@acme.com",
		InstanceURL: "https://acme.example.com",
		ProjectSlug: "startup-a1b2c3d4",
		OrgID:       &orgID,
		Plan:        "pro",
	}
	require.NoError(t, f.svc.HandleCallback(ctx, cb))
	require.NoError(t, f.svc.HandleCallback(ctx, cb), "replayed callback must be accepted")

	instances, err := f.instances.GetByTenantID(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, instances, 1, "same slug twice must yield one registry entry")
	assert.Equal(t, "https://acme.example.com", instances[0].InstanceURL)

	got, err := f.tenants.GetByEmail(ctx, "founder@acme.com")
	require.NoError(t, err)
	require.NotNil(t, got.OrgID)
	assert.Equal(t, "org_1", *got.OrgID)
}

func TestFailedDeliveryIsReprocessedOnRetry(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)
	ev := checkoutEvent("evt_1", "founder@acme.com")

	// first delivery dies before any job exists
	f.tenants.failUpsert = errors.New("connection refused")
	require.Error(t, f.svc.HandleSubscriptionEvent(context.Background(), ev, rawJSON(t, ev)))
	assert.Empty(t, f.dispatcher.payloads)

	// the provider redelivers the same event id after the 5xx
	f.tenants.failUpsert = nil
	require.NoError(t, f.svc.HandleSubscriptionEvent(context.Background(), ev, rawJSON(t, ev)))
	assert.Len(t, f.dispatcher.payloads, 1, "redelivery after a failure must be reprocessed, not deduplicated")
}

func TestCallbackFinishesExternalJob(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)
	ctx := context.Background()

	ev := checkoutEvent("evt_1", "founder@acme.com")
	require.NoError(t, f.svc.HandleSubscriptionEvent(ctx, ev, rawJSON(t, ev)))

	tenant, err := f.tenants.GetByEmail(ctx, "founder@acme.com")
	require.NoError(t, err)
	jobs, err := f.jobs.GetByTenantID(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusQueued, jobs[0].Status)

	require.NoError(t, f.svc.HandleCallback(ctx, &models.ProvisionCallback{
		Email:       "founder@acme.com",
		InstanceURL: "https://acme.example.com",
		ProjectSlug: jobs[0].ProjectSlug,
		Plan:        "pro",
	}))

	finished, err := f.jobs.GetByID(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, finished.Status, "an external run's callback must close out the job record")
	assert.NotNil(t, finished.FinishedAt)
}

func TestCallbackForUnknownTenantFails(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)
	err := f.svc.HandleCallback(context.Background(), &models.ProvisionCallback{
		Email:       "nobody@example.com",
		InstanceURL: "https://x.pages.dev",
		ProjectSlug: "startup-deadbeef",
		Plan:        "pro",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tenant")
}

func TestSubscriptionDeletedSuspendsOnlyThatTenant(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)
	ctx := context.Background()

	acme, _ := f.tenants.Upsert(ctx, &models.Tenant{Email: "founder@acme.com"})
	other, _ := f.tenants.Upsert(ctx, &models.Tenant{Email: "founder@other.com"})
	f.instances.UpsertBySlug(ctx, &models.Instance{TenantID: acme.ID, ProjectSlug: "startup-aaaa0000", InstanceURL: "https://a", Status: models.InstanceStatusActive})
	f.instances.UpsertBySlug(ctx, &models.Instance{TenantID: other.ID, ProjectSlug: "startup-bbbb0000", InstanceURL: "https://b", Status: models.InstanceStatusActive})

	ev := &models.SubscriptionEvent{ID: "evt_del", Type: "customer.subscription.deleted"}
	ev.Data.Object = models.SubscriptionObject{ID: "sub_1", CustomerEmail: "founder@acme.com"}
	require.NoError(t, f.svc.HandleSubscriptionEvent(ctx, ev, rawJSON(t, ev)))

	acmeInstances, _ := f.instances.GetByTenantID(ctx, acme.ID)
	require.Len(t, acmeInstances, 1)
	assert.Equal(t, models.InstanceStatusSuspended, acmeInstances[0].Status)

	otherInstances, _ := f.instances.GetByTenantID(ctx, other.ID)
	require.Len(t, otherInstances, 1)
	assert.Equal(t, models.InstanceStatusActive, otherInstances[0].Status, "other tenants must be untouched")

	got, _ := f.tenants.GetByEmail(ctx, "founder@acme.com")
	assert.Equal(t, models.SubscriptionCanceled, got.SubscriptionStatus)
}

func TestSubscriptionDeletedForUnknownTenantIsIgnored(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)
	ev := &models.SubscriptionEvent{ID: "evt_del", Type: "customer.subscription.deleted"}
	ev.Data.Object = models.SubscriptionObject{CustomerEmail: "ghost@example.com"}
	require.NoError(t, f.svc.HandleSubscriptionEvent(context.Background(), ev, rawJSON(t, ev)))
}

func TestSubscriptionUpdatedRefreshesStatus(t *testing.T) {
	f := newServiceFixture(config.DispatchExternal)
	ctx := context.Background()
	f.tenants.Upsert(ctx, &models.Tenant{Email: "founder@acme.com", SubscriptionStatus: "active"})

	ev := &models.SubscriptionEvent{ID: "evt_upd", Type: "customer.subscription.updated"}
	ev.Data.Object = models.SubscriptionObject{CustomerEmail: "founder@acme.com", Status: "past_due"}
	require.NoError(t, f.svc.HandleSubscriptionEvent(ctx, ev, rawJSON(t, ev)))

	got, _ := f.tenants.GetByEmail(ctx, "founder@acme.com")
	assert.Equal(t, "past_due", got.SubscriptionStatus)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
