package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `
	id, tenant_id, email, subscription_id, plan, project_slug, status,
	last_step, error_message, created_at, updated_at, started_at, finished_at`

// Create inserts a queued job. This row is the durable record that a
// provisioning run should occur, written synchronously by the event handler.
func (r *JobRepository) Create(ctx context.Context, job *models.ProvisionJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	query := `
		INSERT INTO provisioner.provision_jobs (
			id, tenant_id, email, subscription_id, plan, project_slug, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.TenantID, job.Email, job.SubscriptionID, job.Plan, job.ProjectSlug, job.Status,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by id.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.ProvisionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM provisioner.provision_jobs WHERE id = $1`
	return r.scanJob(r.pool.QueryRow(ctx, query, id))
}

// GetBySlug retrieves the job owning a project slug.
func (r *JobRepository) GetBySlug(ctx context.Context, slug string) (*models.ProvisionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM provisioner.provision_jobs WHERE project_slug = $1`
	return r.scanJob(r.pool.QueryRow(ctx, query, slug))
}

// GetByTenantID lists a tenant's jobs, newest first.
func (r *JobRepository) GetByTenantID(ctx context.Context, tenantID string) ([]*models.ProvisionJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM provisioner.provision_jobs
		WHERE tenant_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ProvisionJob
	for rows.Next() {
		job, err := r.scanJobValues(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkRunning flips a job to running and stamps the start time.
func (r *JobRepository) MarkRunning(ctx context.Context, id string) error {
	query := `
		UPDATE provisioner.provision_jobs
		SET status = $1, started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id = $2`
	if _, err := r.pool.Exec(ctx, query, models.JobStatusRunning, id); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// SetLastStep records run progress for operator queries.
func (r *JobRepository) SetLastStep(ctx context.Context, id, step string) error {
	query := `UPDATE provisioner.provision_jobs SET last_step = $1, updated_at = now() WHERE id = $2`
	if _, err := r.pool.Exec(ctx, query, step, id); err != nil {
		return fmt.Errorf("set last step: %w", err)
	}
	return nil
}

// Finish stamps the terminal status. errorMsg is nil on success.
func (r *JobRepository) Finish(ctx context.Context, id, status string, errorMsg *string) error {
	query := `
		UPDATE provisioner.provision_jobs
		SET status = $1, error_message = $2, finished_at = now(), updated_at = now()
		WHERE id = $3`
	if _, err := r.pool.Exec(ctx, query, status, errorMsg, id); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

func (r *JobRepository) scanJob(row pgx.Row) (*models.ProvisionJob, error) {
	job := &models.ProvisionJob{}
	err := row.Scan(
		&job.ID, &job.TenantID, &job.Email, &job.SubscriptionID, &job.Plan, &job.ProjectSlug, &job.Status,
		&job.LastStep, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) scanJobValues(rows pgx.Rows) (*models.ProvisionJob, error) {
	job := &models.ProvisionJob{}
	err := rows.Scan(
		&job.ID, &job.TenantID, &job.Email, &job.SubscriptionID, &job.Plan, &job.ProjectSlug, &job.Status,
		&job.LastStep, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}
	return job, nil
}

// AcquireTenantLock takes the per-tenant advisory lock that serializes saga
// executions for one customer. Returns false when another run holds it,
// which is how duplicate webhook deliveries are prevented from racing.
func (r *JobRepository) AcquireTenantLock(ctx context.Context, tenantID string) (bool, func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("acquire connection: %w", err)
	}

	key := lockKey(tenantID)
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return false, nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return false, nil, nil
	}

	release := func() {
		// best effort; closing the connection also drops the lock
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return true, release, nil
}

// lockKey hashes a tenant id into the bigint space advisory locks use
// (FNV-1a, stable across processes).
func lockKey(tenantID string) int64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(tenantID); i++ {
		h ^= uint64(tenantID[i])
		h *= prime64
	}
	return int64(h)
}
