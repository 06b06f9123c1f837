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

type InstanceRepository struct {
	pool *pgxpool.Pool
}

func NewInstanceRepository(pool *pgxpool.Pool) *InstanceRepository {
	return &InstanceRepository{pool: pool}
}

const instanceColumns = `
	id, tenant_id, instance_url, project_slug, subdomain, custom_domain,
	org_id, identity_user_id, plan, status, created_at, updated_at, suspended_at`

// UpsertBySlug registers an instance idempotently: the same project_slug
// updates the existing row instead of appending a duplicate, so a retried
// saga run converges on one registry entry. instance_url is set once and
// never overwritten afterwards.
func (r *InstanceRepository) UpsertBySlug(ctx context.Context, inst *models.Instance) (*models.Instance, error) {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}

	query := `
		INSERT INTO provisioner.instances (
			id, tenant_id, instance_url, project_slug, subdomain, custom_domain,
			org_id, identity_user_id, plan, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_slug) DO UPDATE SET
			subdomain = COALESCE(EXCLUDED.subdomain, provisioner.instances.subdomain),
			custom_domain = COALESCE(EXCLUDED.custom_domain, provisioner.instances.custom_domain),
			org_id = COALESCE(EXCLUDED.org_id, provisioner.instances.org_id),
			identity_user_id = COALESCE(EXCLUDED.identity_user_id, provisioner.instances.identity_user_id),
			plan = EXCLUDED.plan,
			status = CASE
				WHEN provisioner.instances.status = 'suspended' THEN provisioner.instances.status
				ELSE EXCLUDED.status
			END,
			updated_at = now()
		RETURNING ` + instanceColumns

	row := r.pool.QueryRow(ctx, query,
		inst.ID, inst.TenantID, inst.InstanceURL, inst.ProjectSlug, inst.Subdomain, inst.CustomDomain,
		inst.OrgID, inst.IdentityUserID, inst.Plan, inst.Status,
	)
	return r.scanInstance(row)
}

// GetBySlug retrieves an instance by its project slug.
func (r *InstanceRepository) GetBySlug(ctx context.Context, slug string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM provisioner.instances WHERE project_slug = $1`
	return r.scanInstance(r.pool.QueryRow(ctx, query, slug))
}

// GetByTenantID lists a tenant's instances in registration order.
func (r *InstanceRepository) GetByTenantID(ctx context.Context, tenantID string) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM provisioner.instances
		WHERE tenant_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// SuspendActiveByTenant flips a tenant's active instances to suspended.
// Suspended is terminal and only reachable from active, so rows in other
// states are left untouched. Returns the number of instances suspended.
func (r *InstanceRepository) SuspendActiveByTenant(ctx context.Context, tenantID string) (int64, error) {
	query := `
		UPDATE provisioner.instances
		SET status = 'suspended', suspended_at = now(), updated_at = now()
		WHERE tenant_id = $1 AND status = 'active'`

	tag, err := r.pool.Exec(ctx, query, tenantID)
	if err != nil {
		return 0, fmt.Errorf("suspend instances: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListSuspendedBefore returns suspended instances whose suspension happened
// before the cutoff. Used by the teardown reaper.
func (r *InstanceRepository) ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM provisioner.instances
		WHERE status = 'suspended' AND suspended_at IS NOT NULL AND suspended_at < $1
		ORDER BY suspended_at ASC`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query suspended instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// Delete removes an instance row after its external resources are torn down.
func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM provisioner.instances WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}

func (r *InstanceRepository) scanInstance(row pgx.Row) (*models.Instance, error) {
	inst := &models.Instance{}
	err := row.Scan(
		&inst.ID, &inst.TenantID, &inst.InstanceURL, &inst.ProjectSlug, &inst.Subdomain, &inst.CustomDomain,
		&inst.OrgID, &inst.IdentityUserID, &inst.Plan, &inst.Status,
		&inst.CreatedAt, &inst.UpdatedAt, &inst.SuspendedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	return inst, nil
}

func (r *InstanceRepository) scanInstances(rows pgx.Rows) ([]*models.Instance, error) {
	var instances []*models.Instance
	for rows.Next() {
		inst := &models.Instance{}
		err := rows.Scan(
			&inst.ID, &inst.TenantID, &inst.InstanceURL, &inst.ProjectSlug, &inst.Subdomain, &inst.CustomDomain,
			&inst.OrgID, &inst.IdentityUserID, &inst.Plan, &inst.Status,
			&inst.CreatedAt, &inst.UpdatedAt, &inst.SuspendedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan instance row: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}
