package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
)

var ErrNotFound = errors.New("not found")

type TenantRepository struct {
	pool *pgxpool.Pool
}

func NewTenantRepository(pool *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

const tenantColumns = `
	id, email, name, first_name, last_name, organization_name, subdomain_name,
	payment_customer_id, subscription_id, subscription_status, plan,
	org_id, identity_user_id, created_at, updated_at`

// Upsert creates the tenant on first contact with the payment provider and
// refreshes subscription fields on every subsequent event, keyed by email.
func (r *TenantRepository) Upsert(ctx context.Context, t *models.Tenant) (*models.Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	query := `
		INSERT INTO provisioner.tenants (
			id, email, name, first_name, last_name, organization_name, subdomain_name,
			payment_customer_id, subscription_id, subscription_status, plan
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), provisioner.tenants.name),
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), provisioner.tenants.first_name),
			last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), provisioner.tenants.last_name),
			organization_name = COALESCE(NULLIF(EXCLUDED.organization_name, ''), provisioner.tenants.organization_name),
			subdomain_name = COALESCE(NULLIF(EXCLUDED.subdomain_name, ''), provisioner.tenants.subdomain_name),
			payment_customer_id = COALESCE(NULLIF(EXCLUDED.payment_customer_id, ''), provisioner.tenants.payment_customer_id),
			subscription_id = COALESCE(EXCLUDED.subscription_id, provisioner.tenants.subscription_id),
			subscription_status = EXCLUDED.subscription_status,
			plan = COALESCE(NULLIF(EXCLUDED.plan, ''), provisioner.tenants.plan),
			updated_at = now()
		RETURNING ` + tenantColumns

	row := r.pool.QueryRow(ctx, query,
		t.ID, t.Email, t.Name, t.FirstName, t.LastName, t.OrganizationName, t.SubdomainName,
		t.PaymentCustomerID, t.SubscriptionID, t.SubscriptionStatus, t.Plan,
	)
	return r.scanTenant(row)
}

// GetByEmail retrieves a tenant by email.
func (r *TenantRepository) GetByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM provisioner.tenants WHERE email = $1`
	return r.scanTenant(r.pool.QueryRow(ctx, query, email))
}

// GetByID retrieves a tenant by id.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM provisioner.tenants WHERE id = $1`
	return r.scanTenant(r.pool.QueryRow(ctx, query, id))
}

// UpdateSubscriptionStatus refreshes the subscription fields only.
func (r *TenantRepository) UpdateSubscriptionStatus(ctx context.Context, id, status string) error {
	query := `UPDATE provisioner.tenants SET subscription_status = $1, updated_at = now() WHERE id = $2`
	if _, err := r.pool.Exec(ctx, query, status, id); err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	return nil
}

// SetIdentity records the identity-provider ids once the saga resolves them.
func (r *TenantRepository) SetIdentity(ctx context.Context, id string, orgID, identityUserID *string) error {
	query := `
		UPDATE provisioner.tenants SET
			org_id = COALESCE($1, org_id),
			identity_user_id = COALESCE($2, identity_user_id),
			updated_at = now()
		WHERE id = $3`
	if _, err := r.pool.Exec(ctx, query, orgID, identityUserID, id); err != nil {
		return fmt.Errorf("set identity: %w", err)
	}
	return nil
}

func (r *TenantRepository) scanTenant(row pgx.Row) (*models.Tenant, error) {
	t := &models.Tenant{}
	err := row.Scan(
		&t.ID, &t.Email, &t.Name, &t.FirstName, &t.LastName, &t.OrganizationName, &t.SubdomainName,
		&t.PaymentCustomerID, &t.SubscriptionID, &t.SubscriptionStatus, &t.Plan,
		&t.OrgID, &t.IdentityUserID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	return t, nil
}
