package models

import (
	"time"
)

// Instance status constants. An instance is registered as "provisioning",
// becomes "active" once its hosting endpoint is known, and "suspended" is
// terminal (reachable only from "active").
const (
	InstanceStatusProvisioning = "provisioning"
	InstanceStatusActive       = "active"
	InstanceStatusSuspended    = "suspended"
)

// Tenant subscription status constants (mirrors the payment provider).
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Tenant is one customer account and the system of record for its
// provisioned instances.
type Tenant struct {
	ID                 string
	Email              string
	Name               string
	FirstName          string
	LastName           string
	OrganizationName   string
	SubdomainName      string
	PaymentCustomerID  string
	SubscriptionID     *string
	SubscriptionStatus string
	Plan               string
	OrgID              *string
	IdentityUserID     *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Instance is one provisioned stack belonging to a tenant. project_slug is
// the idempotency key across all control planes: registering the same slug
// twice updates the existing row instead of appending a duplicate.
type Instance struct {
	ID             string
	TenantID       string
	InstanceURL    string
	ProjectSlug    string
	Subdomain      *string
	CustomDomain   *string
	OrgID          *string
	IdentityUserID *string
	Plan           string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SuspendedAt    *time.Time
}

// Identity is a two-phase identity-provider reference. A pending identity
// carries only an email and is reconciled by the provider on first real
// login; a resolved one carries the provider's user id.
type Identity struct {
	Email      string
	ResolvedID string
}

// Resolved reports whether the identity provider has a real user record.
func (i Identity) Resolved() bool {
	return i.ResolvedID != ""
}

// WireID returns the id written to external systems. Unresolved identities
// keep the placeholder convention the identity provider reconciles by email.
func (i Identity) WireID() string {
	if i.Resolved() {
		return i.ResolvedID
	}
	return "pending-" + SanitizeEmail(i.Email)
}

// SanitizeEmail lowers an email and folds characters that are unsafe in an
// external identifier.
func SanitizeEmail(email string) string {
	out := make([]byte, 0, len(email))
	for i := 0; i < len(email); i++ {
		c := email[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
