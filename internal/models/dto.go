package models

// ==================== Inbound events ====================

// SubscriptionEvent is the payment provider's webhook payload, reduced to
// the fields provisioning needs.
type SubscriptionEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object SubscriptionObject `json:"object"`
	} `json:"data"`
}

// SubscriptionObject is the subscription inside an event envelope.
type SubscriptionObject struct {
	ID            string            `json:"id"`
	Customer      string            `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	Status        string            `json:"status"`
	Plan          string            `json:"plan,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ==================== Dispatch ====================

// DispatchPayload is the client_payload of the out-of-band provisioning job.
// It is the saga's entry point and must carry everything a detached runner
// needs, including the callback URL pointing back at this service.
type DispatchPayload struct {
	UserID           string `json:"userId"`
	Email            string `json:"email"`
	Name             string `json:"name,omitempty"`
	FirstName        string `json:"firstName,omitempty"`
	LastName         string `json:"lastName,omitempty"`
	OrganizationName string `json:"organizationName,omitempty"`
	SubdomainName    string `json:"subdomainName,omitempty"`
	Plan             string `json:"plan"`
	SubscriptionID   string `json:"subscriptionId"`
	CallbackURL      string `json:"callbackUrl"`
}

// ==================== Callback ====================

// ProvisionCallback is the saga's final result posted back to the registry.
type ProvisionCallback struct {
	Email          string  `json:"email" binding:"required"`
	InstanceURL    string  `json:"instanceUrl" binding:"required"`
	ProjectSlug    string  `json:"projectSlug" binding:"required"`
	Subdomain      *string `json:"subdomain,omitempty"`
	CustomDomain   *string `json:"customDomain,omitempty"`
	OrgID          *string `json:"orgId,omitempty"`
	IdentityUserID *string `json:"workosUserId,omitempty"`
	Plan           string  `json:"plan" binding:"required"`
}

// ==================== Responses ====================

// JobStatusResponse is the operator view of a provisioning job.
type JobStatusResponse struct {
	JobID          string  `json:"job_id"`
	TenantID       string  `json:"tenant_id"`
	Email          string  `json:"email"`
	SubscriptionID string  `json:"subscription_id"`
	Plan           string  `json:"plan"`
	ProjectSlug    string  `json:"project_slug"`
	Status         string  `json:"status"`
	LastStep       *string `json:"last_step,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
	CreatedAt      string  `json:"created_at"`
	StartedAt      *string `json:"started_at,omitempty"`
	FinishedAt     *string `json:"finished_at,omitempty"`
}

// InstanceResponse is the API view of a provisioned instance.
type InstanceResponse struct {
	InstanceURL  string  `json:"instance_url"`
	ProjectSlug  string  `json:"project_slug"`
	Subdomain    *string `json:"subdomain,omitempty"`
	CustomDomain *string `json:"custom_domain,omitempty"`
	OrgID        *string `json:"org_id,omitempty"`
	Plan         string  `json:"plan"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
}

// TenantInstancesResponse groups a tenant's instances for the status APIs.
type TenantInstancesResponse struct {
	Email              string             `json:"email"`
	SubscriptionStatus string             `json:"subscription_status"`
	Plan               string             `json:"plan,omitempty"`
	Instances          []InstanceResponse `json:"instances"`
}
