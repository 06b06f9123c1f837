package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"internal-service-secret":              true,
	"":                                     true,
}

// Deprovision policy constants. "retain" keeps external resources running
// after suspension; "teardown" deletes them once the grace period elapses.
const (
	DeprovisionRetain   = "retain"
	DeprovisionTeardown = "teardown"
)

// Dispatch mode constants. "local" runs the saga in-process; "external"
// fires a repository-dispatch job and waits for the callback.
const (
	DispatchLocal    = "local"
	DispatchExternal = "external"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	Backend        BackendConfig
	Hosting        HostingConfig
	DNS            DNSConfig
	Identity       IdentityConfig
	Payment        PaymentConfig
	Dispatch       DispatchConfig
	Saga           SagaConfig
	Deprovision    DeprovisionConfig
	InternalSecret string
}

type ServerConfig struct {
	Port        string
	Mode        string
	CallbackURL string // externally reachable base URL for /provisioning-callback
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

// BackendConfig points at the backend-platform control plane (per-tenant
// backend project and deployment management).
type BackendConfig struct {
	APIURL      string
	TeamID      string
	AccessToken string
	EnvVars     map[string]string // propagated into every tenant backend
}

// HostingConfig points at the static-site hosting control plane.
type HostingConfig struct {
	APIURL      string
	AccountID   string
	APIToken    string
	SiteSuffix  string // e.g. "pages.dev", derives the platform-default site URL
}

// DNSConfig points at the DNS/CDN control plane. An empty BaseDomain
// disables custom-domain binding for all runs.
type DNSConfig struct {
	APIURL     string
	APIToken   string
	BaseDomain string
}

// IdentityConfig points at the identity-provider control plane.
type IdentityConfig struct {
	APIURL   string
	APIKey   string
	ClientID string
}

// PaymentConfig covers both the inbound event webhook and the per-tenant
// webhook-endpoint registration.
type PaymentConfig struct {
	APIURL        string
	SecretKey     string
	WebhookSecret string   // verifies inbound /subscription-events signatures
	EnabledEvents []string // events registered on each tenant webhook endpoint
}

// DispatchConfig selects how provisioning runs are executed.
type DispatchConfig struct {
	Mode      string
	APIURL    string // repository-dispatch style API (external mode)
	Token     string
	Owner     string
	Repo      string
	EventType string
}

// SagaConfig bounds one provisioning run.
type SagaConfig struct {
	StepTimeout time.Duration
	JobTimeout  time.Duration
	SlugPrefix  string
}

// DeprovisionConfig makes teardown-on-cancellation an explicit policy
// instead of an implicit behavior.
type DeprovisionConfig struct {
	Policy      string
	GracePeriod time.Duration
	CronSpec    string
}

func Load() *Config {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8006"),
			Mode:        getEnv("GIN_MODE", "release"),
			CallbackURL: getEnv("CALLBACK_BASE_URL", "http://localhost:8006"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "saas_user"),
			Password: getEnv("DB_PASSWORD", "saas_pass"),
			DBName:   getEnv("DB_NAME", "saas_db"),
			Schema:   getEnv("DB_SCHEMA", "provisioner"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Backend: BackendConfig{
			APIURL:      getEnv("BACKEND_API_URL", "https://api.convex.dev"),
			TeamID:      getEnv("BACKEND_TEAM_ID", ""),
			AccessToken: getEnv("BACKEND_TEAM_ACCESS_TOKEN", ""),
			EnvVars:     envMap("BACKEND_ENV_"),
		},
		Hosting: HostingConfig{
			APIURL:     getEnv("HOSTING_API_URL", "https://api.cloudflare.com/client/v4"),
			AccountID:  getEnv("HOSTING_ACCOUNT_ID", ""),
			APIToken:   getEnv("HOSTING_API_TOKEN", ""),
			SiteSuffix: getEnv("HOSTING_SITE_SUFFIX", "pages.dev"),
		},
		DNS: DNSConfig{
			APIURL:     getEnv("DNS_API_URL", "https://api.cloudflare.com/client/v4"),
			APIToken:   getEnv("DNS_API_TOKEN", ""),
			BaseDomain: getEnv("DNS_BASE_DOMAIN", ""),
		},
		Identity: IdentityConfig{
			APIURL:   getEnv("IDENTITY_API_URL", "https://api.workos.com"),
			APIKey:   getEnv("IDENTITY_API_KEY", ""),
			ClientID: getEnv("IDENTITY_CLIENT_ID", ""),
		},
		Payment: PaymentConfig{
			APIURL:        getEnv("PAYMENT_API_URL", "https://api.stripe.com/v1"),
			SecretKey:     getEnv("PAYMENT_SECRET_KEY", ""),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			EnabledEvents: splitList(getEnv("PAYMENT_ENABLED_EVENTS",
				"checkout.session.completed,customer.subscription.created,customer.subscription.updated,customer.subscription.deleted,invoice.payment_succeeded")),
		},
		Dispatch: DispatchConfig{
			Mode:      getEnv("DISPATCH_MODE", DispatchLocal),
			APIURL:    getEnv("DISPATCH_API_URL", "https://api.github.com"),
			Token:     getEnv("DISPATCH_TOKEN", ""),
			Owner:     getEnv("DISPATCH_OWNER", ""),
			Repo:      getEnv("DISPATCH_REPO", ""),
			EventType: getEnv("DISPATCH_EVENT_TYPE", "provision_backend"),
		},
		Saga: SagaConfig{
			StepTimeout: getEnvDuration("SAGA_STEP_TIMEOUT", 30*time.Second),
			JobTimeout:  getEnvDuration("SAGA_JOB_TIMEOUT", 10*time.Minute),
			SlugPrefix:  getEnv("SAGA_SLUG_PREFIX", "startup"),
		},
		Deprovision: DeprovisionConfig{
			Policy:      getEnv("DEPROVISION_POLICY", DeprovisionRetain),
			GracePeriod: getEnvDuration("DEPROVISION_GRACE_PERIOD", 720*time.Hour),
			CronSpec:    getEnv("DEPROVISION_CRON", "@hourly"),
		},
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// 日志脱敏: 不记录敏感配置
	log.Printf("[config] Provisioner Service loaded: port=%s db=%s/%s.%s dispatch=%s policy=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema,
		cfg.Dispatch.Mode, cfg.Deprovision.Policy)

	return cfg
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	// Control-plane credentials are checked up front: a missing credential is
	// a configuration error, aborted before any network call and never retried.
	if c.Backend.TeamID == "" || c.Backend.AccessToken == "" {
		return fmt.Errorf("BACKEND_TEAM_ID and BACKEND_TEAM_ACCESS_TOKEN are required")
	}
	if c.Hosting.AccountID == "" || c.Hosting.APIToken == "" {
		return fmt.Errorf("HOSTING_ACCOUNT_ID and HOSTING_API_TOKEN are required")
	}
	if c.Identity.APIKey == "" {
		return fmt.Errorf("IDENTITY_API_KEY is required")
	}
	if c.Payment.SecretKey == "" {
		return fmt.Errorf("PAYMENT_SECRET_KEY is required")
	}
	// Without the webhook secret every inbound event would be accepted
	// unverified, so an empty value is a startup error, not a soft mode.
	if c.Payment.WebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}
	if c.DNS.BaseDomain != "" && c.DNS.APIToken == "" {
		return fmt.Errorf("DNS_API_TOKEN is required when DNS_BASE_DOMAIN is set")
	}

	switch c.Dispatch.Mode {
	case DispatchLocal:
	case DispatchExternal:
		if c.Dispatch.Token == "" || c.Dispatch.Owner == "" || c.Dispatch.Repo == "" {
			return fmt.Errorf("DISPATCH_TOKEN, DISPATCH_OWNER and DISPATCH_REPO are required in external dispatch mode")
		}
	default:
		return fmt.Errorf("DISPATCH_MODE must be %q or %q", DispatchLocal, DispatchExternal)
	}

	switch c.Deprovision.Policy {
	case DeprovisionRetain, DeprovisionTeardown:
	default:
		return fmt.Errorf("DEPROVISION_POLICY must be %q or %q", DeprovisionRetain, DeprovisionTeardown)
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envMap collects every environment variable with the given prefix into a
// map keyed by the unprefixed name.
func envMap(prefix string) map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			out[strings.TrimPrefix(key, prefix)] = value
		}
	}
	return out
}
