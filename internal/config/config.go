package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the SnowGate server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Gateway   GatewayConfig
	Vault     VaultConfig
	OAuthApps map[string]OAuthAppConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AuthConfig controls tenant resolution. TenantCacheTTL is deliberately
// short: a suspended customer must be locked out within seconds, not minutes.
type AuthConfig struct {
	TenantCacheTTL time.Duration
}

// RateLimitConfig holds the per-plan calls-per-window limits.
type RateLimitConfig struct {
	Window     time.Duration
	PlanLimits map[string]int
}

type GatewayConfig struct {
	ExecutionTimeout time.Duration
}

// VaultConfig controls the credential vault. StateSecret signs the OAuth
// state parameter; MasterPassphrase and MasterSalt derive the at-rest token
// encryption key.
type VaultConfig struct {
	StateSecret      string
	StateTTL         time.Duration
	ExpirySkew       time.Duration
	MasterPassphrase string
	MasterSalt       string
}

// OAuthAppConfig is the process-wide application registration for one
// external service. AuthorizeURL and TokenURL may contain a {base_url}
// placeholder expanded with the tenant's instance URL at call time.
type OAuthAppConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthorizeURL string
	TokenURL     string
	Scopes       string
}

// Configured reports whether the app registration is usable.
func (a OAuthAppConfig) Configured() bool {
	return a.ClientID != "" && a.ClientSecret != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SNOWGATE_PORT", 8080),
			Env:  envString("SNOWGATE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			TenantCacheTTL: envDuration("TENANT_CACHE_TTL", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Window: envDuration("RATE_LIMIT_WINDOW", time.Minute),
			PlanLimits: map[string]int{
				"standard":     envInt("RATE_LIMIT_STANDARD", 100),
				"professional": envInt("RATE_LIMIT_PROFESSIONAL", 300),
				"enterprise":   envInt("RATE_LIMIT_ENTERPRISE", 1000),
			},
		},
		Gateway: GatewayConfig{
			ExecutionTimeout: envDurationSecs("EXECUTION_TIMEOUT_SECS", 120*time.Second),
		},
		Vault: VaultConfig{
			StateSecret:      os.Getenv("OAUTH_STATE_SECRET"),
			StateTTL:         envDuration("OAUTH_STATE_TTL", 10*time.Minute),
			ExpirySkew:       envDurationSecs("TOKEN_EXPIRY_SKEW_SECS", 60*time.Second),
			MasterPassphrase: os.Getenv("VAULT_MASTER_PASSPHRASE"),
			MasterSalt:       os.Getenv("VAULT_MASTER_SALT"),
		},
		OAuthApps: map[string]OAuthAppConfig{
			"jira": {
				ClientID:     os.Getenv("JIRA_CLIENT_ID"),
				ClientSecret: os.Getenv("JIRA_CLIENT_SECRET"),
				RedirectURL:  os.Getenv("JIRA_REDIRECT_URL"),
				AuthorizeURL: envString("JIRA_AUTHORIZE_URL", "https://auth.atlassian.com/authorize"),
				TokenURL:     envString("JIRA_TOKEN_URL", "https://auth.atlassian.com/oauth/token"),
				Scopes:       envString("JIRA_SCOPES", "read:jira-work write:jira-work offline_access"),
			},
			"confluence": {
				ClientID:     os.Getenv("CONFLUENCE_CLIENT_ID"),
				ClientSecret: os.Getenv("CONFLUENCE_CLIENT_SECRET"),
				RedirectURL:  os.Getenv("CONFLUENCE_REDIRECT_URL"),
				AuthorizeURL: envString("CONFLUENCE_AUTHORIZE_URL", "https://auth.atlassian.com/authorize"),
				TokenURL:     envString("CONFLUENCE_TOKEN_URL", "https://auth.atlassian.com/oauth/token"),
				Scopes:       envString("CONFLUENCE_SCOPES", "read:confluence-content.all offline_access"),
			},
			"azure": {
				ClientID:     os.Getenv("AZURE_CLIENT_ID"),
				ClientSecret: os.Getenv("AZURE_CLIENT_SECRET"),
				RedirectURL:  os.Getenv("AZURE_REDIRECT_URL"),
				AuthorizeURL: envString("AZURE_AUTHORIZE_URL", "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"),
				TokenURL:     envString("AZURE_TOKEN_URL", "https://login.microsoftonline.com/common/oauth2/v2.0/token"),
				Scopes:       envString("AZURE_SCOPES", "https://graph.microsoft.com/.default offline_access"),
			},
			"servicenow": {
				ClientID:     os.Getenv("SERVICENOW_CLIENT_ID"),
				ClientSecret: os.Getenv("SERVICENOW_CLIENT_SECRET"),
				RedirectURL:  os.Getenv("SERVICENOW_REDIRECT_URL"),
				AuthorizeURL: envString("SERVICENOW_AUTHORIZE_URL", "{base_url}/oauth_auth.do"),
				TokenURL:     envString("SERVICENOW_TOKEN_URL", "{base_url}/oauth_token.do"),
				Scopes:       envString("SERVICENOW_SCOPES", "useraccount"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Vault.StateSecret == "" {
		return fmt.Errorf("OAUTH_STATE_SECRET is required")
	}
	if len(c.Vault.StateSecret) < 32 {
		return fmt.Errorf("OAUTH_STATE_SECRET must be at least 32 bytes, got %d", len(c.Vault.StateSecret))
	}

	if c.Vault.MasterPassphrase == "" {
		return fmt.Errorf("VAULT_MASTER_PASSPHRASE is required")
	}
	if c.Vault.MasterSalt == "" {
		return fmt.Errorf("VAULT_MASTER_SALT is required")
	}

	if c.Auth.TenantCacheTTL < 0 || c.Auth.TenantCacheTTL > time.Minute {
		return fmt.Errorf("TENANT_CACHE_TTL must be between 0 and 1m, got %s", c.Auth.TenantCacheTTL)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimit.Window)
	}
	for plan, limit := range c.RateLimit.PlanLimits {
		if limit <= 0 {
			return fmt.Errorf("rate limit for plan %q must be positive, got %d", plan, limit)
		}
	}

	if c.Gateway.ExecutionTimeout <= 0 {
		return fmt.Errorf("EXECUTION_TIMEOUT_SECS must be positive")
	}

	for service, app := range c.OAuthApps {
		if app.Configured() && app.RedirectURL == "" {
			return fmt.Errorf("%s OAuth app is missing its redirect URL", strings.ToUpper(service))
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
