// Package config loads and validates the docshield configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the DOCSHIELD_ prefix (for example
// DOCSHIELD_DATABASE_HOST overrides database.host in the YAML).
//
// The ENCRYPTION_KEY variable has no prefix because it is usually injected by
// infrastructure tooling (Kubernetes secrets, Vault agent) under a generic
// secret name. It is read directly by the content store, not through Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "DOCSHIELD"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Preview   PreviewConfig   `mapstructure:"preview"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// StoreTimeout bounds every database and blob call made while serving a request.
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig configures the shared rate-limit store. When disabled the
// preview endpoint falls back to a per-process token bucket.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig selects and configures the blob backend for preview bodies
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	// ServiceURL overrides https://<account>.blob.core.windows.net (Azurite, sovereign clouds).
	ServiceURL string `mapstructure:"service_url"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is an S3-compatible endpoint (MinIO, Ceph RGW). Empty means AWS.
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is one of "default", "static", "oidc", "assume_role".
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN              string `mapstructure:"role_arn"`
	RoleSessionName      string `mapstructure:"role_session_name"`
	ExternalID           string `mapstructure:"external_id"`
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`

	// ServerSideEncryption is passed through on PutObject ("AES256", "aws:kms" or empty).
	ServerSideEncryption string `mapstructure:"server_side_encryption"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`
	// AuthMethod is one of "default", "service_account", "workload_identity", "none".
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Endpoint        string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// PolicyConfig overrides the per-sensitivity preview policy table.
type PolicyConfig struct {
	Normal       SensitivityPolicyConfig `mapstructure:"normal"`
	Confidential SensitivityPolicyConfig `mapstructure:"confidential"`
	Embargoed    SensitivityPolicyConfig `mapstructure:"embargoed"`
}

// SensitivityPolicyConfig is one row of the policy table. MaxViews of 0 means unlimited.
type SensitivityPolicyConfig struct {
	Expiry             time.Duration `mapstructure:"expiry"`
	MaxViews           int           `mapstructure:"max_views"`
	IPRestriction      string        `mapstructure:"ip_restriction"`
	EncryptionRequired bool          `mapstructure:"encryption_required"`
	RequiresApproval   bool          `mapstructure:"requires_approval"`
}

// AuditConfig holds audit log write-path configuration
type AuditConfig struct {
	Retry        AuditRetryConfig `mapstructure:"retry"`
	WriteTimeout time.Duration    `mapstructure:"write_timeout"`
	// DeadLetter receives entries that could not be persisted after all retries.
	DeadLetter AuditFileConfig `mapstructure:"dead_letter"`
	// Forwarder ships every committed entry to an external collector (SIEM).
	Forwarder AuditWebhookConfig `mapstructure:"forwarder"`
	Verify    AuditVerifyConfig  `mapstructure:"verify"`
}

// AuditRetryConfig bounds the exponential backoff used for audit writes
type AuditRetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// AuditFileConfig holds JSON-lines file sink configuration
type AuditFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// AuditWebhookConfig holds webhook forwarder configuration
type AuditWebhookConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval"`
	// FailureThreshold consecutive failed batches open the circuit for OpenTimeout.
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// AuditVerifyConfig configures the scheduled integrity verification job
type AuditVerifyConfig struct {
	// Interval between runs; 0 disables the job.
	Interval time.Duration `mapstructure:"interval"`
	// Window limits each scheduled run to entries newer than now-Window; 0 scans everything.
	Window   time.Duration `mapstructure:"window"`
	PageSize int           `mapstructure:"page_size"`
}

// PreviewConfig holds public preview endpoint configuration
type PreviewConfig struct {
	TokenPrefix string                 `mapstructure:"token_prefix"`
	RateLimit   PreviewRateLimitConfig `mapstructure:"rate_limit"`
}

// PreviewRateLimitConfig limits preview fetches per client IP
type PreviewRateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
	TLS  TLSConfig  `mapstructure:"tls"`
	// TrustedProxies lists the proxy IPs/CIDRs whose X-Forwarded-For is
	// believed. Empty means the connection's remote address is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv alone does not reach nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",
		"server.store_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.enabled",
		"redis.address",
		"redis.password",
		"redis.db",

		// Storage
		"storage.default_backend",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.azure.service_url",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.role_arn",
		"storage.s3.role_session_name",
		"storage.s3.external_id",
		"storage.s3.web_identity_token_file",
		"storage.s3.server_side_encryption",
		"storage.gcs.bucket",
		"storage.gcs.project_id",
		"storage.gcs.auth_method",
		"storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.gcs.endpoint",
		"storage.local.base_path",

		// Audit
		"audit.retry.max_attempts",
		"audit.retry.initial_interval",
		"audit.retry.max_interval",
		"audit.write_timeout",
		"audit.dead_letter.enabled",
		"audit.dead_letter.path",
		"audit.dead_letter.max_size_mb",
		"audit.dead_letter.max_backups",
		"audit.forwarder.enabled",
		"audit.forwarder.url",
		"audit.forwarder.timeout",
		"audit.forwarder.batch_size",
		"audit.forwarder.flush_interval",
		"audit.forwarder.failure_threshold",
		"audit.forwarder.open_timeout",
		"audit.verify.interval",
		"audit.verify.window",
		"audit.verify.page_size",

		// Preview
		"preview.token_prefix",
		"preview.rate_limit.enabled",
		"preview.rate_limit.requests_per_minute",
		"preview.rate_limit.burst",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",
		"security.trusted_proxies",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, level := range []string{"normal", "confidential", "embargoed"} {
		for _, field := range []string{"expiry", "max_views", "ip_restriction", "encryption_required", "requires_approval"} {
			keys = append(keys, "policy."+level+"."+field)
		}
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// newViper builds a Viper instance with defaults, the config file (if any) and
// environment bindings applied, but does not decode it.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/docshield")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment only.
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

// decode unmarshals, expands secrets and validates.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.GCS.CredentialsJSON = expandEnv(cfg.Storage.GCS.CredentialsJSON)
	for k, val := range cfg.Audit.Forwarder.Headers {
		cfg.Audit.Forwarder.Headers[k] = expandEnv(val)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.store_timeout", "5s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "docshield")
	v.SetDefault("database.user", "docshield")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.s3.auth_method", "default")
	v.SetDefault("storage.s3.server_side_encryption", "AES256")
	v.SetDefault("storage.gcs.auth_method", "default")

	// Policy defaults match policy.DefaultTable
	v.SetDefault("policy.normal.expiry", "168h")
	v.SetDefault("policy.normal.max_views", 0)
	v.SetDefault("policy.normal.ip_restriction", "optional")
	v.SetDefault("policy.normal.encryption_required", false)
	v.SetDefault("policy.normal.requires_approval", false)
	v.SetDefault("policy.confidential.expiry", "24h")
	v.SetDefault("policy.confidential.max_views", 10)
	v.SetDefault("policy.confidential.ip_restriction", "recommended")
	v.SetDefault("policy.confidential.encryption_required", true)
	v.SetDefault("policy.confidential.requires_approval", true)
	v.SetDefault("policy.embargoed.expiry", "4h")
	v.SetDefault("policy.embargoed.max_views", 3)
	v.SetDefault("policy.embargoed.ip_restriction", "required")
	v.SetDefault("policy.embargoed.encryption_required", true)
	v.SetDefault("policy.embargoed.requires_approval", true)

	// Audit defaults
	v.SetDefault("audit.retry.max_attempts", 3)
	v.SetDefault("audit.retry.initial_interval", "100ms")
	v.SetDefault("audit.retry.max_interval", "2s")
	v.SetDefault("audit.write_timeout", "10s")
	v.SetDefault("audit.dead_letter.enabled", false)
	v.SetDefault("audit.dead_letter.path", "./audit-dead-letter.jsonl")
	v.SetDefault("audit.dead_letter.max_size_mb", 100)
	v.SetDefault("audit.dead_letter.max_backups", 5)
	v.SetDefault("audit.forwarder.enabled", false)
	v.SetDefault("audit.forwarder.timeout", "10s")
	v.SetDefault("audit.forwarder.batch_size", 50)
	v.SetDefault("audit.forwarder.flush_interval", "5s")
	v.SetDefault("audit.forwarder.failure_threshold", 5)
	v.SetDefault("audit.forwarder.open_timeout", "30s")
	v.SetDefault("audit.verify.interval", "24h")
	v.SetDefault("audit.verify.window", "0s")
	v.SetDefault("audit.verify.page_size", 500)

	// Preview defaults
	v.SetDefault("preview.token_prefix", "dspv_")
	v.SetDefault("preview.rate_limit.enabled", true)
	v.SetDefault("preview.rate_limit.requests_per_minute", 30)
	v.SetDefault("preview.rate_limit.burst", 10)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "OPTIONS"})
	v.SetDefault("security.tls.enabled", false)
	v.SetDefault("security.trusted_proxies", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "docshield")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}

	if c.Audit.Retry.MaxAttempts < 1 {
		return fmt.Errorf("audit.retry.max_attempts must be at least 1")
	}
	if c.Audit.DeadLetter.Enabled && c.Audit.DeadLetter.Path == "" {
		return fmt.Errorf("audit.dead_letter.path is required when the dead letter file is enabled")
	}
	if c.Audit.Forwarder.Enabled && c.Audit.Forwarder.URL == "" {
		return fmt.Errorf("audit.forwarder.url is required when the forwarder is enabled")
	}
	if c.Audit.Verify.Interval < 0 {
		return fmt.Errorf("audit.verify.interval must not be negative")
	}

	if c.Preview.TokenPrefix == "" {
		return fmt.Errorf("preview.token_prefix is required")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	for _, p := range c.Security.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("security.trusted_proxies: %q is not an IP address or CIDR", p)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

func validProxy(p string) bool {
	p = strings.TrimSpace(p)
	if strings.Contains(p, "/") {
		_, err := netip.ParsePrefix(p)
		return err == nil
	}
	_, err := netip.ParseAddr(p)
	return err == nil
}

func (s *StorageConfig) validate() error {
	switch s.DefaultBackend {
	case "azure":
		if s.Azure.AccountName == "" {
			return fmt.Errorf("storage.azure.account_name is required when using Azure backend")
		}
		if s.Azure.AccountKey == "" {
			return fmt.Errorf("storage.azure.account_key is required when using Azure backend")
		}
		if s.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if s.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if s.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if s.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, or local)", s.DefaultBackend)
	}
	return nil
}

// Validate checks every row of the policy table.
func (p *PolicyConfig) Validate() error {
	rows := []struct {
		name string
		row  SensitivityPolicyConfig
	}{
		{"normal", p.Normal},
		{"confidential", p.Confidential},
		{"embargoed", p.Embargoed},
	}
	for _, r := range rows {
		if r.row.Expiry <= 0 {
			return fmt.Errorf("policy.%s.expiry must be positive", r.name)
		}
		if r.row.MaxViews < 0 {
			return fmt.Errorf("policy.%s.max_views must not be negative", r.name)
		}
		switch r.row.IPRestriction {
		case "optional", "recommended", "required":
		default:
			return fmt.Errorf("policy.%s.ip_restriction %q must be optional, recommended, or required", r.name, r.row.IPRestriction)
		}
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
