package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/mailforge/internal/headers"
	"github.com/foxzi/mailforge/internal/ipfilter"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	SMTP      SMTPConfig      `yaml:"smtp"` // Relay used for test sends
	DKIM      DKIMConfig      `yaml:"dkim"`
	RateLimit RateLimitConfig `yaml:"rate_limit"` // Quotas for test sends
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // Used in Message-ID and SMTP HELO
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string            `yaml:"listen_addr"`
	APIKey         string            `yaml:"api_key"`          // Shared key, requests run as DefaultUser
	Users          map[string]string `yaml:"users"`            // user id -> bcrypt hash of the user's token
	DefaultUser    string            `yaml:"default_user"`     // Owner for api_key and unauthenticated mode
	CORSOrigins    []string          `yaml:"cors_origins"`     // Origins allowed for the browser editor
	MaxHeaderBytes int               `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	MaxBodyBytes   int64             `yaml:"max_body_bytes"`   // Max JSON request body (default: 1MB)
	ReadTimeout    time.Duration     `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration     `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration     `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string          `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
	TrustProxy     bool              `yaml:"trust_proxy"`      // Take client IP from X-Forwarded-For / X-Real-IP
	TLS            TLSConfig         `yaml:"tls"`
}

// TLSConfig enables HTTPS for the API with a certificate file pair or ACME.
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt settings
type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"` // default: /var/lib/mailforge/certs
	HTTPAddr string   `yaml:"http_addr"` // HTTP-01 challenge listener (default: :80)
}

// Enabled reports whether the API serves HTTPS.
func (c *TLSConfig) Enabled() bool {
	return c.ACME.Enabled || c.CertFile != ""
}

// AuthEnabled reports whether requests must carry a token.
func (c *APIConfig) AuthEnabled() bool {
	return c.APIKey != "" || len(c.Users) > 0
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// UploadsConfig contains image upload settings
type UploadsConfig struct {
	Backend  string   `yaml:"backend"`   // local, s3
	Dir      string   `yaml:"dir"`       // local backend root
	BaseURL  string   `yaml:"base_url"`  // public URL prefix for stored images
	MaxBytes int64    `yaml:"max_bytes"` // default: 5MB
	S3       S3Config `yaml:"s3"`
}

// S3Config contains S3 or S3-compatible storage settings
type S3Config struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	AccessKeyID    string `yaml:"access_key_id"`
	SecretKey      string `yaml:"secret_key"`
	Endpoint       string `yaml:"endpoint"`         // Optional, e.g. MinIO
	ForcePathStyle bool   `yaml:"force_path_style"` // Required by most S3-compatible services
	Prefix         string `yaml:"prefix"`           // Key prefix, e.g. "email-images/public"
}

// SMTPConfig contains the relay used to deliver test sends
type SMTPConfig struct {
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	Username string         `yaml:"username"`
	Password string         `yaml:"password"`
	From     string         `yaml:"from"`
	TLS      string         `yaml:"tls"` // starttls (default), implicit, none
	Timeout  time.Duration  `yaml:"timeout"`
	Headers  []headers.Rule `yaml:"headers"` // Applied to every test message before signing
}

// SMTP TLS modes
const (
	SMTPTLSStartTLS = "starttls"
	SMTPTLSImplicit = "implicit"
	SMTPTLSNone     = "none"
)

// Enabled reports whether a relay is configured.
func (c *SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns host:port of the relay.
func (c *SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DKIMConfig contains DKIM signing settings for test sends
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// RateLimitConfig contains test send quotas. A recipient counts as one send.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	Global       *LimitValues `yaml:"global,omitempty"`
	PerUser      *LimitValues `yaml:"per_user,omitempty"`
	PerIP        *LimitValues `yaml:"per_ip,omitempty"`
	PerRecipient *LimitValues `yaml:"per_recipient,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval"` // Counter persistence interval (default: 10s)
}

// LimitValues contains hourly and daily limits. Zero means unlimited.
type LimitValues struct {
	SendsPerHour int `yaml:"sends_per_hour"`
	SendsPerDay  int `yaml:"sends_per_day"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
	TrustProxy bool     `yaml:"trust_proxy"` // Take client IP from X-Forwarded-For / X-Real-IP
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied. Used by CLI
// commands that run without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "localhost"
		}
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":3000"
	}
	if c.API.DefaultUser == "" {
		c.API.DefaultUser = "default"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.API.TLS.ACME.Enabled {
		if c.API.TLS.ACME.CacheDir == "" {
			c.API.TLS.ACME.CacheDir = "/var/lib/mailforge/certs"
		}
		if c.API.TLS.ACME.HTTPAddr == "" {
			c.API.TLS.ACME.HTTPAddr = ":80"
		}
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/mailforge/mailforge.db"
	}

	if c.Uploads.Backend == "" {
		c.Uploads.Backend = "local"
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "/var/lib/mailforge/uploads"
	}
	if c.Uploads.BaseURL == "" && c.Uploads.Backend == "local" {
		c.Uploads.BaseURL = "/uploads/"
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = 5 * 1024 * 1024 // 5MB
	}

	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.Timeout == 0 {
		c.SMTP.Timeout = 30 * time.Second
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = SMTPTLSStartTLS
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	for user, hash := range c.API.Users {
		if user == "" {
			return fmt.Errorf("api.users contains an empty user id")
		}
		if hash == "" {
			return fmt.Errorf("api.users.%s: token hash is required", user)
		}
	}

	if err := ipfilter.Validate(c.API.AllowedIPs); err != nil {
		return fmt.Errorf("api.allowed_ips: %w", err)
	}
	if err := ipfilter.Validate(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("metrics.allowed_ips: %w", err)
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	if c.Uploads.MaxBytes < 0 {
		return fmt.Errorf("uploads.max_bytes must not be negative")
	}

	if err := c.validateUploads(); err != nil {
		return err
	}

	if err := c.validateSMTP(); err != nil {
		return err
	}

	if err := c.validateRateLimit(); err != nil {
		return err
	}

	return c.validateDKIM()
}

// validateTLS validates API TLS configuration
func (c *Config) validateTLS() error {
	t := c.API.TLS
	if (t.CertFile == "") != (t.KeyFile == "") {
		return fmt.Errorf("api.tls.cert_file and api.tls.key_file must be set together")
	}
	if !t.ACME.Enabled {
		return nil
	}
	if t.CertFile != "" {
		return fmt.Errorf("api.tls: use either cert_file or acme, not both")
	}
	if len(t.ACME.Domains) == 0 {
		return fmt.Errorf("api.tls.acme.domains is required when ACME is enabled")
	}
	return nil
}

// validateUploads validates upload backend configuration
func (c *Config) validateUploads() error {
	switch c.Uploads.Backend {
	case "local":
		if c.Uploads.Dir == "" {
			return fmt.Errorf("uploads.dir is required for the local backend")
		}
	case "s3":
		if c.Uploads.S3.Bucket == "" {
			return fmt.Errorf("uploads.s3.bucket is required for the s3 backend")
		}
		if c.Uploads.S3.Region == "" {
			return fmt.Errorf("uploads.s3.region is required for the s3 backend")
		}
		if (c.Uploads.S3.AccessKeyID == "") != (c.Uploads.S3.SecretKey == "") {
			return fmt.Errorf("uploads.s3.access_key_id and uploads.s3.secret_key must be set together")
		}
	default:
		return fmt.Errorf("invalid uploads.backend: %s (must be local or s3)", c.Uploads.Backend)
	}
	return nil
}

// validateSMTP validates the test-send relay
func (c *Config) validateSMTP() error {
	if !c.SMTP.Enabled() {
		return nil
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid smtp.port: %d", c.SMTP.Port)
	}
	if c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}
	if c.SMTP.Username != "" && c.SMTP.Password == "" {
		return fmt.Errorf("smtp.password is required when smtp.username is set")
	}
	switch c.SMTP.TLS {
	case SMTPTLSStartTLS, SMTPTLSImplicit, SMTPTLSNone:
	default:
		return fmt.Errorf("invalid smtp.tls: %s (must be starttls, implicit or none)", c.SMTP.TLS)
	}
	if err := headers.Validate(c.SMTP.Headers); err != nil {
		return fmt.Errorf("smtp.headers: %w", err)
	}
	return nil
}

// validateRateLimit validates test send quotas
func (c *Config) validateRateLimit() error {
	limits := map[string]*LimitValues{
		"global":        c.RateLimit.Global,
		"per_user":      c.RateLimit.PerUser,
		"per_ip":        c.RateLimit.PerIP,
		"per_recipient": c.RateLimit.PerRecipient,
	}
	for name, v := range limits {
		if v == nil {
			continue
		}
		if v.SendsPerHour < 0 || v.SendsPerDay < 0 {
			return fmt.Errorf("rate_limit.%s: limits must not be negative", name)
		}
	}
	if c.RateLimit.FlushInterval < 0 {
		return fmt.Errorf("rate_limit.flush_interval must not be negative")
	}
	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	if !c.DKIM.Enabled {
		return nil
	}

	if c.DKIM.Selector == "" {
		return fmt.Errorf("dkim.selector is required when DKIM is enabled")
	}
	if c.DKIM.KeyFile == "" {
		return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
	}
	if c.DKIM.Domain == "" {
		return fmt.Errorf("dkim.domain is required when DKIM is enabled")
	}

	return nil
}
