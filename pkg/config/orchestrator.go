package config

import (
	"fmt"
	"time"

	"github.com/inkforge/orchestrator/pkg/observability"
)

// Config is the top-level orchestrator configuration, unmarshaled from
// YAML (via koanf, see koanf_loader.go) after ${VAR} references in the
// file are expanded from the environment. No prefixed environment
// variables are overlaid on top of it.
type Config struct {
	Server      ServerConfig      `yaml:"server,omitempty"`
	Database    DatabaseConfig    `yaml:"database,omitempty"`
	Logger      LoggerConfig      `yaml:"logger,omitempty"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit,omitempty"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint,omitempty"`
	Queue       QueueConfig       `yaml:"queue,omitempty"`
	Providers   ProvidersConfig   `yaml:"providers,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
	Cover       CoverConfig       `yaml:"cover,omitempty"`
	Billing     BillingConfig     `yaml:"billing,omitempty"`
}

// BillingConfig toggles the create()-time payment-reference gate.
type BillingConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// CoverConfig tunes the cover subsystem's quality gates: the enumerated
// "slop pattern" phrase list and the subject-size heuristic threshold,
// loaded as configuration rather than hardcoded so operators can
// tighten or loosen the gate without a redeploy.
type CoverConfig struct {
	SlopPatterns        []string `yaml:"slop_patterns,omitempty"`
	MinSubjectAreaRatio float64  `yaml:"min_subject_area_ratio,omitempty"`
}

func (c *CoverConfig) SetDefaults() {
	if len(c.SlopPatterns) == 0 {
		c.SlopPatterns = []string{
			"generic fantasy sword",
			"stock photo silhouette",
			"default gradient background",
			"watermark-like artifact",
		}
	}
	if c.MinSubjectAreaRatio == 0 {
		c.MinSubjectAreaRatio = 0.15
	}
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Addr           string   `yaml:"addr,omitempty"`
	CORSOrigins    []string `yaml:"cors_origins,omitempty"`
	ReadTimeout    int      `yaml:"read_timeout_s,omitempty"`
	WriteTimeout   int      `yaml:"write_timeout_s,omitempty"`
	JWKSURL        string   `yaml:"jwks_url,omitempty"`
	JWTIssuer      string   `yaml:"jwt_issuer,omitempty"`
	JWTAudience    string   `yaml:"jwt_audience,omitempty"`
	AuthDisabled   bool     `yaml:"auth_disabled,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 120
	}
}

// CheckpointConfig holds the tick/lease/cache/cover tunables the
// controller and worker loop read at startup.
type CheckpointConfig struct {
	TickBudgetMS      int `yaml:"tick_budget_ms,omitempty"`
	WriterConcurrency int `yaml:"writer_concurrency,omitempty"`
	LeaseTTLMS        int `yaml:"lease_ttl_ms,omitempty"`
	CoverMaxAttempts  int `yaml:"cover_max_attempts,omitempty"`
	CacheTTLDays      int `yaml:"cache_ttl_days,omitempty"`
}

func (c *CheckpointConfig) SetDefaults() {
	if c.TickBudgetMS == 0 {
		c.TickBudgetMS = 120_000
	}
	if c.WriterConcurrency == 0 {
		c.WriterConcurrency = 3
	}
	if c.LeaseTTLMS == 0 {
		c.LeaseTTLMS = 90_000
	}
	if c.CoverMaxAttempts == 0 {
		c.CoverMaxAttempts = 4
	}
	if c.CacheTTLDays == 0 {
		c.CacheTTLDays = 30
	}
}

func (c CheckpointConfig) TickBudget() time.Duration {
	return time.Duration(c.TickBudgetMS) * time.Millisecond
}

func (c CheckpointConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLMS) * time.Millisecond
}

func (c CheckpointConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}

// QueueConfig selects and configures the work-queue provider.
type QueueConfig struct {
	Backend string `yaml:"backend,omitempty"` // "memory" or "redis"
	RedisAddr string `yaml:"redis_addr,omitempty"`
	VisibilityTimeoutS int `yaml:"visibility_timeout_s,omitempty"`
}

func (c *QueueConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.VisibilityTimeoutS == 0 {
		c.VisibilityTimeoutS = 60
	}
}

// ProvidersConfig configures the external provider adapters.
type ProvidersConfig struct {
	TextModel       string `yaml:"text_model,omitempty"`
	AnthropicAPIKey string `yaml:"-"` // sourced from ANTHROPIC_API_KEY only
	ImageEndpoint   string `yaml:"image_endpoint,omitempty"`
	ImageModel      string `yaml:"image_model,omitempty"`
	ImageAPIKey     string `yaml:"-"`
	TTSAPIKey       string `yaml:"-"`
	ObjectStoreBackend string `yaml:"object_store_backend,omitempty"` // "memory" or "s3"
	S3Bucket        string `yaml:"s3_bucket,omitempty"`
	S3Region        string `yaml:"s3_region,omitempty"`
}

func (c *ProvidersConfig) SetDefaults() {
	if c.TextModel == "" {
		c.TextModel = "claude-sonnet-4-5"
	}
	if c.ImageModel == "" {
		c.ImageModel = "stable-diffusion-xl"
	}
	if c.ObjectStoreBackend == "" {
		c.ObjectStoreBackend = "memory"
	}
}

// ObservabilityConfig toggles the Prometheus metrics surface.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled,omitempty"`
	MetricsPath    string `yaml:"metrics_path,omitempty"`
	Namespace      string `yaml:"namespace,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = "inkforge"
	}
}

// ToObservability translates the config section into an
// observability.Config, the type pkg/observability.NewManager consumes.
func (c ObservabilityConfig) ToObservability() observability.Config {
	return observability.Config{
		Metrics: observability.MetricsConfig{
			Enabled:   c.MetricsEnabled,
			Endpoint:  c.MetricsPath,
			Namespace: c.Namespace,
		},
	}
}

// SetDefaults fills every subsection with production-sane defaults.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Logger.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Queue.SetDefaults()
	c.Providers.SetDefaults()
	c.Observability.SetDefaults()
	c.Cover.SetDefaults()
	c.RateLimit.SetDefaults()
}

// Validate checks every subsection.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if c.Queue.Backend != "memory" && c.Queue.Backend != "redis" {
		return fmt.Errorf("queue: invalid backend %q", c.Queue.Backend)
	}
	if c.Providers.ObjectStoreBackend != "memory" && c.Providers.ObjectStoreBackend != "s3" {
		return fmt.Errorf("providers: invalid object_store_backend %q", c.Providers.ObjectStoreBackend)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	return nil
}
