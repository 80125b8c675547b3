package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/inkforge/orchestrator/pkg/billing"
	"github.com/inkforge/orchestrator/pkg/cache"
	"github.com/inkforge/orchestrator/pkg/config"
	"github.com/inkforge/orchestrator/pkg/cover"
	"github.com/inkforge/orchestrator/pkg/executor"
	"github.com/inkforge/orchestrator/pkg/observability"
	"github.com/inkforge/orchestrator/pkg/phase"
	"github.com/inkforge/orchestrator/pkg/providers"
	"github.com/inkforge/orchestrator/pkg/providers/llm"
	"github.com/inkforge/orchestrator/pkg/providers/storage"
	"github.com/inkforge/orchestrator/pkg/queue"
	"github.com/inkforge/orchestrator/pkg/ratelimit"
	"github.com/inkforge/orchestrator/pkg/scheduler"
	"github.com/inkforge/orchestrator/pkg/store"
)

// app bundles every long-lived collaborator the serve/worker subcommands
// assemble into an executor.Executor and, for serve, an HTTP server.
// Each subcommand instantiates exactly the part of this it drives.
type app struct {
	cfg         *config.Config
	dbPool      *config.DBPool
	store       *store.Store
	queue       queue.Queue
	registry    *phase.Registry
	scheduler   *scheduler.Scheduler
	executor      *executor.Executor
	billingGate   billing.Gate
	owner         string
	observability *observability.Manager
	rateLimiter   ratelimit.RateLimiter
	rateScope     ratelimit.Scope
}

// buildApp wires every orchestrator collaborator from cfg: the database
// pool and schema, the work queue, the provider adapters behind their
// circuit breakers, the phase registry, and the Step Executor. serve and
// worker both start from this and layer their own entry point on top,
// keeping one assembly path shared across CLI subcommands that all
// eventually run the same engine.
func buildApp(cfg *config.Config) (*app, error) {
	cfg.Providers.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.Providers.ImageAPIKey = os.Getenv("IMAGE_API_KEY")
	cfg.Providers.TTSAPIKey = os.Getenv("TTS_API_KEY")

	dbPool := config.NewDBPool()

	st, err := store.Open(dbPool, &cfg.Database)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	q, err := buildQueue(cfg)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("build queue: %w", err)
	}

	obsCfg := cfg.Observability.ToObservability()
	obsManager, err := observability.NewManager(&obsCfg)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("build observability manager: %w", err)
	}
	recorder := recorderFor(obsManager)

	runners, err := buildRunners(cfg, st, recorder)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("build runners: %w", err)
	}

	limiter, err := ratelimit.NewRateLimiterFromConfig(&cfg.RateLimit)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}

	owner := ownerIdentity()
	reg := phase.NewRegistry()
	sched := scheduler.New(reg)

	ex := &executor.Executor{
		Registry:    reg,
		Checkpoints: st.Checkpoints(),
		Cache:       st.Cache(),
		Leases:      st.Leases(),
		Attempts:    st.StepAttempts(),
		Runners:     runners,
		LeaseTTL:    cfg.Checkpoint.LeaseTTL(),
		Owner:       owner,
		Metrics:     recorder,
	}

	return &app{
		cfg:           cfg,
		dbPool:        dbPool,
		store:         st,
		queue:         q,
		registry:      reg,
		scheduler:     sched,
		executor:      ex,
		billingGate:   billing.Gate{Enabled: cfg.Billing.Enabled},
		owner:         owner,
		observability: obsManager,
		rateLimiter:   limiter,
		rateScope:     ratelimit.ScopeFromConfig(&cfg.RateLimit),
	}, nil
}

// recorderFor extracts mgr's Metrics as a Recorder, falling back to a
// no-op when metrics are disabled so every caller can record
// unconditionally.
func recorderFor(mgr *observability.Manager) observability.Recorder {
	if mgr == nil || !mgr.MetricsEnabled() {
		return observability.NoopMetrics{}
	}
	return mgr.Metrics()
}

func (a *app) Close() {
	a.dbPool.Close()
}

// ownerIdentity names this process for lease ownership, distinct per
// process so two workers racing for the same job lease never collide
// on identity.
func ownerIdentity() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "inkforge"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func buildQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
		return queue.NewRedisQueue(client, "inkforge"), nil
	case "memory":
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// buildRunners assembles the one executor.Runner per phase.Name the
// registry's phases dispatch to: a shared TextRunner for every
// prose-generation phase, the cover Subsystem for the image/vision
// pipeline, and a FinalizeRunner backed directly by the manuscripts
// table.
func buildRunners(cfg *config.Config, st *store.Store, recorder observability.Recorder) (map[phase.Name]executor.Runner, error) {
	textProvider, err := buildTextProvider(cfg, recorder)
	if err != nil {
		return nil, err
	}
	imageProvider := buildImageProvider(cfg)
	visionProvider := buildVisionProvider(cfg)
	objectStore, err := buildObjectStore(cfg)
	if err != nil {
		return nil, err
	}

	textRunner := &executor.TextRunner{Provider: textProvider}
	imageBreaker := providers.WrapImage(imageProvider, providers.BreakerConfig{Name: "cover-image"})
	visionBreaker := providers.WrapVision(visionProvider, providers.BreakerConfig{Name: "cover-vision"})
	coverSubsystem := &cover.Subsystem{
		Images:      providers.WrapImageMetrics(imageBreaker, imageProviderName, recorder),
		Vision:      providers.WrapVisionMetrics(visionBreaker, visionProviderName, recorder),
		Objects:     objectStore,
		Config:      cfg.Cover,
		MaxAttempts: cfg.Checkpoint.CoverMaxAttempts,
		Metrics:     recorder,
	}
	finalizeRunner := &executor.FinalizeRunner{Manuscripts: st.Manuscripts()}

	return map[phase.Name]executor.Runner{
		phase.Concept:      textRunner,
		phase.Constitution: textRunner,
		phase.Plan:         textRunner,
		phase.Write:        textRunner,
		phase.Polish:       textRunner,
		phase.Cover:        coverSubsystem,
		phase.Finalize:     finalizeRunner,
	}, nil
}

func buildTextProvider(cfg *config.Config, recorder observability.Recorder) (providers.TextProvider, error) {
	if cfg.Providers.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	inner := llm.NewAnthropicProvider(cfg.Providers.AnthropicAPIKey, cfg.Providers.TextModel)
	breaker := providers.WrapText(inner, providers.BreakerConfig{Name: "text"})
	return providers.WrapTextMetrics(breaker, "anthropic", recorder), nil
}

func buildImageProvider(cfg *config.Config) providers.ImageProvider {
	return llm.NewHTTPImageProvider(cfg.Providers.ImageEndpoint, cfg.Providers.ImageAPIKey, cfg.Providers.ImageModel)
}

func buildVisionProvider(cfg *config.Config) providers.VisionProvider {
	return llm.NewAnthropicVisionProvider(cfg.Providers.AnthropicAPIKey, cfg.Providers.TextModel)
}

// imageProviderName and visionProviderName label provider-call metrics;
// both adapters currently shell out to a single configured backend each.
const (
	imageProviderName  = "image"
	visionProviderName = "anthropic-vision"
)

func buildObjectStore(cfg *config.Config) (providers.ObjectStore, error) {
	switch cfg.Providers.ObjectStoreBackend {
	case "s3":
		return storage.NewS3Store(context.Background(), cfg.Providers.S3Bucket, cfg.Providers.S3Region)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown object store backend %q", cfg.Providers.ObjectStoreBackend)
	}
}
