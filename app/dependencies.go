package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/vision-gateway/config"
	"github.com/upb/vision-gateway/internal/media"
	"github.com/upb/vision-gateway/internal/observability"
	"github.com/upb/vision-gateway/middleware"
	"github.com/upb/vision-gateway/repositories"
	"github.com/upb/vision-gateway/repositories/postgres"
	"github.com/upb/vision-gateway/services/analysis"
	"github.com/upb/vision-gateway/services/audit"
	"github.com/upb/vision-gateway/services/fallback"
	"github.com/upb/vision-gateway/services/providers"
	"github.com/upb/vision-gateway/services/providers/gemini"
	"github.com/upb/vision-gateway/services/providers/openai"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB // nil when no database is configured
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Runs repositories.AnalysisRunRepository

	// Provider Registry
	ProviderRegistry *providers.Registry
	ModelListing     *providers.CachedLister // nil when MODEL_LIST_TTL is 0

	// Services
	Orchestrator    *fallback.Orchestrator
	AnalysisService *analysis.AnalysisService
	AuditService    *audit.AuditService // nil when no database is configured

	// Auth
	AuthMiddleware *middleware.AuthMiddleware // nil when auth is disabled
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	// Initialize PostgreSQL (optional)
	if cfg.Database.Enabled() {
		factory, err := postgres.NewRepositoryFactory(cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := deps.useDatabase(ctx, factory); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	} else {
		logger.Warn("no database configured, analysis runs will not be recorded")
	}

	// Initialize provider registry
	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	// Initialize orchestrator and analysis pipeline
	if err := deps.initServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize auth (bearer JWT)
	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// useDatabase initializes the schema, the run repository and the audit service
func (d *Dependencies) useDatabase(ctx context.Context, factory *postgres.RepositoryFactory) error {
	if err := factory.InitSchema(ctx); err != nil {
		return err
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.Runs = factory.NewRepositories().Runs

	auditCfg := audit.DefaultConfig()
	if d.Config.Audit.BufferSize > 0 {
		auditCfg.BufferSize = d.Config.Audit.BufferSize
	}
	if d.Config.Audit.WorkerCount > 0 {
		auditCfg.WorkerCount = d.Config.Audit.WorkerCount
	}
	d.AuditService = audit.NewAuditService(d.Runs, d.Logger, auditCfg)

	d.Logger.Info("run auditing enabled",
		zap.Int("buffer_size", auditCfg.BufferSize),
		zap.Int("workers", auditCfg.WorkerCount))
	return nil
}

// initProviders builds the registry from the configured provider keys
func (d *Dependencies) initProviders(cfg *config.Config) error {
	configs := map[string]providers.ProviderConfig{
		"gemini": toProviderConfig(cfg.Providers.Gemini),
		"openai": toProviderConfig(cfg.Providers.OpenAI),
	}

	if cfg.Providers.Gemini.APIKey == "" && cfg.Providers.OpenAI.APIKey == "" {
		d.Logger.Warn("no model providers configured, every analysis will be exhausted")
		d.ProviderRegistry = providers.NewRegistry(cfg.Providers.Default)
		return nil
	}

	registry, err := providers.NewRegistryBuilder(cfg.Providers.Default).
		WithProviderBuilder("gemini", gemini.New).
		WithProviderBuilder("openai", openai.New).
		Build(configs)
	if err != nil {
		return err
	}

	if registry.DefaultProvider() != cfg.Providers.Default {
		d.Logger.Warn("default provider has no API key, using the only configured provider",
			zap.String("configured", cfg.Providers.Default),
			zap.String("default", registry.DefaultProvider()))
	}

	d.Logger.Info("model providers registered",
		zap.Strings("providers", registry.ListProviders()),
		zap.String("default", registry.DefaultProvider()))

	d.ProviderRegistry = registry
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	// Listings are "provider/model", so the priority list must be too
	priority := d.ProviderRegistry.QualifyAll(cfg.Orchestrator.Priority)

	orchCfg := fallback.Config{
		Priority:    priority,
		MaxAttempts: cfg.Orchestrator.MaxAttempts,
		Backoff: fallback.Backoff{
			Initial:    cfg.Orchestrator.BackoffInitial,
			Max:        cfg.Orchestrator.BackoffMax,
			Multiplier: cfg.Orchestrator.BackoffMultiplier,
		},
		DiscoverModels: cfg.Orchestrator.DiscoverModels,
	}

	var lister fallback.ModelLister = d.ProviderRegistry
	if cfg.Orchestrator.ModelListTTL > 0 {
		d.ModelListing = providers.NewCachedLister(d.ProviderRegistry, cfg.Orchestrator.ModelListTTL)
		lister = d.ModelListing
	}

	orchestrator, err := fallback.New(orchCfg, d.ProviderRegistry, d.Logger,
		fallback.WithModelLister(lister),
		fallback.WithMetrics(d.Metrics))
	if err != nil {
		return err
	}
	d.Orchestrator = orchestrator

	// A nil *AuditService must not become a non-nil interface
	var recorder analysis.RunRecorder
	if d.AuditService != nil {
		recorder = d.AuditService
	}

	d.AnalysisService = analysis.NewAnalysisService(
		orchestrator,
		d.ProviderRegistry,
		media.NewPreparer(cfg.Media.MaxDimension, cfg.Media.MaxImageBytes),
		recorder,
		analysis.Config{
			Priority:    priority,
			MaxImages:   cfg.Media.MaxImages,
			Temperature: cfg.Orchestrator.Temperature,
			RetryAfter:  cfg.Orchestrator.BackoffMax,
		},
		d.Logger,
	)

	d.Logger.Info("orchestrator configured",
		zap.Strings("priority", priority),
		zap.Int("max_attempts", cfg.Orchestrator.MaxAttempts),
		zap.Duration("backoff_initial", cfg.Orchestrator.BackoffInitial),
		zap.Duration("backoff_max", cfg.Orchestrator.BackoffMax),
		zap.Bool("discover_models", cfg.Orchestrator.DiscoverModels),
		zap.Duration("model_list_ttl", cfg.Orchestrator.ModelListTTL))
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, API routes are unauthenticated")
		return nil
	}

	validator, err := middleware.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("bearer token auth enabled")
	return nil
}

// Start launches background workers
func (d *Dependencies) Start() error {
	if d.AuditService != nil {
		if err := d.AuditService.Start(); err != nil {
			return fmt.Errorf("failed to start audit service: %w", err)
		}
	}
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending run records before the pool goes away
	if d.AuditService != nil && d.AuditService.GetStats().Started {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.ModelListing != nil {
		stats := d.ModelListing.Stats()
		d.Logger.Info("model listing cache",
			zap.Uint64("hits", stats.Hits),
			zap.Uint64("misses", stats.Misses),
			zap.Float64("hit_rate", stats.HitRate))
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

func toProviderConfig(cfg config.ProviderConfig) providers.ProviderConfig {
	pc := providers.DefaultProviderConfig()
	pc.APIKey = cfg.APIKey
	pc.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		pc.Timeout = cfg.Timeout
	}
	return pc
}
