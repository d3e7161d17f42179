// Package app assembles repositories and services from configuration. The
// API server and the stagingctl CLI share it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/research-staging-api/internal/matching"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/repository"
	"github.com/noah-isme/research-staging-api/internal/schema"
	"github.com/noah-isme/research-staging-api/internal/service"
	"github.com/noah-isme/research-staging-api/internal/source"
	"github.com/noah-isme/research-staging-api/internal/source/orcid"
	"github.com/noah-isme/research-staging-api/internal/source/pubmed"
	"github.com/noah-isme/research-staging-api/pkg/cache"
	"github.com/noah-isme/research-staging-api/pkg/config"
	"github.com/noah-isme/research-staging-api/pkg/database"
	"github.com/noah-isme/research-staging-api/pkg/jobs"
	"github.com/noah-isme/research-staging-api/pkg/keylock"
	"github.com/noah-isme/research-staging-api/pkg/storage"
)

// Container holds the wired dependencies of one process.
type Container struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	Registry *schema.Registry
	Metrics  *service.MetricsService
	Users    *repository.UserRepository

	Auth       *service.AuthService
	Staging    *service.StagingService
	Promotion  *service.PromotionService
	Identity   *service.IdentityService
	Profiles   *service.ProfileImportService
	Enrichment *service.EnrichmentService
	Reports    *service.ReportService

	// Queue is nil until StartQueue is called.
	Queue *jobs.Queue
}

// Options toggles optional parts of the container.
type Options struct {
	// SkipMigrations disables DB_AUTO_MIGRATE for this process.
	SkipMigrations bool
}

// New connects to the stores and wires every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := schema.Load(cfg.Schemas.Dir)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	matcher, err := matching.NewMatcher(matching.Weights{
		Name:        cfg.Matching.NameWeight,
		Institution: cfg.Matching.InstitutionWeight,
		Keyword:     cfg.Matching.KeywordWeight,
	}, cfg.Matching.MinScore)
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate && !opts.SkipMigrations {
		if err := database.Migrate(db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    redisClient,
		Registry: registry,
		Metrics:  service.NewMetricsService(),
		Users:    repository.NewUserRepository(db),
	}

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, logger), c.Metrics, cfg.Matching.CandidateCacheTTL, logger, true)
	}

	validate := validator.New()
	locks := keylock.New()
	stagingRepo := repository.NewStagingRepository(db)
	permanentRepo := repository.NewPermanentRepository(db)
	identityRepo := repository.NewIdentityRepository(db)

	c.Auth = service.NewAuthService(c.Users, validate, logger, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "research-staging-api",
	})
	c.Promotion = service.NewPromotionService(stagingRepo, permanentRepo, registry, locks, c.Metrics, logger)
	c.Staging = service.NewStagingService(stagingRepo, registry, c.Promotion, c.Metrics, validate, logger)
	c.Identity = service.NewIdentityService(permanentRepo, identityRepo, matcher, cacheSvc, cfg.Matching.CandidateCacheTTL, c.Metrics, validate, logger)

	var orcidClient *orcid.Client
	if cfg.ORCID.Enabled {
		orcidClient = orcid.New(cfg.ORCID, &http.Client{Timeout: 30 * time.Second}, logger)
		c.Identity.SetRemote(orcidClient, cfg.ORCID.SearchRows)
		c.Profiles = service.NewProfileImportService(orcidClient, c.Staging, validate, logger)
	} else {
		c.Profiles = service.NewProfileImportService(nil, c.Staging, validate, logger)
	}

	c.Enrichment = service.NewEnrichmentService(
		newSourceRegistry(cfg, orcidClient, logger),
		c.Staging,
		stagingRepo,
		repository.NewEnrichmentRepository(db),
		c.Identity,
		cacheSvc,
		locks,
		c.Metrics,
		logger,
		service.EnrichmentOptions{
			Sources:      cfg.Enrichment.Sources,
			MaxResults:   cfg.Enrichment.MaxResults,
			FetchTimeout: cfg.Enrichment.FetchTimeout,
			Concurrency:  cfg.Enrichment.Concurrency,
			CacheTTL:     cfg.Enrichment.CacheTTL,
		},
	)
	c.Enrichment.SetDirectory(c.Identity)

	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("prepare report storage: %w", err)
	}
	exporter := service.NewExportService(
		store,
		storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL),
		service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Reports.SignedURLTTL},
		logger,
		nil,
		nil,
	)
	c.Reports = service.NewReportService(stagingRepo, exporter, logger, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
	})

	return c, nil
}

// StartQueue starts the background enrichment workers and routes queued
// runs to them.
func (c *Container) StartQueue(ctx context.Context) *jobs.Queue {
	if c.Queue != nil {
		return c.Queue
	}
	c.Queue = jobs.NewQueue(service.JobTypeEnrichment, c.Enrichment.HandleJob, jobs.QueueConfig{
		Workers:    c.Config.Enrichment.Workers,
		BufferSize: 64,
		MaxRetries: c.Config.Enrichment.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Observer: func(job jobs.Job, outcome string, elapsed time.Duration) {
			c.Metrics.ObserveJob(job.Type, outcome, elapsed)
		},
		Logger: c.Logger,
	})
	c.Queue.Start(ctx)
	c.Enrichment.SetQueue(c.Queue)
	return c.Queue
}

// Close stops the workers and releases the stores.
func (c *Container) Close() {
	if c.Queue != nil {
		c.Queue.Stop()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}

// Reviewer returns a user for CLI actions, which run without a login.
func (c *Container) Reviewer(ctx context.Context, email string) (*models.User, error) {
	return c.Users.FindByEmail(ctx, email)
}

// newSourceRegistry registers PubMed, plus the ORCID works list when the
// ORCID client is configured.
func newSourceRegistry(cfg *config.Config, orcidClient *orcid.Client, logger *zap.Logger) *source.Registry {
	if !cfg.Enrichment.Enabled {
		return source.NewRegistry()
	}
	sources := []source.Source{pubmed.New(cfg.PubMed, &http.Client{Timeout: cfg.Enrichment.FetchTimeout + 30*time.Second}, logger)}
	if orcidClient != nil {
		sources = append(sources, orcidClient)
	}
	return source.NewRegistry(sources...)
}
