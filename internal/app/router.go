package app

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/research-staging-api/internal/handler"
	"github.com/noah-isme/research-staging-api/internal/middleware"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/pkg/config"
	"github.com/noah-isme/research-staging-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/research-staging-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/research-staging-api/pkg/middleware/requestid"
)

// NewRouter registers the review API on a fresh gin engine.
func NewRouter(c *Container) *gin.Engine {
	cfg := c.Config
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(c.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(c.Metrics))

	ops := handler.NewMetricsHandler(c.Metrics, c.DB)
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(c.Auth)
	schemaHandler := handler.NewSchemaHandler(c.Registry)
	stagingHandler := handler.NewStagingHandler(c.Staging, c.Promotion)
	permanentHandler := handler.NewPermanentHandler(c.Promotion)
	identityHandler := handler.NewIdentityHandler(c.Identity, c.Profiles)
	enrichmentHandler := handler.NewEnrichmentHandler(c.Enrichment)
	reportHandler := handler.NewReportHandler(c.Reports)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)
	api.GET("/staging/reports/:token", reportHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(c.Auth))
	reviewers := middleware.RequireRoles(models.RoleAdmin, models.RoleReviewer)
	admins := middleware.RequireRoles(models.RoleAdmin)
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(c.Users, c.Logger, action, resource)
	}

	secured.POST("/auth/logout", authHandler.Logout)
	secured.GET("/auth/me", authHandler.Me)
	secured.GET("/schemas", schemaHandler.List)

	staging := secured.Group("/staging")
	staging.POST("/batches", reviewers, audit(models.AuditActionIngest, "staging_batch"), stagingHandler.Ingest)
	staging.GET("/entries", stagingHandler.List)
	staging.GET("/entries/:id", stagingHandler.Get)
	staging.POST("/entries/:id/status", reviewers, audit(models.AuditActionReview, "staging_entry"), stagingHandler.SetStatus)
	staging.POST("/entries/:id/promote", reviewers, audit(models.AuditActionPromote, "staging_entry"), stagingHandler.Promote)
	staging.POST("/entries/:id/revalidate", reviewers, audit(models.AuditActionRevalidate, "staging_entry"), stagingHandler.Revalidate)
	staging.DELETE("/entries", admins, audit(models.AuditActionPurge, "staging_entry"), stagingHandler.Purge)
	staging.POST("/reports", reviewers, reportHandler.Generate)

	permanent := secured.Group("/permanent")
	permanent.GET("/entries", permanentHandler.List)
	permanent.GET("/entries/:id", permanentHandler.Get)

	identities := secured.Group("/identities")
	identities.POST("/resolve", reviewers, audit(models.AuditActionResolve, "orcid_mapping"), identityHandler.Resolve)
	identities.GET("/mapping", identityHandler.Mapping)
	identities.GET("/orcid/search", identityHandler.Search)
	identities.POST("/orcid/import", reviewers, audit(models.AuditActionImport, "staging_batch"), identityHandler.Import)
	identities.GET("/orcid/:orcid", identityHandler.Profile)

	enrichment := secured.Group("/enrichment")
	enrichment.POST("", reviewers, audit(models.AuditActionEnrich, "enrichment_run"), enrichmentHandler.Enrich)
	enrichment.POST("/runs", reviewers, audit(models.AuditActionEnrich, "enrichment_run"), enrichmentHandler.QueueRun)
	enrichment.GET("/runs", enrichmentHandler.ListRuns)
	enrichment.GET("/runs/:id", enrichmentHandler.GetRun)

	return r
}
