package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/unigrad/thesis-review-api/api/swagger"
	"github.com/unigrad/thesis-review-api/internal/handler"
	"github.com/unigrad/thesis-review-api/internal/middleware"
	"github.com/unigrad/thesis-review-api/internal/models"
	"github.com/unigrad/thesis-review-api/internal/repository"
	"github.com/unigrad/thesis-review-api/internal/service"
	"github.com/unigrad/thesis-review-api/pkg/cache"
	"github.com/unigrad/thesis-review-api/pkg/config"
	"github.com/unigrad/thesis-review-api/pkg/database"
	"github.com/unigrad/thesis-review-api/pkg/jobs"
	"github.com/unigrad/thesis-review-api/pkg/logger"
	"github.com/unigrad/thesis-review-api/pkg/mailer"
	corsmiddleware "github.com/unigrad/thesis-review-api/pkg/middleware/cors"
	reqidmiddleware "github.com/unigrad/thesis-review-api/pkg/middleware/requestid"
	"github.com/unigrad/thesis-review-api/pkg/storage"
)

// @title Thesis Review API
// @version 1.0.0
// @description Role-gated thesis submission and review workflow
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
		}
	}

	store, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	thesisRepo := repository.NewThesisRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	var mail *mailer.Mailer
	if cfg.Notifications.EmailOn {
		mail = mailer.New(cfg.SMTP, logr)
	}

	notificationSvc := service.NewNotificationService(notificationRepo, userRepo, mail, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, logr)

	authSvc := service.NewAuthService(userRepo, mail, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		BaseURL:            cfg.BaseURL,
		RequireVerified:    cfg.Env == config.EnvProduction,
	})
	userSvc := service.NewUserService(userRepo, logr)
	thesisSvc := service.NewThesisService(thesisRepo, userRepo, notificationSvc, logr,
		service.WithThesisCache(cacheSvc),
		service.WithThesisMetrics(metricsSvc),
		service.WithThesisStorage(store, signer, cfg.Storage.MaxFileSizeBytes, cfg.Storage.AllowedMIMEs),
		service.WithThesisFeedback(feedbackRepo),
	)
	feedbackSvc := service.NewFeedbackService(feedbackRepo, thesisRepo, notificationSvc, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	authHandler := handler.NewAuthHandler(authSvc)
	thesisHandler := handler.NewThesisHandler(thesisSvc)
	feedbackHandler := handler.NewFeedbackHandler(feedbackSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/verify-email", authHandler.VerifyEmail)
		auth.GET("/verify-email", authHandler.VerifyEmail)
		auth.POST("/resend-verification", authHandler.ResendVerification)

		authed := auth.Group("", middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	api.GET("/files/:token", thesisHandler.Download)

	theses := api.Group("/theses", middleware.JWT(authSvc))
	{
		theses.POST("", middleware.RequireRoles(models.RoleStudent), thesisHandler.Create)
		theses.GET("", thesisHandler.List)
		theses.GET("/:id", thesisHandler.Get)
		theses.POST("/:id/transition", thesisHandler.Transition)
		theses.POST("/:id/assign", middleware.RequireRoles(models.RoleAdmin), thesisHandler.Assign)
		theses.POST("/:id/document", thesisHandler.Upload)
		theses.GET("/:id/document", thesisHandler.DownloadLink)
		theses.GET("/:id/report", thesisHandler.Report)
		theses.POST("/:id/feedback", middleware.RequireRoles(models.RoleAdvisor), feedbackHandler.Create)
		theses.GET("/:id/feedback", feedbackHandler.ListByThesis)
	}

	feedback := api.Group("/feedback", middleware.JWT(authSvc))
	{
		feedback.GET("/:id", feedbackHandler.Get)
		feedback.PATCH("/:id", middleware.RequireRoles(models.RoleAdvisor), feedbackHandler.Update)
		feedback.POST("/:id/submit", middleware.RequireRoles(models.RoleAdvisor), feedbackHandler.Submit)
	}

	notifications := api.Group("/notifications", middleware.JWT(authSvc))
	{
		notifications.GET("", notificationHandler.List)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
	}

	admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/users", userHandler.List)
		admin.GET("/users/:id", userHandler.Get)
		admin.PATCH("/users/:id/active", userHandler.SetActive)
		admin.POST("/users/:id/verify", userHandler.ForceVerify)
		admin.GET("/advisors", userHandler.ListAdvisors)
		admin.GET("/theses/export", thesisHandler.Roster)
		admin.GET("/metrics", metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
