package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/studytrack-app/studytrack-api/api/swagger"
	"github.com/studytrack-app/studytrack-api/internal/handler"
	"github.com/studytrack-app/studytrack-api/internal/middleware"
	"github.com/studytrack-app/studytrack-api/internal/models"
	"github.com/studytrack-app/studytrack-api/internal/repository"
	"github.com/studytrack-app/studytrack-api/internal/service"
	"github.com/studytrack-app/studytrack-api/pkg/cache"
	"github.com/studytrack-app/studytrack-api/pkg/config"
	"github.com/studytrack-app/studytrack-api/pkg/database"
	"github.com/studytrack-app/studytrack-api/pkg/jobs"
	"github.com/studytrack-app/studytrack-api/pkg/logger"
	corsmiddleware "github.com/studytrack-app/studytrack-api/pkg/middleware/cors"
	reqidmiddleware "github.com/studytrack-app/studytrack-api/pkg/middleware/requestid"
)

// @title StudyTrack Auth API
// @version 1.0.0
// @description Authentication and session-token service for the StudyTrack student tracker
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

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, blacklist cache disabled", "error", err)
	}

	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	blacklistCache := repository.NewBlacklistCache(redisClient, logr)
	defer blacklistCache.Close() //nolint:errcheck

	tokenSvc := service.NewTokenService(tokenRepo, blacklistCache, metricsSvc, logr, service.TokenConfig{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
	})

	hasher := service.NewPasswordHasher(service.ScryptParams{
		N: cfg.Password.ScryptN,
		R: cfg.Password.ScryptR,
		P: cfg.Password.ScryptP,
	})

	authSvc, err := service.NewAuthService(userRepo, tokenSvc, hasher, service.NewCredentialPolicy(), validator.New(), metricsSvc, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to init auth service", "error", err)
	}

	var sweeper *jobs.Sweeper
	if cfg.Sweep.Enabled {
		sweeper = jobs.NewSweeper("token-sweep", tokenSvc.SweepExpired, jobs.SweeperConfig{
			Interval: cfg.Sweep.Interval,
			Logger:   logr,
		})
		sweeper.Start()
		defer sweeper.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/password-strength", authHandler.PasswordStrength)

			// Logout is best-effort: an expired access token must still be
			// able to revoke its refresh session.
			auth.POST("/logout", middleware.OptionalAuth(tokenSvc, authSvc, cfg.Token.CookieName), authHandler.Logout)

			protected := auth.Group("")
			protected.Use(middleware.RequireAuth(tokenSvc, authSvc, cfg.Token.CookieName))
			{
				protected.GET("/me", authHandler.Me)
				protected.POST("/logout-all", authHandler.LogoutAll)
				protected.POST("/change-password", authHandler.ChangePassword)
			}
		}
	}

	internal := r.Group("/internal")
	internal.Use(middleware.RequireAuth(tokenSvc, authSvc, cfg.Token.CookieName), middleware.RequireRoles(models.RoleAdmin))
	{
		internal.GET("/metrics", metricsHandler.Prometheus)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
