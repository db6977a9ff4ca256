package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/krs-api/api/swagger"
	"github.com/noah-isme/krs-api/internal/handler"
	"github.com/noah-isme/krs-api/internal/middleware"
	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
	"github.com/noah-isme/krs-api/internal/service"
	"github.com/noah-isme/krs-api/pkg/cache"
	"github.com/noah-isme/krs-api/pkg/config"
	"github.com/noah-isme/krs-api/pkg/database"
	"github.com/noah-isme/krs-api/pkg/jobs"
	"github.com/noah-isme/krs-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/krs-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/krs-api/pkg/middleware/requestid"
)

// @title KRS Enrollment API
// @version 1.0.0
// @description Course-section enrollment, seat allocation and waitlist promotion.
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, cache and notifications disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	termRepo := repository.NewTermRepository(db)
	userRepo := repository.NewUserRepository(db)
	completionRepo := repository.NewCompletionRepository(db)
	programPrereqRepo := repository.NewProgramPrerequisiteRepository(db)

	notificationsEnabled := cfg.Notifications.Enabled && redisClient != nil
	inbox := repository.NewNotificationRepository(redisClient, cfg.Notifications.InboxTTL, cfg.Notifications.InboxCap)
	var notificationQueue *jobs.Queue
	if notificationsEnabled {
		worker := service.NewNotificationWorker(inbox, metricsSvc, logr)
		notificationQueue = jobs.NewQueue("notifications", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.Retries,
			Logger:     logr,
			OnDiscard:  worker.Discarded,
		})
		notificationQueue.Start(ctx)
		defer notificationQueue.Stop()
	}
	var dispatcher interface{ TryEnqueue(jobs.Job) error }
	if notificationQueue != nil {
		dispatcher = notificationQueue
	}
	notificationSvc := service.NewNotificationService(dispatcher, metricsSvc, logr, notificationsEnabled)

	waitlistQueue := service.NewWaitlistQueue(waitlistRepo, cacheSvc, cfg.Cache.WaitlistTTL, logr)
	prerequisites := service.NewPrerequisiteSet(service.CatalogPrerequisites{}, service.NewProgramPrerequisites(programPrereqRepo))
	eligibility := service.NewEligibilityValidator(enrollmentRepo, completionRepo, prerequisites, service.EligibilityConfig{
		DefaultWindow: cfg.Enrollment.DefaultWindow,
		Location:      cfg.Enrollment.Location,
	})
	enrollmentSvc := service.NewEnrollmentService(service.EnrollmentDeps{
		Ledger:        enrollmentRepo,
		Students:      studentRepo,
		Sections:      sectionRepo,
		Courses:       courseRepo,
		Terms:         termRepo,
		Eligibility:   eligibility,
		Allocator:     service.NewSeatAllocator(enrollmentRepo, waitlistQueue, logr),
		Waitlist:      waitlistQueue,
		Authority:     service.NewOverrideAuthority(userRepo),
		Notifications: notificationSvc,
		Cache:         cacheSvc,
		Metrics:       metricsSvc,
	}, validator.New(), logr, service.EnrollmentServiceConfig{CourseCacheTTL: cfg.Cache.TTL})

	authSvc := service.NewAuthService(service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc, "/metrics", "/health", "/ready"))

	registerRoutes(r, cfg, routeDeps{
		auth:        authSvc,
		enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		sections:    handler.NewSectionHandler(enrollmentSvc),
		inbox:       handler.NewNotificationHandler(inbox),
		metrics:     handler.NewMetricsHandler(metricsSvc, checks),
		audit:       userRepo,
		logger:      logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

type routeDeps struct {
	auth        *service.AuthService
	enrollments *handler.EnrollmentHandler
	sections    *handler.SectionHandler
	inbox       *handler.NotificationHandler
	metrics     *handler.MetricsHandler
	audit       middleware.AuditRecorder
	logger      *zap.Logger
}

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Ready)
	r.GET("/metrics", deps.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.auth))

	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(deps.audit, deps.logger, action, resource)
	}
	staff := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin)
	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	selfOrAdmin := middleware.RequireRoles(models.RoleStudent, models.RoleAdmin, models.RoleSuperAdmin)
	selfOrStaff := middleware.RequireRoles(models.RoleStudent, models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin)

	enrollments := api.Group("/enrollments")
	enrollments.GET("", staff, deps.enrollments.List)
	enrollments.POST("", selfOrAdmin, deps.enrollments.Create)
	enrollments.POST("/manual", staff, audit(models.AuditActionManualEnroll, "enrollment"), deps.enrollments.Manual)
	enrollments.POST("/drop", selfOrStaff, audit(models.AuditActionDrop, "enrollment"), deps.enrollments.Drop)

	sections := api.Group("/sections/:id")
	sections.GET("/waitlist", deps.sections.Waitlist)
	sections.DELETE("/waitlist/:studentId", middleware.RequireRolesOrSelf("studentId", models.RoleAdmin, models.RoleSuperAdmin), deps.sections.LeaveWaitlist)
	sections.GET("/occupancy", staff, deps.sections.Occupancy)
	sections.POST("/occupancy/reconcile", admins, audit(models.AuditActionReconcile, "section"), deps.sections.Reconcile)
	sections.POST("/promote", staff, audit(models.AuditActionPromote, "section"), deps.sections.Promote)

	api.GET("/notifications", deps.inbox.List)
}
