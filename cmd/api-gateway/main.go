package main

import (
	"context"
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

	_ "github.com/tutortrack/tutortrack-api/api/swagger"
	"github.com/tutortrack/tutortrack-api/internal/handler"
	"github.com/tutortrack/tutortrack-api/internal/middleware"
	"github.com/tutortrack/tutortrack-api/internal/models"
	"github.com/tutortrack/tutortrack-api/internal/repository"
	"github.com/tutortrack/tutortrack-api/internal/service"
	"github.com/tutortrack/tutortrack-api/pkg/cache"
	"github.com/tutortrack/tutortrack-api/pkg/config"
	"github.com/tutortrack/tutortrack-api/pkg/database"
	"github.com/tutortrack/tutortrack-api/pkg/export"
	"github.com/tutortrack/tutortrack-api/pkg/jobs"
	"github.com/tutortrack/tutortrack-api/pkg/logger"
	corsmiddleware "github.com/tutortrack/tutortrack-api/pkg/middleware/cors"
	reqidmiddleware "github.com/tutortrack/tutortrack-api/pkg/middleware/requestid"
	"github.com/tutortrack/tutortrack-api/pkg/storage"
)

// @title TutorTrack API
// @version 1.0.0
// @description Tutoring management backend: lesson sessions, credit packages, homework and reports
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
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	sessionRepo := repository.NewSessionRepository(db, packageRepo)
	homeworkRepo := repository.NewHomeworkRepository(db)
	reportRepo := repository.NewLessonReportRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "tutortrack-api",
	})
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, 10*time.Minute, logr, true)
	userSvc := service.NewUserService(userRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, userRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, userRepo, validate, logr)
	packageSvc := service.NewPackageService(packageRepo, studentRepo, userRepo, cacheSvc, validate, logr)
	sessionSvc := service.NewSessionService(sessionRepo, enrollmentRepo, studentRepo, packageRepo, userRepo, validate, logr, cfg.Sessions)
	homeworkSvc := service.NewHomeworkService(homeworkRepo, enrollmentRepo, studentRepo, validate, logr)
	reportSvc := service.NewLessonReportService(reportRepo, sessionRepo, studentRepo, validate, logr)
	calendarSvc := service.NewCalendarService(cacheRepo, logr, cfg.Calendar)

	// Export pipeline: local file store, signed download URLs, worker queue.
	var exportSvc *service.ExportService
	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(
			exportJobRepo, sessionRepo, store, signer,
			service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Exports.SignedURLTTL},
			logr, export.NewCSVExporter(), export.NewPDFExporter(),
		)
		exportQueue = jobs.NewQueue("session-exports", exportSvc.Process, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportSvc.AttachQueue(exportQueue)
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	packageHandler := handler.NewPackageHandler(packageSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	homeworkHandler := handler.NewHomeworkHandler(homeworkSvc)
	reportHandler := handler.NewLessonReportHandler(reportSvc)
	calendarHandler := handler.NewCalendarHandler(calendarSvc)
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
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Public routes.
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)
	api.GET("/calendar", calendarHandler.Feed)
	if exportSvc != nil {
		api.GET("/exports/download/:token", handler.NewExportHandler(exportSvc).Download)
	}

	// Authenticated routes.
	auth := api.Group("")
	auth.Use(middleware.JWT(authSvc))

	auth.POST("/auth/logout", authHandler.Logout)
	auth.POST("/auth/change-password", authHandler.ChangePassword)

	admin := middleware.RequireRoles(models.RoleAdmin)
	adminOrTeacher := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	anyRole := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleStudent)

	auth.GET("/users", admin, userHandler.List)
	auth.GET("/users/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), userHandler.Get)
	auth.POST("/users", admin, userHandler.Create)
	auth.PUT("/users/:id", admin, userHandler.Update)
	auth.DELETE("/users/:id", admin, userHandler.Delete)

	auth.GET("/students", adminOrTeacher, studentHandler.List)
	auth.GET("/students/me", middleware.RequireRoles(models.RoleStudent), studentHandler.Me)
	auth.GET("/students/:id", adminOrTeacher, studentHandler.Get)
	auth.POST("/students", admin, studentHandler.Create)
	auth.PUT("/students/:id", admin, studentHandler.Update)

	auth.GET("/enrollments", adminOrTeacher, enrollmentHandler.List)
	auth.POST("/enrollments", admin, enrollmentHandler.Create)
	auth.PUT("/enrollments/:id/end", admin, middleware.Audit(userRepo, models.AuditActionEnrollmentEnd, "enrollments"), enrollmentHandler.End)

	auth.GET("/packages", anyRole, packageHandler.ListCatalog)
	auth.POST("/packages", admin, packageHandler.CreateCatalog)
	auth.POST("/packages/assign", admin, packageHandler.Assign)
	auth.GET("/packages/grants", anyRole, packageHandler.ListGrants)

	auth.GET("/sessions", anyRole, sessionHandler.List)
	auth.GET("/sessions/:id", anyRole, sessionHandler.Get)
	auth.POST("/sessions", adminOrTeacher, sessionHandler.Create)
	auth.PUT("/sessions/:id", adminOrTeacher, sessionHandler.Update)
	auth.POST("/sessions/:id/teacher-mark", adminOrTeacher, sessionHandler.TeacherMark)
	auth.POST("/sessions/:id/student-mark", middleware.RequireRoles(models.RoleAdmin, models.RoleStudent), sessionHandler.StudentMark)
	auth.POST("/sessions/:id/cancel", anyRole, sessionHandler.Cancel)
	auth.PUT("/sessions/:id/status", adminOrTeacher, middleware.Audit(userRepo, models.AuditActionStatusChange, "sessions"), sessionHandler.UpdateStatus)
	auth.DELETE("/sessions/:id", admin, sessionHandler.Delete)

	auth.GET("/homeworks", anyRole, homeworkHandler.List)
	auth.GET("/homeworks/:id", anyRole, homeworkHandler.Get)
	auth.POST("/homeworks", middleware.RequireRoles(models.RoleTeacher), homeworkHandler.Create)
	auth.PUT("/homeworks/:id", adminOrTeacher, homeworkHandler.TeacherUpdate)
	auth.POST("/homeworks/:id/submit", middleware.RequireRoles(models.RoleStudent), homeworkHandler.Submit)

	auth.GET("/reports", anyRole, reportHandler.List)
	auth.GET("/reports/:id", anyRole, reportHandler.Get)
	auth.POST("/reports", adminOrTeacher, reportHandler.Create)

	auth.GET("/metrics/system", admin, metricsHandler.Snapshot)

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		auth.POST("/exports", admin, exportHandler.Enqueue)
		auth.GET("/exports/:id", admin, exportHandler.Status)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if exportQueue != nil {
		exportQueue.Start(ctx)
		if err := exportSvc.Requeue(ctx); err != nil {
			logr.Sugar().Warnw("failed to requeue pending exports", "error", err)
		}
		if cfg.Exports.CleanupInterval > 0 {
			go func() {
				ticker := time.NewTicker(cfg.Exports.CleanupInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if removed, err := exportSvc.Cleanup(cfg.Exports.SignedURLTTL); err != nil {
							logr.Sugar().Warnw("export cleanup failed", "error", err)
						} else if len(removed) > 0 {
							logr.Sugar().Infow("cleaned up expired exports", "count", len(removed))
						}
					}
				}
			}()
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	if exportQueue != nil {
		exportQueue.Stop()
	}
}
