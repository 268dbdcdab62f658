package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-progress-api/api/swagger"
	"github.com/noah-isme/lms-progress-api/internal/catalog"
	"github.com/noah-isme/lms-progress-api/internal/handler"
	"github.com/noah-isme/lms-progress-api/internal/middleware"
	"github.com/noah-isme/lms-progress-api/internal/models"
	"github.com/noah-isme/lms-progress-api/internal/repository"
	"github.com/noah-isme/lms-progress-api/internal/scheduler"
	"github.com/noah-isme/lms-progress-api/internal/service"
	"github.com/noah-isme/lms-progress-api/pkg/cache"
	"github.com/noah-isme/lms-progress-api/pkg/config"
	"github.com/noah-isme/lms-progress-api/pkg/database"
	"github.com/noah-isme/lms-progress-api/pkg/export"
	"github.com/noah-isme/lms-progress-api/pkg/jobs"
	"github.com/noah-isme/lms-progress-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-progress-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-progress-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-progress-api/pkg/storage"
)

// @title LMS Progress API
// @version 1.0.0
// @description Enrollment, lesson progress, certificates and quiz assessment for the LMS.
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	courses, err := catalog.Load(cfg.Catalog.Dir, logr)
	if err != nil {
		logr.Fatal("failed to load course catalog", zap.String("dir", cfg.Catalog.Dir), zap.Error(err))
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	var cacheRepo service.CacheRepository
	if cfg.Dashboard.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			redisRepo := repository.NewCacheRepository(redisClient, logr)
			cacheRepo = redisRepo
			readiness["redis"] = redisRepo.Ping
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cacheRepo != nil)

	archive, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare certificate storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)

	queue := jobs.NewQueue("certificates", jobs.QueueConfig{
		Workers:    cfg.Certificates.WorkerConcurrency,
		MaxRetries: cfg.Certificates.WorkerRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
	})

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	sessionRepo := repository.NewQuizSessionRepository(db)
	attemptRepo := repository.NewQuizAttemptRepository(db)

	authSvc := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courses, cacheSvc, metrics, validate, logr)
	progressSvc := service.NewProgressService(enrollmentRepo, courses, cacheSvc, metrics, queue, validate, logr)
	dashboardSvc := service.NewDashboardService(enrollmentRepo, courses, cacheSvc, cfg.Dashboard.CacheTTL, logr)
	certificateSvc := service.NewCertificateService(enrollmentRepo, courses, export.NewCertificateRenderer(), archive, signer, metrics, logr, service.CertificateServiceConfig{
		IssuerName:      cfg.Certificates.IssuerName,
		DownloadBaseURL: cfg.APIPrefix,
		Retention:       cfg.Certificates.Retention,
	})
	quizSvc := service.NewQuizService(courses, logr)
	attemptSvc := service.NewQuizAttemptService(quizSvc, sessionRepo, attemptRepo, metrics, validate, logr, service.QuizAttemptConfig{
		SubmitGrace: cfg.Quiz.SubmitGrace,
		MaxAttempts: cfg.Quiz.MaxAttempts,
	})

	queue.Register(service.JobCertificatePrerender, certificateSvc.HandlePrerenderJob)
	queue.Start(ctx)
	defer queue.Stop()

	tasks := scheduler.New(logr, 5*time.Minute)
	if cfg.Quiz.SweepEnabled {
		if err := tasks.Add("quiz-session-sweep", cfg.Quiz.SweepCron, func(ctx context.Context) error {
			_, err := attemptSvc.SweepExpired(ctx)
			return err
		}); err != nil {
			logr.Fatal("invalid quiz session sweep schedule", zap.Error(err))
		}
	}
	if err := tasks.Add("certificate-cleanup", cfg.Certificates.CleanupCron, func(ctx context.Context) error {
		_, err := certificateSvc.Cleanup(ctx)
		return err
	}); err != nil {
		logr.Fatal("invalid certificate cleanup schedule", zap.Error(err))
	}
	tasks.Start()
	defer tasks.Stop()

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	progressHandler := handler.NewProgressHandler(progressSvc)
	certificateHandler := handler.NewCertificateHandler(certificateSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	quizHandler := handler.NewQuizHandler(quizSvc)
	attemptHandler := handler.NewAttemptHandler(attemptSvc)
	liveHandler := handler.NewLiveSessionHandler(attemptSvc, quizSvc, metrics, cfg.CORS.AllowedOrigins, logr)
	metricsHandler := handler.NewMetricsHandler(metrics, readiness)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.ResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/certificates/download", certificateHandler.SignedDownload)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))

	secured.POST("/enrollments", enrollmentHandler.Enroll)
	secured.GET("/enrollments", enrollmentHandler.ListMine)
	secured.GET("/dashboard", dashboardHandler.Get)

	courseRoutes := secured.Group("/courses/:courseId")
	courseRoutes.GET("/enrollment", enrollmentHandler.Status)
	courseRoutes.GET("/progress", progressHandler.Get)
	courseRoutes.POST("/lessons/:lessonId/complete", progressHandler.CompleteLesson)
	courseRoutes.PUT("/lessons/:lessonId/watch", progressHandler.RecordWatchTime)
	courseRoutes.GET("/certificate", certificateHandler.Download)
	courseRoutes.POST("/certificate/link", certificateHandler.Link)
	courseRoutes.GET("/quizzes", quizHandler.ListForCourse)
	courseRoutes.GET("/students", middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin), progressHandler.Roster)

	secured.GET("/lessons/:lessonId/quiz", quizHandler.ForLesson)

	quizRoutes := secured.Group("/quizzes/:quizId")
	quizRoutes.GET("", quizHandler.Get)
	quizRoutes.POST("/sessions", attemptHandler.StartSession)
	quizRoutes.POST("/attempts", attemptHandler.Submit)
	quizRoutes.GET("/attempts", attemptHandler.History)
	quizRoutes.GET("/attempts/export", middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin), attemptHandler.Export)

	secured.GET("/quiz-sessions/:sessionId/live", liveHandler.Serve)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	courseCount, quizCount := courses.Size()
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "courses", courseCount, "quizzes", quizCount)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
}
