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

	_ "github.com/noah-isme/siga-api/api/swagger"
	"github.com/noah-isme/siga-api/internal/handler"
	internalmiddleware "github.com/noah-isme/siga-api/internal/middleware"
	"github.com/noah-isme/siga-api/internal/repository"
	"github.com/noah-isme/siga-api/internal/service"
	"github.com/noah-isme/siga-api/pkg/cache"
	"github.com/noah-isme/siga-api/pkg/config"
	"github.com/noah-isme/siga-api/pkg/database"
	"github.com/noah-isme/siga-api/pkg/export"
	"github.com/noah-isme/siga-api/pkg/jobs"
	"github.com/noah-isme/siga-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/siga-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/siga-api/pkg/middleware/requestid"
	"github.com/noah-isme/siga-api/pkg/storage"
)

// @title SIGA API
// @version 1.0.0
// @description School admissions: courses, applications, ranking, students and the school subscription
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, course cache disabled", zap.Error(err))
		} else {
			defer client.Close() //nolint:errcheck
			cacheRepo = repository.NewCacheRepository(client)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.CourseTTL, logr, cacheRepo != nil)

	proofs, err := storage.NewLocalStorage(cfg.Storage.UploadDir)
	if err != nil {
		logr.Fatal("failed to prepare upload storage", zap.Error(err))
	}
	receipts, err := storage.NewLocalStorage(cfg.Storage.ReceiptsDir)
	if err != nil {
		logr.Fatal("failed to prepare receipt storage", zap.Error(err))
	}
	exports, err := storage.NewLocalStorage(cfg.Storage.ExportDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	pdf := export.NewPDFExporter()
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	appRepo := repository.NewApplicationRepository(db)
	historyRepo := repository.NewAcademicHistoryRepository(db)
	sequenceRepo := repository.NewSequenceRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	resetRepo := repository.NewPasswordResetRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	schoolConfigRepo := repository.NewSchoolConfigRepository(db)
	yearRepo := repository.NewAcademicYearRepository(db)

	notifications := service.NewNotificationService(notificationRepo, userRepo, validate, logr)
	courses := service.NewCourseService(courseRepo, cacheSvc, validate, logr, service.CourseServiceConfig{
		CacheTTL:  cfg.Cache.CourseTTL,
		KeyPrefix: cfg.Cache.KeyPrefix,
	})
	applications := service.NewApplicationService(appRepo, courseRepo, historyRepo, sequenceRepo, courses, validate, logr, service.ApplicationServiceConfig{
		EnforcePrerequisites: cfg.Enrollment.EnforcePrerequisites,
	})
	approvals := service.NewApprovalService(appRepo, courseRepo, courses, metrics, notifications, userRepo, logr)

	receiptSvc := service.NewReceiptService(subscriptionRepo, userRepo, pdf, receipts, metrics, logr)
	receiptQueue := jobs.NewQueue("receipts", receiptSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Receipts.WorkerConcurrency,
		MaxRetries: cfg.Receipts.WorkerRetries,
		Logger:     logr,
		OnGiveUp:   receiptSvc.OnGiveUp,
	})
	// Receipt workers outlive the signal context so Drain can finish them.
	receiptQueue.Start(context.WithoutCancel(ctx))

	subscriptions := service.NewSubscriptionService(subscriptionRepo, service.SubscriptionDeps{
		Proofs:   proofs,
		Receipts: receipts,
		Signer:   signer.Scoped("receipt"),
		Queue:    receiptQueue,
		Metrics:  metrics,
		Notifier: notifications,
		Audit:    userRepo,
	}, validate, logr, service.SubscriptionServiceConfig{
		SchoolName:       cfg.Subscription.SchoolName,
		MaxProofBytes:    cfg.Storage.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Storage.AllowedMIMEs,
		DownloadBasePath: cfg.APIPrefix + "/receipts",
	})

	authSvc := service.NewAuthService(userRepo, resetRepo, subscriptions, service.LogResetDispatcher{Logger: logr}, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "siga-api",
		SubscriptionGate:   cfg.Auth.SubscriptionGate,
		ResetTokenTTL:      cfg.Auth.ResetTokenTTL,
		ResetOTPTTL:        cfg.Auth.ResetOTPTTL,
	})
	users := service.NewUserService(userRepo, notifications, validate, logr)
	students := service.NewStudentService(studentRepo, appRepo, sequenceRepo, userRepo, logr)
	years := service.NewAcademicYearService(yearRepo, validate, logr)
	schoolConfig := service.NewSchoolConfigService(schoolConfigRepo, userRepo, validate, logr)
	documents := service.NewDocumentService(documentRepo, appRepo, schoolConfigRepo, pdf, validate, logr)
	exportSvc := service.NewExportService(appRepo, courseRepo, exports, signer.Scoped("export"), service.ExportConfig{
		DownloadBasePath: cfg.APIPrefix + "/exports",
		ResultTTL:        cfg.Storage.ExportTTL,
		CleanupInterval:  cfg.Storage.ExportCleanup,
	}, logr, export.NewCSVExporter(export.WithBOM()), pdf)
	exportSvc.StartCleanup(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metrics,
		handler.ReadinessProbe{Name: "database", Required: true, Check: func(ctx context.Context) (string, error) {
			return "ok", db.PingContext(ctx)
		}},
		handler.ReadinessProbe{Name: "cache", Check: func(ctx context.Context) (string, error) {
			return cacheSvc.Status(ctx), nil
		}},
		handler.ReadinessProbe{Name: "receipt_queue", Check: func(context.Context) (string, error) {
			return fmt.Sprintf("%d pending", receiptQueue.Pending()), nil
		}},
	)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Users:         handler.NewUserHandler(users),
		Courses:       handler.NewCourseHandler(courses),
		Applications:  handler.NewApplicationHandler(applications),
		Approvals:     handler.NewApprovalHandler(approvals),
		Exports:       handler.NewExportHandler(exportSvc),
		Students:      handler.NewStudentHandler(students),
		Documents:     handler.NewDocumentHandler(documents),
		Subscriptions: handler.NewSubscriptionHandler(subscriptions),
		Notifications: handler.NewNotificationHandler(notifications),
		School:        handler.NewSchoolHandler(years, schoolConfig),
		Metrics:       metricsHandler,
	}, authSvc, userRepo)

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	if left := receiptQueue.Drain(10 * time.Second); left > 0 {
		logr.Warn("receipt jobs abandoned", zap.Int64("count", left))
	}
}
