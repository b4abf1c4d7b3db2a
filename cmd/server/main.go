package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"whisper/backend/internal/auth"
	jwtpkg "whisper/backend/internal/auth/jwt"
	"whisper/backend/internal/chat"
	"whisper/backend/internal/config"
	"whisper/backend/internal/health"
	"whisper/backend/internal/logger"
	"whisper/backend/internal/mailer"
	"whisper/backend/internal/monitoring"
	"whisper/backend/internal/otp"
	"whisper/backend/internal/pool"
	"whisper/backend/internal/security"
	"whisper/backend/internal/storage"
	"whisper/backend/internal/storage/blob"
	"whisper/backend/internal/storage/memory"
	"whisper/backend/internal/storage/postgres"
	redisstore "whisper/backend/internal/storage/redis"
	"whisper/backend/internal/throttle"
	httptransport "whisper/backend/internal/transport/http"
	"whisper/backend/internal/websocket"
)

const (
	cacheSweepInterval = 5 * time.Minute
	sendLimiterIdle    = 30 * time.Minute
)

// main 启动 HTTP API 与实时推送服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting whisper server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	checker := health.NewChecker(log)

	// 存储层
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	checker.AddReadiness("store", store)

	// 限流窗口
	windows, closeWindows, err := openWindowStore(cfg, log, checker)
	if err != nil {
		return err
	}
	defer closeWindows()

	limiter := throttle.NewLimiter(windows, throttle.Policy{
		Cooldown:  cfg.Throttle.Cooldown,
		HourlyCap: cfg.Throttle.HourlyCap,
		DailyCap:  cfg.Throttle.DailyCap,
	}, log, metrics)
	sendLimiter := throttle.NewSendLimiter(cfg.Upload.SendPerMinute, cfg.Upload.SendBurst)

	// 图片存储
	blobs, err := openBlobStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	// 验证码投递
	workers := pool.NewWorkerPool(cfg.Mail.Workers, cfg.Mail.QueueSize, log)
	workers.Start(ctx)
	defer workers.Stop()
	dispatcher := mailer.NewDispatcher(newNotifier(cfg, log), workers, cfg.Mail.Timeout, log, metrics)

	// 服务层
	tokens := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)
	codes := otp.NewService(store, otp.Config{
		TTL:    cfg.OTP.TTL,
		Length: cfg.OTP.Length,
		Pepper: cfg.OTP.Pepper,
	}, log)
	authService := auth.NewService(limiter, codes, dispatcher, tokens, log, metrics)

	hub := websocket.NewHub(tokens, cfg.CORS.AllowedOrigins, log, metrics)
	chatService := chat.NewService(chat.Options{
		Repo:        store,
		Blobs:       blobs,
		Images:      security.NewImageSecurity(cfg.Upload.AllowedTypes, cfg.Upload.MaxBytes),
		SendGate:    sendLimiter,
		Broadcaster: hub,
		Recorder:    metrics,
		Logger:      log,
	})

	router, err := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		AuthService:  authService,
		ChatService:  chatService,
		Blobs:        blobs,
		WebSocketHub: hub,
		Health:       checker,
		Metrics:      metrics,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return hub.Run(groupCtx)
	})

	// 后台清理任务
	group.Go(func() error {
		return limiter.Run(groupCtx, cfg.Throttle.SweepInterval)
	})
	group.Go(func() error {
		chatService.UserCache().Run(groupCtx, cacheSweepInterval)
		return nil
	})
	group.Go(func() error {
		ticker := time.NewTicker(cacheSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if removed := sendLimiter.Sweep(sendLimiterIdle); removed > 0 {
					log.Debug("swept idle send limiters", zap.Int("removed", removed))
				}
			}
		}
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore 配置了数据库时使用 gorm 存储，否则使用内存存储
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Warn("using memory storage (development mode), data is lost on restart")
		return memory.NewStore(), nil
	}

	store, err := postgres.Open(ctx, &cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database storage: %w", err)
	}
	log.Info("using database storage", zap.String("type", cfg.Database.Type))
	return store, nil
}

// openWindowStore 选择限流窗口后端，redis 后端同时注册就绪检查
func openWindowStore(cfg *config.Config, log *zap.Logger, checker *health.Checker) (throttle.WindowStore, func(), error) {
	if cfg.Throttle.Backend != "redis" {
		log.Info("using in-memory throttle windows")
		return throttle.NewMemoryStore(), func() {}, nil
	}

	client, err := redisstore.New(&cfg.Redis, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	checker.AddReadiness("redis", client)
	log.Info("using redis throttle windows", zap.String("address", cfg.Redis.Address))

	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	return redisstore.NewWindowStore(client.Client(), "whisper:throttle:"), closeFn, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (blob.Store, error) {
	if cfg.Upload.Backend == "minio" {
		store, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:      cfg.Upload.MinioEndpoint,
			AccessKey:     cfg.Upload.MinioAccessKey,
			SecretKey:     cfg.Upload.MinioSecretKey,
			Bucket:        cfg.Upload.MinioBucket,
			UseSSL:        cfg.Upload.MinioUseSSL,
			PresignExpiry: cfg.Upload.PresignExpiry,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio storage: %w", err)
		}
		return store, nil
	}

	store, err := blob.NewFileStore(cfg.Upload.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upload directory: %w", err)
	}
	log.Info("filesystem upload storage initialized", zap.String("path", store.Dir()))
	return store, nil
}

// newNotifier 配置了 SMTP 主机时通过 SMTP 投递，否则把验证码打印到日志
func newNotifier(cfg *config.Config, log *zap.Logger) mailer.Notifier {
	if cfg.Mail.SMTPHost == "" {
		log.Warn("SMTP not configured, login codes will be written to the log")
		return mailer.NewLogNotifier(log)
	}
	return mailer.NewSMTPNotifier(mailer.SMTPConfig{
		Host:     cfg.Mail.SMTPHost,
		Port:     cfg.Mail.SMTPPort,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		FromName: cfg.Mail.FromName,
		CodeTTL:  cfg.OTP.TTL,
	})
}
