package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pgdb "fairytale-server/pkg/database"
	"fairytale-server/pkg/migration"
	"fairytale-server/shared/authutils"
	"fairytale-server/shared/configservice"
	"fairytale-server/shared/database"
	sharedLogger "fairytale-server/shared/logger"
	"fairytale-server/shared/messaging"
	sharedMiddleware "fairytale-server/shared/middleware"
	"fairytale-server/shared/models"
	"fairytale-server/shared/storage"
	"fairytale-server/story-generator/internal/agent"
	"fairytale-server/story-generator/internal/approval"
	"fairytale-server/story-generator/internal/config"
	"fairytale-server/story-generator/internal/handler"
	"fairytale-server/story-generator/internal/ledger"
	"fairytale-server/story-generator/internal/notification"
	"fairytale-server/story-generator/internal/pipeline"
	"fairytale-server/story-generator/internal/provider"

	rateli "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

const (
	maxRetries = 50
	retryDelay = 3 * time.Second
)

func main() {
	// .env нужен только локально, в docker переменные приходят из compose
	_ = godotenv.Load()

	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	logger, err := sharedLogger.New(sharedLogger.Config{Service: "story-generator", Level: cfg.LogLevel, Encoding: "json"})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	zap.L().Info("Logger initialized successfully", zap.String("logLevel", cfg.LogLevel))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- External Connections ---
	pgPool, err := pgdb.Connect(rootCtx, pgdb.Config{
		DSN:             cfg.GetDSN(),
		MaxConns:        cfg.DBMaxConns,
		MaxConnIdleTime: cfg.DBIdleTimeout,
		MaxRetries:      maxRetries,
		RetryDelay:      retryDelay,
	}, logger.Named("Postgres"))
	if err != nil {
		zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()

	if err := migration.NewMigrator(migration.Config{}, pgPool).Up(rootCtx); err != nil {
		zap.L().Fatal("Failed to apply migrations", zap.Error(err))
	}
	zap.L().Info("Database migrations applied")

	redisClient, err := setupRedis(rootCtx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	mqConn, err := messaging.Connect(cfg.RabbitMQURL, maxRetries, retryDelay, logger.Named("RabbitMQ"))
	if err != nil {
		zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()
	zap.L().Info("Connected to RabbitMQ")

	objects, err := storage.New(rootCtx, storage.Config{
		Driver:   cfg.StorageDriver,
		LocalDir: cfg.StorageLocalDir,
		S3Region: cfg.S3Region,
		S3Bucket: cfg.S3Bucket,
		S3Prefix: cfg.S3Prefix,
		KMSKeyID: cfg.S3KMSKeyID,
	})
	if err != nil {
		zap.L().Fatal("Failed to initialize object storage", zap.Error(err))
	}

	// --- Dynamic configuration ---
	configRepo := database.NewPgDynamicConfigRepository(pgPool, logger.Named("PgDynamicConfigRepo"))
	configPublisher, err := messaging.NewRabbitMQConfigUpdatePublisher(mqConn, logger)
	if err != nil {
		zap.L().Fatal("Failed to create config update publisher", zap.Error(err))
	}
	configService, err := configservice.NewConfigService(rootCtx, configRepo, configPublisher, logger.Named("ConfigService"))
	if err != nil {
		zap.L().Fatal("Failed to load dynamic configuration", zap.Error(err))
	}
	configConsumer, err := messaging.NewConfigUpdateConsumer(mqConn, configService, logger)
	if err != nil {
		zap.L().Fatal("Failed to create config update consumer", zap.Error(err))
	}
	if err := configConsumer.Start(); err != nil {
		zap.L().Fatal("Failed to start config update consumer", zap.Error(err))
	}

	// --- Dependency Injection ---
	storyRepo := database.NewPgStoryRepository(pgPool, logger.Named("PgStoryRepo"))
	usageRepo := database.NewPgUsageRepository(pgPool, logger.Named("PgUsageRepo"))
	ownerRepo := database.NewPgOwnerRepository(pgPool, logger.Named("PgOwnerRepo"))
	deviceRepo := database.NewPgDeviceTokenRepository(pgPool, logger.Named("PgDeviceTokenRepo"))
	reviewTokens := database.NewRedisReviewTokenRepository(redisClient, logger.Named("RedisReviewTokenRepo"))

	notifyPublisher, err := messaging.NewRabbitMQNotificationPublisher(mqConn, logger)
	if err != nil {
		zap.L().Fatal("Failed to create notification publisher", zap.Error(err))
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		zap.L().Fatal("Failed to initialize vendor clients", zap.Error(err))
	}

	usageLedger := ledger.New(usageRepo, logger)
	agents := agent.New(registry, usageLedger, logger)
	dispatcher := notification.NewDispatcher(notifyPublisher, notifyPublisher, cfg.PublicBaseURL, logger)
	gate := approval.New(storyRepo, ownerRepo, reviewTokens, dispatcher, logger)
	hub := pipeline.NewHub(logger)

	coordinator := pipeline.NewCoordinator(pipeline.Config{
		ProcessingTimeout: cfg.ProcessingTimeout,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		MaxInputBytes:     cfg.MaxInputBytes,
	}, storyRepo, ownerRepo, objects, agents, usageLedger, gate, dispatcher, configService, hub, logger)

	sweeper := pipeline.NewSweeper(storyRepo, hub, cfg.SweepInterval, cfg.StaleAfter(), logger)
	go sweeper.Run(rootCtx)

	verifier, err := authutils.NewJWTVerifier(cfg.JWTSecret, logger)
	if err != nil {
		zap.L().Fatal("Failed to create JWT verifier", zap.Error(err))
	}

	storyHandler := handler.NewStoryHandler(coordinator, usageLedger, ownerRepo, deviceRepo, configService, verifier,
		handler.Options{
			MaxUploadBytes:     cfg.MaxInputBytes,
			StreamPollInterval: cfg.StreamPollInterval,
			AllowedOrigins:     cfg.CORSAllowedOrigins,
		}, logger)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(sharedMiddleware.ZapLoggingMiddlewareForGin(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	if len(corsConfig.AllowOrigins) == 1 && corsConfig.AllowOrigins[0] == "*" {
		// cors запрещает "*" вместе с credentials
		corsConfig.AllowOrigins = nil
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	}
	router.Use(cors.New(corsConfig))

	handler.RegisterHealth(router, func(ctx context.Context) error { return pgPool.Ping(ctx) })

	var submitLimit []gin.HandlerFunc
	if cfg.SubmitRateLimit > 0 {
		submitLimit = append(submitLimit, newSubmitRateLimiter(redisClient, cfg.SubmitRateLimit))
	}
	storyHandler.RegisterRoutes(router, submitLimit...)

	// Prometheus middleware после регистрации роутов, /metrics регистрирует сам
	p.Use(router)

	// --- Start HTTP Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 2 * time.Minute, // загрузка файлов до MaxInputBytes
		// WriteTimeout не ставим: медиа и websocket отдаются дольше любого разумного лимита
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		zap.L().Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-rootCtx.Done()
	zap.L().Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	// Недоделанные прогоны отменяются и уходят в error с кодом timeout, владелец может сделать retry
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Pipeline runs did not finish before shutdown", zap.Error(err))
	}
	configConsumer.Stop()

	zap.L().Info("Server exiting")
}

// buildRegistry регистрирует вендоров, для которых заданы ключи или адреса.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	prices := provider.DefaultPriceTable()

	register := func(vendor string, c *provider.OpenAIClient) {
		registry.RegisterVision(vendor, c)
		registry.RegisterText(vendor, c)
		registry.RegisterSpeech(vendor, c)
		registry.RegisterImage(vendor, c)
		registry.RegisterTranscription(vendor, c)
	}

	if cfg.OpenAIAPIKey != "" {
		register("openai", provider.NewOpenAIClient(provider.OpenAIConfig{
			Vendor:  "openai",
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.VendorTimeout,
			Limit:   provider.LimitConfig{RPS: cfg.OpenAIRPS},
			Prices:  prices,
		}, logger))
	}
	if cfg.OpenRouterAPIKey != "" {
		register("openrouter", provider.NewOpenAIClient(provider.OpenAIConfig{
			Vendor:  "openrouter",
			APIKey:  cfg.OpenRouterAPIKey,
			BaseURL: cfg.OpenRouterBaseURL,
			Timeout: cfg.VendorTimeout,
			Limit:   provider.LimitConfig{RPS: cfg.OpenRouterRPS},
			Prices:  prices,
		}, logger))
	}
	if cfg.OllamaURL != "" {
		ollama, err := provider.NewOllamaClient(provider.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Timeout: cfg.VendorTimeout,
			Limit:   provider.LimitConfig{RPS: cfg.OllamaRPS},
			Prices:  prices,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		registry.RegisterVision("ollama", ollama)
		registry.RegisterText("ollama", ollama)
	}
	if cfg.SanaURL != "" {
		registry.RegisterImage("sana", provider.NewSanaClient(provider.SanaConfig{
			BaseURL:     cfg.SanaURL,
			Timeout:     cfg.VendorTimeout,
			StyleSuffix: cfg.SanaStyleSuffix,
			Limit:       provider.LimitConfig{RPS: cfg.SanaRPS},
			Prices:      prices,
		}, logger))
	}

	for _, op := range models.AllOperationTypes() {
		if len(registry.Vendors(op)) == 0 {
			logger.Warn("No vendor registered for operation", zap.String("operation", string(op)))
		}
	}
	return registry, nil
}

// newSubmitRateLimiter ограничивает отправку историй на пользователя (или IP для ссылок ревью).
func newSubmitRateLimiter(client *redis.Client, perMinute uint) gin.HandlerFunc {
	store := rateli.RedisStore(&rateli.RedisOptions{
		RedisClient: client,
		Rate:        time.Minute,
		Limit:       perMinute,
	})
	return rateli.RateLimiter(store, &rateli.Options{
		ErrorHandler: func(c *gin.Context, info rateli.Info) {
			zap.L().Warn("Rate limit exceeded",
				zap.String("clientIP", c.ClientIP()),
				zap.Time("resetTime", info.ResetTime),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Code:    models.ErrCodeRateLimited,
				Message: "Too many requests. Try again in " + time.Until(info.ResetTime).Round(time.Second).String(),
			})
		},
		KeyFunc: func(c *gin.Context) string {
			if userID, ok := sharedMiddleware.GetUserID(c); ok {
				return "user:" + userID.String()
			}
			return "ip:" + c.ClientIP()
		},
	})
}

// setupRedis подключается к Redis с повторными попытками.
func setupRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	zap.L().Info("Attempting to connect and ping Redis",
		zap.String("address", cfg.RedisAddr),
		zap.Int("max_retries", maxRetries),
	)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			zap.L().Info("Successfully connected and pinged Redis", zap.Int("attempt", attempt))
			return client, nil
		}
		zap.L().Warn("Redis ping failed, retrying...", zap.Int("attempt", attempt), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, lastErr)
}
