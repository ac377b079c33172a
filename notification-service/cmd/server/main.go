package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fairytale-server/notification-service/internal/config"
	"fairytale-server/notification-service/internal/messaging"
	"fairytale-server/notification-service/internal/service"
	pgdb "fairytale-server/pkg/database"
	"fairytale-server/shared/database"
	sharedLogger "fairytale-server/shared/logger"
	sharedMessaging "fairytale-server/shared/messaging"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	// --- Загрузка конфигурации ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// --- Инициализация логгера ---
	logger, err := sharedLogger.New(sharedLogger.Config{Service: "notification-service", Level: cfg.Log.Level, Encoding: "json"})
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("Логгер инициализирован", "logLevel", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Подключения ---
	pool, err := pgdb.Connect(ctx, pgdb.Config{
		DSN:        cfg.Database.DSN(),
		MaxConns:   cfg.Database.MaxConns,
		MaxRetries: 50,
		RetryDelay: 3 * time.Second,
	}, logger.Named("Postgres"))
	if err != nil {
		sugar.Fatalf("Не удалось подключиться к PostgreSQL: %v", err)
	}
	defer pool.Close()

	rabbitConn, err := sharedMessaging.Connect(cfg.RabbitMQ.URI, 50, 5*time.Second, logger)
	if err != nil {
		sugar.Fatalf("Не удалось подключиться к RabbitMQ: %v", err)
	}
	defer rabbitConn.Close()
	sugar.Info("Успешно подключено к RabbitMQ")

	// --- Инициализация зависимостей ---
	deviceTokens := database.NewPgDeviceTokenRepository(pool, logger.Named("PgDeviceTokenRepo"))

	fcmSender, err := service.NewFCMSender(ctx, cfg.FCM, logger)
	if err != nil {
		sugar.Fatalf("Ошибка инициализации FCM Sender: %v", err)
	}
	if fcmSender == nil {
		fcmSender = service.NewStubFCMSender(logger)
	}
	apnsSender, err := service.NewApnsSender(cfg.APNS, logger)
	if err != nil {
		sugar.Fatalf("Ошибка инициализации APNS Sender: %v", err)
	}
	if apnsSender == nil {
		apnsSender = service.NewStubApnsSender(logger)
	}
	emailSender, err := service.NewEmailSender(cfg.SMTP, logger)
	if err != nil {
		sugar.Fatalf("Ошибка инициализации SMTP Sender: %v", err)
	}

	notificationService := service.NewNotificationService(deviceTokens, logger, fcmSender, apnsSender)

	consumers := []*messaging.Consumer{
		messaging.NewConsumer(rabbitConn, logger, cfg.PushQueueName, cfg.WorkerConcurrency,
			messaging.NewPushProcessor(logger, notificationService)),
		messaging.NewConsumer(rabbitConn, logger, cfg.EmailQueueName, cfg.WorkerConcurrency,
			messaging.NewEmailProcessor(logger, emailSender)),
	}

	healthSrv := startHealthCheckServer(cfg.HealthCheckPort, pool, logger)

	// --- Запуск консьюмеров ---
	consumerErrChan := make(chan error, len(consumers))
	for _, consumer := range consumers {
		go func(c *messaging.Consumer) {
			consumerErrChan <- c.Start()
		}(consumer)
	}
	sugar.Info("Сервис уведомлений запущен.")

	select {
	case <-ctx.Done():
		sugar.Info("Получен сигнал завершения, начинаем остановку...")
	case err := <-consumerErrChan:
		sugar.Errorw("Консьюмер завершился, инициируем остановку", "error", err)
		consumerErrChan <- err
	}

	// --- Graceful shutdown ---
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := healthSrv.Shutdown(ctxShutdown); err != nil {
		sugar.Errorf("Ошибка при остановке Health Check сервера: %v", err)
	}

	for _, consumer := range consumers {
		consumer.Stop()
	}
	for range consumers {
		<-consumerErrChan
	}
	sugar.Info("Сервис уведомлений успешно остановлен.")
}

func startHealthCheckServer(port string, pool *pgxpool.Pool, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Запуск Health Check сервера", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Ошибка запуска Health Check сервера", zap.Error(err))
		}
	}()
	return srv
}
