package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/novarell/expertdesk-api/internal/config"
	"github.com/novarell/expertdesk-api/internal/database"
	"github.com/novarell/expertdesk-api/internal/handler"
	"github.com/novarell/expertdesk-api/internal/middleware"
	"github.com/novarell/expertdesk-api/internal/models"
	"github.com/novarell/expertdesk-api/internal/realtime"
	"github.com/novarell/expertdesk-api/internal/repository"
	"github.com/novarell/expertdesk-api/internal/router"
	"github.com/novarell/expertdesk-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Order{}, &models.Message{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, continuing single-node")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, continuing without it")
			natsConn = nil
		} else {
			defer natsConn.Close()
		}
	}

	runCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()

	bus := realtime.NewBus(redisClient, natsConn, cfg.ChannelBase, logger)
	bus.Start(runCtx)

	validate := validator.New(validator.WithRequiredStructEnabled())

	orderRepo := repository.NewOrderRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	var cooldownStore repository.CooldownStore
	if redisClient != nil {
		cooldownStore = repository.NewRedisCooldownStore(redisClient, cfg.ChannelBase)
	} else {
		cooldownStore = repository.NewMemoryCooldownStore()
	}

	cooldownEngine := service.NewCooldownEngine(cooldownStore, cfg.NotifyCooldown, logger)
	presenceTracker := service.NewPresenceTracker(bus, logger)
	readReceipts := service.NewReadReceiptService(messageRepo, logger)

	chatService := service.NewChatService(service.ChatServiceDeps{
		Orders:       orderRepo,
		Messages:     messageRepo,
		Cooldown:     cooldownEngine,
		Presence:     presenceTracker,
		ReadReceipts: readReceipts,
		Transport:    bus,
		Delivery:     service.NewLogEmailDelivery(logger),
		TeamNotifier: service.NewLogTeamNotifier(logger),
		Validator:    validate,
		BaseURL:      cfg.AppBaseURL,
		KeepAlive:    cfg.StreamKeepAlive,
	}, logger)
	chatService.Start(runCtx)

	conversationService := service.NewConversationService(orderRepo, messageRepo, bus, cfg.ClosingWindow, logger)
	conversationService.Start(runCtx)

	chatHandler := handler.NewChatHandler(chatService, presenceTracker, logger)
	conversationHandler := handler.NewConversationHandler(conversationService, logger, cfg.StreamKeepAlive)
	orderHandler := handler.NewOrderHandler(orderRepo, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         chatHandler,
		ConversationHandler: conversationHandler,
		OrderHandler:        orderHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, stopConsumers)
}

func waitForShutdown(app *fiber.App, stopConsumers context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopConsumers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
