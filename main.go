package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"discussion-service/internal/config"
	"discussion-service/internal/contact"
	"discussion-service/internal/db"
	"discussion-service/internal/gateway"
	"discussion-service/internal/handlers"
	"discussion-service/internal/middleware"
	"discussion-service/internal/observability"
	"discussion-service/internal/rabbitmq"
	"discussion-service/internal/registry"
	"discussion-service/internal/repositories"
	"discussion-service/internal/telemetry"
	"discussion-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, "audit.discussions", cfg.ServiceName, cfg.Environment)
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	hub := ws.NewHub()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		relay := ws.NewRedisRelay(redisClient, ws.DefaultRelayChannel)
		hub.SetRelay(relay)
		go relay.Subscribe(ctx, hub)
		log.Printf("notification relay enabled redis=%s", cfg.RedisAddr)
	}

	discussionRepo := repositories.NewDiscussionRepo(database)
	statusRepo := repositories.NewDiscussionStatusRepo(database)
	marketplaceRepo := repositories.NewMarketplaceRepo(database)

	discussions := registry.New(discussionRepo, statusRepo, marketplaceRepo, marketplaceRepo, registry.WithNotifier(hub))

	chatGateway := gateway.New(cfg.Chat, gateway.WithMessageSink(discussions))
	if err := chatGateway.Start(ctx); err != nil {
		// Room creation and provisioning retry the login on demand.
		log.Printf("chat gateway not started: %v", err)
	}
	defer chatGateway.Close()

	workflow := contact.NewWorkflow(marketplaceRepo, marketplaceRepo, chatGateway, discussions)

	validator := middleware.NewTokenValidator(cfg.JWTSecret)
	discussionHandler := handlers.NewDiscussionHandler(discussions, workflow, audit)
	accountHandler := handlers.NewAccountHandler(chatGateway, audit)
	notificationWS := ws.NewNotificationHandler(hub, validator)

	router := gin.New()

	// middlewares
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(validator)

	router.POST("/deals/:deal_id/contact", authMiddleware, discussionHandler.ContactSeller)
	router.GET("/discussions", authMiddleware, discussionHandler.ListDiscussions)
	router.GET("/discussions/lookup", authMiddleware, discussionHandler.LookupDiscussion)
	router.GET("/discussions/unread", authMiddleware, discussionHandler.CountUnread)
	router.POST("/discussions/new-message", authMiddleware, discussionHandler.NewMessage)
	router.POST("/discussions/:discussion_id/read", authMiddleware, discussionHandler.MarkRead)
	router.POST("/chat/accounts", authMiddleware, accountHandler.CreateAccount)

	router.GET("/ws/notifications", notificationWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("discussion-service listening port=%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
