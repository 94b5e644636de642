package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"dm-service/internal/auth"
	"dm-service/internal/config"
	"dm-service/internal/conversations"
	"dm-service/internal/db"
	"dm-service/internal/handlers"
	"dm-service/internal/middleware"
	"dm-service/internal/observability"
	"dm-service/internal/push"
	"dm-service/internal/rabbitmq"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
	"dm-service/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracer(ctx, cfg.Telemetry.OTLPEndpoint, cfg.App.Name)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.RoutingKey, cfg.App.Name, cfg.App.Environment)

	broker := push.NewBroker(cfg.NATS.URL)
	defer broker.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	limiter := middleware.NewSendLimiter(redisClient, cfg.RateLimit.SendsPerMinute)

	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	summaries := conversations.NewService(messageRepo)

	authService := auth.NewService(cfg.JWT.Secret)

	hub := ws.NewHub()
	bridge := ws.NewBridge(broker, hub)
	defer bridge.Close()

	messageHandler := handlers.NewMessageHandler(userRepo, messageRepo, summaries, broker, audit)
	userHandler := handlers.NewUserHandler(userRepo)
	conversationWS := ws.NewConversationHandler(hub, bridge, userRepo, authService, audit)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.App.Name))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.Auth(authService)
	sendLimit := middleware.RateLimit(limiter)

	router.GET("/messages", authMiddleware, messageHandler.GetHistory)
	router.POST("/messages", authMiddleware, sendLimit, messageHandler.PostMessage)
	router.GET("/messages/conversations", authMiddleware, messageHandler.ListConversations)
	router.GET("/users/search", authMiddleware, userHandler.Search)

	router.GET("/ws/conversations/:partner_id", conversationWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	handlers.RegisterDebugRoutes(router, audit, cfg.App.Debug)

	if err := router.Run(":" + cfg.App.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
