package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"eggbackend/internal/config"
	"eggbackend/internal/database"
	"eggbackend/internal/handlers"
	"eggbackend/internal/jobs"
	"eggbackend/internal/logging"
	"eggbackend/internal/middleware"
	"eggbackend/internal/pipeline"
	"eggbackend/internal/services"
	"eggbackend/pkg/auth"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Eggbook Backend...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	if cfg.MongoURI == "" {
		log.Fatal("❌ MONGODB_URI environment variable is required")
	}
	if cfg.JWTSecretKey == "" {
		log.Fatal("❌ JWT_SECRET_KEY environment variable is required")
	}

	db, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer db.Close(context.Background())

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Initialize(initCtx); err != nil {
		cancelInit()
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	cancelInit()

	metrics := services.InitMetrics()

	// Cooldown gate: Redis when configured (multi-replica), in-process
	// otherwise.
	cooldown := time.Duration(cfg.AIUserCooldownSec * float64(time.Second))
	var gate pipeline.Gate
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			log.Printf("⚠️ Redis unreachable (%v), falling back to in-process cooldown gate", err)
		} else {
			gate = pipeline.NewRedisGate(rdb, cooldown)
			log.Println("✅ Redis cooldown gate enabled")
		}
	}
	if gate == nil {
		gate = pipeline.NewMemoryGate(cooldown)
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecretKey, cfg.JWTTokenExpiry)

	userService := services.NewUserService(db, jwtManager)
	eventService := services.NewEventService(db)
	eggbookService := services.NewEggbookService(db)
	uploadService, err := services.NewUploadService(cfg.UploadDir, cfg.UploadExpires)
	if err != nil {
		log.Fatalf("❌ Failed to initialize uploads: %v", err)
	}

	batchMaxWait := time.Duration(cfg.AudioBatchMaxWaitHours * float64(time.Hour))
	scheduler := pipeline.NewScheduler(cfg.AudioBatchTriggerCount, batchMaxWait, cfg.AIQueueMaxEventsPerRun)

	var (
		orchestrator   *pipeline.Orchestrator
		commentService *services.CommentService
	)
	if cfg.AIEnabled() {
		gemini := services.NewGeminiClient(cfg)
		extractionService := services.NewExtractionService(gemini, cfg)
		sttService := services.NewSTTService(gemini, cfg, uploadService.ResolveLocalURL)
		commentService = services.NewCommentService(db, eventService, eggbookService, extractionService, cfg.CommentRetentionDays)

		orchestrator = pipeline.NewOrchestrator(pipeline.OrchestratorDeps{
			Scheduler:   scheduler,
			Gate:        gate,
			Events:      eventService,
			Eggbook:     eggbookService,
			Transcriber: sttService,
			Extractor:   extractionService,
			Comments:    commentService,
			Metrics:     metrics,
		})
		log.Println("✅ AI pipeline enabled")
	} else {
		commentService = services.NewCommentService(db, eventService, eggbookService, nil, cfg.CommentRetentionDays)
		log.Println("⚠️  GEMINI_API_KEY not set - AI pipeline disabled, events will stay pending")
	}

	runner, err := jobs.NewRunner(cfg, eventService, commentService, uploadService, orchestrator)
	if err != nil {
		log.Fatalf("❌ Failed to create job runner: %v", err)
	}
	if err := runner.Start(); err != nil {
		log.Fatalf("❌ Failed to start background jobs: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "Eggbook Backend v1.0",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    64 * 1024 * 1024, // recordings arrive through the signed PUT
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("eggbackend")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	authHandler := handlers.NewAuthHandler(userService)
	eventHandler := handlers.NewEventHandler(cfg, eventService, eggbookService, scheduler, orchestrator, gate)
	eggbookHandler := handlers.NewEggbookHandler(eggbookService)
	commentHandler := handlers.NewCommentHandler(commentService)
	uploadHandler := handlers.NewUploadHandler(uploadService)
	healthHandler := handlers.NewHealthHandler(db)

	requireAuth := middleware.JWTAuth(jwtManager)

	app.Get("/", healthHandler.HandleHealth)

	v1 := app.Group("/v1")
	v1.Post("/auth/anonymous", authHandler.HandleAnonymousAuth)
	v1.Post("/devices", requireAuth, authHandler.HandleRegisterDevice)
	v1.Post("/memory", requireAuth, authHandler.HandleCreateMemory)

	events := v1.Group("/events", requireAuth)
	events.Post("/", eventHandler.HandleCreateEvent)
	events.Patch("/:id", eventHandler.HandlePatchEvent)
	events.Get("/:id", eventHandler.HandleGetEvent)
	events.Get("/:id/status", eventHandler.HandleGetEventStatus)

	if cfg.EventDebugEnabled {
		debug := v1.Group("/debug", requireAuth)
		debug.Get("/events/:id/ai-state", eventHandler.HandleDebugAIState)
		debug.Get("/events/:id/linked-idea", eventHandler.HandleDebugLinkedIdea)
		log.Println("🔍 Event debug endpoints enabled")
	}

	eggbook := v1.Group("/eggbook", requireAuth)
	eggbook.Get("/ideas", eggbookHandler.HandleListIdeas)
	eggbook.Post("/ideas", eggbookHandler.HandleCreateIdea)
	eggbook.Get("/ideas/:id", eggbookHandler.HandleGetIdea)
	eggbook.Delete("/ideas/:id", eggbookHandler.HandleDeleteIdea)

	eggbook.Get("/todos", eggbookHandler.HandleListTodos)
	eggbook.Post("/todos", eggbookHandler.HandleCreateTodo)
	eggbook.Patch("/todos/:id", eggbookHandler.HandleUpdateTodo)
	eggbook.Delete("/todos/:id", eggbookHandler.HandleDeleteTodo)
	eggbook.Post("/todos/:id/accept", eggbookHandler.HandleAcceptTodo)
	eggbook.Post("/todos/:id/schedule", eggbookHandler.HandleScheduleTodo)

	eggbook.Get("/notifications", eggbookHandler.HandleListNotifications)
	eggbook.Post("/notifications", eggbookHandler.HandleCreateNotification)
	eggbook.Patch("/notifications/:id", eggbookHandler.HandleUpdateNotification)
	eggbook.Delete("/notifications/:id", eggbookHandler.HandleDeleteNotification)

	eggbook.Get("/comments", commentHandler.HandleListComments)
	eggbook.Post("/comments", commentHandler.HandleCreateComment)
	eggbook.Get("/comments/status", commentHandler.HandleCommentStatus)
	eggbook.Post("/comments/generate", commentHandler.HandleGenerateComments)

	eggbook.Get("/sync-status", eggbookHandler.HandleSyncStatus)

	v1.Post("/uploads/recording", requireAuth, uploadHandler.HandleCreateUpload)
	v1.Put("/uploads/recording/:id", uploadHandler.HandlePutUpload)
	v1.Get("/uploads/files/:id", uploadHandler.HandleGetFile)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		runner.Stop()

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
