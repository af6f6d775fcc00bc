package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"

	"reachflow/config"
	"reachflow/orchestrator"
	"reachflow/platform"
	"reachflow/routes"
	"reachflow/worker"
)

func main() {
	logger := log.New(os.Stdout, "REACHFLOW: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry when a DSN is configured
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Redis backs dedup and the per-lead locks; without it the engine runs
	// on the database fallbacks alone.
	var rdb *redis.Client
	if config.AppConfig.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Printf("Redis unreachable, continuing with database fallbacks: %v", err)
		}
	}

	store := orchestrator.NewGormStore(config.DB)
	adapters := platform.NewFactory(nil, log.New(os.Stdout, "PLATFORM: ", log.LstdFlags))

	var classifier orchestrator.Classifier
	if config.AppConfig.ClassifierURL != "" {
		classifier = orchestrator.NewHTTPClassifier(config.AppConfig.ClassifierURL, config.AppConfig.ClassifierAPIKey)
	}

	dedup := orchestrator.NewRedisDedup(rdb, config.DB,
		time.Duration(config.AppConfig.DedupWindowMinutes)*time.Minute)

	var locks orchestrator.Locker = orchestrator.NopLocker{}
	if rdb != nil {
		locks = orchestrator.NewRedisLocker(rdb, 30*time.Second)
	}

	engine := orchestrator.NewEngine(store, adapters, classifier, dedup, locks,
		orchestrator.Policy{
			EmailStepWait:     config.EmailStepWait(),
			LinkedInStepWait:  config.LinkedInStepWait(),
			EngagementGrace:   config.EngagementGrace(),
			MaxDeployAttempts: config.AppConfig.AdapterMaxAttempts,
		},
		log.New(os.Stdout, "ENGINE: ", log.LstdFlags))

	// Webhook handlers enqueue, the event worker pool consumes
	queue := make(chan orchestrator.CanonicalEvent, 1024)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepInterval := time.Duration(config.AppConfig.SweepIntervalSeconds) * time.Second

	go worker.NewEventWorker(engine, queue, config.AppConfig.EventWorkers,
		log.New(os.Stdout, "EVENT: ", log.LstdFlags)).Start(ctx)
	go worker.NewSweepWorker(engine, sweepInterval, log.New(os.Stdout, "SWEEP: ", log.LstdFlags)).Start(ctx)
	go worker.NewOutboxWorker(store, nil, 30*time.Second, config.AppConfig.OutboxMaxAttempts,
		log.New(os.Stdout, "OUTBOX: ", log.LstdFlags)).Start(ctx)
	go worker.NewReconcileWorker(store, adapters, engine, sweepInterval, 15*time.Minute,
		log.New(os.Stdout, "RECONCILE: ", log.LstdFlags)).Start(ctx)

	// Create Fiber app
	app := fiber.New()

	// Setup routes
	routes.SetupRoutes(app, config.DB, engine, queue)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
