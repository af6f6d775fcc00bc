package routes

import (
	"log"
	"os"

	controller "reachflow/controllers"
	"reachflow/middleware"
	"reachflow/orchestrator"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

// SetupWebhookRoutes registers the public platform ingestion endpoints.
// These authenticate with per-platform shared secrets, not JWTs.
func SetupWebhookRoutes(app *fiber.App, queue chan<- orchestrator.CanonicalEvent) {
	webhookLogger := log.New(os.Stdout, "WEBHOOK: ", log.Ldate|log.Ltime|log.Lshortfile)

	smartlead := controller.NewSmartleadWebhookController(queue, webhookLogger)
	heyreach := controller.NewHeyReachWebhookController(queue, webhookLogger)

	webhooks := app.Group("/webhooks", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	webhooks.Post("/smartlead", smartlead.HandleWebhook)
	webhooks.Post("/heyreach", heyreach.HandleWebhook)

	webhookLogger.Println("Webhook routes initialized successfully")
}

// SetupAPIRoutes registers the tenant-facing orchestration API.
func SetupAPIRoutes(app *fiber.App, db *gorm.DB, engine *orchestrator.Engine) {
	orchestrationController := controller.NewOrchestrationController(db, engine,
		log.New(os.Stdout, "ORCHESTRATION: ", log.LstdFlags))

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	orchestrations := api.Group("/orchestrations")
	orchestrations.Post("/", orchestrationController.StartOrchestration)
	orchestrations.Get("/", orchestrationController.ListOrchestrations)
	orchestrations.Get("/:leadID", orchestrationController.GetOrchestration)
	orchestrations.Post("/:leadID/pause", orchestrationController.PauseOrchestration)
	orchestrations.Post("/:leadID/resume", orchestrationController.ResumeOrchestration)
	orchestrations.Post("/:leadID/cancel", orchestrationController.CancelOrchestration)
	orchestrations.Post("/:leadID/force-advance", orchestrationController.ForceAdvance)
	orchestrations.Get("/:leadID/events", orchestrationController.GetEventLog)

	// WebSocket route for orchestration progress
	app.Get("/api/v1/orchestrations/progress", middleware.Protected(), websocket.New(func(c *websocket.Conn) {
		controller.HandleOrchestrationWS(c)
	}))

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB, engine *orchestrator.Engine, queue chan<- orchestrator.CanonicalEvent) {
	app.Use(cors.New())

	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupWebhookRoutes(app, queue)
	SetupAPIRoutes(app, db, engine)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
