package main

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	"inboxpilot/ai"
	"inboxpilot/config"
	"inboxpilot/mailbox"
	"inboxpilot/middleware"
	"inboxpilot/models"
	"inboxpilot/routes"
	"inboxpilot/utils"
	"inboxpilot/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "MONITOR: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Mailbox clients by provider
	clients := mailbox.Registry{
		models.ProviderGmail: mailbox.NewGmailClient(config.AppConfig.Google, config.DB),
		models.ProviderIMAP:  mailbox.NewIMAPClient(),
	}

	// Reply generation and push delivery
	generator := ai.NewClient(config.AppConfig.AI.BaseURL, config.AppConfig.AI.APIKey, config.AppConfig.AI.Model)
	notifier := utils.NewPushSender(config.DB, config.AppConfig.PushEndpoint, log.New(os.Stdout, "PUSH: ", log.LstdFlags))

	// Initialize and start the mailbox monitor
	tick := time.Duration(config.AppConfig.MonitorTickMinutes) * time.Minute
	monitor := worker.NewMonitor(config.DB, clients, generator, notifier, logger, tick)
	monitor.Start()
	defer monitor.Stop()

	// Setup routes
	routes.SetupRoutes(app, config.DB, monitor)

	// Health check endpoint
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
