package routes

import (
	"log"
	"os"

	controller "inboxpilot/controllers"
	"inboxpilot/middleware"
	"inboxpilot/utils"
	"inboxpilot/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, monitor *worker.Monitor) {
	// Initialize controllers with their respective loggers
	accountController := controller.NewAccountController(db, log.New(os.Stdout, "ACCOUNT: ", log.LstdFlags))
	clientController := controller.NewClientController(db, log.New(os.Stdout, "CLIENT: ", log.LstdFlags))
	draftController := controller.NewDraftController(db, utils.NewDraftMailer(db), log.New(os.Stdout, "DRAFT: ", log.LstdFlags))
	monitorController := controller.NewMonitorController(monitor, log.New(os.Stdout, "MONITOR: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Email account routes
	account := api.Group("/accounts")
	account.Post("/", accountController.CreateAccount)
	account.Get("/", accountController.GetAccounts)
	account.Get("/:id", accountController.GetAccount)
	account.Put("/:id", accountController.UpdateAccount)
	account.Delete("/:id", accountController.DeleteAccount)
	account.Post("/:id/test", accountController.TestAccount)

	// Client filter routes
	clients := api.Group("/clients")
	clients.Post("/", clientController.CreateClient)
	clients.Get("/", clientController.GetClients)
	clients.Put("/:id", clientController.UpdateClient)
	clients.Delete("/:id", clientController.DeleteClient)

	// Monitor routes, check-now is rate limited per user
	mon := api.Group("/monitor")
	mon.Post("/start", monitorController.StartMonitoring)
	mon.Post("/stop", monitorController.StopMonitoring)
	mon.Post("/check-now", middleware.CheckNowRateLimiter(), monitorController.CheckNow)
	mon.Get("/status", monitorController.GetStatus)

	// WebSocket route for monitor progress
	app.Get("/api/v1/monitor/progress", websocket.New(func(c *websocket.Conn) {
		monitorController.HandleProgressWS(c)
	}))

	// Draft routes
	draft := api.Group("/drafts")
	draft.Get("/", draftController.GetDrafts)
	draft.Get("/:id", draftController.GetDraft)
	draft.Post("/:id/approve", draftController.ApproveDraft)
	draft.Post("/:id/decline", draftController.DeclineDraft)
	draft.Post("/:id/send", draftController.SendDraft)

	// Todo routes
	api.Get("/todos", draftController.GetTodos)

	// Log initialization
	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB, monitor *worker.Monitor) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Setup API routes
	SetupAPIRoutes(app, db, monitor)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
