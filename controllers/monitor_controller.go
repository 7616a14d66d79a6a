package controller

import (
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"inboxpilot/models"
	"inboxpilot/worker"
)

type MonitorController struct {
	monitor *worker.Monitor
	logger  *log.Logger
}

func NewMonitorController(monitor *worker.Monitor, logger *log.Logger) *MonitorController {
	return &MonitorController{
		monitor: monitor,
		logger:  logger,
	}
}

// StartMonitoring turns the background polling loop on. Calling it while
// the loop is already running is a no-op.
func (mc *MonitorController) StartMonitoring(c *fiber.Ctx) error {
	mc.monitor.Start()
	return c.JSON(fiber.Map{
		"message": "Monitoring started",
		"running": true,
	})
}

// StopMonitoring cancels the polling loop; in-flight checks finish.
func (mc *MonitorController) StopMonitoring(c *fiber.Ctx) error {
	mc.monitor.Stop()
	return c.JSON(fiber.Map{
		"message": "Monitoring stopped",
		"running": false,
	})
}

// CheckNow runs a synchronous pass over the calling user's accounts,
// bypassing the poll-interval gate.
func (mc *MonitorController) CheckNow(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	if err := mc.monitor.CheckUserNow(c.UserContext(), user.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check accounts",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Check completed",
	})
}

// GetStatus returns the most recent processed-message records for UI
// polling, including errored ones so stuck items are visible.
func (mc *MonitorController) GetStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	messages, err := mc.monitor.RecentMessages(user.ID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch processing status",
		})
	}

	return c.JSON(fiber.Map{
		"running":  mc.monitor.Running(),
		"messages": messages,
	})
}

// HandleProgressWS streams processing status over a websocket so the
// dashboard can show drafts appearing without request polling.
func (mc *MonitorController) HandleProgressWS(c *websocket.Conn) {
	defer c.Close()

	var input struct {
		UserID uint   `json:"user_id"`
		Action string `json:"action"`
	}

	if err := c.ReadJSON(&input); err != nil {
		mc.logger.Printf("Error reading JSON: %v", err)
		return
	}

	if input.Action != "watch" || input.UserID == 0 {
		return
	}

	// Push a snapshot every couple of seconds for up to a minute; the
	// client reconnects if it wants to keep watching.
	for i := 0; i < 30; i++ {
		messages, err := mc.monitor.RecentMessages(input.UserID, 10)
		if err != nil {
			mc.logger.Printf("Error loading status for ws: %v", err)
			return
		}

		update := struct {
			Running  bool                      `json:"running"`
			Messages []models.ProcessedMessage `json:"messages"`
		}{
			Running:  mc.monitor.Running(),
			Messages: messages,
		}

		if err := c.WriteJSON(update); err != nil {
			return
		}
		time.Sleep(2 * time.Second)
	}
}
