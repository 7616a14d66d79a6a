package controller

import (
	"log"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"inboxpilot/models"
	"inboxpilot/utils"
)

type ClientController struct {
	db     *gorm.DB
	logger *log.Logger
}

func NewClientController(db *gorm.DB, logger *log.Logger) *ClientController {
	return &ClientController{
		db:     db,
		logger: logger,
	}
}

type CreateClientRequest struct {
	EmailAddress string `json:"email_address" validate:"required,email"`
	ClientName   string `json:"client_name" validate:"required,min=1,max=200"`
	ProjectID    *uint  `json:"project_id"`
}

type UpdateClientRequest struct {
	ClientName *string `json:"client_name" validate:"omitempty,min=1,max=200"`
	ProjectID  *uint   `json:"project_id"`
	IsActive   *bool   `json:"is_active"`
}

func (cc *ClientController) CreateClient(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateClientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := checkmail.ValidateFormat(req.EmailAddress); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "email_address must be a valid email",
		})
	}

	filter := models.ClientFilter{
		UserID:       user.ID,
		EmailAddress: strings.ToLower(strings.TrimSpace(req.EmailAddress)),
		ClientName:   req.ClientName,
		ProjectID:    req.ProjectID,
		IsActive:     true,
	}

	if err := cc.db.Create(&filter).Error; err != nil {
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "UNIQUE constraint") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Client address already registered",
			})
		}
		utils.LogError("client_create", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create client",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(filter)
}

func (cc *ClientController) GetClients(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var filters []models.ClientFilter
	if err := cc.db.Where("user_id = ?", user.ID).Order("client_name ASC").Find(&filters).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch clients",
		})
	}

	return c.JSON(filters)
}

func (cc *ClientController) UpdateClient(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	clientID := c.Params("id")

	var req UpdateClientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var filter models.ClientFilter
	if err := cc.db.Where("id = ? AND user_id = ?", clientID, user.ID).First(&filter).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Client not found",
		})
	}

	updates := make(map[string]interface{})
	if req.ClientName != nil {
		updates["client_name"] = *req.ClientName
	}
	if req.ProjectID != nil {
		updates["project_id"] = *req.ProjectID
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := cc.db.Model(&filter).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update client",
			})
		}
	}

	return c.JSON(filter)
}

func (cc *ClientController) DeleteClient(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	clientID := c.Params("id")

	var filter models.ClientFilter
	if err := cc.db.Where("id = ? AND user_id = ?", clientID, user.ID).First(&filter).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Client not found",
		})
	}

	if err := cc.db.Delete(&filter).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete client",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
