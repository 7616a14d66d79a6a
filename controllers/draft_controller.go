package controller

import (
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"inboxpilot/models"
	"inboxpilot/utils"
)

type DraftController struct {
	db     *gorm.DB
	mailer *utils.DraftMailer
	logger *log.Logger
}

func NewDraftController(db *gorm.DB, mailer *utils.DraftMailer, logger *log.Logger) *DraftController {
	return &DraftController{
		db:     db,
		mailer: mailer,
		logger: logger,
	}
}

func (dc *DraftController) GetDrafts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	query := dc.db.Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Model(&models.Draft{}).Count(&total)

	var drafts []models.Draft
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&drafts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch drafts",
		})
	}

	return c.JSON(fiber.Map{
		"drafts": drafts,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (dc *DraftController) GetDraft(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	draftID := c.Params("id")

	var draft models.Draft
	if err := dc.db.Where("id = ? AND user_id = ?", draftID, user.ID).First(&draft).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Draft not found",
		})
	}

	var message models.ProcessedMessage
	if err := dc.db.First(&message, draft.MessageID).Error; err == nil {
		return c.JSON(fiber.Map{
			"draft":   draft,
			"message": message,
		})
	}

	return c.JSON(fiber.Map{"draft": draft})
}

func (dc *DraftController) ApproveDraft(c *fiber.Ctx) error {
	return dc.transition(c, models.DraftStatusDraft, models.DraftStatusApproved, "approved_at")
}

func (dc *DraftController) DeclineDraft(c *fiber.Ctx) error {
	return dc.transition(c, models.DraftStatusDraft, models.DraftStatusDeclined, "declined_at")
}

func (dc *DraftController) transition(c *fiber.Ctx, from, to, stampColumn string) error {
	user := c.Locals("user").(*models.User)
	draftID := c.Params("id")

	var draft models.Draft
	if err := dc.db.Where("id = ? AND user_id = ?", draftID, user.ID).First(&draft).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Draft not found",
		})
	}

	if draft.Status != from {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Draft is not in " + from + " status",
		})
	}

	now := time.Now()
	if err := dc.db.Model(&draft).Updates(map[string]interface{}{
		"status":    to,
		stampColumn: now,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update draft",
		})
	}

	utils.LogEvent("draft_"+to, map[string]interface{}{
		"draft_id": draft.ID,
		"user_id":  user.ID,
	})

	return c.JSON(draft)
}

// SendDraft delivers an approved draft over the originating account's
// SMTP settings and marks it sent.
func (dc *DraftController) SendDraft(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	draftID := c.Params("id")

	var draft models.Draft
	if err := dc.db.Where("id = ? AND user_id = ?", draftID, user.ID).First(&draft).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Draft not found",
		})
	}

	if draft.Status != models.DraftStatusApproved {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Only approved drafts can be sent",
		})
	}

	var message models.ProcessedMessage
	if err := dc.db.First(&message, draft.MessageID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Original message not found",
		})
	}

	if err := dc.mailer.SendDraft(&draft, &message, user); err != nil {
		utils.LogError("draft_send", err, map[string]interface{}{
			"draft_id": draft.ID,
			"user_id":  user.ID,
		})
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to send draft: " + err.Error(),
		})
	}

	now := time.Now()
	if err := dc.db.Model(&draft).Updates(map[string]interface{}{
		"status":  models.DraftStatusSent,
		"sent_at": now,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update draft",
		})
	}

	dc.logger.Printf("Draft %d sent to %s for user %d", draft.ID, message.Sender, user.ID)

	return c.JSON(fiber.Map{
		"message": "Draft sent successfully",
		"draft":   draft,
	})
}

func (dc *DraftController) GetTodos(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := dc.db.Where("user_id = ?", user.ID)
	if projectID := c.Query("project_id"); projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}

	var todos []models.ExtractedTodo
	if err := query.Order("created_at DESC").Find(&todos).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch todos",
		})
	}

	return c.JSON(todos)
}
