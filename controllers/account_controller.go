package controller

import (
	"crypto/tls"
	"fmt"
	"log"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/emersion/go-imap/client"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"inboxpilot/models"
	"inboxpilot/utils"
)

type AccountController struct {
	db     *gorm.DB
	logger *log.Logger
}

func NewAccountController(db *gorm.DB, logger *log.Logger) *AccountController {
	return &AccountController{
		db:     db,
		logger: logger,
	}
}

type CreateAccountRequest struct {
	Provider            string `json:"provider" validate:"required,oneof=gmail imap"`
	Address             string `json:"address" validate:"required,email"`
	OAuthToken          string `json:"oauth_token"`
	IMAPHost            string `json:"imap_host"`
	IMAPPort            int    `json:"imap_port"`
	IMAPUsername        string `json:"imap_username"`
	IMAPPassword        string `json:"imap_password"`
	IMAPEncryption      string `json:"imap_encryption" validate:"omitempty,oneof=SSL TLS STARTTLS NONE"`
	IMAPMailbox         string `json:"imap_mailbox"`
	SMTPHost            string `json:"smtp_host"`
	SMTPPort            int    `json:"smtp_port"`
	SMTPUsername        string `json:"smtp_username"`
	SMTPPassword        string `json:"smtp_password"`
	SMTPEncryption      string `json:"smtp_encryption" validate:"omitempty,oneof=SSL TLS STARTTLS NONE"`
	PollIntervalMinutes int    `json:"poll_interval_minutes" validate:"omitempty,min=1,max=1440"`
}

type UpdateAccountRequest struct {
	OAuthToken          *string `json:"oauth_token"`
	IMAPHost            *string `json:"imap_host"`
	IMAPPort            *int    `json:"imap_port"`
	IMAPUsername        *string `json:"imap_username"`
	IMAPPassword        *string `json:"imap_password"`
	SMTPHost            *string `json:"smtp_host"`
	SMTPPort            *int    `json:"smtp_port"`
	SMTPUsername        *string `json:"smtp_username"`
	SMTPPassword        *string `json:"smtp_password"`
	IsActive            *bool   `json:"is_active"`
	PollIntervalMinutes *int    `json:"poll_interval_minutes" validate:"omitempty,min=1,max=1440"`
}

type TestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (ac *AccountController) CreateAccount(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateAccountRequest
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

	if err := checkmail.ValidateFormat(req.Address); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "address must be a valid email",
		})
	}

	if req.Provider == models.ProviderIMAP && req.IMAPHost == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "imap_host is required for imap accounts",
		})
	}
	if req.Provider == models.ProviderGmail && req.OAuthToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "oauth_token is required for gmail accounts",
		})
	}

	// Only raw mailbox passwords are encrypted at rest; the OAuth token
	// set is stored as serialized JSON.
	encryptedIMAPPassword, err := utils.Encrypt(req.IMAPPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt IMAP password",
		})
	}
	encryptedSMTPPassword, err := utils.Encrypt(req.SMTPPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt SMTP password",
		})
	}

	account := models.EmailAccount{
		UserID:              user.ID,
		Provider:            req.Provider,
		Address:             strings.ToLower(req.Address),
		OAuthToken:          req.OAuthToken,
		IMAPHost:            req.IMAPHost,
		IMAPPort:            req.IMAPPort,
		IMAPUsername:        req.IMAPUsername,
		IMAPPassword:        encryptedIMAPPassword,
		IMAPEncryption:      req.IMAPEncryption,
		IMAPMailbox:         req.IMAPMailbox,
		SMTPHost:            req.SMTPHost,
		SMTPPort:            req.SMTPPort,
		SMTPUsername:        req.SMTPUsername,
		SMTPPassword:        encryptedSMTPPassword,
		SMTPEncryption:      req.SMTPEncryption,
		IsActive:            true,
		PollIntervalMinutes: req.PollIntervalMinutes,
	}
	if account.PollIntervalMinutes == 0 {
		account.PollIntervalMinutes = 5
	}

	if err := ac.db.Create(&account).Error; err != nil {
		utils.LogError("account_create", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create account",
		})
	}

	account.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(account)
}

func (ac *AccountController) GetAccounts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var accounts []models.EmailAccount
	if err := ac.db.Where("user_id = ?", user.ID).Find(&accounts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch accounts",
		})
	}

	for i := range accounts {
		accounts[i].Sanitize()
	}
	return c.JSON(accounts)
}

func (ac *AccountController) GetAccount(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	accountID := c.Params("id")

	var account models.EmailAccount
	if err := ac.db.Where("id = ? AND user_id = ?", accountID, user.ID).First(&account).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	account.Sanitize()
	return c.JSON(account)
}

func (ac *AccountController) UpdateAccount(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	accountID := c.Params("id")

	var req UpdateAccountRequest
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

	var account models.EmailAccount
	if err := ac.db.Where("id = ? AND user_id = ?", accountID, user.ID).First(&account).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	updates := make(map[string]interface{})
	if req.OAuthToken != nil {
		updates["oauth_token"] = *req.OAuthToken
	}
	if req.IMAPHost != nil {
		updates["imap_host"] = *req.IMAPHost
	}
	if req.IMAPPort != nil {
		updates["imap_port"] = *req.IMAPPort
	}
	if req.IMAPUsername != nil {
		updates["imap_username"] = *req.IMAPUsername
	}
	if req.IMAPPassword != nil {
		encrypted, err := utils.Encrypt(*req.IMAPPassword)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to encrypt IMAP password",
			})
		}
		updates["imap_password"] = encrypted
	}
	if req.SMTPHost != nil {
		updates["smtp_host"] = *req.SMTPHost
	}
	if req.SMTPPort != nil {
		updates["smtp_port"] = *req.SMTPPort
	}
	if req.SMTPUsername != nil {
		updates["smtp_username"] = *req.SMTPUsername
	}
	if req.SMTPPassword != nil {
		encrypted, err := utils.Encrypt(*req.SMTPPassword)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to encrypt SMTP password",
			})
		}
		updates["smtp_password"] = encrypted
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.PollIntervalMinutes != nil {
		updates["poll_interval_minutes"] = *req.PollIntervalMinutes
	}

	if len(updates) > 0 {
		if err := ac.db.Model(&account).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update account",
			})
		}
	}

	account.Sanitize()
	return c.JSON(account)
}

func (ac *AccountController) DeleteAccount(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	accountID := c.Params("id")

	var account models.EmailAccount
	if err := ac.db.Where("id = ? AND user_id = ?", accountID, user.ID).First(&account).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	if err := ac.db.Delete(&account).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete account",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TestAccount performs a live IMAP connectivity and login check for
// imap-provider accounts.
func (ac *AccountController) TestAccount(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	accountID := c.Params("id")

	var account models.EmailAccount
	if err := ac.db.Where("id = ? AND user_id = ?", accountID, user.ID).First(&account).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	if account.Provider != models.ProviderIMAP {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Only imap accounts support connection tests",
		})
	}

	result := ac.testIMAPConnection(&account)
	utils.LogEvent("account_test_completed", map[string]interface{}{
		"account_id": account.ID,
		"success":    result.Success,
	})

	return c.JSON(fiber.Map{
		"message": "Account test completed",
		"result":  result,
	})
}

func (ac *AccountController) testIMAPConnection(account *models.EmailAccount) TestResult {
	result := TestResult{Success: false}

	password, err := utils.Decrypt(account.IMAPPassword)
	if err != nil {
		result.Error = "Failed to decrypt IMAP password"
		return result
	}

	imapAddr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)

	var imapClient *client.Client
	switch strings.ToUpper(account.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{
			InsecureSkipVerify: false,
			ServerName:         account.IMAPHost,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				InsecureSkipVerify: false,
				ServerName:         account.IMAPHost,
			})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}
	if err != nil {
		result.Error = fmt.Sprintf("Failed to connect to IMAP server: %v", err)
		return result
	}
	defer imapClient.Logout()

	if err := imapClient.Login(account.IMAPUsername, password); err != nil {
		result.Error = fmt.Sprintf("Failed to login to IMAP server: %v", err)
		return result
	}

	result.Success = true
	return result
}
