package utils

import (
	"crypto/tls"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"inboxpilot/models"
)

// DraftMailer delivers an approved draft back to the client over the
// owning account's SMTP settings.
type DraftMailer struct {
	db *gorm.DB
}

func NewDraftMailer(db *gorm.DB) *DraftMailer {
	return &DraftMailer{db: db}
}

// SendDraft composes the reply (body, closing and signature joined with
// blank lines) and sends it to the original message's sender.
func (dm *DraftMailer) SendDraft(draft *models.Draft, message *models.ProcessedMessage, user *models.User) error {
	var account models.EmailAccount
	if err := dm.db.First(&account, message.AccountID).Error; err != nil {
		return fmt.Errorf("failed to fetch account SMTP config: %v", err)
	}

	if account.SMTPHost == "" {
		return fmt.Errorf("account %d has no SMTP configuration", account.ID)
	}

	password, err := Decrypt(account.SMTPPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt SMTP password: %v", err)
	}

	m := gomail.NewMessage()
	if user.Name != "" {
		m.SetHeader("From", fmt.Sprintf("%s <%s>", user.Name, account.Address))
	} else {
		m.SetHeader("From", account.Address)
	}
	m.SetHeader("To", message.Sender)
	m.SetHeader("Subject", draft.Subject)
	m.SetBody("text/plain", composeBody(draft))

	dialer := gomail.NewDialer(
		account.SMTPHost,
		account.SMTPPort,
		account.SMTPUsername,
		password,
	)
	dialer.TLSConfig = &tls.Config{ServerName: account.SMTPHost}
	if strings.EqualFold(account.SMTPEncryption, "SSL") || strings.EqualFold(account.SMTPEncryption, "TLS") {
		dialer.SSL = true
	}

	if err := dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("error sending draft: %v", err)
	}
	return nil
}

func composeBody(draft *models.Draft) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{draft.Body, draft.Closing, draft.Signature} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, "\n\n")
}
