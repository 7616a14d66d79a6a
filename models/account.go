package models

import (
	"time"

	"gorm.io/gorm"
)

// Supported mailbox providers.
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// EmailAccount represents one connected mailbox for a user: the provider,
// its credentials and the polling configuration. Created by the external
// onboarding flow; the monitor only advances LastCheckedAt and LastError.
type EmailAccount struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Provider string `gorm:"not null" json:"provider"` // gmail, imap
	Address  string `gorm:"not null" json:"address"`

	// ========= OAuth Configuration (gmail) =========
	// Serialized oauth2 token set (access + refresh + expiry). Stored as
	// plain JSON: the OAuth tokens are already revocable server-side, only
	// raw mailbox passwords get encrypted at rest.
	OAuthToken string `gorm:"column:oauth_token;type:text" json:"-"`

	// ========= IMAP Configuration =========
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"-"` // Encrypted in application layer
	IMAPEncryption string `json:"imap_encryption" gorm:"default:'SSL'"`
	IMAPMailbox    string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// ========= SMTP Configuration (outbound draft delivery) =========
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port" gorm:"default:465"`
	SMTPUsername   string `json:"smtp_username"`
	SMTPPassword   string `json:"-"` // Encrypted in application layer
	SMTPEncryption string `json:"smtp_encryption" gorm:"default:'SSL'"`

	// ========= Polling =========
	IsActive            bool       `gorm:"default:true" json:"is_active"`
	PollIntervalMinutes int        `gorm:"default:5" json:"poll_interval_minutes"`
	LastCheckedAt       *time.Time `json:"last_checked_at"`
	LastError           *string    `json:"last_error"`
}

// Sanitize blanks credential material before the record is serialized in
// an API response.
func (a *EmailAccount) Sanitize() {
	a.OAuthToken = ""
	a.IMAPPassword = ""
	a.SMTPPassword = ""
}

// Due reports whether the account's poll interval has elapsed since the
// last successful check.
func (a *EmailAccount) Due(now time.Time) bool {
	if a.LastCheckedAt == nil {
		return true
	}
	interval := time.Duration(a.PollIntervalMinutes) * time.Minute
	return now.Sub(*a.LastCheckedAt) >= interval
}
