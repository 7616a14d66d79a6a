package models

import (
	"time"

	"gorm.io/gorm"
)

// ProcessedMessage statuses.
const (
	MessageStatusPending      = "pending"
	MessageStatusAIProcessing = "ai_processing"
	MessageStatusDraftCreated = "draft_created"
	MessageStatusError        = "error"
)

// Draft statuses.
const (
	DraftStatusDraft    = "draft"
	DraftStatusApproved = "approved"
	DraftStatusDeclined = "declined"
	DraftStatusSent     = "sent"
)

// ProcessedMessage is the dedup ledger and audit record: one row per
// inbound message that matched a client filter. The composite unique
// index on (user_id, provider_message_id) is the at-most-once guarantee;
// a duplicate-key error on create means another check already claimed
// the message and is treated as a skip.
type ProcessedMessage struct {
	gorm.Model
	UserID            uint       `gorm:"not null;index;uniqueIndex:idx_user_provider_msg" json:"user_id"`
	AccountID         uint       `gorm:"not null;index" json:"account_id"`
	ProjectID         *uint      `gorm:"index" json:"project_id"`
	ProviderMessageID string     `gorm:"not null;uniqueIndex:idx_user_provider_msg" json:"provider_message_id"` // gmail id, or imap:<uid>
	Sender            string     `gorm:"not null" json:"sender"`
	Subject           string     `json:"subject"`
	Body              string     `gorm:"type:text" json:"body"`
	ReceivedAt        time.Time  `json:"received_at"`
	ProcessedAt       *time.Time `json:"processed_at"`
	Status            string     `gorm:"not null;default:'pending';index" json:"status"`
	ErrorDetail       *string    `json:"error_detail"`

	// Relations
	Draft *Draft `gorm:"foreignKey:MessageID" json:"draft,omitempty"`
}

// Draft is an AI-generated candidate reply awaiting human approval. The
// monitor creates it exactly once per message; approve/decline/send
// transitions come from the product's approval UI.
type Draft struct {
	gorm.Model
	MessageID  uint       `gorm:"not null;uniqueIndex" json:"message_id"`
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	ProjectID  *uint      `gorm:"index" json:"project_id"`
	Subject    string     `json:"subject"`
	Body       string     `gorm:"type:text" json:"body"`
	Closing    string     `json:"closing"`
	Signature  string     `json:"signature"`
	TriggerTag string     `json:"trigger_tag"` // advisory, e.g. "client approved"
	Status     string     `gorm:"not null;default:'draft';index" json:"status"`
	ApprovedAt *time.Time `json:"approved_at"`
	DeclinedAt *time.Time `json:"declined_at"`
	SentAt     *time.Time `json:"sent_at"`
}

// ExtractedTodo is one action item mined from an inbound message body.
type ExtractedTodo struct {
	gorm.Model
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	ProjectID  *uint      `gorm:"index" json:"project_id"`
	MessageID  uint       `gorm:"not null;index" json:"message_id"`
	Task       string     `gorm:"not null" json:"task"` // capped at 120 chars
	DueDate    *time.Time `json:"due_date"`
	Confidence float64    `json:"confidence"` // 0..1
}
