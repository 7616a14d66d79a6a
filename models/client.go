package models

import (
	"gorm.io/gorm"
)

// ClientFilter is one monitored client address for a user: inbound mail
// from this address is processed, everything else is ignored. Lifecycle
// is owned by the external product; the monitor only reads active rows.
type ClientFilter struct {
	gorm.Model
	UserID       uint   `gorm:"not null;index;uniqueIndex:idx_user_client_addr" json:"user_id"`
	EmailAddress string `gorm:"not null;uniqueIndex:idx_user_client_addr" json:"email_address"` // stored lowercased
	ClientName   string `json:"client_name"`
	ProjectID    *uint  `gorm:"index" json:"project_id"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`
}
