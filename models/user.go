package models

import (
	"gorm.io/gorm"
)

// User represents an account owner. Registration, login and token
// issuance happen in the external product; this service only reads the
// row to scope queries and validate JWTs.
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	Name         string `json:"name"`
	BusinessName string `json:"business_name"`
	Signature    string `gorm:"type:text" json:"signature"` // default sign-off for generated drafts
	Tone         string `gorm:"default:'friendly'" json:"tone"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`
	TokenVersion int    `gorm:"default:0" json:"-"`

	// Relations
	DeviceTokens []DeviceToken `gorm:"foreignKey:UserID" json:"-"`
}

// DeviceToken is one push delivery target for a user. Rows are written by
// the external token-registration flow; this service only reads them for
// delivery and removes them when the push gateway reports the token as
// permanently invalid.
type DeviceToken struct {
	gorm.Model
	UserID   uint   `gorm:"not null;index" json:"user_id"`
	Token    string `gorm:"not null;uniqueIndex" json:"token"`
	Platform string `json:"platform"` // ios, android
	IsActive bool   `gorm:"default:true" json:"is_active"`
}
