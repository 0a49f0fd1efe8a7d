package models

import (
	"gorm.io/gorm"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// Payment records a Paystack subscription purchase. The subscription row is
// only created once the payment verifies as successful.
type Payment struct {
	gorm.Model
	UserID      uint    `gorm:"column:user_id;index;not null" json:"user_id"`
	CommunityID uint    `gorm:"column:community_id;index;not null" json:"community_id"`
	Amount      float64 `gorm:"column:amount;not null" json:"amount"`
	Reference   string  `gorm:"column:reference;uniqueIndex;not null" json:"reference"`
	Status      string  `gorm:"column:status;size:20;not null;default:pending" json:"status"`

	User      *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Community *Community `gorm:"foreignKey:CommunityID" json:"community,omitempty"`
}
