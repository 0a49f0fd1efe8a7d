package models

import (
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	CommunityStatusPending = "pending"
	CommunityStatusActive  = "active"
)

// Community is owned by exactly one user. SubscriptionPrice is in the
// smallest currency unit; 0 means the community is free and every follower
// sees all of its signals.
type Community struct {
	gorm.Model
	OwnerID           uint           `gorm:"column:owner_id;uniqueIndex;not null" json:"owner_id"`
	Name              string         `gorm:"column:name;size:255;not null" json:"name"`
	Description       string         `gorm:"column:description;type:text" json:"description,omitempty"`
	Status            string         `gorm:"column:status;size:50;not null;default:pending" json:"status"`
	SubscriptionPrice uint           `gorm:"column:subscription_price;not null;default:0" json:"subscription_price"`
	Markets           pq.StringArray `gorm:"column:markets;type:text[]" json:"markets,omitempty"`

	Owner *User `gorm:"foreignKey:OwnerID" json:"-"`
}

// IsFree reports whether a plain follow already grants full access.
func (c *Community) IsFree() bool {
	return c.SubscriptionPrice == 0
}

// Follow marks free membership of a user in a community. It grants access to
// free-type signals only and has no lifecycle beyond existence.
type Follow struct {
	gorm.Model
	UserID      uint `gorm:"column:user_id;not null;uniqueIndex:idx_follow_user_community" json:"user_id"`
	CommunityID uint `gorm:"column:community_id;not null;uniqueIndex:idx_follow_user_community" json:"community_id"`

	User      *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Community *Community `gorm:"foreignKey:CommunityID" json:"community,omitempty"`
}
