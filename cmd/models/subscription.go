package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive  = "active"
	SubscriptionStatusExpired = "expired"

	// SubscriptionTermDays is the fixed subscription term. There are no
	// partial periods; every subscription runs start_date + 30 days.
	SubscriptionTermDays = 30
)

var ErrDuplicateSubscription = errors.New("an active subscription already exists for this community")

// Subscription is a paid, time-bounded membership. The stored Status column
// is a cache of a computable value; IsActive against the end date is the
// single source of truth for access decisions.
type Subscription struct {
	gorm.Model
	UserID      uint      `gorm:"column:user_id;index;not null;uniqueIndex:idx_sub_user_community_start" json:"user_id"`
	CommunityID uint      `gorm:"column:community_id;index;not null;uniqueIndex:idx_sub_user_community_start" json:"community_id"`
	Status      string    `gorm:"column:status;size:20;not null;default:active;index" json:"status"`
	StartDate   time.Time `gorm:"column:start_date;index;uniqueIndex:idx_sub_user_community_start" json:"start_date"`
	EndDate     time.Time `gorm:"column:end_date;index" json:"end_date"`

	User      *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Community *Community `gorm:"foreignKey:CommunityID" json:"community,omitempty"`
}

// NewSubscription builds a 30-day subscription starting at now.
func NewSubscription(userID, communityID uint, now time.Time) Subscription {
	return Subscription{
		UserID:      userID,
		CommunityID: communityID,
		Status:      SubscriptionStatusActive,
		StartDate:   now,
		EndDate:     now.AddDate(0, 0, SubscriptionTermDays),
	}
}

// IsActive is the ground truth for expiry, independent of the stored Status.
func (s *Subscription) IsActive(now time.Time) bool {
	return now.Before(s.EndDate)
}

// DaysRemaining returns ceil((end_date - now) / 1 day). Zero or negative
// means the subscription has expired.
func (s *Subscription) DaysRemaining(now time.Time) int {
	remaining := s.EndDate.Sub(now)
	days := remaining / (24 * time.Hour)
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return int(days)
}

// Reconcile brings the cached Status column in line with the time-based
// computation. Returns true when the stored value was stale.
func (s *Subscription) Reconcile(now time.Time) bool {
	want := SubscriptionStatusExpired
	if s.IsActive(now) {
		want = SubscriptionStatusActive
	}
	if s.Status == want {
		return false
	}
	s.Status = want
	return true
}
