package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/signalcove/signalcove-server/cmd/models"
	"gorm.io/gorm"
)

var fixtureSeq int64

func nextSeq() int64 {
	fixtureSeq++
	return fixtureSeq
}

// TestUser creates a verified user.
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*models.User)) *models.User {
	t.Helper()

	seq := nextSeq()
	user := &models.User{
		FullName:      fmt.Sprintf("Test User %d", seq),
		Email:         fmt.Sprintf("test_%d_%d@example.com", seq, time.Now().UnixNano()),
		PasswordHash:  "$2a$10$abcdefghijklmnopqrstuvwxyz123456", // bcrypt hash placeholder
		Role:          models.RoleUser,
		EmailVerified: true,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithRole sets the user's role.
func WithRole(role string) func(*models.User) {
	return func(u *models.User) {
		u.Role = role
	}
}

// TestCommunity creates an active community owned by ownerID.
func TestCommunity(t *testing.T, db *gorm.DB, ownerID uint, opts ...func(*models.Community)) *models.Community {
	t.Helper()

	community := &models.Community{
		OwnerID:           ownerID,
		Name:              fmt.Sprintf("Test Community %d", nextSeq()),
		Status:            models.CommunityStatusActive,
		SubscriptionPrice: 500,
	}

	for _, opt := range opts {
		opt(community)
	}

	if err := db.Create(community).Error; err != nil {
		t.Fatalf("Failed to create test community: %v", err)
	}

	return community
}

// WithPrice sets the subscription price; 0 makes the community free.
func WithPrice(price uint) func(*models.Community) {
	return func(c *models.Community) {
		c.SubscriptionPrice = price
	}
}

// TestSignal creates a signal under the community.
func TestSignal(t *testing.T, db *gorm.DB, communityID uint, opts ...func(*models.Signal)) *models.Signal {
	t.Helper()

	signal := &models.Signal{
		CommunityID: communityID,
		Asset:       "BTCUSD",
		Market:      models.MarketCrypto,
		Type:        models.SignalTypeFree,
		Direction:   models.DirectionBuy,
		EntryPrice:  65000,
		Status:      models.SignalStatusPending,
	}

	for _, opt := range opts {
		opt(signal)
	}

	if err := db.Create(signal).Error; err != nil {
		t.Fatalf("Failed to create test signal: %v", err)
	}

	return signal
}

// WithType sets the signal type (free or vip).
func WithType(signalType string) func(*models.Signal) {
	return func(s *models.Signal) {
		s.Type = signalType
	}
}

// WithSignalStatus sets the signal status.
func WithSignalStatus(status string) func(*models.Signal) {
	return func(s *models.Signal) {
		s.Status = status
	}
}

// WithLevels sets take profit and stop loss.
func WithLevels(takeProfit, stopLoss float64) func(*models.Signal) {
	return func(s *models.Signal) {
		s.TakeProfit = &takeProfit
		s.StopLoss = &stopLoss
	}
}

// WithCreatedAt backdates the signal for ordering tests.
func WithCreatedAt(at time.Time) func(*models.Signal) {
	return func(s *models.Signal) {
		s.CreatedAt = at
	}
}

// TestFollow creates a follow relation.
func TestFollow(t *testing.T, db *gorm.DB, userID, communityID uint) *models.Follow {
	t.Helper()

	follow := &models.Follow{UserID: userID, CommunityID: communityID}
	if err := db.Create(follow).Error; err != nil {
		t.Fatalf("Failed to create test follow: %v", err)
	}

	return follow
}

// TestSubscription creates a 30-day subscription starting at start.
func TestSubscription(t *testing.T, db *gorm.DB, userID, communityID uint, start time.Time) *models.Subscription {
	t.Helper()

	sub := models.NewSubscription(userID, communityID, start)
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}

	return &sub
}
