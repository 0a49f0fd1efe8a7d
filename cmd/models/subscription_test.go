package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSubscription_Term(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := NewSubscription(7, 3, now)

	assert.Equal(t, uint(7), sub.UserID)
	assert.Equal(t, uint(3), sub.CommunityID)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, now, sub.StartDate)
	assert.Equal(t, now.AddDate(0, 0, 30), sub.EndDate)
}

func TestSubscription_IsActive_IgnoresStoredStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := NewSubscription(1, 1, now)

	// The cached column lies; the time computation is ground truth
	sub.Status = SubscriptionStatusExpired
	assert.True(t, sub.IsActive(now.AddDate(0, 0, 10)))

	sub.Status = SubscriptionStatusActive
	assert.False(t, sub.IsActive(now.AddDate(0, 0, 31)))
}

func TestSubscription_IsActive_Boundaries(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := NewSubscription(1, 1, t0)

	assert.True(t, sub.IsActive(t0.AddDate(0, 0, 29)))
	assert.False(t, sub.IsActive(t0.AddDate(0, 0, 31)))
	// exactly at end_date is expired: active means now < end_date
	assert.False(t, sub.IsActive(sub.EndDate))
}

func TestSubscription_DaysRemaining(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := NewSubscription(1, 1, t0)

	assert.Equal(t, 30, sub.DaysRemaining(t0))
	assert.Equal(t, 1, sub.DaysRemaining(t0.AddDate(0, 0, 29)))
	// Partial days round up
	assert.Equal(t, 1, sub.DaysRemaining(sub.EndDate.Add(-time.Hour)))
	assert.Equal(t, 0, sub.DaysRemaining(sub.EndDate))
	assert.LessOrEqual(t, sub.DaysRemaining(t0.AddDate(0, 0, 31)), 0)
}

func TestSubscription_Reconcile(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := NewSubscription(1, 1, t0)

	// Fresh row, still in term: nothing to fix
	assert.False(t, sub.Reconcile(t0.AddDate(0, 0, 5)))
	assert.Equal(t, SubscriptionStatusActive, sub.Status)

	// Past end date with a stale active flag
	assert.True(t, sub.Reconcile(t0.AddDate(0, 0, 31)))
	assert.Equal(t, SubscriptionStatusExpired, sub.Status)

	// Idempotent
	assert.False(t, sub.Reconcile(t0.AddDate(0, 0, 32)))
}
