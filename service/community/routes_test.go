package community

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/signalcove/signalcove-server/cmd/models"
	"github.com/signalcove/signalcove-server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCommunity(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	h := NewCommunityHandler(db)

	body, _ := json.Marshal(map[string]interface{}{
		"name":               "Gold Diggers",
		"description":        "XAUUSD setups",
		"subscription_price": 1500,
		"markets":            []string{"forex", "crypto"},
	})
	req := testutil.AuthedRequest(t, "POST", "/api/v1/communities", bytes.NewReader(body), owner.ID)
	rec := httptest.NewRecorder()
	h.CreateCommunity(rec, req)
	require.Equal(t, 201, rec.Code, rec.Body.String())

	var created models.Community
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, owner.ID, created.OwnerID)
	assert.Equal(t, models.CommunityStatusPending, created.Status)

	// The cached aggregate is seeded alongside the community
	var stats models.CommunityStats
	require.NoError(t, db.Where("community_id = ?", created.ID).First(&stats).Error)
	assert.Equal(t, int64(0), stats.TotalSignals)
}

func TestCreateCommunity_RoleGated(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	viewer := testutil.TestUser(t, db)
	h := NewCommunityHandler(db)

	body, _ := json.Marshal(map[string]interface{}{"name": "Nope"})
	req := testutil.AuthedRequest(t, "POST", "/api/v1/communities", bytes.NewReader(body), viewer.ID)
	rec := httptest.NewRecorder()
	h.CreateCommunity(rec, req)
	assert.Equal(t, 403, rec.Code)
}

func TestCreateCommunity_OnePerOwner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	testutil.TestCommunity(t, db, owner.ID)

	h := NewCommunityHandler(db)

	body, _ := json.Marshal(map[string]interface{}{"name": "Second Act"})
	req := testutil.AuthedRequest(t, "POST", "/api/v1/communities", bytes.NewReader(body), owner.ID)
	rec := httptest.NewRecorder()
	h.CreateCommunity(rec, req)
	assert.Equal(t, 409, rec.Code)
}

func TestCreateCommunity_InvalidMarket(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	h := NewCommunityHandler(db)

	body, _ := json.Marshal(map[string]interface{}{
		"name":    "Bond Traders",
		"markets": []string{"bonds"},
	})
	req := testutil.AuthedRequest(t, "POST", "/api/v1/communities", bytes.NewReader(body), owner.ID)
	rec := httptest.NewRecorder()
	h.CreateCommunity(rec, req)
	assert.Equal(t, 400, rec.Code)
}

func followRequest(t *testing.T, h *CommunityHandler, communityID, userID uint) *httptest.ResponseRecorder {
	t.Helper()

	target := fmt.Sprintf("/api/v1/communities/%d/follow", communityID)
	vars := map[string]string{"id": fmt.Sprintf("%d", communityID)}
	req := mux.SetURLVars(testutil.AuthedRequest(t, "POST", target, nil, userID), vars)
	rec := httptest.NewRecorder()
	h.FollowCommunity(rec, req)
	return rec
}

func TestFollowCommunity_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	viewer := testutil.TestUser(t, db)

	h := NewCommunityHandler(db)

	assert.Equal(t, 201, followRequest(t, h, community.ID, viewer.ID).Code)
	// Following again is a no-op, not an error
	assert.Equal(t, 200, followRequest(t, h, community.ID, viewer.ID).Code)

	var count int64
	db.Model(&models.Follow{}).Where("user_id = ?", viewer.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUnfollowCommunity_NoOpWhenNotFollowing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	viewer := testutil.TestUser(t, db)

	h := NewCommunityHandler(db)

	target := fmt.Sprintf("/api/v1/communities/%d/follow", community.ID)
	vars := map[string]string{"id": fmt.Sprintf("%d", community.ID)}
	req := mux.SetURLVars(testutil.AuthedRequest(t, "DELETE", target, nil, viewer.ID), vars)
	rec := httptest.NewRecorder()
	h.UnfollowCommunity(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestUnfollowCommunity_RemovesFollow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	viewer := testutil.TestUser(t, db)
	testutil.TestFollow(t, db, viewer.ID, community.ID)

	h := NewCommunityHandler(db)

	target := fmt.Sprintf("/api/v1/communities/%d/follow", community.ID)
	vars := map[string]string{"id": fmt.Sprintf("%d", community.ID)}
	req := mux.SetURLVars(testutil.AuthedRequest(t, "DELETE", target, nil, viewer.ID), vars)
	rec := httptest.NewRecorder()
	h.UnfollowCommunity(rec, req)
	require.Equal(t, 200, rec.Code)

	var count int64
	db.Model(&models.Follow{}).Where("user_id = ?", viewer.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func statsRequest(t *testing.T, h *CommunityHandler, communityID, userID uint) (*httptest.ResponseRecorder, StatsResponse) {
	t.Helper()

	target := fmt.Sprintf("/api/v1/communities/%d/stats", communityID)
	vars := map[string]string{"id": fmt.Sprintf("%d", communityID)}
	req := mux.SetURLVars(testutil.AuthedRequest(t, "GET", target, nil, userID), vars)
	rec := httptest.NewRecorder()
	h.GetCommunityStats(rec, req)

	var resp StatsResponse
	if rec.Code == 200 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestGetCommunityStats_RepairsStaleCache(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	viewer := testutil.TestUser(t, db)

	testutil.TestSignal(t, db, community.ID, testutil.WithSignalStatus(models.SignalStatusWin))
	testutil.TestSignal(t, db, community.ID, testutil.WithSignalStatus(models.SignalStatusWin))
	testutil.TestSignal(t, db, community.ID, testutil.WithSignalStatus(models.SignalStatusLoss))
	testutil.TestSignal(t, db, community.ID) // pending, counts toward total only

	// A cache that drifted from the signal rows
	require.NoError(t, db.Create(&models.CommunityStats{
		CommunityID: community.ID, TotalSignals: 1, Wins: 1, WinRate: 100,
	}).Error)

	h := NewCommunityHandler(db)

	rec, resp := statsRequest(t, h, community.ID, viewer.ID)
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Equal(t, int64(4), resp.TotalSignals)
	assert.Equal(t, int64(2), resp.Wins)
	assert.Equal(t, int64(1), resp.Losses)
	// round(2/4*100): pending signals count toward the denominator
	assert.Equal(t, 50, resp.WinRate)
	assert.Equal(t, models.TierGood, resp.Tier)

	// The repair is persisted
	var cached models.CommunityStats
	require.NoError(t, db.Where("community_id = ?", community.ID).First(&cached).Error)
	assert.Equal(t, int64(4), cached.TotalSignals)
}

func TestGetCommunityStats_CreatesMissingRow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)

	testutil.TestSignal(t, db, community.ID, testutil.WithSignalStatus(models.SignalStatusLoss))

	h := NewCommunityHandler(db)

	rec, resp := statsRequest(t, h, community.ID, owner.ID)
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), resp.TotalSignals)
	assert.Equal(t, 0, resp.WinRate)
	assert.Equal(t, models.TierPoor, resp.Tier)

	var count int64
	db.Model(&models.CommunityStats{}).Where("community_id = ?", community.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestLoadMembership_ReconcilesStaleStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	viewer := testutil.TestUser(t, db)

	// Lapsed a week ago but still marked active in the store
	testutil.TestSubscription(t, db, viewer.ID, community.ID, time.Now().AddDate(0, 0, -37))

	membership, err := LoadMembership(db, viewer.ID)
	require.NoError(t, err)
	assert.False(t, membership.ActiveSubs[community.ID])

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", viewer.ID).First(&sub).Error)
	assert.Equal(t, models.SubscriptionStatusExpired, sub.Status)
}

func TestLoadMembership_UnionOfFollowsAndSubs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	ownerA := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	ownerB := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	followed := testutil.TestCommunity(t, db, ownerA.ID)
	subscribed := testutil.TestCommunity(t, db, ownerB.ID)
	viewer := testutil.TestUser(t, db)

	testutil.TestFollow(t, db, viewer.ID, followed.ID)
	testutil.TestSubscription(t, db, viewer.ID, subscribed.ID, time.Now())
	// Both relations to the same community must not duplicate it
	testutil.TestFollow(t, db, viewer.ID, subscribed.ID)

	membership, err := LoadMembership(db, viewer.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{followed.ID, subscribed.ID}, membership.VisibleCommunityIDs())
	assert.True(t, membership.Member(followed.ID))
	assert.True(t, membership.ActiveSubs[subscribed.ID])
	assert.False(t, membership.ActiveSubs[followed.ID])
}
