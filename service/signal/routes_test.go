package signal

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

func TestCreateSignal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)

	h := NewSignalHandler(db)

	body, _ := json.Marshal(map[string]interface{}{
		"asset":       "XAUUSD",
		"market":      "forex",
		"type":        "vip",
		"direction":   "buy",
		"entry_price": 2350.5,
		"take_profit": 2400.0,
		"stop_loss":   2300.0,
	})
	req := testutil.AuthedRequest(t, "POST", "/api/v1/signals", bytes.NewReader(body), owner.ID)
	rec := httptest.NewRecorder()
	h.CreateSignal(rec, req)
	require.Equal(t, 201, rec.Code, rec.Body.String())

	var created models.Signal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, community.ID, created.CommunityID)
	assert.Equal(t, models.SignalStatusPending, created.Status)

	// Creation bumps the cached total
	var stats models.CommunityStats
	require.NoError(t, db.Where("community_id = ?", community.ID).First(&stats).Error)
	assert.Equal(t, int64(1), stats.TotalSignals)
	assert.Equal(t, int64(0), stats.Wins)
}

func TestCreateSignal_ValidationRejectedBeforeWrite(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	testutil.TestCommunity(t, db, owner.ID)

	h := NewSignalHandler(db)

	// Missing entry price
	body, _ := json.Marshal(map[string]interface{}{
		"asset":     "XAUUSD",
		"market":    "forex",
		"type":      "free",
		"direction": "buy",
	})
	req := testutil.AuthedRequest(t, "POST", "/api/v1/signals", bytes.NewReader(body), owner.ID)
	rec := httptest.NewRecorder()
	h.CreateSignal(rec, req)
	assert.Equal(t, 400, rec.Code)

	var count int64
	db.Model(&models.Signal{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestCreateSignal_NonOwnerForbidden(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	viewer := testutil.TestUser(t, db)
	h := NewSignalHandler(db)

	body, _ := json.Marshal(map[string]interface{}{
		"asset":       "BTCUSD",
		"market":      "crypto",
		"type":        "free",
		"direction":   "buy",
		"entry_price": 65000.0,
	})
	req := testutil.AuthedRequest(t, "POST", "/api/v1/signals", bytes.NewReader(body), viewer.ID)
	rec := httptest.NewRecorder()
	h.CreateSignal(rec, req)
	assert.Equal(t, 403, rec.Code)
}

func resolveRequest(t *testing.T, h *SignalHandler, signalID, userID uint, status string) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"status": status})
	target := fmt.Sprintf("/api/v1/signals/%d/resolve", signalID)
	vars := map[string]string{"id": fmt.Sprintf("%d", signalID)}

	req := mux.SetURLVars(testutil.AuthedRequest(t, "POST", target, bytes.NewReader(body), userID), vars)
	rec := httptest.NewRecorder()
	h.ResolveSignal(rec, req)
	return rec
}

func TestResolveSignal_TransitionAndStats(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	sig := testutil.TestSignal(t, db, community.ID)
	testutil.TestSignal(t, db, community.ID)

	require.NoError(t, db.Create(&models.CommunityStats{CommunityID: community.ID, TotalSignals: 2}).Error)

	h := NewSignalHandler(db)

	rec := resolveRequest(t, h, sig.ID, owner.ID, "win")
	require.Equal(t, 200, rec.Code, rec.Body.String())

	var stored models.Signal
	require.NoError(t, db.First(&stored, sig.ID).Error)
	assert.Equal(t, models.SignalStatusWin, stored.Status)

	var stats models.CommunityStats
	require.NoError(t, db.Where("community_id = ?", community.ID).First(&stats).Error)
	assert.Equal(t, int64(1), stats.Wins)
	assert.Equal(t, int64(0), stats.Losses)
	assert.Equal(t, 50, stats.WinRate)
}

func TestResolveSignal_IdempotentSameOutcome(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	sig := testutil.TestSignal(t, db, community.ID)
	require.NoError(t, db.Create(&models.CommunityStats{CommunityID: community.ID, TotalSignals: 1}).Error)

	h := NewSignalHandler(db)

	require.Equal(t, 200, resolveRequest(t, h, sig.ID, owner.ID, "win").Code)
	// Second resolution with the same outcome is a no-op, not an error
	assert.Equal(t, 200, resolveRequest(t, h, sig.ID, owner.ID, "win").Code)

	// No double counting
	var stats models.CommunityStats
	require.NoError(t, db.Where("community_id = ?", community.ID).First(&stats).Error)
	assert.Equal(t, int64(1), stats.Wins)
	assert.Equal(t, 100, stats.WinRate)
}

func TestResolveSignal_LostRaceGetsTruth(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	sig := testutil.TestSignal(t, db, community.ID)
	require.NoError(t, db.Create(&models.CommunityStats{CommunityID: community.ID, TotalSignals: 1}).Error)

	h := NewSignalHandler(db)

	require.Equal(t, 200, resolveRequest(t, h, sig.ID, owner.ID, "win").Code)

	// A conflicting resolution after the swap observes the winning status
	rec := resolveRequest(t, h, sig.ID, owner.ID, "loss")
	require.Equal(t, 409, rec.Code)

	var resp struct {
		Signal models.Signal `json:"signal"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.SignalStatusWin, resp.Signal.Status)

	// Exactly one outcome counted
	var stats models.CommunityStats
	require.NoError(t, db.Where("community_id = ?", community.ID).First(&stats).Error)
	assert.Equal(t, int64(1), stats.Wins+stats.Losses)
}

func TestResolveSignal_NonOwnerForbidden(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	sig := testutil.TestSignal(t, db, community.ID)
	viewer := testutil.TestUser(t, db)

	h := NewSignalHandler(db)
	assert.Equal(t, 403, resolveRequest(t, h, sig.ID, viewer.ID, "win").Code)
}

type feedResponse struct {
	Signals []map[string]interface{} `json:"signals"`
	HasMore bool                     `json:"has_more"`
}

func fetchFeed(t *testing.T, h *SignalHandler, userID uint, page, pageSize int) feedResponse {
	t.Helper()

	target := fmt.Sprintf("/feed?page=%d&page_size=%d", page, pageSize)
	req := testutil.AuthedRequest(t, "GET", target, nil, userID)
	rec := httptest.NewRecorder()
	h.GetFeed(rec, req)
	require.Equal(t, 200, rec.Code, rec.Body.String())

	var resp feedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGetFeed_PaginationBoundary(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	viewer := testutil.TestUser(t, db)
	testutil.TestFollow(t, db, viewer.ID, community.ID)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 20; i++ {
		testutil.TestSignal(t, db, community.ID, testutil.WithCreatedAt(base.Add(time.Duration(i)*time.Minute)))
	}

	h := NewSignalHandler(db)

	// A page filled exactly to pageSize claims a next page
	page0 := fetchFeed(t, h, viewer.ID, 0, 20)
	assert.Len(t, page0.Signals, 20)
	assert.True(t, page0.HasMore)

	// ...which costs exactly one empty fetch at the true end
	page1 := fetchFeed(t, h, viewer.ID, 1, 20)
	assert.Len(t, page1.Signals, 0)
	assert.False(t, page1.HasMore)
}

func TestGetFeed_NewestFirst(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	viewer := testutil.TestUser(t, db)
	testutil.TestFollow(t, db, viewer.ID, community.ID)

	base := time.Now().Add(-time.Hour)
	old := testutil.TestSignal(t, db, community.ID, testutil.WithCreatedAt(base))
	recent := testutil.TestSignal(t, db, community.ID, testutil.WithCreatedAt(base.Add(30*time.Minute)))

	h := NewSignalHandler(db)
	feed := fetchFeed(t, h, viewer.ID, 0, 20)
	require.Len(t, feed.Signals, 2)
	assert.Equal(t, float64(recent.ID), feed.Signals[0]["ID"])
	assert.Equal(t, float64(old.ID), feed.Signals[1]["ID"])
}

func TestGetFeed_EmptyVisibilitySet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	testutil.TestSignal(t, db, community.ID)

	outsider := testutil.TestUser(t, db)

	h := NewSignalHandler(db)
	feed := fetchFeed(t, h, outsider.ID, 0, 20)
	assert.Empty(t, feed.Signals)
	assert.False(t, feed.HasMore)
}

func TestGetFeed_VIPLockedForFollower(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	follower := testutil.TestUser(t, db)
	testutil.TestFollow(t, db, follower.ID, community.ID)

	testutil.TestSignal(t, db, community.ID, testutil.WithType(models.SignalTypeFree))
	testutil.TestSignal(t, db, community.ID, testutil.WithType(models.SignalTypeVIP), testutil.WithLevels(70000, 60000))

	h := NewSignalHandler(db)
	feed := fetchFeed(t, h, follower.ID, 0, 20)
	require.Len(t, feed.Signals, 2)

	for _, entry := range feed.Signals {
		if entry["type"] == models.SignalTypeVIP {
			assert.Equal(t, true, entry["locked"])
			assert.NotContains(t, entry, "entry_price")
			assert.NotContains(t, entry, "take_profit")
			assert.NotContains(t, entry, "stop_loss")
		} else {
			assert.NotContains(t, entry, "locked")
			assert.Contains(t, entry, "entry_price")
		}
	}
}

func TestGetFeed_VIPVisibleForSubscriber(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	subscriber := testutil.TestUser(t, db)
	testutil.TestSubscription(t, db, subscriber.ID, community.ID, time.Now())

	testutil.TestSignal(t, db, community.ID, testutil.WithType(models.SignalTypeVIP), testutil.WithLevels(70000, 60000))

	h := NewSignalHandler(db)
	feed := fetchFeed(t, h, subscriber.ID, 0, 20)
	require.Len(t, feed.Signals, 1)
	assert.Contains(t, feed.Signals[0], "entry_price")
}

func TestGetFeed_ExpiredSubscriberLosesVIP(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	subscriber := testutil.TestUser(t, db)
	// Started 31 days ago: the term has lapsed without any explicit revoke
	testutil.TestSubscription(t, db, subscriber.ID, community.ID, time.Now().AddDate(0, 0, -31))

	testutil.TestSignal(t, db, community.ID, testutil.WithType(models.SignalTypeVIP))

	h := NewSignalHandler(db)
	feed := fetchFeed(t, h, subscriber.ID, 0, 20)
	// No follow and no active subscription: the community drops out of the
	// visibility set entirely
	assert.Empty(t, feed.Signals)
}

func TestGetSignalByID_NonMemberGetsNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	owner := testutil.TestUser(t, db, testutil.WithRole(models.RoleCommunityOwner))
	community := testutil.TestCommunity(t, db, owner.ID)
	sig := testutil.TestSignal(t, db, community.ID)
	outsider := testutil.TestUser(t, db)

	h := NewSignalHandler(db)

	target := fmt.Sprintf("/api/v1/signals/%d", sig.ID)
	vars := map[string]string{"id": fmt.Sprintf("%d", sig.ID)}
	req := mux.SetURLVars(testutil.AuthedRequest(t, "GET", target, nil, outsider.ID), vars)
	rec := httptest.NewRecorder()
	h.GetSignalByID(rec, req)
	assert.Equal(t, 404, rec.Code)
}
