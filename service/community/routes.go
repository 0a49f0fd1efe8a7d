package community

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	stream_chat "github.com/GetStream/stream-chat-go/v5"
	"github.com/gorilla/mux"
	"github.com/signalcove/signalcove-server/cmd/models"
	"github.com/signalcove/signalcove-server/cmd/utils"
	"gorm.io/gorm"
)

type CommunityHandler struct {
	db *gorm.DB
}

func NewCommunityHandler(db *gorm.DB) *CommunityHandler {
	return &CommunityHandler{db: db}
}

func (h *CommunityHandler) RegisterRoutes(router *mux.Router) {
	communityRouter := router.PathPrefix("/communities").Subrouter()

	communityRouter.HandleFunc("", utils.AuthMiddleware(h.CreateCommunity)).Methods("POST")
	communityRouter.HandleFunc("", utils.AuthMiddleware(h.DiscoverCommunities)).Methods("GET")
	communityRouter.HandleFunc("/mine", utils.AuthMiddleware(h.GetMyCommunity)).Methods("GET")
	communityRouter.HandleFunc("/{id:[0-9]+}", utils.AuthMiddleware(h.GetCommunity)).Methods("GET")
	communityRouter.HandleFunc("/{id:[0-9]+}", utils.AuthMiddleware(h.UpdateCommunity)).Methods("PUT")

	// Membership
	communityRouter.HandleFunc("/{id:[0-9]+}/follow", utils.AuthMiddleware(h.FollowCommunity)).Methods("POST")
	communityRouter.HandleFunc("/{id:[0-9]+}/follow", utils.AuthMiddleware(h.UnfollowCommunity)).Methods("DELETE")
	communityRouter.HandleFunc("/{id:[0-9]+}/followers", utils.AuthMiddleware(h.GetFollowers)).Methods("GET")

	// Derived aggregates
	communityRouter.HandleFunc("/{id:[0-9]+}/stats", utils.AuthMiddleware(h.GetCommunityStats)).Methods("GET")

	// Community chat access, gated on membership
	communityRouter.HandleFunc("/{id:[0-9]+}/chat-token", utils.AuthMiddleware(h.GetChatToken)).Methods("POST")
}

// CreateCommunity creates the caller's community during onboarding. A user
// owns at most one community.
// @Summary Create a community
// @Router /communities [post]
func (h *CommunityHandler) CreateCommunity(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if user.Role != models.RoleCommunityOwner {
		http.Error(w, "Only community owners can create a community", http.StatusForbidden)
		return
	}

	var community models.Community
	if err := json.NewDecoder(r.Body).Decode(&community); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if community.Name == "" {
		http.Error(w, "Community name is required", http.StatusBadRequest)
		return
	}
	for _, m := range community.Markets {
		if m != models.MarketCrypto && m != models.MarketForex && m != models.MarketStocks {
			http.Error(w, "Markets must be crypto, forex or stocks", http.StatusBadRequest)
			return
		}
	}

	var existing models.Community
	if err := h.db.Where("owner_id = ?", userID).First(&existing).Error; err == nil {
		http.Error(w, "You already own a community", http.StatusConflict)
		return
	}

	community.OwnerID = userID
	community.Status = models.CommunityStatusPending

	if err := h.db.Create(&community).Error; err != nil {
		http.Error(w, "Error creating community", http.StatusInternalServerError)
		return
	}

	// Seed the cached aggregate so reads never hit a missing row
	stats := models.CommunityStats{CommunityID: community.ID}
	if err := h.db.Create(&stats).Error; err != nil {
		http.Error(w, "Error creating community stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(community)
}

// DiscoverCommunities lists active communities with limit/offset pagination
func (h *CommunityHandler) DiscoverCommunities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 20
	if query.Get("limit") != "" {
		parsedLimit, err := strconv.Atoi(query.Get("limit"))
		if err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	offset := 0
	if query.Get("offset") != "" {
		parsedOffset, err := strconv.Atoi(query.Get("offset"))
		if err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	dbQuery := h.db.Where("status = ?", models.CommunityStatusActive)
	if market := query.Get("market"); market != "" {
		dbQuery = dbQuery.Where("? = ANY(markets)", market)
	}

	var communities []models.Community
	if err := dbQuery.Limit(limit).Offset(offset).Order("created_at desc").Find(&communities).Error; err != nil {
		http.Error(w, "Error retrieving communities", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(communities)
}

// GetMyCommunity returns the community owned by the caller
func (h *CommunityHandler) GetMyCommunity(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var community models.Community
	if err := h.db.Where("owner_id = ?", userID).First(&community).Error; err != nil {
		http.Error(w, "Community not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(community)
}

func (h *CommunityHandler) GetCommunity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid community ID", http.StatusBadRequest)
		return
	}

	var community models.Community
	if err := h.db.First(&community, id).Error; err != nil {
		http.Error(w, "Community not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(community)
}

// UpdateCommunity mutates community settings; owner only
func (h *CommunityHandler) UpdateCommunity(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid community ID", http.StatusBadRequest)
		return
	}

	var community models.Community
	if err := h.db.First(&community, id).Error; err != nil {
		http.Error(w, "Community not found", http.StatusNotFound)
		return
	}

	if community.OwnerID != userID {
		http.Error(w, "Unauthorized: you don't have permission to update this community", http.StatusForbidden)
		return
	}

	var updated models.Community
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if updated.Name != "" {
		community.Name = updated.Name
	}
	community.Description = updated.Description
	community.SubscriptionPrice = updated.SubscriptionPrice
	if len(updated.Markets) > 0 {
		community.Markets = updated.Markets
	}

	if err := h.db.Save(&community).Error; err != nil {
		http.Error(w, "Error updating community", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(community)
}

// FollowCommunity creates the follow relation. Idempotent: following a
// community you already follow is a no-op.
func (h *CommunityHandler) FollowCommunity(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	communityID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid community ID", http.StatusBadRequest)
		return
	}

	var community models.Community
	if err := h.db.First(&community, communityID).Error; err != nil {
		http.Error(w, "Community not found", http.StatusNotFound)
		return
	}

	var existing models.Follow
	if err := h.db.Where("user_id = ? AND community_id = ?", userID, communityID).First(&existing).Error; err == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Already following"})
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		http.Error(w, "Error checking follow", http.StatusInternalServerError)
		return
	}

	follow := models.Follow{UserID: userID, CommunityID: uint(communityID)}
	if err := h.db.Create(&follow).Error; err != nil {
		http.Error(w, "Error following community", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(follow)
}

// UnfollowCommunity removes the follow relation; removing a follow that does
// not exist is also a no-op
func (h *CommunityHandler) UnfollowCommunity(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	communityID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid community ID", http.StatusBadRequest)
		return
	}

	if err := h.db.Where("user_id = ? AND community_id = ?", userID, communityID).
		Delete(&models.Follow{}).Error; err != nil {
		http.Error(w, "Error unfollowing community", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Unfollowed"})
}

func (h *CommunityHandler) GetFollowers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	communityID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid community ID", http.StatusBadRequest)
		return
	}

	var follows []models.Follow
	if err := h.db.Where("community_id = ?", communityID).Preload("User").Find(&follows).Error; err != nil {
		http.Error(w, "Error retrieving followers", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(follows)
}

// StatsResponse extends the stored aggregate with the display tier
type StatsResponse struct {
	models.CommunityStats
	Tier string `json:"tier"`
}

// GetCommunityStats returns the community aggregate. The cached row is
// reconciled against a full recompute from the signal rows before being
// served, so a stale cache never reaches a client.
// @Summary Community win/loss statistics
// @Router /communities/{id}/stats [get]
func (h *CommunityHandler) GetCommunityStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	communityID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid community ID", http.StatusBadRequest)
		return
	}

	var signals []models.Signal
	if err := h.db.Where("community_id = ?", communityID).Find(&signals).Error; err != nil {
		http.Error(w, "Error retrieving signals", http.StatusInternalServerError)
		return
	}

	computed := models.ComputeStats(uint(communityID), signals)

	var cached models.CommunityStats
	err = h.db.Where("community_id = ?", communityID).First(&cached).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cached = computed
		if err := h.db.Create(&cached).Error; err != nil {
			http.Error(w, "Error storing community stats", http.StatusInternalServerError)
			return
		}
	case err != nil:
		http.Error(w, "Error retrieving community stats", http.StatusInternalServerError)
		return
	default:
		if cached.TotalSignals != computed.TotalSignals || cached.Wins != computed.Wins ||
			cached.Losses != computed.Losses || cached.WinRate != computed.WinRate {
			cached.TotalSignals = computed.TotalSignals
			cached.Wins = computed.Wins
			cached.Losses = computed.Losses
			cached.WinRate = computed.WinRate
			if err := h.db.Save(&cached).Error; err != nil {
				http.Error(w, "Error refreshing community stats", http.StatusInternalServerError)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatsResponse{
		CommunityStats: cached,
		Tier:           models.WinRateTier(cached.WinRate),
	})
}

// GetChatToken mints a Stream channel membership for the community chat.
// Free members and subscribers both qualify; non-members are rejected.
func (h *CommunityHandler) GetChatToken(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	communityID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid community ID", http.StatusBadRequest)
		return
	}

	membership, err := loadMembership(h.db, userID)
	if err != nil {
		http.Error(w, "Error loading membership", http.StatusInternalServerError)
		return
	}
	if !membership.Member(uint(communityID)) && !h.ownsCommunity(userID, uint(communityID)) {
		http.Error(w, "Follow or subscribe to join this community's chat", http.StatusForbidden)
		return
	}

	streamClient, err := stream_chat.NewClient(os.Getenv("STREAM_API_KEY"), os.Getenv("STREAM_API_SECRET"))
	if err != nil {
		http.Error(w, "Error initializing chat client", http.StatusInternalServerError)
		return
	}

	token, err := streamClient.CreateToken(fmt.Sprintf("%d", userID), time.Now().Add(time.Hour*24))
	if err != nil {
		http.Error(w, "Error generating chat token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"chat_token": token,
		"channel":    fmt.Sprintf("community-%d", communityID),
	})
}

func (h *CommunityHandler) ownsCommunity(userID, communityID uint) bool {
	var community models.Community
	err := h.db.Where("id = ? AND owner_id = ?", communityID, userID).First(&community).Error
	return err == nil
}

// loadMembership fetches the caller's follows and subscriptions and builds
// the entitlement snapshot, reconciling stale subscription status rows on
// the way.
func loadMembership(db *gorm.DB, userID uint) (models.Membership, error) {
	now := time.Now()

	var follows []models.Follow
	if err := db.Where("user_id = ?", userID).Find(&follows).Error; err != nil {
		return models.Membership{}, err
	}

	var subs []models.Subscription
	if err := db.Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return models.Membership{}, err
	}

	for i := range subs {
		if subs[i].Reconcile(now) {
			if err := db.Model(&models.Subscription{}).Where("id = ?", subs[i].ID).
				Update("status", subs[i].Status).Error; err != nil {
				return models.Membership{}, err
			}
		}
	}

	return models.NewMembership(follows, subs, now), nil
}

// LoadMembership is the exported entry point used by the signal and live
// services.
func LoadMembership(db *gorm.DB, userID uint) (models.Membership, error) {
	return loadMembership(db, userID)
}
