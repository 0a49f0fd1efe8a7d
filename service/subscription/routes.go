package subscription

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/signalcove/signalcove-server/cmd/models"
	"github.com/signalcove/signalcove-server/cmd/utils"
	"gorm.io/gorm"
)

// Response is a standardized API response structure
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Meta  interface{} `json:"meta,omitempty"`
	Error string      `json:"error,omitempty"`
}

// SubscriptionResponse extends the subscription model with calculated fields
type SubscriptionResponse struct {
	models.Subscription
	IsActive      bool `json:"is_active"`
	DaysRemaining int  `json:"days_remaining"`
}

type SubscriptionHandler struct {
	db *gorm.DB
}

func NewSubscriptionHandler(db *gorm.DB) *SubscriptionHandler {
	return &SubscriptionHandler{db: db}
}

func (h *SubscriptionHandler) RegisterRoutes(router *mux.Router) {
	subscriptionRouter := router.PathPrefix("/subscriptions").Subrouter()

	subscriptionRouter.HandleFunc("", utils.AuthMiddleware(h.Subscribe)).Methods("POST")
	subscriptionRouter.HandleFunc("/mine", utils.AuthMiddleware(h.GetMySubscriptions)).Methods("GET")
	subscriptionRouter.HandleFunc("/community/{communityID:[0-9]+}", utils.AuthMiddleware(h.GetCommunitySubscribers)).Methods("GET")
	subscriptionRouter.HandleFunc("/community/{communityID:[0-9]+}/active", utils.AuthMiddleware(h.GetActiveSubscription)).Methods("GET")
	subscriptionRouter.HandleFunc("/reconcile", utils.AuthMiddleware(h.ReconcileExpired)).Methods("POST")
}

// Subscribe creates a 30-day subscription for the caller. Assumed
// pre-authorized; the paid flow goes through the payment service which calls
// Create after Paystack verification.
// @Summary Subscribe to a community
// @Router /subscriptions [post]
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var subscribeRequest struct {
		CommunityID uint `json:"community_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&subscribeRequest); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var community models.Community
	if err := h.db.First(&community, subscribeRequest.CommunityID).Error; err != nil {
		h.respondWithError(w, http.StatusNotFound, "Community not found")
		return
	}

	sub, err := Create(h.db, userID, community.ID, time.Now())
	if err != nil {
		if errors.Is(err, models.ErrDuplicateSubscription) {
			h.respondWithError(w, http.StatusConflict, "Already subscribed to this community")
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, Response{Data: SubscriptionResponse{
		Subscription:  sub,
		IsActive:      true,
		DaysRemaining: sub.DaysRemaining(time.Now()),
	}})
}

// Create inserts a subscription after checking the duplicate guard. The
// check is against end dates, never the cached status flag, so a stale
// active row cannot block a legitimate renewal and a still-live one is
// never double-billed.
func Create(db *gorm.DB, userID, communityID uint, now time.Time) (models.Subscription, error) {
	var sub models.Subscription

	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Subscription
		err := tx.Where("user_id = ? AND community_id = ? AND end_date > ?", userID, communityID, now).
			First(&existing).Error
		if err == nil {
			return models.ErrDuplicateSubscription
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		sub = models.NewSubscription(userID, communityID, now)
		return tx.Create(&sub).Error
	})

	return sub, err
}

// GetMySubscriptions lists the caller's subscriptions with computed expiry,
// reconciling stale status rows on the way out
func (h *SubscriptionHandler) GetMySubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var subscriptions []models.Subscription
	if err := h.db.Where("user_id = ?", userID).Preload("Community").Find(&subscriptions).Error; err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to retrieve subscriptions")
		return
	}

	now := time.Now()
	responses := make([]SubscriptionResponse, 0, len(subscriptions))
	for i := range subscriptions {
		if subscriptions[i].Reconcile(now) {
			if err := h.db.Model(&models.Subscription{}).Where("id = ?", subscriptions[i].ID).
				Update("status", subscriptions[i].Status).Error; err != nil {
				h.respondWithError(w, http.StatusInternalServerError, "Failed to reconcile subscription")
				return
			}
		}
		responses = append(responses, SubscriptionResponse{
			Subscription:  subscriptions[i],
			IsActive:      subscriptions[i].IsActive(now),
			DaysRemaining: subscriptions[i].DaysRemaining(now),
		})
	}

	h.respondWithJSON(w, http.StatusOK, Response{Data: responses})
}

// GetCommunitySubscribers lists subscribers of a community; owner only
func (h *SubscriptionHandler) GetCommunitySubscribers(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	vars := mux.Vars(r)
	communityID, err := strconv.Atoi(vars["communityID"])
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid community ID")
		return
	}

	var community models.Community
	if err := h.db.First(&community, communityID).Error; err != nil {
		h.respondWithError(w, http.StatusNotFound, "Community not found")
		return
	}
	if community.OwnerID != userID {
		h.respondWithError(w, http.StatusForbidden, "Only the owner can list subscribers")
		return
	}

	queryParams := r.URL.Query()
	page := 1
	if pageStr := queryParams.Get("page"); pageStr != "" {
		pageVal, err := strconv.Atoi(pageStr)
		if err == nil && pageVal > 0 {
			page = pageVal
		}
	}
	pageSize := 10
	if pageSizeStr := queryParams.Get("page_size"); pageSizeStr != "" {
		pageSizeVal, err := strconv.Atoi(pageSizeStr)
		if err == nil && pageSizeVal > 0 && pageSizeVal <= 100 {
			pageSize = pageSizeVal
		}
	}
	offset := (page - 1) * pageSize

	query := h.db.Model(&models.Subscription{}).Where("community_id = ?", communityID)
	if statusFilter := queryParams.Get("status"); statusFilter != "" {
		// Filter on the computed notion of active, not the cached column
		now := time.Now()
		if statusFilter == models.SubscriptionStatusActive {
			query = query.Where("end_date > ?", now)
		} else if statusFilter == models.SubscriptionStatusExpired {
			query = query.Where("end_date <= ?", now)
		}
	}

	var total int64
	query.Count(&total)

	var subscriptions []models.Subscription
	if err := query.Preload("User").Limit(pageSize).Offset(offset).Find(&subscriptions).Error; err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to retrieve subscribers")
		return
	}

	now := time.Now()
	responses := make([]SubscriptionResponse, 0, len(subscriptions))
	for i := range subscriptions {
		responses = append(responses, SubscriptionResponse{
			Subscription:  subscriptions[i],
			IsActive:      subscriptions[i].IsActive(now),
			DaysRemaining: subscriptions[i].DaysRemaining(now),
		})
	}

	meta := map[string]interface{}{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"pages":     (total + int64(pageSize) - 1) / int64(pageSize),
	}

	h.respondWithJSON(w, http.StatusOK, Response{Data: responses, Meta: meta})
}

// GetActiveSubscription reports whether the caller holds an active
// subscription to the community
func (h *SubscriptionHandler) GetActiveSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	vars := mux.Vars(r)
	communityID, err := strconv.Atoi(vars["communityID"])
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid community ID")
		return
	}

	now := time.Now()
	var sub models.Subscription
	err = h.db.Where("user_id = ? AND community_id = ? AND end_date > ?", userID, communityID, now).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.respondWithJSON(w, http.StatusOK, Response{Data: map[string]interface{}{"active": false}})
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, "Failed to check subscription")
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Data: map[string]interface{}{
		"active":         true,
		"days_remaining": sub.DaysRemaining(now),
		"end_date":       sub.EndDate,
	}})
}

// ReconcileExpired flips the cached status on every subscription whose end
// date has passed. Expiry is evaluated lazily on each access check anyway;
// this sweep just keeps the stored rows honest for reporting.
func (h *SubscriptionHandler) ReconcileExpired(w http.ResponseWriter, r *http.Request) {
	result := h.db.Model(&models.Subscription{}).
		Where("status = ? AND end_date <= ?", models.SubscriptionStatusActive, time.Now()).
		Update("status", models.SubscriptionStatusExpired)
	if result.Error != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to reconcile subscriptions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Data: map[string]interface{}{
		"reconciled": result.RowsAffected,
	}})
}

func (h *SubscriptionHandler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, Response{Error: message})
}

func (h *SubscriptionHandler) respondWithJSON(w http.ResponseWriter, code int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
