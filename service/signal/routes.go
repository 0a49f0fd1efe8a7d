package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/signalcove/signalcove-server/cmd/models"
	"github.com/signalcove/signalcove-server/cmd/utils"
	"github.com/signalcove/signalcove-server/service/community"
	"gorm.io/gorm"
)

// Publisher receives signal lifecycle events. Push notifications and the
// live websocket feed both hang off this.
type Publisher interface {
	SignalCreated(sig *models.Signal)
	SignalResolved(sig *models.Signal)
}

type SignalHandler struct {
	db         *gorm.DB
	publishers []Publisher
}

func NewSignalHandler(db *gorm.DB, publishers ...Publisher) *SignalHandler {
	return &SignalHandler{db: db, publishers: publishers}
}

func (h *SignalHandler) RegisterRoutes(router *mux.Router) {
	signalRouter := router.PathPrefix("/signals").Subrouter()

	signalRouter.HandleFunc("", utils.AuthMiddleware(h.CreateSignal)).Methods("POST")
	signalRouter.HandleFunc("/{id:[0-9]+}", utils.AuthMiddleware(h.GetSignalByID)).Methods("GET")
	signalRouter.HandleFunc("/{id:[0-9]+}/resolve", utils.AuthMiddleware(h.ResolveSignal)).Methods("POST")
	signalRouter.HandleFunc("/community/{communityID:[0-9]+}", utils.AuthMiddleware(h.GetCommunitySignals)).Methods("GET")

	router.HandleFunc("/feed", utils.AuthMiddleware(h.GetFeed)).Methods("GET")
}

// CreateSignal posts a new signal under the caller's community
// @Summary Post a signal
// @Router /signals [post]
func (h *SignalHandler) CreateSignal(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var signal models.Signal
	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Reject locally before any write
	if err := signal.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var ownedCommunity models.Community
	if err := h.db.Where("owner_id = ?", userID).First(&ownedCommunity).Error; err != nil {
		http.Error(w, "You don't own a community", http.StatusForbidden)
		return
	}

	signal.CommunityID = ownedCommunity.ID
	signal.Status = models.SignalStatusPending

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&signal).Error; err != nil {
			return err
		}
		// total_signals grows once at creation and is never decremented
		var stats models.CommunityStats
		if err := tx.Where("community_id = ?", signal.CommunityID).First(&stats).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			stats = models.CommunityStats{CommunityID: signal.CommunityID}
		}
		stats.ApplyCreation()
		return tx.Save(&stats).Error
	})
	if err != nil {
		http.Error(w, "Error creating signal", http.StatusInternalServerError)
		return
	}

	signal.Community = &ownedCommunity
	for _, p := range h.publishers {
		p.SignalCreated(&signal)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(signal)
}

// GetSignalByID returns a single signal, redacted per the caller's
// entitlement. VIP content without an active subscription comes back as a
// locked placeholder without entry price, take profit or stop loss.
func (h *SignalHandler) GetSignalByID(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid signal ID", http.StatusBadRequest)
		return
	}

	var signal models.Signal
	if err := h.db.Preload("Community").First(&signal, id).Error; err != nil {
		http.Error(w, "Signal not found", http.StatusNotFound)
		return
	}

	if signal.Community != nil && signal.Community.OwnerID == userID {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(signal)
		return
	}

	membership, err := community.LoadMembership(h.db, userID)
	if err != nil {
		http.Error(w, "Error loading membership", http.StatusInternalServerError)
		return
	}
	if !membership.Member(signal.CommunityID) {
		http.Error(w, "Signal not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(membership.Redact(&signal))
}

// GetCommunitySignals lists a community's signals for a member, newest
// first, with VIP entries locked for viewers without an active subscription
func (h *SignalHandler) GetCommunitySignals(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	communityID, err := strconv.Atoi(vars["communityID"])
	if err != nil {
		http.Error(w, "Invalid community ID", http.StatusBadRequest)
		return
	}

	var comm models.Community
	if err := h.db.First(&comm, communityID).Error; err != nil {
		http.Error(w, "Community not found", http.StatusNotFound)
		return
	}

	page, pageSize := parsePagination(r)

	var signals []models.Signal
	if err := h.db.Where("community_id = ?", communityID).
		Order("created_at desc, id asc").
		Limit(pageSize).Offset(page * pageSize).
		Preload("Community").
		Find(&signals).Error; err != nil {
		http.Error(w, "Error retrieving signals", http.StatusInternalServerError)
		return
	}

	if comm.OwnerID == userID {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"signals":  signals,
			"has_more": len(signals) == pageSize,
		})
		return
	}

	membership, err := community.LoadMembership(h.db, userID)
	if err != nil {
		http.Error(w, "Error loading membership", http.StatusInternalServerError)
		return
	}

	redacted := make([]interface{}, 0, len(signals))
	for i := range signals {
		redacted = append(redacted, membership.Redact(&signals[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"signals":  redacted,
		"has_more": len(signals) == pageSize,
	})
}

// ResolveSignal marks a pending signal win or loss. The write is a
// compare-and-swap on the status column: it only succeeds while the row is
// still pending, so two concurrent resolutions cannot both count. The loser
// gets the winning status back instead of an error state.
// @Summary Resolve a signal
// @Router /signals/{id}/resolve [post]
func (h *SignalHandler) ResolveSignal(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid signal ID", http.StatusBadRequest)
		return
	}

	var resolveRequest struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&resolveRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !models.TerminalStatus(resolveRequest.Status) {
		http.Error(w, "Status must be win or loss", http.StatusBadRequest)
		return
	}

	var signal models.Signal
	if err := h.db.Preload("Community").First(&signal, id).Error; err != nil {
		http.Error(w, "Signal not found", http.StatusNotFound)
		return
	}
	if signal.Community == nil || signal.Community.OwnerID != userID {
		http.Error(w, "Unauthorized: you don't have permission to resolve this signal", http.StatusForbidden)
		return
	}

	var swapped bool
	err = h.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Signal{}).
			Where("id = ? AND status = ?", id, models.SignalStatusPending).
			Update("status", resolveRequest.Status)
		if result.Error != nil {
			return result.Error
		}
		swapped = result.RowsAffected > 0
		if !swapped {
			return nil
		}

		// The aggregate rides the same transaction as the swap, so a lost
		// race never double counts
		var stats models.CommunityStats
		if err := tx.Where("community_id = ?", signal.CommunityID).First(&stats).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			var signals []models.Signal
			if err := tx.Where("community_id = ?", signal.CommunityID).Find(&signals).Error; err != nil {
				return err
			}
			stats = models.ComputeStats(signal.CommunityID, signals)
			return tx.Create(&stats).Error
		}
		stats.ApplyResolution(resolveRequest.Status)
		return tx.Save(&stats).Error
	})
	if err != nil {
		http.Error(w, "Error resolving signal", http.StatusInternalServerError)
		return
	}

	// Refetch truth either way; on a lost race this is the winning status
	if err := h.db.Preload("Community").First(&signal, id).Error; err != nil {
		http.Error(w, "Error retrieving signal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !swapped && signal.Status != resolveRequest.Status {
		// Lost a concurrent resolution to a different outcome
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":  "Signal was already resolved",
			"signal": signal,
		})
		return
	}

	if swapped {
		for _, p := range h.publishers {
			p.SignalResolved(&signal)
		}
	}

	json.NewEncoder(w).Encode(signal)
}

// GetFeed returns the viewer's signal feed: all signals from followed and
// actively-subscribed communities, newest first, VIP entries locked where
// the viewer holds no active subscription.
// @Summary Personal signal feed
// @Router /feed [get]
func (h *SignalHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	membership, err := community.LoadMembership(h.db, userID)
	if err != nil {
		http.Error(w, "Error loading membership", http.StatusInternalServerError)
		return
	}

	page, pageSize := parsePagination(r)

	visible := membership.VisibleCommunityIDs()
	if len(visible) == 0 {
		// Nothing to show; skip the store entirely
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"signals":  []interface{}{},
			"has_more": false,
		})
		return
	}

	var signals []models.Signal
	if err := h.db.Where("community_id IN ?", visible).
		Order("created_at desc, id asc").
		Limit(pageSize).Offset(page * pageSize).
		Preload("Community").
		Find(&signals).Error; err != nil {
		http.Error(w, "Error retrieving feed", http.StatusInternalServerError)
		return
	}

	redacted := make([]interface{}, 0, len(signals))
	for i := range signals {
		redacted = append(redacted, membership.Redact(&signals[i]))
	}

	// A page filled exactly to pageSize is assumed to have a next page; the
	// true end costs at most one empty fetch
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"signals":  redacted,
		"has_more": len(signals) == pageSize,
		"page":     page,
	})
}

func parsePagination(r *http.Request) (page, pageSize int) {
	query := r.URL.Query()
	page = 0
	if query.Get("page") != "" {
		parsed, err := strconv.Atoi(query.Get("page"))
		if err == nil && parsed >= 0 {
			page = parsed
		}
	}
	pageSize = 20
	if query.Get("page_size") != "" {
		parsed, err := strconv.Atoi(query.Get("page_size"))
		if err == nil && parsed > 0 && parsed <= 100 {
			pageSize = parsed
		}
	}
	return page, pageSize
}
