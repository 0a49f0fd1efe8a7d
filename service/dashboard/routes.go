package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/signalcove/signalcove-server/cmd/models"
	"github.com/signalcove/signalcove-server/cmd/utils"
	"gorm.io/gorm"
)

type DashboardHandler struct {
	db *gorm.DB
}

func NewDashboardHandler(db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{db: db}
}

type DashboardStats struct {
	models.CommunityStats
	Tier              string  `json:"tier"`
	TotalFollowers    int64   `json:"total_followers"`
	ActiveSubscribers int64   `json:"active_subscribers"`
	TotalRevenue      float64 `json:"total_revenue"`
}

func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	dashboardRouter := router.PathPrefix("/dashboard").Subrouter()
	dashboardRouter.HandleFunc("/stats", utils.AuthMiddleware(h.GetDashboardStats)).Methods("GET")
}

// GetDashboardStats returns the owner's community overview: win/loss
// aggregate (recomputed from the signal rows), membership counts and revenue
func (h *DashboardHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
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

	var signals []models.Signal
	if err := h.db.Where("community_id = ?", community.ID).Find(&signals).Error; err != nil {
		http.Error(w, "Error retrieving signals", http.StatusInternalServerError)
		return
	}

	stats := DashboardStats{
		CommunityStats: models.ComputeStats(community.ID, signals),
	}
	stats.Tier = models.WinRateTier(stats.WinRate)

	h.db.Model(&models.Follow{}).Where("community_id = ?", community.ID).Count(&stats.TotalFollowers)

	h.db.Model(&models.Subscription{}).
		Where("community_id = ? AND end_date > ?", community.ID, time.Now()).
		Count(&stats.ActiveSubscribers)

	h.db.Model(&models.Payment{}).
		Where("community_id = ? AND status = ?", community.ID, models.PaymentStatusSuccess).
		Select("COALESCE(SUM(amount), 0)").Scan(&stats.TotalRevenue)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
