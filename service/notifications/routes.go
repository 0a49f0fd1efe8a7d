package notifications

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/signalcove/signalcove-server/cmd/models"
	"github.com/signalcove/signalcove-server/cmd/utils"
	"gorm.io/gorm"
)

// NotificationHandler manages Expo devices and pushes signal events
type NotificationHandler struct {
	db         *gorm.DB
	expoClient *expo.PushClient
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{
		db:         db,
		expoClient: expo.NewPushClient(nil),
	}
}

func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", utils.AuthMiddleware(h.RegisterDevice)).Methods("POST")
	router.HandleFunc("/devices/{id:[0-9]+}", utils.AuthMiddleware(h.DeleteDevice)).Methods("DELETE")
	router.HandleFunc("/notifications/history", utils.AuthMiddleware(h.GetNotificationHistory)).Methods("GET")
}

// RegisterDevice registers an Expo push token for the caller
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var device models.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	device.UserID = userID

	if device.Token == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}

	// Validate the Expo push token format
	if _, err := expo.NewExponentPushToken(device.Token); err != nil {
		http.Error(w, "Invalid Expo push token format", http.StatusBadRequest)
		return
	}

	var existingDevice models.Device
	result := h.db.Where("token = ? AND user_id = ?", device.Token, device.UserID).First(&existingDevice)

	if result.Error == nil {
		// Device already exists, update it
		existingDevice.UpdatedAt = time.Now()
		existingDevice.DeviceType = device.DeviceType
		existingDevice.DeviceName = device.DeviceName
		if err := h.db.Save(&existingDevice).Error; err != nil {
			http.Error(w, "Error updating device", http.StatusInternalServerError)
			return
		}
		device = existingDevice
	} else {
		if err := h.db.Create(&device).Error; err != nil {
			http.Error(w, "Error creating device", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(device)
}

func (h *NotificationHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid device ID", http.StatusBadRequest)
		return
	}

	result := h.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Device{})
	if result.Error != nil {
		http.Error(w, "Error deleting device", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Device deleted successfully"})
}

func (h *NotificationHandler) GetNotificationHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var history []models.NotificationHistory
	if err := h.db.Where("user_id = ?", userID).Order("sent_at desc").Limit(50).Find(&history).Error; err != nil {
		http.Error(w, "Error retrieving history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// SignalCreated pushes a new-signal notification. Free signals go to every
// member; VIP signals go to active subscribers only. Push bodies never carry
// entry price, take profit or stop loss.
func (h *NotificationHandler) SignalCreated(sig *models.Signal) {
	go func() {
		communityName := ""
		if sig.Community != nil {
			communityName = sig.Community.Name
		}
		title := fmt.Sprintf("New %s signal in %s", sig.Type, communityName)
		body := fmt.Sprintf("%s %s on %s", sig.Direction, sig.Market, sig.Asset)

		userIDs, err := h.recipientsFor(sig)
		if err != nil {
			log.Printf("Error resolving notification recipients: %v", err)
			return
		}
		h.pushToUsers(userIDs, title, body, map[string]interface{}{
			"signal_id":    sig.ID,
			"community_id": sig.CommunityID,
		})
	}()
}

// SignalResolved pushes the outcome to everyone who could see the signal
func (h *NotificationHandler) SignalResolved(sig *models.Signal) {
	go func() {
		title := fmt.Sprintf("Signal resolved: %s", sig.Status)
		body := fmt.Sprintf("%s closed as a %s", sig.Asset, sig.Status)

		userIDs, err := h.recipientsFor(sig)
		if err != nil {
			log.Printf("Error resolving notification recipients: %v", err)
			return
		}
		h.pushToUsers(userIDs, title, body, map[string]interface{}{
			"signal_id":    sig.ID,
			"community_id": sig.CommunityID,
			"status":       sig.Status,
		})
	}()
}

func (h *NotificationHandler) recipientsFor(sig *models.Signal) ([]uint, error) {
	seen := make(map[uint]bool)
	var userIDs []uint

	if sig.Type == models.SignalTypeFree {
		var follows []models.Follow
		if err := h.db.Where("community_id = ?", sig.CommunityID).Find(&follows).Error; err != nil {
			return nil, err
		}
		for _, f := range follows {
			if !seen[f.UserID] {
				seen[f.UserID] = true
				userIDs = append(userIDs, f.UserID)
			}
		}
	}

	var subs []models.Subscription
	if err := h.db.Where("community_id = ? AND end_date > ?", sig.CommunityID, time.Now()).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	for _, s := range subs {
		if !seen[s.UserID] {
			seen[s.UserID] = true
			userIDs = append(userIDs, s.UserID)
		}
	}

	return userIDs, nil
}

func (h *NotificationHandler) pushToUsers(userIDs []uint, title, body string, data map[string]interface{}) {
	if len(userIDs) == 0 {
		return
	}

	var devices []models.Device
	if err := h.db.Where("user_id IN ?", userIDs).Find(&devices).Error; err != nil {
		log.Printf("Error loading devices: %v", err)
		return
	}

	dataJSON, _ := json.Marshal(data)

	for _, device := range devices {
		token, err := expo.NewExponentPushToken(device.Token)
		if err != nil {
			log.Printf("Skipping invalid token for device %d: %v", device.ID, err)
			continue
		}

		response, err := h.expoClient.Publish(&expo.PushMessage{
			To:       []expo.ExponentPushToken{token},
			Title:    title,
			Body:     body,
			Data:     map[string]string{"payload": string(dataJSON)},
			Sound:    "default",
			Priority: expo.DefaultPriority,
		})

		status := "sent"
		if err != nil || response.ValidateResponse() != nil {
			status = "failed"
			log.Printf("Error pushing to device %d: %v", device.ID, err)
		}

		history := models.NotificationHistory{
			UserID: device.UserID,
			Title:  title,
			Body:   body,
			Data:   string(dataJSON),
			Status: status,
			SentAt: time.Now(),
		}
		if err := h.db.Create(&history).Error; err != nil {
			log.Printf("Error recording notification history: %v", err)
		}
	}
}
