package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/signalcove/signalcove-server/cmd/models"
	"github.com/signalcove/signalcove-server/cmd/utils"
	"github.com/signalcove/signalcove-server/service/subscription"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

type PaymentHandler struct {
	db *gorm.DB
}

func NewPaymentHandler(db *gorm.DB) *PaymentHandler {
	return &PaymentHandler{db: db}
}

func (h *PaymentHandler) RegisterRoutes(router *mux.Router) {
	paymentRouter := router.PathPrefix("/payments").Subrouter()

	paymentRouter.HandleFunc("/initialize", utils.AuthMiddleware(h.InitializePayment)).Methods("POST")
	paymentRouter.HandleFunc("/verify/{reference}", utils.AuthMiddleware(h.VerifyPayment)).Methods("GET")
}

// InitializePayment starts a Paystack transaction for a community
// subscription and records a pending payment row keyed by a fresh reference
// @Summary Initialize a subscription payment
// @Router /payments/initialize [post]
func (h *PaymentHandler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var paymentRequest struct {
		CommunityID uint `json:"community_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&paymentRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	var community models.Community
	if err := h.db.First(&community, paymentRequest.CommunityID).Error; err != nil {
		http.Error(w, "Community not found", http.StatusNotFound)
		return
	}
	if community.IsFree() {
		http.Error(w, "Community is free, just follow it", http.StatusBadRequest)
		return
	}

	reference := fmt.Sprintf("SUB-%d-%s", userID, uuid.New().String())
	amount := float64(community.SubscriptionPrice)

	tx := h.db.Begin()

	payment := models.Payment{
		UserID:      userID,
		CommunityID: community.ID,
		Amount:      amount,
		Reference:   reference,
		Status:      models.PaymentStatusPending,
	}
	if err := tx.Create(&payment).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating payment", http.StatusInternalServerError)
		return
	}

	paystackURL := "https://api.paystack.co/transaction/initialize"

	paystackReq := map[string]interface{}{
		"email":     user.Email,
		"amount":    int64(amount * 100), // Convert to smallest unit
		"reference": reference,
		"metadata": map[string]interface{}{
			"payment_type": "community_subscription",
			"user_id":      userID,
			"community_id": community.ID,
		},
	}

	payloadBytes, _ := json.Marshal(paystackReq)
	req, _ := http.NewRequest("POST", paystackURL, bytes.NewBuffer(payloadBytes))
	req.Header.Set("Authorization", "Bearer "+os.Getenv("PAYSTACK_SECRET_KEY"))
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		tx.Rollback()
		http.Error(w, "Error initializing payment", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	var paystackResp struct {
		Status bool `json:"status"`
		Data   struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&paystackResp); err != nil {
		tx.Rollback()
		http.Error(w, "Error reading payment response", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error completing initialization", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"authorization_url": paystackResp.Data.AuthorizationURL,
		"reference":         reference,
		"payment_id":        payment.ID,
	})
}

// VerifyPayment checks the Paystack transaction status and, on success,
// activates the 30-day subscription. Verifying an already-successful
// reference is a no-op.
// @Summary Verify a payment and activate the subscription
// @Router /payments/verify/{reference} [get]
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	reference := vars["reference"]

	var payment models.Payment
	if err := h.db.Where("reference = ?", reference).First(&payment).Error; err != nil {
		http.Error(w, "Payment not found", http.StatusNotFound)
		return
	}
	if payment.UserID != userID {
		http.Error(w, "Unauthorized: not your payment", http.StatusForbidden)
		return
	}

	if payment.Status == models.PaymentStatusSuccess {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Payment already verified"})
		return
	}

	verifyURL := fmt.Sprintf("https://api.paystack.co/transaction/verify/%s", reference)
	req, _ := http.NewRequest("GET", verifyURL, nil)
	req.Header.Set("Authorization", "Bearer "+os.Getenv("PAYSTACK_SECRET_KEY"))

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		http.Error(w, "Error verifying payment", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	var verifyResp struct {
		Status bool `json:"status"`
		Data   struct {
			Status string  `json:"status"`
			Amount float64 `json:"amount"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&verifyResp); err != nil {
		http.Error(w, "Error reading verification response", http.StatusInternalServerError)
		return
	}

	if !verifyResp.Status || verifyResp.Data.Status != "success" {
		h.db.Model(&payment).Update("status", models.PaymentStatusFailed)
		http.Error(w, "Payment was not successful", http.StatusPaymentRequired)
		return
	}

	sub, err := subscription.Create(h.db, payment.UserID, payment.CommunityID, time.Now())
	if err != nil {
		if err == models.ErrDuplicateSubscription {
			http.Error(w, "Already subscribed to this community", http.StatusConflict)
			return
		}
		http.Error(w, "Error activating subscription", http.StatusInternalServerError)
		return
	}

	if err := h.db.Model(&payment).Update("status", models.PaymentStatusSuccess).Error; err != nil {
		http.Error(w, "Error updating payment", http.StatusInternalServerError)
		return
	}

	go func() {
		if err := sendReceiptEmail(h.db, payment, sub); err != nil {
			log.Printf("Error sending receipt for payment %s: %v", payment.Reference, err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":      "Subscription activated",
		"subscription": sub,
	})
}

func sendReceiptEmail(db *gorm.DB, payment models.Payment, sub models.Subscription) error {
	var user models.User
	if err := db.First(&user, payment.UserID).Error; err != nil {
		return err
	}
	var community models.Community
	if err := db.First(&community, payment.CommunityID).Error; err != nil {
		return err
	}

	smtpHost := os.Getenv("SMTP_HOST")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASSWORD")
	port, err := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if err != nil {
		port = 587
	}

	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", fmt.Sprintf("Your %s subscription is active", community.Name))
	m.SetBody("text/plain", fmt.Sprintf(
		"Thanks for subscribing to %s. Your VIP access runs until %s. Reference: %s",
		community.Name, sub.EndDate.Format("2006-01-02"), payment.Reference))

	d := gomail.NewDialer(smtpHost, port, smtpUser, smtpPass)
	return d.DialAndSend(m)
}
