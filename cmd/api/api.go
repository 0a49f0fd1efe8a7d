package api

import (
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/signalcove/signalcove-server/service/community"
	"github.com/signalcove/signalcove-server/service/dashboard"
	"github.com/signalcove/signalcove-server/service/live"
	"github.com/signalcove/signalcove-server/service/notifications"
	"github.com/signalcove/signalcove-server/service/payment"
	"github.com/signalcove/signalcove-server/service/signal"
	"github.com/signalcove/signalcove-server/service/subscription"
	"github.com/signalcove/signalcove-server/service/user"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
}

func NewApiServer(address string, db *gorm.DB) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	userHandler := user.NewHandler(s.db)
	userHandler.RegisterRoutes(subrouter)

	communityHandler := community.NewCommunityHandler(s.db)
	communityHandler.RegisterRoutes(subrouter)

	notificationHandler := notifications.NewNotificationHandler(s.db)
	notificationHandler.RegisterRoutes(subrouter)

	hub := live.NewHub(s.db)
	liveHandler := live.NewLiveHandler(hub)
	liveHandler.RegisterRoutes(router)

	signalHandler := signal.NewSignalHandler(s.db, notificationHandler, hub)
	signalHandler.RegisterRoutes(subrouter)

	subscriptionHandler := subscription.NewSubscriptionHandler(s.db)
	subscriptionHandler.RegisterRoutes(subrouter)

	paymentHandler := payment.NewPaymentHandler(s.db)
	paymentHandler.RegisterRoutes(subrouter)

	dashboardHandler := dashboard.NewDashboardHandler(s.db)
	dashboardHandler.RegisterRoutes(subrouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(router)

	log.Println("Server running at", s.address)
	return http.ListenAndServe(s.address, corsHandler)
}
