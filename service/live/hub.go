package live

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/signalcove/signalcove-server/cmd/models"
	"github.com/signalcove/signalcove-server/cmd/utils"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	UserID uint
	Conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

// Hub tracks connected clients and fans signal events out to them with the
// same redaction rules as the REST surface: a viewer who could not fetch the
// full signal never receives it over the socket either.
type Hub struct {
	clients map[uint][]*Client
	mu      sync.RWMutex
	db      *gorm.DB
}

func NewHub(db *gorm.DB) *Hub {
	return &Hub{
		clients: make(map[uint][]*Client),
		db:      db,
	}
}

func (h *Hub) registerClient(userID uint, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	client := &Client{UserID: userID, Conn: conn}
	h.clients[userID] = append(h.clients[userID], client)
	return client
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	connections := h.clients[client.UserID]
	for i, conn := range connections {
		if conn == client {
			h.clients[client.UserID] = append(connections[:i], connections[i+1:]...)
			break
		}
	}
	if len(h.clients[client.UserID]) == 0 {
		delete(h.clients, client.UserID)
	}
}

type signalEvent struct {
	Type   string      `json:"type"` // signal_created, signal_resolved
	Signal interface{} `json:"signal"`
}

// SignalCreated broadcasts a new signal to connected members. Subscribers
// with active access get the full payload; followers of a paid community get
// the locked placeholder for VIP signals.
func (h *Hub) SignalCreated(sig *models.Signal) {
	go h.broadcast(sig, "signal_created")
}

// SignalResolved broadcasts the resolution outcome.
func (h *Hub) SignalResolved(sig *models.Signal) {
	go h.broadcast(sig, "signal_resolved")
}

func (h *Hub) broadcast(sig *models.Signal, eventType string) {
	now := time.Now()

	var follows []models.Follow
	if err := h.db.Where("community_id = ?", sig.CommunityID).Find(&follows).Error; err != nil {
		log.Printf("Error loading follows for broadcast: %v", err)
		return
	}
	var subs []models.Subscription
	if err := h.db.Where("community_id = ? AND end_date > ?", sig.CommunityID, now).Find(&subs).Error; err != nil {
		log.Printf("Error loading subscriptions for broadcast: %v", err)
		return
	}

	entitled := make(map[uint]bool, len(subs))
	for _, s := range subs {
		entitled[s.UserID] = true
	}
	members := make(map[uint]bool, len(follows)+len(subs))
	for _, f := range follows {
		members[f.UserID] = true
	}
	for id := range entitled {
		members[id] = true
	}

	full := signalEvent{Type: eventType, Signal: sig}
	locked := signalEvent{Type: eventType, Signal: sig.Lock()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for userID, clients := range h.clients {
		if !members[userID] {
			continue
		}
		event := full
		if sig.Type == models.SignalTypeVIP && !entitled[userID] {
			event = locked
		}
		for _, client := range clients {
			if err := client.writeJSON(event); err != nil {
				log.Printf("Error writing to client %d: %v", userID, err)
			}
		}
	}
}

type LiveHandler struct {
	hub *Hub
}

func NewLiveHandler(hub *Hub) *LiveHandler {
	return &LiveHandler{hub: hub}
}

func (h *LiveHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", utils.AuthMiddleware(h.HandleWebSocket))
}

func (h *LiveHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	client := h.hub.registerClient(userID, conn)
	go h.readLoop(client)
}

// readLoop drains control frames until the peer goes away; the feed is
// server-push only
func (h *LiveHandler) readLoop(client *Client) {
	defer func() {
		h.hub.unregisterClient(client)
		client.Conn.Close()
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}
