package ws

import (
	"log"
	"net/http"
	"sync"

	"github.com/eduhealth/backend/internal/domain"
	"github.com/eduhealth/backend/internal/service"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP level
	},
}

// PaymentHub streams payment status events to connected clients. It is the
// user-facing notification side effect of reconciliation: delivery is best
// effort and never blocks the payment paths.
type PaymentHub struct {
	auth *service.AuthService

	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]chan domain.PaymentEvent
}

// NewPaymentHub creates a new PaymentHub.
func NewPaymentHub(auth *service.AuthService) *PaymentHub {
	return &PaymentHub{
		auth:  auth,
		conns: make(map[string]map[*websocket.Conn]chan domain.PaymentEvent),
	}
}

// Handle upgrades HTTP to WebSocket and streams the caller's payment events.
// URL: /ws/payments?token=JWT_TOKEN
func (h *PaymentHub) Handle(w http.ResponseWriter, r *http.Request) {
	// Authenticate via query param token
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}

	claims, err := h.auth.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	events := h.register(claims.Sub, conn)
	defer h.unregister(claims.Sub, conn)

	// Drain client frames so pings and closes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// NotifyPayment implements service.Notifier. It never blocks: a client that
// cannot keep up simply misses events.
func (h *PaymentHub) NotifyPayment(userID string, ev domain.PaymentEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.conns[userID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *PaymentHub) register(userID string, conn *websocket.Conn) chan domain.PaymentEvent {
	ch := make(chan domain.PaymentEvent, 8)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]chan domain.PaymentEvent)
	}
	h.conns[userID][conn] = ch
	return ch
}

func (h *PaymentHub) unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.conns[userID][conn]; ok {
		close(ch)
		delete(h.conns[userID], conn)
		if len(h.conns[userID]) == 0 {
			delete(h.conns, userID)
		}
	}
	conn.Close()
}
