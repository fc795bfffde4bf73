package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"eventdelivery/internal/entity"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wb-go/wbf/logger"
)

// PushHub fans in-app notifications out to a user's open websocket
// connections. A user with no open socket gets a channel failure; the
// orchestrator's per-channel independence keeps the other channels going.
type PushHub struct {
	mu       sync.RWMutex
	conns    map[uuid.UUID]map[*pushSocket]struct{}
	upgrader websocket.Upgrader
	log      logger.Logger
}

// pushSocket serializes writes; gorilla/websocket allows at most one
// concurrent writer per connection.
type pushSocket struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (s *pushSocket) write(messageType int, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func NewPushHub(log logger.Logger) *PushHub {
	return &PushHub{
		conns: make(map[uuid.UUID]map[*pushSocket]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Subscribe upgrades the request and keeps the socket registered until it
// closes. Blocks until the peer disconnects.
func (h *PushHub) Subscribe(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("push hub upgrade: %w", err)
	}

	socket := &pushSocket{conn: conn}
	h.register(userID, socket)
	defer h.unregister(userID, socket)

	h.log.LogAttrs(r.Context(), logger.DebugLevel, "push socket opened",
		logger.String("user_id", userID.String()),
	)

	// Reads are discarded; the socket exists for server pushes only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (h *PushHub) register(userID uuid.UUID, socket *pushSocket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*pushSocket]struct{})
	}
	h.conns[userID][socket] = struct{}{}
}

func (h *PushHub) unregister(userID uuid.UUID, socket *pushSocket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], socket)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
	_ = socket.conn.Close()
}

type pushMessage struct {
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	ActionURL string         `json:"action_url,omitempty"`
}

func (h *PushHub) Send(ctx context.Context, _ string, n entity.NotificationPayload) entity.ChannelResult {
	raw, err := json.Marshal(pushMessage{
		Type:      n.Type,
		Priority:  string(n.Priority),
		Category:  n.Category,
		Message:   n.Message,
		Data:      n.Data,
		ActionURL: n.ActionURL,
	})
	if err != nil {
		return failureResult(fmt.Errorf("marshal push message: %w", err))
	}

	h.mu.RLock()
	sockets := make([]*pushSocket, 0, len(h.conns[n.UserID]))
	for socket := range h.conns[n.UserID] {
		sockets = append(sockets, socket)
	}
	h.mu.RUnlock()

	if len(sockets) == 0 {
		return failureResult(errors.New("no active push connections"))
	}

	delivered := 0
	for _, socket := range sockets {
		if writeErr := socket.write(websocket.TextMessage, raw); writeErr == nil {
			delivered++
		}
	}
	if delivered == 0 {
		return failureResult(errors.New("all push connections failed"))
	}

	h.log.LogAttrs(ctx, logger.DebugLevel, "push delivered",
		logger.String("user_id", n.UserID.String()),
		logger.Int("sockets", delivered),
	)

	return successResult(uuid.NewString(), 0)
}
