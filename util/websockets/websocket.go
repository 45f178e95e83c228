package websockets

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/model"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// CommandHandler runs a client command on behalf of userID. A returned error
// is written back to that connection.
type CommandHandler func(ctx context.Context, userID string, cmd Command) error

// WebSocketManager keeps the authenticated connections of every user and
// pushes events to them.
type WebSocketManager struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger

	onCommand    CommandHandler
	onConnect    func(userID string)
	onDisconnect func(userID string)
}

func NewWebSocketManager(log *zap.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// OnCommand sets the handler for inbound commands. Call before Run.
func (manager *WebSocketManager) OnCommand(h CommandHandler) {
	manager.onCommand = h
}

// OnConnect and OnDisconnect fire when a user's first connection opens and
// when their last one closes. Call before Run.
func (manager *WebSocketManager) OnConnect(fn func(userID string)) {
	manager.onConnect = fn
}

func (manager *WebSocketManager) OnDisconnect(fn func(userID string)) {
	manager.onDisconnect = fn
}

// Run owns registration until ctx is done, then closes every connection.
func (manager *WebSocketManager) Run(ctx context.Context) {
	defer close(manager.done)
	for {
		select {
		case client := <-manager.register:
			manager.mu.Lock()
			conns, ok := manager.clients[client.UserID]
			if !ok {
				conns = make(map[*Client]struct{})
				manager.clients[client.UserID] = conns
			}
			conns[client] = struct{}{}
			first := len(conns) == 1
			manager.mu.Unlock()
			manager.log.Debug("client connected", zap.String("user_id", client.UserID))
			if first && manager.onConnect != nil {
				manager.onConnect(client.UserID)
			}

		case client := <-manager.unregister:
			manager.mu.Lock()
			last := false
			if conns, ok := manager.clients[client.UserID]; ok {
				if _, exists := conns[client]; exists {
					delete(conns, client)
					close(client.send)
				}
				if len(conns) == 0 {
					delete(manager.clients, client.UserID)
					last = true
				}
			}
			manager.mu.Unlock()
			manager.log.Debug("client disconnected", zap.String("user_id", client.UserID))
			if last && manager.onDisconnect != nil {
				manager.onDisconnect(client.UserID)
			}

		case <-ctx.Done():
			manager.mu.Lock()
			for userID, conns := range manager.clients {
				for client := range conns {
					close(client.send)
				}
				delete(manager.clients, userID)
			}
			manager.mu.Unlock()
			return
		}
	}
}

// SendToUser writes an event to every connection of userID. Slow clients
// whose buffer is full miss the event.
func (manager *WebSocketManager) SendToUser(userID, event string, data any) {
	payload, err := json.Marshal(Envelope{Type: event, Data: data})
	if err != nil {
		manager.log.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	manager.mu.RLock()
	defer manager.mu.RUnlock()
	for client := range manager.clients[userID] {
		select {
		case client.send <- payload:
		default:
			manager.log.Warn("dropping event for slow client",
				zap.String("user_id", userID), zap.String("event", event))
		}
	}
}

func (manager *WebSocketManager) IsConnected(userID string) bool {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients[userID]) > 0
}

func (manager *WebSocketManager) FriendRequestSent(_ context.Context, r model.FriendRequest) error {
	manager.SendToUser(r.ReceiverID, MsgTypeFriendRequest, r)
	return nil
}

func (manager *WebSocketManager) FriendRequestAccepted(_ context.Context, r model.FriendRequest) error {
	manager.SendToUser(r.SenderID, MsgTypeFriendAccepted, r)
	return nil
}

// HandleConnections upgrades an already authenticated request and serves
// the connection until it closes.
func (manager *WebSocketManager) HandleConnections(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		manager.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	client := &Client{Conn: conn, UserID: userID, send: make(chan []byte, sendBuffer)}
	select {
	case manager.register <- client:
	case <-manager.done:
		conn.Close()
		return
	}

	go manager.writePump(client)
	manager.SendToUser(userID, MsgTypeConnected, map[string]string{"status": "connected"})
	manager.readPump(r.Context(), client)
}

func (manager *WebSocketManager) readPump(ctx context.Context, client *Client) {
	defer func() {
		select {
		case manager.unregister <- client:
		case <-manager.done:
		}
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				manager.log.Debug("websocket read", zap.String("user_id", client.UserID), zap.Error(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			manager.reply(client, MsgTypeError, "invalid json")
			continue
		}

		switch cmd.Type {
		case MsgTypeHeartbeat:
			manager.reply(client, MsgTypeHeartbeatAck, "ok")
		default:
			if manager.onCommand == nil {
				manager.reply(client, MsgTypeError, "unknown command")
				continue
			}
			if err := manager.onCommand(ctx, client.UserID, cmd); err != nil {
				manager.reply(client, MsgTypeError, err.Error())
			}
		}
	}
}

// reply writes to a single connection.
func (manager *WebSocketManager) reply(client *Client, event string, data any) {
	payload, err := json.Marshal(Envelope{Type: event, Data: data})
	if err != nil {
		return
	}
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	if _, ok := manager.clients[client.UserID][client]; !ok {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}

func (manager *WebSocketManager) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
