package websockets

import (
	"time"

	"github.com/gorilla/websocket"
)

// Message types
const (
	MsgTypeConnected      = "connected"
	MsgTypeHeartbeat      = "heartbeat"
	MsgTypeHeartbeatAck   = "heartbeat_ack"
	MsgTypeError          = "error"
	MsgTypeFriendRequest  = "friends.request"
	MsgTypeFriendAccepted = "friends.accepted"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 32
)

// Client is one live connection of a user. A user may hold several.
type Client struct {
	Conn   *websocket.Conn
	UserID string
	send   chan []byte
}

// Envelope is every frame written to a client.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Command is a frame read from a client.
type Command struct {
	Type       string `json:"type"`
	ActivityID string `json:"activity_id,omitempty"`
	Text       string `json:"text,omitempty"`
}
