package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/casca-store/storefront/internal/events"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	Source    string      `json:"source"`
}

// envelope is a message plus its audience: a single user, the admins, or
// both.
type envelope struct {
	message  Message
	userID   string
	toAdmins bool
}

type Client struct {
	conn   *websocket.Conn
	send   chan Message
	hub    *Hub
	userID string
	admin  bool
}

// Hub fans order and cart updates out to connected browsers. Admin
// connections see every order event; customers only see their own.
type Hub struct {
	clients    map[*Client]bool
	deliver    chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		deliver:    make(chan envelope, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{
				"client_count": count,
				"user_id":      client.userID,
				"admin":        client.admin,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", count).Info("Client disconnected")

		case env := <-h.deliver:
			h.mutex.Lock()
			for client := range h.clients {
				if !env.wants(client) {
					continue
				}
				select {
				case client.send <- env.message:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (e envelope) wants(c *Client) bool {
	return (e.toAdmins && c.admin) || (e.userID != "" && c.userID == e.userID)
}

func (h *Hub) enqueue(env envelope) {
	select {
	case h.deliver <- env:
	default:
		h.logger.WithField("type", env.message.Type).Warn("Delivery channel full, dropping message")
	}
}

func newMessage(messageType string, data interface{}, source string) Message {
	return Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
		Source:    source,
	}
}

// SendToUser delivers to every connection of userID.
func (h *Hub) SendToUser(userID, messageType string, data interface{}, source string) {
	h.enqueue(envelope{message: newMessage(messageType, data, source), userID: userID})
}

func (h *Hub) BroadcastToAdmins(messageType string, data interface{}, source string) {
	h.enqueue(envelope{message: newMessage(messageType, data, source), toAdmins: true})
}

// Publish implements events.Publisher: admins and the order's owner both
// receive the event.
func (h *Hub) Publish(ctx context.Context, event events.OrderEvent) error {
	h.enqueue(envelope{
		message:  newMessage(string(event.Type), event, "orders"),
		userID:   event.UserID,
		toAdmins: true,
	})
	return nil
}

// ServeWS upgrades the connection for an already authenticated user.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string, admin bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		hub:    h,
		userID: userID,
		admin:  admin,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Error("WebSocket error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(message)
			if err != nil {
				c.hub.logger.WithError(err).Error("Failed to marshal WebSocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
