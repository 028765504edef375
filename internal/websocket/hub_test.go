package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/casca-store/storefront/internal/events"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		hub.ServeWS(w, r, q.Get("user"), q.Get("admin") == "1")
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_RoutesOrderEvents(t *testing.T) {
	hub, srv := startHub(t)

	admin := dial(t, srv, "user=admin&admin=1")
	asha := dial(t, srv, "user=u1")
	dial(t, srv, "user=u2")
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), events.OrderEvent{Type: events.OrderPaid, OrderID: "o2", UserID: "u2"}))
	require.NoError(t, hub.Publish(context.Background(), events.OrderEvent{Type: events.OrderCancelled, OrderID: "o1", UserID: "u1"}))

	first := readMessage(t, asha)
	assert.Equal(t, string(events.OrderCancelled), first.Type)
	assert.Equal(t, "orders", first.Source)

	assert.Equal(t, string(events.OrderPaid), readMessage(t, admin).Type)
	assert.Equal(t, string(events.OrderCancelled), readMessage(t, admin).Type)
}

func TestHub_SendToUser(t *testing.T) {
	hub, srv := startHub(t)

	admin := dial(t, srv, "user=admin&admin=1")
	asha := dial(t, srv, "user=u1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.SendToUser("u1", "cart_updated", map[string]int{"count": 2}, "cart")
	hub.BroadcastToAdmins("health", "ok", "admin")

	msg := readMessage(t, asha)
	assert.Equal(t, "cart_updated", msg.Type)
	assert.Equal(t, map[string]interface{}{"count": float64(2)}, msg.Data)

	assert.Equal(t, "health", readMessage(t, admin).Type)
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "user=u1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
