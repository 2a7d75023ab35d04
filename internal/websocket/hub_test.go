package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func event(id string, eventType string, status models.Status, at time.Time) models.OrderEvent {
	return models.OrderEvent{Type: eventType, OrderID: id, OrderNumber: "P-07-03-2026-" + id, Status: status, OccurredAt: at}
}

func TestOpenOrdersTracksNonTerminal(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	hub := NewHub(logger)

	now := time.Now()
	require.NoError(t, hub.HandleOrderEvent(event("002", models.EventOrderCreated, models.StatusPending, now.Add(time.Second))))
	require.NoError(t, hub.HandleOrderEvent(event("001", models.EventOrderCreated, models.StatusPending, now)))
	require.NoError(t, hub.HandleOrderEvent(event("003", models.EventOrderCreated, models.StatusPending, now.Add(2*time.Second))))
	require.NoError(t, hub.HandleOrderEvent(event("003", models.EventOrderStatusChanged, models.StatusCancelled, now.Add(3*time.Second))))

	open := hub.OpenOrders()
	require.Len(t, open, 2)
	assert.Equal(t, "001", open[0].OrderID)
	assert.Equal(t, "002", open[1].OrderID)
}

func TestBoardReceivesSnapshotThenUpdates(t *testing.T) {
	hub, srv := newTestHub(t)
	require.NoError(t, hub.HandleOrderEvent(event("001", models.EventOrderCreated, models.StatusPending, time.Now())))

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	snap := readMessage(t, conn)
	assert.JSONEq(t, `"`+MessageSnapshot+`"`, string(snap["type"]))
	var open []models.OrderEvent
	require.NoError(t, json.Unmarshal(snap["data"], &open))
	require.Len(t, open, 1)
	assert.Equal(t, "001", open[0].OrderID)

	require.NoError(t, hub.HandleOrderEvent(event("001", models.EventOrderStatusChanged, models.StatusPreparing, time.Now())))
	// The earlier created event may still be in flight to this board.
	for i := 0; i < 2; i++ {
		update := readMessage(t, conn)
		if string(update["type"]) == `"`+models.EventOrderStatusChanged+`"` {
			return
		}
	}
	t.Fatal("status change never reached the board")
}

func TestOriginAllowList(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	hub := NewHub(logger, "http://board.local")
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://elsewhere.local"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://board.local"}})
	require.NoError(t, err)
	conn.Close()
}
