package websocket

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	MessageSnapshot = "board.snapshot"

	sendBuffer = 256
)

type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	Source    string      `json:"source"`
}

func newMessage(messageType string, data interface{}, source string) Message {
	return Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    source,
	}
}

// Hub fans order updates out to connected boards and remembers the latest
// event of every open order so a board that connects late starts complete.
type Hub struct {
	boardsMu sync.RWMutex
	boards   map[*board]struct{}

	join     chan *board
	leave    chan *board
	outbound chan Message
	done     chan struct{}

	openMu sync.Mutex
	open   map[string]models.OrderEvent

	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewHub accepts connections from allowedOrigins, or from any origin when
// the list is empty.
func NewHub(logger *logrus.Logger, allowedOrigins ...string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Hub{
		boards:   make(map[*board]struct{}),
		join:     make(chan *board),
		leave:    make(chan *board),
		outbound: make(chan Message, sendBuffer),
		done:     make(chan struct{}),
		open:     make(map[string]models.OrderEvent),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return len(allowed) == 0 || allowed[r.Header.Get("Origin")]
			},
		},
		logger: logger,
	}
}

// Run owns board membership until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.boardsMu.Lock()
			for b := range h.boards {
				h.drop(b)
			}
			h.boardsMu.Unlock()
			return

		case b := <-h.join:
			h.boardsMu.Lock()
			h.boards[b] = struct{}{}
			count := len(h.boards)
			h.boardsMu.Unlock()

			b.send <- newMessage(MessageSnapshot, h.OpenOrders(), "board")
			h.logger.WithField("boards", count).Info("Board connected")

		case b := <-h.leave:
			h.boardsMu.Lock()
			if _, ok := h.boards[b]; ok {
				h.drop(b)
			}
			count := len(h.boards)
			h.boardsMu.Unlock()
			h.logger.WithField("boards", count).Info("Board disconnected")

		case msg := <-h.outbound:
			h.boardsMu.Lock()
			for b := range h.boards {
				select {
				case b.send <- msg:
				default:
					h.logger.Warn("Board is not keeping up, disconnecting it")
					h.drop(b)
				}
			}
			h.boardsMu.Unlock()
		}
	}
}

// drop must be called with boardsMu held.
func (h *Hub) drop(b *board) {
	delete(h.boards, b)
	close(b.send)
}

// Broadcast queues a message for every board without blocking the caller.
func (h *Hub) Broadcast(messageType string, data interface{}, source string) {
	select {
	case h.outbound <- newMessage(messageType, data, source):
	default:
		h.logger.WithField("type", messageType).Warn("Board queue full, dropping message")
	}
}

// HandleOrderEvent records an event read from Kafka and relays it.
func (h *Hub) HandleOrderEvent(event models.OrderEvent) error {
	h.apply(event, "kafka")
	return nil
}

// PublishOrderEvent records an event committed in this process and relays it.
func (h *Hub) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	h.apply(event, "order-service")
	return nil
}

// apply keeps the open-order snapshot for late joiners current.
func (h *Hub) apply(event models.OrderEvent, source string) {
	h.openMu.Lock()
	if event.Status.Terminal() {
		delete(h.open, event.OrderID)
	} else {
		h.open[event.OrderID] = event
	}
	h.openMu.Unlock()

	h.Broadcast(event.Type, event, source)
}

// OpenOrders returns the latest event of every non-terminal order in the
// order the events happened.
func (h *Hub) OpenOrders() []models.OrderEvent {
	h.openMu.Lock()
	events := make([]models.OrderEvent, 0, len(h.open))
	for _, e := range h.open {
		events = append(events, e)
	}
	h.openMu.Unlock()

	sort.Slice(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
	return events
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	b := &board{conn: conn, send: make(chan Message, sendBuffer), logger: h.logger}
	select {
	case h.join <- b:
	case <-h.done:
		conn.Close()
		return
	}

	go b.writeLoop()
	go b.readLoop(h.leave, h.done)
}

func (h *Hub) GetClientCount() int {
	h.boardsMu.RLock()
	defer h.boardsMu.RUnlock()
	return len(h.boards)
}
