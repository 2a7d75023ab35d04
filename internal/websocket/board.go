package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingInterval = idleTimeout * 9 / 10

	// Boards only send control frames.
	maxInboundBytes = 512
)

// board is one connected display.
type board struct {
	conn   *websocket.Conn
	send   chan Message
	logger *logrus.Logger
}

// readLoop discards inbound data and keeps the read deadline moving on
// pongs. It reports the board to leave when the connection ends, unless
// the hub has already stopped.
func (b *board) readLoop(leave chan<- *board, done <-chan struct{}) {
	defer func() {
		select {
		case leave <- b:
		case <-done:
		}
		b.conn.Close()
	}()

	b.conn.SetReadLimit(maxInboundBytes)
	b.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		if _, _, err := b.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.WithError(err).Warn("Board connection closed unexpectedly")
			}
			return
		}
	}
}

// writeLoop owns all writes to the connection.
func (b *board) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		b.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-b.send:
			b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				b.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := b.conn.WriteJSON(msg); err != nil {
				b.logger.WithError(err).Debug("Board write failed")
				return
			}

		case <-ticker.C:
			b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
