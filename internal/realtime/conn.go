// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one authenticated websocket connection.
type Conn struct {
	ID     string
	UserID string

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newConn(id, userID string, ws *websocket.Conn, buffer int, logger *slog.Logger) *Conn {
	return &Conn{
		ID:     id,
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger.With("conn_id", id, "user_id", userID),
	}
}

// enqueue queues msg without blocking. The send channel is never closed, so
// publishers may race with Close safely.
func (c *Conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) sendJSON(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to encode frame", "error", err)
		return
	}
	if !c.enqueue(msg) {
		c.logger.Warn("reply dropped: connection send buffer full")
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump delivers inbound text frames to handle until the socket fails.
func (c *Conn) readPump(cfg Config, handle func(data []byte)) {
	defer c.Close()

	c.ws.SetReadLimit(cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PingInterval * 2))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PingInterval * 2))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PingInterval * 2))
		handle(data)
	}
}

// writePump drains the send queue and pings the peer until closed.
func (c *Conn) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteTimeout))
			return
		}
	}
}
