// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gallery

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/breadboard/pkg/logging"
)

// Websocket timing.
const (
	// writeWait is the deadline for one outbound frame.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// considered dead.
	pongWait = 60 * time.Second

	// pingPeriod sends pings inside the pong window.
	pingPeriod = (pongWait * 9) / 10

	// clientBuffer is the per-connection outbound queue. A client that
	// falls this far behind is dropped.
	clientBuffer = 16
)

// Event names pushed to connected galleries.
const (
	EventSnippetSaved   = "snippet-saved"
	EventSnippetDeleted = "snippet-deleted"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gallery is same-origin or local; the bearer guard covers
	// mutations, and the socket is notification-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Notification is one event frame sent to every connected client.
type Notification struct {
	Event   string `json:"event"`
	Snippet any    `json:"snippet,omitempty"`
	ID      string `json:"id,omitempty"`
}

// client is one connected gallery.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans notifications out to connected clients. The run loop owns
// the client set; register, unregister, and broadcast all funnel
// through its channels.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	log        *logging.Logger
}

// NewHub creates a Hub. Run must be started before Serve is reachable.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Default()
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		log:        log.With("component", "hub"),
	}
}

// Run owns the client set until ctx is cancelled. On shutdown every
// client's queue is closed, which terminates its write pump.
func (h *Hub) Run(ctx context.Context) error {
	clients := make(map[*client]struct{})
	defer func() {
		for c := range clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-h.register:
			clients[c] = struct{}{}
			h.log.Debug("client connected", "session_id", c.id, "clients", len(clients))
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.log.Debug("client disconnected", "session_id", c.id, "clients", len(clients))
			}
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than blocking
					// every other gallery.
					delete(clients, c)
					close(c.send)
					h.log.Warn("dropping slow client", "session_id", c.id)
				}
			}
		}
	}
}

// Notify broadcasts one event. Never blocks; if the hub's queue is full
// the event is dropped with a warning.
func (h *Hub) Notify(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.log.Error("marshal notification", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("notification dropped, hub backlogged", "event", n.Event)
	}
}

// Serve upgrades one request and pumps notifications until the peer
// goes away.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	h.register <- cl

	go cl.writePump()
	cl.readPump(h)
}

// readPump discards inbound frames; the socket is one-way. It exists to
// process pongs and to notice the peer closing.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump delivers queued frames and keepalive pings under write
// deadlines. A closed send channel emits a close frame and returns.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
