package http

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/garyjia/invoice-engine/internal/domain/event"
)

const (
	wsWriteWait = 10 * time.Second
	// CloseReplaced is the WebSocket close code sent when a reconnect with the
	// same connection id takes over, or the session opened too many streams
	CloseReplaced = 4000

	// ConnectionParam carries the connection id a client got in its ready
	// frame. Sending it on reconnect replaces the previous connection.
	ConnectionParam  = "connection_id"
	ConnectionHeader = "X-Connection-ID"
)

// readyFrame is the first message of every stream
type readyFrame struct {
	Type         string `json:"type,omitempty"`
	ConnectionID string `json:"connection_id"`
}

// connectionID returns the connection id the client asked to resume
func connectionID(c *gin.Context) string {
	if id := c.Query(ConnectionParam); id != "" {
		return id
	}
	return c.GetHeader(ConnectionHeader)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the stream is authenticated by token, not by cookie
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamEvents handles GET /api/v1/events as a server-sent event stream
func (h *Handlers) StreamEvents(c *gin.Context) {
	sub := h.hub.Register(sessionID(c), connectionID(c))
	defer h.hub.Unregister(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	w := c.Writer
	if err := sse.Encode(w, sse.Event{Event: "ready", Data: readyFrame{ConnectionID: sub.ID}}); err != nil {
		return
	}
	w.Flush()

	heartbeat := time.NewTicker(h.hub.Heartbeat())
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case evt := <-sub.Events():
			if err := writeSSE(w, evt); err != nil {
				return
			}
			w.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

func writeSSE(w io.Writer, evt *event.Event) error {
	return sse.Encode(w, sse.Event{
		Id:    evt.ID,
		Event: evt.Type.String(),
		Data:  evt,
	})
}

// StreamEventsWS handles GET /api/v1/events/ws. The first text frame is the
// ready frame; events follow as JSON text frames and heartbeats are pings.
func (h *Handlers) StreamEventsWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Register(sessionID(c), connectionID(c))
	defer h.hub.Unregister(sub)

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(readyFrame{Type: "ready", ConnectionID: sub.ID}); err != nil {
		return
	}

	heartbeat := h.hub.Heartbeat()
	readDone := make(chan struct{})
	go readPump(conn, 2*heartbeat, readDone)

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseReplaced, "connection replaced"),
				time.Now().Add(wsWriteWait))
			return
		case evt := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and notices when the peer goes away or
// stops answering pings
func readPump(conn *websocket.Conn, idle time.Duration, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
