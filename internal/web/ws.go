package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"td9scan/internal/bus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsClient mirrors the SSE feed over one WebSocket connection. Events
// are wrapped in an {"event": name, "data": payload} envelope.
type wsClient struct {
	conn   *websocket.Conn
	events <-chan bus.Event
	cancel func()
}

// handleWS upgrades the connection and pumps bus events until either
// side goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}
	events, cancel := s.bus.Subscribe()
	c := &wsClient{conn: conn, events: events, cancel: cancel}

	// Ship the full snapshot first so a fresh client renders immediately.
	if data, err := json.Marshal(s.engine.Snapshot()); err == nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		conn.WriteJSON(map[string]json.RawMessage{
			"event": json.RawMessage(`"state"`),
			"data":  json.RawMessage(data),
		})
	}

	s.met.Subscribers.Inc()
	go func() {
		defer s.met.Subscribers.Dec()
		c.writePump()
	}()
	go c.readPump()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			envelope, err := json.Marshal(map[string]json.RawMessage{
				"event": json.RawMessage(`"` + ev.Name + `"`),
				"data":  json.RawMessage(ev.Data),
			})
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, envelope); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is pong handling and
// noticing the disconnect.
func (c *wsClient) readPump() {
	defer func() {
		c.cancel()
		c.conn.Close()
		slog.Debug("ws client disconnected")
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
