package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// WSMessage is a frame of the job event stream.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsConn serializes writes to one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// jobEvents streams a job's events. The current status is sent first; the
// stream ends after a completed or stalled event.
func (s *Server) jobEvents(c *gin.Context) {
	session := currentSession(c)
	id := c.Param("id")
	if _, err := session.Coordinator.Poll(id); err != nil {
		respondError(c, err)
		return
	}

	// Subscribe before reading the status so no terminal event falls between.
	events, cancel := session.Coordinator.Subscribe(id)
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug(fmt.Sprintf("WebSocket upgrade error: %v", err))
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug(fmt.Sprintf("WebSocket error: %v", err))
				}
				return
			}
		}
	}()

	status, err := session.Coordinator.Poll(id)
	if err != nil {
		return
	}
	if err := ws.writeJSON(WSMessage{Type: "status", Data: status}); err != nil {
		return
	}
	if !status.Running && (status.State == coordinator.StateComplete || status.State == coordinator.StateStalled) {
		s.closeStream(ws)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				s.closeStream(ws)
				return
			}
			if err := ws.writeJSON(WSMessage{Type: "event", Data: event}); err != nil {
				return
			}
			if event.Terminal() {
				s.closeStream(ws)
				return
			}
		}
	}
}

func (s *Server) closeStream(ws *wsConn) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
