package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridesync/internal/middleware"
	"ridesync/internal/notify"
	"ridesync/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one frame of the session stream.
type StreamMessage struct {
	Type     string          `json:"type"`
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
	Event    *notify.Event   `json:"event,omitempty"`
}

// StreamHandler pushes session snapshots and notifications over a websocket.
type StreamHandler struct {
	sessions Sessions
	redis    *redis.Client
	log      logrus.FieldLogger
}

// NewStreamHandler creates a new StreamHandler. A nil redis client streams
// snapshots only.
func NewStreamHandler(sessions Sessions, redisClient *redis.Client, log logrus.FieldLogger) *StreamHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StreamHandler{sessions: sessions, redis: redisClient, log: log.WithField("component", "stream")}
}

// Stream handles GET /v1/session/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	userID := middleware.UserID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Warn("websocket upgrade failed")
		return
	}

	snapshots, cancel := s.Watch()
	defer cancel()

	var events <-chan *redis.Message
	if h.redis != nil {
		pubsub := h.redis.Subscribe(c.Request.Context(), notify.Channel(userID))
		defer pubsub.Close()
		events = pubsub.Channel()
	}

	closed := make(chan struct{})
	go readPump(conn, closed)
	h.writePump(conn, snapshots, events, closed)
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, snapshots <-chan store.Snapshot, events <-chan *redis.Message, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case snap, ok := <-snapshots:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(StreamMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
				return
			}

		case msg, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			var event notify.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.log.WithError(err).Warn("dropping malformed notification")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(StreamMessage{Type: string(event.Type), Event: &event}); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}
