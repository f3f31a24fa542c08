package management

import (
	"context"
	"net/http"
	"time"

	"antigravity2api-go/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The management API is already key-protected; the WS endpoint sits
	// behind the same middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// EventsWebSocket streams credential pool events to the admin UI. Every
// change, sync and health event published on the hub is forwarded as one JSON
// message.
func (h *AdminAPIHandler) EventsWebSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan events.Event, 64)
	forward := func(_ context.Context, ev events.Event) {
		select {
		case send <- ev:
		default:
			// Slow consumer: drop rather than block publishers.
		}
	}

	unsubs := make([]func(), 0, 3)
	for _, topic := range []string{
		events.TopicCredentialChanged,
		events.TopicCredentialsSynced,
		events.TopicHealthChecked,
	} {
		unsubs = append(unsubs, h.hub.Subscribe(topic, forward))
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	// Reader goroutine: consume control frames and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
