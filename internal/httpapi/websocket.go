package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livestream-studio/internal/events"
)

const (
	wsSendBuffer   = 64
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsMaxReadBytes = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts requests without an Origin header and same-host
// browser pages such as the bundled compositor.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	slow   bool
	logger *slog.Logger
}

func newWSClient(conn *websocket.Conn, logger *slog.Logger) *wsClient {
	return &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// enqueue never blocks. A client whose queue is full is disconnected.
func (c *wsClient) enqueue(evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		c.logger.Warn("encode event", "type", evt.Type, "error", err)
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.once.Do(func() {
			c.slow = true
			close(c.done)
		})
	}
}

func (c *wsClient) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			if c.slow {
				c.logger.Warn("websocket client too slow, disconnecting")
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "slow consumer"),
					time.Now().Add(wsWriteWait))
			}
			return
		}
	}
}

func (c *wsClient) readPump() {
	c.conn.SetReadLimit(wsMaxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// EventStream upgrades to a websocket and relays every event published on
// the requested topics. Without a topic parameter the global topic is used.
func (h *Handler) EventStream(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeError(w, http.StatusServiceUnavailable, errEventsUnavailable)
		return
	}
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{events.GlobalTopic}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger().Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	logger := h.logger().With("remote_addr", r.RemoteAddr)
	client := newWSClient(conn, logger)

	subs := make([]*events.Subscription, 0, len(topics))
	for _, topic := range topics {
		subs = append(subs, h.Events.Subscribe(topic, client.enqueue))
	}
	logger.Debug("websocket client connected", "topics", topics)

	go client.writePump()
	client.readPump()

	client.shutdown()
	for _, sub := range subs {
		sub.Close()
	}
	logger.Debug("websocket client disconnected")
}
