// internal/server/handlers/websocket.go

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"spark/internal/adapter/events"
	"spark/internal/logging"
	"spark/internal/metrics"
)

// Subscriber is the NATS subscription surface the stream needs
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

var _ Subscriber = (*nats.Conn)(nil)

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	conn              *websocket.Conn
	send              chan []byte
	done              chan struct{}
	closeOnce         sync.Once
	userID            string
	config            WebSocketConfig
	logger            *slog.Logger
	mu                sync.Mutex
	natsSubscriptions []*nats.Subscription
}

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 4 * 1024,
	}
}

// streamEvent is what a client receives for each bus event
type streamEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Time time.Time       `json:"time"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS layer
		return true
	},
}

// SparkWebSocketHandler streams spark events involving the user. It
// subscribes to the per-user subjects the NATS event bus publishes.
func SparkWebSocketHandler(sub Subscriber, userPrefix string, logger *slog.Logger) http.HandlerFunc {
	logger = logging.Component(logger, "spark_stream")

	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			// Identity comes from the auth layer in front of this service
			http.Error(w, "Missing user ID", http.StatusBadRequest)
			return
		}

		// Upgrade HTTP connection to WebSocket
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade to websocket", "error", err)
			return
		}

		client := &WebSocketClient{
			conn:   conn,
			send:   make(chan []byte, 256),
			done:   make(chan struct{}),
			userID: userID,
			config: DefaultWebSocketConfig(),
			logger: logger.With("user_id", userID),
		}
		metrics.WebSocketConnections.Inc()

		go client.writePump()
		go client.readPump()

		if err := client.subscribe(sub, userPrefix); err != nil {
			client.logger.Error("failed to subscribe to spark events", "error", err)
			client.closeConnection()
			return
		}

		client.enqueue(streamEvent{Type: "welcome", Time: time.Now()})
		client.logger.Info("spark stream connected")
	}
}

// subscribe forwards every event on the user's subjects to the socket
func (c *WebSocketClient) subscribe(sub Subscriber, userPrefix string) error {
	prefix := userPrefix + "." + c.userID + "."
	s, err := sub.Subscribe(events.UserSubject(userPrefix, c.userID, ">"), func(msg *nats.Msg) {
		c.enqueue(streamEvent{
			Type: strings.TrimPrefix(msg.Subject, prefix),
			Data: json.RawMessage(msg.Data),
			Time: time.Now(),
		})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		// Client left while subscribing
		if s != nil {
			s.Unsubscribe()
		}
	default:
		c.natsSubscriptions = append(c.natsSubscriptions, s)
	}
	return nil
}

// enqueue drops the event if the client is gone or too slow
func (c *WebSocketClient) enqueue(ev streamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("failed to marshal stream event", "type", ev.Type, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("client too slow, dropping event", "type", ev.Type)
	}
}

// readPump keeps the read deadline fresh and notices disconnects. Clients
// do not send anything meaningful on this stream.
func (c *WebSocketClient) readPump() {
	defer c.closeConnection()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			return
		}
	}
}

// writePump pumps queued events to the WebSocket connection
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeConnection closes the WebSocket connection and cleans up resources
func (c *WebSocketClient) closeConnection() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		for _, sub := range c.natsSubscriptions {
			if sub != nil {
				sub.Unsubscribe()
			}
		}
		close(c.done)
		c.mu.Unlock()

		c.conn.Close()
		metrics.WebSocketConnections.Dec()
		c.logger.Info("spark stream closed")
	})
}
