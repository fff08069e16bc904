package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ibo-najjar/chat-app-backend/internal/api/middleware"
	"github.com/ibo-najjar/chat-app-backend/internal/bus"
	"github.com/ibo-najjar/chat-app-backend/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Client-facing topic names for the subscription endpoint.
const (
	wsTopicConversationCreated = "conversationCreated"
	wsTopicMessageSent         = "messageSent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The websocket endpoint authenticates with its own connection-scoped
	// token; origin policy is enforced on the HTTP surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is a frame sent by the subscriber.
type clientFrame struct {
	Type           string `json:"type"` // "subscribe" or "unsubscribe"
	ID             int    `json:"id,omitempty"`
	Topic          string `json:"topic,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// serverFrame is a frame pushed to the subscriber.
type serverFrame struct {
	Type    string `json:"type"` // "subscribed", "unsubscribed", "event", "error"
	ID      int    `json:"id,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Subscribe serves the persistent subscription connection. Each subscribe
// frame registers a bus subscription gated by a filter predicate; everything
// is released when the connection drops.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}

	metrics.WSConnections.Inc()
	conn := newWSConn(ws)
	conn.start()

	subscriptions := make(map[int]*bus.Subscription)
	nextID := 1

	defer func() {
		for _, sub := range subscriptions {
			sub.Close()
			metrics.SubscriptionsActive.Dec()
		}
		conn.stop(websocket.CloseNormalClosure, "bye")
		metrics.WSConnections.Dec()
	}()

	for {
		var frame clientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case "subscribe":
			sub, filter, err := h.openSubscription(r, caller.ID, frame)
			if err != nil {
				conn.sendFrame(serverFrame{Type: "error", Topic: frame.Topic, Error: err.Error()})
				continue
			}

			id := nextID
			nextID++
			subscriptions[id] = sub
			metrics.SubscriptionsActive.Inc()

			go pumpEvents(conn, sub, filter, frame.Topic, id)
			conn.sendFrame(serverFrame{Type: "subscribed", ID: id, Topic: frame.Topic})

		case "unsubscribe":
			if sub, ok := subscriptions[frame.ID]; ok {
				sub.Close()
				delete(subscriptions, frame.ID)
				metrics.SubscriptionsActive.Dec()
				conn.sendFrame(serverFrame{Type: "unsubscribed", ID: frame.ID})
			}

		default:
			conn.sendFrame(serverFrame{Type: "error", Error: "unknown frame type"})
		}
	}
}

// openSubscription validates a subscribe frame and returns the bus
// subscription with its delivery filter.
func (h *Handler) openSubscription(r *http.Request, userID string, frame clientFrame) (*bus.Subscription, bus.FilterFunc, error) {
	switch frame.Topic {
	case wsTopicConversationCreated:
		sub, err := h.bus.Subscribe(bus.TopicConversationCreated)
		if err != nil {
			return nil, nil, errors.New("subscription failed")
		}
		return sub, bus.ConversationCreatedForUser(userID), nil

	case wsTopicMessageSent:
		if frame.ConversationID == "" {
			return nil, nil, errors.New("conversationId is required")
		}

		// Membership is checked at subscribe time: knowing a conversation
		// ID is not enough to listen in on it.
		participant, err := h.data.GetParticipant(r.Context(), frame.ConversationID, userID)
		if err != nil {
			h.logger.Error().Err(err).Msg("participant lookup failed")
			return nil, nil, errors.New("subscription failed")
		}
		if participant == nil {
			return nil, nil, errors.New("you are not a participant in this conversation")
		}

		sub, err := h.bus.Subscribe(bus.TopicMessageSent)
		if err != nil {
			return nil, nil, errors.New("subscription failed")
		}
		return sub, bus.MessageSentInConversation(frame.ConversationID), nil

	default:
		return nil, nil, errors.New("unknown topic")
	}
}

// pumpEvents forwards filtered bus events to the connection until the
// subscription closes.
func pumpEvents(conn *wsConn, sub *bus.Subscription, filter bus.FilterFunc, topic string, id int) {
	for ev := range sub.Events() {
		if !filter(ev) {
			continue
		}
		conn.sendFrame(serverFrame{Type: "event", ID: id, Topic: topic, Payload: eventPayload(ev)})
	}
}

// eventPayload unwraps the entity carried by an event.
func eventPayload(ev bus.Event) any {
	switch e := ev.(type) {
	case bus.ConversationCreated:
		return e.Conversation
	case bus.MessageSent:
		return e.Message
	default:
		return nil
	}
}

// wsConn coordinates outbound writes on a websocket via a buffered channel,
// so event pumps and the read loop never write concurrently.
type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:   ws,
		send: make(chan []byte, 128),
		done: make(chan struct{}),
	}
}

func (c *wsConn) start() {
	go c.writeLoop()
}

// sendFrame enqueues a frame for delivery. If the client is slow and the
// buffer is full, the connection is closed to keep backpressure bounded.
func (c *wsConn) sendFrame(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.stop(websocket.CloseGoingAway, "send buffer full")
	}
}

// stop terminates the connection and the write loop.
func (c *wsConn) stop(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
