package remote

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rewired-gh/stakesync/internal/logger"
)

// ChangeEvent is one row change pushed by the realtime feed.
type ChangeEvent struct {
	Table  string
	Type   string // INSERT, UPDATE, DELETE
	Row    map[string]interface{}
	OldRow map[string]interface{}
}

// ChangeHandler receives change events for one subscription.
type ChangeHandler func(ChangeEvent)

// frame is the wire format of the realtime channel protocol.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type changePayload struct {
	Type      string                 `json:"type"`
	Record    map[string]interface{} `json:"record"`
	OldRecord map[string]interface{} `json:"old_record"`
}

type joinSpec struct {
	table   string
	filter  string
	handler ChangeHandler
}

// Feed maintains one websocket connection to the realtime endpoint, joins one
// topic per subscribed table, and dispatches change events. The server-side
// filter excludes the current user's own writes, so no local echo suppression
// is needed. Lost connections are redialed with linear backoff and topics are
// rejoined.
type Feed struct {
	realtimeURL    string
	apiKey         string
	heartbeatEvery time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]joinSpec
	done   chan struct{}
	closed bool
}

// NewFeed creates a feed for the given realtime endpoint.
func NewFeed(realtimeURL, apiKey string, heartbeatEvery time.Duration) *Feed {
	if heartbeatEvery <= 0 {
		heartbeatEvery = 30 * time.Second
	}
	return &Feed{
		realtimeURL:    realtimeURL,
		apiKey:         apiKey,
		heartbeatEvery: heartbeatEvery,
		topics:         make(map[string]joinSpec),
	}
}

// Subscribe joins the change feed for table, filtered server-side (e.g.
// "user_id=neq.<me>"), and dispatches events to handler. The first
// subscription dials the connection.
func (f *Feed) Subscribe(table, filter string, handler ChangeHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("feed is closed")
	}

	if f.conn == nil {
		if err := f.dialLocked(); err != nil {
			return err
		}
	}

	topic := topicFor(table)
	f.topics[topic] = joinSpec{table: table, filter: filter, handler: handler}
	return f.joinLocked(topic, filter)
}

// Unsubscribe leaves the change feed for table.
func (f *Feed) Unsubscribe(table string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	topic := topicFor(table)
	delete(f.topics, topic)
	if f.conn != nil {
		f.sendLocked(frame{Topic: topic, Event: "phx_leave", Ref: uuid.NewString()})
	}
}

// Close tears the connection down and stops reconnect attempts.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.topics = make(map[string]joinSpec)
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

func (f *Feed) dialLocked() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.realtimeURL+"?apikey="+f.apiKey, nil)
	if err != nil {
		return fmt.Errorf("failed to connect realtime feed: %w", err)
	}
	f.conn = conn
	f.done = make(chan struct{})
	go f.readLoop(conn, f.done)
	go f.heartbeatLoop(conn, f.done)
	logger.Info("Realtime feed connected")
	return nil
}

func (f *Feed) joinLocked(topic, filter string) error {
	payload, _ := json.Marshal(map[string]string{"filter": filter})
	return f.sendLocked(frame{
		Topic:   topic,
		Event:   "phx_join",
		Payload: payload,
		Ref:     uuid.NewString(),
	})
}

func (f *Feed) sendLocked(fr frame) error {
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	return f.conn.WriteJSON(fr)
}

func (f *Feed) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var fr frame
		if err := conn.ReadJSON(&fr); err != nil {
			select {
			case <-done:
				return
			default:
			}
			logger.Warn("Realtime feed read failed: %v", err)
			f.reconnect(conn)
			return
		}
		f.dispatch(fr)
	}
}

func (f *Feed) dispatch(fr frame) {
	switch fr.Event {
	case "phx_reply", "heartbeat":
		return
	case "INSERT", "UPDATE", "DELETE":
	default:
		logger.Debug("Ignoring realtime event %q on %s", fr.Event, fr.Topic)
		return
	}

	f.mu.Lock()
	spec, ok := f.topics[fr.Topic]
	f.mu.Unlock()
	if !ok {
		return
	}

	var payload changePayload
	if err := json.Unmarshal(fr.Payload, &payload); err != nil {
		logger.Warn("Failed to decode change payload on %s: %v", fr.Topic, err)
		return
	}
	spec.handler(ChangeEvent{
		Table:  spec.table,
		Type:   fr.Event,
		Row:    payload.Record,
		OldRow: payload.OldRecord,
	})
}

func (f *Feed) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(f.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.conn == conn {
				f.sendLocked(frame{Topic: "phoenix", Event: "heartbeat", Ref: uuid.NewString()}) //nolint:errcheck
			}
			f.mu.Unlock()
		}
	}
}

// reconnect redials with linear backoff and rejoins every subscribed topic.
func (f *Feed) reconnect(old *websocket.Conn) {
	f.mu.Lock()
	if f.closed || f.conn != old {
		f.mu.Unlock()
		return
	}
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	f.conn.Close()
	f.conn = nil
	f.mu.Unlock()

	for attempt := 1; ; attempt++ {
		time.Sleep(time.Duration(attempt) * time.Second)

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		err := f.dialLocked()
		if err == nil {
			for topic, spec := range f.topics {
				if joinErr := f.joinLocked(topic, spec.filter); joinErr != nil {
					logger.Warn("Failed to rejoin %s: %v", topic, joinErr)
				}
			}
			f.mu.Unlock()
			logger.Info("Realtime feed reconnected after %d attempt(s)", attempt)
			return
		}
		f.mu.Unlock()
		logger.Warn("Realtime reconnect attempt %d failed: %v", attempt, err)
		if attempt >= 10 {
			logger.Error("Giving up on realtime reconnect after %d attempts", attempt)
			return
		}
	}
}

func topicFor(table string) string {
	return "realtime:public:" + table
}
