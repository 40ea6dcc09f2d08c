// Package client is the channel connection manager used by host and player
// processes: one persistent websocket per logical channel, a uniform
// publish/subscribe surface, heartbeat supervision and bounded-backoff
// reconnection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"livequiz-service/internal/domain"
)

const (
	handshakeTimeout = 10 * time.Second
	clientWriteWait  = 10 * time.Second
	clientPongWait   = 45 * time.Second
)

// AuthContext identifies the participant and session on every handshake,
// including the re-handshake after a reconnect.
type AuthContext struct {
	SessionID     string
	JoinCode      string
	ParticipantID string
	DisplayName   string
}

// BackoffPolicy bounds reconnection: at most MaxAttempts tries, delays
// growing by Multiplier from Initial up to Max.
type BackoffPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:     500 * time.Millisecond,
		Max:         15 * time.Second,
		Multiplier:  2,
		MaxAttempts: 8,
	}
}

// Delay returns the wait before the given 1-based attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	delay := p.Initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay >= p.Max {
			return p.Max
		}
	}
	if delay > p.Max {
		return p.Max
	}
	return delay
}

// Manager opens channel connections against one server.
type Manager struct {
	baseURL string
	dialer  *websocket.Dialer
	policy  BackoffPolicy
	clock   clockwork.Clock
}

type ManagerOption func(*Manager)

func WithBackoff(policy BackoffPolicy) ManagerOption {
	return func(m *Manager) { m.policy = policy }
}

func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager takes the server base URL, e.g. "ws://localhost:8080".
func NewManager(baseURL string, opts ...ManagerOption) *Manager {
	m := &Manager{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
		policy:  DefaultBackoffPolicy(),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open establishes one logical channel. The handshake requires a
// participant identifier except on the observer channel; it completes when
// the server's initial session:state event arrives, so a returned Conn
// always holds a consistent snapshot.
func (m *Manager) Open(ctx context.Context, channel string, auth AuthContext) (*Conn, error) {
	if auth.ParticipantID == "" && channel != domain.ChannelObserver {
		return nil, domain.ErrAuthenticationRequired
	}

	c := &Conn{
		manager:  m,
		channel:  channel,
		auth:     auth,
		url:      m.channelURL(channel, auth),
		handlers: make(map[string]map[int]func(domain.Event)),
		done:     make(chan struct{}),
	}

	ws, _, err := m.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("open channel %s: %w", channel, err)
	}
	snapshot, err := awaitHandshake(ws)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("channel %s handshake: %w", channel, err)
	}
	c.setConn(ws)
	c.setSnapshot(snapshot)
	go c.readLoop(ws)
	return c, nil
}

func (m *Manager) channelURL(channel string, auth AuthContext) string {
	q := url.Values{}
	if auth.ParticipantID != "" {
		q.Set("participantId", auth.ParticipantID)
	}
	if auth.DisplayName != "" {
		q.Set("name", auth.DisplayName)
	}
	if auth.JoinCode != "" {
		q.Set("code", auth.JoinCode)
	} else if auth.SessionID != "" {
		q.Set("sessionId", auth.SessionID)
	}
	return m.baseURL + "/ws/" + channel + "?" + q.Encode()
}

// awaitHandshake reads the server's initial session:state event.
func awaitHandshake(ws *websocket.Conn) (domain.SessionSnapshot, error) {
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := ws.ReadJSON(&envelope); err != nil {
		return domain.SessionSnapshot{}, err
	}
	if envelope.Type == domain.EventError {
		var rejection domain.Rejection
		if err := json.Unmarshal(envelope.Payload, &rejection); err == nil {
			return domain.SessionSnapshot{}, &rejection
		}
		return domain.SessionSnapshot{}, domain.ErrAuthenticationRequired
	}
	if envelope.Type != domain.EventSessionState {
		return domain.SessionSnapshot{}, fmt.Errorf("expected %s, got %s", domain.EventSessionState, envelope.Type)
	}
	var snapshot domain.SessionSnapshot
	if err := json.Unmarshal(envelope.Payload, &snapshot); err != nil {
		return domain.SessionSnapshot{}, err
	}
	return snapshot, nil
}

// Conn is one open logical channel.
type Conn struct {
	manager *Manager
	channel string
	auth    AuthContext
	url     string

	mu            sync.Mutex
	ws            *websocket.Conn
	handlers      map[string]map[int]func(domain.Event)
	nextHandlerID int
	snapshot      domain.SessionSnapshot
	closed        bool
	err           error

	writeMu sync.Mutex
	done    chan struct{}
}

// Snapshot returns the state delivered by the most recent handshake.
func (c *Conn) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Err reports the terminal error, if the connection is beyond recovery.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done closes when the connection is terminally finished.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Publish sends one event to the server.
func (c *Conn) Publish(eventType string, payload any) error {
	c.mu.Lock()
	ws := c.ws
	closed := c.closed
	c.mu.Unlock()
	if closed || ws == nil {
		return domain.ErrConnectionLost
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return ws.WriteJSON(domain.Event{Type: eventType, Payload: payload})
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function. Handlers run on the read goroutine; payloads are
// json.RawMessage, decode with Payload[T].
func (c *Conn) Subscribe(eventType string, handler func(domain.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = make(map[int]func(domain.Event))
	}
	c.nextHandlerID++
	id := c.nextHandlerID
	c.handlers[eventType][id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[eventType], id)
	}
}

// Close shuts the channel down without reconnecting.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()
	close(c.done)
	if ws != nil {
		return ws.Close()
	}
	return nil
}

func (c *Conn) setConn(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(clientPongWait))
	ws.SetPingHandler(func(message string) error {
		_ = ws.SetReadDeadline(time.Now().Add(clientPongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(clientWriteWait))
	})
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *Conn) setSnapshot(snapshot domain.SessionSnapshot) {
	c.mu.Lock()
	c.snapshot = snapshot
	c.mu.Unlock()
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		var envelope struct {
			Type    string          `json:"type"`
			Seq     uint64          `json:"seq"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := ws.ReadJSON(&envelope); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			log.Debug().Err(err).Str("channel", c.channel).Msg("transport lost, reconnecting")
			c.reconnect()
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(clientPongWait))
		c.dispatch(domain.Event{Type: envelope.Type, Seq: envelope.Seq, Payload: envelope.Payload})
	}
}

func (c *Conn) dispatch(event domain.Event) {
	c.mu.Lock()
	registered := make([]func(domain.Event), 0, len(c.handlers[event.Type]))
	for _, handler := range c.handlers[event.Type] {
		registered = append(registered, handler)
	}
	c.mu.Unlock()
	for _, handler := range registered {
		handler(event)
	}
}

// reconnect retries the handshake with exponential backoff, re-sending the
// original auth context. On success it emits reconnected(attempt); past the
// bound it surfaces a terminal ConnectionLost and stops.
func (c *Conn) reconnect() {
	policy := c.manager.policy
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-c.done:
			return
		default:
		}
		c.manager.clock.Sleep(policy.Delay(attempt))

		ws, _, err := c.manager.dialer.Dial(c.url, nil)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Str("channel", c.channel).Msg("reconnect failed")
			continue
		}
		snapshot, err := awaitHandshake(ws)
		if err != nil {
			_ = ws.Close()
			continue
		}
		c.setConn(ws)
		c.setSnapshot(snapshot)
		go c.readLoop(ws)
		payload, _ := json.Marshal(domain.ReconnectedPayload{Attempt: attempt})
		c.dispatch(domain.Event{Type: domain.EventReconnected, Payload: json.RawMessage(payload)})
		return
	}

	c.mu.Lock()
	c.err = domain.ErrConnectionLost
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !alreadyClosed {
		close(c.done)
	}
	payload, _ := json.Marshal(domain.ErrConnectionLost)
	c.dispatch(domain.Event{Type: domain.EventError, Payload: json.RawMessage(payload)})
}

// Payload decodes an event payload delivered to a subscriber.
func Payload[T any](event domain.Event) (T, error) {
	var out T
	raw, ok := event.Payload.(json.RawMessage)
	if !ok {
		return out, fmt.Errorf("payload is not raw JSON")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
