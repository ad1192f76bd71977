// Package transport keeps a persistent WebSocket channel to the backend and
// dispatches its named events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event names. Connect, Disconnect and ReconnectFailed are produced locally.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnectFailed = "reconnect_failed"
	EventReady           = "ready"
	EventTaskStarted     = "task_started"
	EventProgress        = "progress"
	EventError           = "error"
	EventExportComplete  = "export_complete"

	EventSubscribe   = "subscribe"
	EventProcessData = "process_data"
)

// Disconnect reasons.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonParseError       = "parse error"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportClose   = "transport close"
)

const (
	clientIDHeader = "X-Client-ID"
	writeWait      = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("channel not connected")
	ErrClosed       = errors.New("channel closed")
)

// Envelope is the wire format of every frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DisconnectInfo is the payload of the synthesized disconnect event.
type DisconnectInfo struct {
	Reason string `json:"reason"`
}

// Handler receives the raw data of an event. Handlers run on the channel's
// read goroutine in delivery order and must not block for long.
type Handler func(data json.RawMessage)

type Options struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	Timeout           time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
}

func (o *Options) setDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.ReconnectDelayMax < o.ReconnectDelay {
		o.ReconnectDelayMax = o.ReconnectDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
}

// Channel is a lazily started, self-reconnecting WebSocket connection.
type Channel struct {
	opts     Options
	clientID string
	dialer   *websocket.Dialer

	mu       sync.Mutex
	handlers map[string][]Handler
	conn     *websocket.Conn
	started  bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex
}

func NewChannel(opts Options) *Channel {
	opts.setDefaults()
	return &Channel{
		opts:     opts,
		clientID: uuid.NewString(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.Timeout,
		},
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
}

// ClientID identifies this channel to the server across reconnects.
func (c *Channel) ClientID() string { return c.clientID }

// On registers a handler for an event.
func (c *Channel) On(event string, h Handler) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.mu.Unlock()
}

// Start launches the connection loop once; later calls are no-ops.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
}

// Connected reports whether a connection is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit sends an event. It starts the channel if needed and fails with
// ErrNotConnected while no connection is open.
func (c *Channel) Emit(event string, data any) error {
	c.Start(context.Background())
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	log.Debug().Str("event", event).Msg("emitted")
	return nil
}

// Close stops reconnecting, closes the connection and waits for the loop.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	conn := c.conn
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if started {
		<-c.done
	}
}

func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	hs := append([]Handler(nil), c.handlers[event]...)
	c.mu.Unlock()
	if len(hs) == 0 {
		log.Debug().Str("event", event).Msg("no handler for event")
		return
	}
	for _, h := range hs {
		h(data)
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	attempt := 0
	serverRetries := 0
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			if attempt > c.opts.ReconnectAttempts {
				log.Error().Err(err).Int("attempts", attempt-1).Msg("giving up on channel reconnect")
				c.dispatch(EventReconnectFailed, nil)
				return
			}
			delay := c.backoff(attempt)
			log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("channel dial failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		attempt, serverRetries = 0, 0
		if !c.attach(conn) {
			_ = conn.Close()
			return
		}
		log.Info().Str("url", c.opts.URL).Str("client_id", c.clientID).Msg("channel connected")
		c.dispatch(EventConnect, nil)

		reason := c.readLoop(ctx, conn)
		c.detach(conn)
		log.Warn().Str("reason", reason).Msg("channel disconnected")
		info, _ := json.Marshal(DisconnectInfo{Reason: reason})
		c.dispatch(EventDisconnect, info)

		if ctx.Err() != nil || reason == ReasonClientDisconnect {
			return
		}
		delay := c.backoff(1)
		if reason == ReasonServerDisconnect || reason == ReasonParseError {
			serverRetries++
			if serverRetries > c.opts.ReconnectAttempts {
				c.dispatch(EventReconnectFailed, nil)
				return
			}
			delay = c.opts.ReconnectDelay
			log.Info().Int("attempt", serverRetries).Int("max", c.opts.ReconnectAttempts).Msg("attempting to reconnect")
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	header := http.Header{}
	header.Set(clientIDHeader, c.clientID)
	conn, resp, err := c.dialer.DialContext(dialCtx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return conn, nil
}

func (c *Channel) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// readLoop reads frames until the connection drops and returns the reason.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.keepalive(conn, stopPing)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return classify(ctx, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
			log.Warn().Err(err).Int("bytes", len(frame)).Msg("malformed channel frame")
			return ReasonParseError
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Channel) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func classify(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return ReasonClientDisconnect
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return ReasonServerDisconnect
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonPingTimeout
	}
	return ReasonTransportClose
}

// backoff doubles the base delay per attempt up to the configured cap.
func (c *Channel) backoff(attempt int) time.Duration {
	d := c.opts.ReconnectDelay
	for i := 1; i < attempt && d < c.opts.ReconnectDelayMax; i++ {
		d *= 2
	}
	if d > c.opts.ReconnectDelayMax {
		d = c.opts.ReconnectDelayMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
