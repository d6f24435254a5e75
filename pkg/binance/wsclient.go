package binance

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is the connection lifecycle state of the WSClient.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the connection for operators.
type Status struct {
	State             string    `json:"state"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastError         string    `json:"lastError,omitempty"`
	ConnectedAt       time.Time `json:"connectedAt,omitempty"`
	Streams           []string  `json:"streams"`
}

// StreamHandler receives the data payload of one combined-stream message.
type StreamHandler func(data json.RawMessage)

// WSClient owns the single multiplexed stream connection. Handlers are
// registered per stream name before Connect; the subscription set is the
// registered stream names, carried in the combined-stream URL. On abnormal
// close it schedules one reconnect after a flat delay, up to maxAttempts;
// Disconnect is terminal and suppresses any pending reconnect.
type WSClient struct {
	baseURL        string
	reconnectDelay time.Duration
	maxAttempts    int
	logger         *zap.Logger

	mu               sync.Mutex
	state            ConnState
	conn             *websocket.Conn
	handlers         map[string]StreamHandler
	explicitlyClosed bool
	attempts         int
	lastErr          error
	connectedAt      time.Time
	reconnectTimer   *time.Timer
}

func NewWSClient(baseURL string, reconnectDelay time.Duration, maxAttempts int, logger *zap.Logger) *WSClient {
	return &WSClient{
		baseURL:        baseURL,
		reconnectDelay: reconnectDelay,
		maxAttempts:    maxAttempts,
		handlers:       make(map[string]StreamHandler),
		logger:         logger,
	}
}

// RegisterHandler binds a handler to a stream name. Registrations after
// Connect take effect on the next (re)connect.
func (c *WSClient) RegisterHandler(stream string, h StreamHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[stream] = h
}

// Streams returns the registered stream names, sorted.
func (c *WSClient) Streams() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamsLocked()
}

func (c *WSClient) streamsLocked() []string {
	out := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Connect opens the multiplexed connection for all registered streams.
// It is a no-op while already connecting or open, so concurrent callers
// cannot produce duplicate connections.
func (c *WSClient) Connect() error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	streams := c.streamsLocked()
	if len(streams) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("no streams registered")
	}
	c.state = StateConnecting
	c.explicitlyClosed = false
	url := c.baseURL + "/stream?streams=" + strings.Join(streams, "/")
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)

	c.mu.Lock()
	if c.explicitlyClosed {
		// Disconnect raced the dial; drop the fresh connection.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		c.lastErr = err
		c.state = StateClosed
		c.logger.Error("failed to connect to stream", zap.String("url", c.baseURL), zap.Error(err))
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return err
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.connectedAt = time.Now()
	c.logger.Info("stream connected",
		zap.String("url", c.baseURL), zap.Int("streams", len(streams)))
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// readLoop reads until the connection fails or is closed, dispatching each
// message by the stream name in its envelope.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *WSClient) dispatch(msg []byte) {
	var env StreamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.logger.Warn("unparsable stream message dropped", zap.Error(err))
		return
	}

	if env.Stream == "" {
		if env.ID != nil {
			c.logger.Debug("subscription ack", zap.Int64("id", *env.ID))
		} else {
			c.logger.Warn("message without stream name dropped")
		}
		return
	}

	c.mu.Lock()
	h := c.handlers[env.Stream]
	c.mu.Unlock()

	if h == nil {
		c.logger.Warn("no handler for stream", zap.String("stream", env.Stream))
		return
	}
	h(env.Data)
}

func (c *WSClient) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = conn.Close()
	if c.conn != conn {
		return // a newer connection already took over
	}
	c.conn = nil

	if c.explicitlyClosed {
		c.state = StateIdle
		c.logger.Info("stream closed by caller")
		return
	}

	c.lastErr = err
	c.state = StateClosed
	c.logger.Error("stream read error", zap.Error(err))
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms a single reconnect timer with a flat delay.
// Callers hold c.mu.
func (c *WSClient) scheduleReconnectLocked() {
	c.attempts++
	if c.maxAttempts > 0 && c.attempts > c.maxAttempts {
		c.logger.Error("reconnect attempts exhausted, giving up",
			zap.Int("attempts", c.attempts-1))
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}

	attempt := c.attempts
	c.logger.Warn("scheduling reconnect",
		zap.Duration("delay", c.reconnectDelay), zap.Int("attempt", attempt))
	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		if err := c.Connect(); err != nil {
			c.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		}
	})
}

// Disconnect closes the connection for good: the pending reconnect timer is
// cancelled and no new one is armed.
func (c *WSClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.explicitlyClosed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateIdle
	c.logger.Info("stream disconnected")
}

// Status reports connection state for the status endpoint and diagnostics.
func (c *WSClient) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:             c.state.String(),
		ReconnectAttempts: c.attempts,
		ConnectedAt:       c.connectedAt,
		Streams:           c.streamsLocked(),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// State returns the current lifecycle state.
func (c *WSClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
