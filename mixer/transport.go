// Package mixer implements the video-mixer integration: a reconnecting
// WebSocket client driving scene switching, studio-mode transitions, and
// velocity-based analog pan/zoom/scale control of scene items.
package mixer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jdginn/xtouch-gw/logging"
)

// request is the outbound envelope: {"op": "...", "params": {...}}.
type request struct {
	ID     uint64          `json:"id"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is the inbound envelope: {"id":N,"ok":bool,"result":{...},"error":"..."}.
type response struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// event is an unsolicited server push: {"event":"...", "data":{...}}.
type event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 35 * time.Second
	pingInterval = 15 * time.Second
	reconnectCap = 30000 * time.Millisecond
)

// State mirrors the connection-status values a driver exposes further up
// the stack, but is owned by the transport since reconnect backoff and
// attempt counting are transport concerns.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// EventHandler receives unsolicited server events, keyed by event name.
type EventHandler func(name string, data json.RawMessage)

// StateHandler is notified whenever the transport's State changes; attempt
// is only meaningful when state == Reconnecting.
type StateHandler func(state State, attempt int)

// Client is a reconnecting JSON-over-WebSocket client for the video mixer's
// control protocol. A single Client serializes all writes behind writeMu so
// concurrent callers (encoder events, analog ticks, API requests) never
// interleave frames.
type Client struct {
	url string

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	writeMu sync.Mutex

	pending   map[uint64]chan response
	pendingMu sync.Mutex
	nextID    uint64

	eventHandlers []EventHandler
	stateHandlers []StateHandler
	handlersMu    sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient returns a client that has not yet connected; call Run to begin
// connecting and reconnecting until its context is canceled.
func NewClient(url string) *Client {
	return &Client{
		url:     url,
		pending: make(map[uint64]chan response),
		done:    make(chan struct{}),
	}
}

// OnEvent registers a callback for unsolicited server events.
func (c *Client) OnEvent(h EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.eventHandlers = append(c.eventHandlers, h)
}

// OnStateChange registers a callback for connection-state transitions.
func (c *Client) OnStateChange(h StateHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.stateHandlers = append(c.stateHandlers, h)
}

func (c *Client) setState(s State, attempt int) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	c.handlersMu.RLock()
	handlers := append([]StateHandler(nil), c.stateHandlers...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(s, attempt)
	}
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run drives the connect/reconnect loop until ctx is canceled or Close is
// called. It should be run in its own goroutine.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if attempt == 0 {
			c.setState(Connecting, 0)
		} else {
			c.setState(Reconnecting, attempt)
			backoff := time.Duration(attempt) * time.Second
			if backoff > reconnectCap {
				backoff = reconnectCap
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}

		connectedAt := false
		err := c.connectAndServe(ctx, func() { connectedAt = true })
		if err != nil {
			logging.Get(logging.MIXER).Warn("mixer connection dropped", "error", err, "attempt", attempt)
			if connectedAt {
				// The link was up and serving before it dropped: the next
				// reconnect attempt starts the backoff over from 1, per the
				// spec's reset-reconnect-count-on-connect-success rule.
				attempt = 0
			}
			attempt++
			continue
		}
		// connectAndServe only returns nil on deliberate shutdown.
		return
	}
}

func (c *Client) connectAndServe(ctx context.Context, onConnected func()) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial mixer at %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	onConnected()
	c.setState(Connected, 0)
	logging.Get(logging.MIXER).Info("mixer connected", "url", c.url)

	readErr := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		readErr <- c.readLoop(conn)
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.closeConn()
			c.wg.Wait()
			return nil
		case <-c.done:
			c.closeConn()
			c.wg.Wait()
			return nil
		case err := <-readErr:
			c.closeConn()
			c.failPending(err)
			return err
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.closeConn()
				c.wg.Wait()
				return err
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var env struct {
			ID    uint64          `json:"id"`
			Event string          `json:"event"`
			OK    *bool           `json:"ok"`
			Raw   json.RawMessage `json:"-"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Get(logging.MIXER).Warn("mixer sent malformed frame", "error", err)
			continue
		}

		if env.Event != "" {
			var ev event
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			c.dispatchEvent(ev)
			continue
		}

		if env.OK != nil {
			var resp response
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			c.deliverResponse(resp)
		}
	}
}

func (c *Client) dispatchEvent(ev event) {
	c.handlersMu.RLock()
	handlers := append([]EventHandler(nil), c.eventHandlers...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(ev.Event, ev.Data)
	}
}

func (c *Client) deliverResponse(resp response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- response{ID: id, OK: false, Error: err.Error()}
		delete(c.pending, id)
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close shuts the client down permanently; Run will return after the
// current connection (if any) is closed.
func (c *Client) Close() {
	c.mu.Lock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.setState(Disconnected, 0)
}

// Call sends op with params and blocks for a matching response or until ctx
// is done. Safe for concurrent use.
func (c *Client) Call(ctx context.Context, op string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("mixer call %q: not connected", op)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mixer call %q: marshal params: %w", op, err)
	}

	c.pendingMu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := request{ID: id, Op: op, Params: paramsJSON}
	body, err := json.Marshal(req)
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("mixer call %q: marshal request: %w", op, err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, body)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("mixer call %q: write: %w", op, err)
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			return nil, fmt.Errorf("mixer call %q failed: %s", op, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("mixer call %q: client closed", op)
	}
}
