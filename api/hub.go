package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jdginn/xtouch-gw/logging"
)

// snapshotMessage is sent once, immediately after a client connects.
type snapshotMessage struct {
	Type        string            `json:"type"`
	Gamepads    []GamepadSlotInfo `json:"gamepads"`
	Cameras     []CameraInfo      `json:"cameras"`
	OnAirCamera string            `json:"on_air_camera,omitempty"`
	TimestampMs int64             `json:"timestamp"`
}

type targetChangedMessage struct {
	Type        string `json:"type"`
	GamepadSlot string `json:"gamepad_slot"`
	CameraID    string `json:"camera_id"`
	TimestampMs int64  `json:"timestamp"`
}

type onAirChangedMessage struct {
	Type        string `json:"type"`
	CameraID    string `json:"camera_id"`
	SceneName   string `json:"scene_name"`
	TimestampMs int64  `json:"timestamp"`
}

// clientBacklog bounds how many broadcast messages a slow client can fall
// behind by before the oldest are dropped, per the spec's "broadcast lag is
// tolerated, logged, client continues" policy.
const clientBacklog = 32

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// hub fans broadcast() calls out to every connected client's writer
// goroutine. A slow client's send channel fills and the oldest queued
// message is dropped to make room, rather than blocking the broadcaster or
// disconnecting the client.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func newHub() *hub {
	return &hub{clients: make(map[string]*wsClient)}
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *hub) broadcast(msg any) {
	body, err := json.Marshal(msg)
	if err != nil {
		logging.Get(logging.API).Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- body:
		default:
			// Backlog full: drop the oldest queued message to make room
			// rather than block the broadcaster or disconnect the client.
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- body:
			default:
				logging.Get(logging.API).Warn("dropping broadcast message for lagging client", "client_id", c.id)
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Get(logging.API).Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBacklog)}
	s.hub.add(client)

	snap := s.buildSnapshot()
	body, err := json.Marshal(snap)
	if err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, body)
	}

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) buildSnapshot() snapshotMessage {
	<-s.onAirMu
	onAir := s.onAir
	s.onAirMu <- struct{}{}

	snap := snapshotMessage{
		Type:        "snapshot",
		Gamepads:    s.gamepadSlotInfos(),
		Cameras:     s.cameraInfos(),
		TimestampMs: nowMs(),
	}
	if onAir.set {
		snap.OnAirCamera = onAir.cameraID
	}
	return snap
}

// writePump drains client.send to the socket until the channel is closed by
// readPump on disconnect.
func (s *Server) writePump(c *wsClient) {
	defer c.conn.Close()
	for body := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return
		}
	}
}

// readPump discards inbound client frames (this API has no client->server
// message vocabulary beyond the initial upgrade) but must keep reading to
// observe ping/pong and detect disconnects; gorilla/websocket answers pings
// with pongs automatically.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.hub.remove(c.id)
		close(c.send)
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
