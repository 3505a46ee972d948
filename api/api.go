// Package api exposes the external HTTP/JSON REST endpoints and WebSocket
// broadcast feed that let auxiliary surfaces (stream-deck-style panels)
// read and mutate camera-target state and observe on-air changes, without
// touching the physical control surface at all.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/jdginn/xtouch-gw/camera"
	"github.com/jdginn/xtouch-gw/config"
	"github.com/jdginn/xtouch-gw/logging"
	"github.com/jdginn/xtouch-gw/mixer"
)

// Server wires the REST handlers and the WebSocket broadcast hub over a
// shared camera-target store and camera/gamepad configuration. mixerDriver
// is optional (nil disables the reset-transform endpoint's functionality,
// returning a 500) so tests can exercise the REST surface without a mixer.
type Server struct {
	cameras     *camera.Store
	cameraList  []config.CameraInfo
	gamepads    []config.GamepadSlotConfig
	mixerDriver *mixer.Driver

	hub *hub

	onAirMu  chan struct{} // guards onAir below via buffered-1 mutex idiom
	onAir    onAirState
}

type onAirState struct {
	cameraID string
	scene    string
	set      bool
}

// New returns a Server ready to be mounted on a router via Router().
func New(cameras *camera.Store, cameraList []config.CameraInfo, gamepads []config.GamepadSlotConfig, mixerDriver *mixer.Driver) *Server {
	s := &Server{
		cameras:     cameras,
		cameraList:  cameraList,
		gamepads:    gamepads,
		mixerDriver: mixerDriver,
		hub:         newHub(),
		onAirMu:     make(chan struct{}, 1),
	}
	s.onAirMu <- struct{}{}
	return s
}

// Router builds the gorilla/mux route table for this server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/gamepads", s.handleListGamepads).Methods(http.MethodGet)
	r.HandleFunc("/api/cameras", s.handleListCameras).Methods(http.MethodGet)
	r.HandleFunc("/api/gamepad/{slot}/camera", s.handleGetGamepadCamera).Methods(http.MethodGet)
	r.HandleFunc("/api/gamepad/{slot}/camera", s.handlePutGamepadCamera).Methods(http.MethodPut)
	r.HandleFunc("/api/cameras/{id}/reset", s.handleResetCamera).Methods(http.MethodPost)
	r.HandleFunc("/api/ws/camera-updates", s.handleWebSocket)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "ok")
}

// GamepadSlotInfo is the REST/WebSocket projection of a configured gamepad
// slot plus its live camera assignment.
type GamepadSlotInfo struct {
	Slot             string `json:"slot"`
	ProductMatch     string `json:"product_match"`
	CameraTargetMode string `json:"camera_target_mode"`
	CurrentCamera    string `json:"current_camera,omitempty"`
}

func (s *Server) gamepadSlotInfos() []GamepadSlotInfo {
	out := make([]GamepadSlotInfo, 0, len(s.gamepads))
	for _, g := range s.gamepads {
		info := GamepadSlotInfo{
			Slot:             g.Slot,
			ProductMatch:     g.ProductMatch,
			CameraTargetMode: g.CameraTargetMode,
		}
		if cam, ok := s.cameras.Get(g.Slot); ok {
			info.CurrentCamera = cam
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) handleListGamepads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gamepadSlotInfos())
}

// CameraInfo is the REST/WebSocket projection of a configured camera.
type CameraInfo struct {
	ID          string `json:"id"`
	Scene       string `json:"scene"`
	Source      string `json:"source"`
	SplitSource string `json:"split_source"`
	EnablePTZ   bool   `json:"enable_ptz"`
}

func (s *Server) cameraInfos() []CameraInfo {
	out := make([]CameraInfo, 0, len(s.cameraList))
	for _, c := range s.cameraList {
		out = append(out, CameraInfo{
			ID:          c.ID,
			Scene:       c.Scene,
			Source:      c.Source,
			SplitSource: c.SplitSource,
			EnablePTZ:   c.EnablePTZ,
		})
	}
	return out
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cameraInfos())
}

func (s *Server) cameraExists(id string) bool {
	for _, c := range s.cameraList {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) findCamera(id string) (config.CameraInfo, bool) {
	for _, c := range s.cameraList {
		if c.ID == id {
			return c, true
		}
	}
	return config.CameraInfo{}, false
}

func (s *Server) handleGetGamepadCamera(w http.ResponseWriter, r *http.Request) {
	slot := mux.Vars(r)["slot"]
	mode := s.modeForSlot(slot)
	resp := map[string]any{"mode": mode}
	if camID, ok := s.cameras.Get(slot); ok {
		resp["camera_id"] = camID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) modeForSlot(slot string) string {
	for _, g := range s.gamepads {
		if g.Slot == slot {
			return g.CameraTargetMode
		}
	}
	return ""
}

func (s *Server) handlePutGamepadCamera(w http.ResponseWriter, r *http.Request) {
	slot := mux.Vars(r)["slot"]

	var body struct {
		CameraID string `json:"camera_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.cameraExists(body.CameraID) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown camera_id %q", body.CameraID))
		return
	}

	if err := s.cameras.Set(slot, body.CameraID); err != nil {
		logging.Get(logging.API).Error("failed to persist camera target", "slot", slot, "error", err)
		// The in-memory assignment is kept, so it is still broadcast, but the
		// caller is told the write did not persist.
		s.broadcastTargetChanged(slot, body.CameraID)
		writeError(w, http.StatusInternalServerError, "failed to persist camera target")
		return
	}

	s.broadcastTargetChanged(slot, body.CameraID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "camera_id": body.CameraID})
}

func (s *Server) handleResetCamera(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cam, ok := s.findCamera(id)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown camera %q", id))
		return
	}

	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch body.Mode {
	case "position", "zoom", "both":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid mode %q, expected position, zoom, or both", body.Mode))
		return
	}

	if s.mixerDriver == nil {
		writeError(w, http.StatusInternalServerError, "mixer driver not available")
		return
	}
	ctx := r.Context()
	if err := s.mixerDriver.ResetTransform(ctx, cam.Scene, cam.Source, mixer.ResetMode(body.Mode)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "camera_id": id, "mode": body.Mode})
}

// BroadcastOnAirChange records the current on-air camera/scene and
// publishes an OnAirChanged message to every connected WebSocket client. It
// is the entry point the mixer driver's scene-change indicator calls into.
func (s *Server) BroadcastOnAirChange(cameraID, sceneName string) {
	<-s.onAirMu
	s.onAir = onAirState{cameraID: cameraID, scene: sceneName, set: true}
	s.onAirMu <- struct{}{}

	s.hub.broadcast(onAirChangedMessage{
		Type:        "on_air_changed",
		CameraID:    cameraID,
		SceneName:   sceneName,
		TimestampMs: nowMs(),
	})
}

func (s *Server) broadcastTargetChanged(slot, cameraID string) {
	s.hub.broadcast(targetChangedMessage{
		Type:        "target_changed",
		GamepadSlot: slot,
		CameraID:    cameraID,
		TimestampMs: nowMs(),
	})
}

func nowMs() int64 { return time.Now().UnixMilli() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
