package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/jdginn/xtouch-gw/camera"
	"github.com/jdginn/xtouch-gw/config"
)

func newTestStore(t *testing.T) *camera.Store {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0o600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := camera.NewStore(db)
	require.NoError(t, err)
	return store
}

func testServer(t *testing.T) *Server {
	t.Helper()
	cameras := []config.CameraInfo{
		{ID: "Main", Scene: "Cam-Main", Source: "Main Src", EnablePTZ: true},
		{ID: "Side", Scene: "Cam-Side", Source: "Side Src"},
	}
	gamepads := []config.GamepadSlotConfig{
		{Slot: "gp1", ProductMatch: "Xbox", CameraTargetMode: "direct"},
	}
	return New(newTestStore(t), cameras, gamepads, nil)
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListCameras(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var cams []CameraInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cams))
	require.Len(t, cams, 2)
	assert.Equal(t, "Main", cams[0].ID)
	assert.True(t, cams[0].EnablePTZ)
}

func TestHandleListGamepads(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/gamepads", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var slots []GamepadSlotInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
	require.Len(t, slots, 1)
	assert.Equal(t, "gp1", slots[0].Slot)
	assert.Empty(t, slots[0].CurrentCamera)
}

func TestHandlePutGamepadCameraUpdatesStoreAndRejectsUnknownCamera(t *testing.T) {
	s := testServer(t)
	router := s.Router()

	body, _ := json.Marshal(map[string]string{"camera_id": "Main"})
	req := httptest.NewRequest(http.MethodPut, "/api/gamepad/gp1/camera", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	camID, ok := s.cameras.Get("gp1")
	require.True(t, ok)
	assert.Equal(t, "Main", camID)

	body2, _ := json.Marshal(map[string]string{"camera_id": "Ghost"})
	req2 := httptest.NewRequest(http.MethodPut, "/api/gamepad/gp1/camera", bytes.NewReader(body2))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestHandleGetGamepadCameraReflectsAssignment(t *testing.T) {
	s := testServer(t)
	require.NoError(t, s.cameras.Set("gp1", "Side"))

	req := httptest.NewRequest(http.MethodGet, "/api/gamepad/gp1/camera", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Side", resp["camera_id"])
	assert.Equal(t, "direct", resp["mode"])
}

func TestHandleResetCameraRejectsInvalidMode(t *testing.T) {
	s := testServer(t)
	body, _ := json.Marshal(map[string]string{"mode": "sideways"})
	req := httptest.NewRequest(http.MethodPost, "/api/cameras/Main/reset", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResetCameraRejectsUnknownCamera(t *testing.T) {
	s := testServer(t)
	body, _ := json.Marshal(map[string]string{"mode": "both"})
	req := httptest.NewRequest(http.MethodPost, "/api/cameras/Ghost/reset", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResetCameraFailsWithoutMixerDriver(t *testing.T) {
	s := testServer(t)
	body, _ := json.Marshal(map[string]string{"mode": "both"})
	req := httptest.NewRequest(http.MethodPost, "/api/cameras/Main/reset", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebSocketSendsSnapshotOnConnectAndBroadcastsUpdates(t *testing.T) {
	s := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/camera-updates"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, body, err := conn.ReadMessage()
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "snapshot", snap["type"])

	s.BroadcastOnAirChange("Main", "Cam-Main")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, body2, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(body2, &msg))
	assert.Equal(t, "on_air_changed", msg["type"])
	assert.Equal(t, "Main", msg["camera_id"])
	assert.Equal(t, "Cam-Main", msg["scene_name"])
}
