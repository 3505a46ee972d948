package mixer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jdginn/xtouch-gw/config"
	"github.com/jdginn/xtouch-gw/driver"
	"github.com/jdginn/xtouch-gw/encoder"
	"github.com/jdginn/xtouch-gw/logging"
)

// Driver is the video-mixer integration: a reconnecting WebSocket client
// plus the scene/transform/camera state that sits on top of it. It
// implements driver.Driver.
type Driver struct {
	name   string
	client *Client
	items  *itemCache
	analog *analogIntegrator
	camera *cameraController

	encoders *encoder.Tracker

	canvasWidth  float64
	canvasHeight float64

	mu           sync.RWMutex
	studioMode   bool
	programScene string
	previewScene string

	indicatorMu sync.RWMutex
	indicators  []driver.IndicatorCallback

	statusMu sync.RWMutex
	statuses []driver.StatusCallback
	status   driver.ConnectionStatus

	lastSelectedSent string

	cancel context.CancelFunc
}

// New returns a video-mixer driver configured to dial url, with camera
// control driven by cfg. canvasWidth/canvasHeight size the centered target
// position a position-mode transform reset computes.
func New(url string, cfg config.CameraControlConfig, canvasWidth, canvasHeight float64) *Driver {
	client := NewClient(url)
	items := newItemCache(client)
	d := &Driver{
		name:         "mixer",
		client:       client,
		items:        items,
		analog:       newAnalogIntegrator(items),
		camera:       newCameraController(client, items, cfg),
		encoders:     encoder.NewTracker(),
		status:       driver.Disconnected,
		canvasWidth:  canvasWidth,
		canvasHeight: canvasHeight,
	}
	client.OnStateChange(d.handleTransportState)
	client.OnEvent(d.handleEvent)
	return d
}

func (d *Driver) Name() string { return d.name }

// Init starts the reconnecting transport in the background.
func (d *Driver) Init(ctx driver.ExecutionContext) error {
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.client.Run(runCtx)
	logging.Get(logging.MIXER).Info("mixer driver initialized", "url", d.client.url)
	return nil
}

// Sync re-asserts current state after a reconnect; the mixer is the source
// of truth so there is nothing to push, only indicator state to refresh.
func (d *Driver) Sync() error {
	d.mu.Lock()
	scene := d.lastSelectedCamera()
	d.lastSelectedSent = "" // re-emit even when unchanged
	d.mu.Unlock()
	d.emitIndicator("mixer.selectedCamera", scene)
	return nil
}

func (d *Driver) lastSelectedCamera() string {
	return d.camera.LastCamera()
}

// Shutdown stops the integrator and the reconnecting transport.
func (d *Driver) Shutdown() error {
	d.analog.stop()
	if d.cancel != nil {
		d.cancel()
	}
	d.client.Close()
	logging.Get(logging.MIXER).Info("mixer driver shutdown")
	return nil
}

func (d *Driver) SubscribeIndicators(cb driver.IndicatorCallback) {
	d.indicatorMu.Lock()
	defer d.indicatorMu.Unlock()
	d.indicators = append(d.indicators, cb)
}

func (d *Driver) emitIndicator(signal string, value any) {
	if signal == "mixer.selectedCamera" {
		d.mu.Lock()
		if s, ok := value.(string); ok {
			if s == d.lastSelectedSent {
				d.mu.Unlock()
				return
			}
			d.lastSelectedSent = s
		}
		d.mu.Unlock()
	}
	d.indicatorMu.RLock()
	cbs := append([]driver.IndicatorCallback(nil), d.indicators...)
	d.indicatorMu.RUnlock()
	for _, cb := range cbs {
		cb(signal, value)
	}
}

func (d *Driver) ConnectionStatus() driver.ConnectionStatus {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status
}

func (d *Driver) SubscribeConnectionStatus(cb driver.StatusCallback) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	d.statuses = append(d.statuses, cb)
}

func (d *Driver) handleTransportState(state State, attempt int) {
	var status driver.ConnectionStatus
	switch state {
	case Connected:
		status = driver.Connected
	case Reconnecting:
		status = driver.Reconnecting
	default:
		status = driver.Disconnected
	}

	d.statusMu.Lock()
	d.status = status
	cbs := append([]driver.StatusCallback(nil), d.statuses...)
	d.statusMu.Unlock()

	for _, cb := range cbs {
		cb(driver.StatusEvent{Status: status, Attempt: attempt})
	}

	if status == driver.Connected {
		d.items.clear()
		go d.refreshAfterConnect()
	}
}

// refreshAfterConnect re-reads studio mode and the current program/preview
// scenes right after a (re)connect, since the caches and locally tracked
// state from a prior connection cannot be trusted once the link drops.
func (d *Driver) refreshAfterConnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logging.Get(logging.MIXER)

	if result, err := d.client.Call(ctx, "getStudioModeEnabled", map[string]any{}); err == nil {
		var parsed struct {
			Enabled bool `json:"enabled"`
		}
		if json.Unmarshal(result, &parsed) == nil {
			d.mu.Lock()
			d.studioMode = parsed.Enabled
			d.mu.Unlock()
			d.emitIndicator("mixer.studioMode", parsed.Enabled)
		}
	} else {
		log.Warn("failed to refresh studio mode after connect", "error", err)
	}

	program := d.refreshScene(ctx, "getCurrentProgramScene")
	preview := d.refreshScene(ctx, "getCurrentPreviewScene")

	d.mu.Lock()
	if program != "" {
		d.programScene = program
	}
	if preview != "" {
		d.previewScene = preview
	}
	d.mu.Unlock()

	if program != "" {
		d.camera.SyncViewModeFromScene(program)
		if cam, ok := d.cameraForScene(program); ok {
			d.camera.SetLastCamera(cam)
		}
	}
	d.Sync()
}

// cameraForScene resolves a program-scene name back to the camera ID whose
// full-view scene matches it, for re-deriving the selected-camera indicator
// after a reconnect where no selectCamera call went through this driver.
func (d *Driver) cameraForScene(scene string) (string, bool) {
	for _, cam := range d.camera.cfg.Cameras {
		if cam.Scene == scene {
			return cam.ID, true
		}
	}
	return "", false
}

func (d *Driver) refreshScene(ctx context.Context, op string) string {
	result, err := d.client.Call(ctx, op, map[string]any{})
	if err != nil {
		logging.Get(logging.MIXER).Warn("failed to refresh scene after connect", "op", op, "error", err)
		return ""
	}
	var parsed struct {
		Scene string `json:"scene"`
	}
	if json.Unmarshal(result, &parsed) != nil {
		return ""
	}
	return parsed.Scene
}

// mixerEvent payloads this driver understands from the mixer's unsolicited
// event stream: scene and studio-mode changes it must mirror into local
// state for ctx-free queries like SelectCamera's studio-mode auto-enable.
type sceneChangedEvent struct {
	Scene string `json:"scene"`
	Kind  string `json:"kind"` // "program" or "preview"
}

type studioModeEvent struct {
	Enabled bool `json:"enabled"`
}

func (d *Driver) handleEvent(name string, data json.RawMessage) {
	switch name {
	case "sceneChanged":
		var ev sceneChangedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		d.mu.Lock()
		if ev.Kind == "preview" {
			d.previewScene = ev.Scene
		} else {
			d.programScene = ev.Scene
		}
		d.mu.Unlock()
		d.camera.SyncViewModeFromScene(ev.Scene)
		if ev.Kind != "preview" {
			d.emitIndicator("mixer.selectedScene", ev.Scene)
			if cam, ok := d.cameraForScene(ev.Scene); ok {
				d.camera.SetLastCamera(cam)
				d.emitIndicator("mixer.selectedCamera", cam)
			}
		}
	case "studioModeChanged":
		var ev studioModeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		d.mu.Lock()
		d.studioMode = ev.Enabled
		d.mu.Unlock()
		d.emitIndicator("mixer.studioMode", ev.Enabled)
	}
}

// setScene switches to scene on whichever output studio mode implies: preview
// when studio mode is enabled, program otherwise. Callers never choose the
// target directly.
func (d *Driver) setScene(ctx context.Context, scene string) error {
	d.mu.RLock()
	studioMode := d.studioMode
	d.mu.RUnlock()

	op, target := "setCurrentProgramScene", "program"
	if studioMode {
		op, target = "setCurrentPreviewScene", "preview"
	}

	if _, err := d.client.Call(ctx, op, map[string]any{"scene": scene}); err != nil {
		return err
	}
	d.mu.Lock()
	if target == "preview" {
		d.previewScene = scene
	} else {
		d.programScene = scene
	}
	d.mu.Unlock()
	return nil
}

func (d *Driver) toggleStudioMode(ctx context.Context) error {
	d.mu.RLock()
	next := !d.studioMode
	d.mu.RUnlock()

	if _, err := d.client.Call(ctx, "setStudioModeEnabled", map[string]any{"enabled": next}); err != nil {
		return err
	}
	d.mu.Lock()
	d.studioMode = next
	d.mu.Unlock()
	d.emitIndicator("mixer.studioMode", next)
	return nil
}

func (d *Driver) triggerTransition(ctx context.Context) error {
	_, err := d.client.Call(ctx, "triggerStudioModeTransition", map[string]any{})
	return err
}

// ResetMode selects which axes of a scene item's transform ResetTransform
// restores to their default value.
type ResetMode string

const (
	ResetPosition ResetMode = "position"
	ResetZoom     ResetMode = "zoom"
	ResetBoth     ResetMode = "both"
)

// ResetTransform reads scene/source's current transform and writes back a
// target transform with position and/or scale restored to center/1.0,
// depending on mode. Position resets to the canvas center; zoom resets scale
// to 1.0 on both axes.
func (d *Driver) ResetTransform(ctx context.Context, scene, source string, mode ResetMode) error {
	current, err := d.items.getTransform(ctx, scene, source)
	if err != nil {
		return err
	}

	target := current
	switch mode {
	case ResetPosition:
		target.PositionX = d.canvasWidth / 2
		target.PositionY = d.canvasHeight / 2
	case ResetZoom:
		target.ScaleX = 1.0
		target.ScaleY = 1.0
	case ResetBoth:
		target.PositionX = d.canvasWidth / 2
		target.PositionY = d.canvasHeight / 2
		target.ScaleX = 1.0
		target.ScaleY = 1.0
	default:
		return fmt.Errorf("mixer: invalid reset mode %q", mode)
	}

	return d.items.setTransform(ctx, scene, source, target)
}

// TrackEncoder applies the shared encoder-acceleration curve to a raw
// encoder delta from encoderID before it is used as a nudge step, so fast
// spins move further per tick than slow ones.
func (d *Driver) TrackEncoder(encoderID string, baseDelta float64) float64 {
	return d.encoders.TrackEvent(encoderID, baseDelta)
}

