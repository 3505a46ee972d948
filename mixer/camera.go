package mixer

import (
	"context"
	"fmt"
	"sync"

	"github.com/jdginn/xtouch-gw/config"
)

// ViewMode tracks which on-air layout the mixer is currently showing, kept
// in sync with scene changes so split-view camera selection knows which
// split source to enable.
type ViewMode int

const (
	ViewFull ViewMode = iota
	ViewSplitLeft
	ViewSplitRight
)

type cameraState struct {
	mu         sync.RWMutex
	viewMode   ViewMode
	lastCamera string
}

// cameraController resolves scene names to ViewModes using the configured
// camera list and split scenes, and drives scene-item visibility for split
// view camera selection.
type cameraController struct {
	client *Client
	items  *itemCache
	cfg    config.CameraControlConfig
	state  cameraState
}

func newCameraController(client *Client, items *itemCache, cfg config.CameraControlConfig) *cameraController {
	c := &cameraController{client: client, items: items, cfg: cfg}
	if len(cfg.Cameras) > 0 {
		c.state.lastCamera = cfg.Cameras[0].ID
	}
	return c
}

// DetectViewMode maps a scene name to the ViewMode it represents, or false
// if the scene is not one the camera controller recognizes (e.g. a
// graphics-only scene).
func (c *cameraController) DetectViewMode(scene string) (ViewMode, bool) {
	if scene == c.cfg.Split.Left {
		return ViewSplitLeft, true
	}
	if scene == c.cfg.Split.Right {
		return ViewSplitRight, true
	}
	for _, cam := range c.cfg.Cameras {
		if cam.Scene == scene {
			return ViewFull, true
		}
	}
	return ViewFull, false
}

// SyncViewModeFromScene updates the tracked ViewMode from an observed scene
// change; unrecognized scenes leave the tracked mode untouched.
func (c *cameraController) SyncViewModeFromScene(scene string) {
	mode, ok := c.DetectViewMode(scene)
	if !ok {
		return
	}
	c.state.mu.Lock()
	c.state.viewMode = mode
	c.state.mu.Unlock()
}

func (c *cameraController) findCamera(id string) (config.CameraInfo, bool) {
	for _, cam := range c.cfg.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return config.CameraInfo{}, false
}

// SetSplitCamera hides every split-view source in splitScene except the one
// belonging to cameraID, which it enables.
func (c *cameraController) SetSplitCamera(ctx context.Context, splitScene, cameraID string) error {
	target, ok := c.findCamera(cameraID)
	if !ok {
		return fmt.Errorf("camera %q not found in configuration", cameraID)
	}
	for _, cam := range c.cfg.Cameras {
		if _, err := c.client.Call(ctx, "setSceneItemEnabled", map[string]any{
			"scene":   splitScene,
			"source":  cam.SplitSource,
			"enabled": cam.ID == cameraID,
		}); err != nil {
			return fmt.Errorf("set split camera %q: %w", cameraID, err)
		}
	}
	c.state.mu.Lock()
	c.state.lastCamera = target.ID
	c.state.mu.Unlock()
	return nil
}

// SelectCamera switches the mixer's preview or program output to cameraID's
// full-view scene. target must be "preview" or "program".
func (c *cameraController) SelectCamera(ctx context.Context, cameraID, target string) error {
	cam, ok := c.findCamera(cameraID)
	if !ok {
		return fmt.Errorf("camera %q not found in configuration", cameraID)
	}

	var op string
	switch target {
	case "preview":
		op = "setCurrentPreviewScene"
	case "program":
		op = "setCurrentProgramScene"
	default:
		return fmt.Errorf("invalid camera select target %q, expected preview or program", target)
	}

	if _, err := c.client.Call(ctx, op, map[string]any{"scene": cam.Scene}); err != nil {
		return fmt.Errorf("select camera %q -> %s: %w", cameraID, target, err)
	}

	c.state.mu.Lock()
	c.state.lastCamera = cameraID
	c.state.mu.Unlock()
	return nil
}

// SetLastCamera records cameraID as the most recently selected camera without
// issuing any mixer call, used to re-derive selected-camera state from an
// observed scene after a reconnect.
func (c *cameraController) SetLastCamera(cameraID string) {
	c.state.mu.Lock()
	c.state.lastCamera = cameraID
	c.state.mu.Unlock()
}

// LastCamera returns the most recently selected camera ID.
func (c *cameraController) LastCamera() string {
	c.state.mu.RLock()
	defer c.state.mu.RUnlock()
	return c.state.lastCamera
}

// CurrentViewMode returns the tracked ViewMode.
func (c *cameraController) CurrentViewMode() ViewMode {
	c.state.mu.RLock()
	defer c.state.mu.RUnlock()
	return c.state.viewMode
}
