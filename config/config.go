// Package config defines the typed configuration snapshot the gateway
// consumes. It has no file-watching or hot-reload logic of its own — a
// snapshot is decoded once (via Load) and handed to Router.ApplyConfig by
// whatever external process owns reload policy.
package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// SurfaceMode selects which of the two wire protocols the control map's
// MIDI specs are resolved in.
type SurfaceMode string

const (
	ModeControl SurfaceMode = "control"
	ModeMCU     SurfaceMode = "mcu"
)

type SurfaceConfig struct {
	Mode            SurfaceMode `yaml:"mode"`
	ControlMapPath  string      `yaml:"control_map_path"`
	FeedbackGuardMs uint64      `yaml:"feedback_guard_ms"`
	InputPort       string      `yaml:"input_port"`
	OutputPort      string      `yaml:"output_port"`
}

type MixerConfig struct {
	URL            string  `yaml:"url"`
	ReconnectMaxMs int     `yaml:"reconnect_max_ms"`
	AnalogPanGain  float64 `yaml:"analog_pan_gain"`
	AnalogZoomGain float64 `yaml:"analog_zoom_gain"`
	AnalogDeadzone float64 `yaml:"analog_deadzone"`
	AnalogGamma    float64 `yaml:"analog_gamma"`

	// CanvasWidth/CanvasHeight are the mixer's output canvas dimensions,
	// used to compute the centered target position for a position-mode
	// transform reset. Defaulting to 1920x1080 in Load when left zero.
	CanvasWidth  float64 `yaml:"canvas_width"`
	CanvasHeight float64 `yaml:"canvas_height"`
}

// DefaultCanvasWidth and DefaultCanvasHeight match the mixer's typical 1080p
// output canvas.
const (
	DefaultCanvasWidth  = 1920.0
	DefaultCanvasHeight = 1080.0
)

type CameraInfo struct {
	ID          string `yaml:"id"`
	Scene       string `yaml:"scene"`
	Source      string `yaml:"source"`
	SplitSource string `yaml:"split_source"`
	EnablePTZ   bool   `yaml:"enable_ptz"`
}

type SplitViewConfig struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

type CameraControlConfig struct {
	Cameras []CameraInfo    `yaml:"cameras"`
	Split   SplitViewConfig `yaml:"split"`
}

// ActionTemplate is one control->action binding within a page. Params may
// contain the literal placeholder "{camera}", substituted at dispatch time
// from the camera-target store keyed by Gamepad.
type ActionTemplate struct {
	Driver  string `yaml:"driver"`
	Action  string `yaml:"action"`
	Params  []any  `yaml:"params"`
	Gamepad string `yaml:"gamepad"`
}

// IndicatorTarget binds one value of an indicator signal to a surface
// control's LED. When a signal fires with a value equal to OnValue, that
// control's LED is lit; every other IndicatorTarget registered for the same
// signal is turned off. A signal with a single IndicatorTarget behaves as a
// plain on/off LED (OnValue is the "lit" value, e.g. true); a signal with
// several (e.g. one per camera scene) behaves as a radio-button group.
type IndicatorTarget struct {
	ControlID string `yaml:"control_id"`
	OnValue   any    `yaml:"on_value"`
}

// PageConfig is one named binding scope: a set of control->action bindings
// plus the indicator->LED wiring active while this page is current.
type PageConfig struct {
	Name       string                       `yaml:"name"`
	Bindings   map[string]ActionTemplate    `yaml:"bindings"`
	Indicators map[string][]IndicatorTarget `yaml:"indicators"`
}

// GlobalPageName is a reserved page whose bindings and indicators apply
// regardless of which page is active, consulted as a fallback when the
// active page has no binding for a control.
const GlobalPageName = "global"

type GamepadSlotConfig struct {
	Slot             string `yaml:"slot"`
	ProductMatch     string `yaml:"product_match"`
	CameraTargetMode string `yaml:"camera_target_mode"`
}

type APIConfig struct {
	BindAddr string `yaml:"bind_addr"`
	Port     uint16 `yaml:"port"`
}

type LightingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputPort string `yaml:"output_port"`
}

// Snapshot is the complete, immutable configuration the router consumes.
type Snapshot struct {
	Surface  SurfaceConfig       `yaml:"surface"`
	Mixer    MixerConfig         `yaml:"mixer"`
	Camera   CameraControlConfig `yaml:"camera"`
	Pages    []PageConfig        `yaml:"pages"`
	Gamepads []GamepadSlotConfig `yaml:"gamepads"`
	API      APIConfig           `yaml:"api"`
	Lighting LightingConfig      `yaml:"lighting"`
}

// DefaultAPIConfig matches the spec's default bind address and port.
func DefaultAPIConfig() APIConfig {
	return APIConfig{BindAddr: "0.0.0.0", Port: 8125}
}

// Load decodes a configuration snapshot from YAML. It performs no I/O of
// its own beyond reading r; callers own file-opening and any reload policy.
func Load(r io.Reader) (Snapshot, error) {
	var s Snapshot
	dec := yaml.NewDecoder(r)
	dec.KnownFields(false)
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if s.API.Port == 0 {
		s.API = DefaultAPIConfig()
	}
	if s.Mixer.CanvasWidth == 0 {
		s.Mixer.CanvasWidth = DefaultCanvasWidth
	}
	if s.Mixer.CanvasHeight == 0 {
		s.Mixer.CanvasHeight = DefaultCanvasHeight
	}
	if err := Validate(s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// Validate fails fast on configuration that cannot possibly run: no pages,
// a page with no name, or a binding referencing no driver.
func Validate(s Snapshot) error {
	if len(s.Pages) == 0 {
		return fmt.Errorf("configuration error: no pages defined")
	}
	seen := make(map[string]bool)
	for _, p := range s.Pages {
		if p.Name == "" {
			return fmt.Errorf("configuration error: page with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("configuration error: duplicate page name %q", p.Name)
		}
		seen[p.Name] = true
		for controlID, action := range p.Bindings {
			if action.Driver == "" || action.Action == "" {
				return fmt.Errorf("configuration error: page %q binding %q missing driver/action", p.Name, controlID)
			}
		}
	}
	return nil
}
