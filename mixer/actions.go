package mixer

import (
	"context"
	"fmt"
	"time"

	"github.com/jdginn/xtouch-gw/driver"
)

// interpretControlValue maps a trigger control's raw ctx.Value into a
// signed step multiplier, per the two conventions a bound control may
// use: an already-normalized analog reading in [-1,1]; an absolute
// zero-centered MIDI byte where 0 or 64 means "no motion", 1-63 means a
// positive step, and 65-127 means a negative step.
func interpretControlValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if v >= -1.0 && v <= 1.0 {
			return v, true
		}
		return interpretByteValue(uint8(v))
	case float32:
		return interpretControlValue(float64(v))
	case int:
		return interpretByteValue(uint8(v))
	case uint8:
		return interpretByteValue(v)
	case nil:
		return 0, false
	default:
		return 0, false
	}
}

func interpretByteValue(b uint8) (float64, bool) {
	switch {
	case b == 0 || b == 64:
		return 0, false
	case b >= 1 && b <= 63:
		return 1, true
	case b >= 65 && b <= 127:
		return -1, true
	default:
		return 0, false
	}
}

// Execute implements driver.Driver. action selects an operation from the
// fixed vocabulary handled below (setScene/changeScene, toggleStudioMode,
// triggerStudioModeTransition, selectCamera, setSplitCamera, nudgeX, nudgeY,
// scaleUniform, setAnalogRate, resetTransform); any other action is an
// error. params and ctx carry the operation's arguments.
func (d *Driver) Execute(action string, params []any, ctx driver.ExecutionContext) error {
	callCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if ctx.Activity != nil {
		ctx.Activity.Record(d.Name(), driver.Outbound)
	}

	switch action {
	case "setScene", "changeScene":
		scene, err := stringParam(params, 0, "scene")
		if err != nil {
			return err
		}
		return d.setScene(callCtx, scene)

	case "toggleStudioMode":
		return d.toggleStudioMode(callCtx)

	case "triggerStudioModeTransition":
		return d.triggerTransition(callCtx)

	case "selectCamera":
		cameraID, err := stringParam(params, 0, "camera")
		if err != nil {
			return err
		}
		target, err := stringParam(params, 1, "target")
		if err != nil {
			target = "program"
		}
		if target == "preview" {
			d.mu.RLock()
			alreadyOn := d.studioMode
			d.mu.RUnlock()
			if !alreadyOn {
				if err := d.toggleStudioMode(callCtx); err != nil {
					return fmt.Errorf("auto-enable studio mode for preview camera select: %w", err)
				}
			}
		}
		return d.camera.SelectCamera(callCtx, cameraID, target)

	case "setSplitCamera":
		splitScene, err := stringParam(params, 0, "scene")
		if err != nil {
			return err
		}
		cameraID, err := stringParam(params, 1, "camera")
		if err != nil {
			return err
		}
		return d.camera.SetSplitCamera(callCtx, splitScene, cameraID)

	case "nudgeX", "nudgeY", "scaleUniform":
		return d.nudge(callCtx, action, params, ctx)

	case "setAnalogRate":
		return d.setAnalogRateAction(params)

	case "resetTransform":
		scene, err := stringParam(params, 0, "scene")
		if err != nil {
			return err
		}
		source, err := stringParam(params, 1, "source")
		if err != nil {
			return err
		}
		mode := ResetBoth
		if m, err := stringParam(params, 2, "mode"); err == nil {
			mode = ResetMode(m)
		}
		return d.ResetTransform(callCtx, scene, source, mode)

	default:
		return fmt.Errorf("mixer driver: unknown action %q", action)
	}
}

func (d *Driver) nudge(ctx context.Context, action string, params []any, execCtx driver.ExecutionContext) error {
	scene, err := stringParam(params, 0, "scene")
	if err != nil {
		return err
	}
	source, err := stringParam(params, 1, "source")
	if err != nil {
		return err
	}
	step, err := floatParam(params, 2, "step")
	if err != nil {
		return err
	}

	multiplier, active := interpretControlValue(execCtx.Value)
	if !active {
		return nil
	}
	delta := step * multiplier
	// Relative-encoder ticks arrive as raw MIDI bytes and are scaled by that
	// encoder's acceleration curve; analog readings are used as-is.
	if _, isTick := execCtx.Value.(uint8); isTick && execCtx.ControlID != "" {
		delta *= d.TrackEncoder(execCtx.ControlID, multiplier)
	}

	switch action {
	case "nudgeX":
		return d.items.applyDelta(ctx, scene, source, delta, 0, 0)
	case "nudgeY":
		return d.items.applyDelta(ctx, scene, source, 0, delta, 0)
	default:
		return d.items.applyDelta(ctx, scene, source, 0, 0, delta)
	}
}

func (d *Driver) setAnalogRateAction(params []any) error {
	scene, err := stringParam(params, 0, "scene")
	if err != nil {
		return err
	}
	source, err := stringParam(params, 1, "source")
	if err != nil {
		return err
	}
	var vx, vy, vs *float64
	if len(params) > 2 {
		if f, err := floatParam(params, 2, "vx"); err == nil {
			vx = &f
		}
	}
	if len(params) > 3 {
		if f, err := floatParam(params, 3, "vy"); err == nil {
			vy = &f
		}
	}
	if len(params) > 4 {
		if f, err := floatParam(params, 4, "vs"); err == nil {
			vs = &f
		}
	}
	d.analog.SetRate(scene, source, vx, vy, vs)
	return nil
}

func stringParam(params []any, idx int, name string) (string, error) {
	if idx >= len(params) {
		return "", fmt.Errorf("mixer action: missing parameter %q", name)
	}
	s, ok := params[idx].(string)
	if !ok {
		return "", fmt.Errorf("mixer action: parameter %q must be a string", name)
	}
	return s, nil
}

func floatParam(params []any, idx int, name string) (float64, error) {
	if idx >= len(params) {
		return 0, fmt.Errorf("mixer action: missing parameter %q", name)
	}
	switch v := params[idx].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("mixer action: parameter %q must be numeric", name)
	}
}
