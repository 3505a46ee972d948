// Package normalize provides deadzone and radial-to-circle normalization for
// analog gamepad sticks and triggers, shared across input sources so that an
// XInput stick and a gilrs-style normalized stick respond consistently.
package normalize

import "math"

const (
	// XInputLeftThumbDeadzone is the XInput left-stick deadzone radius, per
	// Microsoft's XInput documentation.
	XInputLeftThumbDeadzone = 7849
	// XInputRightThumbDeadzone is the XInput right-stick deadzone radius.
	XInputRightThumbDeadzone = 8689
	// XInputTriggerThreshold is the XInput trigger value below which input
	// is treated as zero.
	XInputTriggerThreshold = 30

	maxMagnitude = 32768.0
)

// StickRadial normalizes a raw XInput stick reading using a circular (not
// per-axis square) deadzone, so diagonal deflections reach full magnitude
// at the same radius as cardinal ones.
func StickRadial(rawX, rawY int16, deadzone float64) (float64, float64) {
	x, y := float64(rawX), float64(rawY)
	magnitude := math.Sqrt(x*x + y*y)

	if magnitude <= deadzone {
		return 0, 0
	}
	if deadzone >= maxMagnitude {
		return 0, 0
	}

	normalizedMagnitude := math.Min((magnitude-deadzone)/(maxMagnitude-deadzone), 1.0)
	scale := normalizedMagnitude / magnitude
	return x * scale, y * scale
}

// Mode selects which square/circle correction to apply to an
// already-normalized ([-1,1]-per-axis) gamepad stick reading.
type Mode int

const (
	RadialClamp Mode = iota
	SquareToCircle
	AstroidToCircle
)

// SquareToCircleXY shrinks diagonal deflections so a square-shaped raw
// input range (corners at magnitude sqrt(2)) maps onto the unit circle.
func SquareToCircleXY(x, y float64) (float64, float64) {
	magnitude := math.Sqrt(x*x + y*y)
	if magnitude < 0.0001 {
		return 0, 0
	}
	maxAxis := math.Max(math.Abs(x), math.Abs(y))
	scale := maxAxis / magnitude
	return x * scale, y * scale
}

// RadialClampXY leaves interior points untouched and only rescales points
// that already exceed the unit circle back onto its edge.
func RadialClampXY(x, y float64) (float64, float64) {
	magnitude := math.Sqrt(x*x + y*y)
	if magnitude <= 1.0 {
		return x, y
	}
	return x / magnitude, y / magnitude
}

// AstroidToCircleXY expands a concave-diamond-shaped raw input range
// outward onto the unit circle; the inverse transform of SquareToCircleXY.
func AstroidToCircleXY(x, y float64) (float64, float64) {
	magnitude := math.Sqrt(x*x + y*y)
	if magnitude < 0.0001 {
		return 0, 0
	}
	maxAxis := math.Max(math.Abs(x), math.Abs(y))
	if maxAxis < 0.0001 {
		return 0, 0
	}
	scale := magnitude / maxAxis
	outX, outY := x*scale, y*scale
	outMag := math.Sqrt(outX*outX + outY*outY)
	if outMag > 1.0 {
		return outX / outMag, outY / outMag
	}
	return outX, outY
}

// Apply dispatches to the XY transform for the selected Mode.
func Apply(mode Mode, x, y float64) (float64, float64) {
	switch mode {
	case RadialClamp:
		return RadialClampXY(x, y)
	case AstroidToCircle:
		return AstroidToCircleXY(x, y)
	default:
		return SquareToCircleXY(x, y)
	}
}

// Trigger maps a raw XInput trigger byte (0-255) to [0,1], applying the
// trigger threshold deadzone.
func Trigger(value uint8) float64 {
	if value < XInputTriggerThreshold {
		return 0
	}
	adjusted := float64(value - XInputTriggerThreshold)
	rng := float64(255 - XInputTriggerThreshold)
	return adjusted / rng
}

// Shape applies gamma correction near center for finer control, preserving
// sign: sign(v) * |v|^gamma.
func Shape(v, gamma float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	sign := 1.0
	if v < 0 {
		sign = -1.0
	}
	return sign * math.Pow(math.Abs(v), gamma)
}
