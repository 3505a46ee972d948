// Package lighting implements a minimal pass-through driver for lighting
// consoles (e.g. QLC+) that are themselves controlled over MIDI: the driver
// does no routing of its own, it simply re-emits the raw MIDI bytes the
// router hands it to a configured output port.
package lighting

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/jdginn/xtouch-gw/driver"
	"github.com/jdginn/xtouch-gw/logging"
)

// Driver is a logic-free MIDI pass-through: Execute's only job is to log and
// forward. Real routing is configured on the console side (e.g. a QLC+
// input profile), not here.
type Driver struct {
	driver.Base

	name string
	out  drivers.Out
}

// New returns a lighting pass-through driver writing to out. out may be nil,
// in which case Execute logs but does not send (useful in tests and for a
// gateway run without a lighting console attached).
func New(out drivers.Out) *Driver {
	return &Driver{name: "lighting", out: out}
}

func (d *Driver) Name() string { return d.name }

func (d *Driver) Init(ctx driver.ExecutionContext) error {
	logging.Get(logging.ROUTER).Info("lighting driver initialized", "output_configured", d.out != nil)
	return nil
}

// Execute expects params to be exactly the raw MIDI bytes of the message to
// forward, e.g. []any{byte(0xB0), byte(7), byte(127)}. Any other action is
// logged and ignored; this driver has no action vocabulary of its own.
func (d *Driver) Execute(action string, params []any, ctx driver.ExecutionContext) error {
	logger := logging.Get(logging.ROUTER)
	if action != "midi" {
		logger.Debug("lighting driver ignoring non-MIDI action", "action", action)
		return nil
	}
	raw := make([]byte, 0, len(params))
	for _, p := range params {
		b, ok := toByte(p)
		if !ok {
			return fmt.Errorf("invalid MIDI byte in lighting passthrough params: %v", p)
		}
		raw = append(raw, b)
	}
	if ctx.Activity != nil {
		ctx.Activity.Record(d.name, driver.Outbound)
	}
	if d.out == nil {
		logger.Debug("lighting passthrough (no output configured)", "bytes", raw)
		return nil
	}
	return d.out.Send(raw)
}

func toByte(v any) (byte, bool) {
	switch n := v.(type) {
	case byte:
		return n, true
	case int:
		return byte(n), true
	case int64:
		return byte(n), true
	case float64:
		return byte(n), true
	default:
		return 0, false
	}
}

func (d *Driver) Sync() error {
	logging.Get(logging.ROUTER).Debug("lighting driver sync (no-op)")
	return nil
}

func (d *Driver) Shutdown() error {
	logging.Get(logging.ROUTER).Info("lighting driver shutdown")
	return nil
}
