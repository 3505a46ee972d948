// Package surface drives the physical Mackie/X-Touch control surface: it
// turns inbound MIDI into control-ID events (squelching echoed fader
// pitch-bend), and turns outgoing control-ID/value pairs into MIDI frames,
// guarding motorized-fader writes with the pitch-bend squelch window before
// they go out.
package surface

import (
	"context"
	"fmt"
	"math"
	"sync"

	midi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/jdginn/xtouch-gw/controlmap"
	"github.com/jdginn/xtouch-gw/logging"
	"github.com/jdginn/xtouch-gw/squelch"
)

// fixedChannel is the MIDI channel carried by CC and Note messages in the
// control map. Only pitch bend varies channel per the table (one channel per
// motorized fader); CC/Note controls share this single channel, matching how
// the Mackie Control Universal protocol addresses its buttons and encoders.
const fixedChannel = 0

// InputEvent is one resolved inbound control event, ready for the router.
type InputEvent struct {
	ControlID string
	Value     any
}

// Surface owns the surface's MIDI ports and the control-map table used to
// translate between control IDs and raw MIDI.
type Surface struct {
	table   *controlmap.Table
	mcuMode bool

	squelch         *squelch.PitchBendSquelch
	feedbackGuardMs uint64

	in  drivers.In
	out drivers.Out

	events chan InputEvent

	mu      sync.Mutex
	stopFn  func()
}

// New returns a Surface bound to in/out MIDI ports, resolving control IDs in
// mcuMode (pitch-bend faders) or control mode (CC/Note faders) per table.
// feedbackGuardMs is the squelch window applied before every outgoing
// motorized-fader position write.
func New(table *controlmap.Table, mcuMode bool, feedbackGuardMs uint64, in drivers.In, out drivers.Out) *Surface {
	return &Surface{
		table:           table,
		mcuMode:         mcuMode,
		squelch:         squelch.New(),
		feedbackGuardMs: feedbackGuardMs,
		in:              in,
		out:             out,
		events:          make(chan InputEvent, 64),
	}
}

// Events returns the channel of resolved inbound control events. The router
// reads from this channel; it serializes events in arrival order, so a
// single reader preserves the per-control dispatch ordering the router
// requires.
func (s *Surface) Events() <-chan InputEvent {
	return s.events
}

// Run opens the surface's ports and listens for inbound MIDI until ctx is
// canceled. It resolves each frame to a MidiSpec, reverse-looks-up the
// control ID, applies the pitch-bend squelch, and pushes an InputEvent.
func (s *Surface) Run(ctx context.Context) error {
	log := logging.Get(logging.MIDI_IN)

	if err := s.in.Open(); err != nil {
		return fmt.Errorf("failed to open surface input port: %w", err)
	}
	if err := s.out.Open(); err != nil {
		return fmt.Errorf("failed to open surface output port: %w", err)
	}

	stop, err := midi.ListenTo(s.in, func(msg midi.Message, timestampms int32) {
		s.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start surface MIDI listener: %w", err)
	}

	s.mu.Lock()
	s.stopFn = stop
	s.mu.Unlock()

	log.Info("surface listening", "in", s.in.String(), "out", s.out.String())

	<-ctx.Done()
	s.Close()
	return nil
}

// Close stops the MIDI listener and releases the ports. Safe to call more
// than once.
func (s *Surface) Close() {
	s.mu.Lock()
	stop := s.stopFn
	s.stopFn = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.in.Close()
	s.out.Close()
}

func (s *Surface) handleMessage(msg midi.Message) {
	log := logging.Get(logging.MIDI_IN)

	var raw []byte
	var channel, cc, value, note, velocity uint8
	var relative int16
	var absolute uint16

	switch msg.Type() {
	case midi.ControlChangeMsg:
		if ok := msg.GetControlChange(&channel, &cc, &value); !ok {
			return
		}
		raw = []byte{0xB0 | channel, cc, value}
	case midi.NoteOnMsg:
		if ok := msg.GetNoteOn(&channel, &note, &velocity); !ok {
			return
		}
		raw = []byte{0x90 | channel, note, velocity}
	case midi.NoteOffMsg:
		if ok := msg.GetNoteOff(&channel, &note, &velocity); !ok {
			return
		}
		raw = []byte{0x80 | channel, note, velocity}
	case midi.PitchBendMsg:
		if ok := msg.GetPitchBend(&channel, &relative, &absolute); !ok {
			return
		}
		raw = []byte{0xE0 | channel, byte(absolute & 0x7F), byte((absolute >> 7) & 0x7F)}
	default:
		return
	}

	spec, err := controlmap.MidiSpecFromRaw(raw)
	if err != nil {
		log.Debug("unrecognized surface MIDI frame", "error", err)
		return
	}

	if spec.Kind == controlmap.KindPitchBend && s.squelch.IsSquelched() {
		log.Debug("dropping squelched pitch bend", "channel", spec.Value)
		return
	}

	controlID, ok := s.table.FindControlByMidi(spec, s.mcuMode)
	if !ok {
		log.Debug("no control mapped to MIDI frame", "kind", spec.Kind, "value", spec.Value)
		return
	}

	var eventValue any
	switch msg.Type() {
	case midi.ControlChangeMsg:
		eventValue = value
	case midi.NoteOnMsg, midi.NoteOffMsg:
		eventValue = velocity
	case midi.PitchBendMsg:
		eventValue = absolute
	}

	log.Debug("resolved inbound control event", "control_id", controlID, "value", eventValue)
	select {
	case s.events <- InputEvent{ControlID: controlID, Value: eventValue}:
	default:
		log.Warn("surface input event dropped, event channel full", "control_id", controlID)
	}
}

func (s *Surface) resolve(controlID string) (controlmap.MidiSpec, error) {
	spec, ok := s.table.GetMidiSpec(controlID, s.mcuMode)
	if !ok {
		return controlmap.MidiSpec{}, fmt.Errorf("surface: no MIDI spec for control %q", controlID)
	}
	return spec, nil
}

func (s *Surface) send(raw []byte) error {
	logging.Get(logging.MIDI_OUT).Debug("sending surface MIDI frame", "bytes", raw)
	return s.out.Send(raw)
}

// SetIndicator lights or clears controlID's LED. CC/Note controls send
// value 127/0; a pitch-bend-backed control (unusual for an indicator, but
// not excluded) centers or zeros the bend.
func (s *Surface) SetIndicator(controlID string, on bool) error {
	spec, err := s.resolve(controlID)
	if err != nil {
		return err
	}
	switch spec.Kind {
	case controlmap.KindControlChange:
		v := uint8(0)
		if on {
			v = 127
		}
		return s.send([]byte{0xB0 | fixedChannel, spec.Value, v})
	case controlmap.KindNote:
		if on {
			return s.send([]byte{0x90 | fixedChannel, spec.Value, 127})
		}
		return s.send([]byte{0x80 | fixedChannel, spec.Value, 0})
	case controlmap.KindPitchBend:
		v := uint16(0x2000)
		if !on {
			v = 0
		}
		return s.send([]byte{0xE0 | spec.Value, byte(v & 0x7F), byte((v >> 7) & 0x7F)})
	default:
		return fmt.Errorf("surface: unknown MIDI spec kind for %q", controlID)
	}
}

// SetEncoderRing sweeps an encoder's LED ring to represent v in [0,1] using
// the bit-pattern sweep the X-Touch's ring segments expect: 13 segments in
// all (seven addressed through encoderCC, six through encoderCC+8), swept
// over 26 steps rather than jumping straight from one lit segment to the next.
func (s *Surface) SetEncoderRing(encoderCC uint8, v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	const sweepSteps = 26
	lowPattern := [sweepSteps]uint8{
		1, 3, 2, 6, 5, 4, 12, 8, 24, 16, 48, 32, 96, 64, 64, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	highPattern := [sweepSteps]uint8{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 3, 2, 6, 5, 4, 12, 8, 24, 16, 48, 32,
	}
	step := int(math.Round(v * float64(sweepSteps-1)))
	low, high := lowPattern[step], highPattern[step]

	if err := s.send([]byte{0xB0 | fixedChannel, encoderCC, low}); err != nil {
		return fmt.Errorf("failed to set encoder ring low segment: %w", err)
	}
	return s.send([]byte{0xB0 | fixedChannel, encoderCC + 8, high})
}

// SetFaderPosition moves a motorized fader to a 14-bit pitch-bend position.
// The squelch window is engaged *before* the frame is sent, so that any echo
// the motor's movement generates on the input port arrives already
// suppressed.
func (s *Surface) SetFaderPosition(controlID string, position14bit uint16) error {
	spec, err := s.resolve(controlID)
	if err != nil {
		return err
	}
	if spec.Kind != controlmap.KindPitchBend {
		return fmt.Errorf("surface: control %q is not a pitch-bend fader in the current mode", controlID)
	}
	if position14bit > 0x3FFF {
		position14bit = 0x3FFF
	}
	s.squelch.Squelch(s.feedbackGuardMs)
	return s.send([]byte{0xE0 | spec.Value, byte(position14bit & 0x7F), byte((position14bit >> 7) & 0x7F)})
}
