// Package controlmap loads and indexes the surface's control table: the
// bidirectional mapping between logical control IDs (e.g. "fader1",
// "vpot3_rotate") and the MIDI messages that represent them in each of the
// surface's two wire modes.
package controlmap

import (
	"fmt"
	"strconv"
	"strings"
)

// SpecKind identifies which MIDI message shape a MidiSpec encodes.
type SpecKind int

const (
	KindControlChange SpecKind = iota
	KindNote
	KindPitchBend
)

// MidiSpec is a parsed MIDI message specification: a Control Change number,
// a Note number, or a Pitch Bend channel (0-based). Modeled as a flat
// comparable struct rather than an interface so specs compare with ==, as
// the reverse (MIDI -> control ID) lookup does.
type MidiSpec struct {
	Kind  SpecKind
	Value uint8
}

// ParseMidiSpec parses the string encoding used in the control-map CSV:
// "cc=<0..127>", "note=<0..127>", or "pb=ch<1..16>" (1-based channel in the
// string form, stored 0-based).
func ParseMidiSpec(spec string) (MidiSpec, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case strings.HasPrefix(spec, "cc="):
		n, err := strconv.ParseUint(strings.TrimPrefix(spec, "cc="), 10, 8)
		if err != nil {
			return MidiSpec{}, fmt.Errorf("invalid CC number: %w", err)
		}
		return MidiSpec{Kind: KindControlChange, Value: uint8(n)}, nil
	case strings.HasPrefix(spec, "note="):
		n, err := strconv.ParseUint(strings.TrimPrefix(spec, "note="), 10, 8)
		if err != nil {
			return MidiSpec{}, fmt.Errorf("invalid note number: %w", err)
		}
		return MidiSpec{Kind: KindNote, Value: uint8(n)}, nil
	case strings.HasPrefix(spec, "pb="):
		rest := strings.TrimPrefix(spec, "pb=")
		chStr, ok := strings.CutPrefix(rest, "ch")
		if !ok {
			return MidiSpec{}, fmt.Errorf("invalid pitch bend format: %s", spec)
		}
		ch, err := strconv.ParseUint(chStr, 10, 8)
		if err != nil {
			return MidiSpec{}, fmt.Errorf("invalid channel: %w", err)
		}
		if ch > 0 {
			ch-- // 1-based in the string encoding, 0-based internally
		}
		return MidiSpec{Kind: KindPitchBend, Value: uint8(ch)}, nil
	default:
		return MidiSpec{}, fmt.Errorf("unknown MIDI spec format: %s", spec)
	}
}

// MidiSpecFromRaw parses a MidiSpec from a raw 2-3 byte MIDI frame: status
// nibble 0x8/0x9 -> Note, 0xB -> ControlChange, 0xE -> PitchBend.
func MidiSpecFromRaw(raw []byte) (MidiSpec, error) {
	if len(raw) == 0 {
		return MidiSpec{}, fmt.Errorf("empty MIDI message")
	}
	status := raw[0]
	typeNibble := (status & 0xF0) >> 4
	channel := status & 0x0F

	switch typeNibble {
	case 0x8, 0x9:
		if len(raw) < 2 {
			return MidiSpec{}, fmt.Errorf("invalid note message: too short")
		}
		return MidiSpec{Kind: KindNote, Value: raw[1]}, nil
	case 0xB:
		if len(raw) < 2 {
			return MidiSpec{}, fmt.Errorf("invalid CC message: too short")
		}
		return MidiSpec{Kind: KindControlChange, Value: raw[1]}, nil
	case 0xE:
		return MidiSpec{Kind: KindPitchBend, Value: channel}, nil
	default:
		return MidiSpec{}, fmt.Errorf("unsupported MIDI message type: 0x%02X", typeNibble)
	}
}

// Mapping is one row of the control table.
type Mapping struct {
	ControlID   string
	Group       string
	CtrlMessage string
	McuMessage  string
}

// Table is an immutable snapshot of the control map, indexed for lookup by
// control ID and by group. The reverse lookup by (MidiSpec, mode) scans the
// mappings rather than using an index.
type Table struct {
	mappings map[string]Mapping
	groups   map[string][]string
}

// Get returns the mapping row for a control ID.
func (t *Table) Get(controlID string) (Mapping, bool) {
	m, ok := t.mappings[controlID]
	return m, ok
}

// GetMidiSpec resolves a control ID's MIDI spec in the given mode (MCU vs
// control/CC-Note).
func (t *Table) GetMidiSpec(controlID string, mcuMode bool) (MidiSpec, bool) {
	m, ok := t.mappings[controlID]
	if !ok {
		return MidiSpec{}, false
	}
	specStr := m.CtrlMessage
	if mcuMode {
		specStr = m.McuMessage
	}
	spec, err := ParseMidiSpec(specStr)
	if err != nil {
		return MidiSpec{}, false
	}
	return spec, true
}

// FindControlByMidi performs the reverse lookup: given a MidiSpec and mode,
// find the control ID it represents.
func (t *Table) FindControlByMidi(spec MidiSpec, mcuMode bool) (string, bool) {
	for id, m := range t.mappings {
		specStr := m.CtrlMessage
		if mcuMode {
			specStr = m.McuMessage
		}
		parsed, err := ParseMidiSpec(specStr)
		if err != nil {
			continue
		}
		if parsed == spec {
			return id, true
		}
	}
	return "", false
}

// Group returns every control ID belonging to a named group.
func (t *Table) Group(group string) ([]string, bool) {
	g, ok := t.groups[group]
	return g, ok
}

// Groups returns every known group name.
func (t *Table) Groups() []string {
	names := make([]string, 0, len(t.groups))
	for name := range t.groups {
		names = append(names, name)
	}
	return names
}

// FaderControls returns fader1..fader8 plus fader_master, in that order,
// for whichever of those control IDs exist in the table.
func (t *Table) FaderControls() []string {
	var faders []string
	for i := 1; i <= 8; i++ {
		id := fmt.Sprintf("fader%d", i)
		if _, ok := t.mappings[id]; ok {
			faders = append(faders, id)
		}
	}
	if _, ok := t.mappings["fader_master"]; ok {
		faders = append(faders, "fader_master")
	}
	return faders
}

// StripButtons returns the rec/solo/mute/select control IDs for one channel
// strip, in that order, for whichever exist.
func (t *Table) StripButtons(stripNum int) []string {
	var buttons []string
	for _, kind := range []string{"rec", "solo", "mute", "select"} {
		id := fmt.Sprintf("%s%d", kind, stripNum)
		if _, ok := t.mappings[id]; ok {
			buttons = append(buttons, id)
		}
	}
	return buttons
}

// EncoderControls returns the rotate/push control IDs for one encoder, for
// whichever exist.
func (t *Table) EncoderControls(encoderNum int) []string {
	var controls []string
	rotateID := fmt.Sprintf("vpot%d_rotate", encoderNum)
	pushID := fmt.Sprintf("vpot%d_push", encoderNum)
	if _, ok := t.mappings[rotateID]; ok {
		controls = append(controls, rotateID)
	}
	if _, ok := t.mappings[pushID]; ok {
		controls = append(controls, pushID)
	}
	return controls
}
