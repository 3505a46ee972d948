package controlmap

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMidiSpec(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MidiSpec
		wantErr bool
	}{
		{"cc", "cc=70", MidiSpec{Kind: KindControlChange, Value: 70}, false},
		{"note", "note=110", MidiSpec{Kind: KindNote, Value: 110}, false},
		{"pb ch1 is 0-based", "pb=ch1", MidiSpec{Kind: KindPitchBend, Value: 0}, false},
		{"pb ch8 is 0-based", "pb=ch8", MidiSpec{Kind: KindPitchBend, Value: 7}, false},
		{"garbage", "wat=1", MidiSpec{}, true},
		{"bad cc number", "cc=abc", MidiSpec{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMidiSpec(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMidiSpecFromRaw(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want MidiSpec
	}{
		{"note on", []byte{0x90, 64, 100}, MidiSpec{Kind: KindNote, Value: 64}},
		{"note off", []byte{0x80, 64, 0}, MidiSpec{Kind: KindNote, Value: 64}},
		{"cc", []byte{0xB0, 70, 127}, MidiSpec{Kind: KindControlChange, Value: 70}},
		{"pitch bend channel 0", []byte{0xE0, 0, 0x40}, MidiSpec{Kind: KindPitchBend, Value: 0}},
		{"pitch bend channel 3", []byte{0xE3, 0, 0x40}, MidiSpec{Kind: KindPitchBend, Value: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MidiSpecFromRaw(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := MidiSpecFromRaw(nil)
	assert.Error(t, err)
}

func TestLoadDefaultMappings(t *testing.T) {
	db, err := LoadDefault()
	require.NoError(t, err)
	assert.Greater(t, len(db.mappings), 50)

	fader1, ok := db.Get("fader1")
	require.True(t, ok)
	assert.Equal(t, "strip", fader1.Group)
	assert.Equal(t, "cc=70", fader1.CtrlMessage)
	assert.Equal(t, "pb=ch1", fader1.McuMessage)

	spec, ok := db.GetMidiSpec("fader1", false)
	require.True(t, ok)
	assert.Equal(t, MidiSpec{Kind: KindControlChange, Value: 70}, spec)

	spec, ok = db.GetMidiSpec("fader1", true)
	require.True(t, ok)
	assert.Equal(t, MidiSpec{Kind: KindPitchBend, Value: 0}, spec)
}

func TestReverseLookup(t *testing.T) {
	db, err := LoadDefault()
	require.NoError(t, err)

	id, ok := db.FindControlByMidi(MidiSpec{Kind: KindControlChange, Value: 70}, false)
	require.True(t, ok)
	assert.Equal(t, "fader1", id)

	id, ok = db.FindControlByMidi(MidiSpec{Kind: KindPitchBend, Value: 0}, true)
	require.True(t, ok)
	assert.Equal(t, "fader1", id)

	_, ok = db.FindControlByMidi(MidiSpec{Kind: KindControlChange, Value: 200}, false)
	assert.False(t, ok)
}

func TestGroupQueries(t *testing.T) {
	db, err := LoadDefault()
	require.NoError(t, err)

	_, ok := db.Group("strip")
	assert.True(t, ok)
	_, ok = db.Group("transport")
	assert.True(t, ok)
	_, ok = db.Group("function")
	assert.True(t, ok)

	faders := db.FaderControls()
	assert.Len(t, faders, 9)
	assert.Contains(t, faders, "fader_master")

	buttons := db.StripButtons(1)
	assert.Len(t, buttons, 4)
	assert.Contains(t, buttons, "mute1")
	assert.Contains(t, buttons, "solo1")

	encoders := db.EncoderControls(1)
	assert.Len(t, encoders, 2)
	assert.Contains(t, encoders, "vpot1_rotate")
	assert.Contains(t, encoders, "vpot1_push")
}

func TestParseCSVRejectsBadSpec(t *testing.T) {
	bad := "control_id,group,ctrl_message,mcu_message\nfoo,bar,nonsense,pb=ch1\n"
	_, err := LoadFromString(bad)
	assert.Error(t, err)
}

func TestLoadCachedReparsesOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/map.csv"
	content := "control_id,group,ctrl_message,mcu_message\nfoo,bar,cc=1,cc=1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t1, err := LoadCached(path)
	require.NoError(t, err)
	_, ok := t1.Get("foo")
	assert.True(t, ok)

	// Re-parsing the same unmodified file returns a cached table.
	t2, err := LoadCached(path)
	require.NoError(t, err)
	assert.Same(t, t1, t2)

	// Touching the file's mtime forces a fresh parse.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	t3, err := LoadCached(path)
	require.NoError(t, err)
	assert.NotSame(t, t1, t3)
}
