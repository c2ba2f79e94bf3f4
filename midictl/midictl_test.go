package midictl

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/intuitionamiga/audiobridge/scene"
)

func TestKeyToFrequency(t *testing.T) {
	assert.InDelta(t, 440, KeyToFrequency(69), 1e-3)
	assert.InDelta(t, 880, KeyToFrequency(81), 1e-3)
	assert.InDelta(t, 261.626, KeyToFrequency(60), 1e-2)
}

func TestNotesDriveVoices(t *testing.T) {
	w := scene.NewWorld()
	c := New(w, -1, 1, zerolog.Nop())

	c.HandleMessage(midi.NoteOn(0, 69, 127))
	c.HandleMessage(midi.NoteOn(1, 60, 64))
	assert.Equal(t, 0, w.Len(), "nothing happens before Frame")

	c.Frame()
	require.Equal(t, 2, w.Len())
	assert.Equal(t, 2, c.Held())

	a, ok := w.Get(c.voices[69])
	require.True(t, ok)
	assert.InDelta(t, 440, a.Frequency, 1e-3)
	assert.InDelta(t, 1, a.Amplitude, 1e-6)

	c.HandleMessage(midi.NoteOff(0, 69))
	c.HandleMessage(midi.NoteOn(1, 60, 0)) // velocity 0 is a note off
	c.HandleMessage(midi.ControlChange(0, 7, 100))
	c.Frame()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 0, c.Held())
}

func TestRetrigger(t *testing.T) {
	w := scene.NewWorld()
	c := New(w, -1, 0.5, zerolog.Nop())
	c.HandleMessage(midi.NoteOn(0, 72, 127))
	c.HandleMessage(midi.NoteOn(0, 72, 127))
	c.Frame()
	assert.Equal(t, 1, w.Len(), "a held key is retuned, not doubled")
	b, _ := w.Get(c.voices[72])
	assert.InDelta(t, 0.5, b.Amplitude, 1e-6)
}

func TestChannelFilter(t *testing.T) {
	w := scene.NewWorld()
	c := New(w, 3, 1, zerolog.Nop())
	c.HandleMessage(midi.NoteOn(0, 60, 100))
	c.HandleMessage(midi.NoteOn(3, 62, 100))
	c.Frame()
	assert.Equal(t, 1, w.Len())
}

func TestReleaseAll(t *testing.T) {
	w := scene.NewWorld()
	c := New(w, -1, 1, zerolog.Nop())
	for key := uint8(60); key < 64; key++ {
		c.HandleMessage(midi.NoteOn(0, key, 90))
	}
	c.Frame()
	c.HandleMessage(midi.NoteOn(0, 70, 90))
	c.ReleaseAll()
	c.Frame()
	assert.Equal(t, 0, w.Len())
}

func TestConcurrentMessages(t *testing.T) {
	w := scene.NewWorld()
	c := New(w, -1, 1, zerolog.Nop())
	var wg sync.WaitGroup
	for i := range 4 {
		wg.Go(func() {
			for k := range 16 {
				key := uint8(i*16 + k)
				c.HandleMessage(midi.NoteOn(0, key, 100))
				c.HandleMessage(midi.NoteOff(0, key))
			}
		})
	}
	for range 10 {
		c.Frame()
	}
	wg.Wait()
	c.Frame()
	assert.Equal(t, 0, w.Len())
}
