// midictl.go - MIDI note input driving scene voices

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

// Package midictl turns MIDI notes into Beep voices. Note on spawns a voice
// (or retunes the held one), note off despawns it.
//
// MIDI messages arrive on the driver's goroutine. They are queued under a
// mutex and applied to the world by Frame, on the control loop, so the world
// itself is never shared.
package midictl

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"gitlab.com/gomidi/midi/v2"

	"github.com/intuitionamiga/audiobridge/bridge"
	"github.com/intuitionamiga/audiobridge/scene"
)

type noteEvent struct {
	on       bool
	key      uint8
	velocity uint8
}

// Controller maps held keys to entities.
type Controller struct {
	world *scene.World
	log   zerolog.Logger
	// Channel filters incoming messages; -1 accepts every channel.
	channel int
	gain    float32

	mu    sync.Mutex
	inbox []noteEvent

	voices map[uint8]bridge.Entity
}

// New creates a controller. gain scales note velocity into amplitude.
func New(w *scene.World, channel int, gain float32, log zerolog.Logger) *Controller {
	return &Controller{
		world:   w,
		log:     log,
		channel: channel,
		gain:    gain,
		voices:  make(map[uint8]bridge.Entity),
	}
}

// HandleMessage queues note on/off messages. Safe to call from any
// goroutine.
func (c *Controller) HandleMessage(msg midi.Message) {
	var ch, key, vel uint8
	var ev noteEvent
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		ev = noteEvent{on: true, key: key, velocity: vel}
	case msg.GetNoteEnd(&ch, &key):
		ev = noteEvent{key: key}
	default:
		return
	}
	if c.channel >= 0 && int(ch) != c.channel {
		return
	}
	c.mu.Lock()
	c.inbox = append(c.inbox, ev)
	c.mu.Unlock()
}

// Frame applies queued notes to the world.
func (c *Controller) Frame() {
	c.mu.Lock()
	events := c.inbox
	c.inbox = nil
	c.mu.Unlock()

	for _, ev := range events {
		amp := c.gain * float32(ev.velocity) / 127
		freq := KeyToFrequency(ev.key)
		e, held := c.voices[ev.key]
		switch {
		case ev.on && held:
			c.world.Update(e, func(b *scene.Beep) {
				b.Amplitude = amp
				b.Frequency = freq
			})
		case ev.on:
			c.voices[ev.key] = c.world.Spawn(scene.Beep{Amplitude: amp, Frequency: freq})
			c.log.Debug().Uint8("key", ev.key).Uint8("velocity", ev.velocity).Msg("midi voice on")
		case held:
			c.world.Despawn(e)
			delete(c.voices, ev.key)
			c.log.Debug().Uint8("key", ev.key).Msg("midi voice off")
		}
	}
}

// ReleaseAll despawns every held voice, e.g. when the device disappears.
func (c *Controller) ReleaseAll() {
	c.mu.Lock()
	c.inbox = nil
	c.mu.Unlock()
	for key, e := range c.voices {
		c.world.Despawn(e)
		delete(c.voices, key)
	}
}

// Held returns the number of sounding voices.
func (c *Controller) Held() int { return len(c.voices) }

// KeyToFrequency converts a MIDI key to Hz in twelve-tone equal temperament
// (A4 = key 69 = 440 Hz).
func KeyToFrequency(key uint8) float32 {
	return float32(440 * math.Pow(2, (float64(key)-69)/12))
}

// Listen opens the input port with the given name on the registered MIDI
// driver and feeds it to c. The returned stop function closes the port.
func Listen(port string, c *Controller) (stop func(), err error) {
	in, err := midi.FindInPort(port)
	if err != nil {
		return nil, fmt.Errorf("midi input %q: %w", port, err)
	}
	stopListen, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		c.HandleMessage(msg)
	}, midi.HandleError(func(err error) {
		c.log.Warn().Err(err).Str("port", port).Msg("midi listener error")
	}))
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", port, err)
	}
	c.log.Info().Str("port", port).Msg("midi connected")
	return func() {
		stopListen()
		_ = in.Close()
	}, nil
}
