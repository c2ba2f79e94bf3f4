// scene.go - Minimal entity world with a Beep component

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

// Package scene is a small control-side world: entities that carry a Beep
// component, and the gained/lost/changed signals the bridge consumes.
//
// A World is owned by the control loop and is not safe for concurrent use.
package scene

import (
	"maps"
	"slices"

	"github.com/intuitionamiga/audiobridge/bridge"
	"github.com/intuitionamiga/audiobridge/graph"
	"github.com/intuitionamiga/audiobridge/node"
)

// Beep is a sine voice routed to the first two output channels.
type Beep struct {
	Amplitude float32
	Frequency float32

	node *node.Beep
}

// CreateNode adds a 0-in/1-out beep node and connects it to both output
// channels (or to the only one, on a mono graph).
func (b *Beep) CreateNode(tx *graph.Tx) (graph.NodeID, error) {
	n := node.NewBeep(b.Amplitude, b.Frequency)
	id, err := tx.AddNode(0, 1, n)
	if err != nil {
		return 0, err
	}
	out := tx.GraphOutNode()
	channels, _, _ := tx.Ports(out)
	for ch := 0; ch < min(channels, 2); ch++ {
		if err := tx.Connect(id, 0, out, ch, false); err != nil {
			return 0, err
		}
	}
	b.node = n
	return id, nil
}

// NodeChanged pushes the fields into the node's parameter cells.
func (b *Beep) NodeChanged(_ graph.NodeID, _ *bridge.Change) {
	if b.node == nil {
		return
	}
	b.node.Amplitude.Store(b.Amplitude)
	b.node.Frequency.Store(b.Frequency)
}

// World holds entities and their Beep components and records what changed
// since the last Drain.
type World struct {
	next    bridge.Entity
	beeps   map[bridge.Entity]*Beep
	events  []bridge.Signal[*Beep]
	changed map[bridge.Entity]struct{}
}

func NewWorld() *World {
	return &World{
		beeps:   make(map[bridge.Entity]*Beep),
		changed: make(map[bridge.Entity]struct{}),
	}
}

// Spawn creates an entity carrying b.
func (w *World) Spawn(b Beep) bridge.Entity {
	w.next++
	e := w.next
	c := &Beep{Amplitude: b.Amplitude, Frequency: b.Frequency}
	w.beeps[e] = c
	w.events = append(w.events, bridge.Signal[*Beep]{Kind: bridge.Added, Entity: e, Component: c})
	return e
}

// Despawn removes the entity and reports whether it existed.
func (w *World) Despawn(e bridge.Entity) bool {
	c, ok := w.beeps[e]
	if !ok {
		return false
	}
	delete(w.beeps, e)
	delete(w.changed, e)
	w.events = append(w.events, bridge.Signal[*Beep]{Kind: bridge.Removed, Entity: e, Component: c})
	return true
}

// Get returns a copy of e's component.
func (w *World) Get(e bridge.Entity) (Beep, bool) {
	c, ok := w.beeps[e]
	if !ok {
		return Beep{}, false
	}
	return Beep{Amplitude: c.Amplitude, Frequency: c.Frequency}, true
}

// Update edits e's component in place and marks it changed.
func (w *World) Update(e bridge.Entity, fn func(b *Beep)) bool {
	c, ok := w.beeps[e]
	if !ok {
		return false
	}
	fn(c)
	w.changed[e] = struct{}{}
	return true
}

func (w *World) SetAmplitude(e bridge.Entity, v float32) bool {
	return w.Update(e, func(b *Beep) { b.Amplitude = v })
}

func (w *World) SetFrequency(e bridge.Entity, v float32) bool {
	return w.Update(e, func(b *Beep) { b.Frequency = v })
}

// Entities returns the live entities in creation order.
func (w *World) Entities() []bridge.Entity {
	return slices.Sorted(maps.Keys(w.beeps))
}

func (w *World) Len() int { return len(w.beeps) }

// Drain returns gains and losses in the order they happened, followed by
// one Changed signal per entity edited since the last Drain.
func (w *World) Drain() []bridge.Signal[*Beep] {
	out := w.events
	w.events = nil
	ids := slices.Sorted(maps.Keys(w.changed))
	for _, e := range ids {
		out = append(out, bridge.Signal[*Beep]{Kind: bridge.Changed, Entity: e, Component: w.beeps[e]})
	}
	clear(w.changed)
	return out
}
