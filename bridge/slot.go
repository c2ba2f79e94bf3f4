// slot.go - Single-owner store for the engine handle

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

package bridge

import (
	"github.com/intuitionamiga/audiobridge/engine"
	"github.com/intuitionamiga/audiobridge/graph"
)

// Handle is the engine in whichever state it is in. Exactly one field is
// set.
type Handle struct {
	Active   *engine.Active
	Inactive *engine.Inactive
}

func (h Handle) valid() bool {
	return (h.Active == nil) != (h.Inactive == nil)
}

// Graph returns the topology of whichever state the engine is in.
func (h Handle) Graph() *graph.Graph {
	if h.Active != nil {
		return h.Active.Graph()
	}
	return h.Inactive.Graph()
}

// Slot owns the engine between frames. Whoever needs the engine checks it
// out, and must check it back in before the frame ends. Misuse is a
// programming error and panics.
type Slot struct {
	h    Handle
	full bool
}

// NewSlot stores an inactive engine.
func NewSlot(e *engine.Inactive) *Slot {
	if e == nil {
		panic("bridge: nil engine")
	}
	return &Slot{h: Handle{Inactive: e}, full: true}
}

// CheckOut takes the engine out of the slot.
func (s *Slot) CheckOut() Handle {
	if !s.full {
		panic("bridge: engine already checked out")
	}
	h := s.h
	s.h = Handle{}
	s.full = false
	return h
}

// CheckIn puts the engine back.
func (s *Slot) CheckIn(h Handle) {
	if s.full {
		panic("bridge: engine checked in twice")
	}
	if !h.valid() {
		panic("bridge: checked in an empty or ambiguous engine handle")
	}
	s.h = h
	s.full = true
}

// EndFrame asserts the engine was returned.
func (s *Slot) EndFrame() {
	if !s.full {
		panic("bridge: engine was not checked back in before the end of the frame")
	}
}

// Active reports whether the stored engine is active.
func (s *Slot) Active() bool {
	return s.full && s.h.Active != nil
}
