// render.go - Device callback running the published schedule

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

package engine

import (
	"sync/atomic"

	"github.com/intuitionamiga/audiobridge/graph"
	"github.com/intuitionamiga/audiobridge/node"
)

// renderer is shared between an Active engine and its stream. render runs on
// the device thread; everything it shares with the control side is atomic.
type renderer struct {
	graph    *graph.Graph
	rate     uint32
	channels int

	frame uint64 // device thread only

	blocks    atomic.Uint64
	frames    atomic.Uint64
	faults    atomic.Uint64
	lastFault atomic.Uint64
}

func newRenderer(g *graph.Graph, rate uint32, channels int) *renderer {
	return &renderer{graph: g, rate: rate, channels: channels}
}

// render splits dst into blocks of at most MaxFrames. Each block loads the
// published schedule once, so a batch of edits becomes audible at a block
// boundary and never halfway through one.
func (r *renderer) render(dst []float32) {
	ch := r.channels
	total := len(dst) / ch
	for off := 0; off < total; {
		s := r.graph.Schedule()
		if s == nil {
			clear(dst[off*ch:])
			break
		}
		n := min(total-off, s.MaxFrames())
		info := node.ProcInfo{SampleRate: r.rate, Frame: r.frame}
		if id := s.Process(n, info); id != 0 {
			r.lastFault.Store(uint64(id))
			r.faults.Add(1)
		}
		s.Interleave(dst[off*ch:], n, ch)
		off += n
		r.frame += uint64(n)
		r.blocks.Add(1)
		r.frames.Add(uint64(n))
	}
	clear(dst[total*ch:])
}

// stats is a snapshot of the renderer counters.
type stats struct {
	blocks, frames, faults uint64
	lastFault              graph.NodeID
}

func (r *renderer) stats() stats {
	return stats{
		blocks:    r.blocks.Load(),
		frames:    r.frames.Load(),
		faults:    r.faults.Load(),
		lastFault: graph.NodeID(r.lastFault.Load()),
	}
}
