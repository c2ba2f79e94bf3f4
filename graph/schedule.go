// schedule.go - Compiled, immutable processing order for the real-time thread

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

package graph

import (
	"slices"

	"github.com/intuitionamiga/audiobridge/node"
)

// Schedule is a compiled snapshot of the topology. Its buffers are allocated
// at compile time; Process and Interleave do not allocate. A Schedule is
// used by one rendering thread at a time.
type Schedule struct {
	steps     []step
	out       *step
	zero      []float32
	maxFrames int
	version   uint64
}

type mix struct {
	dst  []float32
	srcs [][]float32
}

type step struct {
	e       *entry
	proc    node.Processor
	inFull  [][]float32 // per input port: alias of a source buffer, a mix buffer or zero
	outFull [][]float32 // per output port, owned
	mixes   []mix
	ins     [][]float32 // views handed to Process, resliced to the block length
	outs    [][]float32
}

func compile(g *Graph) *Schedule {
	frames := max(g.cfg.MaxBlockFrames, 1)
	s := &Schedule{
		zero:      make([]float32, frames),
		maxFrames: frames,
		version:   g.version,
	}

	order := topoOrder(g)
	s.steps = make([]step, len(order))
	index := make(map[NodeID]int, len(order))
	for i, id := range order {
		e := g.nodes[id]
		st := &s.steps[i]
		st.e = e
		st.proc = e.proc
		st.outFull = make([][]float32, e.numOut)
		for p := range st.outFull {
			st.outFull[p] = make([]float32, frames)
		}
		index[id] = i
	}

	sources := make(map[NodeID][][]Edge)
	for _, edge := range g.Edges() {
		ports := sources[edge.Dst]
		if ports == nil {
			ports = make([][]Edge, g.nodes[edge.Dst].numIn)
			sources[edge.Dst] = ports
		}
		ports[edge.DstPort] = append(ports[edge.DstPort], edge)
	}

	for i := range s.steps {
		st := &s.steps[i]
		st.inFull = make([][]float32, st.e.numIn)
		ports := sources[st.e.id]
		for p := range st.inFull {
			var feeds []Edge
			if ports != nil {
				feeds = ports[p]
			}
			switch len(feeds) {
			case 0:
				st.inFull[p] = s.zero
			case 1:
				src := &s.steps[index[feeds[0].Src]]
				st.inFull[p] = src.outFull[feeds[0].SrcPort]
			default:
				m := mix{dst: make([]float32, frames)}
				for _, f := range feeds {
					src := &s.steps[index[f.Src]]
					m.srcs = append(m.srcs, src.outFull[f.SrcPort])
				}
				st.mixes = append(st.mixes, m)
				st.inFull[p] = m.dst
			}
		}
		st.ins = make([][]float32, len(st.inFull))
		st.outs = make([][]float32, len(st.outFull))
		if st.e.id == g.out {
			s.out = st
		}
	}
	return s
}

// topoOrder sorts nodes so that every node follows its sources. Ties are
// broken by ID. Nodes left on a cycle are appended in ID order; their
// feedback inputs then read the previous block.
func topoOrder(g *Graph) []NodeID {
	indeg := make(map[NodeID]int, len(g.nodes))
	deps := make(map[NodeID][]NodeID)
	seen := make(map[[2]NodeID]bool)
	for id := range g.nodes {
		indeg[id] = 0
	}
	for e := range g.edges {
		if e.Src == e.Dst {
			continue
		}
		key := [2]NodeID{e.Src, e.Dst}
		if seen[key] {
			continue
		}
		seen[key] = true
		indeg[e.Dst]++
		deps[e.Src] = append(deps[e.Src], e.Dst)
	}

	var ready []NodeID
	for id, n := range indeg {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	order := make([]NodeID, 0, len(g.nodes))
	placed := make(map[NodeID]bool, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		placed[id] = true
		for _, next := range deps[id] {
			indeg[next]--
			if indeg[next] == 0 {
				i, _ := slices.BinarySearch(ready, next)
				ready = slices.Insert(ready, i, next)
			}
		}
	}

	if len(order) < len(g.nodes) {
		for _, id := range g.Nodes() {
			if !placed[id] {
				order = append(order, id)
			}
		}
	}
	return order
}

// Version increases with every commit that changed the topology.
func (s *Schedule) Version() uint64 { return s.version }

// MaxFrames is the largest block Process accepts.
func (s *Schedule) MaxFrames() int { return s.maxFrames }

// Order returns the processing order.
func (s *Schedule) Order() []NodeID {
	ids := make([]NodeID, len(s.steps))
	for i := range s.steps {
		ids[i] = s.steps[i].e.id
	}
	return ids
}

// Process runs every processor once for a block of frames (at most
// MaxFrames). A processor that panics is silenced for the rest of its
// lifetime. The first node that faulted during this call is returned, or 0.
func (s *Schedule) Process(frames int, info node.ProcInfo) NodeID {
	if frames > s.maxFrames {
		frames = s.maxFrames
	}
	var faulted NodeID
	for i := range s.steps {
		st := &s.steps[i]
		for _, m := range st.mixes {
			dst := m.dst[:frames]
			copy(dst, m.srcs[0][:frames])
			for _, src := range m.srcs[1:] {
				for j := range dst {
					dst[j] += src[j]
				}
			}
		}
		if st.proc == nil {
			continue
		}
		for j := range st.ins {
			st.ins[j] = st.inFull[j][:frames]
		}
		for j := range st.outs {
			st.outs[j] = st.outFull[j][:frames]
		}
		if st.e.faulted.Load() {
			for _, o := range st.outs {
				clear(o)
			}
			continue
		}
		if !st.run(frames, info) && faulted == 0 {
			faulted = st.e.id
		}
	}
	return faulted
}

func (st *step) run(frames int, info node.ProcInfo) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			st.e.faulted.Store(true)
			for _, o := range st.outs {
				clear(o)
			}
			ok = false
		}
	}()
	st.proc.Process(frames, st.ins, st.outs, info)
	return true
}

// Output returns the signal reaching input port ch of the graph output
// node during the last Process call.
func (s *Schedule) Output(ch, frames int) []float32 {
	if s.out == nil || ch < 0 || ch >= len(s.out.inFull) {
		return s.zero[:min(frames, s.maxFrames)]
	}
	return s.out.inFull[ch][:min(frames, s.maxFrames)]
}

// Interleave writes the last processed block into dst as interleaved
// frames of the given channel count. Samples are clamped to [-1, 1] and
// NaNs become silence.
func (s *Schedule) Interleave(dst []float32, frames, channels int) {
	frames = min(frames, s.maxFrames)
	for ch := 0; ch < channels; ch++ {
		src := s.Output(ch, frames)
		for f := 0; f < frames; f++ {
			v := src[f]
			switch {
			case v != v:
				v = 0
			case v > 1:
				v = 1
			case v < -1:
				v = -1
			}
			dst[f*channels+ch] = v
		}
	}
}
