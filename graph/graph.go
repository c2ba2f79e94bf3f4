// graph.go - Audio graph topology owned by the control side

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

// Package graph holds the audio processing topology: nodes, their port
// counts and the port-to-port edges between them.
//
// A Graph is owned by the control side and is not safe for concurrent use.
// The real-time thread never reads it directly. Commit compiles the current
// topology into an immutable Schedule and publishes it atomically; the
// renderer loads the published Schedule once per block, so it only ever sees
// a complete topology.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/intuitionamiga/audiobridge/node"
)

// ErrReservedNode is returned when removing the graph input or output node.
var ErrReservedNode = errors.New("graph input/output node cannot be removed")

// NodeID identifies a node for as long as it exists. IDs are handed out in
// increasing order and never reused.
type NodeID uint64

func (id NodeID) String() string {
	return fmt.Sprintf("node#%d", uint64(id))
}

// Config fixes the rate and channel layout of a graph.
type Config struct {
	SampleRate     uint32
	MaxBlockFrames int
	NumInputs      int // outputs of the graph input node
	NumOutputs     int // inputs of the graph output node
}

// Edge connects an output port of Src to an input port of Dst.
type Edge struct {
	Src     NodeID
	SrcPort int
	Dst     NodeID
	DstPort int
}

func (e Edge) String() string {
	return fmt.Sprintf("%v:%d -> %v:%d", e.Src, e.SrcPort, e.Dst, e.DstPort)
}

type entry struct {
	id        NodeID
	node      node.Node
	proc      node.Processor // nil for the graph input/output nodes
	numIn     int
	numOut    int
	debugName string
	faulted   *atomic.Bool // shared by every schedule that contains the node
}

// Graph is the editable topology.
type Graph struct {
	cfg      Config
	nextID   NodeID
	nodes    map[NodeID]*entry
	edges    map[Edge]struct{}
	in, out  NodeID
	dirty    bool
	version  uint64
	inTx     bool
	schedule atomic.Pointer[Schedule]
}

// New creates a graph containing only its input and output nodes.
func New(cfg Config) *Graph {
	g := &Graph{
		cfg:   cfg,
		nodes: make(map[NodeID]*entry),
		edges: make(map[Edge]struct{}),
		dirty: true,
	}
	g.in = g.insert(&entry{numOut: cfg.NumInputs, debugName: "graph_in"})
	g.out = g.insert(&entry{numIn: cfg.NumOutputs, debugName: "graph_out"})
	return g
}

func (g *Graph) insert(e *entry) NodeID {
	g.nextID++
	e.id = g.nextID
	if e.faulted == nil {
		e.faulted = new(atomic.Bool)
	}
	g.nodes[e.id] = e
	g.dirty = true
	return e.id
}

// Config returns the graph configuration.
func (g *Graph) Config() Config { return g.cfg }

// GraphInNode returns the node whose outputs carry the device input.
func (g *Graph) GraphInNode() NodeID { return g.in }

// GraphOutNode returns the node whose inputs are sent to the device.
func (g *Graph) GraphOutNode() NodeID { return g.out }

// Contains reports whether id is a live node.
func (g *Graph) Contains(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// NumNodes counts the nodes added with AddNode. The graph input and output
// nodes are not included.
func (g *Graph) NumNodes() int {
	return len(g.nodes) - 2
}

// Node returns the node registered under id.
func (g *Graph) Node(id NodeID) (node.Node, bool) {
	e, ok := g.nodes[id]
	if !ok || e.node == nil {
		return nil, false
	}
	return e.node, true
}

// Ports returns the port counts of a node.
func (g *Graph) Ports(id NodeID) (numInputs, numOutputs int, ok bool) {
	e, ok := g.nodes[id]
	if !ok {
		return 0, 0, false
	}
	return e.numIn, e.numOut, true
}

// Faulted reports whether a node's processor panicked and was silenced.
func (g *Graph) Faulted(id NodeID) bool {
	e, ok := g.nodes[id]
	return ok && e.faulted.Load()
}

// Nodes returns the live node IDs in ascending order, including the graph
// input and output nodes.
func (g *Graph) Nodes() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Edges returns every edge in a stable order.
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		edges = append(edges, e)
	}
	slices.SortFunc(edges, compareEdges)
	return edges
}

func compareEdges(a, b Edge) int {
	switch {
	case a.Src != b.Src:
		return cmpID(a.Src, b.Src)
	case a.SrcPort != b.SrcPort:
		return a.SrcPort - b.SrcPort
	case a.Dst != b.Dst:
		return cmpID(a.Dst, b.Dst)
	default:
		return a.DstPort - b.DstPort
	}
}

func cmpID(a, b NodeID) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Dirty reports whether there are edits that have not been committed.
func (g *Graph) Dirty() bool { return g.dirty }

// AddNode activates n with the given port counts and inserts it.
// On error the node is not inserted.
func (g *Graph) AddNode(numInputs, numOutputs int, n node.Node) (NodeID, error) {
	g.outsideTx()
	return g.addNode(numInputs, numOutputs, n)
}

// outsideTx panics when an edit bypasses the open transaction, which would
// leave it out of the undo log.
func (g *Graph) outsideTx() {
	if g.inTx {
		panic("graph: edit outside the open transaction")
	}
}

func (g *Graph) addNode(numInputs, numOutputs int, n node.Node) (NodeID, error) {
	e, err := g.activate(numInputs, numOutputs, n)
	if err != nil {
		return 0, err
	}
	return g.insert(e), nil
}

func (g *Graph) activate(numInputs, numOutputs int, n node.Node) (*entry, error) {
	info := n.Info()
	if err := info.Check(numInputs, numOutputs); err != nil {
		return nil, &node.ActivationError{Node: info.DebugName, Err: err}
	}
	proc, err := n.Activate(g.cfg.SampleRate, numInputs, numOutputs)
	if err != nil {
		return nil, &node.ActivationError{Node: info.DebugName, Err: err}
	}
	if proc == nil {
		return nil, &node.ActivationError{Node: info.DebugName, Err: errors.New("nil processor")}
	}
	return &entry{
		node:      n,
		proc:      proc,
		numIn:     numInputs,
		numOut:    numOutputs,
		debugName: info.DebugName,
	}, nil
}

// Connect adds an edge. Several edges may feed the same input port; their
// signals are summed. Unless allowCycle is set, an edge that would close a
// cycle is refused.
func (g *Graph) Connect(src NodeID, srcPort int, dst NodeID, dstPort int, allowCycle bool) error {
	g.outsideTx()
	return g.connect(src, srcPort, dst, dstPort, allowCycle)
}

func (g *Graph) connect(src NodeID, srcPort int, dst NodeID, dstPort int, allowCycle bool) error {
	edge := Edge{Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort}
	if err := g.checkEdge(edge, allowCycle); err != nil {
		return err
	}
	g.edges[edge] = struct{}{}
	g.dirty = true
	return nil
}

func (g *Graph) checkEdge(edge Edge, allowCycle bool) error {
	s, ok := g.nodes[edge.Src]
	if !ok {
		return &ConnectError{Kind: NodeNotFound, Edge: edge, Node: edge.Src}
	}
	d, ok := g.nodes[edge.Dst]
	if !ok {
		return &ConnectError{Kind: NodeNotFound, Edge: edge, Node: edge.Dst}
	}
	if edge.SrcPort < 0 || edge.SrcPort >= s.numOut {
		return &ConnectError{Kind: PortOutOfRange, Edge: edge, Node: edge.Src}
	}
	if edge.DstPort < 0 || edge.DstPort >= d.numIn {
		return &ConnectError{Kind: PortOutOfRange, Edge: edge, Node: edge.Dst}
	}
	if _, dup := g.edges[edge]; dup {
		return &ConnectError{Kind: AlreadyConnected, Edge: edge}
	}
	if !allowCycle && (edge.Src == edge.Dst || g.reaches(edge.Dst, edge.Src)) {
		return &ConnectError{Kind: Cycle, Edge: edge}
	}
	return nil
}

// reaches reports whether to is reachable from from along existing edges.
func (g *Graph) reaches(from, to NodeID) bool {
	adj := make(map[NodeID][]NodeID)
	for e := range g.edges {
		adj[e.Src] = append(adj[e.Src], e.Dst)
	}
	seen := map[NodeID]bool{from: true}
	stack := []NodeID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Disconnect removes an edge and reports whether it existed.
func (g *Graph) Disconnect(src NodeID, srcPort int, dst NodeID, dstPort int) bool {
	g.outsideTx()
	return g.disconnect(src, srcPort, dst, dstPort)
}

func (g *Graph) disconnect(src NodeID, srcPort int, dst NodeID, dstPort int) bool {
	edge := Edge{Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort}
	if _, ok := g.edges[edge]; !ok {
		return false
	}
	delete(g.edges, edge)
	g.dirty = true
	return true
}

// DisconnectAll removes every edge touching id and returns them.
func (g *Graph) DisconnectAll(id NodeID) []Edge {
	g.outsideTx()
	return g.disconnectAll(id)
}

func (g *Graph) disconnectAll(id NodeID) []Edge {
	var removed []Edge
	for e := range g.edges {
		if e.Src == id || e.Dst == id {
			removed = append(removed, e)
		}
	}
	for _, e := range removed {
		delete(g.edges, e)
	}
	if len(removed) > 0 {
		g.dirty = true
	}
	slices.SortFunc(removed, compareEdges)
	return removed
}

// RemoveNode removes a node together with its edges. The ID is never handed
// out again.
func (g *Graph) RemoveNode(id NodeID) error {
	g.outsideTx()
	_, _, err := g.remove(id)
	return err
}

func (g *Graph) remove(id NodeID) (*entry, []Edge, error) {
	if id == g.in || id == g.out {
		return nil, nil, fmt.Errorf("remove %v: %w", id, ErrReservedNode)
	}
	e, ok := g.nodes[id]
	if !ok {
		return nil, nil, &NotFoundError{ID: id}
	}
	edges := g.disconnectAll(id)
	delete(g.nodes, id)
	g.dirty = true
	return e, edges, nil
}

// Commit compiles the topology and publishes it to the renderer if anything
// changed since the last commit. It returns the published schedule.
func (g *Graph) Commit() *Schedule {
	g.outsideTx()
	if !g.dirty {
		if s := g.schedule.Load(); s != nil {
			return s
		}
	}
	g.version++
	s := compile(g)
	g.schedule.Store(s)
	g.dirty = false
	return s
}

// Schedule returns the last published schedule, or nil before the first
// Commit. It is the only Graph method safe to call from the real-time thread.
func (g *Graph) Schedule() *Schedule {
	return g.schedule.Load()
}
