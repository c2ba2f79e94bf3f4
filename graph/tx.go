// tx.go - All-or-nothing graph edits

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

import "github.com/intuitionamiga/audiobridge/node"

// Tx is an edit session opened by Graph.Transact. Every edit made through it
// is recorded so that a failing transaction can be undone as a whole.
type Tx struct {
	g    *Graph
	undo []func()
	done bool
}

// Transact runs fn with exclusive edit access. If fn returns an error or
// panics, every edit it made is reverted in reverse order and the error (or
// panic) is passed on. Nothing is published until the next Commit.
func (g *Graph) Transact(fn func(tx *Tx) error) error {
	if g.inTx {
		panic("graph: nested transaction")
	}
	g.inTx = true
	tx := &Tx{g: g}

	panicked := true
	defer func() {
		if panicked {
			tx.rollback()
		}
		g.inTx = false
		tx.done = true
	}()

	err := fn(tx)
	panicked = false
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.g.dirty = true
}

func (tx *Tx) check() {
	if tx.done {
		panic("graph: transaction used after it finished")
	}
}

// Config returns the graph configuration.
func (tx *Tx) Config() Config { return tx.g.cfg }

// Ports returns the port counts of a live node.
func (tx *Tx) Ports(id NodeID) (numInputs, numOutputs int, ok bool) { return tx.g.Ports(id) }

// Node returns the node value behind id.
func (tx *Tx) Node(id NodeID) (node.Node, bool) { return tx.g.Node(id) }

// Edges returns the current edges, sorted.
func (tx *Tx) Edges() []Edge { return tx.g.Edges() }

func (tx *Tx) NumNodes() int { return tx.g.NumNodes() }

// GraphInNode returns the graph input node.
func (tx *Tx) GraphInNode() NodeID { return tx.g.in }

// GraphOutNode returns the graph output node.
func (tx *Tx) GraphOutNode() NodeID { return tx.g.out }

// Contains reports whether id is a live node.
func (tx *Tx) Contains(id NodeID) bool { return tx.g.Contains(id) }

// AddNode is Graph.AddNode, undone on rollback.
func (tx *Tx) AddNode(numInputs, numOutputs int, n node.Node) (NodeID, error) {
	tx.check()
	id, err := tx.g.addNode(numInputs, numOutputs, n)
	if err != nil {
		return 0, err
	}
	tx.undo = append(tx.undo, func() {
		tx.g.disconnectAll(id)
		delete(tx.g.nodes, id)
	})
	return id, nil
}

// Connect is Graph.Connect, undone on rollback.
func (tx *Tx) Connect(src NodeID, srcPort int, dst NodeID, dstPort int, allowCycle bool) error {
	tx.check()
	if err := tx.g.connect(src, srcPort, dst, dstPort, allowCycle); err != nil {
		return err
	}
	edge := Edge{Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort}
	tx.undo = append(tx.undo, func() {
		delete(tx.g.edges, edge)
	})
	return nil
}

// Disconnect is Graph.Disconnect, undone on rollback.
func (tx *Tx) Disconnect(src NodeID, srcPort int, dst NodeID, dstPort int) bool {
	tx.check()
	if !tx.g.disconnect(src, srcPort, dst, dstPort) {
		return false
	}
	edge := Edge{Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort}
	tx.undo = append(tx.undo, func() {
		tx.g.edges[edge] = struct{}{}
	})
	return true
}

// DisconnectAll is Graph.DisconnectAll, undone on rollback.
func (tx *Tx) DisconnectAll(id NodeID) []Edge {
	tx.check()
	removed := tx.g.disconnectAll(id)
	if len(removed) > 0 {
		tx.undo = append(tx.undo, func() {
			for _, e := range removed {
				tx.g.edges[e] = struct{}{}
			}
		})
	}
	return removed
}

// RemoveNode is Graph.RemoveNode, undone on rollback. A rolled back removal
// restores the node under the same ID with its processor state intact.
func (tx *Tx) RemoveNode(id NodeID) error {
	tx.check()
	e, edges, err := tx.g.remove(id)
	if err != nil {
		return err
	}
	tx.undo = append(tx.undo, func() {
		tx.g.nodes[id] = e
		for _, edge := range edges {
			tx.g.edges[edge] = struct{}{}
		}
	})
	return nil
}
