// bridge.go - Tracks which graph node belongs to which entity

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

// Package bridge connects a frame-based control scheduler to the audio
// engine.
//
// The scheduler reports, per tracked component type, three signals: an
// entity gained the component, lost it, or the component changed. A
// Bridge turns gained and lost into deferred graph mutations and keeps the
// entity-to-node map. Changes are handed to the component, which normally
// writes parameter cells directly and only enqueues a mutation when the
// topology itself has to change.
//
// Mutations are applied once per frame by Queue.Apply, while the engine is
// checked out of its Slot. Runtime ties the pieces together.
package bridge

import (
	"errors"
	"fmt"

	"github.com/intuitionamiga/audiobridge/graph"
)

// Entity is the scheduler's opaque entity reference.
type Entity uint64

type SignalKind int

const (
	Added SignalKind = iota
	Removed
	Changed
)

func (k SignalKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	default:
		return fmt.Sprintf("SignalKind(%d)", int(k))
	}
}

// Signal is one change notification for a tracked component. Component is
// the component's current value; for Removed it is the last value the
// entity had.
type Signal[C any] struct {
	Kind      SignalKind
	Entity    Entity
	Component C
}

// Mailbox is the scheduler side: it hands out the signals raised since the
// last Drain, in the order they happened.
type Mailbox[C any] interface {
	Drain() []Signal[C]
}

// NodeComponent is a component that owns one graph node.
type NodeComponent interface {
	// CreateNode adds the node (and usually its connections) and returns
	// its ID. It runs during Queue.Apply with exclusive graph access.
	CreateNode(tx *graph.Tx) (graph.NodeID, error)
}

// NodeRemover overrides the default removal, which is tx.RemoveNode(id).
type NodeRemover interface {
	RemoveNode(tx *graph.Tx, id graph.NodeID) error
}

// ChangeHandler reacts to Changed signals for entities with a live node.
// It runs on the control side during Pump; writing parameter cells from
// here needs no mutation.
type ChangeHandler interface {
	NodeChanged(id graph.NodeID, ch *Change)
}

// ErrNoNode is returned by per-entity mutations whose entity no longer has a
// node when the mutation runs.
var ErrNoNode = errors.New("entity has no node")

// ConsistencyError means the scheduler broke the signal contract: a lost
// without a gained, or a gained twice. It is raised as a panic.
type ConsistencyError struct {
	Component string
	Entity    Entity
	Signal    SignalKind
}

func (e *ConsistencyError) Error() string {
	switch e.Signal {
	case Removed:
		return fmt.Sprintf("bridge %s: entity %d lost the component but has no node", e.Component, e.Entity)
	case Added:
		return fmt.Sprintf("bridge %s: entity %d gained the component again without losing it", e.Component, e.Entity)
	default:
		return fmt.Sprintf("bridge %s: inconsistent %v signal for entity %d", e.Component, e.Signal, e.Entity)
	}
}

// Bridge keeps the entity-to-node map for one component type. A mapping
// exists exactly while the entity's node is in the graph.
type Bridge[C NodeComponent] struct {
	name  string
	queue *Queue
	nodes map[Entity]graph.NodeID
	// failed holds entities whose CreateNode returned an error; their lost
	// signal has nothing to remove.
	failed map[Entity]struct{}
}

// New creates a bridge that enqueues its mutations on q.
func New[C NodeComponent](name string, q *Queue) *Bridge[C] {
	return &Bridge[C]{
		name:   name,
		queue:  q,
		nodes:  make(map[Entity]graph.NodeID),
		failed: make(map[Entity]struct{}),
	}
}

func (b *Bridge[C]) Name() string { return b.name }

// Node returns the node of e, if it has one.
func (b *Bridge[C]) Node(e Entity) (graph.NodeID, bool) {
	id, ok := b.nodes[e]
	return id, ok
}

// Len is the number of entities with a live node.
func (b *Bridge[C]) Len() int { return len(b.nodes) }

// Pump observes every signal in mb and returns how many there were.
func (b *Bridge[C]) Pump(mb Mailbox[C]) int {
	sigs := mb.Drain()
	for _, s := range sigs {
		b.Observe(s)
	}
	return len(sigs)
}

// Observe handles one signal. Added and Removed return the ticket of the
// mutation they enqueued. Changed returns nil.
func (b *Bridge[C]) Observe(s Signal[C]) *Ticket {
	switch s.Kind {
	case Added:
		return b.enqueueCreate(s.Entity, s.Component)
	case Removed:
		return b.enqueueRemove(s.Entity, s.Component)
	case Changed:
		b.changed(s.Entity, s.Component)
		return nil
	default:
		panic(fmt.Sprintf("bridge %s: unknown signal kind %v", b.name, s.Kind))
	}
}

func (b *Bridge[C]) enqueueCreate(e Entity, c C) *Ticket {
	label := fmt.Sprintf("%s: create node for entity %d", b.name, e)
	return b.queue.Enqueue(label, func(tx *graph.Tx) error {
		_, dup := b.nodes[e]
		_, failed := b.failed[e]
		if dup || failed {
			panic(&ConsistencyError{Component: b.name, Entity: e, Signal: Added})
		}
		id, err := c.CreateNode(tx)
		if err != nil {
			b.failed[e] = struct{}{}
			return err
		}
		b.nodes[e] = id
		return nil
	})
}

func (b *Bridge[C]) enqueueRemove(e Entity, c C) *Ticket {
	label := fmt.Sprintf("%s: remove node of entity %d", b.name, e)
	return b.queue.Enqueue(label, func(tx *graph.Tx) error {
		id, ok := b.nodes[e]
		if !ok {
			if _, failed := b.failed[e]; failed {
				delete(b.failed, e)
				return nil
			}
			panic(&ConsistencyError{Component: b.name, Entity: e, Signal: Removed})
		}
		if err := removeNode(tx, c, id); err != nil {
			return err
		}
		delete(b.nodes, e)
		return nil
	})
}

func removeNode(tx *graph.Tx, c any, id graph.NodeID) error {
	if r, ok := c.(NodeRemover); ok {
		return r.RemoveNode(tx, id)
	}
	return tx.RemoveNode(id)
}

func (b *Bridge[C]) changed(e Entity, c C) {
	h, ok := any(c).(ChangeHandler)
	if !ok {
		return
	}
	id, ok := b.nodes[e]
	if !ok {
		// Not created yet; CreateNode will read the current values.
		return
	}
	h.NodeChanged(id, &Change{
		entity: e,
		enqueue: func(label string, fn func(*graph.Tx, graph.NodeID) error) *Ticket {
			return b.Enqueue(e, label, fn)
		},
		rebuild: func() *Ticket { return b.enqueueRebuild(e, c) },
	})
}

// enqueueRebuild replaces e's node in one transaction. If either half fails
// the old node stays.
func (b *Bridge[C]) enqueueRebuild(e Entity, c C) *Ticket {
	label := fmt.Sprintf("%s: rebuild node of entity %d", b.name, e)
	return b.queue.Enqueue(label, func(tx *graph.Tx) error {
		old, ok := b.nodes[e]
		if !ok {
			return fmt.Errorf("entity %d: %w", e, ErrNoNode)
		}
		if err := removeNode(tx, c, old); err != nil {
			return err
		}
		id, err := c.CreateNode(tx)
		if err != nil {
			return err
		}
		b.nodes[e] = id
		return nil
	})
}

// Enqueue defers a mutation against e's node. The node is looked up when
// the mutation runs; if e has no node by then the mutation fails with
// ErrNoNode.
func (b *Bridge[C]) Enqueue(e Entity, label string, fn func(tx *graph.Tx, id graph.NodeID) error) *Ticket {
	return b.queue.Enqueue(fmt.Sprintf("%s: %s (entity %d)", b.name, label, e), func(tx *graph.Tx) error {
		id, ok := b.nodes[e]
		if !ok || !tx.Contains(id) {
			return fmt.Errorf("entity %d: %w", e, ErrNoNode)
		}
		return fn(tx, id)
	})
}

// Change is passed to ChangeHandler.NodeChanged for changes that need more
// than a parameter write.
type Change struct {
	entity  Entity
	enqueue func(string, func(*graph.Tx, graph.NodeID) error) *Ticket
	rebuild func() *Ticket
}

func (c *Change) Entity() Entity { return c.entity }

// Enqueue defers a topology edit against the entity's node.
func (c *Change) Enqueue(label string, fn func(tx *graph.Tx, id graph.NodeID) error) *Ticket {
	return c.enqueue(label, fn)
}

// Rebuild replaces the node with a fresh one from CreateNode, for changes
// such as a different port count. The entity keeps its mapping if the
// rebuild fails.
func (c *Change) Rebuild() *Ticket {
	return c.rebuild()
}
