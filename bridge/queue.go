// queue.go - Graph mutations deferred to the end of the frame

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
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/intuitionamiga/audiobridge/graph"
	"github.com/intuitionamiga/audiobridge/metrics"
)

// Mutation is a structural graph edit. It runs inside its own transaction:
// returning an error undoes everything it did.
type Mutation func(tx *graph.Tx) error

// Strategy selects how a batch of mutations gets exclusive access to the
// topology while the engine is active.
type Strategy int

const (
	// Borrow edits the graph while the stream keeps running. The renderer
	// only sees the schedule published after the whole batch.
	Borrow Strategy = iota
	// Restart deactivates the engine, edits, and reactivates on the same
	// device. The stream is silent in between.
	Restart
)

func (s Strategy) String() string {
	switch s {
	case Borrow:
		return "borrow"
	case Restart:
		return "restart"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses "borrow" or "restart".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "borrow":
		return Borrow, nil
	case "restart":
		return Restart, nil
	default:
		return 0, fmt.Errorf("unknown mutation strategy %q", s)
	}
}

// Ticket reports the outcome of one enqueued mutation.
type Ticket struct {
	label string
	done  bool
	err   error
}

func (t *Ticket) Label() string { return t.label }

// Done reports whether the mutation has run.
func (t *Ticket) Done() bool { return t.done }

// Err is the mutation's error once Done.
func (t *Ticket) Err() error { return t.err }

type pending struct {
	fn     Mutation
	ticket *Ticket
}

// Queue collects mutations during a frame and applies them as one batch.
type Queue struct {
	pending []pending
	opts    options
}

func NewQueue(opts ...Option) *Queue {
	return &Queue{opts: newOptions(opts)}
}

// Enqueue defers m to the next Apply. Mutations run in the order they were
// enqueued.
func (q *Queue) Enqueue(label string, m Mutation) *Ticket {
	t := &Ticket{label: label}
	q.pending = append(q.pending, pending{fn: m, ticket: t})
	return t
}

// Len returns the number of mutations waiting.
func (q *Queue) Len() int { return len(q.pending) }

func (q *Queue) Strategy() Strategy { return q.opts.strategy }

// Apply checks the engine out of slot, runs every pending mutation and
// checks the engine back in. A failing mutation is undone on its own and
// does not stop the batch. The schedule is published once, after the last
// mutation, so the renderer never sees part of a batch. The returned error
// joins the failures.
//
// Mutations enqueued while Apply runs wait for the next call.
func (q *Queue) Apply(slot *Slot) (err error) {
	if len(q.pending) == 0 {
		return nil
	}
	batch := q.pending
	q.pending = nil

	h := slot.CheckOut()
	defer func() { slot.CheckIn(h) }()

	if h.Active == nil || q.opts.strategy != Restart {
		return errors.Join(q.run(h.Graph(), batch)...)
	}

	old := h.Active
	device := old.Device()
	in := old.Deactivate()
	h = Handle{Inactive: in}
	// Reactivate even when a mutation panics, so both strategies leave
	// the engine in the state they found it.
	defer func() {
		a, aerr := in.Activate(device, true)
		if aerr != nil {
			q.opts.log.Error().Err(aerr).Str("device", device).Msg("could not reactivate audio engine after graph edit")
			err = errors.Join(err, aerr)
			return
		}
		h = Handle{Active: a}
	}()
	errs := append([]error{old.GraphErr()}, q.run(in.Graph(), batch)...)
	return errors.Join(errs...)
}

func (q *Queue) run(g *graph.Graph, batch []pending) []error {
	var errs []error
	for _, p := range batch {
		err := g.Transact(p.fn)
		p.ticket.done = true
		p.ticket.err = err
		q.opts.metrics.RecordMutation(err)
		if err != nil {
			q.opts.log.Error().Err(err).Str("mutation", p.ticket.label).Msg("graph mutation failed")
			errs = append(errs, fmt.Errorf("%s: %w", p.ticket.label, err))
		}
	}
	g.Commit()
	q.opts.metrics.SetGraphNodes(g.NumNodes())
	return errs
}

type Option func(*options)

type options struct {
	log      zerolog.Logger
	metrics  *metrics.Metrics
	strategy Strategy
}

func newOptions(opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStrategy selects the mutation strategy. The default is Borrow.
func WithStrategy(s Strategy) Option {
	return func(o *options) { o.strategy = s }
}
