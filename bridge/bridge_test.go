package bridge

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitionamiga/audiobridge/engine"
	"github.com/intuitionamiga/audiobridge/graph"
	"github.com/intuitionamiga/audiobridge/node"
)

type mailbox[C any] struct {
	sigs []Signal[C]
}

func (m *mailbox[C]) push(kind SignalKind, e Entity, c C) {
	m.sigs = append(m.sigs, Signal[C]{Kind: kind, Entity: e, Component: c})
}

func (m *mailbox[C]) Drain() []Signal[C] {
	s := m.sigs
	m.sigs = nil
	return s
}

// beepComp is a stereo beep: one node feeding both output channels.
type beepComp struct {
	Amplitude float32
	Frequency float32
	Rebuild   bool

	node    *node.Beep
	removed int
}

func (c *beepComp) CreateNode(tx *graph.Tx) (graph.NodeID, error) {
	n := node.NewBeep(c.Amplitude, c.Frequency)
	id, err := tx.AddNode(0, 1, n)
	if err != nil {
		return 0, err
	}
	out := tx.GraphOutNode()
	if err := tx.Connect(id, 0, out, 0, false); err != nil {
		return 0, err
	}
	if err := tx.Connect(id, 0, out, 1, false); err != nil {
		return 0, err
	}
	c.node = n
	return id, nil
}

func (c *beepComp) NodeChanged(_ graph.NodeID, ch *Change) {
	if c.Rebuild {
		c.Rebuild = false
		ch.Rebuild()
		return
	}
	c.node.Amplitude.Store(c.Amplitude)
	c.node.Frequency.Store(c.Frequency)
}

func (c *beepComp) RemoveNode(tx *graph.Tx, id graph.NodeID) error {
	c.removed++
	return tx.RemoveNode(id)
}

// brokenComp never gets a node.
type brokenComp struct{}

func (brokenComp) CreateNode(tx *graph.Tx) (graph.NodeID, error) {
	return tx.AddNode(3, 3, node.NewBeep(1, 1))
}

// faultNode panics on its first block.
type faultNode struct{}

func (faultNode) Info() node.Info {
	return node.Info{DebugName: "faulty", MinOutputs: 1, MaxOutputs: 1}
}

func (f faultNode) Activate(uint32, int, int) (node.Processor, error) { return f, nil }

func (faultNode) Process(int, [][]float32, [][]float32, node.ProcInfo) { panic("boom") }

func addFault(tx *graph.Tx) error {
	id, err := tx.AddNode(0, 1, faultNode{})
	if err != nil {
		return err
	}
	return tx.Connect(id, 0, tx.GraphOutNode(), 0, false)
}

func newRuntime(t *testing.T, drv *engine.NullDriver, opts ...Option) *Runtime {
	t.Helper()
	e := engine.New(engine.Config{SampleRate: 48000, MaxBlockFrames: 64, NumOutputs: 2}, drv)
	return NewRuntime(e, opts...)
}

func graphOf(rt *Runtime) (nodes int, edges []graph.Edge, out graph.NodeID) {
	rt.Inspect(func(g *graph.Graph) {
		nodes = g.NumNodes()
		edges = g.Edges()
		out = g.GraphOutNode()
	})
	return
}

func catchPanic(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}

func TestBeepLifecycle(t *testing.T) {
	drv := &engine.NullDriver{}
	rt := newRuntime(t, drv)
	mb := &mailbox[*beepComp]{}
	b := Track[*beepComp](rt, "beep", mb)
	require.NoError(t, rt.Start(""))

	const e Entity = 7
	c := &beepComp{Amplitude: 0, Frequency: 440}
	mb.push(Added, e, c)
	require.NoError(t, rt.Frame())

	id, ok := b.Node(e)
	require.True(t, ok)
	assert.Equal(t, 1, b.Len())
	nodes, edges, out := graphOf(rt)
	assert.Equal(t, 1, nodes)
	assert.Empty(t, cmp.Diff([]graph.Edge{
		{Src: id, SrcPort: 0, Dst: out, DstPort: 0},
		{Src: id, SrcPort: 0, Dst: out, DstPort: 1},
	}, edges))

	assert.Equal(t, make([]float32, 128), drv.Last().Pull(64), "amplitude 0 is silent")

	c.Amplitude = 1
	mb.push(Changed, e, c)
	b.Pump(mb)
	assert.Equal(t, 0, rt.Queue().Len(), "a parameter change enqueues no mutation")
	assert.Equal(t, float32(1), c.node.Amplitude.Load())

	block := drv.Last().Pull(64)
	var peak float32
	for i := 0; i < 64; i++ {
		assert.Equal(t, block[2*i], block[2*i+1], "both channels carry the beep")
		peak = max(peak, block[2*i], -block[2*i])
	}
	assert.Greater(t, peak, float32(0.9))

	require.NoError(t, rt.Frame())
	nodes, _, _ = graphOf(rt)
	assert.Equal(t, 1, nodes, "node count unchanged by a parameter change")

	mb.push(Removed, e, c)
	require.NoError(t, rt.Frame())
	_, ok = b.Node(e)
	assert.False(t, ok)
	assert.Equal(t, 1, c.removed)
	nodes, edges, _ = graphOf(rt)
	assert.Equal(t, 0, nodes)
	assert.Empty(t, edges)

	mb.push(Removed, e, c)
	v := catchPanic(func() { _ = rt.Frame() })
	ce, ok := v.(*ConsistencyError)
	require.True(t, ok, "second lost signal panics with ConsistencyError, got %v", v)
	assert.Equal(t, e, ce.Entity)
	assert.Equal(t, Removed, ce.Signal)

	assert.NotPanics(t, func() { _ = rt.Frame() }, "engine was returned to its slot")
	assert.True(t, rt.Active())
}

func TestAddAndRemoveInSameFrame(t *testing.T) {
	rt := newRuntime(t, &engine.NullDriver{})
	mb := &mailbox[*beepComp]{}
	b := Track[*beepComp](rt, "beep", mb)

	c := &beepComp{Amplitude: 1, Frequency: 220}
	mb.push(Added, 1, c)
	mb.push(Removed, 1, c)
	require.NoError(t, rt.Frame())
	assert.Equal(t, 0, b.Len())
	nodes, _, _ := graphOf(rt)
	assert.Equal(t, 0, nodes)
}

func TestDuplicateAddPanics(t *testing.T) {
	rt := newRuntime(t, &engine.NullDriver{})
	mb := &mailbox[*beepComp]{}
	Track[*beepComp](rt, "beep", mb)

	mb.push(Added, 1, &beepComp{})
	mb.push(Added, 1, &beepComp{})
	v := catchPanic(func() { _ = rt.Frame() })
	ce, ok := v.(*ConsistencyError)
	require.True(t, ok)
	assert.Equal(t, Added, ce.Signal)
	assert.Contains(t, ce.Error(), "gained the component again")
}

func TestMapSizeTracksGainedEntities(t *testing.T) {
	rt := newRuntime(t, &engine.NullDriver{})
	mb := &mailbox[*beepComp]{}
	b := Track[*beepComp](rt, "beep", mb)
	require.NoError(t, rt.Start(""))

	rng := rand.New(rand.NewPCG(1, 2))
	alive := map[Entity]*beepComp{}
	ids := map[Entity]graph.NodeID{}
	retired := map[graph.NodeID]bool{}

	for step := 0; step < 400; step++ {
		e := Entity(rng.IntN(16))
		if c, ok := alive[e]; ok {
			mb.push(Removed, e, c)
			delete(alive, e)
		} else {
			c := &beepComp{Amplitude: 0.1, Frequency: 100}
			alive[e] = c
			mb.push(Added, e, c)
		}
		if rng.IntN(4) != 0 {
			continue
		}
		require.NoError(t, rt.Frame())
		require.Equal(t, len(alive), b.Len())

		for e, id := range ids {
			if now, ok := b.Node(e); !ok || now != id {
				retired[id] = true
				delete(ids, e)
			}
		}
		for e := range alive {
			id, ok := b.Node(e)
			require.True(t, ok)
			require.False(t, retired[id], "removed node id %v handed out again", id)
			ids[e] = id
		}
	}
}

func TestBatchFailureLeavesOtherMutations(t *testing.T) {
	var logs bytes.Buffer
	rt := newRuntime(t, &engine.NullDriver{}, WithLogger(zerolog.New(&logs)))
	require.NoError(t, rt.Start(""))
	q := rt.Queue()

	var id graph.NodeID
	t1 := q.Enqueue("add", func(tx *graph.Tx) error {
		var err error
		id, err = tx.AddNode(0, 1, node.NewBeep(1, 440))
		return err
	})
	t2 := q.Enqueue("connect bad port", func(tx *graph.Tx) error {
		return tx.Connect(id, 0, tx.GraphOutNode(), 7, false)
	})
	t3 := q.Enqueue("connect left", func(tx *graph.Tx) error {
		return tx.Connect(id, 0, tx.GraphOutNode(), 0, false)
	})
	assert.Equal(t, 3, q.Len())

	err := rt.Frame()
	var ce *graph.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, graph.PortOutOfRange, ce.Kind)
	assert.Contains(t, err.Error(), "connect bad port")

	for _, tk := range []*Ticket{t1, t2, t3} {
		assert.True(t, tk.Done(), tk.Label())
	}
	assert.NoError(t, t1.Err())
	assert.Error(t, t2.Err())
	assert.NoError(t, t3.Err())

	nodes, edges, out := graphOf(rt)
	assert.Equal(t, 1, nodes)
	assert.Empty(t, cmp.Diff([]graph.Edge{{Src: id, Dst: out}}, edges))
	assert.Contains(t, logs.String(), "graph mutation failed")
}

func TestCreateFailure(t *testing.T) {
	rt := newRuntime(t, &engine.NullDriver{})
	mb := &mailbox[brokenComp]{}
	b := Track[brokenComp](rt, "broken", mb)

	mb.push(Added, 3, brokenComp{})
	err := rt.Frame()
	var ae *node.ActivationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 0, b.Len())

	mb.push(Removed, 3, brokenComp{})
	assert.NotPanics(t, func() { require.NoError(t, rt.Frame()) })

	mb.push(Removed, 3, brokenComp{})
	assert.Panics(t, func() { _ = rt.Frame() })
}

func TestAddAfterFailedCreatePanics(t *testing.T) {
	rt := newRuntime(t, &engine.NullDriver{})
	mb := &mailbox[brokenComp]{}
	Track[brokenComp](rt, "broken", mb)

	mb.push(Added, 3, brokenComp{})
	var ae *node.ActivationError
	require.ErrorAs(t, rt.Frame(), &ae)

	mb.push(Added, 3, brokenComp{})
	ce, ok := catchPanic(func() { _ = rt.Frame() }).(*ConsistencyError)
	require.True(t, ok)
	if diff := cmp.Diff(ConsistencyError{Component: "broken", Entity: 3, Signal: Added}, *ce); diff != "" {
		t.Errorf("panic mismatch (-want +got):\n%s", diff)
	}
}

func TestChangeRebuild(t *testing.T) {
	rt := newRuntime(t, &engine.NullDriver{})
	mb := &mailbox[*beepComp]{}
	b := Track[*beepComp](rt, "beep", mb)

	c := &beepComp{Amplitude: 0.5, Frequency: 330}
	mb.push(Added, 1, c)
	require.NoError(t, rt.Frame())
	old, _ := b.Node(1)

	c.Rebuild = true
	mb.push(Changed, 1, c)
	require.NoError(t, rt.Frame())

	id, ok := b.Node(1)
	require.True(t, ok)
	assert.Greater(t, id, old)
	nodes, edges, _ := graphOf(rt)
	assert.Equal(t, 1, nodes)
	assert.Len(t, edges, 2)
}

func TestChangeBeforeCreateIsIgnored(t *testing.T) {
	rt := newRuntime(t, &engine.NullDriver{})
	mb := &mailbox[*beepComp]{}
	Track[*beepComp](rt, "beep", mb)

	c := &beepComp{Amplitude: 0.5, Frequency: 330}
	mb.push(Added, 1, c)
	mb.push(Changed, 1, c)
	assert.NotPanics(t, func() { require.NoError(t, rt.Frame()) })
}

func TestPerEntityMutation(t *testing.T) {
	rt := newRuntime(t, &engine.NullDriver{})
	mb := &mailbox[*beepComp]{}
	b := Track[*beepComp](rt, "beep", mb)

	mb.push(Added, 1, &beepComp{Amplitude: 1, Frequency: 100})
	require.NoError(t, rt.Frame())

	tk := b.Enqueue(1, "mute right", func(tx *graph.Tx, id graph.NodeID) error {
		tx.Disconnect(id, 0, tx.GraphOutNode(), 1)
		return nil
	})
	missing := b.Enqueue(99, "mute right", func(*graph.Tx, graph.NodeID) error { return nil })

	err := rt.Frame()
	assert.ErrorIs(t, err, ErrNoNode)
	assert.NoError(t, tk.Err())
	assert.ErrorIs(t, missing.Err(), ErrNoNode)
	_, edges, _ := graphOf(rt)
	assert.Len(t, edges, 1)
}

func TestRestartStrategy(t *testing.T) {
	drv := &engine.NullDriver{Devices: []string{"usb"}}
	rt := newRuntime(t, drv, WithStrategy(Restart))
	require.NoError(t, rt.Start("usb"))
	first := drv.Last()

	rt.Queue().Enqueue("add", func(tx *graph.Tx) error {
		_, err := tx.AddNode(0, 1, node.NewBeep(1, 440))
		return err
	})
	require.NoError(t, rt.Frame())
	assert.True(t, rt.Active())
	assert.Equal(t, 2, drv.Opened())
	assert.Equal(t, 1, first.Closes())
	assert.Equal(t, "usb", drv.Last().Device(), "restart keeps the device")

	drv.Devices = nil
	rt.Queue().Enqueue("add", func(tx *graph.Tx) error {
		_, err := tx.AddNode(0, 1, node.NewBeep(1, 440))
		return err
	})
	err := rt.Frame()
	var de *engine.DeviceError
	require.ErrorAs(t, err, &de)
	assert.False(t, rt.Active())
	nodes, _, _ := graphOf(rt)
	assert.Equal(t, 2, nodes, "edits are kept even when the device is gone")
}

func TestRestartReportsFaultOfOldEngine(t *testing.T) {
	drv := &engine.NullDriver{}
	rt := newRuntime(t, drv, WithStrategy(Restart))
	require.NoError(t, rt.Start(""))

	rt.Queue().Enqueue("fault", addFault)
	require.NoError(t, rt.Frame())
	drv.Last().Pull(16)

	rt.Queue().Enqueue("noop", func(*graph.Tx) error { return nil })
	err := rt.Frame()
	var pf *engine.ProcessorFault
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "faulty", pf.Name)
	assert.True(t, rt.Active())
}

func TestPanickingMutationKeepsEngineActive(t *testing.T) {
	for _, s := range []Strategy{Borrow, Restart} {
		t.Run(s.String(), func(t *testing.T) {
			drv := &engine.NullDriver{}
			rt := newRuntime(t, drv, WithStrategy(s))
			require.NoError(t, rt.Start(""))

			rt.Queue().Enqueue("explode", func(*graph.Tx) error { panic("mutation bug") })
			assert.PanicsWithValue(t, "mutation bug", func() { _ = rt.Frame() })
			assert.True(t, rt.Active())
			assert.NotPanics(t, func() { require.NoError(t, rt.Frame()) })
		})
	}
}

func TestSetOutputDevice(t *testing.T) {
	drv := &engine.NullDriver{Devices: []string{"usb"}}
	rt := newRuntime(t, drv)
	require.NoError(t, rt.Start(""))
	first := drv.Last()

	rt.SetOutputDevice("usb")
	require.NoError(t, rt.Frame())
	assert.True(t, rt.Active())
	assert.Equal(t, "usb", rt.Device())
	assert.Equal(t, "usb", drv.Last().Device())
	assert.Equal(t, 1, first.Closes())

	rt.SetOutputDevice("usb")
	require.NoError(t, rt.Frame())
	assert.Equal(t, 2, drv.Opened(), "same device is not reopened")

	rt.SetOutputDevice("missing")
	err := rt.Frame()
	assert.ErrorIs(t, err, engine.ErrDeviceNotFound)
	assert.False(t, rt.Active())

	require.NoError(t, rt.Start(engine.DefaultDevice))
	assert.True(t, rt.Active())
}

func TestDeviceLossDeactivates(t *testing.T) {
	var logs bytes.Buffer
	drv := &engine.NullDriver{}
	rt := newRuntime(t, drv, WithLogger(zerolog.New(&logs)))
	require.NoError(t, rt.Start(""))

	drv.Last().Fail(errors.New("unplugged"))
	require.NoError(t, rt.Frame())
	assert.False(t, rt.Active())
	assert.Equal(t, 1, drv.Last().Closes())
	assert.Contains(t, logs.String(), "unplugged")

	require.NoError(t, rt.Frame(), "inactive frames still apply mutations")
}

func TestShutdown(t *testing.T) {
	drv := &engine.NullDriver{}
	rt := newRuntime(t, drv)
	require.NoError(t, rt.Start(""))

	assert.NoError(t, rt.Shutdown())
	assert.NoError(t, rt.Shutdown())
	assert.False(t, rt.Active())
	assert.Equal(t, 1, drv.Last().Closes())

	rt.Queue().Enqueue("late", func(*graph.Tx) error { return errors.New("must not run") })
	assert.NoError(t, rt.Frame())
}

func TestGraphFaultSurfacesOnDeactivation(t *testing.T) {
	t.Run("shutdown", func(t *testing.T) {
		drv := &engine.NullDriver{}
		rt := newRuntime(t, drv)
		require.NoError(t, rt.Start(""))
		rt.Queue().Enqueue("fault", addFault)
		require.NoError(t, rt.Frame())
		drv.Last().Pull(16)

		var pf *engine.ProcessorFault
		require.ErrorAs(t, rt.Shutdown(), &pf)
		assert.False(t, rt.Active())
	})
	t.Run("device switch", func(t *testing.T) {
		drv := &engine.NullDriver{Devices: []string{"usb"}}
		rt := newRuntime(t, drv)
		require.NoError(t, rt.Start(""))
		rt.Queue().Enqueue("fault", addFault)
		require.NoError(t, rt.Frame())
		drv.Last().Pull(16)

		rt.SetOutputDevice("usb")
		var pf *engine.ProcessorFault
		require.ErrorAs(t, rt.Frame(), &pf)
		assert.True(t, rt.Active())
		assert.Equal(t, "usb", rt.Device())
	})
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": Borrow, "borrow": Borrow, " Restart ": Restart} {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("pause")
	assert.Error(t, err)
	assert.Equal(t, "restart", Restart.String())
}
