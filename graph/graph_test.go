package graph

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitionamiga/audiobridge/node"
)

func newTestGraph() *Graph {
	return New(Config{SampleRate: 48000, MaxBlockFrames: 64, NumInputs: 0, NumOutputs: 2})
}

// constNode writes a fixed value to every output.
type constNode struct {
	value float32
	ins   int
}

func (c *constNode) Info() node.Info {
	return node.Info{DebugName: "const", MaxInputs: 4, MinOutputs: 1, MaxOutputs: 2}
}

func (c *constNode) Activate(uint32, int, int) (node.Processor, error) {
	return constProc{c.value}, nil
}

type constProc struct{ v float32 }

func (p constProc) Process(frames int, _, outputs [][]float32, _ node.ProcInfo) {
	for _, o := range outputs {
		for i := range o {
			o[i] = p.v
		}
	}
}

// failingNode refuses to activate.
type failingNode struct{}

func (failingNode) Info() node.Info {
	return node.Info{DebugName: "failing", MinOutputs: 1, MaxOutputs: 1}
}

func (failingNode) Activate(uint32, int, int) (node.Processor, error) {
	return nil, node.ErrUnsupportedSampleRate
}

// panicNode panics on its first block.
type panicNode struct{}

func (panicNode) Info() node.Info {
	return node.Info{DebugName: "panic", MinOutputs: 1, MaxOutputs: 1}
}

func (panicNode) Activate(uint32, int, int) (node.Processor, error) {
	return panicProc{}, nil
}

type panicProc struct{}

func (panicProc) Process(_ int, _, outputs [][]float32, _ node.ProcInfo) {
	outputs[0][0] = 1
	panic("boom")
}

func TestNew_HasOnlyIONodes(t *testing.T) {
	g := newTestGraph()
	assert.Equal(t, 0, g.NumNodes())
	assert.True(t, g.Contains(g.GraphInNode()))
	assert.True(t, g.Contains(g.GraphOutNode()))

	in, out, ok := g.Ports(g.GraphOutNode())
	require.True(t, ok)
	assert.Equal(t, 2, in)
	assert.Equal(t, 0, out)
	assert.Nil(t, g.Schedule(), "nothing is published before the first commit")
}

func TestAddNode_ArityMismatchIsActivationError(t *testing.T) {
	g := newTestGraph()
	_, err := g.AddNode(1, 1, node.NewBeep(1, 440))

	var ae *node.ActivationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "beep", ae.Node)
	assert.ErrorIs(t, err, node.ErrPortCount)
	assert.Equal(t, 0, g.NumNodes())
}

func TestAddNode_ActivationFailureDoesNotInsert(t *testing.T) {
	g := newTestGraph()
	_, err := g.AddNode(0, 1, failingNode{})
	assert.ErrorIs(t, err, node.ErrUnsupportedSampleRate)
	assert.Equal(t, 0, g.NumNodes())
}

func TestConnect_Errors(t *testing.T) {
	g := newTestGraph()
	a, err := g.AddNode(0, 1, node.NewBeep(1, 440))
	require.NoError(t, err)
	m, err := g.AddNode(2, 1, node.NewMixer(1))
	require.NoError(t, err)
	require.NoError(t, g.Connect(a, 0, m, 0, false))
	before := g.Edges()

	cases := []struct {
		name string
		src  NodeID
		sp   int
		dst  NodeID
		dp   int
		kind ConnectErrorKind
	}{
		{"missing src", 999, 0, m, 0, NodeNotFound},
		{"missing dst", a, 0, 999, 0, NodeNotFound},
		{"bad src port", a, 1, m, 1, PortOutOfRange},
		{"bad dst port", a, 0, m, 2, PortOutOfRange},
		{"negative port", a, -1, m, 0, PortOutOfRange},
		{"duplicate", a, 0, m, 0, AlreadyConnected},
		{"self loop", m, 0, m, 1, Cycle},
		{"into graph input", a, 0, g.GraphInNode(), 0, PortOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Connect(tc.src, tc.sp, tc.dst, tc.dp, false)
			var ce *ConnectError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.kind, ce.Kind)
			assert.Empty(t, cmp.Diff(before, g.Edges()), "a refused edge leaves the topology unchanged")
		})
	}
}

func TestConnect_CycleDetection(t *testing.T) {
	g := newTestGraph()
	m1, err := g.AddNode(1, 1, node.NewMixer(1))
	require.NoError(t, err)
	m2, err := g.AddNode(1, 1, node.NewMixer(1))
	require.NoError(t, err)

	require.NoError(t, g.Connect(m1, 0, m2, 0, false))
	err = g.Connect(m2, 0, m1, 0, false)
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Cycle, ce.Kind)

	require.NoError(t, g.Connect(m2, 0, m1, 0, true), "allowCycle accepts feedback")

	s := g.Commit()
	assert.ElementsMatch(t, g.Nodes(), s.Order(), "cyclic nodes are still scheduled")
}

func TestRemoveNode(t *testing.T) {
	g := newTestGraph()
	a, err := g.AddNode(0, 1, node.NewBeep(1, 440))
	require.NoError(t, err)
	require.NoError(t, g.Connect(a, 0, g.GraphOutNode(), 0, false))
	require.NoError(t, g.Connect(a, 0, g.GraphOutNode(), 1, false))

	require.NoError(t, g.RemoveNode(a))
	assert.False(t, g.Contains(a))
	assert.Empty(t, g.Edges())

	var nf *NotFoundError
	require.ErrorAs(t, g.RemoveNode(a), &nf)
	assert.Equal(t, a, nf.ID)

	assert.ErrorIs(t, g.RemoveNode(g.GraphOutNode()), ErrReservedNode)
	assert.ErrorIs(t, g.RemoveNode(g.GraphInNode()), ErrReservedNode)

	b, err := g.AddNode(0, 1, node.NewBeep(1, 440))
	require.NoError(t, err)
	assert.Greater(t, b, a, "removed IDs are never handed out again")
}

func TestTransact_RollsBackFailedMutation(t *testing.T) {
	g := newTestGraph()
	out := g.GraphOutNode()

	err := g.Transact(func(tx *Tx) error {
		id, err := tx.AddNode(0, 1, node.NewBeep(0, 440))
		if err != nil {
			return err
		}
		if err := tx.Connect(id, 0, out, 0, false); err != nil {
			return err
		}
		return tx.Connect(id, 0, out, 5, false)
	})

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, g.NumNodes(), "no orphaned node")
	assert.Empty(t, g.Edges(), "no half-connected node")
}

func TestTransact_RollsBackOnPanic(t *testing.T) {
	g := newTestGraph()
	assert.PanicsWithValue(t, "bad", func() {
		_ = g.Transact(func(tx *Tx) error {
			_, _ = tx.AddNode(0, 1, node.NewBeep(0, 440))
			panic("bad")
		})
	})
	assert.Equal(t, 0, g.NumNodes())

	require.NoError(t, g.Transact(func(tx *Tx) error { return nil }), "graph is usable after a panic")
}

func TestTransact_RestoresRemovedNodeAndEdges(t *testing.T) {
	g := newTestGraph()
	a, err := g.AddNode(0, 1, node.NewBeep(1, 440))
	require.NoError(t, err)
	require.NoError(t, g.Connect(a, 0, g.GraphOutNode(), 0, false))
	before := g.Edges()

	boom := errors.New("boom")
	err = g.Transact(func(tx *Tx) error {
		if err := tx.RemoveNode(a); err != nil {
			return err
		}
		tx.Disconnect(a, 0, g.GraphOutNode(), 0)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, g.Contains(a))
	assert.Empty(t, cmp.Diff(before, g.Edges()))
}

func TestTransact_NestedPanics(t *testing.T) {
	g := newTestGraph()
	assert.Panics(t, func() {
		_ = g.Transact(func(tx *Tx) error {
			return g.Transact(func(*Tx) error { return nil })
		})
	})
}

func TestTx_UseAfterFinishPanics(t *testing.T) {
	g := newTestGraph()
	var leaked *Tx
	require.NoError(t, g.Transact(func(tx *Tx) error {
		leaked = tx
		return nil
	}))
	assert.Panics(t, func() { _, _ = leaked.AddNode(0, 1, node.NewBeep(0, 1)) })
}

func TestTransact_DirectEditsPanicAndRollBack(t *testing.T) {
	g := newTestGraph()
	g.Commit()
	before := g.Edges()

	assert.PanicsWithValue(t, "graph: edit outside the open transaction", func() {
		_ = g.Transact(func(tx *Tx) error {
			id, err := tx.AddNode(0, 1, node.NewBeep(1, 440))
			require.NoError(t, err)
			return g.Connect(id, 0, tx.GraphOutNode(), 0, false)
		})
	})
	assert.Equal(t, 2, g.NumNodes(), "the node added through tx is undone")
	if diff := cmp.Diff(before, g.Edges()); diff != "" {
		t.Errorf("edges changed (-before +after):\n%s", diff)
	}

	for name, edit := range map[string]func(){
		"AddNode":       func() { _, _ = g.AddNode(0, 1, node.NewBeep(0, 1)) },
		"Disconnect":    func() { g.Disconnect(1, 0, 2, 0) },
		"DisconnectAll": func() { g.DisconnectAll(g.GraphOutNode()) },
		"RemoveNode":    func() { _ = g.RemoveNode(99) },
		"Commit":        func() { g.Commit() },
	} {
		assert.Panics(t, func() {
			_ = g.Transact(func(*Tx) error {
				edit()
				return nil
			})
		}, name)
	}
}

func TestTx_ReadAccess(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.Transact(func(tx *Tx) error {
		id, err := tx.AddNode(0, 1, node.NewBeep(1, 440))
		if err != nil {
			return err
		}
		if err := tx.Connect(id, 0, tx.GraphOutNode(), 1, false); err != nil {
			return err
		}
		in, out, ok := tx.Ports(tx.GraphOutNode())
		assert.True(t, ok)
		assert.Equal(t, 2, in)
		assert.Equal(t, 0, out)
		n, ok := tx.Node(id)
		assert.True(t, ok)
		assert.Equal(t, "beep", n.Info().DebugName)
		assert.Len(t, tx.Edges(), 1)
		assert.Equal(t, 3, tx.NumNodes())
		assert.Equal(t, uint32(48000), tx.Config().SampleRate)
		return nil
	}))
}

func TestCommit_PublishesOnlyWhenDirty(t *testing.T) {
	g := newTestGraph()
	s1 := g.Commit()
	require.NotNil(t, s1)
	assert.Same(t, s1, g.Commit(), "clean graph keeps the published schedule")

	_, err := g.AddNode(0, 1, node.NewBeep(1, 440))
	require.NoError(t, err)
	assert.Same(t, s1, g.Schedule(), "uncommitted edits are invisible to the renderer")

	s2 := g.Commit()
	assert.NotSame(t, s1, s2)
	assert.Greater(t, s2.Version(), s1.Version())
}

func TestSchedule_OrderFollowsEdges(t *testing.T) {
	g := newTestGraph()
	m2, err := g.AddNode(1, 1, node.NewMixer(1))
	require.NoError(t, err)
	m1, err := g.AddNode(1, 1, node.NewMixer(1))
	require.NoError(t, err)
	src, err := g.AddNode(0, 1, &constNode{value: 0.25})
	require.NoError(t, err)

	require.NoError(t, g.Connect(src, 0, m1, 0, false))
	require.NoError(t, g.Connect(m1, 0, m2, 0, false))
	require.NoError(t, g.Connect(m2, 0, g.GraphOutNode(), 0, false))

	order := g.Commit().Order()
	pos := func(id NodeID) int {
		for i, o := range order {
			if o == id {
				return i
			}
		}
		return -1
	}
	assert.Less(t, pos(src), pos(m1))
	assert.Less(t, pos(m1), pos(m2))
	assert.Less(t, pos(m2), pos(g.GraphOutNode()))
}

func TestSchedule_ProcessAndInterleave(t *testing.T) {
	g := newTestGraph()
	a, err := g.AddNode(0, 1, &constNode{value: 0.25})
	require.NoError(t, err)
	b, err := g.AddNode(0, 1, &constNode{value: 0.5})
	require.NoError(t, err)
	out := g.GraphOutNode()
	require.NoError(t, g.Connect(a, 0, out, 0, false))
	require.NoError(t, g.Connect(b, 0, out, 0, false))
	require.NoError(t, g.Connect(b, 0, out, 1, false))

	s := g.Commit()
	assert.Equal(t, NodeID(0), s.Process(4, node.ProcInfo{SampleRate: 48000}))

	dst := make([]float32, 8)
	s.Interleave(dst, 4, 2)
	assert.Equal(t, []float32{0.75, 0.5, 0.75, 0.5, 0.75, 0.5, 0.75, 0.5}, dst)
}

func TestSchedule_InterleaveClamps(t *testing.T) {
	g := newTestGraph()
	a, err := g.AddNode(0, 1, &constNode{value: 3})
	require.NoError(t, err)
	require.NoError(t, g.Connect(a, 0, g.GraphOutNode(), 0, false))

	s := g.Commit()
	s.Process(2, node.ProcInfo{})
	dst := make([]float32, 4)
	s.Interleave(dst, 2, 2)
	assert.Equal(t, []float32{1, 0, 1, 0}, dst)
}

func TestSchedule_PanickingProcessorIsSilenced(t *testing.T) {
	g := newTestGraph()
	p, err := g.AddNode(0, 1, panicNode{})
	require.NoError(t, err)
	require.NoError(t, g.Connect(p, 0, g.GraphOutNode(), 0, false))

	s := g.Commit()
	assert.Equal(t, p, s.Process(8, node.ProcInfo{}))
	assert.Equal(t, make([]float32, 8), s.Output(0, 8), "faulted output is silenced")
	assert.True(t, g.Faulted(p))

	assert.Equal(t, NodeID(0), s.Process(8, node.ProcInfo{}), "a fault is reported once")
	assert.True(t, g.Commit() == s)
}

func TestSchedule_ProcessClampsFrames(t *testing.T) {
	g := newTestGraph()
	s := g.Commit()
	assert.NotPanics(t, func() { s.Process(10*s.MaxFrames(), node.ProcInfo{}) })
}
