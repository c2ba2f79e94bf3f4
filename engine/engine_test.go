package engine

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitionamiga/audiobridge/graph"
	"github.com/intuitionamiga/audiobridge/metrics"
	"github.com/intuitionamiga/audiobridge/node"
	"github.com/intuitionamiga/audiobridge/param"
)

func testConfig() Config {
	return Config{SampleRate: 48000, MaxBlockFrames: 64, NumOutputs: 2}
}

// dcNode writes a constant read from a cell.
type dcNode struct{ level *param.Cell }

func (d dcNode) Info() node.Info {
	return node.Info{DebugName: "dc", MinOutputs: 1, MaxOutputs: 1}
}

func (d dcNode) Activate(uint32, int, int) (node.Processor, error) { return d, nil }

func (d dcNode) Process(_ int, _, outputs [][]float32, _ node.ProcInfo) {
	v := d.level.Load()
	for i := range outputs[0] {
		outputs[0][i] = v
	}
}

type panicNode struct{}

func (panicNode) Info() node.Info {
	return node.Info{DebugName: "panicky", MinOutputs: 1, MaxOutputs: 1}
}

func (p panicNode) Activate(uint32, int, int) (node.Processor, error) { return p, nil }

func (panicNode) Process(int, [][]float32, [][]float32, node.ProcInfo) { panic("boom") }

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, uint32(44100), d.SampleRate)
	assert.Equal(t, 512, d.MaxBlockFrames)
	assert.Equal(t, 0, d.NumInputs)
	assert.Equal(t, 2, d.NumOutputs)
	assert.NoError(t, d.Validate())

	e := New(Config{}, &NullDriver{})
	assert.Equal(t, d, e.Config())
}

func TestConfigValidate(t *testing.T) {
	bad := Config{SampleRate: 0, MaxBlockFrames: 0, NumInputs: -1, NumOutputs: 9}
	err := bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"sample rate", "max block frames", "num inputs", "num outputs"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestActivate_MissingThenDefault(t *testing.T) {
	drv := &NullDriver{}
	e := New(testConfig(), drv)

	a, err := e.Activate("missing", true)
	assert.Nil(t, a)
	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "missing", de.Device)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	a, err = e.Activate(DefaultDevice, true)
	require.NoError(t, err)
	assert.Equal(t, DefaultDevice, a.Device())
	assert.Same(t, e.c.graph, a.Graph(), "the graph survives activation")
}

func TestActivate_EmptyNameMeansDefault(t *testing.T) {
	a, err := New(testConfig(), &NullDriver{}).Activate("", false)
	require.NoError(t, err)
	assert.Equal(t, DefaultDevice, a.Device())
}

func TestInactive_SpentAfterActivate(t *testing.T) {
	e := New(testConfig(), &NullDriver{})
	_, err := e.Activate("", true)
	require.NoError(t, err)
	assert.Panics(t, func() { e.Graph() })
	assert.Panics(t, func() { _, _ = e.Activate("", true) })
}

func TestActivate_StartLater(t *testing.T) {
	drv := &NullDriver{}
	a, err := New(testConfig(), drv).Activate("", false)
	require.NoError(t, err)
	s := drv.Last()
	assert.False(t, s.Running())

	require.NoError(t, a.Start())
	require.NoError(t, a.Start())
	assert.True(t, s.Running())
}

func TestDeactivate_Idempotent(t *testing.T) {
	drv := &NullDriver{}
	e := New(testConfig(), drv)
	g := e.Graph()
	a, err := e.Activate("", true)
	require.NoError(t, err)

	in1 := a.Deactivate()
	in2 := a.Deactivate()
	assert.Same(t, in1, in2)
	assert.Equal(t, 1, drv.Last().Closes())
	assert.Same(t, g, in1.Graph(), "topology is returned intact")
	assert.Panics(t, func() { a.Graph() })
	assert.Panics(t, func() { _ = a.Start() })

	a2, err := in1.Activate("", true)
	require.NoError(t, err)
	assert.Equal(t, 2, drv.Opened())
	a2.Deactivate()
}

func TestUpdate_DeviceLoss(t *testing.T) {
	drv := &NullDriver{}
	a, err := New(testConfig(), drv).Activate("", true)
	require.NoError(t, err)

	st := a.Update()
	assert.False(t, st.Deactivated)
	assert.NoError(t, st.GraphErr)

	lost := errors.New("device unplugged")
	drv.Last().Fail(lost)

	st = a.Update()
	require.True(t, st.Deactivated)
	require.NotNil(t, st.Inactive)
	assert.ErrorIs(t, st.Err, lost)

	assert.Same(t, st.Inactive, a.Deactivate(), "deactivating after Deactivated is a no-op")
	assert.Equal(t, 1, drv.Last().Closes())

	st2 := a.Update()
	assert.True(t, st2.Deactivated)
	assert.Same(t, st.Inactive, st2.Inactive)
}

func TestRender_ParamChangeAudibleNextBlock(t *testing.T) {
	drv := &NullDriver{}
	e := New(testConfig(), drv)
	level := param.NewCell(0)
	g := e.Graph()
	id, err := g.AddNode(0, 1, dcNode{level: level})
	require.NoError(t, err)
	require.NoError(t, g.Connect(id, 0, g.GraphOutNode(), 0, false))
	require.NoError(t, g.Connect(id, 0, g.GraphOutNode(), 1, false))

	_, err = e.Activate("", true)
	require.NoError(t, err)
	s := drv.Last()

	assert.Equal(t, make([]float32, 8), s.Pull(4))
	level.Store(0.5)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, s.Pull(4))
}

func TestRender_UncommittedEditsAreInvisible(t *testing.T) {
	drv := &NullDriver{}
	a, err := New(testConfig(), drv).Activate("", true)
	require.NoError(t, err)
	g := a.Graph()
	s := drv.Last()

	id, err := g.AddNode(0, 1, dcNode{level: param.NewCell(0.25)})
	require.NoError(t, err)
	require.NoError(t, g.Connect(id, 0, g.GraphOutNode(), 0, false))
	assert.Equal(t, make([]float32, 4), s.Pull(2))

	g.Commit()
	assert.Equal(t, []float32{0.25, 0, 0.25, 0}, s.Pull(2))
}

func TestRender_SplitsLargeBuffersIntoBlocks(t *testing.T) {
	drv := &NullDriver{}
	reg := prometheus.NewRegistry()
	a, err := New(testConfig(), drv, WithMetrics(metrics.New(reg))).Activate("", true)
	require.NoError(t, err)

	drv.Last().Pull(200)
	st := a.r.stats()
	assert.Equal(t, uint64(4), st.blocks, "64+64+64+8")
	assert.Equal(t, uint64(200), st.frames)
}

func TestUpdate_ReportsProcessorFault(t *testing.T) {
	drv := &NullDriver{}
	e := New(testConfig(), drv)
	g := e.Graph()
	id, err := g.AddNode(0, 1, panicNode{})
	require.NoError(t, err)
	require.NoError(t, g.Connect(id, 0, g.GraphOutNode(), 0, false))

	a, err := e.Activate("", true)
	require.NoError(t, err)
	out := drv.Last().Pull(16)
	assert.Equal(t, make([]float32, 32), out)

	st := a.Update()
	assert.False(t, st.Deactivated)
	var pf *ProcessorFault
	require.ErrorAs(t, st.GraphErr, &pf)
	assert.Equal(t, id, pf.Node)
	assert.Equal(t, "panicky", pf.Name)
	assert.True(t, g.Faulted(id))

	drv.Last().Pull(16)
	assert.NoError(t, a.Update().GraphErr, "a silenced node is reported once")
}

// faultyEngine activates an engine whose only node panics on its first
// block, and pulls that block.
func faultyEngine(t *testing.T, opts ...Option) (*Active, *NullDriver, graph.NodeID) {
	t.Helper()
	drv := &NullDriver{}
	e := New(testConfig(), drv, opts...)
	g := e.Graph()
	id, err := g.AddNode(0, 1, panicNode{})
	require.NoError(t, err)
	require.NoError(t, g.Connect(id, 0, g.GraphOutNode(), 0, false))
	a, err := e.Activate("", true)
	require.NoError(t, err)
	drv.Last().Pull(16)
	return a, drv, id
}

func TestUpdate_DeviceLossKeepsPendingFault(t *testing.T) {
	a, drv, id := faultyEngine(t)
	unplugged := errors.New("unplugged")
	drv.Last().Fail(unplugged)

	st := a.Update()
	require.True(t, st.Deactivated)
	assert.ErrorIs(t, st.Err, unplugged)
	var pf *ProcessorFault
	require.ErrorAs(t, st.GraphErr, &pf)
	assert.Equal(t, id, pf.Node)
	assert.Same(t, st.GraphErr, a.GraphErr())
}

func TestDeactivate_KeepsPendingFault(t *testing.T) {
	var logs bytes.Buffer
	a, _, id := faultyEngine(t, WithLogger(zerolog.New(&logs)))
	a.Deactivate()

	var pf *ProcessorFault
	require.ErrorAs(t, a.GraphErr(), &pf)
	assert.Equal(t, id, pf.Node)
	assert.Contains(t, logs.String(), "audio graph error before deactivation")
}

func TestDeactivate_NoFaultNoGraphErr(t *testing.T) {
	a, err := New(testConfig(), &NullDriver{}).Activate("", true)
	require.NoError(t, err)
	a.Deactivate()
	assert.NoError(t, a.GraphErr())
}

func TestRender_NoScheduleIsSilence(t *testing.T) {
	r := newRenderer(graph.New(graph.Config{SampleRate: 48000, MaxBlockFrames: 8, NumOutputs: 2}), 48000, 2)
	dst := []float32{1, 1, 1, 1, 1}
	r.render(dst)
	assert.Equal(t, make([]float32, 5), dst)
}
