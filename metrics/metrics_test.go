package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRendered(1, 512)
		m.RecordFaults(1)
		m.RecordActivation(nil)
		m.RecordDeactivation("requested")
		m.RecordMutation(errors.New("x"))
		m.SetGraphNodes(3)
		m.SetTracked("beep", 1)
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRendered(2, 1024)
	m.RecordRendered(1, 512)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.blocksRendered))
	assert.Equal(t, 1536.0, testutil.ToFloat64(m.framesRendered))

	m.RecordActivation(nil)
	m.RecordActivation(errors.New("no device"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activationFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.engineActive))

	m.RecordDeactivation("stream_error")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.engineActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deactivations.WithLabelValues("stream_error")))

	m.RecordMutation(nil)
	m.RecordMutation(nil)
	m.RecordMutation(errors.New("bad port"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutations.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("failed")))

	m.SetTracked("beep", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.trackedEntities.WithLabelValues("beep")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
