package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullDriver_NamedDevices(t *testing.T) {
	drv := &NullDriver{Devices: []string{"usb"}}
	cfg := StreamConfig{SampleRate: 48000, Channels: 2, BlockFrames: 32}
	render := func([]float32) {}

	_, err := drv.Open("usb", cfg, render)
	require.NoError(t, err)
	_, err = drv.Open("", cfg, render)
	require.NoError(t, err)
	_, err = drv.Open("hdmi", cfg, render)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, 2, drv.Opened())

	_, err = drv.Open("usb", StreamConfig{SampleRate: 48000}, render)
	assert.Error(t, err)
}

func TestNullStream_StartAfterClose(t *testing.T) {
	drv := &NullDriver{}
	s, err := drv.Open("", StreamConfig{SampleRate: 48000, Channels: 1, BlockFrames: 8}, func([]float32) {})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Start(), ErrStreamClosed)
	assert.False(t, drv.Last().Running())
}

func TestNullStream_Clocked(t *testing.T) {
	var calls atomic.Int64
	drv := &NullDriver{Clocked: true}
	s, err := drv.Open("", StreamConfig{SampleRate: 48000, Channels: 2, BlockFrames: 48}, func(dst []float32) {
		assert.Len(t, dst, 96)
		calls.Add(1)
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	n := calls.Load()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no rendering after Close")
}
