// runtime.go - Per-frame driver tying bridges, queue and engine together

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

	"github.com/intuitionamiga/audiobridge/engine"
	"github.com/intuitionamiga/audiobridge/graph"
)

type tracker interface {
	name() string
	pump() int
	size() int
}

type tracked[C NodeComponent] struct {
	b  *Bridge[C]
	mb Mailbox[C]
}

func (t tracked[C]) name() string { return t.b.name }
func (t tracked[C]) pump() int    { return t.b.Pump(t.mb) }
func (t tracked[C]) size() int    { return t.b.Len() }

// Runtime runs the audio side of one control frame. Call Frame once per
// frame, after the scheduler has finished mutating its entities.
type Runtime struct {
	slot     *Slot
	queue    *Queue
	trackers []tracker
	opts     options

	device        string
	pendingDevice *string
	shutdown      bool
}

// NewRuntime takes ownership of e. Options apply to the runtime and its
// queue.
func NewRuntime(e *engine.Inactive, opts ...Option) *Runtime {
	return &Runtime{
		slot:   NewSlot(e),
		queue:  NewQueue(opts...),
		opts:   newOptions(opts),
		device: engine.DefaultDevice,
	}
}

// Track registers a component type. Its signals are pumped every frame, in
// registration order, before mutations are applied.
func Track[C NodeComponent](rt *Runtime, name string, mb Mailbox[C]) *Bridge[C] {
	b := New[C](name, rt.queue)
	rt.trackers = append(rt.trackers, tracked[C]{b: b, mb: mb})
	return b
}

// Queue returns the queue for global graph commands.
func (rt *Runtime) Queue() *Queue { return rt.queue }

// Active reports whether the engine has a live stream.
func (rt *Runtime) Active() bool { return rt.slot.Active() }

// Device is the output device the runtime uses.
func (rt *Runtime) Device() string { return rt.device }

// Start activates the engine on device. If it is already active Start does
// nothing. On a *engine.DeviceError the engine stays inactive and Start may
// be called again, with the same or another device.
func (rt *Runtime) Start(device string) error {
	if device == "" {
		device = engine.DefaultDevice
	}
	h := rt.slot.CheckOut()
	defer func() { rt.slot.CheckIn(h) }()
	if h.Active != nil {
		return nil
	}
	a, err := h.Inactive.Activate(device, true)
	if err != nil {
		return err
	}
	h = Handle{Active: a}
	rt.device = device
	return nil
}

// SetOutputDevice switches to another device at the end of the next Frame.
func (rt *Runtime) SetOutputDevice(device string) {
	if device == "" {
		device = engine.DefaultDevice
	}
	rt.pendingDevice = &device
}

// Inspect gives fn read access to the graph between frames. fn must not
// edit the graph; use the queue for that.
func (rt *Runtime) Inspect(fn func(g *graph.Graph)) {
	h := rt.slot.CheckOut()
	defer rt.slot.CheckIn(h)
	fn(h.Graph())
}

// Frame pumps every tracked component, applies the queued mutations,
// performs a pending device change and updates the engine. Mutation and
// device errors are returned joined; the engine is in a valid state either
// way. After Shutdown, Frame does nothing.
func (rt *Runtime) Frame() error {
	if rt.shutdown {
		return nil
	}
	for _, t := range rt.trackers {
		t.pump()
	}
	var errs []error
	if err := rt.queue.Apply(rt.slot); err != nil {
		errs = append(errs, err)
	}
	for _, t := range rt.trackers {
		rt.opts.metrics.SetTracked(t.name(), t.size())
	}
	if rt.pendingDevice != nil {
		if err := rt.switchDevice(*rt.pendingDevice); err != nil {
			errs = append(errs, err)
		}
		rt.pendingDevice = nil
	}
	rt.update()
	rt.slot.EndFrame()
	return errors.Join(errs...)
}

func (rt *Runtime) switchDevice(device string) error {
	h := rt.slot.CheckOut()
	defer func() { rt.slot.CheckIn(h) }()

	rt.device = device
	in := h.Inactive
	var graphErr error
	if old := h.Active; old != nil {
		if old.Device() == device {
			return nil
		}
		in = old.Deactivate()
		h = Handle{Inactive: in}
		graphErr = old.GraphErr()
	}
	a, err := in.Activate(device, true)
	if err != nil {
		rt.opts.log.Error().Err(err).Str("device", device).Msg("could not switch audio output device")
		return errors.Join(graphErr, err)
	}
	h = Handle{Active: a}
	rt.opts.log.Info().Str("device", device).Msg("audio output device changed")
	return graphErr
}

func (rt *Runtime) update() {
	h := rt.slot.CheckOut()
	defer func() { rt.slot.CheckIn(h) }()
	if h.Active == nil {
		return
	}
	st := h.Active.Update()
	if st.GraphErr != nil {
		rt.opts.log.Error().Err(st.GraphErr).Msg("audio graph error")
	}
	if st.Deactivated {
		ev := rt.opts.log.Warn()
		if st.Err != nil {
			ev = ev.Err(st.Err)
		}
		ev.Str("device", h.Active.Device()).Msg("audio engine deactivated unexpectedly")
		h = Handle{Inactive: st.Inactive}
	}
}

// Shutdown deactivates the engine and returns any graph error that was
// still pending. Later frames do nothing.
func (rt *Runtime) Shutdown() error {
	if rt.shutdown {
		return nil
	}
	rt.shutdown = true
	h := rt.slot.CheckOut()
	defer func() { rt.slot.CheckIn(h) }()
	if old := h.Active; old != nil {
		h = Handle{Inactive: old.Deactivate()}
		return old.GraphErr()
	}
	return nil
}
