// engine.go - Inactive/Active engine state machine

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

// Package engine wraps the audio graph and an output device in two mutually
// exclusive states.
//
// An *Inactive holds the graph and configuration but no device. Activate
// opens a device stream and hands back an *Active; Deactivate closes the
// stream and hands back an *Inactive with the same graph. Each handle is
// single-use: once it has moved to the other state it must not be used
// again. There is no paused state.
//
// While Active, the control side keeps editing the graph directly and calls
// graph.Commit to publish. The device thread only ever reads the published,
// immutable schedule.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/intuitionamiga/audiobridge/graph"
	"github.com/intuitionamiga/audiobridge/metrics"
)

// Config fixes the graph format and the device stream format.
type Config struct {
	SampleRate     uint32 `yaml:"sample_rate"`
	MaxBlockFrames int    `yaml:"max_block_frames"`
	NumInputs      int    `yaml:"num_inputs"`
	NumOutputs     int    `yaml:"num_outputs"`
}

// Defaults returns a 44.1 kHz stereo configuration.
func Defaults() Config {
	return Config{
		SampleRate:     44100,
		MaxBlockFrames: 512,
		NumInputs:      0,
		NumOutputs:     2,
	}
}

// Validate rejects configurations no device can run.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate == 0 || c.SampleRate > 384000 {
		errs = append(errs, fmt.Errorf("sample rate %d out of range", c.SampleRate))
	}
	if c.MaxBlockFrames < 1 || c.MaxBlockFrames > 8192 {
		errs = append(errs, fmt.Errorf("max block frames %d out of range 1..8192", c.MaxBlockFrames))
	}
	if c.NumInputs < 0 {
		errs = append(errs, fmt.Errorf("num inputs %d is negative", c.NumInputs))
	}
	if c.NumOutputs < 1 || c.NumOutputs > 8 {
		errs = append(errs, fmt.Errorf("num outputs %d out of range 1..8", c.NumOutputs))
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	d := Defaults()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.MaxBlockFrames == 0 {
		c.MaxBlockFrames = d.MaxBlockFrames
	}
	if c.NumOutputs == 0 {
		c.NumOutputs = d.NumOutputs
	}
	return c
}

type Option func(*options)

type options struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger for state changes. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics publishes engine counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// core is what both states share and what survives a transition.
type core struct {
	cfg    Config
	graph  *graph.Graph
	driver Driver
	options
}

// Inactive is an engine without a device stream.
type Inactive struct {
	c     *core
	spent bool
}

// New creates an inactive engine with an empty graph. Zero fields in cfg
// take their Defaults.
func New(cfg Config, driver Driver, opts ...Option) *Inactive {
	cfg = cfg.withDefaults()
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Inactive{c: &core{
		cfg: cfg,
		graph: graph.New(graph.Config{
			SampleRate:     cfg.SampleRate,
			MaxBlockFrames: cfg.MaxBlockFrames,
			NumInputs:      cfg.NumInputs,
			NumOutputs:     cfg.NumOutputs,
		}),
		driver:  driver,
		options: o,
	}}
}

func (e *Inactive) check() {
	if e.spent {
		panic("engine: inactive handle used after activation")
	}
}

// Graph returns the topology.
func (e *Inactive) Graph() *graph.Graph {
	e.check()
	return e.c.graph
}

func (e *Inactive) Config() Config { return e.c.cfg }

// Activate opens device and, if startImmediately is set, starts pulling
// audio. On failure it returns a *DeviceError and e remains usable; on
// success e is spent and only the returned *Active may be used.
func (e *Inactive) Activate(device string, startImmediately bool) (*Active, error) {
	e.check()
	if device == "" {
		device = DefaultDevice
	}
	c := e.c
	log := c.log.With().Str("device", device).Str("driver", c.driver.Name()).Logger()

	c.graph.Commit()
	r := newRenderer(c.graph, c.cfg.SampleRate, c.cfg.NumOutputs)
	stream, err := c.driver.Open(device, StreamConfig{
		SampleRate:  c.cfg.SampleRate,
		Channels:    c.cfg.NumOutputs,
		BlockFrames: c.cfg.MaxBlockFrames,
	}, r.render)
	if err != nil {
		return nil, e.fail(log, device, err)
	}
	a := &Active{c: c, device: device, stream: stream, r: r}
	if startImmediately {
		if err := stream.Start(); err != nil {
			stream.Close()
			return nil, e.fail(log, device, err)
		}
		a.started = true
	}

	e.spent = true
	c.metrics.RecordActivation(nil)
	log.Info().
		Uint32("sample_rate", c.cfg.SampleRate).
		Int("channels", c.cfg.NumOutputs).
		Bool("started", a.started).
		Msg("audio engine activated")
	return a, nil
}

func (e *Inactive) fail(log zerolog.Logger, device string, err error) error {
	var de *DeviceError
	if !errors.As(err, &de) {
		de = &DeviceError{Device: device, Err: err}
	}
	e.c.metrics.RecordActivation(de)
	log.Warn().Err(err).Msg("audio engine activation failed")
	return de
}

// Active is an engine with a live device stream.
type Active struct {
	c       *core
	device  string
	stream  Stream
	r       *renderer
	started bool

	once     sync.Once
	inactive *Inactive
	closeErr error
	// lastErr is the graph error published while deactivating.
	lastErr error

	seen stats
}

// Graph returns the topology being processed. Edits become audible at the
// next graph.Commit.
func (a *Active) Graph() *graph.Graph {
	a.check()
	return a.c.graph
}

func (a *Active) Config() Config { return a.c.cfg }

// Device returns the name the stream was opened with.
func (a *Active) Device() string { return a.device }

func (a *Active) check() {
	if a.inactive != nil {
		panic("engine: active handle used after deactivation")
	}
}

// Start begins pulling audio if Activate was called without
// startImmediately.
func (a *Active) Start() error {
	a.check()
	if a.started {
		return nil
	}
	if err := a.stream.Start(); err != nil {
		return &DeviceError{Device: a.device, Err: err}
	}
	a.started = true
	return nil
}

// Deactivate stops and closes the stream and returns the engine to Inactive
// with its graph intact. It always succeeds. Calling it again, including
// after Update reported Deactivated, returns the same *Inactive and does not
// close the stream twice.
func (a *Active) Deactivate() *Inactive {
	a.deactivate("requested")
	return a.inactive
}

func (a *Active) deactivate(reason string) {
	a.once.Do(func() {
		a.closeErr = a.stream.Close()
		a.lastErr = a.publish()
		if a.lastErr != nil {
			a.c.log.Error().Err(a.lastErr).Str("device", a.device).Msg("audio graph error before deactivation")
		}
		a.c.metrics.RecordDeactivation(reason)
		ev := a.c.log.Info()
		if a.closeErr != nil {
			ev = a.c.log.Warn().Err(a.closeErr)
		}
		ev.Str("device", a.device).Str("reason", reason).Msg("audio engine deactivated")
		a.inactive = &Inactive{c: a.c}
	})
}

// GraphErr returns the graph error, such as a *ProcessorFault, that was
// pending when the engine was deactivated. It is nil while the engine is
// active; use Update for those.
func (a *Active) GraphErr() error { return a.lastErr }

// publish hands renderer counters to metrics and reports a new fault, if
// any, as an error.
func (a *Active) publish() error {
	now := a.r.stats()
	prev := a.seen
	a.seen = now
	a.c.metrics.RecordRendered(now.blocks-prev.blocks, now.frames-prev.frames)
	if now.faults == prev.faults {
		return nil
	}
	a.c.metrics.RecordFaults(now.faults - prev.faults)
	fe := &ProcessorFault{Node: now.lastFault, Count: now.faults - prev.faults}
	if n, ok := a.c.graph.Node(now.lastFault); ok {
		fe.Name = n.Info().DebugName
	}
	return fe
}

// UpdateStatus is the result of one Update call.
type UpdateStatus struct {
	// Deactivated is set when the stream stopped for good. The engine has
	// moved to Inactive, which is returned in Inactive.
	Deactivated bool
	// GraphErr is a non-fatal processing error, such as a silenced node.
	GraphErr error
	// Err is the reason for deactivation, if known.
	Err      error
	Inactive *Inactive
}

// Update is called once per control frame. It publishes counters and
// checks the device. If the device failed the engine is deactivated and
// the status says so; further calls keep reporting Deactivated.
func (a *Active) Update() UpdateStatus {
	if a.inactive != nil {
		return UpdateStatus{Deactivated: true, Inactive: a.inactive}
	}
	if err := a.stream.Err(); err != nil {
		a.deactivate("stream_error")
		return UpdateStatus{
			Deactivated: true,
			GraphErr:    a.lastErr,
			Err:         &DeviceError{Device: a.device, Err: err},
			Inactive:    a.inactive,
		}
	}
	return UpdateStatus{GraphErr: a.publish()}
}

// ProcessorFault reports processors silenced after a panic since the last
// Update. Node is the most recent one.
type ProcessorFault struct {
	Node  graph.NodeID
	Name  string
	Count uint64
}

func (e *ProcessorFault) Error() string {
	return fmt.Sprintf("processor %s (%s) faulted and was silenced (%d new)", e.Node, e.Name, e.Count)
}
