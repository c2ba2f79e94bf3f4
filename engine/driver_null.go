// driver_null.go - Device-less driver for tests and headless runs

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

package engine

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"
)

// ErrStreamClosed is returned by NullStream.Start after Close.
var ErrStreamClosed = errors.New("stream closed")

// NullDriver opens fake streams. The default device always exists; Devices
// names additional ones. Clocked streams render on their own locked OS
// thread at the block period. Other streams render only when Pull is
// called, which makes block processing deterministic in tests.
type NullDriver struct {
	Devices []string
	Clocked bool

	mu      sync.Mutex
	streams []*NullStream
}

func (d *NullDriver) Name() string { return "null" }

func (d *NullDriver) Open(device string, cfg StreamConfig, render RenderFunc) (Stream, error) {
	if !isDefault(device) && !slices.Contains(d.Devices, device) {
		return nil, fmt.Errorf("%q: %w", device, ErrDeviceNotFound)
	}
	if cfg.Channels < 1 || cfg.BlockFrames < 1 || cfg.SampleRate == 0 {
		return nil, fmt.Errorf("unsupported stream format %+v", cfg)
	}
	s := &NullStream{
		device:  device,
		cfg:     cfg,
		render:  render,
		clocked: d.Clocked,
		buf:     make([]float32, cfg.BlockFrames*cfg.Channels),
	}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// Opened returns how many streams were opened.
func (d *NullDriver) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Last returns the most recently opened stream, or nil.
func (d *NullDriver) Last() *NullStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// NullStream is a stream opened by NullDriver.
type NullStream struct {
	device  string
	cfg     StreamConfig
	render  RenderFunc
	clocked bool
	buf     []float32

	mu      sync.Mutex
	started bool
	closes  int
	err     error
	stop    chan struct{}
	done    chan struct{}
}

func (s *NullStream) Device() string       { return s.device }
func (s *NullStream) Config() StreamConfig { return s.cfg }

func (s *NullStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return ErrStreamClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	if s.clocked {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.run(s.stop, s.done)
	}
	return nil
}

func (s *NullStream) run(stop, done chan struct{}) {
	defer close(done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	period := time.Duration(s.cfg.BlockFrames) * time.Second / time.Duration(s.cfg.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.render(s.buf)
		}
	}
}

// Pull renders frames on the caller's goroutine, as the device thread of a
// real driver would, and returns the interleaved samples. The result is
// valid until the next Pull. A stream that is not running yields silence.
func (s *NullStream) Pull(frames int) []float32 {
	n := frames * s.cfg.Channels
	if len(s.buf) < n {
		s.buf = make([]float32, n)
	}
	out := s.buf[:n]
	if !s.Running() {
		clear(out)
		return out
	}
	s.render(out)
	return out
}

// Running reports whether the stream was started and not closed or failed.
func (s *NullStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && s.closes == 0 && s.err == nil
}

// Fail simulates the device going away.
func (s *NullStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *NullStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *NullStream) Close() error {
	s.mu.Lock()
	s.closes++
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// Closes counts Close calls.
func (s *NullStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
