//go:build !headless

// driver_oto.go - OTO v3 audio output driver

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
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/oto/v3"
)

// oto allows one context per process, opened with a fixed format.
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat StreamConfig
	otoErr    error
)

func otoContext(cfg StreamConfig) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   int(cfg.SampleRate),
			ChannelCount: cfg.Channels,
			Format:       oto.FormatFloat32LE,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
		otoFormat = cfg
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoFormat.SampleRate != cfg.SampleRate || otoFormat.Channels != cfg.Channels {
		return nil, fmt.Errorf("output already opened at %d Hz/%d ch, cannot reopen at %d Hz/%d ch",
			otoFormat.SampleRate, otoFormat.Channels, cfg.SampleRate, cfg.Channels)
	}
	return otoCtx, nil
}

// OtoDriver plays through the system default output. oto has no device
// selection, so any other device name is reported as not found.
type OtoDriver struct{}

func (OtoDriver) Name() string { return "oto" }

func (OtoDriver) Open(device string, cfg StreamConfig, render RenderFunc) (Stream, error) {
	if !isDefault(device) {
		return nil, fmt.Errorf("%q: %w", device, ErrDeviceNotFound)
	}
	ctx, err := otoContext(cfg)
	if err != nil {
		return nil, err
	}
	s := &otoStream{
		render:    render,
		channels:  cfg.Channels,
		sampleBuf: make([]float32, cfg.BlockFrames*cfg.Channels*2),
	}
	s.player = ctx.NewPlayer(s)
	s.player.SetBufferSize(cfg.BlockFrames * cfg.Channels * 4 * 2)
	return s, nil
}

type otoStream struct {
	player    *oto.Player
	render    RenderFunc
	channels  int
	sampleBuf []float32 // reused by Read

	mutex   sync.Mutex // only for Start/Close
	started bool
	closed  bool
}

// Read is called by oto on its audio thread.
func (s *otoStream) Read(p []byte) (int, error) {
	frames := len(p) / 4 / s.channels
	if frames == 0 {
		clear(p)
		return len(p), nil
	}
	n := frames * s.channels
	// Grows only if oto asks for more than the buffer size it was given.
	if len(s.sampleBuf) < n {
		s.sampleBuf = make([]float32, n)
	}
	samples := s.sampleBuf[:n]
	s.render(samples)

	copy(p, unsafe.Slice((*byte)(unsafe.Pointer(&samples[0])), n*4))
	return n * 4, nil
}

func (s *otoStream) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return fmt.Errorf("oto stream closed")
	}
	if !s.started {
		s.player.Play()
		s.started = true
	}
	return nil
}

func (s *otoStream) Err() error {
	if err := otoCtx.Err(); err != nil {
		return err
	}
	return s.player.Err()
}

func (s *otoStream) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.started = false
	return s.player.Close()
}
