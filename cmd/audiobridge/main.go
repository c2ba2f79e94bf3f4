// main.go - audiobridge entry point

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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/intuitionamiga/audiobridge/bridge"
	"github.com/intuitionamiga/audiobridge/config"
	"github.com/intuitionamiga/audiobridge/engine"
	"github.com/intuitionamiga/audiobridge/logging"
	"github.com/intuitionamiga/audiobridge/metrics"
	"github.com/intuitionamiga/audiobridge/midictl"
	"github.com/intuitionamiga/audiobridge/scene"
	"github.com/intuitionamiga/audiobridge/script"
)

func boilerPlate() {
	fmt.Println("audiobridge - control/audio coordination demo")
	fmt.Println("keys: space=toggle  n=new voice  x=remove voice  d=next device  q=quit")
}

type flags struct {
	configPath string
	envFiles   string
	device     string
	strategy   string
	script     string
	midiPort   string
	metrics    string
	logLevel   string
	noKeys     bool
}

// parseFlags returns flag.ErrHelp for -h.
func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("audiobridge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.envFiles, "env", ".env", "Comma separated .env files (missing files are skipped)")
	fs.StringVar(&f.device, "device", "", "Audio output device")
	fs.StringVar(&f.strategy, "strategy", "", "Mutation strategy: borrow or restart")
	fs.StringVar(&f.script, "script", "", "Lua scene script")
	fs.StringVar(&f.midiPort, "midi", "", "MIDI input port (needs a build with -tags rtmidi)")
	fs.StringVar(&f.metrics, "metrics", "", "Prometheus listen address, e.g. :9090")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level")
	fs.BoolVar(&f.noKeys, "no-keys", false, "Do not read keys from the terminal")
	fs.Usage = func() {
		fs.SetOutput(os.Stdout)
		fmt.Println("Usage: audiobridge [-config file.yaml] [-device name] [-strategy borrow|restart] [-script scene.lua] [-midi port]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return f, nil
}

// loadConfig layers file, .env, environment and flags.
func loadConfig(f flags, lookup func(string) (string, bool)) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}
	if f.envFiles != "" {
		if err := config.LoadEnv(strings.Split(f.envFiles, ",")...); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	for dst, v := range map[*string]string{
		&cfg.Device:       f.device,
		&cfg.Strategy:     f.strategy,
		&cfg.Script:       f.script,
		&cfg.MIDI.Port:    f.midiPort,
		&cfg.Metrics.Addr: f.metrics,
		&cfg.Log.Level:    f.logLevel,
	} {
		if v != "" {
			*dst = v
		}
	}
	return cfg, cfg.Validate()
}

func main() {
	boilerPlate()

	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loadConfig(f, os.LookupEnv)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(cfg, f, log); err != nil {
		log.Error().Err(err).Msg("audiobridge stopped")
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config, f flags, log zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a, err := newApp(cfg, engine.OtoDriver{}, m, log)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", cfg.Metrics.Addr).Str("path", cfg.Metrics.Path).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var keys <-chan byte
	if !f.noKeys {
		kh, err := startKeys()
		if err != nil {
			log.Warn().Err(err).Msg("keyboard control disabled")
		} else {
			defer kh.Stop()
			keys = kh.Keys()
		}
	}

	g.Go(func() error {
		t := time.NewTicker(time.Second / time.Duration(cfg.FrameRate))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case k := <-keys:
				if a.handleKey(k) {
					cancel()
				}
			case <-t.C:
				a.tick(ctx)
			}
		}
	})
	return g.Wait()
}

// app owns the control side: the world, its inputs and the runtime.
type app struct {
	log     zerolog.Logger
	rt      *bridge.Runtime
	world   *scene.World
	beeps   *bridge.Bridge[*scene.Beep]
	lua     *script.Engine
	midi    *midictl.Controller
	midiOff func()
	devices []string
	frame   uint64
	budget  time.Duration
}

func newApp(cfg config.Config, drv engine.Driver, m *metrics.Metrics, log zerolog.Logger) (*app, error) {
	strategy, err := bridge.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	in := engine.New(cfg.Engine, drv, engine.WithLogger(log), engine.WithMetrics(m))
	rt := bridge.NewRuntime(in, bridge.WithLogger(log), bridge.WithMetrics(m), bridge.WithStrategy(strategy))
	a := &app{
		log:     log,
		rt:      rt,
		world:   scene.NewWorld(),
		devices: []string{engine.DefaultDevice},
		budget:  time.Second / time.Duration(cfg.FrameRate) / 2,
	}
	if cfg.Device != engine.DefaultDevice && cfg.Device != "" {
		a.devices = append(a.devices, cfg.Device)
	}
	a.beeps = bridge.Track[*scene.Beep](rt, "beep", a.world)

	if cfg.Script != "" {
		a.lua = script.New(a.world, log)
		if err := a.lua.DoFile(cfg.Script); err != nil {
			a.lua.Close()
			return nil, err
		}
	} else {
		a.world.Spawn(scene.Beep{Amplitude: 0, Frequency: 440})
	}

	if cfg.MIDI.Port != "" {
		a.midi = midictl.New(a.world, cfg.MIDI.Channel, cfg.MIDI.Gain, log)
		stop, err := midictl.Listen(cfg.MIDI.Port, a.midi)
		if err != nil {
			log.Warn().Err(err).Msg("midi input disabled")
			a.midi = nil
		} else {
			a.midiOff = stop
		}
	}

	// Running without a device is fine; the scene is still tracked and the
	// user can switch devices later.
	if err := rt.Start(cfg.Device); err != nil {
		log.Warn().Err(err).Msg("starting without audio output")
	}
	return a, nil
}

// tick runs one control frame.
func (a *app) tick(ctx context.Context) {
	a.frame++
	if a.lua != nil {
		sctx, done := context.WithTimeout(ctx, a.budget)
		if err := a.lua.Frame(sctx, a.frame); err != nil {
			a.log.Error().Err(err).Msg("script frame failed")
		}
		done()
	}
	if a.midi != nil {
		a.midi.Frame()
	}
	if err := a.rt.Frame(); err != nil {
		a.log.Warn().Err(err).Uint64("frame", a.frame).Msg("control frame had errors")
	}
}

// handleKey reacts to a key press and reports whether to quit.
func (a *app) handleKey(k byte) bool {
	switch k {
	case 'q', 3: // Ctrl-C arrives as a byte in raw mode
		return true
	case ' ':
		for _, e := range a.world.Entities() {
			b, _ := a.world.Get(e)
			amp := float32(0.2)
			if b.Amplitude > 0 {
				amp = 0
			}
			a.world.SetAmplitude(e, amp)
		}
	case 'n':
		freq := float32(220 * (a.world.Len() + 1))
		a.world.Spawn(scene.Beep{Amplitude: 0.2, Frequency: freq})
	case 'x':
		if ids := a.world.Entities(); len(ids) > 0 {
			a.world.Despawn(ids[len(ids)-1])
		}
	case 'd':
		next := a.devices[0]
		for i, d := range a.devices {
			if d == a.rt.Device() {
				next = a.devices[(i+1)%len(a.devices)]
			}
		}
		a.rt.SetOutputDevice(next)
	}
	return false
}

func (a *app) close() {
	if a.midiOff != nil {
		a.midiOff()
	}
	if a.midi != nil {
		a.midi.ReleaseAll()
	}
	if err := a.rt.Shutdown(); err != nil {
		a.log.Warn().Err(err).Msg("graph error at shutdown")
	}
	if a.lua != nil {
		a.lua.Close()
	}
}
