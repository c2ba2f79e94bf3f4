// config.go - YAML configuration with .env and environment overrides

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

// Package config loads the audiobridge configuration. Values come from, in
// increasing priority: built-in defaults, a YAML file, .env files and the
// process environment (AUDIOBRIDGE_*), and finally command-line flags, which
// the binary applies itself.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/intuitionamiga/audiobridge/bridge"
	"github.com/intuitionamiga/audiobridge/engine"
	"github.com/intuitionamiga/audiobridge/logging"
)

const envPrefix = "AUDIOBRIDGE_"

type Config struct {
	Engine    engine.Config  `yaml:"engine"`
	Device    string         `yaml:"device"`
	Strategy  string         `yaml:"strategy"`   // borrow or restart
	FrameRate int            `yaml:"frame_rate"` // control frames per second
	Log       logging.Config `yaml:"log"`
	Metrics   Metrics        `yaml:"metrics"`
	Script    string         `yaml:"script"`
	MIDI      MIDI           `yaml:"midi"`
}

type Metrics struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
	Path string `yaml:"path"`
}

type MIDI struct {
	Port    string  `yaml:"port"` // empty disables MIDI input
	Channel int     `yaml:"channel"`
	Gain    float32 `yaml:"gain"`
}

func Defaults() Config {
	return Config{
		Engine:    engine.Defaults(),
		Device:    engine.DefaultDevice,
		Strategy:  bridge.Borrow.String(),
		FrameRate: 60,
		Log:       logging.Defaults(),
		Metrics:   Metrics{Path: "/metrics"},
		MIDI:      MIDI{Channel: -1, Gain: 0.2},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return cfg, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadEnv loads .env files into the process environment without
// overwriting variables that are already set. Missing files are skipped.
// With no arguments it tries ".env".
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from AUDIOBRIDGE_* variables. lookup is
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = n
	}

	str("DEVICE", &c.Device)
	str("STRATEGY", &c.Strategy)
	str("SCRIPT", &c.Script)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_OUTPUT", &c.Log.Output)
	str("LOG_FILE", &c.Log.FilePath)
	str("MIDI_PORT", &c.MIDI.Port)
	num("FRAME_RATE", &c.FrameRate)
	num("BLOCK_FRAMES", &c.Engine.MaxBlockFrames)
	num("OUTPUTS", &c.Engine.NumOutputs)
	num("MIDI_CHANNEL", &c.MIDI.Channel)

	if v, ok := lookup(envPrefix + "SAMPLE_RATE"); ok {
		rate, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSAMPLE_RATE: %w", envPrefix, err))
		} else {
			c.Engine.SampleRate = uint32(rate)
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if _, err := bridge.ParseStrategy(c.Strategy); err != nil {
		errs = append(errs, err)
	}
	if c.FrameRate < 1 || c.FrameRate > 1000 {
		errs = append(errs, fmt.Errorf("frame rate %d out of range 1..1000", c.FrameRate))
	}
	if c.MIDI.Channel < -1 || c.MIDI.Channel > 15 {
		errs = append(errs, fmt.Errorf("midi channel %d out of range -1..15", c.MIDI.Channel))
	}
	return errors.Join(errs...)
}
