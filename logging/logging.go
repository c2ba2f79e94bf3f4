// logging.go - zerolog logger construction

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

// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, output and format.
type Config struct {
	Level      string `yaml:"level"`       // trace, debug, info, warn, error
	Format     string `yaml:"format"`      // console or json
	Output     string `yaml:"output"`      // stdout, stderr or file
	FilePath   string `yaml:"file_path"`   // used when Output is file
	TimeFormat string `yaml:"time_format"` // rfc3339, unix or iso8601
}

func Defaults() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		FilePath:   "logs/audiobridge.log",
		TimeFormat: "rfc3339",
	}
}

// New returns a logger for cfg. The returned closer releases the log file,
// if one was opened, and is never nil.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	nop := zerolog.Nop()
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nop, nopCloser{}, fmt.Errorf("invalid log level '%s': %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	timeFormat, err := parseTimeFormat(cfg.TimeFormat)
	if err != nil {
		return nop, nopCloser{}, err
	}

	var (
		output io.Writer
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	case "file":
		if dir := filepath.Dir(cfg.FilePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nop, nopCloser{}, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nop, nopCloser{}, fmt.Errorf("failed to open log file '%s': %w", cfg.FilePath, err)
		}
		output, closer = file, file
	default:
		return nop, nopCloser{}, fmt.Errorf("invalid log output '%s'", cfg.Output)
	}

	return build(output, cfg.Format, level, timeFormat), closer, nil
}

// NewWriter is New for an explicit writer, used by tests and embedders.
func NewWriter(w io.Writer, cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level '%s': %w", cfg.Level, err)
	}
	timeFormat, err := parseTimeFormat(cfg.TimeFormat)
	if err != nil {
		return zerolog.Nop(), err
	}
	return build(w, cfg.Format, level, timeFormat), nil
}

func build(w io.Writer, format string, level zerolog.Level, timeFormat string) zerolog.Logger {
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	// zerolog reads the time format from a package variable.
	zerolog.TimeFieldFormat = timeFormat
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func parseTimeFormat(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", "rfc3339":
		return time.RFC3339, nil
	case "unix":
		return zerolog.TimeFormatUnix, nil
	case "iso8601":
		return "2006-01-02T15:04:05.000Z07:00", nil
	default:
		return "", fmt.Errorf("invalid time format '%s'", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
