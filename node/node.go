// node.go - Audio node lifecycle contract

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

// Package node defines the contract every audio-producing unit implements.
//
// A Node describes its port ranges and, when inserted into a graph, is
// activated into a Processor. Activate runs on the control side and may
// allocate. Process runs on the real-time thread only, once per block, and
// must not allocate, block or fail: faults are absorbed inside the processor
// (usually by writing silence).
package node

import (
	"errors"
	"fmt"
)

// MaxSampleRate is the highest sample rate a built-in node accepts.
const MaxSampleRate = 384000

var (
	// ErrPortCount is returned when a node is inserted with port counts
	// outside the ranges its Info advertises.
	ErrPortCount = errors.New("port count out of range")

	// ErrUnsupportedSampleRate is returned by Activate for rates a node
	// cannot run at.
	ErrUnsupportedSampleRate = errors.New("unsupported sample rate")
)

// Info describes the port ranges a node supports.
type Info struct {
	DebugName  string
	MinInputs  int
	MaxInputs  int
	MinOutputs int
	MaxOutputs int
}

// Check validates a concrete port configuration against the ranges.
func (i Info) Check(numInputs, numOutputs int) error {
	if numInputs < i.MinInputs || numInputs > i.MaxInputs {
		return fmt.Errorf("%s: %d inputs, want %d..%d: %w", i.DebugName, numInputs, i.MinInputs, i.MaxInputs, ErrPortCount)
	}
	if numOutputs < i.MinOutputs || numOutputs > i.MaxOutputs {
		return fmt.Errorf("%s: %d outputs, want %d..%d: %w", i.DebugName, numOutputs, i.MinOutputs, i.MaxOutputs, ErrPortCount)
	}
	return nil
}

// ProcInfo is passed to every Process call.
type ProcInfo struct {
	SampleRate uint32
	// Frame is the stream position, in frames, of the first frame of the block.
	Frame uint64
}

// Node is a unit of audio processing before activation.
type Node interface {
	Info() Info
	Activate(sampleRate uint32, numInputs, numOutputs int) (Processor, error)
}

// Processor is the activated, real-time half of a node.
//
// inputs and outputs hold one slice per port, each exactly frames long.
// Inputs are read-only; every output must be fully written.
type Processor interface {
	Process(frames int, inputs, outputs [][]float32, info ProcInfo)
}

// ActivationError reports a node that could not be built into a processor.
// The node is not inserted into the graph.
type ActivationError struct {
	Node string
	Err  error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activate %s: %v", e.Node, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// checkSampleRate is the common sample rate guard for built-in nodes.
func checkSampleRate(sampleRate uint32) error {
	if sampleRate == 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf("%d Hz: %w", sampleRate, ErrUnsupportedSampleRate)
	}
	return nil
}

// clearAll zeroes every buffer.
func clearAll(bufs [][]float32) {
	for _, b := range bufs {
		clear(b)
	}
}
