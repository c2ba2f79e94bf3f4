// oscillator.go - Multi-waveform oscillator node

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

package node

import (
	"fmt"

	"github.com/intuitionamiga/audiobridge/param"
)

// Wave selects the oscillator waveform.
type Wave int

const (
	WaveSquare Wave = iota
	WaveTriangle
	WaveSine
	WaveSawtooth
	WaveNoise
)

func (w Wave) String() string {
	switch w {
	case WaveSquare:
		return "square"
	case WaveTriangle:
		return "triangle"
	case WaveSine:
		return "sine"
	case WaveSawtooth:
		return "sawtooth"
	case WaveNoise:
		return "noise"
	default:
		return fmt.Sprintf("wave(%d)", int(w))
	}
}

// NoiseMode selects the LFSR feedback used by WaveNoise.
type NoiseMode int

const (
	NoiseWhite    NoiseMode = iota // taps 23,18: maximal-length sequence
	NoisePeriodic                  // plain rotation, repeating pattern
	NoiseMetallic                  // taps 23,15: metallic tone
)

const (
	noiseLFSRSeed = 0x7FFFFF // 23-bit LFSR seed
	noiseLFSRMask = 0x7FFFFF
)

// Oscillator is a band-limited multi-waveform voice. Its waveform and noise
// mode are fixed at construction; the cells may change at any time.
type Oscillator struct {
	Wave      Wave
	NoiseMode NoiseMode
	Frequency *param.Cell // Hz
	Amplitude *param.Cell // 0-1
	Duty      *param.Cell // square duty cycle 0-1
}

// NewOscillator returns an oscillator with a 50% duty cycle.
func NewOscillator(wave Wave, frequency, amplitude float32) *Oscillator {
	return &Oscillator{
		Wave:      wave,
		Frequency: param.NewCell(frequency),
		Amplitude: param.NewCell(amplitude),
		Duty:      param.NewCell(0.5),
	}
}

func (o *Oscillator) Info() Info {
	return Info{
		DebugName:  "oscillator/" + o.Wave.String(),
		MinInputs:  0,
		MaxInputs:  0,
		MinOutputs: 1,
		MaxOutputs: 2,
	}
}

func (o *Oscillator) Activate(sampleRate uint32, _, _ int) (Processor, error) {
	if err := checkSampleRate(sampleRate); err != nil {
		return nil, err
	}
	if o.Wave < WaveSquare || o.Wave > WaveNoise {
		return nil, fmt.Errorf("unknown waveform %v", o.Wave)
	}
	return &oscillatorProcessor{
		osc:        o,
		sampleRate: float32(sampleRate),
		noiseSR:    noiseLFSRSeed,
	}, nil
}

type oscillatorProcessor struct {
	osc        *Oscillator
	sampleRate float32
	phase      float32 // normalized 0-1
	noisePhase float32
	noiseValue float32
	noiseSR    uint32
}

func (p *oscillatorProcessor) Process(frames int, _, outputs [][]float32, _ ProcInfo) {
	freq := finite(p.osc.Frequency.Load())
	amp := finite(p.osc.Amplitude.Load())
	duty := finite(p.osc.Duty.Load())
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}
	dt := freq / p.sampleRate
	if dt < 0 {
		dt = -dt
	}
	if dt >= 0.5 {
		// Above Nyquist there is nothing meaningful to render.
		clearAll(outputs)
		return
	}

	out := outputs[0]
	for i := 0; i < frames; i++ {
		out[i] = p.next(dt, duty) * amp
	}
	for _, o := range outputs[1:] {
		copy(o, out)
	}
}

func (p *oscillatorProcessor) next(dt, duty float32) float32 {
	t := p.phase
	var sample float32

	switch p.osc.Wave {
	case WaveSquare:
		if t < duty {
			sample = 1
		} else {
			sample = -1
		}
		if dt > 0 {
			sample += edgeResidual(t, dt)
			t2 := t - duty
			if t2 < 0 {
				t2 += 1
			}
			sample -= edgeResidual(t2, dt)
		}
	case WaveTriangle:
		sample = 2*abs32(2*t-1) - 1
	case WaveSine:
		sample = sine(t)
	case WaveSawtooth:
		sample = 2*t - 1
		if dt > 0 {
			sample -= edgeResidual(t, dt)
		}
	case WaveNoise:
		sample = p.noise(dt)
	}

	p.phase += dt
	if p.phase >= 1 {
		p.phase -= 1
	}
	return sample
}

func (p *oscillatorProcessor) noise(dt float32) float32 {
	// The LFSR is clocked at the oscillator frequency.
	p.noisePhase += dt * 8
	steps := int(p.noisePhase)
	p.noisePhase -= float32(steps)

	for i := 0; i < steps; i++ {
		switch p.osc.NoiseMode {
		case NoisePeriodic:
			p.noiseSR = ((p.noiseSR >> 1) | ((p.noiseSR & 1) << 22)) & noiseLFSRMask
		case NoiseMetallic:
			newBit := ((p.noiseSR >> 22) ^ (p.noiseSR >> 14)) & 1
			p.noiseSR = ((p.noiseSR << 1) | newBit) & noiseLFSRMask
		default:
			newBit := ((p.noiseSR >> 22) ^ (p.noiseSR >> 17)) & 1
			p.noiseSR = ((p.noiseSR << 1) | newBit) & noiseLFSRMask
		}
	}
	if steps > 0 {
		if p.noiseSR&1 != 0 {
			p.noiseValue = 1
		} else {
			p.noiseValue = -1
		}
	}
	return p.noiseValue
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
