// effects.go - Mixer, overdrive and reverb nodes

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

// MaxMixerPorts bounds the Mixer's input and output counts.
const MaxMixerPorts = 8

// Mixer sums its inputs, scales the sum by Gain and writes it to every output.
type Mixer struct {
	Gain *param.Cell
}

func NewMixer(gain float32) *Mixer {
	return &Mixer{Gain: param.NewCell(gain)}
}

func (m *Mixer) Info() Info {
	return Info{
		DebugName:  "mixer",
		MinInputs:  1,
		MaxInputs:  MaxMixerPorts,
		MinOutputs: 1,
		MaxOutputs: MaxMixerPorts,
	}
}

func (m *Mixer) Activate(sampleRate uint32, _, _ int) (Processor, error) {
	if err := checkSampleRate(sampleRate); err != nil {
		return nil, err
	}
	return &mixerProcessor{gain: m.Gain}, nil
}

type mixerProcessor struct {
	gain *param.Cell
}

func (p *mixerProcessor) Process(frames int, inputs, outputs [][]float32, _ ProcInfo) {
	gain := finite(p.gain.Load())
	out := outputs[0]
	clear(out[:frames])
	for _, in := range inputs {
		for i := 0; i < frames; i++ {
			out[i] += in[i]
		}
	}
	for i := 0; i < frames; i++ {
		out[i] *= gain
	}
	for _, o := range outputs[1:] {
		copy(o, out)
	}
}

// Drive is a tanh saturator. Each input port is driven into the output
// port with the same index. Amount ranges 0-4; 0 passes audio through.
type Drive struct {
	Amount *param.Cell
}

func NewDrive(amount float32) *Drive {
	return &Drive{Amount: param.NewCell(amount)}
}

func (d *Drive) Info() Info {
	return Info{
		DebugName:  "drive",
		MinInputs:  1,
		MaxInputs:  2,
		MinOutputs: 1,
		MaxOutputs: 2,
	}
}

func (d *Drive) Activate(sampleRate uint32, numInputs, numOutputs int) (Processor, error) {
	if err := checkSampleRate(sampleRate); err != nil {
		return nil, err
	}
	if numInputs != numOutputs {
		return nil, fmt.Errorf("drive needs matching ports, got %d in / %d out: %w", numInputs, numOutputs, ErrPortCount)
	}
	return &driveProcessor{amount: d.Amount}, nil
}

type driveProcessor struct {
	amount *param.Cell
}

func (p *driveProcessor) Process(frames int, inputs, outputs [][]float32, _ ProcInfo) {
	amount := finite(p.amount.Load())
	if amount < 0 {
		amount = 0
	} else if amount > 4 {
		amount = 4
	}
	for ch, in := range inputs {
		out := outputs[ch]
		if amount == 0 {
			copy(out, in[:frames])
			continue
		}
		for i := 0; i < frames; i++ {
			out[i] = softClip(in[i] * amount)
		}
	}
}

const (
	reverbRefRate     = 44100
	reverbMinRate     = 8000
	reverbPreDelayMS  = 8
	reverbAttenuation = 0.3
	allpassCoef       = 0.5
)

// Reverb delay lengths in samples at the reference rate of 44100 Hz.
var (
	combDelays    = [4]int{1687, 1601, 2053, 2251}
	combDecays    = [4]float32{0.97, 0.95, 0.93, 0.91}
	allpassDelays = [2]int{389, 307}
)

// Reverb is a mono Schroeder reverb: pre-delay, four parallel combs and two
// series allpass filters. Mix is the dry/wet ratio, Decay scales the comb
// feedback (1 keeps the reference tail).
type Reverb struct {
	Mix   *param.Cell
	Decay *param.Cell
}

func NewReverb(mix float32) *Reverb {
	return &Reverb{Mix: param.NewCell(mix), Decay: param.NewCell(1)}
}

func (r *Reverb) Info() Info {
	return Info{
		DebugName:  "reverb",
		MinInputs:  1,
		MaxInputs:  1,
		MinOutputs: 1,
		MaxOutputs: 1,
	}
}

func (r *Reverb) Activate(sampleRate uint32, _, _ int) (Processor, error) {
	if err := checkSampleRate(sampleRate); err != nil {
		return nil, err
	}
	if sampleRate < reverbMinRate {
		return nil, fmt.Errorf("reverb below %d Hz: %w", reverbMinRate, ErrUnsupportedSampleRate)
	}
	scale := func(n int) int {
		return max(1, n*int(sampleRate)/reverbRefRate)
	}
	p := &reverbProcessor{
		mix:         r.Mix,
		decay:       r.Decay,
		preDelayBuf: make([]float32, max(1, reverbPreDelayMS*int(sampleRate)/1000)),
	}
	for i := range p.combs {
		p.combs[i] = combFilter{buffer: make([]float32, scale(combDelays[i])), decay: combDecays[i]}
	}
	for i := range p.allpassBuf {
		p.allpassBuf[i] = make([]float32, scale(allpassDelays[i]))
	}
	return p, nil
}

type combFilter struct {
	buffer []float32
	decay  float32
	pos    int
}

type reverbProcessor struct {
	mix   *param.Cell
	decay *param.Cell

	preDelayPos int
	allpassPos  [2]int
	combs       [4]combFilter
	allpassBuf  [2][]float32
	preDelayBuf []float32
}

func (p *reverbProcessor) Process(frames int, inputs, outputs [][]float32, _ ProcInfo) {
	mix := finite(p.mix.Load())
	if mix < 0 {
		mix = 0
	} else if mix > 1 {
		mix = 1
	}
	decay := finite(p.decay.Load())
	if decay < 0 {
		decay = 0
	} else if decay > 1 {
		decay = 1
	}

	in, out := inputs[0], outputs[0]
	for i := 0; i < frames; i++ {
		dry := in[i]
		wet := p.tick(dry, decay)
		out[i] = dry*(1-mix) + wet*mix
	}
}

func (p *reverbProcessor) tick(input, decayScale float32) float32 {
	delayed := p.preDelayBuf[p.preDelayPos]
	p.preDelayBuf[p.preDelayPos] = input
	p.preDelayPos = (p.preDelayPos + 1) % len(p.preDelayBuf)

	var out float32
	for i := range p.combs {
		comb := &p.combs[i]
		cDelay := comb.buffer[comb.pos]
		comb.buffer[comb.pos] = delayed + cDelay*comb.decay*decayScale
		out += cDelay
		comb.pos = (comb.pos + 1) % len(comb.buffer)
	}

	for i := range p.allpassBuf {
		pos := p.allpassPos[i]
		buf := p.allpassBuf[i]
		aDelay := buf[pos]
		buf[pos] = out + aDelay*allpassCoef
		out = aDelay - out
		p.allpassPos[i] = (pos + 1) % len(buf)
	}

	return out * reverbAttenuation
}

// Silence accepts up to MaxMixerPorts ports either way and writes zeros.
// It is useful as a placeholder or a sink.
type Silence struct{}

func (Silence) Info() Info {
	return Info{
		DebugName:  "silence",
		MinInputs:  0,
		MaxInputs:  MaxMixerPorts,
		MinOutputs: 0,
		MaxOutputs: MaxMixerPorts,
	}
}

func (Silence) Activate(uint32, int, int) (Processor, error) {
	return silenceProcessor{}, nil
}

type silenceProcessor struct{}

func (silenceProcessor) Process(_ int, _, outputs [][]float32, _ ProcInfo) {
	clearAll(outputs)
}
