// beep.go - Sine beep node with atomic amplitude and frequency

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

import "github.com/intuitionamiga/audiobridge/param"

// Beep is a single sine voice. Amplitude and Frequency are written by the
// control side and read by the processor at the start of every block.
type Beep struct {
	Amplitude *param.Cell
	Frequency *param.Cell
}

// NewBeep returns a beep with its cells initialised.
func NewBeep(amplitude, frequency float32) *Beep {
	return &Beep{
		Amplitude: param.NewCell(amplitude),
		Frequency: param.NewCell(frequency),
	}
}

func (b *Beep) Info() Info {
	return Info{
		DebugName:  "beep",
		MinInputs:  0,
		MaxInputs:  0,
		MinOutputs: 1,
		MaxOutputs: 1,
	}
}

func (b *Beep) Activate(sampleRate uint32, _, _ int) (Processor, error) {
	if err := checkSampleRate(sampleRate); err != nil {
		return nil, err
	}
	return &beepProcessor{params: b, sampleRate: float32(sampleRate)}, nil
}

type beepProcessor struct {
	params     *Beep
	sampleRate float32
	// cycle is the position in the current period, in [0, 1).
	cycle float32
}

func (p *beepProcessor) Process(frames int, _, outputs [][]float32, _ ProcInfo) {
	step := finite(p.params.Frequency.Load()) / p.sampleRate
	amplitude := finite(p.params.Amplitude.Load())
	out := outputs[0]
	for i := 0; i < frames; i++ {
		out[i] = sine(p.cycle) * amplitude
		p.cycle = wrapCycle(p.cycle + step)
	}
}
