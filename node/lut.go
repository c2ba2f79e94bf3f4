// lut.go - sampled curves for the oscillators and the drive stage

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

import "math"

// curve is a function sampled at evenly spaced points over [lo, hi] and
// read back with linear interpolation.
type curve struct {
	lo, perStep float32
	pts         []float32
}

func sampleCurve(n int, lo, hi float64, f func(float64) float64) curve {
	c := curve{lo: float32(lo), perStep: float32(float64(n-1) / (hi - lo)), pts: make([]float32, n)}
	for i := range c.pts {
		c.pts[i] = float32(f(lo + (hi-lo)*float64(i)/float64(n-1)))
	}
	return c
}

// at clamps x to the sampled range.
func (c *curve) at(x float32) float32 {
	pos := (x - c.lo) * c.perStep
	if !(pos > 0) {
		return c.pts[0]
	}
	last := len(c.pts) - 1
	i := int(pos)
	if i >= last {
		return c.pts[last]
	}
	frac := pos - float32(i)
	return c.pts[i] + frac*(c.pts[i+1]-c.pts[i])
}

// One sine cycle in 8192 steps. The closing point repeats the first so
// reads never wrap.
var sineCycle = sampleCurve(8193, 0, 1, func(c float64) float64 {
	return math.Sin(2 * math.Pi * c)
})

// tanh saturates to within 7e-4 of ±1 past |x| = 4.
var tanhCurve = sampleCurve(4096, -4, 4, math.Tanh)

// sine returns sin(2π·c) for a position c measured in cycles.
func sine(c float32) float32 {
	return sineCycle.at(wrapCycle(c))
}

// softClip is a table tanh clamped to ±1 outside [-4, 4].
func softClip(x float32) float32 {
	switch {
	case x >= 4:
		return 1
	case x <= -4:
		return -1
	}
	return tanhCurve.at(x)
}

// edgeResidual is the polynomial band-limited step for a rising unit edge
// at cycle position 0. pos is the position in the cycle and inc the
// per-sample increment; only the sample on each side of the edge is
// corrected.
func edgeResidual(pos, inc float32) float32 {
	switch {
	case pos < inc:
		d := pos/inc - 1
		return -d * d
	case pos > 1-inc:
		d := (pos-1)/inc + 1
		return d * d
	}
	return 0
}

// wrapCycle keeps a cycle position inside [0, 1). A non-finite position
// restarts at 0.
func wrapCycle(c float32) float32 {
	if c >= 1 || c < 0 {
		c -= float32(math.Floor(float64(c)))
	}
	if !(c >= 0 && c < 1) {
		return 0
	}
	return c
}

// finite returns v, or 0 when v is NaN or infinite.
func finite(v float32) float32 {
	if v != v || v > math.MaxFloat32 || v < -math.MaxFloat32 {
		return 0
	}
	return v
}
