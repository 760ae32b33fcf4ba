package dsp

import "math"

// Stage 1 decimates 2.5 MSPS by 5 behind a 61-tap low-pass at 0.1*Fs.
// Stage 2 runs 13/24 against a 729-tap prototype designed on the 6.5 MHz
// common grid (13 * 500 kHz == 24 * 270.833 kHz), demultiplexed modulo 24
// into phase banks so one input touches at most 31 coefficients.
const (
	stage1Taps   = 61
	stage1Decim  = 5
	stage2Proto  = 729
	stage2Interp = 13
	stage2Decim  = 24
)

var (
	stage1 []float32
	// stage2Banks[p][j] = proto[p + 24*j], scaled by the interpolation
	// factor so a DC input keeps unit gain through the zero-stuffed model.
	stage2Banks [stage2Decim][]float32
)

func init() {
	stage1 = firLowpass(stage1Taps, 250e3/2.5e6)

	proto := firLowpass(stage2Proto, 165e3/6.5e6)
	for i, c := range proto {
		stage2Banks[i%stage2Decim] = append(stage2Banks[i%stage2Decim], c*stage2Interp)
	}
}

// firLowpass designs a Blackman-windowed sinc with unity DC gain.
// Design runs in float64; only the stored taps are float32.
func firLowpass(n int, cutoff float64) []float32 {
	mid := float64(n-1) / 2.0
	h := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		x := 2.0 * math.Pi * cutoff * (float64(i) - mid)
		s := 1.0
		if math.Abs(x) > 1e-9 {
			s = math.Sin(x) / x
		}
		w := 0.42 -
			0.5*math.Cos(2.0*math.Pi*float64(i)/float64(n-1)) +
			0.08*math.Cos(4.0*math.Pi*float64(i)/float64(n-1))
		h[i] = 2.0 * cutoff * s * w
		sum += h[i]
	}
	out := make([]float32, n)
	for i := range h {
		out[i] = float32(h[i] / sum)
	}
	return out
}
