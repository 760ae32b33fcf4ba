package dsp

// Resampler converts the radio's native 2.5 MSPS complex stream to the GSM
// symbol rate, 270833.333 Hz, as a 13/120 rational change split into two
// stages. State persists across Process calls so arbitrary chunking of the
// same stream produces identical output.
type Resampler struct {
	// stage 1: 61-tap FIR, decimate by 5
	d1     [stage1Taps]complex64
	d1pos  int
	phase1 int

	// stage 2: transposed polyphase 13/24. Each input sample scatters one
	// phase bank into the pending-output accumulators; an accumulator is
	// emitted once no future input can reach it.
	acc    [32]complex64
	accPos uint32
	phase2 int
}

func NewResampler() *Resampler { return &Resampler{} }

// MaxOutput bounds how many samples Process can produce for n inputs.
func MaxOutput(n int) int { return n*13/120 + 16 }

// Reset clears both delay lines and phase counters. Call on retune so
// transients from the previous frequency do not leak into the new one.
func (r *Resampler) Reset() {
	*r = Resampler{}
}

// Process resamples in into out and returns the number of samples
// produced. Output beyond len(out) is dropped; size out with MaxOutput.
func (r *Resampler) Process(in, out []complex64) int {
	produced := 0
	for _, x := range in {
		r.d1[r.d1pos] = x
		r.d1pos++
		if r.d1pos == stage1Taps {
			r.d1pos = 0
		}
		r.phase1++
		if r.phase1 < stage1Decim {
			continue
		}
		r.phase1 = 0

		var y complex64
		j := r.d1pos // oldest sample
		for i := stage1Taps - 1; i >= 0; i-- {
			y += r.d1[j] * complex(stage1[i], 0)
			j++
			if j == stage1Taps {
				j = 0
			}
		}
		produced += r.push2(y, out[produced:])
	}
	return produced
}

// push2 feeds one 500 kHz sample into the rational stage, emitting at most
// one output sample.
func (r *Resampler) push2(x complex64, out []complex64) int {
	for j, c := range stage2Banks[r.phase2] {
		r.acc[(r.accPos+uint32(j))&31] += x * complex(c, 0)
	}
	if r.phase2 < stage2Interp {
		r.phase2 += stage2Decim - stage2Interp
		i := r.accPos & 31
		y := r.acc[i]
		r.acc[i] = 0
		r.accPos++
		if len(out) > 0 {
			out[0] = y
			return 1
		}
		return 0
	}
	r.phase2 -= stage2Interp
	return 0
}
