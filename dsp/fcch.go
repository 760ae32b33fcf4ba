package dsp

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"github.com/runningwild/go-fftw/fftw32"

	"github.com/chzchzchz/kalsdr/ring"
)

// GSMRate is the GSM symbol rate: 1625000/6 = 270833.333 symbols/sec.
const GSMRate = 1625000.0 / 6.0

// FFTSize is the transform length used for frequency measurement.
const FFTSize = 1024

const minPeakMean = 50.0

// Detector locates FCCH bursts, the pure GSMRate/4 sinusoid a base station
// transmits on its C0 carrier. A normalized LMS predictor turns the input
// into a prediction-error series; runs of low error mark tone regions, and
// an FFT peak/mean test over the original samples measures the frequency.
type Detector struct {
	delay      int // prediction delay D
	p          float32
	gain       float32
	errPower   float32
	sampleRate float64
	burstLen   int

	wLen int
	w    []complex64

	xcb *ring.Buffer[complex64]
	ycb *ring.Buffer[complex64]
	ecb *ring.Buffer[float32]

	// low-to-high edge detector; per instance so detectors stay independent
	lthCount int
	lthState int

	in, out *fftw32.Array
	plan    *fftw32.Plan
}

const (
	lthLow  = 0
	lthHigh = 1
)

func NewDetector(sampleRate float64) (*Detector, error) {
	const filterDelay = 8
	d := &Detector{
		delay:      4,
		p:          0.25,
		gain:       1.0,
		sampleRate: sampleRate,
		burstLen:   int(148.0 * sampleRate / GSMRate),
		wLen:       2*filterDelay + 1,
		lthState:   lthHigh,
	}
	d.w = make([]complex64, d.wLen)

	var err error
	if d.xcb, err = ring.New[complex64](8192, false); err != nil {
		return nil, fmt.Errorf("fcch: x buffer: %w", err)
	}
	if d.ycb, err = ring.New[complex64](8192, true); err != nil {
		d.xcb.Close()
		return nil, fmt.Errorf("fcch: y buffer: %w", err)
	}
	if d.ecb, err = ring.New[float32](1015808, false); err != nil {
		d.xcb.Close()
		d.ycb.Close()
		return nil, fmt.Errorf("fcch: e buffer: %w", err)
	}

	d.in, d.out = fftw32.NewArray(FFTSize), fftw32.NewArray(FFTSize)

	// Measured plans are slow to build; wisdom makes later runs instant.
	// A missing or unwritable wisdom file is not an error.
	importWisdom(wisdomPath())
	d.plan = fftw32.NewPlan(d.in, d.out, fftw32.Forward, fftw32.Measure)
	exportWisdom(wisdomPath())

	return d, nil
}

func (d *Detector) Close() {
	if d.plan != nil {
		d.plan.Destroy()
		d.plan = nil
	}
	d.xcb.Close()
	d.ycb.Close()
	d.ecb.Close()
}

func (d *Detector) FilterLen() int { return d.wLen }

// Reset clears the predictor so taps trained on one carrier do not bias
// the next; called on retune.
func (d *Detector) Reset() {
	for i := range d.w {
		d.w[i] = 0
	}
	d.errPower = 0
	d.gain = 1.0
	d.xcb.Flush()
	d.ycb.Flush()
	d.ecb.Flush()
	d.lowToHighInit()
}

// Delay returns how many samples lag between input and error series.
func (d *Detector) Delay() int { return d.wLen - 1 + d.delay }

func (d *Detector) lowToHighInit() {
	d.lthCount = 0
	d.lthState = lthHigh
}

// lowToHigh returns the length of the just-ended low run when e crosses
// from below a to above it, else 0.
func (d *Detector) lowToHigh(e, a float32) int {
	r := 0
	if e > a {
		if d.lthState == lthLow {
			r = d.lthCount
			d.lthState = lthHigh
			d.lthCount = 0
		}
	} else {
		if d.lthState == lthHigh {
			d.lthState = lthLow
			d.lthCount = 0
		}
	}
	d.lthCount++
	return r
}

func conj64(c complex64) complex64 { return complex(real(c), -imag(c)) }

func norm64(c complex64) float32 { return real(c)*real(c) + imag(c)*imag(c) }

func sincf(x float32) float32 {
	if x > -1e-4 && x < 1e-4 {
		return 1.0
	}
	return float32(math.Sin(float64(x))) / x
}

// interpolatePoint evaluates s at fractional index si with a truncated-sinc
// kernel over s[floor(si)-10 .. floor(si)+11], clipped to the slice.
func interpolatePoint(s []complex64, si float32) complex64 {
	const filterLen = 21
	d := (filterLen - 1) / 2
	start := int(math.Floor(float64(si))) - d
	end := int(math.Floor(float64(si))) + d + 1
	if start < 0 {
		start = 0
	}
	if end > len(s)-1 {
		end = len(s) - 1
	}
	var point complex64
	for i := start; i <= end; i++ {
		arg := float32(math.Pi) * (float32(i) - si)
		point += s[i] * complex(sincf(arg), 0)
	}
	return point
}

// peakDetect finds the strongest bin, then refines its position with a
// half-step binary search over sinc-interpolated neighbors down to
// 1/1024-bin resolution.
func peakDetect(s []complex64) (maxI float32, peak complex64, avgPower float32) {
	max := float32(-1.0)
	maxI = -1.0
	var sumPower float32
	for i, v := range s {
		p := norm64(v)
		sumPower += p
		if p > max {
			max = p
			maxI = float32(i)
		}
	}

	earlyI := float32(0)
	if maxI >= 1 {
		earlyI = maxI - 1
	}
	lateI := float32(len(s) - 1)
	if maxI+1 < float32(len(s)) {
		lateI = maxI + 1
	}

	for incr := float32(0.5); incr > 1.0/1024.0; {
		earlyP := interpolatePoint(s, earlyI)
		lateP := interpolatePoint(s, lateI)
		if norm64(earlyP) < norm64(lateP) {
			earlyI += incr
		} else if norm64(earlyP) > norm64(lateP) {
			earlyI -= incr
		} else {
			break
		}
		incr /= 2.0
		lateI = earlyI + 2.0
	}

	maxI = earlyI + 1.0
	peak = interpolatePoint(s, maxI)
	if len(s) > 1 {
		avgPower = (sumPower - norm64(peak)) / float32(len(s)-1)
	} else {
		avgPower = sumPower
	}
	return maxI, peak, avgPower
}

// freqDetect measures the dominant tone of s in Hz along with its
// peak-to-mean power ratio.
func (d *Detector) freqDetect(s []complex64) (float64, float32) {
	n := len(s)
	if n > FFTSize {
		n = FFTSize
	}
	copy(d.in.Elems[:n], s[:n])
	for i := n; i < FFTSize; i++ {
		d.in.Elems[i] = 0
	}
	d.plan.Execute()

	maxI, peak, avgPower := peakDetect(d.out.Elems)
	pm := float32(0)
	if avgPower > 0 {
		pm = norm64(peak) / avgPower
	}
	return float64(maxI) * (d.sampleRate / FFTSize), pm
}

// nextNormError runs one step of the normalized LMS predictor against the
// head of the input ring and returns the normalized error power. The
// second return is 0 on success, else how many more samples are needed.
func (d *Detector) nextNormError() (float32, int) {
	n := d.wLen - 1
	x := d.xcb.Peek()
	if n+d.delay >= len(x) {
		return 0, n + d.delay - len(x) + 1
	}

	e2 := VectorNorm2[float32](x[:d.wLen])
	if e2 > 1e-10 {
		d.gain = 1.0 / e2
	}

	var y complex64
	for i := 0; i < d.wLen; i++ {
		y += conj64(d.w[i]) * x[n-i]
	}

	d.ycb.Write(x[n+d.delay : n+d.delay+1])

	e := x[n+d.delay] - y
	for i := 0; i < d.wLen; i++ {
		d.w[i] += complex(d.gain, 0) * conj64(e) * x[n-i]
	}

	e2 /= float32(d.wLen)
	d.errPower = (1.0-d.p)*d.errPower + d.p*norm64(e)

	var norm float32
	if e2 > 1e-20 {
		norm = d.errPower / e2
	}
	d.xcb.Purge(1)
	return norm, 0
}

// Update feeds samples into the predictor ring without scanning.
func (d *Detector) Update(s []complex64) int { return d.xcb.Write(s) }

// Debug taps into the predictor buffers.
func (d *Detector) DumpX() []complex64 { return d.xcb.Peek() }
func (d *Detector) DumpY() []complex64 { return d.ycb.Peek() }

// Scan feeds s through the predictor, finds the first sufficiently long
// low-error region, and FFT-tests it. On success the returned offset is
// the measured tone frequency in Hz. consumed reports how many samples
// were fed; it equals len(s) whenever the whole buffer was walked.
func (d *Detector) Scan(s []complex64) (offset float64, consumed int, ok bool) {
	sps := d.sampleRate / GSMRate
	minFBLen := int(100 * sps)

	// batched error writes keep ring lock traffic down
	var batch [512]float32
	idx := 0
	sum := 0.0

	fed := 0
	for fed < len(s) {
		fed += d.xcb.Write(s[fed:])
		for {
			e, need := d.nextNormError()
			if need != 0 {
				break
			}
			batch[idx] = e
			idx++
			sum += float64(e)
			if idx == len(batch) {
				d.ecb.Write(batch[:])
				idx = 0
			}
		}
	}
	if idx > 0 {
		d.ecb.Write(batch[:idx])
	}
	consumed = fed

	a := d.ecb.Peek()
	if len(a) == 0 {
		return 0, consumed, false
	}

	limit := float32(0.7 * sum / float64(len(a)))
	log.Debugf("fcch: error limit %f", limit)

	var loff float64
	var pm float32
	d.lowToHighInit()
	for i, e := range a {
		l := d.lowToHigh(e, limit)
		pm = 0
		if l < minFBLen {
			continue
		}
		yOff := i - l
		yLen := l
		if yLen > d.burstLen {
			yLen = d.burstLen
		}
		// consumed == len(s), so error indices line up with s
		loff, pm = d.freqDetect(s[yOff : yOff+yLen])
		log.Debugf("fcch: run %.0f sym, pm %f, freq %f", float64(l)/sps, pm, loff)
		if pm > minPeakMean {
			break
		}
	}

	d.ecb.Flush()
	d.xcb.Flush()
	d.ycb.Flush()

	if pm <= minPeakMean {
		return 0, consumed, false
	}
	return loff, consumed, true
}
