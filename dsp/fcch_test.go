package dsp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeDetector(t *testing.T) {
	d := &Detector{lthState: lthHigh}
	series := []float32{1, 1, 0, 0, 0, 1, 1}
	var runs []int
	for _, e := range series {
		if r := d.lowToHigh(e, 0.5); r > 0 {
			runs = append(runs, r)
		}
	}
	assert.Equal(t, []int{3}, runs)
}

func TestEdgeDetectorPerInstance(t *testing.T) {
	a := &Detector{lthState: lthHigh}
	b := &Detector{lthState: lthHigh}
	a.lowToHigh(0, 0.5)
	a.lowToHigh(0, 0.5)
	// b's state must be untouched by a's run
	assert.Equal(t, 0, b.lowToHigh(1, 0.5))
	assert.Equal(t, 2, a.lowToHigh(1, 0.5))
}

func TestPeakDetectPureBin(t *testing.T) {
	// tone exactly on bin 100 of a 1024-point window
	s := make([]complex64, 1024)
	for i := range s {
		phase := 2.0 * math.Pi * 100.0 * float64(i) / 1024.0
		sn, c := math.Sincos(phase)
		s[i] = complex(float32(c), float32(sn))
	}
	d, err := NewDetector(SampleRateForTest)
	require.NoError(t, err)
	defer d.Close()

	freq, pm := d.freqDetect(s)
	assert.InDelta(t, 100.0*SampleRateForTest/1024.0, freq, 30.0)
	assert.Greater(t, pm, float32(minPeakMean))
}

// capture builds a 12-frame noise stream with one FCCH-length tone burst
// per frame, the way a BCCH carrier looks after channelization.
func capture(rng *rand.Rand, frames int, toneHz, noiseAmp float64) []complex64 {
	const frameSym = 8 * 156.25
	frameLen := int(frameSym) // sps == 1 at the GSM symbol rate
	burstLen := 148
	s := make([]complex64, 0, frames*frameLen)
	for f := 0; f < frames; f++ {
		for i := 0; i < frameLen; i++ {
			re := noiseAmp * rng.NormFloat64() / math.Sqrt2
			im := noiseAmp * rng.NormFloat64() / math.Sqrt2
			if i < burstLen {
				phase := 2.0 * math.Pi * toneHz * float64(len(s)) / SampleRateForTest
				sn, c := math.Sincos(phase)
				re += c
				im += sn
			}
			s = append(s, complex(float32(re), float32(im)))
		}
	}
	return s
}

const SampleRateForTest = GSMRate

func TestScanFindsBurst(t *testing.T) {
	d, err := NewDetector(SampleRateForTest)
	require.NoError(t, err)
	defer d.Close()

	rng := rand.New(rand.NewSource(11))
	toneHz := GSMRate/4 + 5000.0
	s := capture(rng, 12, toneHz, 0.1) // SNR 20 dB

	offset, consumed, ok := d.Scan(s)
	require.True(t, ok)
	assert.Equal(t, len(s), consumed)
	assert.InDelta(t, toneHz, offset, 100.0)
}

func TestScanOffsetSweep(t *testing.T) {
	d, err := NewDetector(SampleRateForTest)
	require.NoError(t, err)
	defer d.Close()

	for _, delta := range []float64{-15000, -250, 250, 15000} {
		rng := rand.New(rand.NewSource(int64(42 + delta)))
		toneHz := GSMRate/4 + delta
		s := capture(rng, 12, toneHz, 0.1)
		offset, _, ok := d.Scan(s)
		require.True(t, ok, "delta %f", delta)
		assert.InDelta(t, toneHz, offset, 100.0, "delta %f", delta)
	}
}

func TestScanWhiteNoiseFalsePositives(t *testing.T) {
	if testing.Short() {
		t.Skip("long noise sweep")
	}
	d, err := NewDetector(SampleRateForTest)
	require.NoError(t, err)
	defer d.Close()

	rng := rand.New(rand.NewSource(3))
	n := int(12 * 8 * 156.25)
	s := make([]complex64, n)
	hits := 0
	for trial := 0; trial < 100; trial++ {
		for i := range s {
			s[i] = complex(float32(rng.NormFloat64()), float32(rng.NormFloat64()))
		}
		if _, _, ok := d.Scan(s); ok {
			hits++
		}
	}
	assert.Less(t, hits, 5)
}

func TestScanConsumesAllInput(t *testing.T) {
	d, err := NewDetector(SampleRateForTest)
	require.NoError(t, err)
	defer d.Close()

	s := make([]complex64, 30000) // larger than the 8192-sample input ring
	_, consumed, ok := d.Scan(s)
	assert.False(t, ok)
	assert.Equal(t, len(s), consumed)
	// internal buffers flush at the end of every scan
	assert.Empty(t, d.DumpX())
	assert.Empty(t, d.DumpY())
}
