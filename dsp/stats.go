package dsp

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// VectorNorm2 returns the sum of squared magnitudes of v, accumulated in F.
// Power sweeps accumulate in float64; the LMS energy window in float32.
func VectorNorm2[F ~float32 | ~float64](v []complex64) F {
	var e F
	for _, s := range v {
		re, im := F(real(s)), F(imag(s))
		e += re*re + im*im
	}
	return e
}

// Sort orders data ascending in place. NaNs are not expected.
func Sort(data []float64) { slices.Sort(data) }

// Avg returns the population mean and, when stddev is non-nil, the
// population standard deviation of data.
func Avg(data []float64, stddev *float64) float64 {
	n := float64(len(data))
	mean := floats.Sum(data) / n
	if stddev != nil {
		*stddev = math.Sqrt(floats.Dot(data, data)/n - mean*mean)
	}
	return mean
}

// DBFS converts an L2 norm over n full-scale float samples to dBFS,
// flooring tiny norms at -120.
func DBFS(l2norm float64, n int) float64 {
	if l2norm < 1e-9 {
		return -120.0
	}
	rms := l2norm / math.Sqrt(float64(n))
	return 20.0 * math.Log10(rms)
}

// DisplayFreq formats f in MHz, kHz or Hz with a signed leading format.
func DisplayFreq(f float64) string {
	switch {
	case f >= 1e6 || f <= -1e6:
		return fmt.Sprintf("% .0fMHz", f/1e6)
	case f >= 1e3 || f <= -1e3:
		return fmt.Sprintf("% .0fkHz", f/1e3)
	default:
		return fmt.Sprintf("% .0fHz", f)
	}
}
