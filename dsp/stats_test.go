package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorNorm2(t *testing.T) {
	v := []complex64{complex(3, 4), complex(0, 2)}
	assert.InDelta(t, 29.0, float64(VectorNorm2[float64](v)), 1e-9)
	assert.InDelta(t, 29.0, float64(VectorNorm2[float32](v)), 1e-4)
}

func TestAvg(t *testing.T) {
	var stddev float64
	mean := Avg([]float64{2, 4, 4, 4, 5, 5, 7, 9}, &stddev)
	assert.InDelta(t, 5.0, mean, 1e-12)
	// population stddev, not sample
	assert.InDelta(t, 2.0, stddev, 1e-12)

	assert.InDelta(t, 3.0, Avg([]float64{3, 3, 3}, nil), 1e-12)
}

func TestSort(t *testing.T) {
	d := []float64{3, -1, 2}
	Sort(d)
	assert.Equal(t, []float64{-1, 2, 3}, d)
}

func TestDBFS(t *testing.T) {
	// full-scale: rms 1.0 over any n
	assert.InDelta(t, 0.0, DBFS(math.Sqrt(1024), 1024), 1e-9)
	assert.InDelta(t, -20.0, DBFS(0.1*math.Sqrt(1024), 1024), 1e-9)
	assert.Equal(t, -120.0, DBFS(1e-10, 1024))
}

func TestDisplayFreq(t *testing.T) {
	assert.Equal(t, " 2MHz", DisplayFreq(1.9e6))
	assert.Equal(t, "-67kHz", DisplayFreq(-67.2e3))
	assert.Equal(t, " 250Hz", DisplayFreq(250.0))
	assert.Equal(t, "-250Hz", DisplayFreq(-250.0))
}
