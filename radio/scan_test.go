package radio

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// One synthetic BCCH carrier in an otherwise dead band: pass 1 must put
// only that channel above threshold and pass 2 must confirm it.
func TestScanBandFindsBCCH(t *testing.T) {
	if testing.Short() {
		t.Skip("full band scan")
	}
	bcchFreq, err := ARFCNToFreq(960, GSMR)
	require.NoError(t, err)

	drv := &fakeDriver{bcchFreq: uint64(bcchFreq), delta: 40}
	src := newTestSource(t, drv)

	results, err := ScanBand(context.Background(), src, GSMR, ScanOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 960, results[0].Chan)
	assert.InDelta(t, bcchFreq, results[0].Freq, 1.0)
	assert.Less(t, math.Abs(results[0].Offset-40), 100.0)
}

// Offset run against a +250 Hz carrier: the trimmed mean lands on the
// injected offset and the ppm follows from the carrier frequency.
func TestOffsetRunAveragesBursts(t *testing.T) {
	if testing.Short() {
		t.Skip("long averaging run")
	}
	const freq = 935.2e6
	drv := &fakeDriver{bcchFreq: uint64(freq), delta: 250}
	src := newTestSource(t, drv)
	require.NoError(t, src.Tune(freq))

	report, err := OffsetRun(context.Background(), src, 0, 0, ScanOptions{})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.GreaterOrEqual(t, report.Count, 10)
	assert.InDelta(t, 250.0, report.Mean, 10.0)
	assert.InDelta(t, 250.0/freq*1e6, report.PPM, 0.02)
}

func TestOffsetRunCancelled(t *testing.T) {
	drv := &fakeDriver{}
	src := newTestSource(t, drv)
	require.NoError(t, src.Tune(935.2e6))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := OffsetRun(ctx, src, 0, 0, ScanOptions{})
	assert.NoError(t, err)
	assert.Nil(t, report)
}
