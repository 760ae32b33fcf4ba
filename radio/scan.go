package radio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/charmbracelet/log"

	"github.com/chzchzchz/kalsdr/dsp"
)

// FCCHOffsetMax bounds a believable FCCH offset; anything wilder is
// aliasing or a false positive.
const FCCHOffsetMax = 40e3

const (
	maxARFCN    = 2048
	notFoundMax = 10
)

type ScanOptions struct {
	ShowFFT   bool
	Verbosity int
}

// frameLen is 12 GSM frames plus one slot of slack, in output samples.
func frameLen(sps float64) int {
	return int(math.Ceil((12*8*156.25 + 156.25) * sps))
}

// fillClean refills the ring until a capture completes with no overruns.
func fillClean(ctx context.Context, src *Source, n int) error {
	for {
		src.Flush()
		overruns, err := src.Fill(ctx, n)
		if err != nil {
			return err
		}
		if overruns == 0 {
			return nil
		}
	}
}

func stdoutIsTTY() bool {
	fi, err := os.Stdout.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// ChanResult is one confirmed base station from a band scan.
type ChanResult struct {
	Chan   int
	Freq   float64
	Offset float64
	DBFS   float64
}

// ScanBand sweeps every channel of the band for power, derives a detection
// threshold from the quiet majority, then runs the FCCH detector over the
// channels above it.
func ScanBand(ctx context.Context, src *Source, band Band, opts ScanOptions) ([]ChanResult, error) {
	detector, err := dsp.NewDetector(src.SampleRate())
	if err != nil {
		return nil, err
	}
	defer detector.Close()

	sps := src.SampleRate() / dsp.GSMRate
	framesLen := frameLen(sps)

	// One frame is enough for a power estimate and 12x faster than the
	// detection capture.
	powerScanLen := int(math.Ceil(8 * 156.25 * sps))
	if powerScanLen < 1024 {
		powerScanLen = 1024
	}

	ub := src.Buffer()
	var power [maxARFCN]float64

	if opts.Verbosity > 2 {
		log.Info("calculating power in each channel")
	}
	if err := src.Start(); err != nil {
		return nil, err
	}
	defer src.Stop()
	src.Flush()

	for i := band.FirstChan(); i >= 0; i = band.NextChan(i) {
		if ctx.Err() != nil {
			return nil, nil
		}
		if i >= maxARFCN {
			log.Warnf("arfcn %d out of range, skipping", i)
			continue
		}
		freq, err := ARFCNToFreq(i, band)
		if err != nil {
			return nil, err
		}
		if err := src.Tune(freq); err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, err
		}
		if err := fillClean(ctx, src, powerScanLen); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, nil
			}
			return nil, err
		}
		b := ub.Peek()
		power[i] = math.Sqrt(dsp.VectorNorm2[float64](b[:powerScanLen]))
		if opts.Verbosity > 2 {
			log.Infof("chan %d (%.1fMHz): power: %6.1f dBFS",
				i, freq/1e6, dsp.DBFS(power[i], powerScanLen))
		}
	}

	// Threshold: mean of the bottom 60% of channels, which excludes the
	// strong carriers themselves.
	var spower []float64
	for i := band.FirstChan(); i >= 0; i = band.NextChan(i) {
		if i < maxARFCN {
			spower = append(spower, power[i])
		}
	}
	dsp.Sort(spower)
	a := 0.0
	if n := len(spower); n > 0 {
		a = dsp.Avg(spower[:n-4*n/10], nil)
	}
	if opts.Verbosity > 0 {
		log.Infof("channel detect threshold: %6.1f dBFS", dsp.DBFS(a, powerScanLen))
	}

	fmt.Printf("%s:\n", band)
	var results []ChanResult
	notfound := 0
	tty := stdoutIsTTY()
	for i := band.FirstChan(); i >= 0; {
		if ctx.Err() != nil {
			return results, nil
		}
		if i >= maxARFCN || power[i] <= a {
			i = band.NextChan(i)
			continue
		}
		freq, err := ARFCNToFreq(i, band)
		if err != nil {
			return nil, err
		}
		if tty {
			fmt.Printf("...chan %d (%.1fMHz)\r", i, freq/1e6)
		}
		if err := src.Tune(freq); err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, err
		}
		detector.Reset()
		if err := fillClean(ctx, src, framesLen); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, nil
			}
			return nil, err
		}
		b := ub.Peek()
		offset, _, ok := detector.Scan(b)
		effective := offset - dsp.GSMRate/4
		if ok && math.Abs(effective) < FCCHOffsetMax {
			norm := math.Sqrt(dsp.VectorNorm2[float64](b))
			db := dsp.DBFS(norm, len(b))
			results = append(results, ChanResult{Chan: i, Freq: freq, Offset: effective, DBFS: db})
			fmt.Printf(" chan: %4d (%.1fMHz %s) power: %6.1f dBFS\n",
				i, freq/1e6, dsp.DisplayFreq(effective), db)
			if opts.ShowFFT && len(b) >= 2048 {
				dsp.DrawASCIIFFT(b[:2048], 70, 0)
			}
			notfound = 0
			i = band.NextChan(i)
		} else {
			notfound++
			if notfound >= notFoundMax {
				notfound = 0
				i = band.NextChan(i)
			}
		}
	}
	return results, nil
}
