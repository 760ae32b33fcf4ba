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

const (
	// targetCount valid bursts are enough for a stable average.
	targetCount = 100
	// maxIterations bounds the run when bursts are scarce.
	maxIterations = 500
)

var ErrNoFCCH = errors.New("radio: no valid FCCH bursts found")

// OffsetReport is the outcome of an offset-averaging run, after trimming.
type OffsetReport struct {
	Count      int
	Iterations int
	Min, Max   float64
	Mean       float64
	Stddev     float64
	PPM        float64
	Overruns   uint64
	NotFound   int
}

// OffsetRun measures the local clock error on an already-tuned channel by
// averaging many FCCH detections with 10% outlier trimming, reporting the
// result in Hz and ppm.
func OffsetRun(ctx context.Context, src *Source, hzAdjust, tunerError float64, opts ScanOptions) (*OffsetReport, error) {
	detector, err := dsp.NewDetector(src.SampleRate())
	if err != nil {
		return nil, err
	}
	defer detector.Close()

	sps := src.SampleRate() / dsp.GSMRate
	sLen := frameLen(sps)
	cb := src.Buffer()

	if err := src.Start(); err != nil {
		return nil, err
	}
	src.Flush()

	if opts.Verbosity == 0 {
		fmt.Printf("Scanning for FCCH bursts ('.' = searching, '+' = found)\n")
	}

	var offsets []float64
	var overruns uint64
	notfound, iterations := 0, 0

	for len(offsets) < targetCount && iterations < maxIterations {
		if ctx.Err() != nil {
			break
		}
		iterations++

		refill := true
		for refill {
			newOverruns, err := src.Fill(ctx, sLen)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				src.Stop()
				return nil, fmt.Errorf("radio: source fill: %w", err)
			}
			if newOverruns > 0 {
				overruns += newOverruns
				src.Flush()
			} else {
				refill = false
			}
		}
		if ctx.Err() != nil {
			break
		}

		cbuf := cb.Peek()

		if opts.ShowFFT && iterations%5 == 0 && len(cbuf) >= 2048 {
			fmt.Printf("\nFrame %d:", iterations)
			dsp.DrawASCIIFFT(cbuf[:2048], 80, 0)
		}

		offset, consumed, ok := detector.Scan(cbuf)
		if ok {
			offset -= dsp.GSMRate/4 + tunerError
			if math.Abs(offset) < FCCHOffsetMax {
				offsets = append(offsets, offset)
				if opts.Verbosity > 0 {
					log.Infof("[%3d/%d] offset: %+.2f Hz", len(offsets), targetCount, offset)
				} else {
					fmt.Fprintf(os.Stderr, "+")
				}
			} else if opts.Verbosity > 0 {
				log.Infof("ignored offset %.2f Hz out of range", offset)
			}
		} else {
			notfound++
			if opts.Verbosity > 0 {
				log.Infof("no FCCH found in frame %d", iterations)
			} else {
				fmt.Fprintf(os.Stderr, ".")
			}
			// A failed scan must still consume the frame to move
			// forward in time.
			if consumed == 0 {
				consumed = sLen
			}
		}
		cb.Purge(consumed)
	}

	if opts.Verbosity == 0 {
		fmt.Fprintf(os.Stderr, "\n")
	}
	src.Stop()

	if ctx.Err() != nil {
		return nil, nil
	}

	if len(offsets) == 0 {
		fmt.Printf("\nError: No valid FCCH bursts found after %d attempts.\n", iterations)
		fmt.Printf("Tips:\n")
		fmt.Printf(" - Use the scan command to find a stronger channel.\n")
		fmt.Printf(" - Use '-g' to increase gain.\n")
		return nil, ErrNoFCCH
	}

	dsp.Sort(offsets)
	count := len(offsets)
	threshold := 0
	if count >= 10 {
		threshold = count / 10
	}
	var stddev float64
	avg := dsp.Avg(offsets[threshold:count-threshold], &stddev)
	min := offsets[threshold]
	max := offsets[count-threshold-1]

	fmt.Printf("\n--------------------------------------------------\n")
	fmt.Printf("Results (%d valid bursts out of %d attempts)\n", count, iterations)
	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("average\t\t[min, max]\t(range, stddev)\n")
	fmt.Printf("%s\t\t[%d, %d]\t(%d, %f)\n",
		dsp.DisplayFreq(avg),
		int(math.Round(min)), int(math.Round(max)),
		int(math.Round(max-min)), stddev)
	fmt.Printf("overruns: %d\n", overruns)
	fmt.Printf("not found: %d\n", notfound)

	totalPPM := (avg + hzAdjust) / src.CenterFreq() * 1e6
	fmt.Printf("\nAverage Error: %.3f ppm (%.3f ppb)\n", totalPPM, totalPPM*1000.0)

	return &OffsetReport{
		Count:      count,
		Iterations: iterations,
		Min:        min,
		Max:        max,
		Mean:       avg,
		Stddev:     stddev,
		PPM:        totalPPM,
		Overruns:   overruns,
		NotFound:   notfound,
	}, nil
}
