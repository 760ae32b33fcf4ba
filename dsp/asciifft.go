package dsp

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/runningwild/go-fftw/fftw32"
)

// Blackman-Harris 4-term coefficients.
const (
	bhA0 = 0.35875
	bhA1 = 0.48829
	bhA2 = 0.14128
	bhA3 = 0.01168
)

// The spectrum display is called from both scan passes; serialize it and
// cache the window for the last transform length.
var asciiFFT struct {
	sync.Mutex
	window  []float32
	winLen  int
	dbShift float64
}

func asciiWindow(n int) []float32 {
	if asciiFFT.winLen == n {
		return asciiFFT.window
	}
	w := make([]float32, n)
	for i := range w {
		ratio := float64(i) / float64(n-1)
		w[i] = float32(bhA0 -
			bhA1*math.Cos(2.0*math.Pi*ratio) +
			bhA2*math.Cos(4.0*math.Pi*ratio) -
			bhA3*math.Cos(6.0*math.Pi*ratio))
	}
	asciiFFT.window, asciiFFT.winLen = w, n
	// full-scale reference: unit input times coherent window gain
	asciiFFT.dbShift = 20.0 * math.Log10(float64(n)*bhA0)
	return w
}

// DrawASCIIFFT renders a dBFS spectrum of data as one terminal line of
// colored block glyphs plus the strongest peaks. A zero sampleRate
// suppresses the peak frequency listing.
func DrawASCIIFFT(data []complex64, width int, sampleRate float64) {
	asciiFFT.Lock()
	defer asciiFFT.Unlock()

	n := len(data)
	if n < 2 {
		return
	}
	win := asciiWindow(n)

	arr := fftw32.NewArray(n)
	for i, s := range data {
		arr.Elems[i] = s * complex(win[i], 0)
	}
	out := fftw32.FFT(arr)

	magDB := make([]float64, n)
	maxDB := -1000.0
	for i := 0; i < n; i++ {
		idx := (i + n/2) % n // center DC
		pwr := float64(norm64(out.Elems[idx]))
		db := 10.0*math.Log10(pwr+1e-12) - asciiFFT.dbShift
		magDB[i] = db
		if db > maxDB {
			maxDB = db
		}
	}

	plotWidth := width - 20
	if plotWidth < 10 {
		plotWidth = 10
	}

	fmt.Printf("\033[36m[-BW/2] \033[0m")
	blocks := []string{" ", " ", "▂", "▃", "▄", "▅", "▆", "▇", "█"}
	const floorDB, ceilDB = -115.0, -45.0
	for w := 0; w < plotWidth; w++ {
		localMax := -1000.0
		for j := w * n / plotWidth; j < (w+1)*n/plotWidth && j < n; j++ {
			if magDB[j] > localMax {
				localMax = magDB[j]
			}
		}
		norm := (localMax - floorDB) / (ceilDB - floorDB)
		norm = math.Max(0, math.Min(1, norm))
		switch {
		case norm < 0.20:
			fmt.Printf("\033[90m")
		case norm < 0.40:
			fmt.Printf("\033[34m")
		case norm < 0.60:
			fmt.Printf("\033[36m")
		case norm < 0.80:
			fmt.Printf("\033[32m")
		default:
			fmt.Printf("\033[91m")
		}
		fmt.Printf("%s", blocks[int(norm*float64(len(blocks)-1))])
	}
	fmt.Printf("\033[0m \033[36m[+BW/2]\033[0m Max: %.1fdBFS\n", maxDB)

	if sampleRate <= 0 {
		return
	}

	type peak struct {
		freq float64
		db   float64
	}
	var peaks []peak
	for i := 1; i < n-1; i++ {
		if magDB[i] > magDB[i-1] && magDB[i] > magDB[i+1] &&
			magDB[i] > maxDB-40.0 && magDB[i] > -120.0 {
			peaks = append(peaks, peak{
				freq: (float64(i) - float64(n)/2.0) * sampleRate / float64(n),
				db:   magDB[i],
			})
		}
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].db > peaks[j].db })

	fmt.Printf("   Peak Detection (Top 6):\n")
	for i, p := range peaks {
		if i >= 6 {
			break
		}
		fmt.Printf("    #%d: %9.1f Hz  (%6.1f dBFS)\n", i+1, p.freq, p.db)
	}
}
