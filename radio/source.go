// Package radio drives the HydraSDR capture path for GSM calibration: a
// source façade over the USB driver with the resampling pipeline inline in
// the transfer callback, ARFCN/band tables, and the band-scan and
// clock-offset measurement loops.
package radio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzchzchz/kalsdr/dsp"
	"github.com/chzchzchz/kalsdr/hydrasdr"
	"github.com/chzchzchz/kalsdr/ring"
)

// SampleRate is the output rate of the capture path, the GSM symbol rate.
const SampleRate = 270833.333333

// outputRingLen holds just under 1s of resampled stream.
const outputRingLen = 256 * 1024

// batchLen bounds one transfer's resampler output; the driver reads at most
// 256 KiB (32 Ki I/Q samples) per transfer, which produces under 4 Ki
// samples at 13/120.
const batchLen = 32768

var ErrStopped = errors.New("radio: streaming stopped")

// Driver is the slice of the HydraSDR device the source needs; tests and
// the DSP benchmark substitute fakes.
type Driver interface {
	SetSampleType(hydrasdr.SampleType) error
	SetSampleRate(uint32) error
	SetFreq(uint64) error
	SetGain(hydrasdr.GainType, uint8) error
	StartRX(hydrasdr.SampleFunc, any) error
	StopRX() error
	Close() error
}

// Source owns the device lifecycle and the producer/consumer handoff
// between the driver's transfer goroutine and the measurement loops.
type Source struct {
	dev  Driver
	gain float64

	centerFreq float64

	cb        *ring.Buffer[complex64]
	resampler *dsp.Resampler
	batch     [batchLen]complex64 // touched only on the transfer goroutine

	streaming atomic.Bool
	overflow  atomic.Uint64

	dataMu sync.Mutex
	notify chan struct{}
}

func NewSource(gain float64) *Source {
	return &Source{
		gain:      gain,
		resampler: dsp.NewResampler(),
		notify:    make(chan struct{}, 1),
	}
}

// NewSourceDriver builds a source over an already-open driver.
func NewSourceDriver(dev Driver, gain float64) *Source {
	s := NewSource(gain)
	s.dev = dev
	return s
}

// Open claims the device, configures float I/Q capture at the native rate
// and allocates the output ring. On any failure everything acquired so far
// is released.
func (s *Source) Open() error {
	if s.dev == nil {
		dev, err := hydrasdr.Open()
		if err != nil {
			return err
		}
		s.dev = dev
	}
	if err := s.dev.SetSampleType(hydrasdr.SampleFloat32IQ); err != nil {
		s.closeDev()
		return err
	}
	if err := s.dev.SetSampleRate(hydrasdr.NativeRate); err != nil {
		s.closeDev()
		return err
	}
	if err := s.SetGain(s.gain); err != nil {
		s.closeDev()
		return err
	}
	cb, err := ring.New[complex64](outputRingLen, false)
	if err != nil {
		s.closeDev()
		return fmt.Errorf("radio: output ring: %w", err)
	}
	s.cb = cb
	return nil
}

func (s *Source) closeDev() {
	if s.dev != nil {
		s.dev.Close()
		s.dev = nil
	}
}

func (s *Source) Close() error {
	s.Stop()
	s.closeDev()
	if s.cb != nil {
		s.cb.Close()
		s.cb = nil
	}
	return nil
}

// Tune retunes the front end and resets the resampler so transients from
// the previous frequency do not leak into the new tuned region.
func (s *Source) Tune(hz float64) error {
	if s.dev == nil {
		return fmt.Errorf("radio: tune: device not open")
	}
	if err := s.dev.SetFreq(uint64(hz)); err != nil {
		return fmt.Errorf("radio: tune %f: %w", hz, err)
	}
	s.centerFreq = hz
	s.resampler.Reset()
	return nil
}

func (s *Source) CenterFreq() float64 { return s.centerFreq }

func (s *Source) SetGain(gain float64) error {
	if s.dev == nil {
		return fmt.Errorf("radio: gain: device not open")
	}
	s.gain = gain
	v := int(math.Round(gain))
	if v < 0 {
		v = 0
	}
	if v > hydrasdr.LinearityGainMax {
		v = hydrasdr.LinearityGainMax
	}
	return s.dev.SetGain(hydrasdr.GainLinearity, uint8(v))
}

func (s *Source) SampleRate() float64 { return SampleRate }

func (s *Source) Buffer() *ring.Buffer[complex64] { return s.cb }

// Start resets the DSP state and begins streaming into the ring.
func (s *Source) Start() error {
	if s.dev == nil {
		return fmt.Errorf("radio: start: device not open")
	}
	s.resampler.Reset()
	s.overflow.Store(0)
	if err := s.dev.StartRX(s.transfer, s); err != nil {
		return err
	}
	s.streaming.Store(true)
	return nil
}

func (s *Source) Stop() {
	if s.dev != nil && s.streaming.Load() {
		s.dev.StopRX()
		s.streaming.Store(false)
		s.wake()
	}
}

// StartBenchmark opens the processing chain without hardware; transfers
// are then injected directly into the callback.
func (s *Source) StartBenchmark() error {
	if s.cb == nil {
		cb, err := ring.New[complex64](outputRingLen, false)
		if err != nil {
			return err
		}
		s.cb = cb
	}
	s.resampler.Reset()
	s.overflow.Store(0)
	s.streaming.Store(true)
	return nil
}

func (s *Source) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// transfer runs on the driver goroutine. It must never block: the ring
// append runs under a try-lock, and contended or overflowing samples are
// counted against the overflow counter instead.
func (s *Source) transfer(t *hydrasdr.Transfer) error {
	if !s.streaming.Load() {
		return nil
	}
	if t.DroppedSamples > 0 {
		s.overflow.Add(t.DroppedSamples)
	}

	produced := s.resampler.Process(t.Samples, s.batch[:])
	if produced == 0 {
		return nil
	}
	if s.dataMu.TryLock() {
		written := 0
		if s.cb != nil {
			written = s.cb.Write(s.batch[:produced])
		}
		s.dataMu.Unlock()
		if written < produced {
			s.overflow.Add(uint64(produced - written))
		}
		s.wake()
	} else {
		s.overflow.Add(uint64(produced))
	}
	return nil
}

// Fill blocks until at least n samples are buffered, streaming stops, or
// ctx is cancelled. On success it returns the overrun count accumulated
// since the previous call and leaves the counter at zero.
func (s *Source) Fill(ctx context.Context, n int) (uint64, error) {
	if s.cb == nil {
		return 0, fmt.Errorf("radio: fill: not open")
	}
	if !s.streaming.Load() {
		if err := s.Start(); err != nil {
			return 0, err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		s.dataMu.Lock()
		ready := s.cb.Available() >= n || !s.streaming.Load()
		s.dataMu.Unlock()
		if ready {
			break
		}
		select {
		case <-s.notify:
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if !s.streaming.Load() {
		return 0, ErrStopped
	}
	return s.overflow.Swap(0), nil
}

// Flush drops all buffered samples and clears the overrun count.
func (s *Source) Flush() {
	if s.cb != nil {
		s.cb.Flush()
	}
	s.overflow.Store(0)
}
