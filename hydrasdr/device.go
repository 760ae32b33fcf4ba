package hydrasdr

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/gousb"
)

const (
	vendorID  = 0x1d50
	productID = 0x60a1
)

// Vendor control commands.
const (
	cmdReceiverMode      = 1
	cmdSPIFlashErase     = 6
	cmdSPIFlashWrite     = 7
	cmdSPIFlashRead      = 8
	cmdSetSampleRate     = 12
	cmdSetFreq           = 13
	cmdSetLNAGain        = 14
	cmdSetMixerGain      = 15
	cmdSetVGAGain        = 16
	cmdReset             = 19
	cmdSPIFlashEraseSect = 27
)

// bmRequestType for vendor requests to the device.
const (
	requestTypeVendorOut = uint8(0x40)
	requestTypeVendorIn  = uint8(0xc0)
)

// Linearity gain index decomposed into the three front-end stages, lowest
// index first (index 0 = minimum gain, index 21 = full gain).
var (
	linearityLNA   = [LinearityGainMax + 1]uint8{0, 0, 0, 0, 0, 0, 1, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 14}
	linearityMixer = [LinearityGainMax + 1]uint8{0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 14, 15}
	linearityVGA   = [LinearityGainMax + 1]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 10, 11, 11, 12, 12, 13, 13, 14, 14, 15, 15}
)

// Device is an open HydraSDR RFOne.
type Device struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	epIn  *gousb.InEndpoint
	st    SampleType
	rxing atomic.Bool

	mu     sync.Mutex
	stream *gousb.ReadStream
	done   chan struct{}
}

// Open claims the first HydraSDR on the bus.
func Open() (*Device, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vendorID, productID)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("hydrasdr: open: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("hydrasdr: no device found")
	}
	dev.SetAutoDetach(true)

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("hydrasdr: claim config: %w", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("hydrasdr: claim interface: %w", err)
	}
	epIn, err := intf.InEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("hydrasdr: sample endpoint: %w", err)
	}
	return &Device{ctx: ctx, dev: dev, cfg: cfg, intf: intf, epIn: epIn}, nil
}

func (d *Device) Close() error {
	d.StopRX()
	d.intf.Close()
	d.cfg.Close()
	err := d.dev.Close()
	if cerr := d.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}

func (d *Device) controlOut(cmd uint8, value, index uint16, data []byte) error {
	if _, err := d.dev.Control(requestTypeVendorOut, cmd, value, index, data); err != nil {
		return fmt.Errorf("hydrasdr: cmd %d: %w", cmd, err)
	}
	return nil
}

func (d *Device) controlIn(cmd uint8, value, index uint16, data []byte) error {
	if _, err := d.dev.Control(requestTypeVendorIn, cmd, value, index, data); err != nil {
		return fmt.Errorf("hydrasdr: cmd %d: %w", cmd, err)
	}
	return nil
}

func (d *Device) SetSampleType(st SampleType) error {
	if st != SampleFloat32IQ {
		return fmt.Errorf("hydrasdr: unsupported sample type %d", st)
	}
	d.st = st
	return nil
}

func (d *Device) SetSampleRate(rate uint32) error {
	return d.controlOut(cmdSetSampleRate, uint16(rate>>16), uint16(rate), nil)
}

func (d *Device) SetFreq(hz uint64) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(hz))
	return d.controlOut(cmdSetFreq, 0, 0, buf[:])
}

// SetGain applies one of the combined gain curves. Only the linearity
// curve is used here; the index is clamped to the valid range.
func (d *Device) SetGain(gt GainType, value uint8) error {
	if gt != GainLinearity {
		return fmt.Errorf("hydrasdr: unsupported gain type %d", gt)
	}
	if value > LinearityGainMax {
		value = LinearityGainMax
	}
	if err := d.controlOut(cmdSetLNAGain, 0, uint16(linearityLNA[value]), nil); err != nil {
		return err
	}
	if err := d.controlOut(cmdSetMixerGain, 0, uint16(linearityMixer[value]), nil); err != nil {
		return err
	}
	return d.controlOut(cmdSetVGAGain, 0, uint16(linearityVGA[value]), nil)
}

func (d *Device) Reset() error {
	return d.controlOut(cmdReset, 0, 0, nil)
}

// StartRX begins streaming and invokes cb for every transfer until StopRX
// or a callback error.
func (d *Device) StartRX(cb SampleFunc, cbCtx any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rxing.Load() {
		return fmt.Errorf("hydrasdr: rx already running")
	}
	if err := d.controlOut(cmdReceiverMode, 1, 0, nil); err != nil {
		return err
	}
	stream, err := d.epIn.NewStream(d.epIn.Desc.MaxPacketSize*64, 8)
	if err != nil {
		d.controlOut(cmdReceiverMode, 0, 0, nil)
		return fmt.Errorf("hydrasdr: stream: %w", err)
	}
	d.stream = stream
	d.done = make(chan struct{})
	d.rxing.Store(true)
	go d.rxLoop(stream, cb, cbCtx, d.done)
	return nil
}

func (d *Device) rxLoop(stream *gousb.ReadStream, cb SampleFunc, cbCtx any, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 262144)
	for d.rxing.Load() {
		n, err := stream.Read(buf)
		if err != nil {
			return
		}
		n -= n % 8 // whole float32 I/Q pairs only
		samples := make([]complex64, n/8)
		for i := range samples {
			re := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*8:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*8+4:]))
			samples[i] = complex(re, im)
		}
		t := &Transfer{Ctx: cbCtx, Samples: samples, SampleType: d.st}
		if cb(t) != nil {
			return
		}
	}
}

func (d *Device) StopRX() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.rxing.Load() {
		return nil
	}
	d.rxing.Store(false)
	d.stream.Close()
	<-d.done
	d.stream = nil
	return d.controlOut(cmdReceiverMode, 0, 0, nil)
}
