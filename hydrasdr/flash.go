package hydrasdr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Calibration record layout in SPI flash.
const (
	CalibOffset = 0x20000
	CalibHeader = 0xCA1B0001
	calibSector = 2
)

var ErrNoCalibration = errors.New("hydrasdr: no valid calibration record")

// CalibRecord is the persisted clock correction, little-endian on flash.
type CalibRecord struct {
	Header        uint32
	Timestamp     uint32
	CorrectionPPB int32
}

func (d *Device) SPIFlashRead(addr uint32, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := d.controlIn(cmdSPIFlashRead, uint16(addr>>16), uint16(addr), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Device) SPIFlashWrite(addr uint32, data []byte) error {
	return d.controlOut(cmdSPIFlashWrite, uint16(addr>>16), uint16(addr), data)
}

func (d *Device) SPIFlashEraseSector(sector uint16) error {
	return d.controlOut(cmdSPIFlashEraseSect, sector, 0, nil)
}

func decodeCalib(raw []byte) (*CalibRecord, error) {
	var rec CalibRecord
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &rec); err != nil {
		return nil, err
	}
	if rec.Header != CalibHeader {
		return &rec, ErrNoCalibration
	}
	return &rec, nil
}

func encodeCalib(rec *CalibRecord) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, rec)
	return buf.Bytes()
}

// ReadCalibration fetches and decodes the calibration record.
// ErrNoCalibration means the header did not match.
func (d *Device) ReadCalibration() (*CalibRecord, error) {
	raw, err := d.SPIFlashRead(CalibOffset, 12)
	if err != nil {
		return nil, err
	}
	return decodeCalib(raw)
}

// WriteCalibration erases the calibration sector, persists a fresh record
// stamped with the current time, and resets the device so the firmware
// picks it up.
func (d *Device) WriteCalibration(ppb int32) (*CalibRecord, error) {
	if err := d.SPIFlashEraseSector(calibSector); err != nil {
		return nil, fmt.Errorf("hydrasdr: erase calibration sector: %w", err)
	}
	rec := &CalibRecord{
		Header:        CalibHeader,
		Timestamp:     uint32(time.Now().Unix()),
		CorrectionPPB: ppb,
	}
	if err := d.SPIFlashWrite(CalibOffset, encodeCalib(rec)); err != nil {
		return nil, fmt.Errorf("hydrasdr: write calibration: %w", err)
	}
	if err := d.Reset(); err != nil {
		return rec, fmt.Errorf("hydrasdr: reset after calibration: %w", err)
	}
	return rec, nil
}
