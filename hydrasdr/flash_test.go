package hydrasdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibRecordRoundTrip(t *testing.T) {
	rec := &CalibRecord{Header: CalibHeader, Timestamp: 1754400000, CorrectionPPB: -1234}
	raw := encodeCalib(rec)
	require.Len(t, raw, 12)
	// little-endian header bytes
	assert.Equal(t, []byte{0x01, 0x00, 0x1b, 0xca}, raw[:4])

	got, err := decodeCalib(raw)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestCalibRecordHeaderMismatch(t *testing.T) {
	raw := make([]byte, 12) // erased flash reads back zeroed/0xff junk
	rec, err := decodeCalib(raw)
	assert.ErrorIs(t, err, ErrNoCalibration)
	require.NotNil(t, rec)
	assert.NotEqual(t, uint32(CalibHeader), rec.Header)
}

func TestLinearityTablesCoverRange(t *testing.T) {
	for i := 0; i <= LinearityGainMax; i++ {
		assert.LessOrEqual(t, linearityLNA[i], uint8(14))
		assert.LessOrEqual(t, linearityMixer[i], uint8(15))
		assert.LessOrEqual(t, linearityVGA[i], uint8(15))
		if i > 0 {
			assert.GreaterOrEqual(t, linearityLNA[i], linearityLNA[i-1])
			assert.GreaterOrEqual(t, linearityMixer[i], linearityMixer[i-1])
			assert.GreaterOrEqual(t, linearityVGA[i], linearityVGA[i-1])
		}
	}
}
