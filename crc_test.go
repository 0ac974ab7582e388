package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCalculateCRC(t *testing.T) {
	// 01 01 00 00 00 01, from §8 scenario S1.
	got := calculateCRC([]byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x01})
	assert.Equal(t, uint16(0xCAFD), got)
}

func TestValidateCRCStandard(t *testing.T) {
	frame := []byte{0x01, 0x01, 0x01, 0x00, 0x51, 0x88}
	ok, variant := validateCRC(frame, false)
	assert.True(t, ok)
	assert.Equal(t, crcStandard, variant)
}

func TestValidateCRCByteSwapped(t *testing.T) {
	// Same frame as above with its two CRC bytes swapped; rejected unless
	// lenient (§8 scenario S5).
	frame := []byte{0x01, 0x01, 0x01, 0x00, 0x88, 0x51}
	ok, _ := validateCRC(frame, false)
	assert.False(t, ok)

	ok, variant := validateCRC(frame, true)
	assert.True(t, ok)
	assert.Equal(t, crcStandardSwapped, variant)
}

// TestCRCRoundTrip is a testable property of §8: a frame built with
// buildFrame always validates against the standard CRC variant, for any
// unit id, function code, and payload buildFrame accepts.
func TestCRCRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unit := rapid.Byte().Draw(t, "unit")
		fc := rapid.Byte().Draw(t, "fc")
		data := rapid.SliceOfN(rapid.Byte(), 0, 250).Draw(t, "data")

		frame, err := buildFrame(unit, fc, data)
		if err != nil {
			return
		}

		ok, variant := validateCRC(frame, false)
		if !ok || variant != crcStandard {
			t.Fatalf("buildFrame output did not validate as standard CRC: % x", frame)
		}
	})
}
