package modbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientWriteSingleCoilUpdatesTracker(t *testing.T) {
	adapter := newFakeAdapter([]byte{0x01, 0x05, 0x00, 0x00, 0xFF, 0x00, 0x8C, 0x3A})
	cfg := testConfig()
	cfg.Port = "/dev/ttyUSB0"
	client := NewClient(adapter, cfg)
	require.NoError(t, client.Open())
	defer client.Close()

	err := client.WriteSingleCoil(context.Background(), 1, 0, true)
	require.NoError(t, err)

	snap, ok := client.Tracker().Snapshot("/dev/ttyUSB0", 1)
	require.True(t, ok)
	require.Equal(t, true, snap.Coils["0"])
	require.Equal(t, uint64(1), snap.SuccessCount)
}

func TestClientWriteSingleCoilRejectsMismatchedEcho(t *testing.T) {
	// Device leaves the coil OFF (0x0000) instead of echoing the ON
	// (0xFF00) value that was requested.
	off := []byte{0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0xCD, 0xCA}
	adapter := newFakeAdapter(off)
	cfg := testConfig()
	cfg.Port = "/dev/ttyUSB0"
	cfg.Retries = 0
	client := NewClient(adapter, cfg)
	require.NoError(t, client.Open())
	defer client.Close()

	err := client.WriteSingleCoil(context.Background(), 1, 0, true)
	require.Error(t, err)
	merr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindProtocolError, merr.Kind)
}

func TestClientReadHoldingRegistersVendorFallback(t *testing.T) {
	// Every standard 0x03 attempt comes back with a corrupted CRC, a
	// retriable error; once that retry budget is exhausted the fallback
	// retries the same transaction as the Waveshare 0x43 variant, which
	// succeeds on its first attempt.
	badCRC := []byte{0x01, 0x03, 0x02, 0x00, 0x00, 0x00, 0x00}
	adapter := newFakeAdapter(
		badCRC,
		badCRC,
		badCRC,
		waveshareHoldingEcho(),
	)
	cfg := testConfig()
	cfg.Port = "/dev/ttyUSB0"
	cfg.Retries = 2
	cfg.VendorReadHoldingFallback = true
	client := NewClient(adapter, cfg)
	require.NoError(t, client.Open())
	defer client.Close()

	values, err := client.ReadHoldingRegisters(context.Background(), 1, 0, 1)
	require.NoError(t, err)
	require.Equal(t, []uint16{0x002A}, values)
}

// waveshareHoldingEcho builds a valid Waveshare 0x43 response carrying one
// register worth 0x002A, with a correct CRC for that frame.
func waveshareHoldingEcho() []byte {
	frame := []byte{0x01, waveshareReadHoldingFunc, 0x02, 0x00, 0x2A, 0x00, 0x00}
	crc := calculateCRC(frame[:5])
	frame[5] = byte(crc)
	frame[6] = byte(crc >> 8)
	return frame
}
