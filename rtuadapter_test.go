package modbus

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// loopbackPort is an io.ReadWriteCloser stand-in for the real serial
// port, the way the teacher's own serial_test.go wraps a bytes.Buffer in
// a nopCloser to exercise activity tracking without hardware.
type loopbackPort struct {
	io.ReadWriter
	closed bool
}

func (p *loopbackPort) Close() error {
	p.closed = true
	return nil
}

func TestRTUAdapterWriteAllAndReadAvailable(t *testing.T) {
	port := &loopbackPort{ReadWriter: &bytes.Buffer{}}
	a := &RTUAdapter{port: port}

	require.True(t, a.IsOpen())
	require.NoError(t, a.WriteAll([]byte{0x01, 0x02, 0x03}))

	n, err := a.BytesAvailable()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	data, err := a.ReadAvailable(3)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, data)
}

func TestRTUAdapterCloseMarksNotOpen(t *testing.T) {
	port := &loopbackPort{ReadWriter: &bytes.Buffer{}}
	a := &RTUAdapter{port: port}
	require.NoError(t, a.Close())
	require.False(t, a.IsOpen())
	require.True(t, port.closed)
}
