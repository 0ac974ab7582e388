package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.yaml")
	contents := `
port: /dev/ttyUSB0
baud_rate: 19200
lenient_crc: true
retries: 4
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/dev/ttyUSB0", cfg.Port)
	require.Equal(t, 19200, cfg.BaudRate)
	require.Equal(t, uint8(4), cfg.Retries)
	require.True(t, cfg.LenientCRC)

	// Defaults not present in the file.
	require.Equal(t, 8, cfg.DataBits)
	require.Equal(t, "N", cfg.Parity)
	require.Equal(t, 1, cfg.StopBits)
	require.Equal(t, 1.0, cfg.TimeoutSeconds)
	require.True(t, cfg.LenientFunctionCode)
	require.True(t, cfg.StateTracking)
}

func TestLoadRejectsMissingPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baud_rate: 9600\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
