package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTrackerObserveSuccessUpdatesCoils(t *testing.T) {
	tracker := NewStateTracker()
	tracker.observe("/dev/ttyUSB0", 1, "coils", 0, []bool{true, false, true}, nil)

	snap, ok := tracker.Snapshot("/dev/ttyUSB0", 1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.RequestCount)
	assert.Equal(t, uint64(1), snap.SuccessCount)
	assert.Equal(t, true, snap.Coils["0"])
	assert.Equal(t, false, snap.Coils["1"])
	assert.Equal(t, true, snap.Coils["2"])
}

func TestStateTrackerObserveTimeoutIncrementsBoth(t *testing.T) {
	tracker := NewStateTracker()
	tracker.observe("/dev/ttyUSB0", 1, "holding", 0, nil, newTimeout("deadline elapsed"))

	snap, ok := tracker.Snapshot("/dev/ttyUSB0", 1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.RequestCount)
	assert.Equal(t, uint64(1), snap.ErrorCount)
	assert.Equal(t, uint64(1), snap.TimeoutCount)
	require.NotNil(t, snap.LastError)
}

func TestStateTrackerCRCBypassIncrementsCounter(t *testing.T) {
	tracker := NewStateTracker()
	tracker.observeBaud("/dev/ttyUSB0", 1, "coils", 0, []bool{true}, nil, 19200, true)

	snap, ok := tracker.Snapshot("/dev/ttyUSB0", 1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.CRCErrorCount)
	assert.Equal(t, 19200, snap.BaudRate)
}

func TestStateTrackerSnapshotUnknownUnit(t *testing.T) {
	tracker := NewStateTracker()
	_, ok := tracker.Snapshot("/dev/ttyUSB0", 99)
	assert.False(t, ok)
}

func TestStateTrackerReset(t *testing.T) {
	tracker := NewStateTracker()
	tracker.observe("/dev/ttyUSB0", 1, "coils", 0, []bool{true}, nil)
	tracker.Reset("/dev/ttyUSB0", 1)
	_, ok := tracker.Snapshot("/dev/ttyUSB0", 1)
	assert.False(t, ok)
}
