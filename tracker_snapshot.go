package modbus

import (
	"strconv"
	"time"
)

// Snapshot is a point-in-time copy of one device's tracked state, shaped
// to marshal into the JSON schema of §6. Field tags match the schema
// exactly, including the string-keyed address maps (JSON object keys must
// be strings, so addresses are rendered as decimal strings rather than
// numbers).
type Snapshot struct {
	UnitID      byte    `json:"unit_id"`
	Port        string  `json:"port"`
	BaudRate    int     `json:"baudrate"`
	LastUpdated float64 `json:"last_updated"`

	Coils             map[string]bool   `json:"coils"`
	DiscreteInputs    map[string]bool   `json:"discrete_inputs"`
	HoldingRegisters  map[string]uint16 `json:"holding_registers"`
	InputRegisters    map[string]uint16 `json:"input_registers"`

	RequestCount  uint64 `json:"request_count"`
	SuccessCount  uint64 `json:"success_count"`
	ErrorCount    uint64 `json:"error_count"`
	TimeoutCount  uint64 `json:"timeout_count"`
	CRCErrorCount uint64 `json:"crc_error_count"`

	LastError     *string  `json:"last_error"`
	LastErrorTime *float64 `json:"last_error_time"`
}

// Snapshot projects one unit's current state into the §6 JSON shape.
// Returns (Snapshot{}, false) when the unit has never been observed.
func (t *StateTracker) Snapshot(port string, unit byte) (Snapshot, bool) {
	t.mu.RLock()
	s, ok := t.states[unitKey{port: port, unit: unit}]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(s), true
}

// SnapshotAll projects every currently-tracked unit.
func (t *StateTracker) SnapshotAll() []Snapshot {
	t.mu.RLock()
	states := make([]*unitState, 0, len(t.states))
	for _, s := range t.states {
		states = append(states, s)
	}
	t.mu.RUnlock()

	out := make([]Snapshot, 0, len(states))
	for _, s := range states {
		out = append(out, snapshotOf(s))
	}
	return out
}

func snapshotOf(s *unitState) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		UnitID:            s.unit,
		Port:              s.port,
		BaudRate:          s.baudRate,
		LastUpdated:       epochSeconds(s.lastUpdated),
		Coils:             boolMapKeys(s.coils),
		DiscreteInputs:    boolMapKeys(s.discreteInputs),
		HoldingRegisters:  regMapKeys(s.holdingRegisters),
		InputRegisters:    regMapKeys(s.inputRegisters),
		RequestCount:      s.requestCount,
		SuccessCount:      s.successCount,
		ErrorCount:        s.errorCount,
		TimeoutCount:      s.timeoutCount,
		CRCErrorCount:     s.crcErrorCount,
	}
	if s.hasLastError {
		msg := s.lastError
		when := epochSeconds(s.lastErrorTime)
		snap.LastError = &msg
		snap.LastErrorTime = &when
	}
	return snap
}

func boolMapKeys(m map[uint16]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for addr, v := range m {
		out[strconv.Itoa(int(addr))] = v
	}
	return out
}

func regMapKeys(m map[uint16]uint16) map[string]uint16 {
	out := make(map[string]uint16, len(m))
	for addr, v := range m {
		out[strconv.Itoa(int(addr))] = v
	}
	return out
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
