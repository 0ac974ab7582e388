package modbus

import (
	"sync"
	"time"
)

// unitKey identifies one per-(port, unit) device record.
type unitKey struct {
	port string
	unit byte
}

// unitState is one device's accumulated snapshot and counters (§3, §4.7).
// Interior locking is per-unit: two different units on the same port
// update concurrently without contending on a package-wide lock, matching
// the single-flight-per-port guarantee already held by the transaction
// engine (only one transaction per port is ever in flight, but several
// ports can be in flight at once).
type unitState struct {
	mu sync.RWMutex

	port     string
	unit     byte
	baudRate int

	lastUpdated time.Time

	coils             map[uint16]bool
	discreteInputs    map[uint16]bool
	holdingRegisters  map[uint16]uint16
	inputRegisters    map[uint16]uint16

	requestCount  uint64
	successCount  uint64
	errorCount    uint64
	timeoutCount  uint64
	crcErrorCount uint64

	lastError     string
	lastErrorTime time.Time
	hasLastError  bool

	// mmap is the optional durable backend attached via
	// StateTracker.AttachMmap; nil means in-memory only.
	mmap *MmapStore
}

// StateTracker accumulates per-unit device state and communication
// statistics across every Client that shares it (§4.7). The zero value is
// not usable; construct with NewStateTracker.
type StateTracker struct {
	mu     sync.RWMutex
	states map[unitKey]*unitState
}

// NewStateTracker returns an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{states: make(map[unitKey]*unitState)}
}

func (t *StateTracker) stateFor(port string, unit byte) *unitState {
	key := unitKey{port: port, unit: unit}
	t.mu.RLock()
	s, ok := t.states[key]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[key]; ok {
		return s
	}
	s = &unitState{
		port:             port,
		unit:             unit,
		coils:            make(map[uint16]bool),
		discreteInputs:   make(map[uint16]bool),
		holdingRegisters: make(map[uint16]uint16),
		inputRegisters:   make(map[uint16]uint16),
	}
	t.states[key] = s
	return s
}

// observe records the outcome of one completed transaction, per the
// counter-update rules of §4.7. table names which sub-map values belongs
// in ("coils", "discrete", "holding", "input"); values is nil on failure.
func (t *StateTracker) observe(port string, unit byte, table string, address uint16, values interface{}, err error) {
	t.observeBaud(port, unit, table, address, values, err, 0, false)
}

// observeBaud is observe plus the fields only the Client (which knows the
// configured baud rate and whether this round trip bypassed CRC
// validation) can supply.
func (t *StateTracker) observeBaud(port string, unit byte, table string, address uint16, values interface{}, err error, baudRate int, crcBypassed bool) {
	s := t.stateFor(port, unit)
	s.mu.Lock()
	defer s.mu.Unlock()

	if baudRate != 0 {
		s.baudRate = baudRate
	}
	s.requestCount++

	if err == nil {
		s.successCount++
		s.lastUpdated = time.Now()
		writeValues(s, table, address, values)
		if crcBypassed {
			s.crcErrorCount++
		}
		if s.mmap != nil {
			_ = s.mmap.Flush(s.coils, s.discreteInputs, s.holdingRegisters, s.inputRegisters)
		}
		return
	}

	me, ok := err.(*Error)
	if ok && me.Kind == KindCrcError {
		s.crcErrorCount++
	}
	if ok && me.Kind == KindTimeout {
		s.timeoutCount++
	}
	s.errorCount++
	s.lastError = err.Error()
	s.lastErrorTime = time.Now()
	s.hasLastError = true
}

// writeValues fans a successful read/write result out into the sub-map
// named by table, starting at address. Single-value writes (bool/uint16)
// and slice reads ([]bool/[]uint16) are both handled; values is nil for
// writes that don't echo a decoded value back (handled by the caller
// passing the written value itself).
func writeValues(s *unitState, table string, address uint16, values interface{}) {
	switch table {
	case "coils":
		switch v := values.(type) {
		case []bool:
			for i, b := range v {
				s.coils[address+uint16(i)] = b
			}
		case bool:
			s.coils[address] = v
		}
	case "discrete":
		if v, ok := values.([]bool); ok {
			for i, b := range v {
				s.discreteInputs[address+uint16(i)] = b
			}
		}
	case "holding":
		switch v := values.(type) {
		case []uint16:
			for i, r := range v {
				s.holdingRegisters[address+uint16(i)] = r
			}
		case uint16:
			s.holdingRegisters[address] = v
		}
	case "input":
		if v, ok := values.([]uint16); ok {
			for i, r := range v {
				s.inputRegisters[address+uint16(i)] = r
			}
		}
	}
}

// Reset discards the tracked record for one unit, per §3's "destroyed on
// explicit reset" lifecycle rule.
func (t *StateTracker) Reset(port string, unit byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, unitKey{port: port, unit: unit})
}

// Units returns the (port, unit) pairs currently tracked.
func (t *StateTracker) Units() []struct {
	Port string
	Unit byte
} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]struct {
		Port string
		Unit byte
	}, 0, len(t.states))
	for k := range t.states {
		out = append(out, struct {
			Port string
			Unit byte
		}{Port: k.port, Unit: k.unit})
	}
	return out
}
