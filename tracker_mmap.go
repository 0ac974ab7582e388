package modbus

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
)

// Fixed mmap layout for one unit's durable snapshot, mirrored from
// ffutop-modbus-gateway's persistence/layout.go: one byte per coil and per
// discrete input (dense over the full 16-bit address space), one
// big-endian uint16 per holding and input register.
const (
	mmapSizeCoils    = 0x10000
	mmapSizeDiscrete = 0x10000
	mmapSizeHolding  = 0x10000 * 2
	mmapSizeInput    = 0x10000 * 2
	mmapTotalSize    = mmapSizeCoils + mmapSizeDiscrete + mmapSizeHolding + mmapSizeInput

	mmapOffsetCoils    = 0
	mmapOffsetDiscrete = mmapOffsetCoils + mmapSizeCoils
	mmapOffsetHolding  = mmapOffsetDiscrete + mmapSizeDiscrete
	mmapOffsetInput    = mmapOffsetHolding + mmapSizeHolding
)

// MmapStore is an optional durable backend for one unit's tracked state,
// memory-mapping a fixed-size file instead of holding everything only in
// the process's heap. It mirrors the entire 16-bit address space rather
// than just observed addresses, trading sparseness for a fixed-offset
// layout (values are copied in and out big-endian, not viewed in place);
// AttachMmap therefore seeds a unitState with every non-zero address in
// the file, not only the ones a session actually touched.
type MmapStore struct {
	mu   sync.Mutex
	path string
	file *os.File
	data mmap.MMap
}

// NewMmapStore returns a store backed by the file at path, created and
// sized on first Open.
func NewMmapStore(path string) *MmapStore {
	return &MmapStore{path: path}
}

// Open memory-maps the backing file, creating and zero-extending it to
// mmapTotalSize if necessary.
func (s *MmapStore) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("modbus: open mmap store: %w", err)
	}
	s.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("modbus: stat mmap store: %w", err)
	}
	if fi.Size() != int64(mmapTotalSize) {
		if err := f.Truncate(int64(mmapTotalSize)); err != nil {
			f.Close()
			return fmt.Errorf("modbus: resize mmap store: %w", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("modbus: mmap store: %w", err)
	}
	s.data = data
	return nil
}

// Close unmaps and closes the backing file.
func (s *MmapStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.data != nil {
		if e := s.data.Unmap(); e != nil {
			err = e
		}
		s.data = nil
	}
	if s.file != nil {
		if e := s.file.Close(); e != nil {
			err = e
		}
		s.file = nil
	}
	return err
}

// Flush writes the given tables into the mapped layout and syncs to disk.
func (s *MmapStore) Flush(coils, discrete map[uint16]bool, holding, input map[uint16]uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return fmt.Errorf("modbus: mmap store is not open")
	}
	for addr, v := range coils {
		s.data[mmapOffsetCoils+int(addr)] = boolByte(v)
	}
	for addr, v := range discrete {
		s.data[mmapOffsetDiscrete+int(addr)] = boolByte(v)
	}
	for addr, v := range holding {
		binary.BigEndian.PutUint16(s.data[mmapOffsetHolding+int(addr)*2:], v)
	}
	for addr, v := range input {
		binary.BigEndian.PutUint16(s.data[mmapOffsetInput+int(addr)*2:], v)
	}
	return s.data.Flush()
}

// Load reads back every non-zero entry in the mapped layout.
func (s *MmapStore) Load() (coils, discrete map[uint16]bool, holding, input map[uint16]uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil, nil, nil, fmt.Errorf("modbus: mmap store is not open")
	}
	coils = make(map[uint16]bool)
	discrete = make(map[uint16]bool)
	holding = make(map[uint16]uint16)
	input = make(map[uint16]uint16)

	for i := 0; i < mmapSizeCoils; i++ {
		if s.data[mmapOffsetCoils+i] != 0 {
			coils[uint16(i)] = true
		}
	}
	for i := 0; i < mmapSizeDiscrete; i++ {
		if s.data[mmapOffsetDiscrete+i] != 0 {
			discrete[uint16(i)] = true
		}
	}
	for i := 0; i < mmapSizeHolding/2; i++ {
		if v := binary.BigEndian.Uint16(s.data[mmapOffsetHolding+i*2:]); v != 0 {
			holding[uint16(i)] = v
		}
	}
	for i := 0; i < mmapSizeInput/2; i++ {
		if v := binary.BigEndian.Uint16(s.data[mmapOffsetInput+i*2:]); v != 0 {
			input[uint16(i)] = v
		}
	}
	return coils, discrete, holding, input, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// AttachMmap binds store to the (port, unit) record, seeding it from the
// store's current contents and flushing to it after every future observe.
// Call before issuing requests against that unit.
func (t *StateTracker) AttachMmap(port string, unit byte, store *MmapStore) error {
	coils, discrete, holding, input, err := store.Load()
	if err != nil {
		return err
	}
	s := t.stateFor(port, unit)
	s.mu.Lock()
	for addr, v := range coils {
		s.coils[addr] = v
	}
	for addr, v := range discrete {
		s.discreteInputs[addr] = v
	}
	for addr, v := range holding {
		s.holdingRegisters[addr] = v
	}
	for addr, v := range input {
		s.inputRegisters[addr] = v
	}
	s.mmap = store
	s.mu.Unlock()
	return nil
}
