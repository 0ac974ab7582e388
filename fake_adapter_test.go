package modbus

import (
	"sync"
	"sync/atomic"
)

// fakeAdapter is an in-memory SerialAdapter stand-in. Each WriteAll call
// consumes the next queued response and stages it for the following
// ReadAvailable calls, trickled out a few bytes at a time so
// progressiveRead's polling loop actually runs more than once.
type fakeAdapter struct {
	mu        sync.Mutex
	open      bool
	responses [][]byte
	writes    [][]byte
	chunkSize int

	pending []byte

	writeCount atomic.Int64
}

func newFakeAdapter(responses ...[]byte) *fakeAdapter {
	return &fakeAdapter{responses: responses, chunkSize: 2}
}

func (a *fakeAdapter) Open(cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = true
	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	return nil
}

func (a *fakeAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

func (a *fakeAdapter) WriteAll(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writes = append(a.writes, append([]byte{}, data...))
	idx := int(a.writeCount.Add(1)) - 1
	if idx < len(a.responses) {
		a.pending = a.responses[idx]
	} else {
		a.pending = nil
	}
	return nil
}

func (a *fakeAdapter) BytesAvailable() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.pending)
	if n > a.chunkSize {
		n = a.chunkSize
	}
	return n, nil
}

func (a *fakeAdapter) ReadAvailable(max int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if max > len(a.pending) {
		max = len(a.pending)
	}
	out := a.pending[:max]
	a.pending = a.pending[max:]
	return out, nil
}

func (a *fakeAdapter) FlushInput() error { return nil }

func (a *fakeAdapter) FlushOutput() error { return nil }

var _ SerialAdapter = (*fakeAdapter)(nil)
