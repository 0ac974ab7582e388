package modbus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig("fake", 19200)
	cfg.TimeoutSeconds = 0.2
	cfg.Retries = 2
	return cfg
}

func TestTransactionEngineExecuteSucceeds(t *testing.T) {
	adapter := newFakeAdapter([]byte{0x01, 0x01, 0x01, 0x00, 0x51, 0x88})
	engine := newTransactionEngine(adapter, testConfig(), nil)

	frame, err := buildReadRequest(1, FuncCodeReadCoils, 0, 1)
	require.NoError(t, err)

	resp, err := engine.execute(context.Background(), frame, 1, FuncCodeReadCoils, lenientFlags{})
	require.NoError(t, err)
	require.Equal(t, responseNormal, resp.Kind)
}

func TestTransactionEngineRetriesOnGarbage(t *testing.T) {
	// First attempt returns a frame with a corrupted CRC (retriable
	// KindCrcError); second attempt returns a valid frame.
	adapter := newFakeAdapter(
		[]byte{0x01, 0x01, 0x01, 0x00, 0x00, 0x00},
		[]byte{0x01, 0x01, 0x01, 0x00, 0x51, 0x88},
	)
	engine := newTransactionEngine(adapter, testConfig(), nil)

	frame, err := buildReadRequest(1, FuncCodeReadCoils, 0, 1)
	require.NoError(t, err)

	resp, err := engine.execute(context.Background(), frame, 1, FuncCodeReadCoils, lenientFlags{})
	require.NoError(t, err)
	require.Equal(t, responseNormal, resp.Kind)
	require.Equal(t, 2, len(adapter.writes))
}

func TestTransactionEngineExceptionDoesNotRetry(t *testing.T) {
	adapter := newFakeAdapter([]byte{0x01, 0x83, 0x02, 0xC0, 0xF1})
	engine := newTransactionEngine(adapter, testConfig(), nil)

	frame, err := buildReadRequest(1, FuncCodeReadHoldingRegisters, 0, 1)
	require.NoError(t, err)

	_, err = engine.execute(context.Background(), frame, 1, FuncCodeReadHoldingRegisters, lenientFlags{})
	require.Error(t, err)
	merr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindModbusException, merr.Kind)
	require.Equal(t, 1, len(adapter.writes), "an exception is a definitive answer: exactly one attempt")
}

// capturingLogger records every message Printf receives, the way a test
// double for the package's one-method logger seam needs to.
type capturingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *capturingLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, format)
}

func (l *capturingLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func TestTransactionEngineLogsLenientCRCAcceptance(t *testing.T) {
	// Byte-swapped CRC: only accepted when LenientCRC is set, and must be
	// logged at warn level every time it is (§4.1).
	swapped := []byte{0x01, 0x01, 0x01, 0x00, 0x88, 0x51}
	adapter := newFakeAdapter(swapped)
	log := &capturingLogger{}
	engine := newTransactionEngine(adapter, testConfig(), log)

	frame, err := buildReadRequest(1, FuncCodeReadCoils, 0, 1)
	require.NoError(t, err)

	resp, err := engine.execute(context.Background(), frame, 1, FuncCodeReadCoils, lenientFlags{CRC: true})
	require.NoError(t, err)
	require.True(t, resp.CRCBypassed)
	require.True(t, log.has("WARN:"), "expected a warn-tagged log message for the CRC-variant acceptance, got %v", log.messages)
}

func TestTransactionEngineLogsTolerantFunctionCode(t *testing.T) {
	// Device echoes 0x04 (Read Input Registers) for a 0x03 request; under
	// LenientFunctionCode this is tolerated but must still be logged (§4.2).
	echoed, err := buildFrame(1, FuncCodeReadInputRegisters, []byte{0x02, 0x00, 0x2A})
	require.NoError(t, err)
	adapter := newFakeAdapter(echoed)
	log := &capturingLogger{}
	engine := newTransactionEngine(adapter, testConfig(), log)

	frame, err := buildReadRequest(1, FuncCodeReadHoldingRegisters, 0, 1)
	require.NoError(t, err)

	resp, err := engine.execute(context.Background(), frame, 1, FuncCodeReadHoldingRegisters, lenientFlags{FunctionCode: true})
	require.NoError(t, err)
	require.Equal(t, byte(FuncCodeReadInputRegisters), resp.FunctionCode)
	require.True(t, log.has("WARN:"), "expected a warn-tagged log message for the tolerated function code, got %v", log.messages)
}

func TestTransactionEngineSingleFlightPerPort(t *testing.T) {
	// Every write gets the same valid response; the two concurrent
	// callers must still serialize through engine.mu, so the adapter
	// never observes two writes in flight at once.
	adapter := newFakeAdapter(
		[]byte{0x01, 0x01, 0x01, 0x00, 0x51, 0x88},
		[]byte{0x01, 0x01, 0x01, 0x00, 0x51, 0x88},
	)
	engine := newTransactionEngine(adapter, testConfig(), nil)
	frame, err := buildReadRequest(1, FuncCodeReadCoils, 0, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := engine.execute(ctx, frame, 1, FuncCodeReadCoils, lenientFlags{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 2, len(adapter.writes))
}
