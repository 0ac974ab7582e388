package modbus

import (
	"context"
	"sync"
	"time"
)

// transactionEngine runs one full send→wait→progressive-read→validate→
// retry round trip (§4.4). A single engine instance serializes every
// transaction through engine.mu, the "single-flight per port" guarantee
// of §4.4/§5: the lock is held for the whole transaction, retries
// included.
type transactionEngine struct {
	mu      sync.Mutex
	adapter SerialAdapter
	cfg     Config
	logger  logger

	lastSend time.Time

	lastRequestHex  string
	lastResponseHex string
}

func newTransactionEngine(adapter SerialAdapter, cfg Config, log logger) *transactionEngine {
	return &transactionEngine{adapter: adapter, cfg: cfg, logger: log}
}

func (e *transactionEngine) logf(format string, v ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, v...)
	}
}

// execute runs the full transaction for a pre-built request frame,
// retrying according to §4.4's policy. unitID/functionCode are the
// values parseResponse expects; lenient carries the facade's tolerance
// configuration.
func (e *transactionEngine) execute(ctx context.Context, frame []byte, unitID, functionCode byte, lenient lenientFlags) (*response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	baseTimeout := e.cfg.timeout()
	retries := int(e.cfg.Retries)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, newTimeout("context cancelled before attempt %d", attempt)
		}

		if attempt > 0 {
			backoff := time.Duration(0)
			if attempt >= 1 {
				backoff = 100 * time.Millisecond * time.Duration(1<<uint(attempt-1))
			}
			time.Sleep(backoff)
		}

		attemptTimeout := time.Duration(float64(baseTimeout) * pow1_5(attempt))

		resp, err := e.attempt(frame, unitID, functionCode, lenient, attempt, attemptTimeout)
		if err == nil {
			if resp.Kind == responseException {
				// The device answered definitively; do not retry (§4.4).
				excErr := newModbusException(resp.ExceptionCode)
				excErr.LastRequestHex = e.lastRequestHex
				excErr.LastResponseHex = e.lastResponseHex
				return resp, excErr
			}
			return resp, nil
		}

		lastErr = err
		if !retriable(err) {
			return nil, err
		}
		e.logf("modbus: attempt %d failed: %v", attempt, err)
	}
	return nil, lastErr
}

// attempt performs exactly one send/wait/read/parse cycle.
func (e *transactionEngine) attempt(frame []byte, unitID, functionCode byte, lenient lenientFlags, attemptIndex int, timeout time.Duration) (*response, error) {
	if err := e.preSend(); err != nil {
		return nil, err
	}

	if err := e.adapter.WriteAll(frame); err != nil {
		return nil, newTransportError(err)
	}
	e.lastSend = time.Now()
	e.lastRequestHex = hexString(frame)

	e.adaptiveWait(len(frame), attemptIndex)

	buf, err := e.progressiveRead(functionCode, timeout)
	e.lastResponseHex = hexString(buf)
	if err != nil {
		if me, ok := err.(*Error); ok {
			return nil, withFrames(me, frame, buf, nil)
		}
		return nil, err
	}

	resp, err := parseResponse(buf, unitID, functionCode, lenient)
	if err != nil {
		if me, ok := err.(*Error); ok {
			return nil, withFrames(me, frame, buf, nil)
		}
		return nil, err
	}
	e.logLenientAcceptance(resp, unitID, functionCode)
	return resp, nil
}

// logLenientAcceptance warns, once per accepted frame, about every
// tolerance resp was only accepted under: a non-standard CRC variant
// (§4.1), a tolerated function code (§4.2), or a tolerated unit ID
// (§4.2). All three are opt-in and must be visible in the logs.
func (e *transactionEngine) logLenientAcceptance(resp *response, expectedUnit, expectedFunction byte) {
	if resp.CRCBypassed {
		e.logf("WARN: modbus: accepted response via CRC variant %s instead of standard", resp.CRCVariant)
	}
	if resp.Kind == responseNormal && resp.FunctionCode != expectedFunction {
		e.logf("WARN: modbus: tolerated function code 0x%02X in place of requested 0x%02X", resp.FunctionCode, expectedFunction)
	}
	if resp.UnitIDTolerated {
		e.logf("WARN: modbus: tolerated unit ID %d in place of requested %d", resp.UnitID, expectedUnit)
	}
}

// preSend flushes both buffers and, if the previous send on this port was
// too recent, sleeps out the remainder of the inter-frame delay (§4.4).
func (e *transactionEngine) preSend() error {
	if err := e.adapter.FlushInput(); err != nil {
		return newTransportError(err)
	}
	if err := e.adapter.FlushOutput(); err != nil {
		return newTransportError(err)
	}
	if !e.lastSend.IsZero() {
		elapsed := time.Since(e.lastSend)
		delay := e.cfg.interFrameDelay()
		if elapsed < delay {
			time.Sleep(delay - elapsed)
		}
	}
	return nil
}

// adaptiveWait sleeps max(0.1s, 2*t_min*(1+0.5*retryIndex)) before the
// first read attempt, where t_min is the expected minimum transmission
// time of the frame just written (§4.4).
func (e *transactionEngine) adaptiveWait(frameLen, retryIndex int) {
	tMin := time.Duration(float64(10*frameLen) / float64(e.cfg.BaudRate) * float64(time.Second))
	wait := time.Duration(2 * float64(tMin) * (1 + 0.5*float64(retryIndex)))
	if wait < 100*time.Millisecond {
		wait = 100 * time.Millisecond
	}
	time.Sleep(wait)
}

// progressiveRead polls the adapter, appending whatever arrives, until
// expectedResponseLength reports the frame is complete or the deadline
// elapses (§4.4).
func (e *transactionEngine) progressiveRead(requestFunction byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var buf []byte
	for {
		n, err := e.adapter.BytesAvailable()
		if err != nil {
			return buf, newTransportError(err)
		}
		if n > 0 {
			chunk, err := e.adapter.ReadAvailable(n)
			if err != nil {
				return buf, newTransportError(err)
			}
			buf = append(buf, chunk...)
			if length, ok := expectedResponseLength(requestFunction, buf); ok && len(buf) >= length {
				return buf[:length], nil
			}
		} else {
			time.Sleep(10 * time.Millisecond)
		}
		if time.Now().After(deadline) {
			return buf, newTimeout("deadline elapsed with %d bytes received", len(buf))
		}
	}
}

// pow1_5 returns 1.5^n, used to widen the per-attempt timeout and to
// bound overall transaction duration (§4.4, §5).
func pow1_5(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 1.5
	}
	return v
}

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, hextable[c>>4], hextable[c&0x0F])
	}
	return string(out)
}
