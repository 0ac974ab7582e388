package modbus

import (
	"encoding/hex"
	"fmt"
)

// Kind tags the taxonomy of errors a transaction can surface (§7).
type Kind int

const (
	// KindInvalidArgument means a call's arguments were rejected before
	// anything was sent on the wire.
	KindInvalidArgument Kind = iota
	// KindNotConnected means the operation was attempted on a closed Client.
	KindNotConnected
	// KindTransportError wraps a SerialAdapter open/read/write failure.
	KindTransportError
	// KindTimeout means the deadline elapsed without a structurally
	// complete response.
	KindTimeout
	// KindCrcError means every CRC variant tried rejected the response.
	KindCrcError
	// KindProtocolError means the response was structurally impossible,
	// or disagreed with the request under strict mode.
	KindProtocolError
	// KindModbusException means the device replied with a standard
	// Modbus exception.
	KindModbusException
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotConnected:
		return "not_connected"
	case KindTransportError:
		return "transport_error"
	case KindTimeout:
		return "timeout"
	case KindCrcError:
		return "crc_error"
	case KindProtocolError:
		return "protocol_error"
	case KindModbusException:
		return "modbus_exception"
	default:
		return "unknown"
	}
}

// Error is the single error type every failed call returns. Retriable and
// non-retriable kinds are distinguished by the transaction engine, not by
// the caller; the caller only sees the final Kind.
type Error struct {
	Kind Kind
	// Msg is a human-readable description.
	Msg string
	// ExceptionCode is valid when Kind == KindModbusException.
	ExceptionCode byte
	// LastRequestHex and LastResponseHex carry the raw hex of the last
	// frame written and last buffer read on the failed transaction's
	// final attempt, for diagnostics (§7).
	LastRequestHex  string
	LastResponseHex string
	// CRCVariant names the non-standard CRC variant that accepted the
	// final attempt's response before it was rejected for another reason;
	// empty when the standard CRC (or none) matched.
	CRCVariant string

	Err error
}

func (e *Error) Error() string {
	if e.Kind == KindModbusException {
		return fmt.Sprintf("modbus: exception %d (%s)", e.ExceptionCode, exceptionName(e.ExceptionCode))
	}
	if e.Err != nil {
		return fmt.Sprintf("modbus: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("modbus: %s", e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newInvalidArgument(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func newNotConnected() *Error {
	return &Error{Kind: KindNotConnected, Msg: "client is not connected"}
}

func newTransportError(err error) *Error {
	return &Error{Kind: KindTransportError, Msg: "transport error", Err: err}
}

func newTimeout(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTimeout, Msg: fmt.Sprintf(format, args...)}
}

func newCrcError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindCrcError, Msg: fmt.Sprintf(format, args...)}
}

func newProtocolError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindProtocolError, Msg: fmt.Sprintf(format, args...)}
}

func newModbusException(code byte) *Error {
	return &Error{Kind: KindModbusException, ExceptionCode: code}
}

// withFrames annotates e with the raw hex of the last request/response and
// the CRC variant that accepted, if any, without altering its Kind.
func withFrames(e *Error, request, response []byte, variant *crcVariant) *Error {
	if e == nil {
		return nil
	}
	e.LastRequestHex = hex.EncodeToString(request)
	e.LastResponseHex = hex.EncodeToString(response)
	if variant != nil {
		e.CRCVariant = variant.String()
	}
	return e
}

// retriable reports whether the transaction engine should retry after
// this error (§4.4, §7 propagation policy).
func retriable(err error) bool {
	me, ok := err.(*Error)
	if !ok {
		return false
	}
	switch me.Kind {
	case KindTransportError, KindTimeout, KindCrcError, KindProtocolError:
		return true
	default:
		return false
	}
}
