package modbus

import (
	"fmt"
	"time"
)

// validBaudRates are the line rates the transaction engine knows how to
// compute character-time timing for (§3 invariant).
var validBaudRates = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

// Config is the connection configuration surface consumed by Client (§6).
type Config struct {
	// Port is the serial device path, e.g. "/dev/ttyUSB0".
	Port string
	// BaudRate is the line rate; must be one of validBaudRates.
	BaudRate int
	// DataBits, Parity, and StopBits make up the rest of the serial
	// framing; the spec fixes these at 8/none/1 but they are left
	// adjustable for adapters that need to say so explicitly.
	DataBits int
	Parity   string
	StopBits int

	// TimeoutSeconds is the per-attempt deadline. Default 1.0.
	TimeoutSeconds float64
	// UnitIDDefault is used by callers that omit an explicit unit ID.
	UnitIDDefault byte
	// Retries is the number of additional attempts after the first
	// failure. Default 2.
	Retries uint8
	// InterFrameDelayMS is the minimum pause between outbound frames on
	// this port. 0 means "compute from BaudRate", floored at 10ms.
	InterFrameDelayMS uint32

	// LenientCRC accepts the non-standard CRC variants of §4.1 on read
	// responses. Write operations never honor this flag.
	LenientCRC bool
	// LenientFunctionCode accepts the function-code tolerance table of
	// §4.2. Default true.
	LenientFunctionCode bool
	// LenientUnitID accepts broadcast/mismatched unit-ID echoes.
	LenientUnitID bool

	// StateTracking enables the Device State Tracker. Default true.
	StateTracking bool

	// VendorReadHoldingFallback retries a failed standard 0x03 read with
	// the Waveshare 0x43 variant (§4.5, Open Question 2). Default false.
	VendorReadHoldingFallback bool
}

// DefaultConfig returns a Config with every default from §6 applied,
// except Port and BaudRate which the caller must set.
func DefaultConfig(port string, baudRate int) Config {
	return Config{
		Port:                port,
		BaudRate:            baudRate,
		DataBits:            8,
		Parity:              "N",
		StopBits:            1,
		TimeoutSeconds:      1.0,
		UnitIDDefault:       1,
		Retries:             2,
		LenientFunctionCode: true,
		StateTracking:       true,
	}
}

// characterTime returns the duration of one 10-bit serial character at
// the configured baud rate.
func (c Config) characterTime() time.Duration {
	return time.Duration(float64(10) / float64(c.BaudRate) * float64(time.Second))
}

// interFrameDelay returns the configured inter-frame delay, defaulting to
// 3.5 character times and floored at 10ms (§4.4 pre-send).
func (c Config) interFrameDelay() time.Duration {
	if c.InterFrameDelayMS > 0 {
		d := time.Duration(c.InterFrameDelayMS) * time.Millisecond
		if d < 10*time.Millisecond {
			return 10 * time.Millisecond
		}
		return d
	}
	d := time.Duration(float64(c.characterTime()) * 3.5)
	if d < 10*time.Millisecond {
		return 10 * time.Millisecond
	}
	return d
}

// timeout returns the configured per-attempt timeout as a time.Duration.
func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Validate enforces the §3 invariant: baud rate is one of the eight
// standard rates, and the timeout is at least 3.5 character times.
func (c Config) Validate() error {
	if !validBaudRates[c.BaudRate] {
		return newInvalidArgument("baud rate %d is not one of the standard rates", c.BaudRate)
	}
	minTimeout := time.Duration(float64(c.characterTime()) * 3.5)
	if c.timeout() < minTimeout {
		return newInvalidArgument("timeout %s is below the minimum of 3.5 character times (%s) at %d baud", c.timeout(), minTimeout, c.BaudRate)
	}
	if c.Port == "" {
		return newInvalidArgument("port must not be empty")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%s@%d", c.Port, c.BaudRate)
}
