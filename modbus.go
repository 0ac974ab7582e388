// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

/*
Package modbus provides a Modbus RTU master/client for serial-line field
devices, with hardened handling for devices (Waveshare relay and analog
boards in particular) that deviate from the standard in CRC encoding,
function-code echo, unit-ID echo, and response timing.

A single round trip flows the way the package is organized: a Client
builds a request PDU, hands it to the transaction engine, which writes it
through a SerialAdapter, waits an adaptive interval, reads the response
progressively, and validates it through the frame codec. The Client then
updates a StateTracker and returns a typed result.
*/
package modbus

// Supported Modbus function codes.
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
)

// Waveshare-specific function code aliases seen on relay/analog boards.
// 0x41-0x44 mirror the standard read functions 0x01-0x04; 0x65-0x68 mirror
// the write functions 0x05, 0x06, 0x0F, 0x10.
const (
	waveshareReadCoilsFunc          = 0x41
	waveshareReadDiscreteInputsFunc = 0x42
	waveshareReadHoldingFunc        = 0x43
	waveshareReadInputFunc          = 0x44

	waveshareWriteSingleCoilFunc        = 0x65
	waveshareWriteSingleRegisterFunc    = 0x66
	waveshareWriteMultipleCoilsFunc     = 0x67
	waveshareWriteMultipleRegistersFunc = 0x68
)

// Standard Modbus exception codes.
const (
	ExceptionCodeIllegalFunction                    = 0x01
	ExceptionCodeIllegalDataAddress                 = 0x02
	ExceptionCodeIllegalDataValue                   = 0x03
	ExceptionCodeServerDeviceFailure                = 0x04
	ExceptionCodeAcknowledge                        = 0x05
	ExceptionCodeServerDeviceBusy                   = 0x06
	ExceptionCodeMemoryParityError                  = 0x08
	ExceptionCodeGatewayPathUnavailable             = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 0x0B
)

// exceptionDescriptions names the standard exception codes for log
// messages only; control flow never branches on the name, only on the
// numeric code (see Open Question 3 in DESIGN.md).
var exceptionDescriptions = map[byte]string{
	ExceptionCodeIllegalFunction:                    "illegal function",
	ExceptionCodeIllegalDataAddress:                 "illegal data address",
	ExceptionCodeIllegalDataValue:                   "illegal data value",
	ExceptionCodeServerDeviceFailure:                "server device failure",
	ExceptionCodeAcknowledge:                        "acknowledge",
	ExceptionCodeServerDeviceBusy:                   "server device busy",
	ExceptionCodeMemoryParityError:                  "memory parity error",
	ExceptionCodeGatewayPathUnavailable:             "gateway path unavailable",
	ExceptionCodeGatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
}

func exceptionName(code byte) string {
	if name, ok := exceptionDescriptions[code]; ok {
		return name
	}
	return "unknown exception"
}

// logger is the interface to the required logging functions. Kept as a
// narrow seam so the package never depends on a concrete logging
// framework; cmd/modbus-rtu-cli adapts it onto log/slog.
type logger interface {
	Printf(format string, v ...interface{})
}
