// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "context"

// ClientAPI declares the typed operations a Modbus RTU client exposes.
// *Client implements it; the interface exists so callers can mock the
// facade in tests without a real serial adapter.
type ClientAPI interface {
	// ReadCoils reads 1 to 2000 contiguous coils from unit and returns
	// their state, truncated to quantity.
	ReadCoils(ctx context.Context, unit byte, address, quantity uint16) ([]bool, error)
	// ReadDiscreteInputs reads 1 to 2000 contiguous discrete inputs.
	ReadDiscreteInputs(ctx context.Context, unit byte, address, quantity uint16) ([]bool, error)
	// ReadHoldingRegisters reads 1 to 125 contiguous holding registers.
	ReadHoldingRegisters(ctx context.Context, unit byte, address, quantity uint16) ([]uint16, error)
	// ReadInputRegisters reads 1 to 125 contiguous input registers.
	ReadInputRegisters(ctx context.Context, unit byte, address, quantity uint16) ([]uint16, error)
	// WriteSingleCoil sets one coil ON or OFF and verifies the echo.
	WriteSingleCoil(ctx context.Context, unit byte, address uint16, value bool) error
	// WriteSingleRegister writes one holding register and verifies the echo.
	WriteSingleRegister(ctx context.Context, unit byte, address, value uint16) error
	// WriteMultipleCoils writes 1 to 1968 contiguous coils.
	WriteMultipleCoils(ctx context.Context, unit byte, address uint16, values []bool) error
	// WriteMultipleRegisters writes 1 to 123 contiguous holding registers.
	WriteMultipleRegisters(ctx context.Context, unit byte, address uint16, values []uint16) error

	// Open connects the underlying SerialAdapter.
	Open() error
	// Close disconnects the underlying SerialAdapter.
	Close() error
}
