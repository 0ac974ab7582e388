// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/binary"
	"sync"
)

// Client is the default ClientAPI implementation: a SerialAdapter, a
// transaction engine bound to it, and an optional StateTracker, wired
// together the way the teacher's own client bound a Packager and a
// Transporter.
type Client struct {
	mu      sync.Mutex
	cfg     Config
	adapter SerialAdapter
	engine  *transactionEngine
	logger  logger
	tracker *StateTracker
}

// NewClient builds a Client around adapter using cfg. adapter is not
// opened; call Open before issuing requests. If cfg.StateTracking is set,
// a StateTracker is created and updated after every transaction.
func NewClient(adapter SerialAdapter, cfg Config) *Client {
	c := &Client{
		cfg:     cfg,
		adapter: adapter,
		engine:  newTransactionEngine(adapter, cfg, nil),
	}
	if cfg.StateTracking {
		c.tracker = NewStateTracker()
	}
	return c
}

// SetLogger installs a logger the transaction engine reports retry
// diagnostics to; nil disables logging.
func (c *Client) SetLogger(log logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = log
	c.engine.logger = log
}

// Tracker returns the client's StateTracker, or nil when state tracking
// is disabled.
func (c *Client) Tracker() *StateTracker { return c.tracker }

// Open opens the underlying SerialAdapter.
func (c *Client) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if err := c.adapter.Open(c.cfg); err != nil {
		return newTransportError(err)
	}
	return nil
}

// Close closes the underlying SerialAdapter.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter.Close()
}

func (c *Client) lenientFlags() lenientFlags {
	return lenientFlags{
		CRC:          c.cfg.LenientCRC,
		FunctionCode: c.cfg.LenientFunctionCode,
		UnitID:       c.cfg.LenientUnitID,
	}
}

// record updates the tracker, if any, with the outcome of one call.
func (c *Client) record(unit byte, table string, address uint16, values interface{}, err error) {
	c.recordBypass(unit, table, address, values, err, false)
}

// recordBypass is record plus whether this round trip's response only
// validated under a non-standard CRC variant (§4.7 "on CRC-bypass
// acceptance: also increment crc_errors").
func (c *Client) recordBypass(unit byte, table string, address uint16, values interface{}, err error, crcBypassed bool) {
	if c.tracker == nil {
		return
	}
	c.tracker.observeBaud(c.cfg.Port, unit, table, address, values, err, c.cfg.BaudRate, crcBypassed)
}

// ReadCoils reads 1 to 2000 contiguous coils from unit.
func (c *Client) ReadCoils(ctx context.Context, unit byte, address, quantity uint16) ([]bool, error) {
	if !c.adapter.IsOpen() {
		return nil, newNotConnected()
	}
	frame, err := buildReadRequest(unit, FuncCodeReadCoils, address, quantity)
	if err != nil {
		return nil, err
	}
	resp, err := c.engine.execute(ctx, frame, unit, FuncCodeReadCoils, c.lenientFlags())
	if err != nil {
		c.record(unit, "coils", address, nil, err)
		return nil, err
	}
	values := unpackBits(resp.Payload[1:], int(quantity))
	c.recordBypass(unit, "coils", address, values, nil, resp.CRCBypassed)
	return values, nil
}

// ReadDiscreteInputs reads 1 to 2000 contiguous discrete inputs.
func (c *Client) ReadDiscreteInputs(ctx context.Context, unit byte, address, quantity uint16) ([]bool, error) {
	if !c.adapter.IsOpen() {
		return nil, newNotConnected()
	}
	frame, err := buildReadRequest(unit, FuncCodeReadDiscreteInputs, address, quantity)
	if err != nil {
		return nil, err
	}
	resp, err := c.engine.execute(ctx, frame, unit, FuncCodeReadDiscreteInputs, c.lenientFlags())
	if err != nil {
		c.record(unit, "discrete", address, nil, err)
		return nil, err
	}
	values := unpackBits(resp.Payload[1:], int(quantity))
	c.recordBypass(unit, "discrete", address, values, nil, resp.CRCBypassed)
	return values, nil
}

// ReadHoldingRegisters reads 1 to 125 contiguous holding registers. When
// VendorReadHoldingFallback is set and the standard 0x03 request's final
// attempt fails with a retriable error, it retries once more with the
// Waveshare 0x43 variant before giving up (§4.5, Open Question 2).
func (c *Client) ReadHoldingRegisters(ctx context.Context, unit byte, address, quantity uint16) ([]uint16, error) {
	if !c.adapter.IsOpen() {
		return nil, newNotConnected()
	}
	values, bypassed, err := c.readRegisters(ctx, unit, FuncCodeReadHoldingRegisters, address, quantity)
	if err != nil && c.cfg.VendorReadHoldingFallback && retriable(err) {
		values, bypassed, err = c.readRegisters(ctx, unit, waveshareReadHoldingFunc, address, quantity)
	}
	if err != nil {
		c.record(unit, "holding", address, nil, err)
		return nil, err
	}
	c.recordBypass(unit, "holding", address, values, nil, bypassed)
	return values, nil
}

// ReadInputRegisters reads 1 to 125 contiguous input registers.
func (c *Client) ReadInputRegisters(ctx context.Context, unit byte, address, quantity uint16) ([]uint16, error) {
	if !c.adapter.IsOpen() {
		return nil, newNotConnected()
	}
	values, bypassed, err := c.readRegisters(ctx, unit, FuncCodeReadInputRegisters, address, quantity)
	if err != nil {
		c.record(unit, "input", address, nil, err)
		return nil, err
	}
	c.recordBypass(unit, "input", address, values, nil, bypassed)
	return values, nil
}

// readRegisters is shared by the two register read methods and the
// Waveshare 0x43 fallback path; functionCode may be either a standard
// read-register code or its vendor alias.
func (c *Client) readRegisters(ctx context.Context, unit byte, functionCode byte, address, quantity uint16) ([]uint16, bool, error) {
	standard := functionCode
	if alias, ok := vendorFunctionAlias[functionCode]; ok {
		standard = alias
	}
	frame, err := buildReadRequest(unit, standard, address, quantity)
	if err != nil {
		return nil, false, err
	}
	if functionCode != standard {
		frame[1] = functionCode
		crc := calculateCRC(frame[:len(frame)-2])
		frame[len(frame)-2] = byte(crc)
		frame[len(frame)-1] = byte(crc >> 8)
	}
	resp, err := c.engine.execute(ctx, frame, unit, functionCode, c.lenientFlags())
	if err != nil {
		return nil, false, err
	}
	return unpackRegisters(resp.Payload[1:]), resp.CRCBypassed, nil
}

// WriteSingleCoil sets one coil ON or OFF and verifies the echo.
func (c *Client) WriteSingleCoil(ctx context.Context, unit byte, address uint16, value bool) error {
	if !c.adapter.IsOpen() {
		return newNotConnected()
	}
	frame, err := buildWriteSingleCoilRequest(unit, address, value)
	if err != nil {
		return err
	}
	resp, err := c.engine.execute(ctx, frame, unit, FuncCodeWriteSingleCoil, c.lenientFlags())
	if err == nil {
		err = verifyCoilEcho(resp.Payload, address, value)
	}
	c.record(unit, "coils", address, value, err)
	return err
}

// WriteSingleRegister writes one holding register and verifies the echo.
func (c *Client) WriteSingleRegister(ctx context.Context, unit byte, address, value uint16) error {
	if !c.adapter.IsOpen() {
		return newNotConnected()
	}
	frame, err := buildWriteSingleRegisterRequest(unit, address, value)
	if err != nil {
		return err
	}
	resp, err := c.engine.execute(ctx, frame, unit, FuncCodeWriteSingleRegister, c.lenientFlags())
	if err == nil {
		err = verifyRegisterEcho(resp.Payload, address, value)
	}
	c.record(unit, "holding", address, value, err)
	return err
}

// WriteMultipleCoils writes 1 to 1968 contiguous coils.
func (c *Client) WriteMultipleCoils(ctx context.Context, unit byte, address uint16, values []bool) error {
	if !c.adapter.IsOpen() {
		return newNotConnected()
	}
	frame, err := buildWriteMultipleCoilsRequest(unit, address, values)
	if err != nil {
		return err
	}
	_, err = c.engine.execute(ctx, frame, unit, FuncCodeWriteMultipleCoils, c.lenientFlags())
	c.record(unit, "coils", address, values, err)
	return err
}

// WriteMultipleRegisters writes 1 to 123 contiguous holding registers.
func (c *Client) WriteMultipleRegisters(ctx context.Context, unit byte, address uint16, values []uint16) error {
	if !c.adapter.IsOpen() {
		return newNotConnected()
	}
	frame, err := buildWriteMultipleRegistersRequest(unit, address, values)
	if err != nil {
		return err
	}
	_, err = c.engine.execute(ctx, frame, unit, FuncCodeWriteMultipleRegisters, c.lenientFlags())
	c.record(unit, "holding", address, values, err)
	return err
}

// verifyCoilEcho checks that a Write Single Coil response echoes back the
// address and value that were written, the way the teacher's own
// WriteSingleCoil compares response.Data against the request (§4.5
// "verify echo equals request").
func verifyCoilEcho(payload []byte, address uint16, value bool) error {
	if len(payload) != 4 {
		return newProtocolError("response data size %d does not match expected 4", len(payload))
	}
	respAddress := binary.BigEndian.Uint16(payload)
	if respAddress != address {
		return newProtocolError("response address %d does not match request %d", respAddress, address)
	}
	respValue := binary.BigEndian.Uint16(payload[2:])
	wantValue := uint16(0x0000)
	if value {
		wantValue = 0xFF00
	}
	if respValue != wantValue {
		return newProtocolError("response value 0x%04X does not match request 0x%04X", respValue, wantValue)
	}
	return nil
}

// verifyRegisterEcho is verifyCoilEcho's Write Single Register counterpart.
func verifyRegisterEcho(payload []byte, address, value uint16) error {
	if len(payload) != 4 {
		return newProtocolError("response data size %d does not match expected 4", len(payload))
	}
	respAddress := binary.BigEndian.Uint16(payload)
	if respAddress != address {
		return newProtocolError("response address %d does not match request %d", respAddress, address)
	}
	respValue := binary.BigEndian.Uint16(payload[2:])
	if respValue != value {
		return newProtocolError("response value %d does not match request %d", respValue, value)
	}
	return nil
}

var _ ClientAPI = (*Client)(nil)
