package master

import (
	"context"

	modbus "github.com/tjhorner/gomodbus"
)

// ReadCoils reads quantity coils starting at addr.
func (c *Client) ReadCoils(ctx context.Context, addr, quantity uint16) ([]bool, error) {
	return c.readBools(ctx, modbus.Coil, addr, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at addr.
func (c *Client) ReadDiscreteInputs(ctx context.Context, addr, quantity uint16) ([]bool, error) {
	return c.readBools(ctx, modbus.DiscreteInput, addr, quantity)
}

func (c *Client) readBools(ctx context.Context, target modbus.TargetType, addr, quantity uint16) ([]bool, error) {
	req, err := modbus.EncodeReadRequest(c.unitID, target, addr, quantity)
	if err != nil {
		return nil, err
	}
	res, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeReadBoolsResponse(res, req.FunctionCode(), quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at addr.
func (c *Client) ReadHoldingRegisters(ctx context.Context, addr, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, modbus.HoldingRegister, addr, quantity)
}

// ReadInputRegisters reads quantity input registers starting at addr.
func (c *Client) ReadInputRegisters(ctx context.Context, addr, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, modbus.InputRegister, addr, quantity)
}

func (c *Client) readRegisters(ctx context.Context, target modbus.TargetType, addr, quantity uint16) ([]uint16, error) {
	req, err := modbus.EncodeReadRequest(c.unitID, target, addr, quantity)
	if err != nil {
		return nil, err
	}
	res, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeReadRegistersResponse(res, req.FunctionCode(), quantity)
}

// ReadUint32s reads quantity 32-bit values (2 registers each) of
// target, which must be HoldingRegister or InputRegister.
func (c *Client) ReadUint32s(ctx context.Context, target modbus.TargetType, addr uint16, quantity uint16) ([]uint32, error) {
	regs, err := c.readRegisters(ctx, target, addr, quantity*2)
	if err != nil {
		return nil, err
	}
	return modbus.RegistersToUint32(c.endianness, c.wordOrder, regs), nil
}

// ReadFloat32s reads quantity IEEE-754 floats (2 registers each) of target.
func (c *Client) ReadFloat32s(ctx context.Context, target modbus.TargetType, addr uint16, quantity uint16) ([]float32, error) {
	regs, err := c.readRegisters(ctx, target, addr, quantity*2)
	if err != nil {
		return nil, err
	}
	return modbus.RegistersToFloat32(c.endianness, c.wordOrder, regs), nil
}

// ReadUint64s reads quantity 64-bit values (4 registers each) of target.
func (c *Client) ReadUint64s(ctx context.Context, target modbus.TargetType, addr uint16, quantity uint16) ([]uint64, error) {
	regs, err := c.readRegisters(ctx, target, addr, quantity*4)
	if err != nil {
		return nil, err
	}
	return modbus.RegistersToUint64(c.endianness, c.wordOrder, regs), nil
}

// ReadFloat64s reads quantity double-precision floats (4 registers
// each) of target.
func (c *Client) ReadFloat64s(ctx context.Context, target modbus.TargetType, addr uint16, quantity uint16) ([]float64, error) {
	regs, err := c.readRegisters(ctx, target, addr, quantity*4)
	if err != nil {
		return nil, err
	}
	return modbus.RegistersToFloat64(c.endianness, c.wordOrder, regs), nil
}

// Write writes quantity coils or holding registers starting at addr,
// dispatching to the single or multiple form of the write function
// code depending on quantity.
func (c *Client) Write(ctx context.Context, target modbus.TargetType, addr uint16, quantity uint16, value modbus.WriteValue) error {
	req, err := modbus.EncodeWriteRequest(c.unitID, target, addr, quantity, value)
	if err != nil {
		return err
	}
	res, err := c.execute(ctx, req)
	if err != nil {
		return err
	}

	return modbus.DecodeWriteResponse(res, req.FunctionCode(), addr, modbus.ExpectedWriteEcho(req, quantity))
}

// WriteCoil writes a single coil.
func (c *Client) WriteCoil(ctx context.Context, addr uint16, value bool) error {
	return c.Write(ctx, modbus.Coil, addr, 1, modbus.WriteSingleBool(value))
}

// WriteCoils writes multiple coils starting at addr.
func (c *Client) WriteCoils(ctx context.Context, addr uint16, values []bool) error {
	return c.Write(ctx, modbus.Coil, addr, uint16(len(values)), modbus.WriteBits(values))
}

// WriteRegister writes a single holding register.
func (c *Client) WriteRegister(ctx context.Context, addr uint16, value uint16) error {
	return c.Write(ctx, modbus.HoldingRegister, addr, 1, modbus.WriteSingleValue(value))
}

// WriteRegisters writes multiple holding registers starting at addr.
func (c *Client) WriteRegisters(ctx context.Context, addr uint16, values []uint16) error {
	return c.Write(ctx, modbus.HoldingRegister, addr, uint16(len(values)), modbus.WriteWords(values))
}

// WriteUint32s writes quantity 32-bit values as pairs of holding registers.
func (c *Client) WriteUint32s(ctx context.Context, addr uint16, values []uint32) error {
	var regs []uint16
	for _, v := range values {
		regs = append(regs, modbus.Uint32ToRegisters(c.endianness, c.wordOrder, v)...)
	}
	return c.WriteRegisters(ctx, addr, regs)
}

// WriteFloat32s writes quantity IEEE-754 floats as pairs of holding registers.
func (c *Client) WriteFloat32s(ctx context.Context, addr uint16, values []float32) error {
	var regs []uint16
	for _, v := range values {
		regs = append(regs, modbus.Float32ToRegisters(c.endianness, c.wordOrder, v)...)
	}
	return c.WriteRegisters(ctx, addr, regs)
}

// WriteUint64s writes quantity 64-bit values as quadruples of holding registers.
func (c *Client) WriteUint64s(ctx context.Context, addr uint16, values []uint64) error {
	var regs []uint16
	for _, v := range values {
		regs = append(regs, modbus.Uint64ToRegisters(c.endianness, c.wordOrder, v)...)
	}
	return c.WriteRegisters(ctx, addr, regs)
}

// WriteFloat64s writes quantity double-precision floats as quadruples
// of holding registers.
func (c *Client) WriteFloat64s(ctx context.Context, addr uint16, values []float64) error {
	var regs []uint16
	for _, v := range values {
		regs = append(regs, modbus.Float64ToRegisters(c.endianness, c.wordOrder, v)...)
	}
	return c.WriteRegisters(ctx, addr, regs)
}

// ReadExceptionStatus reads the 8 coils of the remote device's
// exception status register (function code 0x07).
func (c *Client) ReadExceptionStatus(ctx context.Context) (uint8, error) {
	req := modbus.EncodeReadExceptionStatusRequest(c.unitID)
	res, err := c.execute(ctx, req)
	if err != nil {
		return 0, err
	}
	return modbus.DecodeReadExceptionStatusResponse(res)
}

// Diagnostics runs a diagnostic sub-function (function code 0x08),
// returning whatever data the remote device echoes back.
func (c *Client) Diagnostics(ctx context.Context, subFunc uint16, data []byte) ([]byte, error) {
	req := modbus.EncodeDiagnosticsRequest(c.unitID, subFunc, data)
	res, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeDiagnosticsResponse(res, subFunc)
}

// ReportSlaveID retrieves the remote device's identification string
// and run indicator status (function code 0x11).
func (c *Client) ReportSlaveID(ctx context.Context) (*modbus.SlaveIDReport, error) {
	req := modbus.EncodeReportSlaveIDRequest(c.unitID)
	res, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeReportSlaveIDResponse(res)
}

// MaskWriteRegister performs a read-modify-write of a single holding
// register: newValue = (currentValue AND andMask) OR (orMask AND (NOT andMask)).
func (c *Client) MaskWriteRegister(ctx context.Context, refAddr, andMask, orMask uint16) error {
	req := modbus.EncodeMaskWriteRegisterRequest(c.unitID, refAddr, andMask, orMask)
	res, err := c.execute(ctx, req)
	if err != nil {
		return err
	}
	return modbus.DecodeMaskWriteRegisterResponse(res, refAddr, andMask, orMask)
}

// ReadWriteMultipleRegisters performs a write followed by a read of
// holding registers in a single round trip (function code 0x17).
func (c *Client) ReadWriteMultipleRegisters(ctx context.Context, readAddr, readQuantity, writeAddr uint16, writeValues []uint16) ([]uint16, error) {
	req := modbus.EncodeReadWriteMultipleRegistersRequest(c.unitID, readAddr, readQuantity, writeAddr, writeValues)
	res, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeReadWriteMultipleRegistersResponse(res, readQuantity)
}

// ReadDeviceIdentification retrieves the remote device's MODBUS
// Encapsulated Interface identification objects (function code 0x2b/0x0e).
func (c *Client) ReadDeviceIdentification(ctx context.Context, readCode, objectID uint8) (*modbus.DeviceIdentification, error) {
	req := modbus.EncodeReadDeviceIdentificationRequest(c.unitID, readCode, objectID)
	res, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeReadDeviceIdentificationResponse(res)
}
