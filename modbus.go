// Package modbus implements the wire-format pieces of the Modbus
// protocol shared by both the TCP master (see the master package) and
// the RTU slave (see the serial485 package): the PDU codec, exception
// taxonomy, CRC-16 and the numeric encoding helpers used to pack and
// unpack coils and registers.
package modbus

import (
	"fmt"
)

// TargetType identifies the kind of Modbus data a request addresses.
type TargetType uint8

const (
	// Coil is a single bit of writable output state.
	Coil TargetType = iota
	// DiscreteInput is a single bit of read-only input state.
	DiscreteInput
	// HoldingRegister is a 16-bit word of writable state.
	HoldingRegister
	// InputRegister is a 16-bit word of read-only state.
	InputRegister
)

func (t TargetType) String() string {
	switch t {
	case Coil:
		return "coil"
	case DiscreteInput:
		return "discrete input"
	case HoldingRegister:
		return "holding register"
	case InputRegister:
		return "input register"
	default:
		return fmt.Sprintf("target type %d", uint8(t))
	}
}

// Function codes recognized by this stack.
const (
	FcReadCoils                  uint8 = 0x01
	FcReadDiscreteInputs         uint8 = 0x02
	FcReadHoldingRegisters       uint8 = 0x03
	FcReadInputRegisters         uint8 = 0x04
	FcWriteSingleCoil            uint8 = 0x05
	FcWriteSingleRegister        uint8 = 0x06
	FcReadExceptionStatus        uint8 = 0x07
	FcDiagnostics                uint8 = 0x08
	FcWriteMultipleCoils         uint8 = 0x0f
	FcWriteMultipleRegisters     uint8 = 0x10
	FcReportSlaveID              uint8 = 0x11
	FcMaskWriteRegister          uint8 = 0x16
	FcReadWriteMultipleRegisters uint8 = 0x17
	FcReadDeviceIdentification   uint8 = 0x2b

	// subFcReadDeviceIdentification is the MODBUS Encapsulated
	// Interface sub-function code carried as the first payload byte
	// of a 0x2b request/response.
	subFcReadDeviceIdentification uint8 = 0x0e

	// exceptionBit is ORed into a response's function code to mark it
	// as an exception response.
	exceptionBit uint8 = 0x80
)

// Protocol exception codes, as returned by a remote device.
const (
	ExIllegalFunction     uint8 = 0x01
	ExIllegalDataAddress  uint8 = 0x02
	ExIllegalDataValue    uint8 = 0x03
	ExSlaveDeviceFailure  uint8 = 0x04
	ExAcknowledge         uint8 = 0x05
	ExSlaveDeviceBusy     uint8 = 0x06
	ExNegativeAcknowledge uint8 = 0x07
	ExMemoryParityError   uint8 = 0x08
)

// Library-internal exception codes. These never appear on
// the wire; they are how transport and programmer errors are folded
// into the same taxonomy as protocol exceptions.
const (
	ExResponseTimeout      uint8 = 80
	ExInvalidCRC           uint8 = 81
	ExInvalidArgLength     uint8 = 82
	ExInvalidDeviceAddress uint8 = 83
	ExInvalidAddress       uint8 = 84
	ExInvalidAddressRange  uint8 = 85
	ExInvalidAddressType   uint8 = 86
	ExInvalidTargetType    uint8 = 87
	ExInvalidValues        uint8 = 88
	ExInvalidQuantity      uint8 = 89
)

// PDU is the function code plus function-specific payload shared by
// both the TCP and RTU ADU formats. All multi-byte integers inside a
// PDU are big-endian.
type PDU struct {
	unitID       uint8
	functionCode uint8
	payload      []byte
}

// isException reports whether the PDU's function code has the
// exception bit set.
func (p *PDU) isException() bool {
	return p.functionCode&exceptionBit != 0
}

// UnitID returns the unit (slave) id a PDU was addressed to or from.
func (p *PDU) UnitID() uint8 { return p.unitID }

// FunctionCode returns the PDU's function code, exception bit included.
func (p *PDU) FunctionCode() uint8 { return p.functionCode }

// IsException reports whether a decoded PDU carries an exception response.
func (p *PDU) IsException() bool { return p.isException() }

// Payload returns the PDU's function-specific payload, not including
// the unit id or function code.
func (p *PDU) Payload() []byte { return p.payload }

// NewPDU builds a PDU from its parts, for transport layers assembling
// a response (or, on the slave side, a request) directly rather than
// through one of the Encode* helpers.
func NewPDU(unitID, functionCode uint8, payload []byte) *PDU {
	return &PDU{unitID: unitID, functionCode: functionCode, payload: payload}
}

// ErrorToExceptionCode maps an arbitrary error returned by a slave
// handler to the wire exception code it should be reported as: the
// code carried by a *ModbusError or a recognized sentinel, or
// ExSlaveDeviceFailure for anything else.
func ErrorToExceptionCode(err error) uint8 {
	if me, ok := err.(*ModbusError); ok {
		return me.ExceptionCode
	}
	if se, ok := err.(*sentinelError); ok {
		return se.code
	}
	return ExSlaveDeviceFailure
}

// DecodePDU reconstructs a PDU from its wire bytes (function code
// followed by payload), attaching the given unit id. Transport layers
// call this once they've stripped their own framing (the MBAP header,
// or the RTU address+CRC envelope).
func DecodePDU(unitID uint8, data []byte) (*PDU, error) {
	if len(data) < 1 {
		return nil, ErrShortFrame
	}
	return &PDU{unitID: unitID, functionCode: data[0], payload: data[1:]}, nil
}

// ModbusError represents an exception response, either one actually
// returned by a remote device (code 1-8) or one synthesized locally by
// the library (code 80-89).
type ModbusError struct {
	FunctionCode  uint8
	ExceptionCode uint8
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: function 0x%02x: %s", e.FunctionCode, exceptionString(e.ExceptionCode))
}

// Is allows errors.Is(err, ErrIllegalFunction) and friends to match a
// *ModbusError carrying the corresponding exception code.
func (e *ModbusError) Is(target error) bool {
	sentinel, ok := target.(*sentinelError)
	if !ok {
		return false
	}
	return e.ExceptionCode == sentinel.code
}

// sentinelError lets package-level Err* values be compared against a
// *ModbusError via errors.Is without themselves carrying a function code.
type sentinelError struct {
	code uint8
	msg  string
}

func (s *sentinelError) Error() string { return s.msg }

func newSentinel(code uint8, msg string) *sentinelError {
	return &sentinelError{code: code, msg: msg}
}

// Protocol exception sentinels.
var (
	ErrIllegalFunction     = newSentinel(ExIllegalFunction, "illegal function")
	ErrIllegalDataAddress  = newSentinel(ExIllegalDataAddress, "illegal data address")
	ErrIllegalDataValue    = newSentinel(ExIllegalDataValue, "illegal data value")
	ErrSlaveDeviceFailure  = newSentinel(ExSlaveDeviceFailure, "slave device failure")
	ErrAcknowledge         = newSentinel(ExAcknowledge, "request acknowledged")
	ErrSlaveDeviceBusy     = newSentinel(ExSlaveDeviceBusy, "slave device busy")
	ErrNegativeAcknowledge = newSentinel(ExNegativeAcknowledge, "negative acknowledge")
	ErrMemoryParityError   = newSentinel(ExMemoryParityError, "memory parity error")
)

// Transport and programmer-error sentinels. These are returned
// directly (not wrapped in *ModbusError) since nothing was ever put on
// the wire.
var (
	ErrRequestTimedOut    = newSentinel(ExResponseTimeout, "request timed out")
	ErrBadCRC             = newSentinel(ExInvalidCRC, "bad CRC")
	ErrInvalidArgLength   = newSentinel(ExInvalidArgLength, "invalid argument length")
	ErrInvalidDeviceAddr  = newSentinel(ExInvalidDeviceAddress, "invalid device address")
	ErrInvalidAddress     = newSentinel(ExInvalidAddress, "invalid address")
	ErrInvalidAddrRange   = newSentinel(ExInvalidAddressRange, "invalid address range")
	ErrInvalidAddressType = newSentinel(ExInvalidAddressType, "invalid address type")
	ErrInvalidTargetType  = newSentinel(ExInvalidTargetType, "invalid target type")
	ErrInvalidValues      = newSentinel(ExInvalidValues, "invalid values")
	ErrInvalidQuantity    = newSentinel(ExInvalidQuantity, "invalid quantity")
)

// ErrProtocolError signals a malformed or unexpected frame that isn't
// covered by a specific exception code (bad length, mismatched echo, etc).
var ErrProtocolError = fmt.Errorf("modbus: protocol error")

// ErrShortFrame signals a frame that ended before the header said it would.
var ErrShortFrame = fmt.Errorf("modbus: short frame")

func exceptionString(code uint8) string {
	switch code {
	case ExIllegalFunction:
		return "illegal function"
	case ExIllegalDataAddress:
		return "illegal data address"
	case ExIllegalDataValue:
		return "illegal data value"
	case ExSlaveDeviceFailure:
		return "slave device failure"
	case ExAcknowledge:
		return "acknowledge"
	case ExSlaveDeviceBusy:
		return "slave device busy"
	case ExNegativeAcknowledge:
		return "negative acknowledge"
	case ExMemoryParityError:
		return "memory parity error"
	case ExResponseTimeout:
		return "response timeout"
	case ExInvalidCRC:
		return "invalid CRC"
	case ExInvalidArgLength:
		return "invalid argument length"
	case ExInvalidDeviceAddress:
		return "invalid device address"
	case ExInvalidAddress:
		return "invalid address"
	case ExInvalidAddressRange:
		return "invalid address range"
	case ExInvalidAddressType:
		return "invalid address type"
	case ExInvalidTargetType:
		return "invalid target type"
	case ExInvalidValues:
		return "invalid values"
	case ExInvalidQuantity:
		return "invalid quantity"
	default:
		return fmt.Sprintf("exception code %d", code)
	}
}

// exceptionToError maps an on-the-wire exception code (1-8) to the
// matching sentinel, wrapped with the originating function code.
func exceptionToError(functionCode uint8, exceptionCode uint8) error {
	return &ModbusError{
		FunctionCode:  functionCode &^ exceptionBit,
		ExceptionCode: exceptionCode,
	}
}
