package serial485

import modbus "github.com/tjhorner/gomodbus"

// CoilsRequest is passed to RequestHandler.HandleCoils for both reads
// (function codes 0x01) and writes (0x05, 0x0f).
type CoilsRequest struct {
	WriteFuncCode uint8 // the function code of the write request, 0 for reads
	Addr          uint16
	Quantity      uint16
	IsWrite       bool
	Args          []bool // coil values to set, ordered Addr..Addr+Quantity-1 (writes only)
}

// DiscreteInputsRequest is passed to RequestHandler.HandleDiscreteInputs
// (function code 0x02, read-only).
type DiscreteInputsRequest struct {
	Addr     uint16
	Quantity uint16
}

// HoldingRegistersRequest is passed to RequestHandler.HandleHoldingRegisters
// for both reads (0x03) and writes (0x06, 0x10).
type HoldingRegistersRequest struct {
	WriteFuncCode uint8
	Addr          uint16
	Quantity      uint16
	IsWrite       bool
	Args          []uint16
}

// InputRegistersRequest is passed to RequestHandler.HandleInputRegisters
// (function code 0x04, read-only).
type InputRegistersRequest struct {
	Addr     uint16
	Quantity uint16
}

// RequestHandler is implemented by the application code a Slave
// dispatches decoded requests to. Returning a *modbus.ModbusError (or
// one of the modbus.Err* sentinels via errors.Is) sends the matching
// exception response; any other non-nil error is reported as
// ExSlaveDeviceFailure.
type RequestHandler interface {
	// HandleCoils handles read coils, write single coil and write
	// multiple coils requests. On a read, the returned slice must have
	// exactly req.Quantity elements.
	HandleCoils(req *CoilsRequest) ([]bool, error)

	// HandleDiscreteInputs handles read discrete input requests. The
	// returned slice must have exactly req.Quantity elements.
	HandleDiscreteInputs(req *DiscreteInputsRequest) ([]bool, error)

	// HandleHoldingRegisters handles read holding registers, write
	// single register and write multiple registers requests. On a
	// read, the returned slice must have exactly req.Quantity elements.
	HandleHoldingRegisters(req *HoldingRegistersRequest) ([]uint16, error)

	// HandleInputRegisters handles read input register requests. The
	// returned slice must have exactly req.Quantity elements.
	HandleInputRegisters(req *InputRegistersRequest) ([]uint16, error)
}

// ExceptionStatusHandler is an optional interface a RequestHandler may
// implement to answer Read Exception Status (function code 0x07).
// Slaves that don't implement it answer with ExIllegalFunction.
type ExceptionStatusHandler interface {
	HandleReadExceptionStatus() (uint8, error)
}

// DiagnosticsHandler is an optional interface answering Diagnostics
// (function code 0x08) requests.
type DiagnosticsHandler interface {
	HandleDiagnostics(subFunc uint16, data []byte) ([]byte, error)
}

// SlaveIDHandler is an optional interface answering Report Slave ID
// (function code 0x11) requests.
type SlaveIDHandler interface {
	HandleReportSlaveID() (*modbus.SlaveIDReport, error)
}

// DeviceIdentificationHandler is an optional interface answering Read
// Device Identification (function code 0x2b/0x0e) requests.
type DeviceIdentificationHandler interface {
	HandleReadDeviceIdentification(readCode, objectID uint8) (*modbus.DeviceIdentification, error)
}
