package serial485

import (
	"encoding/binary"

	modbus "github.com/tjhorner/gomodbus"
)

// dispatch decodes and validates req, invokes the handler, and builds
// either a normal or an exception response. It never returns nil: a
// handler error always becomes an exception PDU, matching the Modbus
// rule that every request but a broadcast gets a reply.
func (s *Slave) dispatch(req *modbus.PDU) *modbus.PDU {
	res, err := s.handle(req)
	if err != nil {
		return modbus.NewPDU(req.UnitID(), req.FunctionCode()|0x80, []byte{modbus.ErrorToExceptionCode(err)})
	}
	return res
}

func (s *Slave) handle(req *modbus.PDU) (*modbus.PDU, error) {
	payload := req.Payload()

	switch req.FunctionCode() {
	case modbus.FcReadCoils, modbus.FcReadDiscreteInputs:
		return s.handleReadBools(req, payload)
	case modbus.FcReadHoldingRegisters, modbus.FcReadInputRegisters:
		return s.handleReadRegisters(req, payload)
	case modbus.FcWriteSingleCoil:
		return s.handleWriteSingleCoil(req, payload)
	case modbus.FcWriteSingleRegister:
		return s.handleWriteSingleRegister(req, payload)
	case modbus.FcWriteMultipleCoils:
		return s.handleWriteMultipleCoils(req, payload)
	case modbus.FcWriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(req, payload)
	case modbus.FcReadExceptionStatus:
		return s.handleReadExceptionStatus(req)
	case modbus.FcDiagnostics:
		return s.handleDiagnostics(req, payload)
	case modbus.FcReportSlaveID:
		return s.handleReportSlaveID(req)
	case modbus.FcMaskWriteRegister:
		return s.handleMaskWriteRegister(req, payload)
	case modbus.FcReadWriteMultipleRegisters:
		return s.handleReadWriteMultipleRegisters(req, payload)
	case modbus.FcReadDeviceIdentification:
		return s.handleReadDeviceIdentification(req, payload)
	default:
		return nil, modbus.ErrIllegalFunction
	}
}

func (s *Slave) handleReadBools(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) != 4 {
		return nil, modbus.ErrIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(payload[0:2])
	quantity := binary.BigEndian.Uint16(payload[2:4])
	if quantity == 0 || quantity > 2000 {
		return nil, modbus.ErrIllegalDataValue
	}
	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		return nil, modbus.ErrIllegalDataAddress
	}

	var values []bool
	var err error
	if req.FunctionCode() == modbus.FcReadCoils {
		values, err = s.handler.HandleCoils(&CoilsRequest{Addr: addr, Quantity: quantity})
	} else {
		values, err = s.handler.HandleDiscreteInputs(&DiscreteInputsRequest{Addr: addr, Quantity: quantity})
	}
	if err != nil {
		return nil, err
	}
	if uint16(len(values)) != quantity {
		return nil, modbus.ErrSlaveDeviceFailure
	}

	packed := modbus.EncodeBools(values)
	resPayload := append([]byte{byte(len(packed))}, packed...)
	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), resPayload), nil
}

func (s *Slave) handleReadRegisters(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) != 4 {
		return nil, modbus.ErrIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(payload[0:2])
	quantity := binary.BigEndian.Uint16(payload[2:4])
	if quantity == 0 || quantity > 125 {
		return nil, modbus.ErrIllegalDataValue
	}
	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		return nil, modbus.ErrIllegalDataAddress
	}

	var values []uint16
	var err error
	if req.FunctionCode() == modbus.FcReadHoldingRegisters {
		values, err = s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{Addr: addr, Quantity: quantity})
	} else {
		values, err = s.handler.HandleInputRegisters(&InputRegistersRequest{Addr: addr, Quantity: quantity})
	}
	if err != nil {
		return nil, err
	}
	if uint16(len(values)) != quantity {
		return nil, modbus.ErrSlaveDeviceFailure
	}

	packed := modbus.Uint16ToBytes(values)
	resPayload := append([]byte{byte(len(packed))}, packed...)
	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), resPayload), nil
}

func (s *Slave) handleWriteSingleCoil(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) != 4 {
		return nil, modbus.ErrIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(payload[0:2])
	if (payload[2] != 0xff && payload[2] != 0x00) || payload[3] != 0x00 {
		return nil, modbus.ErrIllegalDataValue
	}

	_, err := s.handler.HandleCoils(&CoilsRequest{
		WriteFuncCode: modbus.FcWriteSingleCoil,
		Addr:          addr,
		Quantity:      1,
		IsWrite:       true,
		Args:          []bool{payload[2] == 0xff},
	})
	if err != nil {
		return nil, err
	}

	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), append(payload[:0:0], payload...)), nil
}

func (s *Slave) handleWriteSingleRegister(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) != 4 {
		return nil, modbus.ErrIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(payload[0:2])
	value := binary.BigEndian.Uint16(payload[2:4])

	_, err := s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{
		WriteFuncCode: modbus.FcWriteSingleRegister,
		Addr:          addr,
		Quantity:      1,
		IsWrite:       true,
		Args:          []uint16{value},
	})
	if err != nil {
		return nil, err
	}

	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), append(payload[:0:0], payload...)), nil
}

func (s *Slave) handleWriteMultipleCoils(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) < 6 {
		return nil, modbus.ErrIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(payload[0:2])
	quantity := binary.BigEndian.Uint16(payload[2:4])
	if quantity == 0 || quantity > 0x7b0 {
		return nil, modbus.ErrIllegalDataValue
	}
	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		return nil, modbus.ErrIllegalDataAddress
	}

	expectedLen := int((quantity + 7) / 8)
	if int(payload[4]) != expectedLen || len(payload)-5 != expectedLen {
		return nil, modbus.ErrIllegalDataValue
	}

	_, err := s.handler.HandleCoils(&CoilsRequest{
		WriteFuncCode: modbus.FcWriteMultipleCoils,
		Addr:          addr,
		Quantity:      quantity,
		IsWrite:       true,
		Args:          modbus.DecodeBools(quantity, payload[5:]),
	})
	if err != nil {
		return nil, err
	}

	resPayload := append(binaryUint16(addr), binaryUint16(quantity)...)
	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), resPayload), nil
}

func (s *Slave) handleWriteMultipleRegisters(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) < 6 {
		return nil, modbus.ErrIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(payload[0:2])
	quantity := binary.BigEndian.Uint16(payload[2:4])
	if quantity == 0 || quantity > 123 {
		return nil, modbus.ErrIllegalDataValue
	}
	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		return nil, modbus.ErrIllegalDataAddress
	}

	expectedLen := 2 * int(quantity)
	if int(payload[4]) != expectedLen || len(payload)-5 != expectedLen {
		return nil, modbus.ErrIllegalDataValue
	}

	_, err := s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{
		WriteFuncCode: modbus.FcWriteMultipleRegisters,
		Addr:          addr,
		Quantity:      quantity,
		IsWrite:       true,
		Args:          modbus.BytesToUint16(payload[5:]),
	})
	if err != nil {
		return nil, err
	}

	resPayload := append(binaryUint16(addr), binaryUint16(quantity)...)
	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), resPayload), nil
}

func (s *Slave) handleReadExceptionStatus(req *modbus.PDU) (*modbus.PDU, error) {
	h, ok := s.handler.(ExceptionStatusHandler)
	if !ok {
		return nil, modbus.ErrIllegalFunction
	}
	status, err := h.HandleReadExceptionStatus()
	if err != nil {
		return nil, err
	}
	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), []byte{status}), nil
}

func (s *Slave) handleDiagnostics(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) < 2 {
		return nil, modbus.ErrIllegalDataValue
	}
	h, ok := s.handler.(DiagnosticsHandler)
	if !ok {
		return nil, modbus.ErrIllegalFunction
	}

	subFunc := binary.BigEndian.Uint16(payload[0:2])
	data, err := h.HandleDiagnostics(subFunc, payload[2:])
	if err != nil {
		return nil, err
	}

	resPayload := append(binaryUint16(subFunc), data...)
	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), resPayload), nil
}

func (s *Slave) handleReportSlaveID(req *modbus.PDU) (*modbus.PDU, error) {
	h, ok := s.handler.(SlaveIDHandler)
	if !ok {
		return nil, modbus.ErrIllegalFunction
	}
	report, err := h.HandleReportSlaveID()
	if err != nil {
		return nil, err
	}

	status := byte(0)
	if report.RunIndicator {
		status = 0xff
	}
	resPayload := append([]byte{byte(1 + len(report.SlaveID)), status}, report.SlaveID...)
	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), resPayload), nil
}

func (s *Slave) handleMaskWriteRegister(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) != 6 {
		return nil, modbus.ErrIllegalDataValue
	}
	addr := binary.BigEndian.Uint16(payload[0:2])
	andMask := binary.BigEndian.Uint16(payload[2:4])
	orMask := binary.BigEndian.Uint16(payload[4:6])

	current, err := s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{Addr: addr, Quantity: 1})
	if err != nil {
		return nil, err
	}
	if len(current) != 1 {
		return nil, modbus.ErrSlaveDeviceFailure
	}

	newValue := (current[0] & andMask) | (orMask &^ andMask)
	_, err = s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{
		WriteFuncCode: modbus.FcMaskWriteRegister,
		Addr:          addr,
		Quantity:      1,
		IsWrite:       true,
		Args:          []uint16{newValue},
	})
	if err != nil {
		return nil, err
	}

	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), append(payload[:0:0], payload...)), nil
}

func (s *Slave) handleReadWriteMultipleRegisters(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) < 9 {
		return nil, modbus.ErrIllegalDataValue
	}
	readAddr := binary.BigEndian.Uint16(payload[0:2])
	readQuantity := binary.BigEndian.Uint16(payload[2:4])
	writeAddr := binary.BigEndian.Uint16(payload[4:6])
	writeQuantity := binary.BigEndian.Uint16(payload[6:8])
	byteCount := payload[8]

	if readQuantity == 0 || readQuantity > 125 || writeQuantity == 0 || writeQuantity > 121 {
		return nil, modbus.ErrIllegalDataValue
	}
	if int(byteCount) != 2*int(writeQuantity) || len(payload)-9 != int(byteCount) {
		return nil, modbus.ErrIllegalDataValue
	}

	_, err := s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{
		WriteFuncCode: modbus.FcReadWriteMultipleRegisters,
		Addr:          writeAddr,
		Quantity:      writeQuantity,
		IsWrite:       true,
		Args:          modbus.BytesToUint16(payload[9:]),
	})
	if err != nil {
		return nil, err
	}

	values, err := s.handler.HandleHoldingRegisters(&HoldingRegistersRequest{Addr: readAddr, Quantity: readQuantity})
	if err != nil {
		return nil, err
	}
	if uint16(len(values)) != readQuantity {
		return nil, modbus.ErrSlaveDeviceFailure
	}

	packed := modbus.Uint16ToBytes(values)
	resPayload := append([]byte{byte(len(packed))}, packed...)
	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), resPayload), nil
}

func (s *Slave) handleReadDeviceIdentification(req *modbus.PDU, payload []byte) (*modbus.PDU, error) {
	if len(payload) != 3 {
		return nil, modbus.ErrIllegalDataValue
	}
	h, ok := s.handler.(DeviceIdentificationHandler)
	if !ok {
		return nil, modbus.ErrIllegalFunction
	}

	readCode := payload[1]
	objectID := payload[2]
	info, err := h.HandleReadDeviceIdentification(readCode, objectID)
	if err != nil {
		return nil, err
	}

	resPayload := []byte{0x0e, info.ReadCode, info.Conformity, boolByte(info.MoreFollows), info.NextObjectID, byte(len(info.Objects))}
	for id, value := range info.Objects {
		resPayload = append(resPayload, id, byte(len(value)))
		resPayload = append(resPayload, value...)
	}
	return modbus.NewPDU(req.UnitID(), req.FunctionCode(), resPayload), nil
}

func binaryUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
