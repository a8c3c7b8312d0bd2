package modbus

import (
	"encoding/binary"
)

// writeValueKind tags which variant of WriteValue is populated.
type writeValueKind uint8

const (
	kindSingle writeValueKind = iota
	kindSingleBool
	kindBits
	kindWords
	kindRaw
)

// WriteValue is the tagged union accepted by the write encoders,
// replacing the dynamic-typed value argument of the original API
// with an explicit, statically-checked set of variants.
type WriteValue struct {
	kind       writeValueKind
	single     uint16
	singleBool bool
	bits       []bool
	words      []uint16
	raw        []byte
}

// WriteSingleValue wraps a raw 16-bit value for a single coil or
// register write; passed through onto the wire as-is.
func WriteSingleValue(v uint16) WriteValue { return WriteValue{kind: kindSingle, single: v} }

// WriteSingleBool wraps a boolean for a single coil write; true
// encodes to 0xFF00, false to 0x0000.
func WriteSingleBool(v bool) WriteValue { return WriteValue{kind: kindSingleBool, singleBool: v} }

// WriteBits wraps a slice of booleans for a multi-coil write.
func WriteBits(bits []bool) WriteValue { return WriteValue{kind: kindBits, bits: bits} }

// WriteWords wraps a slice of 16-bit values for a multi-register (or
// truthy-packed multi-coil) write.
func WriteWords(words []uint16) WriteValue { return WriteValue{kind: kindWords, words: words} }

// WriteRaw wraps pre-packed bytes, used verbatim.
func WriteRaw(raw []byte) WriteValue { return WriteValue{kind: kindRaw, raw: raw} }

// EncodeReadRequest builds the PDU for reading quantity coils,
// discrete inputs, holding registers or input registers starting at addr.
func EncodeReadRequest(unitID uint8, target TargetType, addr uint16, quantity uint16) (*PDU, error) {
	var fc uint8
	switch target {
	case Coil:
		fc = FcReadCoils
	case DiscreteInput:
		fc = FcReadDiscreteInputs
	case HoldingRegister:
		fc = FcReadHoldingRegisters
	case InputRegister:
		fc = FcReadInputRegisters
	default:
		return nil, ErrInvalidTargetType
	}

	payload := append(asBytes(addr), asBytes(quantity)...)
	return &PDU{unitID: unitID, functionCode: fc, payload: payload}, nil
}

// DecodeReadBoolsResponse decodes the response to a Read Coils / Read
// Discrete Inputs request, returning quantity ordered booleans.
func DecodeReadBoolsResponse(res *PDU, expectedFc uint8, quantity uint16) ([]bool, error) {
	if res.isException() {
		return nil, decodeException(res)
	}
	if res.functionCode != expectedFc {
		return nil, ErrProtocolError
	}
	if len(res.payload) < 1 {
		return nil, ErrProtocolError
	}
	expectedLen := 1 + int((quantity+7)/8)
	if len(res.payload) != expectedLen || int(res.payload[0]) != expectedLen-1 {
		return nil, ErrProtocolError
	}
	return decodeBools(quantity, res.payload[1:]), nil
}

// DecodeReadRegistersResponse decodes the response to a Read Holding
// Registers / Read Input Registers request, returning quantity
// ordered 16-bit values.
func DecodeReadRegistersResponse(res *PDU, expectedFc uint8, quantity uint16) ([]uint16, error) {
	if res.isException() {
		return nil, decodeException(res)
	}
	if res.functionCode != expectedFc {
		return nil, ErrProtocolError
	}
	expectedLen := 1 + 2*int(quantity)
	if len(res.payload) != expectedLen || int(res.payload[0]) != 2*int(quantity) {
		return nil, ErrProtocolError
	}
	return bytesToUint16(res.payload[1:]), nil
}

// EncodeWriteRequest builds the PDU for writing quantity coils or
// registers starting at addr, dispatching to the single or multiple
// form of the function code depending on quantity.
func EncodeWriteRequest(unitID uint8, target TargetType, addr uint16, quantity uint16, value WriteValue) (*PDU, error) {
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}

	switch target {
	case Coil:
		if quantity == 1 {
			return encodeWriteSingleCoil(unitID, addr, value)
		}
		return encodeWriteMultipleCoils(unitID, addr, quantity, value)
	case HoldingRegister:
		if quantity == 1 {
			return encodeWriteSingleRegister(unitID, addr, value)
		}
		return encodeWriteMultipleRegisters(unitID, addr, quantity, value)
	default:
		return nil, ErrInvalidTargetType
	}
}

func encodeWriteSingleCoil(unitID uint8, addr uint16, value WriteValue) (*PDU, error) {
	var v uint16
	switch value.kind {
	case kindSingleBool:
		if value.singleBool {
			v = 0xff00
		}
	case kindSingle:
		v = value.single
	case kindBits:
		if len(value.bits) != 1 {
			return nil, ErrInvalidArgLength
		}
		if value.bits[0] {
			v = 0xff00
		}
	case kindRaw:
		if len(value.raw) != 2 {
			return nil, ErrInvalidArgLength
		}
		v = binary.BigEndian.Uint16(value.raw)
	default:
		return nil, ErrInvalidValues
	}

	payload := append(asBytes(addr), asBytes(v)...)
	return &PDU{unitID: unitID, functionCode: FcWriteSingleCoil, payload: payload}, nil
}

func encodeWriteSingleRegister(unitID uint8, addr uint16, value WriteValue) (*PDU, error) {
	var v uint16
	switch value.kind {
	case kindSingle:
		v = value.single
	case kindWords:
		if len(value.words) != 1 {
			return nil, ErrInvalidArgLength
		}
		v = value.words[0]
	case kindRaw:
		if len(value.raw) != 2 {
			return nil, ErrInvalidArgLength
		}
		v = binary.BigEndian.Uint16(value.raw)
	default:
		return nil, ErrInvalidValues
	}

	payload := append(asBytes(addr), asBytes(v)...)
	return &PDU{unitID: unitID, functionCode: FcWriteSingleRegister, payload: payload}, nil
}

// valueToBits packs value into quantity bits, LSB-first within each
// byte.
func valueToBits(value WriteValue, quantity uint16) ([]byte, error) {
	switch value.kind {
	case kindBits:
		if uint16(len(value.bits)) != quantity {
			return nil, ErrInvalidArgLength
		}
		return encodeBools(value.bits), nil
	case kindWords:
		if uint16(len(value.words)) != quantity {
			return nil, ErrInvalidArgLength
		}
		bits := make([]bool, len(value.words))
		for i, w := range value.words {
			bits[i] = w != 0
		}
		return encodeBools(bits), nil
	case kindRaw:
		expected := int((quantity + 7) / 8)
		if len(value.raw) != expected {
			return nil, ErrInvalidArgLength
		}
		return value.raw, nil
	default:
		return nil, ErrInvalidArgLength
	}
}

func valueToWords(value WriteValue, quantity uint16) ([]uint16, error) {
	switch value.kind {
	case kindWords:
		if uint16(len(value.words)) != quantity {
			return nil, ErrInvalidArgLength
		}
		return value.words, nil
	case kindRaw:
		if len(value.raw) != 2*int(quantity) {
			return nil, ErrInvalidArgLength
		}
		return bytesToUint16(value.raw), nil
	default:
		return nil, ErrInvalidArgLength
	}
}

func encodeWriteMultipleCoils(unitID uint8, addr uint16, quantity uint16, value WriteValue) (*PDU, error) {
	packed, err := valueToBits(value, quantity)
	if err != nil {
		return nil, err
	}

	payload := append(asBytes(addr), asBytes(quantity)...)
	payload = append(payload, byte(len(packed)))
	payload = append(payload, packed...)
	return &PDU{unitID: unitID, functionCode: FcWriteMultipleCoils, payload: payload}, nil
}

func encodeWriteMultipleRegisters(unitID uint8, addr uint16, quantity uint16, value WriteValue) (*PDU, error) {
	words, err := valueToWords(value, quantity)
	if err != nil {
		return nil, err
	}
	packed := uint16ToBytes(words)

	payload := append(asBytes(addr), asBytes(quantity)...)
	payload = append(payload, byte(len(packed)))
	payload = append(payload, packed...)
	return &PDU{unitID: unitID, functionCode: FcWriteMultipleRegisters, payload: payload}, nil
}

// ExpectedWriteEcho returns the value a write response must echo back
// in its second 16-bit field: the quantity for a multi-element write,
// or the encoded value itself for a single-element write.
func ExpectedWriteEcho(req *PDU, quantity uint16) uint16 {
	if quantity == 1 {
		return binary.BigEndian.Uint16(req.payload[2:4])
	}
	return quantity
}

// DecodeWriteResponse verifies a write response echoes the address
// and quantity (or value, for single writes) that was sent.
func DecodeWriteResponse(res *PDU, expectedFc uint8, addr uint16, echoedField uint16) error {
	if res.isException() {
		return decodeException(res)
	}
	if res.functionCode != expectedFc {
		return ErrProtocolError
	}
	if len(res.payload) != 4 {
		return ErrProtocolError
	}
	if binary.BigEndian.Uint16(res.payload[0:2]) != addr {
		return ErrProtocolError
	}
	if binary.BigEndian.Uint16(res.payload[2:4]) != echoedField {
		return ErrProtocolError
	}
	return nil
}

// EncodeReadExceptionStatusRequest builds the (empty-payload) PDU for
// function code 0x07.
func EncodeReadExceptionStatusRequest(unitID uint8) *PDU {
	return &PDU{unitID: unitID, functionCode: FcReadExceptionStatus}
}

// DecodeReadExceptionStatusResponse returns the raw exception status byte.
func DecodeReadExceptionStatusResponse(res *PDU) (uint8, error) {
	if res.isException() {
		return 0, decodeException(res)
	}
	if res.functionCode != FcReadExceptionStatus || len(res.payload) != 1 {
		return 0, ErrProtocolError
	}
	return res.payload[0], nil
}

// EncodeDiagnosticsRequest builds the PDU for function code 0x08
// (Diagnostics): a sub-function selector followed by sub-function data.
func EncodeDiagnosticsRequest(unitID uint8, subFunc uint16, data []byte) *PDU {
	payload := append(asBytes(subFunc), data...)
	return &PDU{unitID: unitID, functionCode: FcDiagnostics, payload: payload}
}

// DecodeDiagnosticsResponse returns the sub-function data echoed back
// (the loopback/echo semantics of most diagnostic sub-functions mean
// this is usually identical to what was sent).
func DecodeDiagnosticsResponse(res *PDU, subFunc uint16) ([]byte, error) {
	if res.isException() {
		return nil, decodeException(res)
	}
	if res.functionCode != FcDiagnostics || len(res.payload) < 2 {
		return nil, ErrProtocolError
	}
	if binary.BigEndian.Uint16(res.payload[0:2]) != subFunc {
		return nil, ErrProtocolError
	}
	return res.payload[2:], nil
}

// EncodeReportSlaveIDRequest builds the (empty-payload) PDU for
// function code 0x11.
func EncodeReportSlaveIDRequest(unitID uint8) *PDU {
	return &PDU{unitID: unitID, functionCode: FcReportSlaveID}
}

// SlaveIDReport is the decoded response to Report Slave ID.
type SlaveIDReport struct {
	SlaveID      []byte
	RunIndicator bool
}

// DecodeReportSlaveIDResponse splits the status byte (high bit = run
// indicator) from the remaining slave-id payload.
func DecodeReportSlaveIDResponse(res *PDU) (*SlaveIDReport, error) {
	if res.isException() {
		return nil, decodeException(res)
	}
	if res.functionCode != FcReportSlaveID || len(res.payload) < 2 {
		return nil, ErrProtocolError
	}
	byteCount := int(res.payload[0])
	if len(res.payload) != 1+byteCount {
		return nil, ErrProtocolError
	}
	status := res.payload[1]
	return &SlaveIDReport{
		SlaveID:      res.payload[2:],
		RunIndicator: status&0x80 != 0,
	}, nil
}

// EncodeMaskWriteRegisterRequest builds the PDU for function code
// 0x16: newValue = (currentValue AND andMask) OR (orMask AND (NOT andMask)).
func EncodeMaskWriteRegisterRequest(unitID uint8, refAddr, andMask, orMask uint16) *PDU {
	payload := append(asBytes(refAddr), asBytes(andMask)...)
	payload = append(payload, asBytes(orMask)...)
	return &PDU{unitID: unitID, functionCode: FcMaskWriteRegister, payload: payload}
}

// DecodeMaskWriteRegisterResponse verifies the response echoes the
// reference address and both masks.
func DecodeMaskWriteRegisterResponse(res *PDU, refAddr, andMask, orMask uint16) error {
	if res.isException() {
		return decodeException(res)
	}
	if res.functionCode != FcMaskWriteRegister || len(res.payload) != 6 {
		return ErrProtocolError
	}
	if binary.BigEndian.Uint16(res.payload[0:2]) != refAddr ||
		binary.BigEndian.Uint16(res.payload[2:4]) != andMask ||
		binary.BigEndian.Uint16(res.payload[4:6]) != orMask {
		return ErrProtocolError
	}
	return nil
}

// EncodeReadWriteMultipleRegistersRequest builds the PDU for function
// code 0x17: a read and a write combined in a single round trip.
func EncodeReadWriteMultipleRegistersRequest(unitID uint8, readAddr, readQuantity, writeAddr uint16, writeValues []uint16) *PDU {
	payload := append(asBytes(readAddr), asBytes(readQuantity)...)
	payload = append(payload, asBytes(writeAddr)...)
	payload = append(payload, asBytes(uint16(len(writeValues)))...)
	packed := uint16ToBytes(writeValues)
	payload = append(payload, byte(len(packed)))
	payload = append(payload, packed...)
	return &PDU{unitID: unitID, functionCode: FcReadWriteMultipleRegisters, payload: payload}
}

// DecodeReadWriteMultipleRegistersResponse decodes the registers read
// back by a Read/Write Multiple Registers request.
func DecodeReadWriteMultipleRegistersResponse(res *PDU, readQuantity uint16) ([]uint16, error) {
	return DecodeReadRegistersResponse(res, FcReadWriteMultipleRegisters, readQuantity)
}

// EncodeReadDeviceIdentificationRequest builds the PDU for function
// code 0x2b/0x0e.
func EncodeReadDeviceIdentificationRequest(unitID uint8, readCode uint8, objectID uint8) *PDU {
	payload := []byte{subFcReadDeviceIdentification, readCode, objectID}
	return &PDU{unitID: unitID, functionCode: FcReadDeviceIdentification, payload: payload}
}

// DeviceIdentification is the decoded response to Read Device Identification.
type DeviceIdentification struct {
	ReadCode      uint8
	Conformity    uint8
	MoreFollows   bool
	NextObjectID  uint8
	NumberObjects uint8
	Objects       map[uint8][]byte
}

// DecodeReadDeviceIdentificationResponse parses the sub-header and the
// sequence of (id, length, value) objects into a map keyed by object id.
func DecodeReadDeviceIdentificationResponse(res *PDU) (*DeviceIdentification, error) {
	if res.isException() {
		return nil, decodeException(res)
	}
	if res.functionCode != FcReadDeviceIdentification {
		return nil, ErrProtocolError
	}
	p := res.payload
	if len(p) < 6 || p[0] != subFcReadDeviceIdentification {
		return nil, ErrProtocolError
	}

	out := &DeviceIdentification{
		ReadCode:      p[1],
		Conformity:    p[2],
		MoreFollows:   p[3] != 0x00,
		NextObjectID:  p[4],
		NumberObjects: p[5],
		Objects:       make(map[uint8][]byte, p[5]),
	}

	rest := p[6:]
	for i := uint8(0); i < out.NumberObjects; i++ {
		if len(rest) < 2 {
			return nil, ErrProtocolError
		}
		objID := rest[0]
		objLen := int(rest[1])
		if len(rest) < 2+objLen {
			return nil, ErrProtocolError
		}
		out.Objects[objID] = rest[2 : 2+objLen]
		rest = rest[2+objLen:]
	}

	return out, nil
}

// decodeException reads the single exception-code byte off an
// exception-bit response.
func decodeException(res *PDU) error {
	if len(res.payload) != 1 {
		return ErrProtocolError
	}
	return exceptionToError(res.functionCode, res.payload[0])
}
