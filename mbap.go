package modbus

import "encoding/binary"

// MBAPHeaderLength is the fixed size of the MBAP header that precedes
// every PDU on a Modbus TCP connection.
const MBAPHeaderLength = 7

// MaxADULength bounds how large a single Modbus TCP ADU is ever
// allowed to be (the 7-byte MBAP header plus at most 253 bytes of PDU);
// an RTU frame, at most 256 bytes, also fits, so the same read buffers
// can be reused.
const MaxADULength = 260

// EncodeMBAPFrame prepends the 7-byte MBAP header to a PDU and returns
// the resulting ADU. length always covers unitID + the PDU and is thus
// always >= 2.
func EncodeMBAPFrame(txnID uint16, p *PDU) []byte {
	adu := make([]byte, 0, MBAPHeaderLength+len(p.payload)+1)
	adu = append(adu, asBytes(txnID)...)
	adu = append(adu, 0x00, 0x00) // protocol identifier, always 0
	adu = append(adu, asBytes(uint16(2+len(p.payload)))...)
	adu = append(adu, p.unitID)
	adu = append(adu, p.functionCode)
	adu = append(adu, p.payload...)
	return adu
}

// DecodeMBAPHeader parses the fixed 7-byte MBAP header, returning the
// transaction id, the protocol id (expected to be 0) and the number of
// PDU bytes (including the function code) that follow.
func DecodeMBAPHeader(header []byte) (txnID uint16, protocolID uint16, pduLen int, unitID uint8) {
	txnID = binary.BigEndian.Uint16(header[0:2])
	protocolID = binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint16(header[4:6])
	unitID = header[6]
	pduLen = int(length) - 1 // length includes unitID, which we already consumed
	return
}
