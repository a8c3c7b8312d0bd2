package modbus

// EncodeRTUFrame serializes a PDU into a complete RTU frame: address,
// function code, payload and a little-endian CRC-16 trailer.
func EncodeRTUFrame(p *PDU) []byte {
	frame := make([]byte, 0, 2+len(p.payload)+2)
	frame = append(frame, p.unitID, p.functionCode)
	frame = append(frame, p.payload...)

	crc := crc16Of(frame)
	return append(frame, crc.bytes()...)
}

// DecodeRTUFrame validates the trailing CRC-16 of a raw RTU frame and
// returns the PDU it carries. frame must include the 2-byte CRC trailer.
func DecodeRTUFrame(frame []byte) (*PDU, error) {
	if len(frame) < 4 {
		return nil, ErrShortFrame
	}

	body := frame[:len(frame)-2]
	crc := crc16Of(body)
	if !crc.isEqual(frame[len(frame)-2], frame[len(frame)-1]) {
		return nil, ErrBadCRC
	}

	return &PDU{unitID: body[0], functionCode: body[1], payload: body[2:]}, nil
}
