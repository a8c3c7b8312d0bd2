package modbus

import "testing"

func TestCRC16RoundTripsThroughRTUFrame(t *testing.T) {
	p := NewPDU(1, FcReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x01})
	frame := EncodeRTUFrame(p)

	decoded, err := DecodeRTUFrame(frame)
	if err != nil {
		t.Fatalf("DecodeRTUFrame: %v", err)
	}
	if decoded.UnitID() != p.unitID || decoded.FunctionCode() != p.functionCode {
		t.Fatalf("decoded PDU does not match original: %+v vs %+v", decoded, p)
	}
}

func TestCRC16DetectsSingleBitFlip(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	good := crc16Of(frame).bytes()

	for bit := 0; bit < 8; bit++ {
		corrupt := append([]byte(nil), frame...)
		corrupt[2] ^= 1 << uint(bit)
		c := crc16Of(corrupt)
		if c.isEqual(good[0], good[1]) {
			t.Fatalf("bit flip at byte 2 bit %d went undetected", bit)
		}
	}
}

func TestCRC16ResetMatchesFresh(t *testing.T) {
	c := newCRC16()
	c.add([]byte{0x01, 0x02, 0x03})
	c.reset()
	c.add([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})

	fresh := crc16Of([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	if c.value != fresh.value {
		t.Fatalf("reset CRC diverged from a fresh computation: %04x vs %04x", c.value, fresh.value)
	}
}
