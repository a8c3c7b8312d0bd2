package modbus

import "testing"

func TestMBAPFrameRoundTrip(t *testing.T) {
	p := NewPDU(7, FcReadHoldingRegisters, []byte{0x00, 0x10, 0x00, 0x02})
	adu := EncodeMBAPFrame(42, p)

	if len(adu) != MBAPHeaderLength+1+len(p.Payload()) {
		t.Fatalf("unexpected ADU length: %d", len(adu))
	}

	txnID, protocolID, pduLen, unitID := DecodeMBAPHeader(adu[:MBAPHeaderLength])
	if txnID != 42 {
		t.Fatalf("txnID = %d, want 42", txnID)
	}
	if protocolID != 0 {
		t.Fatalf("protocolID = %d, want 0", protocolID)
	}
	if unitID != 7 {
		t.Fatalf("unitID = %d, want 7", unitID)
	}

	body := adu[MBAPHeaderLength:]
	if pduLen != len(body) {
		t.Fatalf("pduLen = %d, want %d", pduLen, len(body))
	}

	decoded, err := DecodePDU(unitID, body)
	if err != nil {
		t.Fatalf("DecodePDU: %v", err)
	}
	if decoded.FunctionCode() != FcReadHoldingRegisters {
		t.Fatalf("unexpected function code: 0x%02x", decoded.FunctionCode())
	}
}

func TestMBAPHeaderLengthNeverExceedsMaxADU(t *testing.T) {
	if MBAPHeaderLength >= MaxADULength {
		t.Fatalf("MBAPHeaderLength (%d) must be smaller than MaxADULength (%d)", MBAPHeaderLength, MaxADULength)
	}
}
