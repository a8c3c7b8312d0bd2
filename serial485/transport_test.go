package serial485

import (
	"testing"
	"time"

	modbus "github.com/tjhorner/gomodbus"
)

// scriptedPort replays a fixed sequence of reads, one per call, used to
// simulate idle-line noise ahead of a real frame.
type scriptedPort struct {
	reads [][]byte
	i     int
}

func (p *scriptedPort) Read(buf []byte) (int, error) {
	if p.i >= len(p.reads) {
		return 0, nil
	}
	n := copy(buf, p.reads[p.i])
	p.i++
	return n, nil
}

func (p *scriptedPort) Write(buf []byte) (int, error)       { return len(buf), nil }
func (p *scriptedPort) Close() error                        { return nil }
func (p *scriptedPort) SetReadTimeout(d time.Duration) error { return nil }

func TestReceiveFrameDiscardsLeadingIdleNoise(t *testing.T) {
	want := modbus.EncodeRTUFrame(modbus.NewPDU(1, modbus.FcReadHoldingRegisters, []byte{0, 0, 0, 1}))

	reads := [][]byte{{0x00}, {0x00}, {0x00}}
	for _, b := range want {
		reads = append(reads, []byte{b})
	}
	port := &scriptedPort{reads: reads}

	got, err := receiveFrame(port, 1750*time.Microsecond)
	if err != nil {
		t.Fatalf("receiveFrame: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("receiveFrame = %v, want %v (leading 0x00 noise was not discarded)", got, want)
	}
}

func TestReceiveFrameKeepsInteriorZeroBytes(t *testing.T) {
	want := modbus.EncodeRTUFrame(modbus.NewPDU(1, modbus.FcWriteSingleRegister, []byte{0x00, 0x00, 0x00, 0x00}))

	var reads [][]byte
	for _, b := range want {
		reads = append(reads, []byte{b})
	}
	port := &scriptedPort{reads: reads}

	got, err := receiveFrame(port, 1750*time.Microsecond)
	if err != nil {
		t.Fatalf("receiveFrame: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("receiveFrame = %v, want %v (interior 0x00 bytes must not be discarded)", got, want)
	}
}
