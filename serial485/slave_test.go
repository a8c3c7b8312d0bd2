package serial485

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	modbus "github.com/tjhorner/gomodbus"
)

// loopbackPort feeds one scripted request frame to Serve and captures
// whatever it writes back, standing in for a real serial line.
type loopbackPort struct {
	mu       sync.Mutex
	toRead   []byte
	readOnce bool
	written  []byte
	wroteCh  chan struct{}
}

func newLoopbackPort(frame []byte) *loopbackPort {
	return &loopbackPort{toRead: frame, wroteCh: make(chan struct{}, 1)}
}

func (p *loopbackPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readOnce || len(p.toRead) == 0 {
		// simulate inter-frame silence indefinitely once the scripted
		// frame has been delivered
		return 0, nil
	}

	n := copy(buf, p.toRead)
	p.toRead = p.toRead[n:]
	if len(p.toRead) == 0 {
		p.readOnce = true
	}
	return n, nil
}

func (p *loopbackPort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	p.written = append(p.written, buf...)
	p.mu.Unlock()
	select {
	case p.wroteCh <- struct{}{}:
	default:
	}
	return len(buf), nil
}

func (p *loopbackPort) Close() error                        { return nil }
func (p *loopbackPort) SetReadTimeout(d time.Duration) error { return nil }

func TestSlaveServeRoundTrip(t *testing.T) {
	h := newTestHandler()
	h.holding[0] = 0x00ab

	req := modbus.EncodeRTUFrame(modbus.NewPDU(1, modbus.FcReadHoldingRegisters, []byte{0, 0, 0, 1}))
	port := newLoopbackPort(req)

	s := New(port, 19200, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	select {
	case <-port.wroteCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a response to be written")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	port.mu.Lock()
	written := append([]byte(nil), port.written...)
	port.mu.Unlock()

	res, err := modbus.DecodeRTUFrame(written)
	if err != nil {
		t.Fatalf("DecodeRTUFrame: %v", err)
	}
	if res.IsException() {
		t.Fatalf("got exception response: %v", res.Payload())
	}

	values, err := modbus.DecodeReadRegistersResponse(res, modbus.FcReadHoldingRegisters, 1)
	if err != nil {
		t.Fatalf("DecodeReadRegistersResponse: %v", err)
	}
	if values[0] != 0x00ab {
		t.Fatalf("unexpected value: 0x%04x", values[0])
	}
}

func TestSlaveActsOnBroadcastButDoesNotRespond(t *testing.T) {
	h := newTestHandler()

	payload := make([]byte, 0, 7)
	addBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(addBuf, 5)
	payload = append(payload, addBuf...)
	binary.BigEndian.PutUint16(addBuf, 0x002a)
	payload = append(payload, addBuf...)

	req := modbus.EncodeRTUFrame(modbus.NewPDU(0, modbus.FcWriteSingleRegister, payload))
	port := newLoopbackPort(req)

	s := New(port, 19200, h)
	s.SetSlaveID(1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = s.Serve(ctx)

	if h.holding[5] != 0x002a {
		t.Fatalf("broadcast write was not applied: %v", h.holding)
	}

	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.written) != 0 {
		t.Fatalf("expected no response to a broadcast request, got %v", port.written)
	}
}

func TestSlaveDropsFrameForOtherUnitID(t *testing.T) {
	h := newTestHandler()
	req := modbus.EncodeRTUFrame(modbus.NewPDU(2, modbus.FcReadHoldingRegisters, []byte{0, 0, 0, 1}))
	port := newLoopbackPort(req)

	s := New(port, 19200, h)
	s.SetSlaveID(1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = s.Serve(ctx)

	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.written) != 0 {
		t.Fatalf("expected no response for a foreign unit id, got %v", port.written)
	}
}
