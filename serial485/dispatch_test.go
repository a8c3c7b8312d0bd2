package serial485

import (
	"encoding/binary"
	"testing"
	"time"

	modbus "github.com/tjhorner/gomodbus"
)

type testHandler struct {
	coils   map[uint16]bool
	holding map[uint16]uint16
	status  uint8
}

func newTestHandler() *testHandler {
	return &testHandler{
		coils:   make(map[uint16]bool),
		holding: make(map[uint16]uint16),
	}
}

func (h *testHandler) HandleCoils(req *CoilsRequest) ([]bool, error) {
	if req.IsWrite {
		for i, v := range req.Args {
			h.coils[req.Addr+uint16(i)] = v
		}
		return nil, nil
	}
	out := make([]bool, req.Quantity)
	for i := range out {
		out[i] = h.coils[req.Addr+uint16(i)]
	}
	return out, nil
}

func (h *testHandler) HandleDiscreteInputs(req *DiscreteInputsRequest) ([]bool, error) {
	return make([]bool, req.Quantity), nil
}

func (h *testHandler) HandleHoldingRegisters(req *HoldingRegistersRequest) ([]uint16, error) {
	if req.IsWrite {
		for i, v := range req.Args {
			h.holding[req.Addr+uint16(i)] = v
		}
		return nil, nil
	}
	if req.Addr == 0xffff {
		return nil, modbus.ErrIllegalDataAddress
	}
	out := make([]uint16, req.Quantity)
	for i := range out {
		out[i] = h.holding[req.Addr+uint16(i)]
	}
	return out, nil
}

func (h *testHandler) HandleInputRegisters(req *InputRegistersRequest) ([]uint16, error) {
	return make([]uint16, req.Quantity), nil
}

func (h *testHandler) HandleReadExceptionStatus() (uint8, error) {
	return h.status, nil
}

func newTestSlave(h RequestHandler) *Slave {
	return New(&discardPort{}, 19200, h)
}

type discardPort struct{}

func (discardPort) Read(p []byte) (int, error)              { return 0, nil }
func (discardPort) Write(p []byte) (int, error)              { return len(p), nil }
func (discardPort) Close() error                             { return nil }
func (discardPort) SetReadTimeout(d time.Duration) error      { return nil }

func TestDispatchReadHoldingRegisters(t *testing.T) {
	h := newTestHandler()
	h.holding[10] = 0x1234
	h.holding[11] = 0x5678
	s := newTestSlave(h)

	req, err := modbus.EncodeReadRequest(1, modbus.HoldingRegister, 10, 2)
	if err != nil {
		t.Fatalf("EncodeReadRequest: %v", err)
	}

	res := s.dispatch(req)
	if res.IsException() {
		t.Fatalf("got exception response: %v", res.Payload())
	}

	values, err := modbus.DecodeReadRegistersResponse(res, modbus.FcReadHoldingRegisters, 2)
	if err != nil {
		t.Fatalf("DecodeReadRegistersResponse: %v", err)
	}
	if values[0] != 0x1234 || values[1] != 0x5678 {
		t.Fatalf("unexpected values: %v", values)
	}
}

func TestDispatchWriteSingleCoil(t *testing.T) {
	h := newTestHandler()
	s := newTestSlave(h)

	req, err := modbus.EncodeWriteRequest(1, modbus.Coil, 3, 1, modbus.WriteSingleBool(true))
	if err != nil {
		t.Fatalf("EncodeWriteRequest: %v", err)
	}

	res := s.dispatch(req)
	if res.IsException() {
		t.Fatalf("got exception response: %v", res.Payload())
	}
	if !h.coils[3] {
		t.Fatal("coil 3 was not set")
	}
}

func TestDispatchIllegalDataAddress(t *testing.T) {
	h := newTestHandler()
	s := newTestSlave(h)

	req, err := modbus.EncodeReadRequest(1, modbus.HoldingRegister, 0xffff, 1)
	if err != nil {
		t.Fatalf("EncodeReadRequest: %v", err)
	}

	res := s.dispatch(req)
	if !res.IsException() {
		t.Fatal("expected exception response")
	}
	if res.Payload()[0] != modbus.ExIllegalDataAddress {
		t.Fatalf("unexpected exception code: 0x%02x", res.Payload()[0])
	}
}

func TestDispatchReadExceptionStatus(t *testing.T) {
	h := newTestHandler()
	h.status = 0x5a
	s := newTestSlave(h)

	req := modbus.NewPDU(1, modbus.FcReadExceptionStatus, nil)
	res := s.dispatch(req)
	if res.IsException() {
		t.Fatalf("got exception response: %v", res.Payload())
	}
	if res.Payload()[0] != 0x5a {
		t.Fatalf("unexpected status byte: 0x%02x", res.Payload()[0])
	}
}

func TestDispatchUnsupportedOptionalFunction(t *testing.T) {
	h := &minimalHandler{}
	s := newTestSlave(h)

	req := modbus.NewPDU(1, modbus.FcReportSlaveID, nil)
	res := s.dispatch(req)
	if !res.IsException() {
		t.Fatal("expected exception response")
	}
	if res.Payload()[0] != modbus.ExIllegalFunction {
		t.Fatalf("unexpected exception code: 0x%02x", res.Payload()[0])
	}
}

func TestDispatchWriteMultipleRegisters(t *testing.T) {
	h := newTestHandler()
	s := newTestSlave(h)

	payload := make([]byte, 0, 5+4)
	addBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(addBuf, 20)
	payload = append(payload, addBuf...)
	binary.BigEndian.PutUint16(addBuf, 2)
	payload = append(payload, addBuf...)
	payload = append(payload, 4)
	valBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(valBuf, 0x0011)
	payload = append(payload, valBuf...)
	binary.BigEndian.PutUint16(valBuf, 0x0022)
	payload = append(payload, valBuf...)

	req := modbus.NewPDU(1, modbus.FcWriteMultipleRegisters, payload)
	res := s.dispatch(req)
	if res.IsException() {
		t.Fatalf("got exception response: %v", res.Payload())
	}
	if h.holding[20] != 0x0011 || h.holding[21] != 0x0022 {
		t.Fatalf("unexpected holding registers: %v", h.holding)
	}
}

// minimalHandler implements only the mandatory RequestHandler
// interface, to exercise the optional-interface fallback path.
type minimalHandler struct{}

func (minimalHandler) HandleCoils(*CoilsRequest) ([]bool, error)                     { return nil, nil }
func (minimalHandler) HandleDiscreteInputs(*DiscreteInputsRequest) ([]bool, error)   { return nil, nil }
func (minimalHandler) HandleHoldingRegisters(*HoldingRegistersRequest) ([]uint16, error) {
	return nil, nil
}
func (minimalHandler) HandleInputRegisters(*InputRegistersRequest) ([]uint16, error) { return nil, nil }
