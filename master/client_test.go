package master

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	modbus "github.com/tjhorner/gomodbus"
)

// fakeServer is a minimal, single-connection Modbus TCP responder used
// to exercise the master's MBAP framing and transaction matching
// without depending on a real remote device.
type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeServer{ln: ln}
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

// serveOnce accepts a single connection and runs handle against it
// until the connection closes.
func (s *fakeServer) serveOnce(t *testing.T, handle func(conn net.Conn, unitID uint8, functionCode uint8, payload []byte) []byte) {
	t.Helper()
	go func() {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		header := make([]byte, modbus.MBAPHeaderLength)
		for {
			if _, err := io.ReadFull(conn, header); err != nil {
				return
			}
			txnID := binary.BigEndian.Uint16(header[0:2])
			length := binary.BigEndian.Uint16(header[4:6])
			unitID := header[6]

			body := make([]byte, length-1)
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}

			resPayload := handle(conn, unitID, body[0], body[1:])

			resHeader := make([]byte, modbus.MBAPHeaderLength)
			binary.BigEndian.PutUint16(resHeader[0:2], txnID)
			binary.BigEndian.PutUint16(resHeader[4:6], uint16(2+len(resPayload)))
			resHeader[6] = unitID

			conn.Write(resHeader)
			conn.Write([]byte{body[0]})
			conn.Write(resPayload)
		}
	}()
}

func TestReadHoldingRegisters(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	srv.serveOnce(t, func(conn net.Conn, unitID, fc uint8, payload []byte) []byte {
		quantity := binary.BigEndian.Uint16(payload[2:4])
		out := []byte{byte(2 * quantity)}
		for i := uint16(0); i < quantity; i++ {
			out = append(out, 0x00, byte(i+1))
		}
		return out
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.addr(), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	values, err := c.ReadHoldingRegisters(ctx, 0, 3)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if len(values) != 3 || values[0] != 1 || values[1] != 2 || values[2] != 3 {
		t.Fatalf("unexpected values: %v", values)
	}
}

func TestWriteRegisterEchoMismatch(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	srv.serveOnce(t, func(conn net.Conn, unitID, fc uint8, payload []byte) []byte {
		// echo back a bogus value to trigger the protocol-error path
		return []byte{payload[0], payload[1], 0xff, 0xff}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.addr(), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteRegister(ctx, 10, 1234); err == nil {
		t.Fatal("expected an error from a mismatched echo, got nil")
	}
}

func TestExceptionResponse(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	go func() {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		header := make([]byte, modbus.MBAPHeaderLength)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		txnID := binary.BigEndian.Uint16(header[0:2])
		length := binary.BigEndian.Uint16(header[4:6])
		unitID := header[6]

		body := make([]byte, length-1)
		io.ReadFull(conn, body)

		resHeader := make([]byte, modbus.MBAPHeaderLength)
		binary.BigEndian.PutUint16(resHeader[0:2], txnID)
		binary.BigEndian.PutUint16(resHeader[4:6], 3)
		resHeader[6] = unitID

		conn.Write(resHeader)
		conn.Write([]byte{body[0] | 0x80, modbus.ExIllegalDataAddress})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.addr(), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_, err = c.ReadHoldingRegisters(ctx, 0, 1)
	if !isIllegalDataAddress(err) {
		t.Fatalf("expected illegal data address exception, got %v", err)
	}
}

func isIllegalDataAddress(err error) bool {
	me, ok := err.(*modbus.ModbusError)
	return ok && me.ExceptionCode == modbus.ExIllegalDataAddress
}
