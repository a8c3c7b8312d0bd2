package serial485

import (
	"io"
	"time"

	modbus "github.com/tjhorner/gomodbus"
)

// SerialPort is the minimal surface a Slave needs from a physical
// serial line; a go.bug.st/serial.Port satisfies it directly.
type SerialPort interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// RTSLine is implemented by ports wired for RS-485 half-duplex
// transmission, where RTS must be asserted for the duration of a
// write and deasserted once the line has drained. A go.bug.st/serial.Port
// satisfies it directly; ports that don't need RTS gating (already
// full-duplex, or handled by external line-direction hardware) can be
// used without implementing it.
type RTSLine interface {
	SetRTS(enable bool) error
}

// charTime returns how long one RTU byte occupies the wire at the
// given baud rate: 1 start bit, 8 data bits, and a parity/stop bit pair.
func charTime(baud int) time.Duration {
	return 11 * time.Second / time.Duration(baud)
}

// interCharGap returns the default inter-character silence interval
// that marks the end of an RTU frame. At 19200 baud and above this is
// a fixed 1750us; below that it scales with the character time.
func interCharGap(baud int) time.Duration {
	if baud >= 19200 {
		return 1750 * time.Microsecond
	}
	return (charTime(baud) * 35) / 10
}

// receiveFrame blocks for the first byte of a new frame, then reads
// further bytes until the line has been silent for at least gap,
// which this stack treats as the frame boundary rather than relying
// on a function-code-specific expected length (the slave can't know
// in advance how long a request will be). Leading 0x00 bytes are
// treated as idle-line noise and dropped, unless the frame's CRC only
// validates with them kept (a broadcast frame starts with unit id 0).
// A first read that returns neither data nor an error yields an empty
// frame.
func receiveFrame(port SerialPort, gap time.Duration) ([]byte, error) {
	buf := make([]byte, 0, modbus.MaxADULength)
	one := make([]byte, 1)

	if err := port.SetReadTimeout(-1); err != nil {
		return nil, err
	}
	for len(buf) == 0 {
		n, err := port.Read(one)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// no data and no error: hand back an empty frame so the
			// caller can check for cancellation
			return buf, nil
		}
		buf = append(buf, one[:n]...)
	}

	if err := port.SetReadTimeout(gap); err != nil {
		return nil, err
	}
	for len(buf) < modbus.MaxADULength {
		n, err := port.Read(one)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// a read timeout with no bytes means the line has been
			// silent for at least gap: the frame is complete
			break
		}
		buf = append(buf, one[:n]...)
	}

	// Leading 0x00 bytes are idle-line noise unless the CRC only checks
	// out with them in place, as it does for a broadcast (unit id 0) frame.
	for len(buf) >= 4 && buf[0] == 0x00 {
		if _, err := modbus.DecodeRTUFrame(buf); err == nil {
			break
		}
		buf = buf[1:]
	}

	return buf, nil
}

// transmitFrame sends frame with RTS asserted for its entire duration,
// if rts is non-nil (half-duplex RS-485 lines). byteTime is used to
// estimate how long the write will take to drain so RTS isn't
// deasserted before the last bit has left the wire.
func transmitFrame(port SerialPort, rts RTSLine, frame []byte, byteTime time.Duration) error {
	if rts != nil {
		if err := rts.SetRTS(true); err != nil {
			return err
		}
		defer rts.SetRTS(false)
	}

	if _, err := port.Write(frame); err != nil {
		return err
	}

	time.Sleep(byteTime * time.Duration(len(frame)))
	return nil
}
