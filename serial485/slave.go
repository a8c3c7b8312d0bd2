// Package serial485 implements a Modbus RTU slave over an RS-485 (or
// RS-232) serial line: frame boundary detection by inter-character
// silence, CRC-16 validation, RTS-gated half-duplex transmission, and
// dispatch of decoded requests to an application-provided RequestHandler.
package serial485

import (
	"context"
	"time"

	modbus "github.com/tjhorner/gomodbus"
	"github.com/tjhorner/gomodbus/internal/xlog"
)

// Option configures a Slave at construction time.
type Option func(*Slave)

// WithLogger overrides the slave's logger, which otherwise logs to
// stdout/stderr.
func WithLogger(l xlog.LeveledLogger) Option {
	return func(s *Slave) { s.logger = l }
}

// WithInterCharGap overrides the inter-character silence interval used
// to detect the end of an incoming frame. Defaults to 3.5 character
// times (1750us fixed at 19200 baud and above).
func WithInterCharGap(d time.Duration) Option {
	return func(s *Slave) { s.gap = d }
}

// Slave is a Modbus RTU slave serving a single RequestHandler over one
// serial line.
type Slave struct {
	port     SerialPort
	rts      RTSLine
	baud     int
	gap      time.Duration
	byteTime time.Duration
	slaveID  uint8
	handler  RequestHandler
	logger   xlog.LeveledLogger
}

// New creates a Slave serving handler over port at the given baud
// rate. If port also implements RTSLine, RTS is asserted for the
// duration of every transmit to support RS-485 half-duplex lines.
func New(port SerialPort, baud int, handler RequestHandler, opts ...Option) *Slave {
	s := &Slave{
		port:     port,
		baud:     baud,
		gap:      interCharGap(baud),
		byteTime: charTime(baud),
		slaveID:  1,
		handler:  handler,
		logger:   xlog.New("modbus-slave"),
	}

	if rts, ok := port.(RTSLine); ok {
		s.rts = rts
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// SetSlaveID changes the unit (slave) id this Slave answers to.
// Requests addressed to any other unit id are silently dropped, since
// a multi-drop RS-485 line ordinarily carries traffic for several
// devices. Unit id 0 is the broadcast address: every slave on the line
// acts on it, but none replies.
func (s *Slave) SetSlaveID(id uint8) { s.slaveID = id }

// Serve reads and dispatches requests until ctx is cancelled or the
// port returns an unrecoverable error. ctx is checked before each frame
// read, so a cancellation takes effect once the port returns from a read.
func (s *Slave) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := receiveFrame(s.port, s.gap)
		if err != nil {
			return err
		}
		if len(frame) < 4 {
			continue
		}

		req, err := modbus.DecodeRTUFrame(frame)
		if err != nil {
			s.logger.Warningf("dropping malformed frame: %v", err)
			continue
		}

		broadcast := req.UnitID() == 0
		if !broadcast && req.UnitID() != s.slaveID {
			continue
		}

		res := s.dispatch(req)
		if res == nil || broadcast {
			continue
		}

		if err := transmitFrame(s.port, s.rts, modbus.EncodeRTUFrame(res), s.byteTime); err != nil {
			return err
		}
	}
}
