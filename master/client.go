// Package master implements a Modbus TCP master (client): it dials a
// remote device, frames requests in MBAP, and demultiplexes responses
// off a single background read loop so that multiple goroutines may
// have requests in flight at once.
package master

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	modbus "github.com/tjhorner/gomodbus"
	"github.com/tjhorner/gomodbus/internal/xlog"
)

// ErrClosed is returned by any request made against a Client that has
// been closed, either explicitly or because the connection dropped
// with reconnection disabled.
var ErrClosed = errors.New("modbus: client closed")

// Option configures a Client at Dial time.
type Option func(*Client)

// WithTimeout sets the per-request response timeout. Defaults to 1s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUnitID sets the unit (slave) id addressed by requests. Defaults to 1.
func WithUnitID(id uint8) Option {
	return func(c *Client) { c.unitID = id }
}

// WithEncoding sets the byte and word order used to reassemble 32/64
// bit composite register values. Defaults to BigEndian/HighWordFirst.
func WithEncoding(e modbus.Endianness, w modbus.WordOrder) Option {
	return func(c *Client) {
		c.endianness = e
		c.wordOrder = w
	}
}

// WithLogger overrides the client's logger, which otherwise logs to
// stdout/stderr.
func WithLogger(l xlog.LeveledLogger) Option {
	return func(c *Client) { c.logger = l }
}

// WithReconnectDelay sets how long the client waits before redialing
// after the connection drops. Defaults to 1s; a value <= 0 disables
// automatic reconnection.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// Client is a Modbus TCP master. All exported methods are safe to call
// concurrently: a single background goroutine owns the connection and
// demultiplexes responses by transaction id, while callers block only
// on their own request's channel.
type Client struct {
	address        string
	timeout        time.Duration
	reconnectDelay time.Duration
	unitID         uint8
	endianness     modbus.Endianness
	wordOrder      modbus.WordOrder
	logger         xlog.LeveledLogger

	connMu sync.RWMutex
	conn   net.Conn
	table  *transactionTable

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to a Modbus TCP server at address ("host:port") and
// starts the background read loop.
func Dial(ctx context.Context, address string, opts ...Option) (*Client, error) {
	c := &Client{
		address:        address,
		timeout:        1 * time.Second,
		reconnectDelay: 1 * time.Second,
		unitID:         1,
		endianness:     modbus.BigEndian,
		wordOrder:      modbus.HighWordFirst,
		logger:         xlog.New(fmt.Sprintf("modbus-master(%s)", address)),
		table:          newTransactionTable(),
		closed:         make(chan struct{}),
	}

	for _, o := range opts {
		o(c)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	go c.readLoop()

	return c, nil
}

// Close shuts down the connection and fails every in-flight request
// with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.connMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.connMu.Unlock()
		c.table.failAll(ErrClosed)
	})
	return err
}

// SetUnitID changes the unit (slave) id addressed by subsequent requests.
func (c *Client) SetUnitID(id uint8) { c.unitID = id }

// SetEncoding changes the byte and word order used by the composite
// register helpers (ReadUint32s and friends).
func (c *Client) SetEncoding(e modbus.Endianness, w modbus.WordOrder) {
	c.endianness, c.wordOrder = e, w
}

func (c *Client) currentConn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// readLoop owns the connection for its lifetime: it reads MBAP frames
// and routes each to the transaction awaiting it. When the connection
// drops, every in-flight request is failed immediately so no caller is
// left blocked on a response that will never arrive; if a reconnect
// delay is configured, the loop then redials the original address and
// keeps serving requests made on the new connection.
func (c *Client) readLoop() {
	for {
		conn := c.currentConn()
		err := c.readFrames(conn)

		select {
		case <-c.closed:
			return
		default:
		}

		c.table.failAll(fmt.Errorf("modbus: connection lost: %w", err))

		if c.reconnectDelay <= 0 {
			c.Close()
			return
		}

		c.logger.Warningf("connection to %s lost (%v), reconnecting in %s", c.address, err, c.reconnectDelay)
		time.Sleep(c.reconnectDelay)

		newConn, dialErr := net.DialTimeout("tcp", c.address, 5*time.Second)
		if dialErr != nil {
			c.logger.Errorf("reconnect to %s failed: %v", c.address, dialErr)
			continue
		}

		c.connMu.Lock()
		c.conn.Close()
		c.conn = newConn
		c.connMu.Unlock()
	}
}

// readFrames reads MBAP frames off conn until an unrecoverable error
// occurs (EOF, i/o error, or a header that can't be trusted).
func (c *Client) readFrames(conn net.Conn) error {
	if conn == nil {
		return errors.New("modbus: no connection")
	}

	header := make([]byte, modbus.MBAPHeaderLength)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return err
		}

		txnID, _, pduLen, unitID := modbus.DecodeMBAPHeader(header)
		if pduLen < 1 || pduLen > modbus.MaxADULength {
			return modbus.ErrProtocolError
		}

		body := make([]byte, pduLen)
		if _, err := io.ReadFull(conn, body); err != nil {
			return err
		}

		res, err := modbus.DecodePDU(unitID, body)
		if err != nil {
			c.table.complete(txnID, nil, err)
			continue
		}

		if !c.table.complete(txnID, res, nil) {
			c.logger.Warningf("response for unknown transaction id %d", txnID)
		}
	}
}

// execute sends req and blocks until the matching response arrives,
// the request times out, ctx is cancelled, or the client is closed.
func (c *Client) execute(ctx context.Context, req *modbus.PDU) (*modbus.PDU, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	txnID, ch, err := c.table.allocate()
	if err != nil {
		return nil, err
	}

	conn := c.currentConn()
	if conn == nil {
		c.table.release(txnID)
		return nil, ErrClosed
	}

	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		c.table.release(txnID)
		return nil, err
	}

	if _, err := conn.Write(modbus.EncodeMBAPFrame(txnID, req)); err != nil {
		c.table.release(txnID)
		return nil, err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case result := <-ch:
		if result.err != nil {
			return nil, result.err
		}
		if err := checkUnitID(req, result.res); err != nil {
			return nil, err
		}
		return result.res, nil
	case <-timer.C:
		c.table.release(txnID)
		return nil, modbus.ErrRequestTimedOut
	case <-ctx.Done():
		c.table.release(txnID)
		return nil, ctx.Err()
	case <-c.closed:
		c.table.release(txnID)
		return nil, ErrClosed
	}
}

// checkUnitID verifies res came from the unit id the request was
// addressed to, allowing gateway devices to answer exceptions under
// the reserved unit id 0xff.
func checkUnitID(req, res *modbus.PDU) error {
	if res.UnitID() == req.UnitID() {
		return nil
	}
	if res.IsException() && res.UnitID() == 0xff {
		return nil
	}
	return fmt.Errorf("modbus: response unit id %d does not match request unit id %d", res.UnitID(), req.UnitID())
}
