// mbslave-sim runs an in-memory Modbus RTU slave over a serial port,
// useful for exercising a master implementation or a physical RS-485
// bus without real field devices behind it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.bug.st/serial"

	"github.com/tjhorner/gomodbus/serial485"
)

func main() {
	var device string
	var baud int
	var slaveID uint

	flag.StringVar(&device, "device", "", "serial device to listen on (e.g. /dev/ttyUSB0) [required]")
	flag.IntVar(&baud, "baud", 19200, "serial bus speed in bps")
	flag.UintVar(&slaveID, "slave-id", 1, "unit/slave id to answer as")
	flag.Parse()

	if device == "" {
		fmt.Println("no serial device specified, please use --device")
		os.Exit(1)
	}
	if slaveID > 0xff {
		fmt.Printf("slave id %v out of range\n", slaveID)
		os.Exit(1)
	}

	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		fmt.Printf("failed to open %s: %v\n", device, err)
		os.Exit(2)
	}
	defer port.Close()

	handler := newMemoryHandler()
	slave := serial485.New(port, baud, handler)
	slave.SetSlaveID(uint8(slaveID))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("serving unit id %d on %s at %d baud, ctrl-c to stop\n", slaveID, device, baud)
	if err := slave.Serve(ctx); err != nil && ctx.Err() == nil {
		fmt.Printf("slave stopped: %v\n", err)
		os.Exit(1)
	}
}

// memoryHandler answers the coil, discrete input, holding register and
// input register requests out of in-process maps,
// seeded with zero values and grown lazily as addresses are touched.
type memoryHandler struct {
	mu        sync.Mutex
	coils     map[uint16]bool
	inputs    map[uint16]bool
	holding   map[uint16]uint16
	inputRegs map[uint16]uint16
}

func newMemoryHandler() *memoryHandler {
	return &memoryHandler{
		coils:     make(map[uint16]bool),
		inputs:    make(map[uint16]bool),
		holding:   make(map[uint16]uint16),
		inputRegs: make(map[uint16]uint16),
	}
}

func (h *memoryHandler) HandleCoils(req *serial485.CoilsRequest) ([]bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

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

func (h *memoryHandler) HandleDiscreteInputs(req *serial485.DiscreteInputsRequest) ([]bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]bool, req.Quantity)
	for i := range out {
		out[i] = h.inputs[req.Addr+uint16(i)]
	}
	return out, nil
}

func (h *memoryHandler) HandleHoldingRegisters(req *serial485.HoldingRegistersRequest) ([]uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if req.IsWrite {
		for i, v := range req.Args {
			h.holding[req.Addr+uint16(i)] = v
		}
		return nil, nil
	}

	out := make([]uint16, req.Quantity)
	for i := range out {
		out[i] = h.holding[req.Addr+uint16(i)]
	}
	return out, nil
}

func (h *memoryHandler) HandleInputRegisters(req *serial485.InputRegistersRequest) ([]uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]uint16, req.Quantity)
	for i := range out {
		out[i] = h.inputRegs[req.Addr+uint16(i)]
	}
	return out, nil
}
