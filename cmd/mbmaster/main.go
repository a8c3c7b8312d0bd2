// mbmaster is a command line Modbus TCP master meant for quick and
// easy interaction with remote devices (probing, troubleshooting,
// scripted polling).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	modbus "github.com/tjhorner/gomodbus"
	"github.com/tjhorner/gomodbus/master"
)

func main() {
	var target string
	var timeout string
	var endianness string
	var wordOrder string
	var unitID uint
	var help bool

	flag.StringVar(&target, "target", "", "host:port of the remote device [required]")
	flag.StringVar(&timeout, "timeout", "1s", "per-request timeout")
	flag.StringVar(&endianness, "endianness", "big", "register endianness <little|big>")
	flag.StringVar(&wordOrder, "word-order", "highfirst", "word order for 32/64-bit registers <highfirst|lowfirst>")
	flag.UintVar(&unitID, "unit-id", 1, "unit/slave id to use")
	flag.BoolVar(&help, "help", false, "show usage and exit")
	flag.Parse()

	if help {
		displayHelp()
		os.Exit(0)
	}

	if target == "" {
		fmt.Println("no target specified, please use --target")
		os.Exit(1)
	}
	if unitID > 0xff {
		fmt.Printf("unit id %v out of range\n", unitID)
		os.Exit(1)
	}

	var endi modbus.Endianness
	switch endianness {
	case "big":
		endi = modbus.BigEndian
	case "little":
		endi = modbus.LittleEndian
	default:
		fmt.Printf("unknown endianness '%s'\n", endianness)
		os.Exit(1)
	}

	var wo modbus.WordOrder
	switch wordOrder {
	case "highfirst", "hf":
		wo = modbus.HighWordFirst
	case "lowfirst", "lf":
		wo = modbus.LowWordFirst
	default:
		fmt.Printf("unknown word order '%s'\n", wordOrder)
		os.Exit(1)
	}

	td, err := time.ParseDuration(timeout)
	if err != nil {
		fmt.Printf("failed to parse timeout '%s': %v\n", timeout, err)
		os.Exit(1)
	}

	if len(flag.Args()) == 0 {
		fmt.Println("nothing to do.")
		os.Exit(0)
	}

	ops, err := parseOperations(flag.Args())
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()
	client, err := master.Dial(ctx, target,
		master.WithTimeout(td),
		master.WithUnitID(uint8(unitID)),
		master.WithEncoding(endi, wo))
	if err != nil {
		fmt.Printf("failed to connect to %s: %v\n", target, err)
		os.Exit(2)
	}
	defer client.Close()

	for _, op := range ops {
		if err := op.run(ctx, client); err != nil {
			fmt.Printf("%s: %v\n", op.describe(), err)
		}
	}
}

type operation struct {
	kind     string
	addr     uint16
	quantity uint16
	isCoil   bool
	holding  bool
	coil     bool
	u16      uint16
}

func (o *operation) describe() string {
	return fmt.Sprintf("%s @0x%04x", o.kind, o.addr)
}

func (o *operation) run(ctx context.Context, c *master.Client) error {
	switch o.kind {
	case "rc":
		res, err := c.ReadCoils(ctx, o.addr, o.quantity)
		return printBools(o.addr, res, err)
	case "rdi":
		res, err := c.ReadDiscreteInputs(ctx, o.addr, o.quantity)
		return printBools(o.addr, res, err)
	case "rh":
		res, err := c.ReadHoldingRegisters(ctx, o.addr, o.quantity)
		return printRegisters(o.addr, res, err)
	case "ri":
		res, err := c.ReadInputRegisters(ctx, o.addr, o.quantity)
		return printRegisters(o.addr, res, err)
	case "wc":
		return c.WriteCoil(ctx, o.addr, o.coil)
	case "wr":
		return c.WriteRegister(ctx, o.addr, o.u16)
	default:
		return fmt.Errorf("unsupported operation %q", o.kind)
	}
}

func printBools(addr uint16, values []bool, err error) error {
	if err != nil {
		return err
	}
	for i, v := range values {
		fmt.Printf("0x%04x: %v\n", addr+uint16(i), v)
	}
	return nil
}

func printRegisters(addr uint16, values []uint16, err error) error {
	if err != nil {
		return err
	}
	for i, v := range values {
		fmt.Printf("0x%04x: 0x%04x (%d)\n", addr+uint16(i), v, v)
	}
	return nil
}

// parseOperations turns the command line's trailing arguments
// (command:arg1:arg2...) into a list of operations to run in order.
func parseOperations(args []string) ([]*operation, error) {
	var ops []*operation

	for _, arg := range args {
		parts := strings.Split(arg, ":")
		o := &operation{kind: parts[0]}

		switch parts[0] {
		case "rc", "rdi":
			if len(parts) != 2 {
				return nil, fmt.Errorf("%s needs exactly 1 argument", parts[0])
			}
			addr, qty, err := parseAddressAndQuantity(parts[1])
			if err != nil {
				return nil, err
			}
			o.addr, o.quantity = addr, qty+1

		case "rh", "ri":
			if len(parts) != 2 {
				return nil, fmt.Errorf("%s needs exactly 1 argument", parts[0])
			}
			addr, qty, err := parseAddressAndQuantity(parts[1])
			if err != nil {
				return nil, err
			}
			o.addr, o.quantity = addr, qty+1

		case "wc":
			if len(parts) != 3 {
				return nil, errors.New("wc needs exactly 2 arguments")
			}
			addr, err := parseUint16(parts[1])
			if err != nil {
				return nil, err
			}
			o.addr = addr
			switch parts[2] {
			case "true":
				o.coil = true
			case "false":
				o.coil = false
			default:
				return nil, fmt.Errorf("invalid coil value '%s'", parts[2])
			}

		case "wr":
			if len(parts) != 3 {
				return nil, errors.New("wr needs exactly 2 arguments")
			}
			addr, err := parseUint16(parts[1])
			if err != nil {
				return nil, err
			}
			v, err := parseUint16(parts[2])
			if err != nil {
				return nil, err
			}
			o.addr, o.u16 = addr, v

		default:
			return nil, fmt.Errorf("unsupported command '%s'", parts[0])
		}

		ops = append(ops, o)
	}

	return ops, nil
}

func parseUint16(in string) (uint16, error) {
	v, err := strconv.ParseUint(in, 0, 16)
	return uint16(v), err
}

func parseAddressAndQuantity(in string) (addr, quantity uint16, err error) {
	split := strings.Split(in, "+")
	switch len(split) {
	case 1:
		addr, err = parseUint16(in)
	case 2:
		if addr, err = parseUint16(split[0]); err != nil {
			return
		}
		quantity, err = parseUint16(split[1])
	default:
		err = errors.New("illegal address format")
	}
	return
}

func displayHelp() {
	flag.CommandLine.SetOutput(os.Stdout)
	fmt.Println("mbmaster is a Modbus TCP command line client.\n\nAvailable options:")
	flag.PrintDefaults()
	fmt.Print(`
Commands (given as trailing arguments after any options):
  rc:<addr>[+n]           read the coil at <addr> and the n coils after it
  rdi:<addr>[+n]          read the discrete input at <addr> and the n after it
  rh:<addr>[+n]           read the holding register at <addr> and the n after it
  ri:<addr>[+n]           read the input register at <addr> and the n after it
  wc:<addr>:<true|false>  write a single coil
  wr:<addr>:<value>       write a single holding register

Example:
  mbmaster --target 10.0.0.10:502 rh:0x100+5 wc:3:true
`)
}
