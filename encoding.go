package modbus

import (
	"encoding/binary"
	"math"
)

// Endianness controls how multi-register values (32/64 bit) are
// reassembled from the underlying big-endian 16-bit registers.
type Endianness uint8

const (
	// BigEndian means the most significant byte is first (the default).
	BigEndian Endianness = iota
	// LittleEndian means the least significant byte is first.
	LittleEndian
)

// WordOrder controls which 16-bit register carries the most
// significant half of a 32/64 bit value.
type WordOrder uint8

const (
	// HighWordFirst means the most significant register is first (the default).
	HighWordFirst WordOrder = iota
	// LowWordFirst means the least significant register is first.
	LowWordFirst
)

// EncodeBools packs a sequence of bits LSB-first within each byte, the
// low-index bit landing at bit 0 of byte 0. Exported for transport
// layers assembling requests or responses directly.
func EncodeBools(bits []bool) []byte { return encodeBools(bits) }

// DecodeBools unpacks quantity bits, LSB-first within each byte.
func DecodeBools(quantity uint16, data []byte) []bool { return decodeBools(quantity, data) }

// Uint16ToBytes packs a sequence of registers big-endian, 2 bytes each.
func Uint16ToBytes(regs []uint16) []byte { return uint16ToBytes(regs) }

// BytesToUint16 unpacks a sequence of big-endian 2-byte registers.
func BytesToUint16(data []byte) []uint16 { return bytesToUint16(data) }

func asBytes(in uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, in)
	return out
}

func uint16ToBytes(in []uint16) (out []byte) {
	for _, v := range in {
		out = append(out, asBytes(v)...)
	}
	return
}

func bytesToUint16(in []byte) (out []uint16) {
	for i := 0; i < len(in); i += 2 {
		out = append(out, binary.BigEndian.Uint16(in[i:i+2]))
	}
	return
}

// encodeBools packs a sequence of bits LSB-first within each byte, the
// low-index bit landing at bit 0 of byte 0.
func encodeBools(in []bool) []byte {
	byteCount := (len(in) + 7) / 8
	out := make([]byte, byteCount)
	for i, v := range in {
		if v {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// decodeBools unpacks quantity bits from in, discarding unused high
// bits of the final byte.
func decodeBools(quantity uint16, in []byte) []bool {
	out := make([]bool, 0, quantity)
	for i := uint(0); i < uint(quantity); i++ {
		out = append(out, (in[i/8]>>(i%8))&0x01 == 0x01)
	}
	return out
}

func swapWords32(bo Endianness, wo WordOrder, b []byte) []byte {
	needsSwap := (bo == BigEndian && wo == LowWordFirst) ||
		(bo == LittleEndian && wo == HighWordFirst)
	if !needsSwap {
		return b
	}
	return []byte{b[2], b[3], b[0], b[1]}
}

func swapWords64(bo Endianness, wo WordOrder, b []byte) []byte {
	needsSwap := (bo == BigEndian && wo == LowWordFirst) ||
		(bo == LittleEndian && wo == HighWordFirst)
	if !needsSwap {
		return b
	}
	return []byte{b[6], b[7], b[4], b[5], b[2], b[3], b[0], b[1]}
}

func byteOrder(bo Endianness) binary.ByteOrder {
	if bo == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func bytesToUint32s(bo Endianness, wo WordOrder, in []byte) (out []uint32) {
	for i := 0; i < len(in); i += 4 {
		word := swapWords32(bo, wo, in[i:i+4])
		out = append(out, byteOrder(bo).Uint32(word))
	}
	return
}

func uint32ToBytes(bo Endianness, wo WordOrder, in uint32) []byte {
	out := make([]byte, 4)
	byteOrder(bo).PutUint32(out, in)
	return swapWords32(bo, wo, out)
}

func bytesToFloat32s(bo Endianness, wo WordOrder, in []byte) (out []float32) {
	for _, u := range bytesToUint32s(bo, wo, in) {
		out = append(out, math.Float32frombits(u))
	}
	return
}

func float32ToBytes(bo Endianness, wo WordOrder, in float32) []byte {
	return uint32ToBytes(bo, wo, math.Float32bits(in))
}

func bytesToUint64s(bo Endianness, wo WordOrder, in []byte) (out []uint64) {
	for i := 0; i < len(in); i += 8 {
		word := swapWords64(bo, wo, in[i:i+8])
		out = append(out, byteOrder(bo).Uint64(word))
	}
	return
}

func uint64ToBytes(bo Endianness, wo WordOrder, in uint64) []byte {
	out := make([]byte, 8)
	byteOrder(bo).PutUint64(out, in)
	return swapWords64(bo, wo, out)
}

func bytesToFloat64s(bo Endianness, wo WordOrder, in []byte) (out []float64) {
	for _, u := range bytesToUint64s(bo, wo, in) {
		out = append(out, math.Float64frombits(u))
	}
	return
}

func float64ToBytes(bo Endianness, wo WordOrder, in float64) []byte {
	return uint64ToBytes(bo, wo, math.Float64bits(in))
}

// RegistersToUint32 reassembles len(regs)/2 32-bit values out of raw
// register words, honoring the given byte and word order.
func RegistersToUint32(bo Endianness, wo WordOrder, regs []uint16) []uint32 {
	return bytesToUint32s(bo, wo, uint16ToBytes(regs))
}

// Uint32ToRegisters splits a 32-bit value into the 2 registers it
// would occupy on the wire, honoring the given byte and word order.
func Uint32ToRegisters(bo Endianness, wo WordOrder, v uint32) []uint16 {
	return bytesToUint16(uint32ToBytes(bo, wo, v))
}

// RegistersToFloat32 reassembles len(regs)/2 IEEE-754 floats out of
// raw register words.
func RegistersToFloat32(bo Endianness, wo WordOrder, regs []uint16) []float32 {
	return bytesToFloat32s(bo, wo, uint16ToBytes(regs))
}

// Float32ToRegisters splits a float32 into the 2 registers it would
// occupy on the wire.
func Float32ToRegisters(bo Endianness, wo WordOrder, v float32) []uint16 {
	return bytesToUint16(float32ToBytes(bo, wo, v))
}

// RegistersToUint64 reassembles len(regs)/4 64-bit values out of raw
// register words.
func RegistersToUint64(bo Endianness, wo WordOrder, regs []uint16) []uint64 {
	return bytesToUint64s(bo, wo, uint16ToBytes(regs))
}

// Uint64ToRegisters splits a 64-bit value into the 4 registers it
// would occupy on the wire.
func Uint64ToRegisters(bo Endianness, wo WordOrder, v uint64) []uint16 {
	return bytesToUint16(uint64ToBytes(bo, wo, v))
}

// RegistersToFloat64 reassembles len(regs)/4 IEEE-754 double-precision
// floats out of raw register words.
func RegistersToFloat64(bo Endianness, wo WordOrder, regs []uint16) []float64 {
	return bytesToFloat64s(bo, wo, uint16ToBytes(regs))
}

// Float64ToRegisters splits a float64 into the 4 registers it would
// occupy on the wire.
func Float64ToRegisters(bo Endianness, wo WordOrder, v float64) []uint16 {
	return bytesToUint16(float64ToBytes(bo, wo, v))
}
