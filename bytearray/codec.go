// File: bytearray/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bytearray

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

func (b *ByteArray) put(buf []byte) { b.Write(buf) }

func (b *ByteArray) take(n int) ([]byte, error) {
	var tmp [8]byte
	buf := tmp[:n]
	if n > len(tmp) {
		buf = make([]byte, n)
	}
	if _, err := b.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *ByteArray) WriteFixedUint8(v uint8) { b.put([]byte{v}) }
func (b *ByteArray) WriteFixedInt8(v int8)   { b.WriteFixedUint8(uint8(v)) }

func (b *ByteArray) WriteFixedUint16(v uint16) {
	var buf [2]byte
	b.order().PutUint16(buf[:], v)
	b.put(buf[:])
}

func (b *ByteArray) WriteFixedInt16(v int16) { b.WriteFixedUint16(uint16(v)) }

func (b *ByteArray) WriteFixedUint32(v uint32) {
	var buf [4]byte
	b.order().PutUint32(buf[:], v)
	b.put(buf[:])
}

func (b *ByteArray) WriteFixedInt32(v int32) { b.WriteFixedUint32(uint32(v)) }

func (b *ByteArray) WriteFixedUint64(v uint64) {
	var buf [8]byte
	b.order().PutUint64(buf[:], v)
	b.put(buf[:])
}

func (b *ByteArray) WriteFixedInt64(v int64) { b.WriteFixedUint64(uint64(v)) }

// WriteUvarint32 writes v in base-128 varint encoding.
func (b *ByteArray) WriteUvarint32(v uint32) { b.WriteUvarint64(uint64(v)) }

// WriteUvarint64 writes v in base-128 varint encoding.
func (b *ByteArray) WriteUvarint64(v uint64) {
	var buf [binary.MaxVarintLen64]byte
	b.put(buf[:binary.PutUvarint(buf[:], v)])
}

// WriteVarint32 writes v zigzag-encoded, so small negative values stay
// short.
func (b *ByteArray) WriteVarint32(v int32) { b.WriteVarint64(int64(v)) }

// WriteVarint64 writes v zigzag-encoded.
func (b *ByteArray) WriteVarint64(v int64) {
	var buf [binary.MaxVarintLen64]byte
	b.put(buf[:binary.PutVarint(buf[:], v)])
}

func (b *ByteArray) WriteFloat32(v float32) { b.WriteFixedUint32(math.Float32bits(v)) }
func (b *ByteArray) WriteFloat64(v float64) { b.WriteFixedUint64(math.Float64bits(v)) }

// WriteStringF16 writes s with a 16-bit length prefix. It panics if s is
// longer than 65535 bytes.
func (b *ByteArray) WriteStringF16(s string) {
	if len(s) > math.MaxUint16 {
		panic(fmt.Sprintf("bytearray: string of %d bytes exceeds 16-bit length", len(s)))
	}
	b.WriteFixedUint16(uint16(len(s)))
	b.WriteStringRaw(s)
}

// WriteStringF32 writes s with a 32-bit length prefix.
func (b *ByteArray) WriteStringF32(s string) {
	b.WriteFixedUint32(uint32(len(s)))
	b.WriteStringRaw(s)
}

// WriteStringF64 writes s with a 64-bit length prefix.
func (b *ByteArray) WriteStringF64(s string) {
	b.WriteFixedUint64(uint64(len(s)))
	b.WriteStringRaw(s)
}

// WriteStringVint writes s with a varint length prefix.
func (b *ByteArray) WriteStringVint(s string) {
	b.WriteUvarint64(uint64(len(s)))
	b.WriteStringRaw(s)
}

// WriteStringRaw writes s without a length.
func (b *ByteArray) WriteStringRaw(s string) { b.put([]byte(s)) }

func (b *ByteArray) ReadFixedUint8() (uint8, error) {
	buf, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *ByteArray) ReadFixedInt8() (int8, error) {
	v, err := b.ReadFixedUint8()
	return int8(v), err
}

func (b *ByteArray) ReadFixedUint16() (uint16, error) {
	buf, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return b.order().Uint16(buf), nil
}

func (b *ByteArray) ReadFixedInt16() (int16, error) {
	v, err := b.ReadFixedUint16()
	return int16(v), err
}

func (b *ByteArray) ReadFixedUint32() (uint32, error) {
	buf, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return b.order().Uint32(buf), nil
}

func (b *ByteArray) ReadFixedInt32() (int32, error) {
	v, err := b.ReadFixedUint32()
	return int32(v), err
}

func (b *ByteArray) ReadFixedUint64() (uint64, error) {
	buf, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return b.order().Uint64(buf), nil
}

func (b *ByteArray) ReadFixedInt64() (int64, error) {
	v, err := b.ReadFixedUint64()
	return int64(v), err
}

// ReadUvarint64 reads a base-128 varint. The cursor is left unchanged on
// error.
func (b *ByteArray) ReadUvarint64() (uint64, error) {
	start := b.pos
	v, err := binary.ReadUvarint(byteReader{b})
	if err != nil {
		b.pos = start
		return 0, fmt.Errorf("bytearray: varint: %w", err)
	}
	return v, nil
}

func (b *ByteArray) ReadUvarint32() (uint32, error) {
	v, err := b.ReadUvarint64()
	if err == nil && v > math.MaxUint32 {
		return 0, fmt.Errorf("bytearray: varint %d overflows uint32", v)
	}
	return uint32(v), err
}

// ReadVarint64 reads a zigzag-encoded varint.
func (b *ByteArray) ReadVarint64() (int64, error) {
	u, err := b.ReadUvarint64()
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

func (b *ByteArray) ReadVarint32() (int32, error) {
	v, err := b.ReadVarint64()
	if err == nil && (v > math.MaxInt32 || v < math.MinInt32) {
		return 0, fmt.Errorf("bytearray: varint %d overflows int32", v)
	}
	return int32(v), err
}

func (b *ByteArray) ReadFloat32() (float32, error) {
	v, err := b.ReadFixedUint32()
	return math.Float32frombits(v), err
}

func (b *ByteArray) ReadFloat64() (float64, error) {
	v, err := b.ReadFixedUint64()
	return math.Float64frombits(v), err
}

func (b *ByteArray) readString(n uint64, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if n > uint64(b.ReadSize()) {
		return "", ErrShortBuffer
	}
	buf := make([]byte, n)
	if _, err := b.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (b *ByteArray) ReadStringF16() (string, error) {
	n, err := b.ReadFixedUint16()
	return b.readString(uint64(n), err)
}

func (b *ByteArray) ReadStringF32() (string, error) {
	n, err := b.ReadFixedUint32()
	return b.readString(uint64(n), err)
}

func (b *ByteArray) ReadStringF64() (string, error) {
	n, err := b.ReadFixedUint64()
	return b.readString(n, err)
}

func (b *ByteArray) ReadStringVint() (string, error) {
	n, err := b.ReadUvarint64()
	return b.readString(n, err)
}

// ReadStringRaw reads n bytes as a string.
func (b *ByteArray) ReadStringRaw(n int) (string, error) {
	if n < 0 {
		return "", ErrShortBuffer
	}
	return b.readString(uint64(n), nil)
}

type byteReader struct{ b *ByteArray }

func (r byteReader) ReadByte() (byte, error) {
	v, err := r.b.ReadFixedUint8()
	if err != nil {
		return 0, io.EOF
	}
	return v, nil
}
