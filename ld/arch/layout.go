// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch provides the byte-order cursor used to decode and encode
// the fixed-width records of an ELF64 little-endian object (headers,
// section headers, symbol table entries, relocation entries).
package arch

import (
	"encoding/binary"
	"fmt"
)

// Layout describes the data layout (byte order and word size) used to
// read and write an ELF64 object. The linker only ever targets x86-64
// (little-endian, 8-byte words), but the cursor keeps the teacher's
// general shape since it is reused to decode both 4-byte and 8-byte
// fields within the same structures.
type Layout struct {
	order    uint8 // 0 = little endian, 1 = big endian
	wordSize uint8
}

// LittleEndian64 is the Layout used throughout this linker: ELF64,
// little-endian, x86-64.
var LittleEndian64 = NewLayout(binary.LittleEndian, 8)

// NewLayout returns a new Layout with the given byte order and word size.
//
// wordSize must be 1, 2, 4, or 8.
func NewLayout(order binary.ByteOrder, wordSize int) Layout {
	var l Layout
	switch order {
	case binary.LittleEndian:
		l.order = 0
	case binary.BigEndian:
		l.order = 1
	default:
		panic(fmt.Errorf("unknown byte order %v", order))
	}
	if wordSize < 1 || wordSize > 8 || (wordSize&(wordSize-1) != 0) {
		panic("word size must be 1, 2, 4, or 8")
	}
	l.wordSize = uint8(wordSize)
	return l
}

// Order returns the byte order of l.
func (l Layout) Order() binary.ByteOrder {
	if l.order == 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// WordSize returns the word size of l, in bytes.
func (l Layout) WordSize() int {
	return int(l.wordSize)
}

func (l Layout) Uint16(b []byte) uint16 {
	_ = b[1]
	if l.order == 0 {
		return uint16(b[0]) | uint16(b[1])<<8
	}
	return uint16(b[1]) | uint16(b[0])<<8
}

func (l Layout) Uint32(b []byte) uint32 {
	_ = b[3]
	if l.order == 0 {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24
}

func (l Layout) Uint64(b []byte) uint64 {
	_ = b[7]
	if l.order == 0 {
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
			uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
	}
	return uint64(b[7]) | uint64(b[6])<<8 | uint64(b[5])<<16 | uint64(b[4])<<24 |
		uint64(b[3])<<32 | uint64(b[2])<<40 | uint64(b[1])<<48 | uint64(b[0])<<56
}

func (l Layout) PutUint32(b []byte, v uint32) {
	_ = b[3]
	if l.order == 0 {
		b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		return
	}
	b[3], b[2], b[1], b[0] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

// RoundUp rounds x up to a multiple of align. An align of 0 or 1 is a
// no-op (no padding required).
func RoundUp(x, align uint64) uint64 {
	if align < 2 {
		return x
	}
	if align&(align-1) != 0 {
		panic("alignment must be a power of 2")
	}
	return (x + align - 1) &^ (align - 1)
}
