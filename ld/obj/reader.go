// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"fmt"

	"github.com/tamaroning/go-myld/ld/arch"
)

// reader is a byte-order aware cursor over a single input object's raw
// bytes, used to decode the fixed-width ELF64 LE records (header, section
// headers, symbol table entries, relocation entries).
type reader struct {
	b []byte
	p int
}

func newReader(b []byte) *reader {
	return &reader{b: b}
}

func (r *reader) setOffset(off int) {
	r.p = off
}

func (r *reader) uint8() uint8 {
	v := r.b[r.p]
	r.p++
	return v
}

func (r *reader) uint16() uint16 {
	v := arch.LittleEndian64.Uint16(r.b[r.p : r.p+2])
	r.p += 2
	return v
}

func (r *reader) uint32() uint32 {
	v := arch.LittleEndian64.Uint32(r.b[r.p : r.p+4])
	r.p += 4
	return v
}

func (r *reader) uint64() uint64 {
	v := arch.LittleEndian64.Uint64(r.b[r.p : r.p+8])
	r.p += 8
	return v
}

func (r *reader) int64() int64 {
	return int64(r.uint64())
}

// cstring reads a NUL-terminated string starting at offset off within b.
// It does not advance the shared cursor; string-table lookups are random
// access by byte offset, not sequential.
func cstring(b []byte, off uint32) (string, error) {
	if int(off) > len(b) {
		return "", fmt.Errorf("string offset %d out of range [0,%d)", off, len(b))
	}
	rest := b[off:]
	n := bytes.IndexByte(rest, 0)
	if n < 0 {
		return "", fmt.Errorf("unterminated string at offset %d", off)
	}
	return string(rest[:n]), nil
}
