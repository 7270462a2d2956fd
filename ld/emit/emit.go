// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package emit implements the Emitter stage: materializing the final
// ELF64 executable byte stream from a resolved layout.Image.
package emit

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/tamaroning/go-myld/ld/layout"
	"github.com/tamaroning/go-myld/ld/lderrors"
)

const (
	elfHeaderSize = 64
	progHeaderSize = 56
	secHeaderSize  = 64
)

// Emit renders img as a complete ELF64 LE ET_EXEC byte stream, in the
// exact order spec.md §4.5 specifies: ELF header, program header table,
// NUL padding to the first section's file offset, section bodies with
// inter-section NUL padding, section header table.
func Emit(img *layout.Image) ([]byte, error) {
	text := img.Section(".text")
	if text == nil {
		return nil, &lderrors.LayoutInvariant{Detail: "no .text output section"}
	}

	last := img.Sections[len(img.Sections)-1]
	total := img.ShOff + uint64(len(img.Sections))*secHeaderSize
	if last.FileOffset+uint64(len(last.Data)) > img.ShOff {
		return nil, &lderrors.LayoutInvariant{Detail: "section header table overlaps last section body"}
	}

	buf := make([]byte, total)

	var hdr elf.Header64
	hdr.Ident[0], hdr.Ident[1], hdr.Ident[2], hdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Type = uint16(elf.ET_EXEC)
	hdr.Machine = uint16(elf.EM_X86_64)
	hdr.Version = uint32(elf.EV_CURRENT)
	hdr.Entry = img.Entry
	hdr.Phoff = elfHeaderSize
	hdr.Shoff = img.ShOff
	hdr.Ehsize = elfHeaderSize
	hdr.Phentsize = progHeaderSize
	hdr.Phnum = 1
	hdr.Shentsize = secHeaderSize
	hdr.Shnum = uint16(len(img.Sections))
	hdr.Shstrndx = img.Shstrndx

	if err := writeAt(buf, 0, hdr); err != nil {
		return nil, err
	}

	ph := img.ProgramHeader()
	var rawPh elf.Prog64
	rawPh.Type = uint32(elf.PT_LOAD)
	rawPh.Flags = uint32(elf.PF_R | elf.PF_X)
	rawPh.Off = ph.Offset
	rawPh.Vaddr = ph.Vaddr
	rawPh.Paddr = ph.Vaddr
	rawPh.Filesz = ph.Filesz
	rawPh.Memsz = ph.Memsz
	rawPh.Align = ph.Align

	if err := writeAt(buf, elfHeaderSize, rawPh); err != nil {
		return nil, err
	}

	// buf is already zeroed, so the NUL padding between the program
	// header and the first section's file offset (and any inter-section
	// padding) requires no explicit write.
	cursor := uint64(elfHeaderSize + progHeaderSize)
	for _, s := range img.Sections {
		if s.Type == elf.SHT_NULL {
			continue
		}
		if s.FileOffset < cursor {
			return nil, &lderrors.LayoutInvariant{Detail: fmt.Sprintf("section %s offset %d precedes cursor %d", s.Name, s.FileOffset, cursor)}
		}
		if s.Align > 1 && s.FileOffset%s.Align != 0 {
			return nil, &lderrors.LayoutInvariant{Detail: fmt.Sprintf("section %s offset %d misaligned", s.Name, s.FileOffset)}
		}
		copy(buf[s.FileOffset:], s.Data)
		cursor = s.FileOffset + uint64(len(s.Data))
	}
	if cursor != img.ShOff {
		return nil, &lderrors.LayoutInvariant{Detail: "running byte counter does not equal e_shoff at section header table"}
	}

	for i, s := range img.Sections {
		var sh elf.Section64
		sh.Name = s.NameOffset
		sh.Type = uint32(s.Type)
		sh.Flags = uint64(s.Flags)
		sh.Addr = s.Addr
		sh.Off = s.FileOffset
		sh.Size = uint64(len(s.Data))
		sh.Link = s.Link
		sh.Info = s.Info
		sh.Addralign = s.Align
		sh.Entsize = s.EntSize

		if err := writeAt(buf, img.ShOff+uint64(i)*secHeaderSize, sh); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

func writeAt(buf []byte, offset uint64, v any) error {
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
		return err
	}
	copy(buf[offset:], b.Bytes())
	return nil
}
