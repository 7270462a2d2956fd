// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj implements the ObjectParser stage: turning a raw byte
// buffer into a structured view of one ELF64 LE x86-64 relocatable
// object (header, sections, symbols, relocations).
package obj

import (
	"debug/elf"
	"fmt"

	"github.com/tamaroning/go-myld/ld/lderrors"
)

const (
	elfHeaderSize = 64
	secHeaderSize = 64
	// symEntSize and relaEntSize are the ELF64 fixed entry sizes this
	// linker requires of SYMTAB and RELA sections. Any other sh_entsize
	// is rejected as malformed, per the ObjectParser contract.
	symEntSize  = elf.Sym64Size
	relaEntSize = 24
)

// SectionID is a compact, object-local index into InputObject.Sections.
type SectionID int

// InputSection is one section of an InputObject.
type InputSection struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Align uint64
	Data  []byte
	Index SectionID
}

// SymbolEntry is one entry from an object's symbol table, with its name
// already resolved.
type SymbolEntry struct {
	Name   string
	Bind   elf.SymBind
	Type   elf.SymType
	Shndx  elf.SectionIndex
	Value  uint64
	Size   uint64
	Object string // owning object's filename
}

// RelocationEntry is one entry from a .rela<X> section, naming the
// symbol it references rather than carrying a raw symbol index.
type RelocationEntry struct {
	Offset     uint64
	Type       elf.R_X86_64
	SymbolName string
	Addend     int64
}

// InputObject is the parsed, read-only view of one ELF64 LE x86-64
// relocatable object file.
type InputObject struct {
	Name     string
	Raw      []byte
	Sections []*InputSection
	Symbols  []SymbolEntry

	// Relocs maps the name of the section a relocation table patches
	// (e.g. ".text" for a ".rela.text" table) to its parsed entries.
	Relocs map[string][]RelocationEntry

	byName map[string]*InputSection
}

// Section returns the input section with the given name, or nil if this
// object has no such section.
func (o *InputObject) Section(name string) *InputSection {
	return o.byName[name]
}

// SectionByIndex resolves an ELF64 section index to a section name. It
// returns ("", false) for SHN_UNDEF, SHN_ABS, and any other reserved or
// out-of-range index.
func (o *InputObject) SectionByIndex(shndx elf.SectionIndex) (string, bool) {
	idx := int(shndx) - 1 // ELF index 0 is reserved (SHT_NULL); we don't store it
	if shndx == elf.SHN_UNDEF || shndx >= elf.SHN_LORESERVE || idx < 0 || idx >= len(o.Sections) {
		return "", false
	}
	return o.Sections[idx].Name, true
}

// Parse interprets raw as an ELF64 LE x86-64 relocatable object tagged
// with the given filename, per the ObjectParser contract in the design
// (spec.md §4.1 / SPEC_FULL.md §4.1).
func Parse(name string, raw []byte) (*InputObject, error) {
	malformed := func(reason string) error {
		return &lderrors.MalformedObject{File: name, Reason: reason}
	}
	unsupported := func(reason string) error {
		return &lderrors.UnsupportedObject{File: name, Reason: reason}
	}

	if len(raw) < elfHeaderSize {
		return nil, malformed("file shorter than an ELF64 header")
	}
	if raw[0] != 0x7f || raw[1] != 'E' || raw[2] != 'L' || raw[3] != 'F' {
		return nil, malformed("bad ELF magic")
	}
	if elf.Class(raw[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return nil, unsupported("not ELFCLASS64")
	}
	if elf.Data(raw[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, unsupported("not little-endian")
	}

	r := newReader(raw)
	r.setOffset(16)
	etype := r.uint16()
	machine := r.uint16()
	r.uint32() // version
	r.uint64() // entry
	r.uint64() // phoff
	shoff := r.uint64()
	r.uint32() // flags
	r.uint16() // ehsize
	r.uint16() // phentsize
	r.uint16() // phnum
	shentsize := r.uint16()
	shnum := r.uint16()
	shstrndx := r.uint16()

	if elf.Type(etype) != elf.ET_REL {
		return nil, unsupported(fmt.Sprintf("e_type %d is not ET_REL", etype))
	}
	if elf.Machine(machine) != elf.EM_X86_64 {
		return nil, unsupported(fmt.Sprintf("e_machine %d is not EM_X86_64", machine))
	}
	if shentsize != secHeaderSize {
		return nil, malformed(fmt.Sprintf("sh_entsize %d is not %d", shentsize, secHeaderSize))
	}

	shTableEnd := uint64(shoff) + uint64(shnum)*uint64(shentsize)
	if shoff < 0 || shTableEnd > uint64(len(raw)) {
		return nil, malformed("section header table out of range")
	}
	if int(shstrndx) >= int(shnum) {
		return nil, malformed("e_shstrndx out of range")
	}

	type rawSection struct {
		nameOff           uint32
		typ               elf.SectionType
		flags             elf.SectionFlag
		addr, off, size   uint64
		link, info        uint32
		align, entSize    uint64
	}
	raws := make([]rawSection, shnum)
	for i := range raws {
		r.setOffset(int(shoff) + i*secHeaderSize)
		var rs rawSection
		rs.nameOff = r.uint32()
		rs.typ = elf.SectionType(r.uint32())
		rs.flags = elf.SectionFlag(r.uint64())
		rs.addr = r.uint64()
		rs.off = r.uint64()
		rs.size = r.uint64()
		rs.link = r.uint32()
		rs.info = r.uint32()
		rs.align = r.uint64()
		rs.entSize = r.uint64()
		if rs.typ != elf.SHT_NOBITS {
			if rs.off > uint64(len(raw)) || rs.off+rs.size > uint64(len(raw)) {
				return nil, malformed(fmt.Sprintf("section %d data out of range", i))
			}
		}
		raws[i] = rs
	}

	shstrtabRaw := raws[shstrndx]
	shstrtab := raw[shstrtabRaw.off : shstrtabRaw.off+shstrtabRaw.size]

	// Section 0 (SHT_NULL) is never represented in InputObject.Sections,
	// matching the teacher's convention of a compact, non-ELF-numbered
	// SectionID space.
	sections := make([]*InputSection, 0, shnum-1)
	byName := make(map[string]*InputSection, shnum-1)
	var symtabIdx, strtabIdx = -1, -1
	for i := 1; i < int(shnum); i++ {
		rs := raws[i]
		secName, err := cstring(shstrtab, rs.nameOff)
		if err != nil {
			return nil, malformed(fmt.Sprintf("section %d name: %v", i, err))
		}
		var data []byte
		if rs.typ == elf.SHT_NOBITS {
			data = make([]byte, rs.size)
		} else {
			data = raw[rs.off : rs.off+rs.size]
		}
		is := &InputSection{
			Name:  secName,
			Type:  rs.typ,
			Flags: rs.flags,
			Align: rs.align,
			Data:  data,
			Index: SectionID(len(sections)),
		}
		sections = append(sections, is)
		byName[secName] = is

		switch rs.typ {
		case elf.SHT_SYMTAB:
			if symtabIdx >= 0 {
				return nil, malformed("more than one SYMTAB section")
			}
			symtabIdx = i
		case elf.SHT_STRTAB:
			if secName == ".strtab" {
				strtabIdx = i
			}
		}
	}

	if _, ok := byName[".shstrtab"]; !ok {
		return nil, malformed("missing .shstrtab")
	}
	if symtabIdx < 0 {
		return nil, malformed("missing .symtab")
	}
	if strtabIdx < 0 {
		return nil, malformed("missing .strtab")
	}

	symtabRaw := raws[symtabIdx]
	if symtabRaw.entSize != symEntSize {
		return nil, malformed(fmt.Sprintf(".symtab sh_entsize %d is not %d", symtabRaw.entSize, symEntSize))
	}
	strtab := raw[raws[strtabIdx].off : raws[strtabIdx].off+raws[strtabIdx].size]

	if symtabRaw.size%symEntSize != 0 {
		return nil, malformed(".symtab size is not a multiple of the symbol entry size")
	}
	numSyms := int(symtabRaw.size / symEntSize)
	if numSyms == 0 {
		return nil, malformed(".symtab has no entries, expected at least the null symbol")
	}

	symbols := make([]SymbolEntry, 0, numSyms-1)
	// ELF symbol table entry 0 is always the reserved null symbol; we
	// don't carry it forward into SymbolEntry.
	for i := 1; i < numSyms; i++ {
		r.setOffset(int(symtabRaw.off) + i*symEntSize)
		nameOff := r.uint32()
		info := r.uint8()
		r.uint8() // st_other
		shndx := elf.SectionIndex(r.uint16())
		value := r.uint64()
		size := r.uint64()

		bind := elf.ST_BIND(info)
		typ := elf.ST_TYPE(info)

		var symName string
		if typ == elf.STT_SECTION {
			secName, ok := sectionNameForShndx(sections, shndx)
			if !ok {
				return nil, malformed(fmt.Sprintf("STT_SECTION symbol %d references bad section index %d", i, shndx))
			}
			symName = secName
		} else {
			n, err := cstring(strtab, nameOff)
			if err != nil {
				return nil, malformed(fmt.Sprintf("symbol %d name: %v", i, err))
			}
			symName = n
		}

		symbols = append(symbols, SymbolEntry{
			Name:   symName,
			Bind:   bind,
			Type:   typ,
			Shndx:  shndx,
			Value:  value,
			Size:   size,
			Object: name,
		})
	}

	relocs := map[string][]RelocationEntry{}
	for i := 1; i < int(shnum); i++ {
		rs := raws[i]
		if rs.typ != elf.SHT_RELA {
			continue
		}
		secName := sections[i-1].Name
		const prefix = ".rela"
		if len(secName) <= len(prefix) || secName[:len(prefix)] != prefix {
			return nil, malformed(fmt.Sprintf("relocation section %q does not start with %q", secName, prefix))
		}
		targetName := secName[len(prefix):]
		if _, ok := byName[targetName]; !ok {
			return nil, malformed(fmt.Sprintf("relocation section %q targets missing section %q", secName, targetName))
		}
		if rs.entSize != relaEntSize {
			return nil, malformed(fmt.Sprintf("%s sh_entsize %d is not %d", secName, rs.entSize, relaEntSize))
		}
		if rs.size%relaEntSize != 0 {
			return nil, malformed(fmt.Sprintf("%s size is not a multiple of the relocation entry size", secName))
		}
		n := int(rs.size / relaEntSize)
		entries := make([]RelocationEntry, 0, n)
		for j := 0; j < n; j++ {
			r.setOffset(int(rs.off) + j*relaEntSize)
			offset := r.uint64()
			info := r.uint64()
			addend := r.int64()

			symIdx := elf.R_SYM64(info)
			relType := elf.R_X86_64(elf.R_TYPE64(info))
			if symIdx == 0 || int(symIdx) > len(symbols) {
				return nil, malformed(fmt.Sprintf("%s: relocation %d references bad symbol index %d", secName, j, symIdx))
			}
			entries = append(entries, RelocationEntry{
				Offset:     offset,
				Type:       relType,
				SymbolName: symbols[symIdx-1].Name,
				Addend:     addend,
			})
		}
		relocs[targetName] = entries
	}

	return &InputObject{
		Name:     name,
		Raw:      raw,
		Sections: sections,
		Symbols:  symbols,
		Relocs:   relocs,
		byName:   byName,
	}, nil
}

func sectionNameForShndx(sections []*InputSection, shndx elf.SectionIndex) (string, bool) {
	idx := int(shndx) - 1
	if idx < 0 || idx >= len(sections) {
		return "", false
	}
	return sections[idx].Name, true
}
