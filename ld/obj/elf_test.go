// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

// secSpec describes one section to synthesize into a minimal ELF64 LE
// x86-64 relocatable object, for testing ObjectParser without shipping
// binary testdata fixtures.
type secSpec struct {
	name  string
	typ   elf.SectionType
	flags elf.SectionFlag
	align uint64
	data  []byte
}

// symSpec describes one symbol table entry. shndx is an index into the
// sections argument passed to buildELF (1-based, section 0 is the
// implicit NULL section), or -1 for SHN_UNDEF, or -2 for SHN_ABS.
type symSpec struct {
	name  string
	bind  elf.SymBind
	typ   elf.SymType
	shndx int
	value uint64
	size  uint64
}

// relaSpec describes one relocation entry against targetSection (an
// index into the sections argument, 1-based). symIdx indexes into the
// symbols argument passed to buildELF (1-based; symbol 0 is the implicit
// null symbol).
type relaSpec struct {
	targetSection int
	offset        uint64
	typ           elf.R_X86_64
	symIdx        int
	addend        int64
}

// buildELF assembles a well-formed ELF64 LE ET_REL EM_X86_64 object from
// the given section/symbol/relocation specs, appending .symtab, .strtab,
// and .shstrtab automatically. It is a minimal from-scratch replacement
// for a pre-built testdata/*.o fixture.
func buildELF(t *testing.T, sections []secSpec, symbols []symSpec, relas []relaSpec) []byte {
	t.Helper()

	type finalSection struct {
		spec                              secSpec
		nameOff                           uint32
		off, size                         uint64
		link, info                        uint32
		entsize                           uint64
	}

	var shstrtab = []byte{0}
	addShstr := func(name string) uint32 {
		if name == "" {
			return 0
		}
		off := uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(name)...)
		shstrtab = append(shstrtab, 0)
		return off
	}

	var strtab = []byte{0}
	addStr := func(name string) uint32 {
		if name == "" {
			return 0
		}
		off := uint32(len(strtab))
		strtab = append(strtab, []byte(name)...)
		strtab = append(strtab, 0)
		return off
	}

	finals := []finalSection{{spec: secSpec{}}} // index 0: NULL
	for _, s := range sections {
		finals = append(finals, finalSection{spec: s})
	}

	// Group relocations by target section, emitting one .rela<name>
	// section per group, matching how obj.Parse expects them named.
	type relaGroup struct {
		target  int
		entries []relaSpec
	}
	var groups []relaGroup
	for _, r := range relas {
		found := false
		for i := range groups {
			if groups[i].target == r.targetSection {
				groups[i].entries = append(groups[i].entries, r)
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, relaGroup{target: r.targetSection, entries: []relaSpec{r}})
		}
	}
	for _, g := range groups {
		finals = append(finals, finalSection{spec: secSpec{
			name: ".rela" + sections[g.target-1].name,
			typ:  elf.SHT_RELA,
		}})
	}

	symtabIdx := len(finals)
	finals = append(finals, finalSection{spec: secSpec{name: ".symtab", typ: elf.SHT_SYMTAB}})
	strtabIdx := len(finals)
	finals = append(finals, finalSection{spec: secSpec{name: ".strtab", typ: elf.SHT_STRTAB}})
	shstrtabIdx := len(finals)
	finals = append(finals, finalSection{spec: secSpec{name: ".shstrtab", typ: elf.SHT_STRTAB}})

	for i := range finals {
		finals[i].nameOff = addShstr(finals[i].spec.name)
	}

	// Symbol table bytes (entry 0 is the reserved null symbol).
	var symtabData bytes.Buffer
	symtabData.Write(make([]byte, elf.Sym64Size))
	for _, s := range symbols {
		var shndx uint16
		switch {
		case s.shndx == -1:
			shndx = uint16(elf.SHN_UNDEF)
		case s.shndx == -2:
			shndx = uint16(elf.SHN_ABS)
		default:
			shndx = uint16(s.shndx)
		}
		nameOff := addStr(s.name)
		var sym elf.Sym64
		sym.Name = nameOff
		sym.Info = elf.ST_INFO(s.bind, s.typ)
		sym.Shndx = shndx
		sym.Value = s.value
		sym.Size = s.size
		binary.Write(&symtabData, binary.LittleEndian, sym)
	}

	// Relocation section bytes.
	relaData := map[int][]byte{}
	for gi, g := range groups {
		var buf bytes.Buffer
		for _, r := range g.entries {
			var rela elf.Rela64
			rela.Off = r.offset
			rela.Info = elf.R_INFO(uint32(r.symIdx), uint32(r.typ))
			rela.Addend = r.addend
			binary.Write(&buf, binary.LittleEndian, rela)
		}
		relaData[len(sections)+1+gi] = buf.Bytes()
	}

	// Lay out section bodies sequentially starting right after where the
	// section header table will end; exact addresses don't matter here,
	// only that offsets are self-consistent and in range.
	shoff := uint64(64) // right after the ELF header; no program headers in input objects
	shnum := len(finals)
	cursor := shoff + uint64(shnum)*64

	for i := range finals {
		var data []byte
		switch {
		case i == 0:
			continue
		case i <= len(sections):
			data = finals[i].spec.data
		case relaData[i] != nil:
			data = relaData[i]
		case i == symtabIdx:
			data = symtabData.Bytes()
		case i == strtabIdx:
			data = strtab
		case i == shstrtabIdx:
			data = shstrtab
		}
		finals[i].off = cursor
		finals[i].size = uint64(len(data))
		finals[i].spec.data = data
		cursor += uint64(len(data))
	}

	for gi, g := range groups {
		idx := len(sections) + 1 + gi
		finals[idx].link = uint32(symtabIdx)
		finals[idx].info = uint32(g.target)
		finals[idx].entsize = relaEntSize
	}
	finals[symtabIdx].link = uint32(strtabIdx)
	finals[symtabIdx].info = 1 // one local symbol (the null entry) by convention
	finals[symtabIdx].entsize = symEntSize

	buf := make([]byte, cursor)
	var hdr elf.Header64
	hdr.Ident[0], hdr.Ident[1], hdr.Ident[2], hdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Type = uint16(elf.ET_REL)
	hdr.Machine = uint16(elf.EM_X86_64)
	hdr.Version = uint32(elf.EV_CURRENT)
	hdr.Shoff = shoff
	hdr.Ehsize = 64
	hdr.Shentsize = 64
	hdr.Shnum = uint16(shnum)
	hdr.Shstrndx = uint16(shstrtabIdx)
	writeAt(t, buf, 0, hdr)

	for i, f := range finals {
		var sh elf.Section64
		sh.Name = f.nameOff
		sh.Type = uint32(f.spec.typ)
		sh.Flags = uint64(f.spec.flags)
		sh.Off = f.off
		sh.Size = f.size
		sh.Link = f.link
		sh.Info = f.info
		if f.spec.align == 0 {
			sh.Addralign = 1
		} else {
			sh.Addralign = f.spec.align
		}
		sh.Entsize = f.entsize
		writeAt(t, buf, shoff+uint64(i)*64, sh)
		if len(f.spec.data) > 0 {
			copy(buf[f.off:], f.spec.data)
		}
	}

	return buf
}

func writeAt(t *testing.T, buf []byte, off uint64, v any) {
	t.Helper()
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}
	copy(buf[off:], b.Bytes())
}

func simpleObject(t *testing.T) []byte {
	t.Helper()
	text := []byte{0xb8, 0x2a, 0x00, 0x00, 0x00, 0xc3} // mov eax, 42; ret
	return buildELF(t,
		[]secSpec{{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, align: 1, data: text}},
		[]symSpec{
			{name: "a.s", bind: elf.STB_LOCAL, typ: elf.STT_FILE, shndx: -2},
			{name: "_start", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE, shndx: 1, value: 0, size: 6},
		},
		nil,
	)
}

func TestParseValidObject(t *testing.T) {
	raw := simpleObject(t)
	o, err := Parse("a.o", raw)
	if err != nil {
		t.Fatalf("Parse failed unexpectedly: %v", err)
	}

	if sec := o.Section(".text"); sec == nil {
		t.Fatal("missing .text section")
	} else if !bytes.Equal(sec.Data, []byte{0xb8, 0x2a, 0x00, 0x00, 0x00, 0xc3}) {
		t.Errorf(".text data = %x, want mov/ret sequence", sec.Data)
	}

	if len(o.Symbols) != 2 {
		t.Fatalf("got %d symbols, want 2", len(o.Symbols))
	}
	found := false
	for _, s := range o.Symbols {
		if s.Name == "_start" {
			found = true
			if s.Type != elf.STT_NOTYPE || s.Bind != elf.STB_GLOBAL {
				t.Errorf("_start: bind=%v type=%v, want GLOBAL/NOTYPE", s.Bind, s.Type)
			}
		}
	}
	if !found {
		t.Error("_start symbol not found")
	}
}

func TestParseBadMagic(t *testing.T) {
	raw := simpleObject(t)
	raw[1] = 'X'
	if _, err := Parse("a.o", raw); err == nil {
		t.Fatal("Parse succeeded on corrupted magic")
	}
}

func TestParseWrongClass(t *testing.T) {
	raw := simpleObject(t)
	raw[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	if _, err := Parse("a.o", raw); err == nil {
		t.Fatal("Parse succeeded on ELFCLASS32")
	}
}

func TestParseTruncated(t *testing.T) {
	if _, err := Parse("a.o", []byte{0x7f, 'E', 'L', 'F'}); err == nil {
		t.Fatal("Parse succeeded on a 4-byte file")
	}
}

func TestParseRelocations(t *testing.T) {
	text := make([]byte, 10)
	raw := buildELF(t,
		[]secSpec{{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, align: 1, data: text}},
		[]symSpec{
			{name: "callee", bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, shndx: -1},
		},
		[]relaSpec{
			{targetSection: 1, offset: 1, typ: elf.R_X86_64_PLT32, symIdx: 1, addend: -4},
		},
	)

	o, err := Parse("b.o", raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	entries, ok := o.Relocs[".text"]
	if !ok || len(entries) != 1 {
		t.Fatalf("got relocs %v, want one entry against .text", o.Relocs)
	}
	if entries[0].SymbolName != "callee" || entries[0].Type != elf.R_X86_64_PLT32 {
		t.Errorf("reloc = %+v, want callee/PLT32", entries[0])
	}
}
