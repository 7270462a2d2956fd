// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emit

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/tamaroning/go-myld/ld/layout"
	"github.com/tamaroning/go-myld/ld/obj"
	"github.com/tamaroning/go-myld/ld/symtab"
)

// buildObject assembles a minimal one-section ELF64 LE x86-64 relocatable
// object defining _start, enough to produce a real layout.Image to feed
// Emit without needing a binary testdata fixture.
func buildObject(t *testing.T) *obj.InputObject {
	t.Helper()

	text := []byte{0xb8, 0x2a, 0x00, 0x00, 0x00, 0xc3} // mov eax, 42; ret

	var shstrtab = []byte{0}
	nameOffs := map[string]uint32{}
	for _, n := range []string{".text", ".symtab", ".strtab", ".shstrtab"} {
		nameOffs[n] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(n)...)
		shstrtab = append(shstrtab, 0)
	}

	var strtab = []byte{0, '_', 's', 't', 'a', 'r', 't', 0}
	var symtabBuf bytes.Buffer
	symtabBuf.Write(make([]byte, elf.Sym64Size))
	var sym elf.Sym64
	sym.Name = 1
	sym.Info = elf.ST_INFO(elf.STB_GLOBAL, elf.STT_NOTYPE)
	sym.Shndx = 1
	sym.Value = 0
	binary.Write(&symtabBuf, binary.LittleEndian, sym)

	type secRec struct {
		name    string
		typ     elf.SectionType
		flags   elf.SectionFlag
		data    []byte
		link    uint64
		entsz   uint64
	}
	secs := []secRec{
		{},
		{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, data: text},
		{name: ".symtab", typ: elf.SHT_SYMTAB, data: symtabBuf.Bytes(), link: 3, entsz: elf.Sym64Size},
		{name: ".strtab", typ: elf.SHT_STRTAB, data: strtab},
		{name: ".shstrtab", typ: elf.SHT_STRTAB, data: shstrtab},
	}

	shoff := uint64(64)
	cursor := shoff + uint64(len(secs))*64
	offs := make([]uint64, len(secs))
	for i, s := range secs {
		offs[i] = cursor
		cursor += uint64(len(s.data))
	}

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
	hdr.Shnum = uint16(len(secs))
	hdr.Shstrndx = 4
	writeHdr(t, buf, 0, hdr)

	for i, s := range secs {
		var sh elf.Section64
		if s.name != "" {
			sh.Name = nameOffs[s.name]
		}
		sh.Type = uint32(s.typ)
		sh.Flags = uint64(s.flags)
		sh.Off = offs[i]
		sh.Size = uint64(len(s.data))
		sh.Link = uint32(s.link)
		sh.Addralign = 1
		sh.Entsize = s.entsz
		writeHdr(t, buf, shoff+uint64(i)*64, sh)
		copy(buf[offs[i]:], s.data)
	}

	o, err := obj.Parse("a.o", buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return o
}

func writeHdr(t *testing.T, buf []byte, off uint64, v any) {
	t.Helper()
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}
	copy(buf[off:], b.Bytes())
}

func buildImage(t *testing.T) *layout.Image {
	t.Helper()
	o := buildObject(t)
	objs := []*obj.InputObject{o}
	img := layout.Build(objs, layout.Options{})

	table := symtab.New()
	table.Insert(&symtab.MergedSymbol{Name: "_start", Bind: elf.STB_GLOBAL, Type: elf.STT_NOTYPE, Object: "a.o", Section: ".text", Value: 0})
	if _, err := layout.Resolve(img, table); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	entries, localCount := table.Serialize()
	symtabBytes, strtabBytes := symtab.BuildSymtab(entries, img.SectionIndex())
	if err := layout.FinalizeFileLayout(img, symtabBytes, strtabBytes, localCount); err != nil {
		t.Fatalf("FinalizeFileLayout: %v", err)
	}
	return img
}

func TestEmitProducesValidELFHeader(t *testing.T) {
	img := buildImage(t)
	out, err := Emit(img)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	f, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("debug/elf could not parse Emit's output: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC {
		t.Errorf("e_type = %v, want ET_EXEC", f.Type)
	}
	if f.Machine != elf.EM_X86_64 {
		t.Errorf("e_machine = %v, want EM_X86_64", f.Machine)
	}
	if f.Entry != img.Entry {
		t.Errorf("e_entry = %#x, want %#x", f.Entry, img.Entry)
	}

	text := f.Section(".text")
	if text == nil {
		t.Fatal("output has no .text section")
	}
	data, err := text.Data()
	if err != nil {
		t.Fatalf("reading emitted .text: %v", err)
	}
	if !bytes.Equal(data, []byte{0xb8, 0x2a, 0x00, 0x00, 0x00, 0xc3}) {
		t.Errorf(".text = %x, want original mov/ret bytes unchanged", data)
	}

	if len(f.Progs) != 1 || f.Progs[0].Type != elf.PT_LOAD {
		t.Fatalf("program headers = %+v, want exactly one PT_LOAD", f.Progs)
	}
	if f.Progs[0].Flags != elf.PF_R|elf.PF_X {
		t.Errorf("PT_LOAD flags = %v, want R|X (no W)", f.Progs[0].Flags)
	}
}

func TestEmitShstrtabIsLastSection(t *testing.T) {
	img := buildImage(t)
	out, err := Emit(img)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	shstrndx := binary.LittleEndian.Uint16(out[62:64])
	f, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer f.Close()

	last := f.Sections[len(f.Sections)-1]
	if last.Name != ".shstrtab" {
		t.Errorf("last section = %q, want .shstrtab", last.Name)
	}
	if int(shstrndx) != len(f.Sections)-1 {
		t.Errorf("e_shstrndx = %d, want %d (the last section)", shstrndx, len(f.Sections)-1)
	}
}
