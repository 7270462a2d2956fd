// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout implements the Layout and Resolver stages: deciding the
// concatenation order of input-section fragments into output sections,
// assigning virtual addresses and file offsets, and resolving every
// defined symbol's final address.
package layout

import (
	"debug/elf"

	"github.com/tamaroning/go-myld/ld/arch"
	"github.com/tamaroning/go-myld/ld/lderrors"
	"github.com/tamaroning/go-myld/ld/obj"
	"github.com/tamaroning/go-myld/ld/symtab"
)

// Options are the layout knobs a caller may tune. The only one in this
// minimal linker is the load address of .text; see Config.text_load_addr
// in the C++ original this was distilled from.
type Options struct {
	// TextAddr is the virtual address of the first byte of .text.
	// Defaults to 0x80000 when zero.
	TextAddr uint64
}

const defaultTextAddr = 0x80000

// firstLoadableFileOffset is the fixed file offset of the first loadable
// section's bytes, per spec.md §4.3: "The first loadable section body
// begins at file offset 0x1000".
const firstLoadableFileOffset = 0x1000

const programHeaderAlign = 0x1000

// Section is one output section: the concatenation of every input
// object's same-named section, in command-line order.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Align uint64

	Addr       uint64 // virtual address; 0 if not loadable
	Data       []byte
	FileOffset uint64

	// fragOffset maps an input object's filename to the byte offset at
	// which its contribution begins within Data.
	fragOffset map[string]uint64

	// NameOffset, Link, Info, and EntSize are filled in by
	// FinalizeFileLayout / the SYMTAB builder and copied verbatim into
	// the output section header by the Emitter.
	NameOffset uint32
	Link       uint32
	Info       uint32
	EntSize    uint64
}

// Alloc reports whether s occupies virtual memory (SHF_ALLOC).
func (s *Section) Alloc() bool {
	return s.Flags&elf.SHF_ALLOC != 0
}

// FragmentOffset returns the byte offset within s.Data at which
// object's contribution begins, and whether that object contributed to
// s at all.
func (s *Section) FragmentOffset(object string) (uint64, bool) {
	off, ok := s.fragOffset[object]
	return off, ok
}

// Image is the full ordered set of output sections plus the derived
// values the Emitter needs: the program header description and entry
// point. It corresponds to spec.md's ImageLayout.
type Image struct {
	Sections []*Section
	byName   map[string]*Section

	// Entry is the resolved address of _start, set by Resolve.
	Entry uint64

	// ShOff is the file offset of the section header table, and
	// Shstrndx is the index of .shstrtab within Sections. Both are set
	// by FinalizeFileLayout.
	ShOff    uint64
	Shstrndx uint16
}

// Section returns the output section with the given name, or nil.
func (img *Image) Section(name string) *Section {
	return img.byName[name]
}

// SectionIndex returns the index of every named output section within
// Sections, for use by symtab.BuildSymtab's st_shndx rewriting.
func (img *Image) SectionIndex() map[string]uint16 {
	out := make(map[string]uint16, len(img.Sections))
	for i, s := range img.Sections {
		if s.Name != "" {
			out[s.Name] = uint16(i)
		}
	}
	return out
}

// Build decides the output section set and order and concatenates each
// input object's contribution to .text and (if present) .rodata, per
// spec.md §4.3. It does not yet know about .symtab/.strtab/.shstrtab or
// any file offsets; those are added by FinalizeFileLayout once the
// merged symbol table has been resolved.
func Build(objs []*obj.InputObject, opts Options) *Image {
	textAddr := opts.TextAddr
	if textAddr == 0 {
		textAddr = defaultTextAddr
	}

	img := &Image{byName: map[string]*Section{}}

	null := &Section{Name: "", Type: elf.SHT_NULL, Align: 0}
	img.Sections = append(img.Sections, null)

	text := newAllocSection(".text", elf.SHF_ALLOC|elf.SHF_EXECINSTR)
	concatenate(text, objs)
	img.Sections = append(img.Sections, text)
	img.byName[".text"] = text

	if anyHasSection(objs, ".rodata") {
		rodata := newAllocSection(".rodata", elf.SHF_ALLOC)
		concatenate(rodata, objs)
		img.Sections = append(img.Sections, rodata)
		img.byName[".rodata"] = rodata
	}

	vaddr := textAddr
	for _, s := range img.Sections {
		if s.Alloc() {
			s.Addr = vaddr
			vaddr += uint64(len(s.Data))
		}
	}

	return img
}

func newAllocSection(name string, flags elf.SectionFlag) *Section {
	return &Section{Name: name, Type: elf.SHT_PROGBITS, Flags: flags, Align: 1, fragOffset: map[string]uint64{}}
}

func concatenate(out *Section, objs []*obj.InputObject) {
	for _, o := range objs {
		if sec := o.Section(out.Name); sec != nil {
			out.fragOffset[o.Name] = uint64(len(out.Data))
			out.Data = append(out.Data, sec.Data...)
		}
	}
}

func anyHasSection(objs []*obj.InputObject, name string) bool {
	for _, o := range objs {
		if o.Section(name) != nil {
			return true
		}
	}
	return false
}

// Resolve computes the final virtual address of every defined symbol in
// table, mutating each MergedSymbol's Value exactly once, and returns the
// resolved address of _start (the executable's entry point). It fails
// with MissingEntryPoint if no input defines _start.
func Resolve(img *Image, table *symtab.Table) (uint64, error) {
	var entry uint64
	var haveEntry bool

	for _, sym := range table.Defined() {
		var resolved uint64
		if sym.Section == "" {
			// Absolute symbol: its value does not depend on layout.
			resolved = sym.Value
		} else {
			sec := img.Section(sym.Section)
			if sec == nil {
				return 0, &lderrors.LayoutInvariant{Detail: "symbol " + sym.Name + " references unknown output section " + sym.Section}
			}
			fragOff, ok := sec.FragmentOffset(sym.Object)
			if !ok {
				return 0, &lderrors.LayoutInvariant{Detail: "symbol " + sym.Name + "'s object did not contribute to section " + sym.Section}
			}
			resolved = sec.Addr + fragOff + sym.Value
		}
		sym.Value = resolved

		if sym.Name == "_start" {
			entry = resolved
			haveEntry = true
		}
	}

	if !haveEntry {
		return 0, &lderrors.MissingEntryPoint{}
	}
	img.Entry = entry
	return entry, nil
}

// FinalizeFileLayout appends the .symtab, .strtab, and .shstrtab output
// sections (shstrtab must be last, per spec.md §4.3), assigns every
// section's file offset, and records e_shoff / e_shstrndx for the
// Emitter.
func FinalizeFileLayout(img *Image, symtabBytes, strtabBytes []byte, localCount int) error {
	symtabSec := &Section{Name: ".symtab", Type: elf.SHT_SYMTAB, Align: 8, Data: symtabBytes, EntSize: elf.Sym64Size, Info: uint32(localCount)}
	strtabSec := &Section{Name: ".strtab", Type: elf.SHT_STRTAB, Align: 1, Data: strtabBytes}
	img.Sections = append(img.Sections, symtabSec, strtabSec)
	img.byName[".symtab"] = symtabSec
	img.byName[".strtab"] = strtabSec

	// .shstrtab's own body depends on the final section name set
	// (including itself), so build it last of all, with shstrtab
	// itself appended to the name list before rendering.
	shstrtabSec := &Section{Name: ".shstrtab", Type: elf.SHT_STRTAB, Align: 1}
	img.Sections = append(img.Sections, shstrtabSec)
	img.byName[".shstrtab"] = shstrtabSec

	names := []byte{0}
	for _, s := range img.Sections {
		if s.Name == "" {
			continue
		}
		s.NameOffset = uint32(len(names))
		names = append(names, []byte(s.Name)...)
		names = append(names, 0)
	}
	shstrtabSec.Data = names

	symtabSec.Link = uint32(indexOf(img.Sections, strtabSec))

	// Assign file offsets. The first loadable section sits at the fixed
	// offset 0x1000; the bytes before it (after the ELF header and
	// single program header) are NUL padding written by the Emitter.
	// Every later section's offset is the previous section's end
	// rounded up to its own alignment.
	var cursor uint64
	first := true
	for _, s := range img.Sections {
		if s.Type == elf.SHT_NULL {
			continue
		}
		if first {
			s.FileOffset = firstLoadableFileOffset
			cursor = firstLoadableFileOffset + uint64(len(s.Data))
			first = false
			continue
		}
		off := arch.RoundUp(cursor, s.Align)
		if s.Align > 1 && off%s.Align != 0 {
			return &lderrors.LayoutInvariant{Detail: "computed offset for " + s.Name + " violates its alignment"}
		}
		s.FileOffset = off
		cursor = off + uint64(len(s.Data))
	}

	img.ShOff = cursor
	img.Shstrndx = uint16(indexOf(img.Sections, shstrtabSec))
	if img.Sections[len(img.Sections)-1] != shstrtabSec {
		return &lderrors.LayoutInvariant{Detail: ".shstrtab must be the last output section"}
	}
	return nil
}

func indexOf(sections []*Section, target *Section) int {
	for i, s := range sections {
		if s == target {
			return i
		}
	}
	return -1
}

// ProgramHeader describes the single PT_LOAD segment covering .text.
type ProgramHeader struct {
	Offset uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// ProgramHeader returns the PT_LOAD description for img's .text section.
func (img *Image) ProgramHeader() ProgramHeader {
	text := img.Section(".text")
	return ProgramHeader{
		Offset: text.FileOffset,
		Vaddr:  text.Addr,
		Filesz: uint64(len(text.Data)),
		Memsz:  uint64(len(text.Data)),
		Align:  programHeaderAlign,
	}
}
