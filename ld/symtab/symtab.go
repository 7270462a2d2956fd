// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab implements the merged SymbolTable stage: a single
// name-keyed table collecting defined symbols from every input object,
// with address rewriting performed later by the Resolver.
package symtab

import (
	"debug/elf"
	"sort"

	"github.com/tamaroning/go-myld/ld/arch"
	"github.com/tamaroning/go-myld/ld/lderrors"
)

// MergedSymbol is one entry in the merged table. Value starts out as the
// symbol's original, object-relative st_value and is rewritten in place,
// exactly once, by the Resolver.
type MergedSymbol struct {
	Name    string
	Bind    elf.SymBind
	Type    elf.SymType
	Object  string // owning object's filename, "" for the null symbol
	Section string // name of the defining output section, "" if absolute or null
	Value   uint64
	Size    uint64
}

// Table is the merged, name-keyed symbol table. Entry 0 is always the
// null symbol, per the ELF convention that SYMTAB index 0 is reserved.
type Table struct {
	order  []*MergedSymbol
	byName map[string]*MergedSymbol
}

// New returns an initialized Table containing only the null symbol.
func New() *Table {
	t := &Table{byName: map[string]*MergedSymbol{}}
	t.order = append(t.order, &MergedSymbol{})
	return t
}

// Insert adds sym to the table. It fails with DuplicateSymbol if a
// symbol with the same non-empty name is already defined; the null
// symbol (empty name) is never duplicate-checked.
//
// Only defined symbols should ever be passed to Insert: per the merging
// rules, undefined references and STT_SECTION symbols are never
// inserted, so any name collision here is necessarily between two
// definitions.
func (t *Table) Insert(sym *MergedSymbol) error {
	if sym.Name != "" {
		if existing, ok := t.byName[sym.Name]; ok {
			return &lderrors.DuplicateSymbol{Name: sym.Name, First: existing.Object, Again: sym.Object}
		}
	}
	t.order = append(t.order, sym)
	if sym.Name != "" {
		t.byName[sym.Name] = sym
	}
	return nil
}

// Lookup returns the symbol with the given name, or UnresolvedSymbol if
// no such symbol is defined.
func (t *Table) Lookup(name string) (*MergedSymbol, error) {
	sym, ok := t.byName[name]
	if !ok {
		return nil, &lderrors.UnresolvedSymbol{Name: name}
	}
	return sym, nil
}

// Defined are all non-null entries, in insertion order.
func (t *Table) Defined() []*MergedSymbol {
	return t.order[1:]
}

// fileRank places STT_FILE entries ahead of everything else; a stable
// sort on this key reproduces the intended "FILE symbols first" ordering
// without the original, acknowledged-buggy two-pass scan (see
// SPEC_FULL.md §9 / DESIGN.md).
func fileRank(s *MergedSymbol) int {
	if s.Type == elf.STT_FILE {
		return 0
	}
	return 1
}

// Serialize returns the table's entries in output SYMTAB order (null
// symbol first, then FILE symbols, then everything else in insertion
// order) along with localCount: the index one past the last
// LOCAL-binding entry, per the ELF-mandated definition of sh_info. Index
// 0 is always the reserved null symbol, regardless of its (default,
// non-FILE) rank, so it is pinned ahead of the sort rather than
// participating in it.
func (t *Table) Serialize() (entries []*MergedSymbol, localCount int) {
	defined := make([]*MergedSymbol, len(t.order)-1)
	copy(defined, t.order[1:])
	sort.SliceStable(defined, func(i, j int) bool {
		return fileRank(defined[i]) < fileRank(defined[j])
	})

	entries = make([]*MergedSymbol, 0, len(t.order))
	entries = append(entries, t.order[0])
	entries = append(entries, defined...)

	last := 0 // the null symbol's STB_LOCAL binding is always local
	for i, e := range entries[1:] {
		if e.Bind == elf.STB_LOCAL {
			last = i + 1
		}
	}
	return entries, last + 1
}

// BuildSymtab renders entries (as returned by Serialize) into ELF64
// SYMTAB and STRTAB section bodies, rewriting each entry's name offset
// to point into the produced string table. sectionIndex maps an output
// section name (e.g. ".text") to its index in the output section header
// table, used to set each emitted symbol's st_shndx.
func BuildSymtab(entries []*MergedSymbol, sectionIndex map[string]uint16) (symtabBytes, strtabBytes []byte) {
	strtabBytes = []byte{0}
	symtabBytes = make([]byte, 0, len(entries)*elf.Sym64Size)

	for _, e := range entries {
		var nameOff uint32
		if e.Name != "" {
			nameOff = uint32(len(strtabBytes))
			strtabBytes = append(strtabBytes, []byte(e.Name)...)
			strtabBytes = append(strtabBytes, 0)
		}

		var shndx elf.SectionIndex
		switch {
		case e.Name == "":
			shndx = elf.SHN_UNDEF // the null symbol
		case e.Section == "":
			shndx = elf.SHN_ABS
		default:
			if idx, ok := sectionIndex[e.Section]; ok {
				shndx = elf.SectionIndex(idx)
			} else {
				shndx = elf.SHN_ABS
			}
		}

		buf := make([]byte, elf.Sym64Size)
		arch.LittleEndian64.PutUint32(buf[0:], nameOff)
		buf[4] = elf.ST_INFO(e.Bind, e.Type)
		buf[5] = 0
		putUint16(buf[6:], uint16(shndx))
		putUint64(buf[8:], e.Value)
		putUint64(buf[16:], e.Size)
		symtabBytes = append(symtabBytes, buf...)
	}
	return symtabBytes, strtabBytes
}

func putUint16(b []byte, v uint16) { b[0], b[1] = byte(v), byte(v>>8) }
func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
