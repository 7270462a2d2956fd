// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ld orchestrates the full linking pipeline: ObjectParser,
// SymbolTable, Layout, Resolver, Relocator, and Emitter, run in that
// strict sequence (spec.md §2, §5).
package ld

import (
	"debug/elf"
	"fmt"

	"github.com/tamaroning/go-myld/ld/emit"
	"github.com/tamaroning/go-myld/ld/layout"
	"github.com/tamaroning/go-myld/ld/lderrors"
	"github.com/tamaroning/go-myld/ld/obj"
	"github.com/tamaroning/go-myld/ld/reloc"
	"github.com/tamaroning/go-myld/ld/symtab"
)

// Options controls the tunables exposed to callers of Link; it embeds
// layout.Options directly since the base address is the only layout
// knob this linker exposes.
type Options struct {
	layout.Options
}

// Link runs the full pipeline over objs (already parsed, in input/
// command-line order) and returns the bytes of a statically-linked
// ELF64 ET_EXEC executable.
func Link(objs []*obj.InputObject, opts Options) ([]byte, error) {
	table, err := mergeSymbols(objs)
	if err != nil {
		return nil, err
	}

	img := layout.Build(objs, opts.Options)

	if _, err := layout.Resolve(img, table); err != nil {
		return nil, err
	}

	if err := reloc.Apply(img, table, objs); err != nil {
		return nil, err
	}

	entries, localCount := table.Serialize()
	symtabBytes, strtabBytes := symtab.BuildSymtab(entries, img.SectionIndex())

	if err := layout.FinalizeFileLayout(img, symtabBytes, strtabBytes, localCount); err != nil {
		return nil, err
	}

	return emit.Emit(img)
}

// mergeSymbols implements the SymbolTable stage's merging rules
// (spec.md §4.2): STT_SECTION symbols and undefined STT_NOTYPE
// references are never inserted; STT_FILE, STT_OBJECT, STT_FUNC, and
// defined STT_NOTYPE (common for hand-written _start symbols) are
// inserted; any other type is an UnsupportedSymbolType error.
func mergeSymbols(objs []*obj.InputObject) (*symtab.Table, error) {
	table := symtab.New()
	for _, o := range objs {
		for _, sym := range o.Symbols {
			switch sym.Type {
			case elf.STT_SECTION:
				continue
			case elf.STT_NOTYPE:
				if sym.Shndx == elf.SHN_UNDEF {
					continue // external reference, checked during relocation
				}
			case elf.STT_FILE, elf.STT_FUNC, elf.STT_OBJECT:
				// fall through to insertion
			default:
				return nil, &lderrors.UnsupportedSymbolType{Name: sym.Name, Type: uint8(sym.Type), File: o.Name}
			}

			merged := &symtab.MergedSymbol{
				Name:   sym.Name,
				Bind:   sym.Bind,
				Type:   sym.Type,
				Object: o.Name,
				Value:  sym.Value,
				Size:   sym.Size,
			}
			if sym.Shndx == elf.SHN_ABS {
				merged.Section = ""
			} else if secName, ok := o.SectionByIndex(sym.Shndx); ok {
				merged.Section = secName
			} else {
				return nil, fmt.Errorf("%s: symbol %q references unresolvable section index %d", o.Name, sym.Name, sym.Shndx)
			}

			if err := table.Insert(merged); err != nil {
				return nil, err
			}
		}
	}
	return table, nil
}
