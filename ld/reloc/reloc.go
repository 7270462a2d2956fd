// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reloc implements the Relocator stage: walking each input
// object's relocation entries, resolving the referenced symbol's final
// address, and patching the output section bytes.
package reloc

import (
	"debug/elf"
	"math"

	"github.com/tamaroning/go-myld/ld/arch"
	"github.com/tamaroning/go-myld/ld/layout"
	"github.com/tamaroning/go-myld/ld/lderrors"
	"github.com/tamaroning/go-myld/ld/obj"
	"github.com/tamaroning/go-myld/ld/symtab"
)

const patchWidth = 4

// Apply walks every relocation in every input object and patches the
// corresponding output section's bytes in img, per spec.md §4.4. It must
// run after layout.Resolve has assigned final symbol addresses.
func Apply(img *layout.Image, table *symtab.Table, objs []*obj.InputObject) error {
	for _, o := range objs {
		for targetName, entries := range o.Relocs {
			out := img.Section(targetName)
			if out == nil {
				return &lderrors.LayoutInvariant{Detail: "relocation in " + o.Name + " targets unknown output section " + targetName}
			}
			fragOff, ok := out.FragmentOffset(o.Name)
			if !ok {
				return &lderrors.LayoutInvariant{Detail: o.Name + " did not contribute to " + targetName}
			}

			for _, e := range entries {
				if err := applyOne(img, table, o, out, fragOff, e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func applyOne(img *layout.Image, table *symtab.Table, o *obj.InputObject, out *layout.Section, fragOff uint64, e obj.RelocationEntry) error {
	switch e.Type {
	case elf.R_X86_64_PC32, elf.R_X86_64_PLT32:
	default:
		return &lderrors.UnsupportedRelocation{Type: uint32(e.Type), Section: out.Name, File: o.Name}
	}

	s, err := symbolAddr(img, table, o, e.SymbolName)
	if err != nil {
		return err
	}

	patchOff := fragOff + e.Offset
	if patchOff+patchWidth > uint64(len(out.Data)) {
		return &lderrors.LayoutInvariant{Detail: "relocation in " + o.Name + " patches outside section " + out.Name}
	}

	p := out.Addr + patchOff
	val := int64(s) + e.Addend - int64(p)
	if val > math.MaxInt32 || val < math.MinInt32 {
		return &lderrors.RelocationOverflow{Symbol: e.SymbolName, File: o.Name, Value: val}
	}

	arch.LittleEndian64.PutUint32(out.Data[patchOff:patchOff+patchWidth], uint32(int32(val)))
	return nil
}

// symbolAddr resolves the address referenced by a relocation's symbol
// name. If the name matches an output section (the convention
// ObjectParser uses for STT_SECTION symbols, which are never inserted
// into the merged table), the reference is a section-relative one: the
// section's base address plus the relocating object's own fragment
// offset within it.
func symbolAddr(img *layout.Image, table *symtab.Table, o *obj.InputObject, name string) (uint64, error) {
	if sec := img.Section(name); sec != nil {
		fragOff, ok := sec.FragmentOffset(o.Name)
		if !ok {
			return 0, &lderrors.LayoutInvariant{Detail: o.Name + " has no fragment in " + name}
		}
		return sec.Addr + fragOff, nil
	}

	sym, err := table.Lookup(name)
	if err != nil {
		if ue, ok := err.(*lderrors.UnresolvedSymbol); ok {
			ue.From = o.Name
		}
		return 0, err
	}
	return sym.Value, nil
}
