// Package lderrors defines the fatal error kinds the linker pipeline can
// return. Every stage of the pipeline (ObjectParser, SymbolTable, Layout,
// Resolver, Relocator, Emitter) fails fast by returning one of these,
// wrapped with additional file/symbol context where applicable.
package lderrors

import "fmt"

// MalformedObject indicates an input could not be parsed as a valid ELF64
// LE relocatable object (bad magic, truncated section/symbol tables, a
// string table read that runs off the end, ...).
type MalformedObject struct {
	File   string
	Reason string
}

func (e *MalformedObject) Error() string {
	return fmt.Sprintf("%s: malformed object: %s", e.File, e.Reason)
}

// UnsupportedObject indicates an input is a well-formed ELF file outside
// what this linker accepts: wrong class, wrong endianness, wrong machine,
// or not a relocatable (ET_REL) object.
type UnsupportedObject struct {
	File   string
	Reason string
}

func (e *UnsupportedObject) Error() string {
	return fmt.Sprintf("%s: unsupported object: %s", e.File, e.Reason)
}

// DuplicateSymbol indicates two inputs define the same non-weak global
// symbol.
type DuplicateSymbol struct {
	Name  string
	First string
	Again string
}

func (e *DuplicateSymbol) Error() string {
	if e.First == "" && e.Again == "" {
		return fmt.Sprintf("duplicate symbol %q", e.Name)
	}
	return fmt.Sprintf("duplicate symbol %q: already defined in %s, redefined in %s", e.Name, e.First, e.Again)
}

// UnresolvedSymbol indicates a relocation referenced a name with no
// definition in any input object. A missing _start is reported as
// MissingEntryPoint instead.
type UnresolvedSymbol struct {
	Name string
	From string // object file containing the reference, if known
}

func (e *UnresolvedSymbol) Error() string {
	if e.From == "" {
		return fmt.Sprintf("unresolved symbol %q", e.Name)
	}
	return fmt.Sprintf("unresolved symbol %q (referenced in %s)", e.Name, e.From)
}

// MissingEntryPoint indicates no input defines `_start`.
type MissingEntryPoint struct{}

func (e *MissingEntryPoint) Error() string {
	return "no definition of entry point symbol \"_start\""
}

// UnsupportedSymbolType indicates a defined symbol has an STT_* type
// outside {NOTYPE, FUNC, OBJECT, FILE, SECTION}.
type UnsupportedSymbolType struct {
	Name string
	Type uint8
	File string
}

func (e *UnsupportedSymbolType) Error() string {
	return fmt.Sprintf("%s: symbol %q has unsupported type %d", e.File, e.Name, e.Type)
}

// UnsupportedRelocation indicates a relocation entry used a type outside
// {R_X86_64_PC32, R_X86_64_PLT32}.
type UnsupportedRelocation struct {
	Type    uint32
	Section string
	File    string
}

func (e *UnsupportedRelocation) Error() string {
	return fmt.Sprintf("%s: section %s: unsupported relocation type %d", e.File, e.Section, e.Type)
}

// RelocationOverflow indicates a computed PC-relative displacement does
// not fit in a signed 32-bit integer.
type RelocationOverflow struct {
	Symbol string
	File   string
	Value  int64
}

func (e *RelocationOverflow) Error() string {
	return fmt.Sprintf("%s: relocation against %q overflows 32 bits: %d", e.File, e.Symbol, e.Value)
}

// LayoutInvariant indicates an internal consistency check failed:
// alignment, file offset, or section bounds that should never happen if
// the pipeline is correct.
type LayoutInvariant struct {
	Detail string
}

func (e *LayoutInvariant) Error() string {
	return fmt.Sprintf("layout invariant violated: %s", e.Detail)
}
