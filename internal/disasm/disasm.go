// Package disasm decodes the .text section of a linked executable for the
// `myld disasm` diagnostic subcommand, adapted from the teacher's asm
// package (asm/x86.go), which wraps the same golang.org/x/arch/x86/x86asm
// decoder in a symbolication-aware GoSyntax call.
package disasm

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Symbol is a named address for resolving jump/call targets during
// disassembly, e.g. a defined symbol from the linked executable's .symtab.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// Instruction is one decoded instruction at a given program counter.
type Instruction struct {
	PC   uint64
	Len  int
	Text string
	Raw  x86asm.Inst
}

// Text decodes code, a byte slice starting at virtual address pc, as a
// linear run of 64-bit x86-64 instructions. Decoding never stops on an
// invalid opcode; per the teacher's disasmX86, an undecodable byte is
// reported as a one-byte "?" instruction and decoding resumes at the next
// byte, so a partial or corrupted .text still produces output for the
// bytes around it.
func Text(code []byte, pc uint64, symbols []Symbol) []Instruction {
	lookup := symLookup(symbols)

	var out []Instruction
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, 64)
		size := inst.Len
		if err != nil || size == 0 || inst.Op == 0 {
			inst = x86asm.Inst{}
			size = 1
			out = append(out, Instruction{PC: pc, Len: size, Text: "?", Raw: inst})
		} else {
			out = append(out, Instruction{
				PC:   pc,
				Len:  size,
				Text: x86asm.GoSyntax(inst, pc, lookup),
				Raw:  inst,
			})
		}
		code = code[size:]
		pc += uint64(size)
	}
	return out
}

// Format renders insts the way `myld disasm` prints to stdout: one line
// per instruction, address-prefixed.
func Format(insts []Instruction) string {
	var b strings.Builder
	for _, in := range insts {
		fmt.Fprintf(&b, "%8x:\t%s\n", in.PC, in.Text)
	}
	return b.String()
}

// symLookup builds the x86asm.GoSyntax symname callback: given an address,
// return the name of the symbol containing it and the offset within that
// symbol, or ("", 0) if none covers it.
func symLookup(symbols []Symbol) func(uint64) (string, uint64) {
	sorted := append([]Symbol(nil), symbols...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	return func(addr uint64) (string, uint64) {
		// Last symbol whose Value <= addr.
		i := sort.Search(len(sorted), func(i int) bool { return sorted[i].Value > addr }) - 1
		if i < 0 {
			return "", 0
		}
		s := sorted[i]
		if s.Size > 0 && addr >= s.Value+s.Size {
			return "", 0
		}
		return s.Name, addr - s.Value
	}
}
