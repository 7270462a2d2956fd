// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"debug/elf"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tamaroning/go-myld/internal/disasm"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm executable",
	Short: "Disassemble the .text section of a linked executable",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisasm,
}

func runDisasm(cmd *cobra.Command, args []string) error {
	f, err := elf.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer f.Close()

	text := f.Section(".text")
	if text == nil {
		return fmt.Errorf("%s has no .text section", args[0])
	}
	code, err := text.Data()
	if err != nil {
		return fmt.Errorf("reading .text: %w", err)
	}

	var symbols []disasm.Symbol
	if syms, err := f.Symbols(); err == nil {
		for _, s := range syms {
			if s.Name == "" || elf.ST_TYPE(s.Info) == elf.STT_SECTION {
				continue
			}
			symbols = append(symbols, disasm.Symbol{Name: s.Name, Value: s.Value, Size: s.Size})
		}
	}

	insts := disasm.Text(code, text.Addr, symbols)
	fmt.Print(disasm.Format(insts))
	return nil
}
