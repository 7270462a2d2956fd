// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tamaroning/go-myld/internal/logging"
	"github.com/tamaroning/go-myld/ld"
)

var (
	outputPath string
	verbose    bool

	// -T and -nostdlib are accepted for command-line compatibility with
	// the original myld driver, then ignored: this linker never loads a
	// linker script and never links libc, so both are no-ops beyond a
	// single warning. The real .text load address tunable is
	// MYLD_TEXT_ADDR (see layoutOptions), not a CLI flag, matching
	// spec.md §6's distinction between CLI compatibility flags and the
	// linker's actual tunables.
	textSegmentArg string
	noStdlib       bool
)

var rootCmd = &cobra.Command{
	Use:   "myld [flags] input.o...",
	Short: "A minimal ELF64 x86-64 static linker",
	Long: `myld links one or more ELF64 little-endian x86-64 relocatable
object files into a single statically-linked ET_EXEC executable.

The executable has a single PT_LOAD segment covering .text:
no shared libraries, no dynamic symbols, no linker scripts.`,
	Args:          cobra.MinimumNArgs(1),
	RunE:          runLink,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "myld-a.out", "output executable path")
	rootCmd.Flags().StringVarP(&textSegmentArg, "script", "T", "", "linker script (ignored; accepted for driver compatibility)")
	rootCmd.Flags().BoolVar(&noStdlib, "nostdlib", false, "ignored; this linker never links a C library")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))

	rootCmd.AddCommand(disasmCmd)
}

func initConfig() {
	viper.SetEnvPrefix("myld")
	viper.AutomaticEnv()
}

func runLink(cmd *cobra.Command, args []string) error {
	log := logging.New(verbose)

	if textSegmentArg != "" {
		log.Warn("-T (linker scripts) is not supported and will be ignored", "value", textSegmentArg)
	}
	if noStdlib {
		log.Warn("-nostdlib is ignored: this linker never links a C library")
	}

	output := viper.GetString("output")
	if output == "" {
		output = outputPath
	}
	addr := viper.GetUint64("text_addr")

	objs, err := parseInputs(args, log)
	if err != nil {
		printDiagnostic(err)
		os.Exit(1)
	}

	img, err := ld.Link(objs, ld.Options{Options: layoutOptions(addr)})
	if err != nil {
		printDiagnostic(err)
		os.Exit(1)
	}

	if err := os.WriteFile(output, img, 0o755); err != nil {
		printDiagnostic(fmt.Errorf("writing %s: %w", output, err))
		os.Exit(1)
	}

	log.Info("linked executable", "output", output, "inputs", len(args))
	return nil
}

func printDiagnostic(err error) {
	msg := fmt.Sprintf("myld: %v", err)
	if color.NoColor {
		fmt.Fprintln(os.Stderr, msg)
		return
	}
	color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, msg)
}

func main() {
	// pflag only knows --nostdlib; rewrite the single-dash driver spelling
	// so it is not parsed as a cluster of unknown shorthand flags.
	for i := 1; i < len(os.Args) && os.Args[i] != "--"; i++ {
		if os.Args[i] == "-nostdlib" {
			os.Args[i] = "--nostdlib"
		}
	}
	if err := rootCmd.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
