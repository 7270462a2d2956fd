// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tamaroning/go-myld/ld/layout"
	"github.com/tamaroning/go-myld/ld/obj"
)

// parseInputs reads and parses every input path in order, per spec.md §6:
// "inputs are linked in command-line order", failing on the first
// unreadable or malformed object.
func parseInputs(paths []string, log *slog.Logger) ([]*obj.InputObject, error) {
	objs := make([]*obj.InputObject, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		o, err := obj.Parse(p, raw)
		if err != nil {
			return nil, err
		}
		log.Debug("parsed input object", "file", p, "sections", len(o.Sections), "symbols", len(o.Symbols))
		objs = append(objs, o)
	}
	return objs, nil
}

func layoutOptions(textAddr uint64) layout.Options {
	return layout.Options{TextAddr: textAddr}
}
