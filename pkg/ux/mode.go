// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode defines how rich CLI output is.
type Mode string

const (
	// ModeRich enables colors, icons, tables, and spinners.
	ModeRich Mode = "rich"

	// ModePlain uses icons and text tables without color.
	ModePlain Mode = "plain"

	// ModeMachine outputs tab-separated text suitable for scripting.
	ModeMachine Mode = "machine"
)

// ParseMode converts a string to a Mode. Unknown values yield ModeRich.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "p", "minimal":
		return ModePlain
	case "machine", "quiet", "q":
		return ModeMachine
	default:
		return ModeRich
	}
}

// DetectMode picks a Mode for w. SYMBRIDGE_OUTPUT wins when set. Otherwise
// terminals get ModeRich and everything else ModeMachine. NO_COLOR
// downgrades ModeRich to ModePlain.
func DetectMode(w io.Writer) Mode {
	if env := os.Getenv("SYMBRIDGE_OUTPUT"); env != "" {
		return ParseMode(env)
	}
	if !IsTerminal(w) {
		return ModeMachine
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return ModePlain
	}
	return ModeRich
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	return isTerminalFile(w)
}

// IsInputTerminal reports whether r is a terminal.
func IsInputTerminal(r io.Reader) bool {
	return isTerminalFile(r)
}

func isTerminalFile(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
