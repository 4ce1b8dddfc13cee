// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the symbridge CLI.
//
// A Printer writes results to one writer and diagnostics to another. Its
// Mode decides how much decoration is applied: ModeRich uses lipgloss
// colors and bordered tables, ModePlain keeps the layout without color,
// and ModeMachine emits tab-separated lines for scripts.
package ux

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette: deep ocean teals and arctic waters.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#2C4A54")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box         lipgloss.Style
	TableBorder lipgloss.Style
	TableHeader lipgloss.Style
	TableCell   lipgloss.Style

	DiffAdd    lipgloss.Style
	DiffRemove lipgloss.Style
	DiffHunk   lipgloss.Style
	DiffFile   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	TableBorder: lipgloss.NewStyle().Foreground(ColorTealDeep),
	TableHeader: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	TableCell:   lipgloss.NewStyle().Padding(0, 1),

	DiffAdd:    lipgloss.NewStyle().Foreground(ColorSuccess),
	DiffRemove: lipgloss.NewStyle().Foreground(ColorError),
	DiffHunk:   lipgloss.NewStyle().Foreground(ColorTealPrimary),
	DiffFile:   lipgloss.NewStyle().Bold(true),
}

// Icon provides themed status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Printer writes styled CLI output.
type Printer struct {
	out  io.Writer
	err  io.Writer
	mode Mode
}

// NewPrinter creates a Printer. Results go to out; warnings and errors go
// to errOut.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	return &Printer{out: out, err: errOut, mode: mode}
}

// Mode returns the output mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Out returns the result writer.
func (p *Printer) Out() io.Writer {
	return p.out
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if p.mode != ModeRich {
		return text
	}
	return style.Render(text)
}

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.render(Styles.Success, string(i))
	case IconWarning:
		return p.render(Styles.Warning, string(i))
	case IconError:
		return p.render(Styles.Error, string(i))
	default:
		return p.render(Styles.Muted, string(i))
	}
}

// Title prints a heading. Machine mode omits it.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.out, p.render(Styles.Title, text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.icon(IconSuccess), p.render(Styles.Success, text))
}

// Warning prints a warning line to the diagnostic writer.
func (p *Printer) Warning(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.icon(IconWarning), p.render(Styles.Warning, text))
}

// Error prints an error line to the diagnostic writer.
func (p *Printer) Error(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.icon(IconError), p.render(Styles.Error, text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.render(Styles.Muted, "│"), text)
}

// Muted prints secondary text. Machine mode omits it.
func (p *Printer) Muted(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.out, p.render(Styles.Muted, text))
}

// Field prints a labelled value.
func (p *Printer) Field(label, value string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "%s\t%s\n", label, value)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.render(Styles.Muted, label+":"), value)
}

// Box prints content in a rounded box under title.
func (p *Printer) Box(title, content string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.out, "%s: %s\n", title, content)
	case ModePlain:
		fmt.Fprintf(p.out, "%s\n%s\n", title, content)
	default:
		fmt.Fprintln(p.out, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// Table prints rows under headers. Machine mode prints rows only, one per
// line, with tab-separated cells.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.mode == ModeMachine {
		for _, row := range rows {
			fmt.Fprintln(p.out, strings.Join(row, "\t"))
		}
		return
	}

	t := table.New().
		Headers(headers...).
		Rows(rows...)

	if p.mode == ModeRich {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(Styles.TableBorder).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return Styles.TableHeader
				}
				return Styles.TableCell
			})
	} else {
		t = t.Border(lipgloss.NormalBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				return lipgloss.NewStyle().Padding(0, 1)
			})
	}
	fmt.Fprintln(p.out, t.String())
}

// Diff prints a unified diff, colored in rich mode.
func (p *Printer) Diff(data []byte) {
	if p.mode != ModeRich {
		_, _ = p.out.Write(data)
		return
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for sc.Scan() {
		fmt.Fprintln(p.out, styleDiffLine(sc.Text()))
	}
}

// styleDiffLine colors one unified diff line by its prefix.
func styleDiffLine(line string) string {
	switch {
	case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		return Styles.DiffFile.Render(line)
	case strings.HasPrefix(line, "@@"):
		return Styles.DiffHunk.Render(line)
	case strings.HasPrefix(line, "+"):
		return Styles.DiffAdd.Render(line)
	case strings.HasPrefix(line, "-"):
		return Styles.DiffRemove.Render(line)
	default:
		return line
	}
}

// Count prints "n noun" with a plural "s" when n != 1.
func (p *Printer) Count(n int, noun, suffix string) {
	if n != 1 {
		noun += "s"
	}
	text := fmt.Sprintf("%d %s", n, noun)
	if suffix != "" {
		text += " " + suffix
	}
	if p.mode == ModeMachine {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.render(Styles.Bold, fmt.Sprintf("%d", n)), strings.TrimPrefix(text, fmt.Sprintf("%d ", n)))
}
