// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// ReviewFile is the diff of one file in a change under review.
type ReviewFile struct {
	Path string
	Diff string
}

const (
	reviewHeaderHeight = 2
	reviewFooterHeight = 2
)

// ReviewModel is the bubbletea model of an all-or-nothing change review.
//
// The change is accepted or rejected as a whole. Files are paged with
// left/right and scrolled with the usual viewport keys.
//
// # Thread Safety
//
// Single-threaded within the bubbletea event loop.
type ReviewModel struct {
	title    string
	files    []ReviewFile
	current  int
	viewport viewport.Model
	ready    bool
	accepted bool
	done     bool
}

// NewReviewModel creates a review of files under title.
func NewReviewModel(title string, files []ReviewFile) ReviewModel {
	return ReviewModel{title: title, files: files}
}

// Accepted reports whether the user accepted the change.
func (m ReviewModel) Accepted() bool {
	return m.accepted
}

// Current returns the index of the file on screen.
func (m ReviewModel) Current() int {
	return m.current
}

// Init implements tea.Model.
func (m ReviewModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := msg.Height - reviewHeaderHeight - reviewFooterHeight
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.viewport.YPosition = reviewHeaderHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.showCurrent()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "y", "Y", "enter":
			m.accepted = true
			m.done = true
			return m, tea.Quit
		case "n", "N", "q", "Q", "esc", "ctrl+c":
			m.done = true
			return m, tea.Quit
		case "right", "l", "tab":
			if m.current < len(m.files)-1 {
				m.current++
				m.showCurrent()
			}
			return m, nil
		case "left", "h", "shift+tab":
			if m.current > 0 {
				m.current--
				m.showCurrent()
			}
			return m, nil
		case "g", "home":
			m.viewport.GotoTop()
			return m, nil
		case "G", "end":
			m.viewport.GotoBottom()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *ReviewModel) showCurrent() {
	if !m.ready || len(m.files) == 0 {
		return
	}
	lines := strings.Split(strings.TrimRight(m.files[m.current].Diff, "\n"), "\n")
	for i, l := range lines {
		lines[i] = styleDiffLine(l)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoTop()
}

// View implements tea.Model.
func (m ReviewModel) View() string {
	if m.done {
		return ""
	}
	if len(m.files) == 0 {
		return "Nothing to review.\n"
	}

	var b strings.Builder
	f := m.files[m.current]
	b.WriteString(Styles.Title.Render(m.title))
	b.WriteString("\n")
	b.WriteString(Styles.Muted.Render(fmt.Sprintf("%s (%d/%d)", f.Path, m.current+1, len(m.files))))
	b.WriteString("\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(f.Diff)
	}
	b.WriteString("\n\n")
	b.WriteString(Styles.Muted.Render("y accept · n reject · ←/→ file · ↑/↓ scroll"))
	return b.String()
}

// ErrNotInteractive is returned by Review when it cannot prompt.
var ErrNotInteractive = errors.New("review needs an interactive terminal")

// Review shows files in a full-screen review on out, reading keys from in,
// and reports whether the user accepted. It returns ErrNotInteractive when
// either side is not a terminal.
func Review(title string, files []ReviewFile, in io.Reader, out io.Writer) (bool, error) {
	if !IsTerminal(out) || !IsInputTerminal(in) {
		return false, ErrNotInteractive
	}
	return runReview(NewReviewModel(title, files), in, out, tea.WithAltScreen())
}

func runReview(m ReviewModel, in io.Reader, out io.Writer, opts ...tea.ProgramOption) (bool, error) {
	opts = append(opts, tea.WithInput(in), tea.WithOutput(out))
	final, err := tea.NewProgram(m, opts...).Run()
	if err != nil {
		return false, fmt.Errorf("review: %w", err)
	}
	rm, ok := final.(ReviewModel)
	if !ok {
		return false, fmt.Errorf("unexpected model type from review: %T", final)
	}
	return rm.Accepted(), nil
}
