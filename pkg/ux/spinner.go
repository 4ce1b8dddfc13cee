// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// Spinner is an animated progress indicator. It animates only in rich
// mode; plain mode prints the message once and machine mode prints
// nothing.
type Spinner struct {
	w       io.Writer
	mode    Mode
	message string

	stop chan struct{}
	done chan struct{}

	mu        sync.Mutex
	isRunning bool
	started   bool
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(w io.Writer, mode Mode, message string) *Spinner {
	return &Spinner{
		w:       w,
		mode:    mode,
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the animation. A Spinner runs at most once; later calls
// are no-ops.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.isRunning = true
	s.mu.Unlock()

	switch s.mode {
	case ModeMachine:
		close(s.done)
		return
	case ModePlain:
		fmt.Fprintf(s.w, "%s %s\n", IconBullet, s.message)
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()

		frame := 0
		for {
			select {
			case <-s.stop:
				fmt.Fprint(s.w, "\r\033[K")
				return
			case <-ticker.C:
				s.mu.Lock()
				msg := s.message
				s.mu.Unlock()
				fmt.Fprintf(s.w, "\r%s %s", Styles.Highlight.Render(spinnerFrames[frame]), msg)
				frame = (frame + 1) % len(spinnerFrames)
			}
		}
	}()
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

// UpdateMessage changes the message while running.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// WithSpinner runs fn while a spinner shows message on w.
func WithSpinner(w io.Writer, mode Mode, message string, fn func() error) error {
	spin := NewSpinner(w, mode, message)
	spin.Start()
	defer spin.Stop()
	return fn()
}
