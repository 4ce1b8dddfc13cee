// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

// Sentinel errors for parse failure conditions.
//
// These can be checked with errors.Is() regardless of whether they are
// wrapped in a ParseError.
var (
	// ErrUnsupportedLanguage indicates that no grammar is registered for the
	// requested language name or file extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseFailed indicates that tree-sitter produced no tree at all.
	//
	// Syntax errors inside an otherwise parsed file do not produce this
	// error; tree-sitter recovers from them with ERROR nodes.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates content that cannot be handed to the
	// parser, such as non-UTF-8 bytes.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge is returned when content exceeds the parser's size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")

	// ErrInvalidQuery indicates that a grammar's identifier pattern did not
	// compile against its language.
	ErrInvalidQuery = errors.New("invalid identifier query")
)

// ParseError records why one file was left out of the store. A load keeps
// going past it; the store reports all of them from ParseFailures.
type ParseError struct {
	FilePath string // workspace-relative
	Message  string
	Cause    error // may be nil
}

// Error returns "path: message".
func (e *ParseError) Error() string {
	if e.FilePath == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a ParseError wrapping cause.
func NewParseError(filePath, message string, cause error) *ParseError {
	return &ParseError{FilePath: filePath, Message: message, Cause: cause}
}

// WrapParseError attaches filePath to err. A ParseError is returned as is,
// and nil stays nil.
func WrapParseError(err error, filePath string) error {
	if err == nil || IsParseError(err) {
		return err
	}
	return NewParseError(filePath, err.Error(), err)
}

// IsParseError reports whether err is or wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
