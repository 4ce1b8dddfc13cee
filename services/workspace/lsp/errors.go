// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"errors"
	"fmt"
)

// Lifecycle errors. A session or server in one of these states answers no
// requests.
var (
	ErrServerNotInstalled   = errors.New("lsp server not installed")
	ErrServerNotRunning     = errors.New("lsp server not running")
	ErrServerAlreadyStarted = errors.New("server already started")
	ErrServerCrashed        = errors.New("lsp server crashed")
	ErrInitializeFailed     = errors.New("lsp initialize failed")
	ErrSessionReleased      = errors.New("lsp session released")
)

// Request errors.
var (
	// ErrUnsupportedLanguage means the registry has no entry for a language
	// or file extension.
	ErrUnsupportedLanguage = errors.New("no lsp configuration for language")

	// ErrRequestTimeout means the caller's deadline passed before the
	// server answered.
	ErrRequestTimeout = errors.New("lsp request timeout")

	// ErrInvalidResponse means a result did not decode into any shape the
	// method allows.
	ErrInvalidResponse = errors.New("invalid lsp response")
)

// JSON-RPC and LSP error codes the client inspects.
const (
	CodeParseError           = -32700
	CodeMethodNotFound       = -32601
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeRequestFailed        = -32803
)

var codeNames = map[int]string{
	CodeParseError:           "parse error",
	CodeMethodNotFound:       "method not found",
	CodeInternalError:        "internal error",
	CodeServerNotInitialized: "server not initialized",
	CodeRequestCancelled:     "request cancelled",
	CodeContentModified:      "content modified",
	CodeRequestFailed:        "request failed",
}

// LSPError is an error object from a JSON-RPC response.
type LSPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *LSPError) Error() string {
	msg := fmt.Sprintf("lsp error %d", e.Code)
	if name, ok := codeNames[e.Code]; ok {
		msg += " (" + name + ")"
	}
	msg += ": " + e.Message
	if e.Data != nil {
		msg += fmt.Sprintf(" [%v]", e.Data)
	}
	return msg
}

// IsMethodNotFound reports a method the server does not implement.
func (e *LSPError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsRequestFailed reports a request the server understood but declined.
// pyright and gopls answer an impossible rename this way.
func (e *LSPError) IsRequestFailed() bool {
	return e.Code == CodeRequestFailed
}
