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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// codeServerClosed is reported to waiters when the protocol closes under them.
const codeServerClosed = -32099

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request is an outgoing JSON-RPC request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC response to one of our requests.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error member of a JSON-RPC response.
type ResponseError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Notification is a JSON-RPC message that expects no reply.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// reply answers a request the server sent to us. The ID is echoed raw
// because servers may use strings.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

// incoming is any message read from the server. Which fields are set
// tells responses, server requests and notifications apart.
type incoming struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// =============================================================================
// PROTOCOL HANDLER
// =============================================================================

// Protocol speaks the LSP base protocol (Content-Length framed JSON-RPC)
// over a reader/writer pair.
//
// Description:
//
//	Correlates responses to pending requests by ID. Requests initiated by
//	the server (workspace/configuration, client/registerCapability,
//	window/workDoneProgress/create) are answered with empty results so
//	servers that block on them keep going.
//
// Thread Safety:
//
//	Safe for concurrent use. ReadLoop must run in exactly one goroutine.
type Protocol struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    int64
	pending   map[int64]chan Response
	pendingMu sync.Mutex
	closed    int32
	logger    *slog.Logger
}

// NewProtocol creates a protocol handler reading server output from r and
// writing client messages to w.
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Response),
		logger:  slog.Default(),
	}
}

// SendRequest sends a request and blocks until its response arrives or ctx
// is done.
//
// Outputs:
//
//	*Response - The response; Result may be the JSON literal null
//	error - ErrRequestTimeout on ctx expiry, *LSPError for server errors,
//	        ErrServerNotRunning after Close
func (p *Protocol) SendRequest(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, ErrServerNotRunning
	}

	id := atomic.AddInt64(&p.nextID, 1)
	respCh := make(chan Response, 1)

	p.pendingMu.Lock()
	p.pending[id] = respCh
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	if err := p.writeMessage(Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp := <-respCh:
		if resp.Error != nil {
			if resp.Error.Code == codeServerClosed {
				return nil, fmt.Errorf("%w: %s", ErrServerNotRunning, resp.Error.Message)
			}
			return nil, &LSPError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
		}
		return &resp, nil
	}
}

// SendNotification sends a message that expects no response.
func (p *Protocol) SendNotification(method string, params interface{}) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrServerNotRunning
	}
	return p.writeMessage(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params})
}

// writeMessage marshals v and writes it with its Content-Length header.
func (p *Protocol) writeMessage(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 32)
	buf.WriteString("Content-Length: ")
	buf.WriteString(strconv.Itoa(len(data)))
	buf.WriteString("\r\n\r\n")
	buf.Write(data)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.writer.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadLoop reads and dispatches server messages until the stream ends,
// ctx is done, or the protocol is closed.
//
// Outputs:
//
//	error - ErrServerCrashed on unexpected EOF, nil after Close
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := p.readMessage()
		if err != nil {
			if atomic.LoadInt32(&p.closed) == 1 {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				p.failPending("server closed its output")
				return ErrServerCrashed
			}
			p.failPending(err.Error())
			return fmt.Errorf("read: %w", err)
		}

		p.handleMessage(msg)
	}
}

// readMessage reads one framed message body.
func (p *Protocol) readMessage() (json.RawMessage, error) {
	contentLength := -1

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Length value %q: %w", value, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative Content-Length: %d", n)
		}
		contentLength = n
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("missing or zero Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// handleMessage routes one message to a waiter, a reply, or the log.
func (p *Protocol) handleMessage(msg json.RawMessage) {
	var in incoming
	if err := json.Unmarshal(msg, &in); err != nil {
		p.logger.Warn("Dropping undecodable LSP message", slog.String("error", err.Error()))
		return
	}

	hasID := len(in.ID) > 0 && !bytes.Equal(in.ID, []byte("null"))

	switch {
	case in.Method != "" && hasID:
		p.answerServerRequest(in)
	case in.Method != "":
		p.handleNotification(in)
	case hasID:
		p.deliverResponse(in)
	}
}

// deliverResponse hands a response to the goroutine waiting on its ID.
func (p *Protocol) deliverResponse(in incoming) {
	id, err := strconv.ParseInt(string(in.ID), 10, 64)
	if err != nil {
		p.logger.Debug("Ignoring response with foreign id", slog.String("id", string(in.ID)))
		return
	}

	p.pendingMu.Lock()
	ch, ok := p.pending[id]
	p.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- Response{JSONRPC: JSONRPCVersion, ID: id, Result: in.Result, Error: in.Error}:
	default:
	}
}

// answerServerRequest replies to a request initiated by the server.
// workspace/configuration gets one null per requested item; everything
// else gets a null result.
func (p *Protocol) answerServerRequest(in incoming) {
	var result interface{}

	if in.Method == "workspace/configuration" {
		var params struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(in.Params, &params); err == nil {
			result = make([]interface{}, len(params.Items))
		}
	}

	p.logger.Debug("Answering server request", slog.String("method", in.Method))
	if err := p.writeMessage(reply{JSONRPC: JSONRPCVersion, ID: in.ID, Result: result}); err != nil {
		p.logger.Warn("Failed to answer server request",
			slog.String("method", in.Method),
			slog.String("error", err.Error()),
		)
	}
}

// handleNotification logs server notifications worth keeping.
func (p *Protocol) handleNotification(in incoming) {
	if in.Method != "window/logMessage" && in.Method != "window/showMessage" {
		return
	}
	var params struct {
		Type    int    `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(in.Params, &params); err != nil {
		return
	}
	p.logger.Debug("LSP server message",
		slog.Int("type", params.Type),
		slog.String("message", params.Message),
	)
}

// failPending wakes every waiter with a closed-server error.
func (p *Protocol) failPending(reason string) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for id, ch := range p.pending {
		select {
		case ch <- Response{
			JSONRPC: JSONRPCVersion,
			ID:      id,
			Error:   &ResponseError{Code: codeServerClosed, Message: reason},
		}:
		default:
		}
	}
}

// Close stops further sends and fails all pending requests. The underlying
// streams are left to the owner.
func (p *Protocol) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}
	p.failPending("protocol closed")
}

// IsClosed reports whether Close has been called.
func (p *Protocol) IsClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}
