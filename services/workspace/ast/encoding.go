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

import "unicode/utf8"

// PositionEncoding is the unit in which a language server counts columns.
//
// Tree-sitter columns are always bytes. LSP servers default to UTF-16
// code units and may negotiate UTF-8 or UTF-32 instead.
type PositionEncoding string

const (
	EncodingUTF8  PositionEncoding = "utf-8"
	EncodingUTF16 PositionEncoding = "utf-16"
	EncodingUTF32 PositionEncoding = "utf-32"
)

// Valid reports whether e is one of the known encodings.
func (e PositionEncoding) Valid() bool {
	switch e {
	case EncodingUTF8, EncodingUTF16, EncodingUTF32:
		return true
	}
	return false
}

// unitsOf returns how many columns r occupies in encoding e.
func (e PositionEncoding) unitsOf(r rune, size int) int {
	switch e {
	case EncodingUTF8:
		return size
	case EncodingUTF32:
		return 1
	default:
		if r >= 0x10000 {
			return 2
		}
		return 1
	}
}

// FromByteColumn converts a byte column within line to a column in e.
//
// Columns past the end of line are extended one unit per byte.
func (e PositionEncoding) FromByteColumn(line []byte, byteCol int) int {
	if e == EncodingUTF8 || byteCol <= 0 {
		return byteCol
	}

	units := 0
	offset := 0
	for offset < len(line) && offset < byteCol {
		r, size := utf8.DecodeRune(line[offset:])
		units += e.unitsOf(r, size)
		offset += size
	}
	if byteCol > offset {
		units += byteCol - offset
	}
	return units
}

// ToByteColumn converts a column in e to a byte column within line.
//
// Returns false when col lies beyond the end of the line or inside a
// multi-unit character.
func (e PositionEncoding) ToByteColumn(line []byte, col int) (int, bool) {
	if col < 0 {
		return 0, false
	}
	if e == EncodingUTF8 {
		if col > len(line) {
			return 0, false
		}
		return col, true
	}

	units := 0
	offset := 0
	for offset < len(line) {
		if units == col {
			return offset, true
		}
		if units > col {
			return 0, false
		}
		r, size := utf8.DecodeRune(line[offset:])
		units += e.unitsOf(r, size)
		offset += size
	}
	if units == col {
		return offset, true
	}
	return 0, false
}
