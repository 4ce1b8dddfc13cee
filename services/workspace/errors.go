// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"errors"

	"github.com/AleutianAI/symbridge/services/workspace/store"
)

var (
	// ErrNotFound indicates the path is not in the workspace.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidLocation indicates a location outside the workspace root.
	ErrInvalidLocation = store.ErrInvalidLocation

	// ErrIO indicates a filesystem failure.
	ErrIO = store.ErrIO

	// ErrUnresolvedDefinition indicates the service returned candidates
	// but none of them reconciled to a node or the file sentinel.
	ErrUnresolvedDefinition = errors.New("definition candidates did not reconcile")

	// ErrMultiLineEditUnsupported indicates a rename edit spanning lines.
	// The whole rename is rejected.
	ErrMultiLineEditUnsupported = errors.New("multi-line edit unsupported")

	// ErrEditOutOfRange indicates an edit addressing a line or column the
	// file does not have.
	ErrEditOutOfRange = errors.New("edit out of range")

	// ErrOverlappingEdits indicates two edits in one file cover the same text.
	ErrOverlappingEdits = errors.New("overlapping edits")

	// ErrInvalidName indicates an empty rename target.
	ErrInvalidName = errors.New("invalid new name")

	// ErrStalePlan indicates a file changed after its rename plan was made.
	ErrStalePlan = errors.New("rename plan is stale")
)
