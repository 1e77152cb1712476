// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "errors"

// Precondition violations indicate agent-protocol misuse by the caller.
// They are raised synchronously and never retried.
var (
	// ErrNotPending is returned when a message submitted for processing
	// is not in the Pending state.
	ErrNotPending = errors.New("message is not pending")

	// ErrNotUser is returned when a non-user message is submitted for
	// processing.
	ErrNotUser = errors.New("only user messages can be processed")

	// ErrBadDelegation is returned when a delegated analyst name or
	// question fails validation.
	ErrBadDelegation = errors.New("invalid delegation")
)

// Storage invariant violations indicate a referenced entity is absent.
var (
	ErrAnalystNotFound = errors.New("analyst not found")
	ErrPaperNotFound   = errors.New("paper not found")
	ErrKeyNotFound     = errors.New("key not found")
	ErrListExists      = errors.New("paper list already exists")
	ErrListNotFound    = errors.New("paper list not found")
)
