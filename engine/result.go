// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Outcome classifies the result of ingesting one event.
type Outcome string

const (
	// Accepted: the event was placed and contributes to room state.
	Accepted Outcome = "accepted"

	// SoftFailed: the event was placed in the DAG for graph
	// continuity but failed authorization and is excluded from state.
	// Silent at the protocol level — the sender observes the loss via
	// resolved state, never via an error.
	SoftFailed Outcome = "soft_failed"

	// MissingDependency: referenced events or signing keys are not
	// known yet. The event is held pending, and the caller (the
	// federation layer) should fetch the listed IDs.
	MissingDependency Outcome = "missing_dependency"

	// ValidationFailed: the event is structurally or
	// cryptographically invalid. Permanent; the event is discarded.
	ValidationFailed Outcome = "validation_error"
)

// IngestResult reports what happened to one ingested event.
type IngestResult struct {
	Outcome Outcome
	EventID ref.EventID

	// StateDelta holds the slots whose occupants changed, for
	// Accepted outcomes. Empty for accepted timeline events.
	StateDelta event.StateMap

	// Missing lists the event IDs to backfill, for MissingDependency
	// outcomes. Empty when the missing dependency is a signing key.
	Missing []ref.EventID

	// Reason describes SoftFailed, MissingDependency, and
	// ValidationFailed outcomes.
	Reason string
}
