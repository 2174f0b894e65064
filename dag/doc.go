// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dag tracks each room's event graph.
//
// Events reference their parents by identifier, never by pointer; all
// graph walks resolve identifiers through the event store. The manager
// records structure only — depth, forward extremities, ancestor
// reachability. It never judges which branch of a fork is "true";
// that is the resolver's job.
package dag
