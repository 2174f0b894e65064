// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for roomstate
// packages: unique identifier generation for rooms, users, and
// servers so tests never collide on shared fixtures.
package testutil
