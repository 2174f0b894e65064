// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/roomstate/lib/ref"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now()
// when tests need identifiers that must be distinguishable across
// parallel test cases.
//
//	name := testutil.UniqueID("room")  // "room-1", "room-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// TestServer is the server name used for all test fixtures.
const TestServer = "test.local"

// UniqueRoomID returns a fresh room ID on the test server.
func UniqueRoomID() ref.RoomID {
	return ref.MustParseRoomID(fmt.Sprintf("!%s:%s", UniqueID("room"), TestServer))
}

// UniqueUserID returns a fresh user ID on the test server.
func UniqueUserID(prefix string) ref.UserID {
	return ref.MustParseUserID(fmt.Sprintf("@%s:%s", UniqueID(prefix), TestServer))
}
