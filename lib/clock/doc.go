// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects [Real]; tests inject [Fake] and drive time
// with [FakeClock.Advance]. Every roomstate function that would call
// time.Now, time.After, time.AfterFunc, or time.Sleep accepts a Clock
// (or sits on a struct with a Clock field) instead of calling the time
// package directly. The engine's pending-dependency timeouts are the
// main consumer.
package clock
