// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	fake := Fake(epoch)
	if !fake.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", fake.Now(), epoch)
	}
	fake.Advance(5 * time.Second)
	want := epoch.Add(5 * time.Second)
	if !fake.Now().Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", fake.Now(), want)
	}
}

func TestFakeAfter(t *testing.T) {
	fake := Fake(epoch)
	ch := fake.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(10 * time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(epoch.Add(10 * time.Second)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(10*time.Second))
		}
	default:
		t.Fatal("After did not fire after Advance past deadline")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	fake := Fake(epoch)
	called := false
	timer := fake.AfterFunc(time.Minute, func() { called = true })

	if !timer.Stop() {
		t.Fatal("Stop() = false for pending timer")
	}
	fake.Advance(2 * time.Minute)
	if called {
		t.Error("stopped AfterFunc callback ran")
	}
	if timer.Stop() {
		t.Error("second Stop() = true")
	}
}

func TestFakeAfterFuncFiresInOrder(t *testing.T) {
	fake := Fake(epoch)
	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("callbacks fired in order %v, want [1 2 3]", order)
	}
}

func TestFakeAfterFuncImmediate(t *testing.T) {
	fake := Fake(epoch)
	called := false
	fake.AfterFunc(0, func() { called = true })
	if !called {
		t.Error("AfterFunc(0) did not call synchronously")
	}
}
