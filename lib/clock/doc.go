// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so deadlines can be
// tested without sleeping.
//
// A host link session arms a handshake deadline with AfterFunc when a
// host connects and stops it once the hello frame arrives. Production code
// passes Real(); tests pass Fake() and call Advance to fire the
// deadline deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	session := hostlink.NewSession(conn, hostlink.SessionOptions{Clock: fake})
//	go session.Handshake()
//	fake.WaitForTimers(1) // the deadline is armed
//	fake.Advance(10 * time.Second)
package clock
