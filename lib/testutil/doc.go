// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for sockbridge packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets, which have a 108-byte path limit (sun_path in
// sockaddr_un) that deeply nested t.TempDir() paths can exceed. The
// directory is removed when the test completes.
//
// [RequireReceive], [RequireClosed] and [RequireNoReceive] encapsulate
// the timeout safety valve pattern (select with time.After fallback) so
// that individual tests rarely need direct time.After calls.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no sockbridge-internal dependencies.
package testutil
