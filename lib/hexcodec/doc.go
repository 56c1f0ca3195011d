// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hexcodec converts socket payloads to and from the text form
// carried across the host boundary.
//
// The two directions are deliberately asymmetric:
//
//   - Commands carry hex. [DecodeCommand] left-pads odd-length input
//     with a single '0', upper-cases it, and maps each digit pair to a
//     byte through the fixed alphabet 0-9A-F. It never fails: empty
//     input yields nil, and symbols outside the alphabet produce the
//     same bytes the legacy host runtime produced for them.
//
//   - Events carry text. [EncodeEvent] hex-encodes the received bytes,
//     parses that hex back into bytes with the command-direction rules,
//     and decodes the result as GBK. Byte sequences that are not valid
//     GBK come out as U+FFFD, so the transform is lossy for binary
//     payloads. Existing hosts depend on this exact output.
//
// [EventEncoding] selects between the legacy GBK transform and plain
// uppercase hex for the data event. New hosts should use [EventHex],
// which is byte-preserving.
package hexcodec
