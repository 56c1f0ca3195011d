// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by the
// host link.
//
// Host link frames carry one CBOR value each: commands from the host,
// events and acknowledgments from the bridge. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2), so the same envelope always
// produces identical bytes, which keeps frame-level tests exact.
//
//	data, err := codec.Marshal(envelope)
//	err = codec.Unmarshal(data, &envelope)
//
// # Struct Tag Rules
//
// Event bodies use `json` tags: they are encoded as CBOR on the wire
// and as JSON in logs and tests, and fxamacker/cbor reads `json` tags
// when `cbor` tags are absent. Types that only ever travel as CBOR
// (frame envelopes, the handshake) use `cbor` tags. Never put both on
// one field.
package codec
