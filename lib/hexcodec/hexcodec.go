// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hexcodec

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// alphabet is the digit table used for both directions. A symbol's
// index is its nibble value.
const alphabet = "0123456789ABCDEF"

// nibble returns the alphabet index of r, or -1 when r is not in the
// alphabet. Callers combine nibbles with signed arithmetic so that -1
// propagates into the decoded byte.
func nibble(r rune) int {
	return strings.IndexRune(alphabet, r)
}

// DecodeCommand decodes a hex payload from a write command. Odd-length
// input is left-padded with one '0'. Empty input returns nil.
func DecodeCommand(hex string) []byte {
	if hex == "" {
		return nil
	}

	symbols := []rune(hex)
	if len(symbols)%2 != 0 {
		symbols = append([]rune{'0'}, symbols...)
	}
	for i, symbol := range symbols {
		symbols[i] = unicode.ToUpper(symbol)
	}

	decoded := make([]byte, len(symbols)/2)
	for i := range decoded {
		high := nibble(symbols[2*i])
		low := nibble(symbols[2*i+1])
		decoded[i] = byte(high<<4 | low)
	}
	return decoded
}

// EncodeHex returns two uppercase hex digits per byte.
func EncodeHex(data []byte) string {
	var builder strings.Builder
	builder.Grow(len(data) * 2)
	for _, value := range data {
		builder.WriteByte(alphabet[value>>4])
		builder.WriteByte(alphabet[value&0x0F])
	}
	return builder.String()
}

// EncodeEvent produces the data event string for data using the
// legacy transform: hex-encode, parse the hex back into bytes, decode
// as GBK. The boolean is false when data is empty, in which case the
// event carries no string.
func EncodeEvent(data []byte) (string, bool) {
	hex := EncodeHex(data)
	if hex == "" {
		return "", false
	}

	// The GBK decoder substitutes U+FFFD for invalid sequences and never
	// fails.
	text, _ := simplifiedchinese.GBK.NewDecoder().Bytes(DecodeCommand(hex))
	return string(text), true
}

// EventEncoding selects how received bytes are rendered in data events.
type EventEncoding string

const (
	// EventGBK is the legacy transform implemented by EncodeEvent.
	EventGBK EventEncoding = "gbk"

	// EventHex carries the received bytes as uppercase hex.
	EventHex EventEncoding = "hex"
)

// ParseEventEncoding validates an encoding name from configuration.
func ParseEventEncoding(name string) (EventEncoding, error) {
	switch EventEncoding(name) {
	case EventGBK, EventHex:
		return EventEncoding(name), nil
	default:
		return "", fmt.Errorf("unknown data encoding %q (want %q or %q)", name, EventGBK, EventHex)
	}
}

// Encode renders data for a data event. The boolean is false when data
// is empty.
func (e EventEncoding) Encode(data []byte) (string, bool) {
	if e == EventHex {
		if len(data) == 0 {
			return "", false
		}
		return EncodeHex(data), true
	}
	return EncodeEvent(data)
}
