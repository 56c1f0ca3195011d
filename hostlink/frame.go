// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameType identifies the payload of a frame.
type FrameType byte

const (
	// FrameHello carries a [Hello]. Each side sends exactly one, the
	// host first.
	FrameHello FrameType = 0x01

	// FrameCommand carries a [Command]. Host to bridge.
	FrameCommand FrameType = 0x02

	// FrameEvent carries an [EventMessage]. Bridge to host.
	FrameEvent FrameType = 0x03

	// FrameAck carries an [Ack] for a write command. Bridge to host.
	FrameAck FrameType = 0x04
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameCommand:
		return "command"
	case FrameEvent:
		return "event"
	case FrameAck:
		return "ack"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// frameHeaderLength is 1 byte type + 1 byte compression + 4 bytes
// big-endian payload length.
const frameHeaderLength = 6

// maxPayloadLength bounds both the wire payload and the uncompressed
// size of a compressed payload.
const maxPayloadLength = 16 * 1024 * 1024

// Frame is one host link message before CBOR decoding. Payload is
// always the uncompressed bytes.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// ErrFrameTooLarge is returned for payloads over 16 MiB.
var ErrFrameTooLarge = errors.New("frame payload too large")

// WriteFrame writes frame to w in a single Write call. Payloads of at
// least threshold bytes are compressed with compression when that
// makes them smaller; a compressed payload is prefixed with its
// uncompressed length.
func WriteFrame(w io.Writer, frame Frame, compression Compression, threshold int) error {
	if len(frame.Payload) > maxPayloadLength {
		return fmt.Errorf("writing %s frame: %w", frame.Type, ErrFrameTooLarge)
	}

	tag := CompressionNone
	body := frame.Payload
	if compression != CompressionNone && len(frame.Payload) > 0 && len(frame.Payload) >= threshold {
		compressed, err := compress(frame.Payload, compression)
		switch {
		case err == nil:
			tag = compression
			body = make([]byte, 4+len(compressed))
			binary.BigEndian.PutUint32(body[:4], uint32(len(frame.Payload)))
			copy(body[4:], compressed)
		case errors.Is(err, errIncompressible):
		default:
			return fmt.Errorf("writing %s frame: %w", frame.Type, err)
		}
	}

	buffer := make([]byte, frameHeaderLength+len(body))
	buffer[0] = byte(frame.Type)
	buffer[1] = byte(tag)
	binary.BigEndian.PutUint32(buffer[2:frameHeaderLength], uint32(len(body)))
	copy(buffer[frameHeaderLength:], body)

	if _, err := w.Write(buffer); err != nil {
		return fmt.Errorf("writing %s frame: %w", frame.Type, err)
	}
	return nil
}

// ReadFrame reads one frame from r and decompresses its payload. A
// clean end of stream before the header returns io.EOF unwrapped.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("reading frame header: %w", err)
	}

	frameType := FrameType(header[0])
	tag := Compression(header[1])
	length := binary.BigEndian.Uint32(header[2:frameHeaderLength])
	if length > maxPayloadLength {
		return Frame{}, fmt.Errorf("%s frame payload length %d: %w", frameType, length, ErrFrameTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("reading %s frame payload: %w", frameType, err)
	}

	if tag == CompressionNone {
		return Frame{Type: frameType, Payload: body}, nil
	}

	if len(body) < 4 {
		return Frame{}, fmt.Errorf("%s frame: compressed payload missing length prefix", frameType)
	}
	uncompressedSize := binary.BigEndian.Uint32(body[:4])
	if uncompressedSize > maxPayloadLength {
		return Frame{}, fmt.Errorf("%s frame uncompressed length %d: %w", frameType, uncompressedSize, ErrFrameTooLarge)
	}
	payload, err := decompress(body[4:], tag, int(uncompressedSize))
	if err != nil {
		return Frame{}, fmt.Errorf("%s frame: %w", frameType, err)
	}
	return Frame{Type: frameType, Payload: payload}, nil
}
