// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

// sampleEnvelope uses cbor tags, the convention for wire-only types.
type sampleEnvelope struct {
	Action string `cbor:"action"`
	ID     int    `cbor:"id"`
	Host   string `cbor:"host,omitempty"`
}

// sampleBody uses json tags, the convention for types rendered both
// ways.
type sampleBody struct {
	ID       int  `json:"id"`
	HadError bool `json:"hadError"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleEnvelope{Action: "connect", ID: 7, Host: "10.0.0.5"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleEnvelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	message := map[string]any{"port": 9000, "action": "listen", "id": 1}

	first, err := Marshal(message)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(message)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestJSONTagFallback(t *testing.T) {
	data, err := Marshal(sampleBody{ID: 3, HadError: true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// The json tag name must be the CBOR map key.
	var generic map[string]any
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := generic["hadError"]; !ok {
		t.Errorf("expected key hadError, got %v", generic)
	}
}

func TestNestedMapsDecodeAsStringKeyed(t *testing.T) {
	data, err := Marshal(map[string]any{"options": map[string]any{"timeout": 5}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded["options"].(map[string]any); !ok {
		t.Fatalf("options decoded as %T, want map[string]any", decoded["options"])
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleEnvelope{Action: "end", ID: 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"end"`) {
		t.Errorf("diagnostic notation %q does not mention the action", notation)
	}
}
