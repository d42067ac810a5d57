package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestParseUpdate(t *testing.T) {
	env := &Envelope{Type: TypeUpdate, Update: []byte{1, 2, 3}}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Type != TypeUpdate {
		t.Errorf("Expected type %q, got %q", TypeUpdate, parsed.Type)
	}
	if !bytes.Equal(parsed.Update, []byte{1, 2, 3}) {
		t.Errorf("Update bytes mismatch: %v", parsed.Update)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte("not json at all")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
	if _, err := Parse([]byte(`{"update":"AQID"}`)); err == nil {
		t.Error("Expected error for missing type")
	}
}

func TestParseUnknownType(t *testing.T) {
	parsed, err := Parse([]byte(`{"type":"telemetry"}`))
	if err != nil {
		t.Fatalf("Unknown types should parse: %v", err)
	}
	if parsed.Type != "telemetry" {
		t.Errorf("Expected type preserved, got %q", parsed.Type)
	}
}

func TestParseAwareness(t *testing.T) {
	raw := []byte(`{"type":"awareness","awarenessId":"a-17","userId":"u1","userName":"Ada","payload":{"cursor":5}}`)

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.AwarenessID != "a-17" || parsed.UserID != "u1" || parsed.UserName != "Ada" {
		t.Errorf("Field mismatch: %+v", parsed)
	}
	if string(parsed.Payload) != `{"cursor":5}` {
		t.Errorf("Payload not preserved verbatim: %s", parsed.Payload)
	}
}

func TestNormalizedCursor(t *testing.T) {
	parsed, err := Parse([]byte(`{"type":"cursor","userId":"u1","userName":"Ada","color":"#f00","avatar":"a.png","blockId":"b7","position":3,"selection":[1,4],"update":"AQID"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	data, err := NormalizedCursor(parsed).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	for _, field := range []string{"type", "userId", "userName", "color", "avatar", "blockId", "position", "selection"} {
		if _, ok := out[field]; !ok {
			t.Errorf("Normalized cursor missing %q", field)
		}
	}
	if _, ok := out["update"]; ok {
		t.Error("Normalized cursor should drop unrelated fields")
	}
}
