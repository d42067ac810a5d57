package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types carried in the envelope's type field
const (
	// Full document state, sent to a client when it joins
	TypeSync = "sync"

	// Incremental document update, relayed between clients
	TypeUpdate = "update"

	// Ephemeral presence payload (cursors, selections, identity)
	TypeAwareness = "awareness"

	// Legacy cursor message with inline identity fields
	TypeCursor = "cursor"

	// Sent to remaining clients when an identified client disconnects
	TypeLeave = "leave"
)

// Envelope is the wire format for every room message. Fields are
// populated per type; everything unused is omitted.
type Envelope struct {
	Type string `json:"type"`

	// sync carries the full serialized document; update carries an
	// incremental change. Both are opaque bytes (base64 over JSON).
	State  []byte `json:"state,omitempty"`
	Update []byte `json:"update,omitempty"`

	// awareness carries an opaque payload plus the sender's own
	// ephemeral id.
	AwarenessID string          `json:"awarenessId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`

	// Identity fields, present on awareness, cursor, and leave.
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`

	// Cursor fields.
	Color     string          `json:"color,omitempty"`
	Avatar    string          `json:"avatar,omitempty"`
	BlockID   string          `json:"blockId,omitempty"`
	Position  json.RawMessage `json:"position,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`

	// leave carries the server-assigned client id.
	ClientID string `json:"clientId,omitempty"`
}

// Parse decodes a raw envelope. Payloads that are not valid JSON or
// carry no type are rejected; unknown types are returned as-is for the
// caller to decide on.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// NormalizedCursor rebuilds a cursor envelope from its structured
// fields, dropping anything else the sender included.
func NormalizedCursor(env *Envelope) *Envelope {
	return &Envelope{
		Type:      TypeCursor,
		UserID:    env.UserID,
		UserName:  env.UserName,
		Color:     env.Color,
		Avatar:    env.Avatar,
		BlockID:   env.BlockID,
		Position:  env.Position,
		Selection: env.Selection,
	}
}
