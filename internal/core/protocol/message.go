// Package protocol frames the messages a room server sends to its
// receivers over a websocket: one handshake, one full state, then patches.
// Every message is a binary frame whose first byte is its Kind.
package protocol

import (
	"encoding/json"
	"fmt"
)

type Kind byte

const (
	KindHandshake Kind = iota + 1
	KindFullState
	KindPatch
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindFullState:
		return "full_state"
	case KindPatch:
		return "patch"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Handshake opens every session. Receivers refuse to decode when their
// schema fingerprint differs from the server's.
type Handshake struct {
	Session     string `json:"session"`
	Fingerprint uint64 `json:"fingerprint"`
	TickRate    int    `json:"tickRate"`
	PatchRate   int    `json:"patchRate"`
}

// Frame prefixes payload with kind.
func Frame(kind Kind, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, byte(kind))
	return append(out, payload...)
}

// Parse splits a frame into its kind and payload.
func Parse(msg []byte) (Kind, []byte, error) {
	if len(msg) == 0 {
		return 0, nil, ErrEmptyMessage
	}
	kind := Kind(msg[0])
	switch kind {
	case KindHandshake, KindFullState, KindPatch:
		return kind, msg[1:], nil
	default:
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownKind, msg[0])
	}
}

func EncodeHandshake(h Handshake) ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return Frame(KindHandshake, b), nil
}

func DecodeHandshake(payload []byte) (Handshake, error) {
	var h Handshake
	if err := json.Unmarshal(payload, &h); err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidHandshake, err)
	}
	if h.Session == "" {
		return h, fmt.Errorf("%w: missing session", ErrInvalidHandshake)
	}
	return h, nil
}

// Check verifies that the handshake was made for the given fingerprint.
func (h Handshake) Check(fingerprint uint64) error {
	if h.Fingerprint != fingerprint {
		return fmt.Errorf("%w: server %016x, local %016x", ErrFingerprintMismatch, h.Fingerprint, fingerprint)
	}
	return nil
}
