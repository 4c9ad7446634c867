package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameAndParse(t *testing.T) {
	kind, payload, err := Parse(Frame(KindPatch, []byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, KindPatch, kind)
	assert.Equal(t, []byte{1, 2, 3}, payload)

	kind, payload, err = Parse(Frame(KindFullState, nil))
	require.NoError(t, err)
	assert.Equal(t, KindFullState, kind)
	assert.Empty(t, payload)

	_, _, err = Parse(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, _, err = Parse([]byte{42})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestHandshake(t *testing.T) {
	msg, err := EncodeHandshake(Handshake{Session: "s1", Fingerprint: 0xabc, TickRate: 60, PatchRate: 20})
	require.NoError(t, err)

	kind, payload, err := Parse(msg)
	require.NoError(t, err)
	require.Equal(t, KindHandshake, kind)

	h, err := DecodeHandshake(payload)
	require.NoError(t, err)
	assert.Equal(t, "s1", h.Session)
	assert.NoError(t, h.Check(0xabc))
	assert.ErrorIs(t, h.Check(0xabd), ErrFingerprintMismatch)

	_, err = DecodeHandshake([]byte("{"))
	assert.ErrorIs(t, err, ErrInvalidHandshake)
	_, err = DecodeHandshake([]byte(`{"fingerprint":1}`))
	assert.ErrorIs(t, err, ErrInvalidHandshake)
}
