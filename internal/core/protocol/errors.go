package protocol

import "errors"

var (
	ErrEmptyMessage        = errors.New("empty message")
	ErrUnknownKind         = errors.New("unknown message kind")
	ErrInvalidHandshake    = errors.New("invalid handshake")
	ErrUnexpectedMessage   = errors.New("unexpected message")
	ErrFingerprintMismatch = errors.New("schema fingerprint mismatch")
)
