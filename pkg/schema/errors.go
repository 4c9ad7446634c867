package schema

import "errors"

var (
	ErrNotRecord         = errors.New("type does not embed schema.Schema")
	ErrUnknownTag        = errors.New("unknown field type tag")
	ErrKindMismatch      = errors.New("field kind does not match its type tag")
	ErrUnexportedField   = errors.New("replicated field must be exported")
	ErrInvalidDefault    = errors.New("invalid default value")
	ErrUnregisteredType  = errors.New("type is not registered in the schema context")
	ErrTypeIDCollision   = errors.New("two definitions hash to the same type id")
	ErrUnknownRef        = errors.New("patch references an unknown ref id")
	ErrUnknownType       = errors.New("patch references an unknown type id")
	ErrTypeMismatch      = errors.New("decoded value does not fit its slot")
	ErrMalformedPatch    = errors.New("malformed patch")
	ErrFingerprintChange = errors.New("schema fingerprint mismatch")
)
