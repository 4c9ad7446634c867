package server

import (
	"crypto/subtle"
	"net/http"
)

// Authenticator decides whether an upgrade request may join the room.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// TokenAuth admits requests carrying the configured token in the "token"
// query parameter. An empty token admits everyone.
type TokenAuth struct {
	Token string
}

func (a TokenAuth) Authenticate(r *http.Request) error {
	if a.Token == "" {
		return nil
	}
	got := r.URL.Query().Get("token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.Token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
