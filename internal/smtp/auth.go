// Package smtp implements the SMTP front end of the relay: a small ESMTP
// server with STARTTLS and AUTH that hands each accepted message to a
// delivery provider.
package smtp

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrBadCredentials is returned when the decoded credentials do not match.
	ErrBadCredentials = errors.New("smtp: authentication failed")

	// ErrMalformedAuth is returned for responses that cannot be decoded.
	ErrMalformedAuth = errors.New("smtp: malformed authentication response")
)

// Authenticator checks AUTH PLAIN and AUTH LOGIN responses against a single
// configured credential pair.
type Authenticator struct {
	username []byte
	password []byte
}

// NewAuthenticator returns an Authenticator for the given credentials.
// Authentication is disabled unless both are non-empty.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: []byte(username),
		password: []byte(password),
	}
}

// Enabled reports whether clients must authenticate.
func (a *Authenticator) Enabled() bool {
	return len(a.username) > 0 && len(a.password) > 0
}

// VerifyPlain checks a base64 AUTH PLAIN response of the form
// [authzid] NUL authcid NUL passwd. The authorization identity is ignored.
func (a *Authenticator) VerifyPlain(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ErrMalformedAuth
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return ErrMalformedAuth
	}
	return a.check([]byte(parts[1]), []byte(parts[2]))
}

// VerifyLogin checks the base64 username and password collected by the
// AUTH LOGIN challenge exchange.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return ErrMalformedAuth
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return ErrMalformedAuth
	}
	return a.check(user, pass)
}

func (a *Authenticator) check(user, pass []byte) error {
	userOK := subtle.ConstantTimeCompare(user, a.username) == 1
	passOK := subtle.ConstantTimeCompare(pass, a.password) == 1
	if !userOK || !passOK {
		return ErrBadCredentials
	}
	return nil
}
