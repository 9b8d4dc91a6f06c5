// Package auth defines the identity verifier consumed by the bridge.
// Token issuance lives elsewhere; this package only maps an opaque token
// to a verified user identifier.
package auth

import (
	"errors"
	"strings"
)

// ErrInvalidToken is returned when a token resolves to no user.
var ErrInvalidToken = errors.New("auth: invalid token")

// Verifier resolves an opaque identity token to a user identifier.
type Verifier interface {
	Verify(token string) (string, error)
}

// StaticVerifier validates tokens against a fixed in-memory table,
// loaded from configuration at startup.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier parses a "token:user,token:user" list. Entries
// without a colon are skipped.
func NewStaticVerifier(spec string) *StaticVerifier {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || user == "" {
			continue
		}
		tokens[token] = user
	}
	return &StaticVerifier{tokens: tokens}
}

// Verify returns the user identifier bound to token.
func (v *StaticVerifier) Verify(token string) (string, error) {
	user, ok := v.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return user, nil
}
