package auth

import (
	"errors"
	"testing"
)

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier("tok1:alice, tok2:bob ,broken,:nouser,notoken:")

	cases := []struct {
		name    string
		token   string
		user    string
		wantErr bool
	}{
		{"first entry", "tok1", "alice", false},
		{"entry with spaces", "tok2", "bob", false},
		{"unknown token", "tok3", "", true},
		{"empty token", "", "", true},
		{"skipped colonless entry", "broken", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user, err := v.Verify(tc.token)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("err = %v, want ErrInvalidToken", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if user != tc.user {
				t.Errorf("user = %q, want %q", user, tc.user)
			}
		})
	}
}

func TestStaticVerifierEmptySpec(t *testing.T) {
	v := NewStaticVerifier("")
	if _, err := v.Verify("anything"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
