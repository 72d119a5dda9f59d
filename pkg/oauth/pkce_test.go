// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func TestGeneratePKCE(t *testing.T) {
	for i := 0; i < 50; i++ {
		pkce, err := GeneratePKCE()
		if err != nil {
			t.Fatalf("GeneratePKCE() error: %v", err)
		}

		if len(pkce.Verifier) != VerifierLength {
			t.Errorf("verifier length = %d, want %d", len(pkce.Verifier), VerifierLength)
		}
		if pkce.Method != "S256" {
			t.Errorf("Method = %q, want S256", pkce.Method)
		}
		for _, c := range pkce.Verifier {
			if !strings.ContainsRune(unreserved, c) {
				t.Fatalf("verifier contains reserved character %q", c)
			}
		}

		// The challenge must be re-derivable from the verifier, byte for byte
		sum := sha256.Sum256([]byte(pkce.Verifier))
		want := base64.RawURLEncoding.EncodeToString(sum[:])
		if pkce.Challenge != want {
			t.Errorf("Challenge = %q, want %q", pkce.Challenge, want)
		}
		if strings.ContainsAny(pkce.Challenge, "+/=") {
			t.Errorf("challenge is not unpadded base64url: %q", pkce.Challenge)
		}
	}
}

func TestChallengeForKnownVector(t *testing.T) {
	// RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := ChallengeFor(verifier); got != want {
		t.Errorf("ChallengeFor() = %q, want %q", got, want)
	}
}

func TestGenerateState(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		state, err := GenerateState()
		if err != nil {
			t.Fatalf("GenerateState() error: %v", err)
		}
		if len(state) < 32 {
			t.Fatalf("state length = %d, want >= 32", len(state))
		}
		if _, dup := seen[state]; dup {
			t.Fatalf("duplicate state generated: %q", state)
		}
		seen[state] = struct{}{}
	}
}

func TestRandomStringUsesWholeAlphabet(t *testing.T) {
	s, err := randomString(4096)
	if err != nil {
		t.Fatalf("randomString() error: %v", err)
	}
	for _, c := range unreserved {
		if !strings.ContainsRune(s, c) {
			t.Errorf("character %q never drawn in 4096 samples", c)
		}
	}
}
