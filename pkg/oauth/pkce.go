// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// MethodS256 is the only challenge method we send.
	MethodS256 = "S256"

	// VerifierLength is the verifier size. RFC 7636 allows 43-128, we use the max.
	VerifierLength = 128

	// StateLength is the size of the CSRF state token.
	StateLength = 32

	// unreserved is the RFC 3986 unreserved character set
	unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// PKCE holds a code verifier and its derived challenge
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string // Always "S256"
}

// GeneratePKCE generates a new PKCE code verifier and challenge
// following RFC 7636.
func GeneratePKCE() (*PKCE, error) {
	verifier, err := randomString(VerifierLength)
	if err != nil {
		return nil, fmt.Errorf("generating code verifier: %w", err)
	}

	return &PKCE{
		Verifier:  verifier,
		Challenge: ChallengeFor(verifier),
		Method:    MethodS256,
	}, nil
}

// ChallengeFor derives the S256 challenge: BASE64URL(SHA256(verifier))
func ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState generates a random state parameter for CSRF protection
func GenerateState() (string, error) {
	state, err := randomString(StateLength)
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return state, nil
}

// randomString draws n characters uniformly from the unreserved set.
// Bytes at or above the largest multiple of the alphabet size are
// rejected so every character is equally likely.
func randomString(n int) (string, error) {
	const limit = 256 - 256%len(unreserved)

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, unreserved[int(b)%len(unreserved)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
