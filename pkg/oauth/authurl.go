// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrMissingClientKey is a configuration error, raised before any URL is built.
	ErrMissingClientKey = errors.New("oauth client key is not configured")

	// ErrMissingEndpoint is returned when the provider authorization endpoint is empty.
	ErrMissingEndpoint = errors.New("oauth authorization endpoint is not configured")
)

// AuthorizationRequest carries everything needed to send the user to
// the provider's consent screen.
type AuthorizationRequest struct {
	Endpoint    string
	ClientKey   string
	RedirectURI string
	State       string
	Challenge   string
	Scopes      []string
}

// BuildAuthorizationURL assembles the provider authorization URL.
//
// The redirect URI is passed through verbatim: it must be byte-identical
// to the one sent at token exchange time, so no normalization happens here.
func BuildAuthorizationURL(req *AuthorizationRequest) (string, error) {
	if req.ClientKey == "" {
		return "", ErrMissingClientKey
	}
	if req.Endpoint == "" {
		return "", ErrMissingEndpoint
	}

	u, err := url.Parse(req.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing authorization endpoint: %w", err)
	}

	q := u.Query()
	q.Set("client_key", req.ClientKey)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(req.Scopes, ","))
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("state", req.State)
	q.Set("code_challenge", req.Challenge)
	q.Set("code_challenge_method", MethodS256)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
