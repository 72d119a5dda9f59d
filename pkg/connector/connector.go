// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package connector defines the contract between weaver and the external
// platforms a creator can connect, along with the token and profile types
// shared by every platform.
package connector

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Provider is an external platform reachable through OAuth 2.0 with PKCE.
type Provider interface {
	// Name returns the platform identifier used in routes (e.g. "tiktok").
	Name() string

	// AuthorizationURL builds the consent URL for one connection attempt.
	AuthorizationURL(redirectURI, state, challenge string) (string, error)

	// Exchange trades an authorization code and its verifier for tokens.
	Exchange(ctx context.Context, code, verifier, redirectURI string) (*TokenSet, error)

	// Refresh obtains a new token set with a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// Revoke invalidates an access token at the provider.
	Revoke(ctx context.Context, accessToken string) error

	// FetchProfile returns the account profile, including its stats.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)

	// FetchStats returns only the account counters.
	FetchStats(ctx context.Context, accessToken string) (*Stats, error)
}

// VideoProvider is implemented by platforms that expose a video catalog.
type VideoProvider interface {
	ListVideos(ctx context.Context, accessToken string, cursor int64, maxCount int) (*VideoPage, error)
	QueryVideos(ctx context.Context, accessToken string, ids []string) ([]Video, error)
}

// TokenSet is the credential material held for one connected account.
// It must never leave the server.
type TokenSet struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	OpenID           string // platform-native user id
	Scopes           []string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// Expired reports whether the access token is no longer usable at now.
func (t *TokenSet) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires before now+d.
func (t *TokenSet) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !t.ExpiresAt.After(now.Add(d))
}

// OAuth2 adapts the set to an oauth2.Token for use with oauth2 transports.
func (t *TokenSet) OAuth2() *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    tokenType,
		Expiry:       t.ExpiresAt,
	}
}

// ParseScopes normalizes a wire scope value, which providers delimit with
// commas or spaces, into a sorted set without duplicates.
func ParseScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})

	set := make(map[string]struct{}, len(fields))
	scopes := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := set[f]; ok {
			continue
		}
		set[f] = struct{}{}
		scopes = append(scopes, f)
	}
	sort.Strings(scopes)
	return scopes
}

// Profile is the display information of a connected account.
type Profile struct {
	PlatformUserID string `json:"platform_user_id"`
	UnionID        string `json:"union_id,omitempty"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	Bio            string `json:"bio,omitempty"`
	Verified       bool   `json:"is_verified"`
	DeepLink       string `json:"profile_deep_link,omitempty"`
	Stats          Stats  `json:"stats"`
}

// Stats are the headline counters of an account.
type Stats struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
	Likes     int64 `json:"likes"`
	Videos    int64 `json:"videos"`
}

// Video is one published video with its engagement counters.
type Video struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	CoverURL    string    `json:"cover_image_url,omitempty"`
	ShareURL    string    `json:"share_url,omitempty"`
	Description string    `json:"description,omitempty"`
	Title       string    `json:"title,omitempty"`
	Duration    int       `json:"duration,omitempty"`
	Height      int       `json:"height,omitempty"`
	Width       int       `json:"width,omitempty"`
	Views       int64     `json:"view_count"`
	Likes       int64     `json:"like_count"`
	Comments    int64     `json:"comment_count"`
	Shares      int64     `json:"share_count"`
}

// VideoPage is a page of videos plus the cursor for the next one.
type VideoPage struct {
	Videos  []Video `json:"videos"`
	Cursor  int64   `json:"cursor"`
	HasMore bool    `json:"has_more"`
}
