// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package account stores the external platform accounts users connect,
// together with their provider tokens and cached metrics snapshots.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Danse117/weaver/pkg/connector"
)

// Metrics snapshot kinds.
const (
	KindProfileStats     = "profile_stats"
	KindVideoPerformance = "video_performance"
)

// DefaultMetricsMaxAge is how long a metrics snapshot stays fresh.
const DefaultMetricsMaxAge = time.Hour

// ErrNotFound is returned when an account does not exist or belongs to
// another user.
var ErrNotFound = errors.New("account not found")

// Account is one external platform account connected by a user.
// Exactly one exists per (UserID, Platform, PlatformUserID).
type Account struct {
	ID             string
	UserID         string
	Platform       string
	PlatformUserID string
	Username       string
	DisplayName    string
	AvatarURL      string
	Tokens         connector.TokenSet
	Metadata       *structpb.Struct
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	c := *a
	c.Tokens.Scopes = append([]string(nil), a.Tokens.Scopes...)
	if a.Metadata != nil {
		c.Metadata = proto.Clone(a.Metadata).(*structpb.Struct)
	}
	return &c
}

// View is the client-facing representation of an account. It carries no
// token material.
type View struct {
	ID             string          `json:"id"`
	Platform       string          `json:"platform"`
	PlatformUserID string          `json:"platform_user_id"`
	Username       string          `json:"username"`
	DisplayName    string          `json:"display_name"`
	AvatarURL      string          `json:"avatar_url"`
	Scopes         []string        `json:"scopes"`
	TokenExpiresAt time.Time       `json:"token_expires_at"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// View renders a for API responses.
func (a *Account) View() View {
	meta, err := marshalMetadata(a.Metadata)
	if err != nil {
		meta = "{}"
	}
	scopes := a.Tokens.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return View{
		ID:             a.ID,
		Platform:       a.Platform,
		PlatformUserID: a.PlatformUserID,
		Username:       a.Username,
		DisplayName:    a.DisplayName,
		AvatarURL:      a.AvatarURL,
		Scopes:         scopes,
		TokenExpiresAt: a.Tokens.ExpiresAt,
		Metadata:       json.RawMessage(meta),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// ProfileMetadata builds the metadata stored alongside a freshly
// connected account.
func ProfileMetadata(p *connector.Profile) *structpb.Struct {
	s, err := structpb.NewStruct(map[string]any{
		"is_verified":       p.Verified,
		"profile_deep_link": p.DeepLink,
		"union_id":          p.UnionID,
		"bio":               p.Bio,
	})
	if err != nil {
		return &structpb.Struct{}
	}
	return s
}

// Store persists connected accounts.
type Store interface {
	// Upsert creates the account or, when one already exists for the same
	// (user, platform, platform user id), overwrites its profile, tokens
	// and metadata in place. The stored account is returned.
	Upsert(ctx context.Context, a *Account) (*Account, error)

	// Get returns the account id owned by userID.
	Get(ctx context.Context, userID, id string) (*Account, error)

	// GetByID returns an account regardless of owner.
	GetByID(ctx context.Context, id string) (*Account, error)

	// List returns the accounts of userID, newest first.
	List(ctx context.Context, userID string) ([]*Account, error)

	// Delete removes the account id owned by userID.
	Delete(ctx context.Context, userID, id string) error

	// UpdateTokens replaces the token set of an account atomically.
	UpdateTokens(ctx context.Context, id string, ts connector.TokenSet) error
}

// MetricsCache keeps the latest metrics snapshot per account and kind.
type MetricsCache interface {
	CacheMetrics(ctx context.Context, accountID, kind string, data []byte) error
	CachedMetrics(ctx context.Context, accountID, kind string, maxAge time.Duration) ([]byte, bool, error)
}

func marshalMetadata(m *structpb.Struct) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := protojson.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMetadata(s string) (*structpb.Struct, error) {
	m := &structpb.Struct{}
	if s == "" {
		return m, nil
	}
	if err := protojson.Unmarshal([]byte(s), m); err != nil {
		return nil, err
	}
	return m, nil
}
