// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package tiktok

import (
	"time"

	"github.com/Danse117/weaver/pkg/connector"
)

// Grant types sent to the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// tokenResponse is the token endpoint payload for both grants.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	OpenID           string `json:"open_id"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
}

func (r *tokenResponse) tokenSet(now time.Time) *connector.TokenSet {
	ts := &connector.TokenSet{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		OpenID:       r.OpenID,
		Scopes:       connector.ParseScopes(r.Scope),
		ExpiresAt:    now.Add(time.Duration(r.ExpiresIn) * time.Second),
	}
	if r.RefreshExpiresIn > 0 {
		ts.RefreshExpiresAt = now.Add(time.Duration(r.RefreshExpiresIn) * time.Second)
	}
	return ts
}

// user is the /user/info/ payload under data.user.
type user struct {
	OpenID          string `json:"open_id"`
	UnionID         string `json:"union_id"`
	AvatarURL       string `json:"avatar_url"`
	AvatarURL100    string `json:"avatar_url_100"`
	AvatarLargeURL  string `json:"avatar_large_url"`
	DisplayName     string `json:"display_name"`
	Username        string `json:"username"`
	BioDescription  string `json:"bio_description"`
	IsVerified      bool   `json:"is_verified"`
	ProfileDeepLink string `json:"profile_deep_link"`
	FollowerCount   int64  `json:"follower_count"`
	FollowingCount  int64  `json:"following_count"`
	LikesCount      int64  `json:"likes_count"`
	VideoCount      int64  `json:"video_count"`
}

func (u *user) stats() connector.Stats {
	return connector.Stats{
		Followers: u.FollowerCount,
		Following: u.FollowingCount,
		Likes:     u.LikesCount,
		Videos:    u.VideoCount,
	}
}

func (u *user) profile() *connector.Profile {
	avatar := u.AvatarURL
	if avatar == "" {
		avatar = u.AvatarURL100
	}
	return &connector.Profile{
		PlatformUserID: u.OpenID,
		UnionID:        u.UnionID,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		AvatarURL:      avatar,
		Bio:            u.BioDescription,
		Verified:       u.IsVerified,
		DeepLink:       u.ProfileDeepLink,
		Stats:          u.stats(),
	}
}

// video is one entry of the /video/list/ and /video/query/ payloads.
type video struct {
	ID               string `json:"id"`
	CreateTime       int64  `json:"create_time"`
	CoverImageURL    string `json:"cover_image_url"`
	ShareURL         string `json:"share_url"`
	VideoDescription string `json:"video_description"`
	Title            string `json:"title"`
	Duration         int    `json:"duration"`
	Height           int    `json:"height"`
	Width            int    `json:"width"`
	ViewCount        int64  `json:"view_count"`
	LikeCount        int64  `json:"like_count"`
	CommentCount     int64  `json:"comment_count"`
	ShareCount       int64  `json:"share_count"`
}

func (v *video) toVideo() connector.Video {
	return connector.Video{
		ID:          v.ID,
		CreatedAt:   time.Unix(v.CreateTime, 0).UTC(),
		CoverURL:    v.CoverImageURL,
		ShareURL:    v.ShareURL,
		Description: v.VideoDescription,
		Title:       v.Title,
		Duration:    v.Duration,
		Height:      v.Height,
		Width:       v.Width,
		Views:       v.ViewCount,
		Likes:       v.LikeCount,
		Comments:    v.CommentCount,
		Shares:      v.ShareCount,
	}
}

func toVideos(in []video) []connector.Video {
	out := make([]connector.Video, 0, len(in))
	for i := range in {
		out = append(out, in[i].toVideo())
	}
	return out
}

var (
	profileFields = []string{
		"open_id", "union_id", "avatar_url", "avatar_url_100", "avatar_large_url",
		"display_name", "username", "bio_description", "is_verified",
		"profile_deep_link", "follower_count", "following_count",
		"likes_count", "video_count",
	}

	statsFields = []string{
		"open_id", "follower_count", "following_count", "likes_count", "video_count",
	}

	videoFields = []string{
		"id", "create_time", "cover_image_url", "share_url", "video_description",
		"title", "duration", "height", "width", "view_count", "like_count",
		"comment_count", "share_count",
	}
)
