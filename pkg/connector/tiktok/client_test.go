// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/Danse117/weaver/pkg/connector"
	"github.com/Danse117/weaver/pkg/ratelimit"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewClient(Config{
		ClientKey:    "ck",
		ClientSecret: "cs",
		Endpoint: oauth2.Endpoint{
			AuthURL:  server.URL + "/auth/",
			TokenURL: server.URL + "/oauth/token/",
		},
		RevokeURL:  server.URL + "/oauth/revoke/",
		APIBaseURL: server.URL + "/v2",
	}, opts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func TestExchange(t *testing.T) {
	var form url.Values
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/oauth/token/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		form = r.PostForm
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":       "act.1",
			"refresh_token":      "rft.1",
			"expires_in":         86400,
			"refresh_expires_in": 31536000,
			"open_id":            "open-1",
			"scope":              "video.list,user.info.basic",
			"token_type":         "Bearer",
		})
	}))

	redirectURI := "https://app.example.com/accounts/callback/tiktok"
	ts, err := c.Exchange(context.Background(), "auth-code", "verifier-xyz", redirectURI)
	if err != nil {
		t.Fatalf("Exchange() error: %v", err)
	}

	want := map[string]string{
		"client_key":    "ck",
		"client_secret": "cs",
		"code":          "auth-code",
		"grant_type":    "authorization_code",
		"redirect_uri":  redirectURI,
		"code_verifier": "verifier-xyz",
	}
	for k, v := range want {
		if got := form.Get(k); got != v {
			t.Errorf("form %s = %q, want %q", k, got, v)
		}
	}

	if ts.AccessToken != "act.1" || ts.RefreshToken != "rft.1" || ts.OpenID != "open-1" {
		t.Errorf("unexpected token set: %+v", ts)
	}
	if !ts.ExpiresAt.Equal(testNow.Add(24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", ts.ExpiresAt)
	}
	if !ts.RefreshExpiresAt.Equal(testNow.Add(365 * 24 * time.Hour)) {
		t.Errorf("RefreshExpiresAt = %v", ts.RefreshExpiresAt)
	}
	if !reflect.DeepEqual(ts.Scopes, []string{"user.info.basic", "video.list"}) {
		t.Errorf("Scopes = %v", ts.Scopes)
	}
}

func TestTokenEndpointErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "oauth error on 400",
			status:   http.StatusBadRequest,
			body:     `{"error":"invalid_grant","error_description":"Authorization code is expired.","log_id":"L1"}`,
			wantCode: "invalid_grant",
			wantMsg:  "Authorization code is expired.",
		},
		{
			name:     "oauth error on 200",
			status:   http.StatusOK,
			body:     `{"error":"invalid_request","error_description":"Code verifier does not match."}`,
			wantCode: "invalid_request",
			wantMsg:  "Code verifier does not match.",
		},
		{
			name:     "api envelope on 200",
			status:   http.StatusOK,
			body:     `{"error":{"code":"invalid_params","message":"bad redirect","log_id":"L2"}}`,
			wantCode: "invalid_params",
			wantMsg:  "bad redirect",
		},
		{
			name:     "data error code on 200",
			status:   http.StatusOK,
			body:     `{"data":{"error_code":10007,"description":"Authorization code expired"}}`,
			wantCode: "10007",
			wantMsg:  "Authorization code expired",
		},
		{
			name:    "non-json body",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantMsg: "Bad Gateway",
		},
		{
			name:     "200 without token",
			status:   http.StatusOK,
			body:     `{"open_id":"x"}`,
			wantCode: "invalid_response",
			wantMsg:  "response carried no access token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body) //nolint:errcheck
			}))

			_, err := c.Exchange(context.Background(), "code", "verifier", "https://app/cb")
			ee, ok := connector.AsExchangeError(err)
			if !ok {
				t.Fatalf("Exchange() error = %v, want *ExchangeError", err)
			}
			if ee.Op != "exchange" || ee.StatusCode != tt.status {
				t.Errorf("Op/StatusCode = %s/%d", ee.Op, ee.StatusCode)
			}
			if ee.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", ee.Code, tt.wantCode)
			}
			if ee.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", ee.Message, tt.wantMsg)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name        string
		response    map[string]any
		wantRefresh string
	}{
		{
			name:        "rotated refresh token",
			response:    map[string]any{"access_token": "act.2", "refresh_token": "rft.2", "expires_in": 3600},
			wantRefresh: "rft.2",
		},
		{
			name:        "refresh token carried forward",
			response:    map[string]any{"access_token": "act.2", "expires_in": 3600},
			wantRefresh: "rft.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.ParseForm() //nolint:errcheck
				if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rft.1" {
					t.Errorf("unexpected refresh form: %v", r.PostForm)
				}
				writeJSON(w, http.StatusOK, tt.response)
			}))

			ts, err := c.Refresh(context.Background(), "rft.1")
			if err != nil {
				t.Fatalf("Refresh() error: %v", err)
			}
			if ts.AccessToken != "act.2" || ts.RefreshToken != tt.wantRefresh {
				t.Errorf("unexpected token set: %+v", ts)
			}
			if !ts.ExpiresAt.Equal(testNow.Add(time.Hour)) {
				t.Errorf("ExpiresAt = %v", ts.ExpiresAt)
			}
		})
	}
}

func TestRevoke(t *testing.T) {
	var got url.Values
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/revoke/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		r.ParseForm() //nolint:errcheck
		got = r.PostForm
		writeJSON(w, http.StatusOK, map[string]any{})
	}))

	if err := c.Revoke(context.Background(), "act.1"); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if got.Get("token") != "act.1" || got.Get("client_key") != "ck" || got.Get("client_secret") != "cs" {
		t.Errorf("unexpected revoke form: %v", got)
	}
}

func TestAuthorizationURL(t *testing.T) {
	c := NewClient(Config{ClientKey: "ck"})
	raw, err := c.AuthorizationURL("https://app/accounts/callback/tiktok", "st", "ch")
	if err != nil {
		t.Fatalf("AuthorizationURL() error: %v", err)
	}
	if !strings.HasPrefix(raw, DefaultAuthURL+"?") {
		t.Errorf("unexpected endpoint: %s", raw)
	}
	u, _ := url.Parse(raw)
	if got := u.Query().Get("scope"); got != strings.Join(DefaultScopes, ",") {
		t.Errorf("scope = %q", got)
	}
}

func TestRedirectURIMatchesAcrossLegs(t *testing.T) {
	redirectURI := "https://app.example.com/accounts/callback/tiktok"

	var exchanged string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm() //nolint:errcheck
		exchanged = r.PostForm.Get("redirect_uri")
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "a", "expires_in": 60})
	}))

	raw, err := c.AuthorizationURL(redirectURI, "st", "ch")
	if err != nil {
		t.Fatalf("AuthorizationURL() error: %v", err)
	}
	u, _ := url.Parse(raw)
	authorized := u.Query().Get("redirect_uri")

	if _, err := c.Exchange(context.Background(), "code", "verifier", redirectURI); err != nil {
		t.Fatalf("Exchange() error: %v", err)
	}
	if authorized != exchanged {
		t.Errorf("redirect_uri differs: authorize %q, exchange %q", authorized, exchanged)
	}
}

func TestRequestTimeout(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

	start := time.Now()
	_, err := c.Exchange(context.Background(), "code", "verifier", "https://app/cb")
	if err == nil {
		t.Fatal("Exchange() expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Exchange() took %v, timeout not applied", time.Since(start))
	}

	_, err = c.FetchProfile(context.Background(), "act")
	if err == nil {
		t.Fatal("FetchProfile() expected timeout error")
	}
}

func TestFetchProfile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/user/info/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer act.1" {
			t.Errorf("Authorization = %q", auth)
		}
		if fields := r.URL.Query().Get("fields"); !strings.Contains(fields, "follower_count") || !strings.Contains(fields, "display_name") {
			t.Errorf("fields = %q", fields)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"user": map[string]any{
				"open_id":           "open-1",
				"username":          "creator",
				"display_name":      "Creator",
				"avatar_url":        "https://cdn/avatar.jpg",
				"is_verified":       true,
				"profile_deep_link": "https://tiktok/@creator",
				"follower_count":    1200,
				"following_count":   10,
				"likes_count":       5000,
				"video_count":       42,
			}},
			"error": map[string]any{"code": "ok", "message": "", "log_id": "L"},
		})
	}))

	p, err := c.FetchProfile(context.Background(), "act.1")
	if err != nil {
		t.Fatalf("FetchProfile() error: %v", err)
	}
	if p.PlatformUserID != "open-1" || p.Username != "creator" || !p.Verified {
		t.Errorf("unexpected profile: %+v", p)
	}
	want := connector.Stats{Followers: 1200, Following: 10, Likes: 5000, Videos: 42}
	if p.Stats != want {
		t.Errorf("Stats = %+v, want %+v", p.Stats, want)
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name             string
		status           int
		body             string
		wantUnauthorized bool
		wantCode         string
	}{
		{"401", http.StatusUnauthorized, `{"error":{"code":"access_token_invalid","message":"expired"}}`, true, ""},
		{"403", http.StatusForbidden, `{}`, true, ""},
		{"invalid token envelope", http.StatusOK, `{"error":{"code":"access_token_invalid","message":"expired"}}`, true, ""},
		{"scope envelope", http.StatusOK, `{"error":{"code":"scope_not_authorized","message":"missing scope"}}`, false, "scope_not_authorized"},
		{"server error", http.StatusInternalServerError, `{"error":{"code":"internal_error","message":"oops"}}`, false, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body) //nolint:errcheck
			}))

			_, err := c.FetchStats(context.Background(), "act")
			if err == nil {
				t.Fatal("FetchStats() expected error")
			}
			if got := connector.IsUnauthorized(err); got != tt.wantUnauthorized {
				t.Errorf("IsUnauthorized() = %v, want %v (err %v)", got, tt.wantUnauthorized, err)
			}
			if tt.wantCode != "" {
				ee, ok := connector.AsExchangeError(err)
				if !ok || ee.Code != tt.wantCode || ee.Op != "api" {
					t.Errorf("error = %v, want api ExchangeError %s", err, tt.wantCode)
				}
			}
		})
	}
}

func TestRateLimitedBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"user": map[string]any{"open_id": "o"}}})
	}), WithLimiter(ratelimit.New(2, time.Minute)))

	for i := 0; i < 2; i++ {
		if _, err := c.FetchStats(context.Background(), "act"); err != nil {
			t.Fatalf("FetchStats() call %d error: %v", i+1, err)
		}
	}
	_, err := c.FetchStats(context.Background(), "act")
	if !errors.Is(err, connector.ErrRateLimited) {
		t.Errorf("FetchStats() error = %v, want ErrRateLimited", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server saw %d requests, want 2", hits.Load())
	}
}

func TestListVideos(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/video/list/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body = map[string]any{}
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"videos": []map[string]any{
					{"id": "v1", "create_time": 1700000000, "view_count": 100, "like_count": 7},
				},
				"cursor":   1700000000000,
				"has_more": true,
			},
			"error": map[string]any{"code": "ok"},
		})
	}))

	page, err := c.ListVideos(context.Background(), "act", 0, 50)
	if err != nil {
		t.Fatalf("ListVideos() error: %v", err)
	}
	if body["max_count"] != float64(20) {
		t.Errorf("max_count = %v, want 20", body["max_count"])
	}
	if _, ok := body["cursor"]; ok {
		t.Error("cursor sent for first page")
	}
	if len(page.Videos) != 1 || page.Videos[0].ID != "v1" || page.Videos[0].Views != 100 {
		t.Errorf("unexpected videos: %+v", page.Videos)
	}
	if !page.Videos[0].CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("CreatedAt = %v", page.Videos[0].CreatedAt)
	}
	if !page.HasMore || page.Cursor != 1700000000000 {
		t.Errorf("cursor/has_more = %d/%v", page.Cursor, page.HasMore)
	}

	if _, err := c.ListVideos(context.Background(), "act", 1700000000000, 5); err != nil {
		t.Fatalf("ListVideos() error: %v", err)
	}
	if body["cursor"] != float64(1700000000000) || body["max_count"] != float64(5) {
		t.Errorf("unexpected second page body: %v", body)
	}
}

func TestQueryVideos(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var body struct {
			Filters struct {
				VideoIDs []string `json:"video_ids"`
			} `json:"filters"`
		}
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		if !reflect.DeepEqual(body.Filters.VideoIDs, []string{"v1", "v2"}) {
			t.Errorf("video_ids = %v", body.Filters.VideoIDs)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"videos": []map[string]any{{"id": "v1"}}},
		})
	}))

	videos, err := c.QueryVideos(context.Background(), "act", nil)
	if err != nil || len(videos) != 0 {
		t.Errorf("QueryVideos(nil) = %v, %v", videos, err)
	}
	if hits.Load() != 0 {
		t.Error("QueryVideos(nil) reached the network")
	}

	ids := make([]string, 21)
	if _, err := c.QueryVideos(context.Background(), "act", ids); !errors.Is(err, ErrTooManyIDs) {
		t.Errorf("QueryVideos(21 ids) error = %v", err)
	}

	videos, err = c.QueryVideos(context.Background(), "act", []string{"v1", "v2"})
	if err != nil {
		t.Fatalf("QueryVideos() error: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "v1" {
		t.Errorf("unexpected videos: %+v", videos)
	}
}
