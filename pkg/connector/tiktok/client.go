// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package tiktok implements the TikTok v2 connector: PKCE authorization,
// token exchange, refresh and revocation, and the user and video APIs.
package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/Danse117/weaver/pkg/connector"
	"github.com/Danse117/weaver/pkg/metrics"
	"github.com/Danse117/weaver/pkg/oauth"
	"github.com/Danse117/weaver/pkg/ratelimit"
)

// Platform is the route name of this connector.
const Platform = "tiktok"

// Default endpoints of the TikTok v2 API.
const (
	DefaultAuthURL   = "https://www.tiktok.com/v2/auth/authorize/"
	DefaultTokenURL  = "https://open.tiktokapis.com/v2/oauth/token/"
	DefaultRevokeURL = "https://open.tiktokapis.com/v2/oauth/revoke/"
	DefaultAPIBase   = "https://open.tiktokapis.com/v2"
	DefaultTimeout   = 15 * time.Second
)

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{
	"user.info.basic",
	"user.info.profile",
	"user.info.stats",
	"video.list",
}

// Config holds the app credentials and endpoints.
type Config struct {
	ClientKey    string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	RevokeURL    string
	APIBaseURL   string
	Scopes       []string
}

// Client talks to the TikTok token endpoint and resource API.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
	limiter    ratelimit.Limiter
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout bounds every call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// WithLimiter replaces the per-token rate limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithClock replaces the time source used to compute expiries.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a TikTok client. Unset endpoints fall back to the
// production defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint.AuthURL = DefaultAuthURL
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint.TokenURL = DefaultTokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = DefaultRevokeURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBase
	}
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}

	c := &Client{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: ratelimit.New(ratelimit.DefaultBudget, ratelimit.DefaultWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the platform name.
func (c *Client) Name() string { return Platform }

// AuthorizationURL builds the consent URL for one attempt.
func (c *Client) AuthorizationURL(redirectURI, state, challenge string) (string, error) {
	return oauth.BuildAuthorizationURL(&oauth.AuthorizationRequest{
		Endpoint:    c.cfg.Endpoint.AuthURL,
		ClientKey:   c.cfg.ClientKey,
		RedirectURI: redirectURI,
		State:       state,
		Challenge:   challenge,
		Scopes:      c.cfg.Scopes,
	})
}

// Exchange trades the authorization code for a token set. redirectURI
// must be byte-identical to the one sent in the authorization URL.
func (c *Client) Exchange(ctx context.Context, code, verifier, redirectURI string) (*connector.TokenSet, error) {
	if code == "" || verifier == "" {
		return nil, fmt.Errorf("invalid request: code and verifier are required")
	}

	form := url.Values{}
	form.Set("client_key", c.cfg.ClientKey)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", GrantTypeAuthorizationCode)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)

	var resp tokenResponse
	if err := c.postForm(ctx, "exchange", c.cfg.Endpoint.TokenURL, form, &resp); err != nil {
		return nil, err
	}
	return resp.tokenSet(c.now()), nil
}

// Refresh obtains a new token set. When the provider does not rotate the
// refresh token, the one presented is carried forward.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*connector.TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("invalid request: refresh token is required")
	}

	form := url.Values{}
	form.Set("client_key", c.cfg.ClientKey)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", GrantTypeRefreshToken)
	form.Set("refresh_token", refreshToken)

	var resp tokenResponse
	if err := c.postForm(ctx, "refresh", c.cfg.Endpoint.TokenURL, form, &resp); err != nil {
		return nil, err
	}

	ts := resp.tokenSet(c.now())
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

// Revoke invalidates the access token at TikTok.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{}
	form.Set("client_key", c.cfg.ClientKey)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("token", accessToken)

	return c.postForm(ctx, "revoke", c.cfg.RevokeURL, form, nil)
}

// postForm sends a form-encoded POST to a token endpoint and decodes the
// JSON response into out. Rejections, including error envelopes served
// with HTTP 200, become *connector.ExchangeError.
func (c *Client) postForm(ctx context.Context, op, endpoint string, form url.Values, out any) error {
	start := time.Now()
	defer func() {
		metrics.ProviderRequestDuration.WithLabelValues(Platform, op).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s request: %w", op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return exchangeError(op, resp.StatusCode, body)
	}
	if ee := envelopeError(op, resp.StatusCode, body); ee != nil {
		return ee
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing %s response: %w", op, err)
	}
	if tr, ok := out.(*tokenResponse); ok && tr.AccessToken == "" {
		return &connector.ExchangeError{
			Op: op, StatusCode: resp.StatusCode,
			Code: "invalid_response", Message: "response carried no access token",
		}
	}
	return nil
}

// exchangeError builds the error for a non-2xx response, falling back to
// the raw status text when the body is not a recognizable envelope.
func exchangeError(op string, status int, body []byte) *connector.ExchangeError {
	if ee := envelopeError(op, status, body); ee != nil {
		return ee
	}
	ee := &connector.ExchangeError{Op: op, StatusCode: status}
	if gjson.ValidBytes(body) {
		ee.Message = gjson.GetBytes(body, "message").String()
	}
	if ee.Message == "" {
		ee.Message = http.StatusText(status)
	}
	return ee
}

// envelopeError inspects the body for any of the error shapes TikTok
// serves. The body is treated as opaque: only the known paths are probed.
// Returns nil when no error is present.
func envelopeError(op string, status int, body []byte) *connector.ExchangeError {
	if !gjson.ValidBytes(body) {
		return nil
	}
	doc := gjson.ParseBytes(body)

	ee := &connector.ExchangeError{
		Op:         op,
		StatusCode: status,
		LogID:      doc.Get("log_id").String(),
	}

	switch e := doc.Get("error"); {
	case e.IsObject():
		code := e.Get("code").String()
		if code == "" || code == "ok" {
			return nil
		}
		ee.Code = code
		ee.Message = e.Get("message").String()
		if id := e.Get("log_id").String(); id != "" {
			ee.LogID = id
		}
		return ee
	case e.Type == gjson.String && e.String() != "":
		ee.Code = e.String()
		ee.Message = doc.Get("error_description").String()
		return ee
	}

	if code := doc.Get("data.error_code"); code.Exists() && code.Int() != 0 {
		ee.Code = code.String()
		ee.Message = doc.Get("data.description").String()
		return ee
	}
	return nil
}

var (
	_ connector.Provider      = (*Client)(nil)
	_ connector.VideoProvider = (*Client)(nil)
)
