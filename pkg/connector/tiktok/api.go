// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
)

const (
	// MaxVideosPerPage is the largest page /video/list/ serves.
	MaxVideosPerPage = 20

	// MaxQueryIDs is the largest ID batch /video/query/ accepts.
	MaxQueryIDs = 20
)

// ErrTooManyIDs is returned by QueryVideos for batches over MaxQueryIDs.
var ErrTooManyIDs = errors.New("at most 20 video ids allowed per request")

// FetchProfile returns the full profile and stats of the token owner.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*connector.Profile, error) {
	var data struct {
		User user `json:"user"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, "/user/info/", profileFields, nil, &data); err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	return data.User.profile(), nil
}

// FetchStats returns only the account counters.
func (c *Client) FetchStats(ctx context.Context, accessToken string) (*connector.Stats, error) {
	var data struct {
		User user `json:"user"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, "/user/info/", statsFields, nil, &data); err != nil {
		return nil, fmt.Errorf("fetching user stats: %w", err)
	}
	stats := data.User.stats()
	return &stats, nil
}

// ListVideos returns one page of the token owner's videos, newest first.
// maxCount is clamped to 1..20. A zero cursor requests the first page.
func (c *Client) ListVideos(ctx context.Context, accessToken string, cursor int64, maxCount int) (*connector.VideoPage, error) {
	if maxCount <= 0 || maxCount > MaxVideosPerPage {
		maxCount = MaxVideosPerPage
	}
	body := map[string]any{"max_count": maxCount}
	if cursor != 0 {
		body["cursor"] = cursor
	}

	var data struct {
		Videos  []video `json:"videos"`
		Cursor  int64   `json:"cursor"`
		HasMore bool    `json:"has_more"`
	}
	if err := c.do(ctx, accessToken, http.MethodPost, "/video/list/", videoFields, body, &data); err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}
	return &connector.VideoPage{
		Videos:  toVideos(data.Videos),
		Cursor:  data.Cursor,
		HasMore: data.HasMore,
	}, nil
}

// QueryVideos returns the videos with the given ids that belong to the
// token owner. Unknown ids are silently absent from the result.
func (c *Client) QueryVideos(ctx context.Context, accessToken string, ids []string) ([]connector.Video, error) {
	if len(ids) == 0 {
		return []connector.Video{}, nil
	}
	if len(ids) > MaxQueryIDs {
		return nil, ErrTooManyIDs
	}

	body := map[string]any{
		"filters": map[string]any{"video_ids": ids},
	}
	var data struct {
		Videos []video `json:"videos"`
	}
	if err := c.do(ctx, accessToken, http.MethodPost, "/video/query/", videoFields, body, &data); err != nil {
		return nil, fmt.Errorf("querying videos: %w", err)
	}
	return toVideos(data.Videos), nil
}

// do performs one resource API call. The rate-limit slot for the token is
// taken before anything goes on the wire. The decoded value of the
// response "data" member is stored in out.
func (c *Client) do(ctx context.Context, accessToken, method, path string, fields []string, payload, out any) error {
	if !c.limiter.Allow(accessToken) {
		metrics.RateLimited.WithLabelValues(Platform).Inc()
		return connector.ErrRateLimited
	}

	start := time.Now()
	defer func() {
		metrics.ProviderRequestDuration.WithLabelValues(Platform, path).Observe(time.Since(start).Seconds())
	}()

	endpoint := c.cfg.APIBaseURL + path
	if len(fields) > 0 {
		endpoint += "?" + url.Values{"fields": {strings.Join(fields, ",")}}.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.bearerClient(accessToken).Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &connector.UnauthorizedError{
			StatusCode: resp.StatusCode,
			Message:    apiMessage(resp.StatusCode, body),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return exchangeError("api", resp.StatusCode, body)
	}
	if ee := envelopeError("api", resp.StatusCode, body); ee != nil {
		if ee.Code == "access_token_invalid" {
			return &connector.UnauthorizedError{StatusCode: resp.StatusCode, Message: ee.Message}
		}
		return ee
	}

	if out == nil {
		return nil
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return fmt.Errorf("response from %s carried no data", path)
	}
	if err := json.Unmarshal([]byte(data.Raw), out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// bearerClient wraps the configured HTTP client so every request carries
// the access token. The timeout of the base client is kept.
func (c *Client) bearerClient(accessToken string) *http.Client {
	base := c.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout: c.HTTPClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   base,
		},
	}
}

func apiMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
			return msg
		}
	}
	return http.StatusText(status)
}
