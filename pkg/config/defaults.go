// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"golang.org/x/oauth2"

	"github.com/Danse117/weaver/pkg/connector/tiktok"
)

// ProviderConfig holds the app credentials and endpoints of one platform
type ProviderConfig struct {
	ClientKey    string   `yaml:"client_key" env:"CLIENT_KEY"`
	ClientSecret string   `yaml:"client_secret" env:"CLIENT_SECRET"`
	AuthURL      string   `yaml:"auth_url" env:"AUTH_URL"`
	TokenURL     string   `yaml:"token_url" env:"TOKEN_URL"`
	RevokeURL    string   `yaml:"revoke_url" env:"REVOKE_URL"`
	APIBaseURL   string   `yaml:"api_base_url" env:"API_BASE_URL"`
	Scopes       []string `yaml:"scopes" env:"SCOPES"`
}

// Provider defaults for supported platforms
var (
	TikTokDefaults = ProviderConfig{
		AuthURL:    tiktok.DefaultAuthURL,
		TokenURL:   tiktok.DefaultTokenURL,
		RevokeURL:  tiktok.DefaultRevokeURL,
		APIBaseURL: tiktok.DefaultAPIBase,
		Scopes:     tiktok.DefaultScopes,
	}
)

// GetProviderDefaults returns a copy of the defaults for platform, or an
// empty config for unknown platforms.
func GetProviderDefaults(platform string) *ProviderConfig {
	var d ProviderConfig
	switch platform {
	case tiktok.Platform:
		d = TikTokDefaults
	}
	d.Scopes = append([]string(nil), d.Scopes...)
	return &d
}

// fill sets every empty endpoint from d.
func (p *ProviderConfig) fill(d *ProviderConfig) {
	if p.AuthURL == "" {
		p.AuthURL = d.AuthURL
	}
	if p.TokenURL == "" {
		p.TokenURL = d.TokenURL
	}
	if p.RevokeURL == "" {
		p.RevokeURL = d.RevokeURL
	}
	if p.APIBaseURL == "" {
		p.APIBaseURL = d.APIBaseURL
	}
	if len(p.Scopes) == 0 {
		p.Scopes = d.Scopes
	}
}

// TikTok returns the client configuration for the TikTok connector.
func (p *ProviderConfig) TikTok() tiktok.Config {
	return tiktok.Config{
		ClientKey:    p.ClientKey,
		ClientSecret: p.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RevokeURL:  p.RevokeURL,
		APIBaseURL: p.APIBaseURL,
		Scopes:     p.Scopes,
	}
}
