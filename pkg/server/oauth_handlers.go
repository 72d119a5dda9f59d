// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/Danse117/weaver/pkg/callback"
	"github.com/Danse117/weaver/pkg/metrics"
	"github.com/Danse117/weaver/pkg/oauth"
	"github.com/Danse117/weaver/pkg/statestore"
)

// handleConnect starts a connection attempt.
// GET /accounts/connect/{platform}?redirect_to=...&mode=popup|redirect
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	provider, err := s.Providers.Get(platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported_platform", "Platform "+platform+" not supported yet")
		return
	}

	mode := r.URL.Query().Get("mode")
	switch mode {
	case "":
		mode = statestore.ModeRedirect
	case statestore.ModeRedirect, statestore.ModePopup:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "mode must be popup or redirect")
		return
	}

	redirectTo := r.URL.Query().Get("redirect_to")
	if redirectTo != "" && !isLocalPath(redirectTo) {
		writeError(w, http.StatusBadRequest, "invalid_request", "redirect_to must be a path on this site")
		return
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		s.connectFailed(w, r, err, "generating code verifier")
		return
	}
	state, err := oauth.GenerateState()
	if err != nil {
		s.connectFailed(w, r, err, "generating state")
		return
	}

	err = s.States.Put(r.Context(), &statestore.Record{
		State:        state,
		Platform:     platform,
		UserID:       UserID(r.Context()),
		CodeVerifier: pkce.Verifier,
		RedirectTo:   redirectTo,
		Mode:         mode,
	}, s.Config.State.TTL)
	if err != nil {
		s.connectFailed(w, r, err, "saving oauth state")
		return
	}

	authURL, err := provider.AuthorizationURL(s.Config.RedirectURI(platform), state, pkce.Challenge)
	if err != nil {
		s.connectFailed(w, r, err, "building authorization url")
		return
	}
	if err := s.Cookies.Bind(w, state, pkce.Verifier); err != nil {
		s.connectFailed(w, r, err, "binding state cookie")
		return
	}

	metrics.OAuthConnects.WithLabelValues(platform, mode).Inc()

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) connectFailed(w http.ResponseWriter, r *http.Request, err error, msg string) {
	hlog.FromRequest(r).Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, "internal_error", "Could not start the connection")
}

// handleCallback completes a connection attempt.
// GET /accounts/callback/{platform}?code=...&state=...
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	q := r.URL.Query()
	state := q.Get("state")

	if state != "" {
		s.Cookies.Clear(w, state)
	}

	res, err := s.Callback.Complete(r.Context(), callback.Request{
		Platform:         platform,
		Code:             q.Get("code"),
		State:            state,
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		UserID:           UserID(r.Context()),
		Bind: func(rec *statestore.Record) error {
			return s.Cookies.Verify(r, rec)
		},
	})
	if err != nil {
		reason := "Failed to connect account"
		var fe *callback.FlowError
		if errors.As(err, &fe) {
			reason = fe.Reason
		}
		http.Redirect(w, r, s.baseURL+"/?error="+url.QueryEscape(reason), http.StatusFound)
		return
	}

	target := s.completionURL(res)
	if res.Mode == statestore.ModePopup {
		if err := oauth.RenderCompletionPage(w, platform, res.AccountID, target); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("writing completion page")
		}
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// completionURL is where the browser lands after a connection.
func (s *Server) completionURL(res *callback.Result) string {
	if res.RedirectTo != "" {
		if u, err := url.Parse(res.RedirectTo); err == nil {
			q := u.Query()
			q.Set("account", res.AccountID)
			u.RawQuery = q.Encode()
			return s.baseURL + u.String()
		}
	}
	return s.baseURL + "/dashboard?" + url.Values{
		"account": {res.AccountID},
		"tab":     {"metrics"},
	}.Encode()
}

// isLocalPath reports whether p is an absolute path on this origin.
func isLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
