// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"github.com/Danse117/weaver/pkg/account"
	"github.com/Danse117/weaver/pkg/connector"
	"github.com/Danse117/weaver/pkg/connector/tiktok"
	"github.com/Danse117/weaver/pkg/credentials"
)

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps errors from the account services to responses.
// Unexpected errors are logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ee *connector.ExchangeError
	switch {
	case errors.Is(err, account.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Account not found")
	case errors.Is(err, credentials.ErrReconnectRequired):
		writeError(w, http.StatusConflict, "reconnect_required", "Account must be reconnected")
	case errors.Is(err, connector.ErrRateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests to the platform, try again later")
	case errors.Is(err, connector.ErrUnsupportedPlatform):
		writeError(w, http.StatusBadRequest, "unsupported_platform", "Operation not supported for this platform")
	case errors.Is(err, tiktok.ErrTooManyIDs):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &ee):
		hlog.FromRequest(r).Warn().Str("op", ee.Op).Str("provider_code", ee.Code).
			Str("log_id", ee.LogID).Msg(ee.Message)
		writeError(w, http.StatusBadGateway, "provider_error", "The platform rejected the request")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
