// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned before any network call when the
	// per-token request budget is spent. Callers must back off.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrUnsupportedPlatform is returned for platforms with no registered provider.
	ErrUnsupportedPlatform = errors.New("platform not supported")
)

// ExchangeError is a rejection from the provider token endpoint, or an
// error envelope returned by an API call.
type ExchangeError struct {
	Op         string // "exchange", "refresh", "revoke" or "api"
	StatusCode int
	Code       string
	Message    string
	LogID      string
}

func (e *ExchangeError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no error description"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed (HTTP %d): %s - %s", e.Op, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s failed (HTTP %d): %s", e.Op, e.StatusCode, msg)
}

// UnauthorizedError means the provider rejected the access token. The
// caller may refresh and retry once, or ask the user to reconnect.
type UnauthorizedError struct {
	StatusCode int
	Message    string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("provider rejected access token (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err carries an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}

// AsExchangeError returns the ExchangeError in err's chain, if any.
func AsExchangeError(err error) (*ExchangeError, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
