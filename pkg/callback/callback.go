// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package callback completes an OAuth connection attempt when the
// provider redirects the browser back to weaver.
//
// A callback moves through a fixed sequence of steps:
//
//	received -> validated -> exchanged -> profile_fetched -> persisted -> completed
//
// Any step may fail, which ends the attempt. A failed attempt is never
// resumed and its authorization code is never retried; the user starts
// over from the connect endpoint.
package callback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Danse117/weaver/pkg/account"
	"github.com/Danse117/weaver/pkg/connector"
	"github.com/Danse117/weaver/pkg/metrics"
	"github.com/Danse117/weaver/pkg/statestore"
)

// Step is a stage of the callback state machine.
type Step string

const (
	StepReceived       Step = "received"
	StepValidated      Step = "validated"
	StepExchanged      Step = "exchanged"
	StepProfileFetched Step = "profile_fetched"
	StepPersisted      Step = "persisted"
	StepCompleted      Step = "completed"
	StepErrored        Step = "errored"
)

// User-facing failure reasons.
const (
	ReasonMissingParams   = "Missing authorization code or state"
	ReasonUnauthenticated = "User not authenticated"
	ReasonInvalidState    = "Invalid or expired OAuth state"
	ReasonProfileFailed   = "Failed to fetch account profile"
	ReasonPersistFailed   = "Failed to save connected account"
)

// FlowError is a failed callback. Reason is safe to show to the user;
// Err carries the detail for logs.
type FlowError struct {
	Step   Step
	Reason string
	Err    error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth callback failed at %s: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("oauth callback failed at %s: %s", e.Step, e.Reason)
}

func (e *FlowError) Unwrap() error { return e.Err }

// Request holds what arrived on the callback URL plus the session user.
type Request struct {
	Platform         string
	Code             string
	State            string
	Error            string
	ErrorDescription string
	UserID           string

	// Bind, when set, checks the browser binding of the taken record.
	Bind func(*statestore.Record) error
}

// Result describes a connected account.
type Result struct {
	AccountID  string
	Platform   string
	State      string
	RedirectTo string
	Mode       string
}

// RedirectURIFunc returns the callback URL registered for a platform. It
// must be the same function used when building the authorization URL.
type RedirectURIFunc func(platform string) string

// Orchestrator runs the callback state machine.
type Orchestrator struct {
	states      statestore.Store
	providers   *connector.Registry
	accounts    account.Store
	redirectURI RedirectURIFunc
	log         zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New returns an orchestrator.
func New(states statestore.Store, providers *connector.Registry, accounts account.Store, redirectURI RedirectURIFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		states:      states,
		providers:   providers,
		accounts:    accounts,
		redirectURI: redirectURI,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Complete processes one callback. On failure the returned error is a
// *FlowError naming the step that failed.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	log := o.log.With().Str("platform", req.Platform).Logger()

	// Unknown platform names come from the URL and must not become labels.
	label := req.Platform
	if _, err := o.providers.Get(req.Platform); err != nil {
		label = "unsupported"
	}

	defer func() {
		step, outcome := StepCompleted, metrics.OutcomeSuccess
		var fe *FlowError
		if errors.As(err, &fe) {
			step, outcome = fe.Step, metrics.OutcomeFailure
			ev := log.Warn().Str("step", string(fe.Step)).Str("reason", fe.Reason)
			if ee, ok := connector.AsExchangeError(fe.Err); ok {
				ev = ev.Str("provider_code", ee.Code).Str("provider_message", ee.Message).Str("log_id", ee.LogID)
			}
			ev.AnErr("cause", fe.Err).Msg("oauth callback failed")
		}
		metrics.OAuthCallbacks.WithLabelValues(label, string(step), outcome).Inc()
		metrics.OAuthCallbackDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	// received
	if req.Error != "" {
		if req.State != "" {
			// The attempt is over; its record must not stay redeemable.
			o.states.Take(ctx, req.State) //nolint:errcheck
		}
		reason := req.ErrorDescription
		if reason == "" {
			reason = req.Error
		}
		return nil, &FlowError{Step: StepReceived, Reason: reason, Err: fmt.Errorf("provider returned error %q", req.Error)}
	}
	if req.Code == "" || req.State == "" {
		return nil, &FlowError{Step: StepReceived, Reason: ReasonMissingParams}
	}
	provider, err := o.providers.Get(req.Platform)
	if err != nil {
		return nil, &FlowError{Step: StepReceived, Reason: fmt.Sprintf("Platform %s not supported yet", req.Platform), Err: err}
	}
	if req.UserID == "" {
		return nil, &FlowError{Step: StepReceived, Reason: ReasonUnauthenticated}
	}

	// validated
	rec, err := o.states.Take(ctx, req.State)
	if err != nil {
		return nil, &FlowError{Step: StepValidated, Reason: ReasonInvalidState, Err: err}
	}
	if rec.Platform != req.Platform {
		return nil, &FlowError{Step: StepValidated, Reason: ReasonInvalidState,
			Err: fmt.Errorf("state issued for platform %q", rec.Platform)}
	}
	if rec.UserID != "" && rec.UserID != req.UserID {
		return nil, &FlowError{Step: StepValidated, Reason: ReasonInvalidState,
			Err: errors.New("state issued to another user")}
	}
	if req.Bind != nil {
		if err := req.Bind(rec); err != nil {
			return nil, &FlowError{Step: StepValidated, Reason: ReasonInvalidState, Err: err}
		}
	}

	// exchanged
	tokens, err := provider.Exchange(ctx, req.Code, rec.CodeVerifier, o.redirectURI(req.Platform))
	if err != nil {
		return nil, &FlowError{Step: StepExchanged, Reason: "Failed to connect account: " + exchangeMessage(err), Err: err}
	}

	// profile_fetched
	profile, err := provider.FetchProfile(ctx, tokens.AccessToken)
	if err == nil && profile.PlatformUserID == "" {
		profile.PlatformUserID = tokens.OpenID
		if profile.PlatformUserID == "" {
			err = errors.New("provider returned no user id")
		}
	}
	if err != nil {
		o.discard(ctx, log, provider, tokens)
		return nil, &FlowError{Step: StepProfileFetched, Reason: ReasonProfileFailed, Err: err}
	}

	// persisted
	stored, err := o.accounts.Upsert(ctx, &account.Account{
		UserID:         req.UserID,
		Platform:       req.Platform,
		PlatformUserID: profile.PlatformUserID,
		Username:       profile.Username,
		DisplayName:    profile.DisplayName,
		AvatarURL:      profile.AvatarURL,
		Tokens:         *tokens,
		Metadata:       account.ProfileMetadata(profile),
	})
	if err != nil {
		log.Error().Err(err).Str("platform_user_id", profile.PlatformUserID).
			Msg("persisting account failed after token issue, provider may hold an orphaned grant")
		o.discard(ctx, log, provider, tokens)
		return nil, &FlowError{Step: StepPersisted, Reason: ReasonPersistFailed, Err: err}
	}

	// completed
	log.Info().Str("account", stored.ID).Str("user", req.UserID).Msg("account connected")
	return &Result{
		AccountID:  stored.ID,
		Platform:   req.Platform,
		State:      rec.State,
		RedirectTo: rec.RedirectTo,
		Mode:       rec.Mode,
	}, nil
}

// discard revokes tokens that will not be stored.
func (o *Orchestrator) discard(ctx context.Context, log zerolog.Logger, p connector.Provider, tokens *connector.TokenSet) {
	if err := p.Revoke(ctx, tokens.AccessToken); err != nil {
		log.Warn().Err(err).Msg("revoking discarded tokens failed")
	}
}

func exchangeMessage(err error) string {
	if ee, ok := connector.AsExchangeError(err); ok && ee.Message != "" {
		return ee.Message
	}
	return "token exchange failed"
}
