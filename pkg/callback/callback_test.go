// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package callback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danse117/weaver/pkg/account"
	"github.com/Danse117/weaver/pkg/connector"
	"github.com/Danse117/weaver/pkg/statestore"
)

const redirectURI = "https://app.example.com/api/oauth/tiktok/callback"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeProvider struct {
	mu          sync.Mutex
	exchangeErr error
	profileErr  error
	profile     *connector.Profile
	exchanges   int
	verifier    string
	redirectURI string
	revoked     []string
}

func (p *fakeProvider) Name() string { return "tiktok" }

func (p *fakeProvider) AuthorizationURL(string, string, string) (string, error) { return "", nil }

func (p *fakeProvider) Exchange(_ context.Context, code, verifier, redirectURI string) (*connector.TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges++
	p.verifier = verifier
	p.redirectURI = redirectURI
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &connector.TokenSet{
		AccessToken:  "act." + code,
		RefreshToken: "rft." + code,
		OpenID:       "open-1",
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *fakeProvider) Refresh(context.Context, string) (*connector.TokenSet, error) {
	return nil, errors.New("not implemented")
}

func (p *fakeProvider) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, token)
	return nil
}

func (p *fakeProvider) FetchProfile(context.Context, string) (*connector.Profile, error) {
	if p.profileErr != nil {
		return nil, p.profileErr
	}
	if p.profile != nil {
		return p.profile, nil
	}
	return &connector.Profile{
		PlatformUserID: "open-1",
		Username:       "creator",
		DisplayName:    "Creator",
		Verified:       true,
		Stats:          connector.Stats{Followers: 10},
	}, nil
}

func (p *fakeProvider) FetchStats(context.Context, string) (*connector.Stats, error) {
	return &connector.Stats{}, nil
}

type failingAccounts struct {
	*account.MemoryStore
}

func (failingAccounts) Upsert(context.Context, *account.Account) (*account.Account, error) {
	return nil, errors.New("disk full")
}

type fixture struct {
	clock    *clock
	states   *statestore.MemoryStore
	accounts *account.MemoryStore
	provider *fakeProvider
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		provider: &fakeProvider{},
	}
	f.states = statestore.NewMemoryStore(f.clock.Now)
	f.accounts = account.NewMemoryStore(f.clock.Now)
	f.orch = New(f.states, connector.NewRegistry(f.provider), f.accounts, func(string) string { return redirectURI })
	return f
}

func (f *fixture) begin(t *testing.T, state, userID string) {
	t.Helper()
	require.NoError(t, f.states.Put(context.Background(), &statestore.Record{
		State:        state,
		Platform:     "tiktok",
		UserID:       userID,
		CodeVerifier: "verifier-" + state,
		RedirectTo:   "/dashboard",
		Mode:         statestore.ModePopup,
	}, statestore.DefaultTTL))
}

func requireFlowError(t *testing.T, err error, step Step) *FlowError {
	t.Helper()
	var fe *FlowError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, step, fe.Step)
	return fe
}

func TestCompleteConnectsAccount(t *testing.T) {
	f := newFixture(t)
	f.begin(t, "s1", "user-1")

	res, err := f.orch.Complete(context.Background(), Request{
		Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1",
	})
	require.NoError(t, err)
	require.Equal(t, "tiktok", res.Platform)
	require.Equal(t, "/dashboard", res.RedirectTo)
	require.Equal(t, statestore.ModePopup, res.Mode)

	require.Equal(t, "verifier-s1", f.provider.verifier)
	require.Equal(t, redirectURI, f.provider.redirectURI)

	a, err := f.accounts.Get(context.Background(), "user-1", res.AccountID)
	require.NoError(t, err)
	require.Equal(t, "open-1", a.PlatformUserID)
	require.Equal(t, "creator", a.Username)
	require.Equal(t, "act.c1", a.Tokens.AccessToken)
	require.True(t, a.Metadata.GetFields()["is_verified"].GetBoolValue())
}

func TestCompleteReconnectKeepsOneAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.begin(t, "s1", "user-1")
	first, err := f.orch.Complete(ctx, Request{Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1"})
	require.NoError(t, err)

	f.begin(t, "s2", "user-1")
	second, err := f.orch.Complete(ctx, Request{Platform: "tiktok", Code: "c2", State: "s2", UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, first.AccountID, second.AccountID)

	list, err := f.accounts.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "act.c2", list[0].Tokens.AccessToken)
}

func TestCompleteStateIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.begin(t, "s1", "user-1")
	req := Request{Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1"}

	_, err := f.orch.Complete(context.Background(), req)
	require.NoError(t, err)

	_, err = f.orch.Complete(context.Background(), req)
	fe := requireFlowError(t, err, StepValidated)
	require.Equal(t, ReasonInvalidState, fe.Reason)
	require.Equal(t, 1, f.provider.exchanges)
}

func TestCompleteExpiredState(t *testing.T) {
	f := newFixture(t)
	f.begin(t, "s1", "user-1")
	f.clock.Advance(statestore.DefaultTTL + time.Second)

	_, err := f.orch.Complete(context.Background(), Request{Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1"})
	fe := requireFlowError(t, err, StepValidated)
	require.ErrorIs(t, fe, statestore.ErrNotFound)
	require.Zero(t, f.provider.exchanges)
}

func TestCompleteRejectedRequests(t *testing.T) {
	for _, tc := range []struct {
		name   string
		req    Request
		step   Step
		reason string
	}{
		{
			name:   "denied-with-description",
			req:    Request{Platform: "tiktok", State: "s1", UserID: "user-1", Error: "access_denied", ErrorDescription: "User cancelled"},
			step:   StepReceived,
			reason: "User cancelled",
		},
		{
			name:   "denied-without-description",
			req:    Request{Platform: "tiktok", State: "s1", UserID: "user-1", Error: "access_denied"},
			step:   StepReceived,
			reason: "access_denied",
		},
		{
			name:   "missing-code",
			req:    Request{Platform: "tiktok", State: "s1", UserID: "user-1"},
			step:   StepReceived,
			reason: ReasonMissingParams,
		},
		{
			name:   "missing-state",
			req:    Request{Platform: "tiktok", Code: "c1", UserID: "user-1"},
			step:   StepReceived,
			reason: ReasonMissingParams,
		},
		{
			name:   "unsupported-platform",
			req:    Request{Platform: "myspace", Code: "c1", State: "s1", UserID: "user-1"},
			step:   StepReceived,
			reason: "Platform myspace not supported yet",
		},
		{
			name:   "no-session",
			req:    Request{Platform: "tiktok", Code: "c1", State: "s1"},
			step:   StepReceived,
			reason: ReasonUnauthenticated,
		},
		{
			name:   "unknown-state",
			req:    Request{Platform: "tiktok", Code: "c1", State: "nope", UserID: "user-1"},
			step:   StepValidated,
			reason: ReasonInvalidState,
		},
		{
			name:   "other-user",
			req:    Request{Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-2"},
			step:   StepValidated,
			reason: ReasonInvalidState,
		},
		{
			name: "binding-mismatch",
			req: Request{
				Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1",
				Bind: func(*statestore.Record) error { return statestore.ErrBindingMismatch },
			},
			step:   StepValidated,
			reason: ReasonInvalidState,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.begin(t, "s1", "user-1")

			res, err := f.orch.Complete(context.Background(), tc.req)
			require.Nil(t, res)
			fe := requireFlowError(t, err, tc.step)
			require.Equal(t, tc.reason, fe.Reason)
			require.Zero(t, f.provider.exchanges)

			list, err := f.accounts.List(context.Background(), "user-1")
			require.NoError(t, err)
			require.Empty(t, list)
		})
	}
}

func TestCompleteDenialConsumesState(t *testing.T) {
	f := newFixture(t)
	f.begin(t, "s1", "user-1")

	_, err := f.orch.Complete(context.Background(), Request{Platform: "tiktok", State: "s1", UserID: "user-1", Error: "access_denied"})
	requireFlowError(t, err, StepReceived)
	require.Zero(t, f.states.Len())
}

func TestCompletePlatformMismatch(t *testing.T) {
	f := newFixture(t)
	other := &fakeProvider{}
	f.orch = New(f.states, connector.NewRegistry(f.provider, namedProvider{other, "instagram"}), f.accounts,
		func(string) string { return redirectURI })
	f.begin(t, "s1", "user-1")

	_, err := f.orch.Complete(context.Background(), Request{Platform: "instagram", Code: "c1", State: "s1", UserID: "user-1"})
	fe := requireFlowError(t, err, StepValidated)
	require.Equal(t, ReasonInvalidState, fe.Reason)
}

type namedProvider struct {
	*fakeProvider
	name string
}

func (p namedProvider) Name() string { return p.name }

func TestCompleteExchangeFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.exchangeErr = &connector.ExchangeError{
		Op: "exchange", StatusCode: 200, Code: "invalid_grant", Message: "Authorization code is expired.",
	}
	f.begin(t, "s1", "user-1")

	_, err := f.orch.Complete(context.Background(), Request{Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1"})
	fe := requireFlowError(t, err, StepExchanged)
	require.Equal(t, "Failed to connect account: Authorization code is expired.", fe.Reason)
	require.NotContains(t, fe.Reason, "invalid_grant")
	require.Empty(t, f.provider.revoked)
}

func TestCompleteExchangeTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.exchangeErr = context.DeadlineExceeded
	f.begin(t, "s1", "user-1")

	_, err := f.orch.Complete(context.Background(), Request{Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1"})
	fe := requireFlowError(t, err, StepExchanged)
	require.Equal(t, "Failed to connect account: token exchange failed", fe.Reason)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompleteProfileFailureRevokes(t *testing.T) {
	f := newFixture(t)
	f.provider.profileErr = errors.New("upstream 500")
	f.begin(t, "s1", "user-1")

	_, err := f.orch.Complete(context.Background(), Request{Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1"})
	requireFlowError(t, err, StepProfileFetched)
	require.Equal(t, []string{"act.c1"}, f.provider.revoked)

	list, err := f.accounts.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCompleteProfileWithoutIDUsesOpenID(t *testing.T) {
	f := newFixture(t)
	f.provider.profile = &connector.Profile{Username: "anon"}
	f.begin(t, "s1", "user-1")

	res, err := f.orch.Complete(context.Background(), Request{Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1"})
	require.NoError(t, err)

	a, err := f.accounts.GetByID(context.Background(), res.AccountID)
	require.NoError(t, err)
	require.Equal(t, "open-1", a.PlatformUserID)
}

func TestCompletePersistFailureRevokes(t *testing.T) {
	f := newFixture(t)
	f.orch = New(f.states, connector.NewRegistry(f.provider), failingAccounts{f.accounts},
		func(string) string { return redirectURI })
	f.begin(t, "s1", "user-1")

	_, err := f.orch.Complete(context.Background(), Request{Platform: "tiktok", Code: "c1", State: "s1", UserID: "user-1"})
	fe := requireFlowError(t, err, StepPersisted)
	assert.Equal(t, ReasonPersistFailed, fe.Reason)
	assert.Equal(t, []string{"act.c1"}, f.provider.revoked)
}

func TestFlowErrorMessage(t *testing.T) {
	err := &FlowError{Step: StepValidated, Reason: ReasonInvalidState, Err: statestore.ErrNotFound}
	require.Contains(t, err.Error(), "validated")
	require.Contains(t, err.Error(), ReasonInvalidState)
	require.ErrorIs(t, err, statestore.ErrNotFound)
}
