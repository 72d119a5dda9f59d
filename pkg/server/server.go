// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the connect, callback and account endpoints
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Danse117/weaver/pkg/account"
	"github.com/Danse117/weaver/pkg/callback"
	"github.com/Danse117/weaver/pkg/config"
	"github.com/Danse117/weaver/pkg/connector"
	"github.com/Danse117/weaver/pkg/credentials"
	"github.com/Danse117/weaver/pkg/dashboard"
	"github.com/Danse117/weaver/pkg/statestore"
)

const (
	// ConnectRateLimit is the number of connect attempts allowed per
	// client IP and minute.
	ConnectRateLimit = 20

	// RetryAfterSeconds is sent with 429 responses.
	RetryAfterSeconds = 60

	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Minute
)

// Deps are the services the server routes to.
type Deps struct {
	Config      *config.Config
	Providers   *connector.Registry
	States      statestore.Store
	Cookies     *statestore.CookieBinder
	Callback    *callback.Orchestrator
	Accounts    account.Store
	Credentials *credentials.Manager
	Dashboard   *dashboard.Service
	Logger      zerolog.Logger

	// Cleanup, when set, is run periodically by Run to purge expired
	// state records.
	Cleanup func(context.Context) (int64, error)
}

// Server is the weaver HTTP server.
type Server struct {
	Deps
	router   *chi.Mux
	sessions *sessionVerifier
	baseURL  string
}

// New builds the server and its routes.
func New(d Deps) (*Server, error) {
	if d.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if d.Providers == nil || d.States == nil || d.Cookies == nil || d.Callback == nil ||
		d.Accounts == nil || d.Credentials == nil || d.Dashboard == nil {
		return nil, errors.New("server: missing dependency")
	}

	s := &Server{
		Deps:     d,
		router:   chi.NewRouter(),
		sessions: newSessionVerifier(d.Config.Session),
		baseURL:  strings.TrimRight(d.Config.BaseURL, "/"),
	}
	s.setupRoutes()
	return s, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(hlog.NewHandler(s.Logger))
	s.router.Use(requestIDLogger)
	s.router.Use(hlog.AccessHandler(accessLog))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	// The session is optional on the callback: the provider redirect is a
	// top-level navigation and the orchestrator reports a missing user.
	s.router.With(s.session(false)).Get(config.CallbackPath+"{platform}", s.handleCallback)

	s.router.With(
		httprate.LimitByIP(ConnectRateLimit, time.Minute),
		s.session(true),
	).Get("/accounts/connect/{platform}", s.handleConnect)

	s.router.Route("/api/accounts", func(r chi.Router) {
		r.Use(s.session(true))
		r.Get("/", s.handleListAccounts)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Delete("/", s.handleDisconnect)
			r.Get("/profile", s.handleProfile)
			r.Get("/videos", s.handleVideos)
			r.Post("/videos/query", s.handleQueryVideos)
			r.Post("/sync", s.handleSync)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.Cleanup != nil {
		go s.cleanupLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Cleanup(ctx)
			if err != nil {
				s.Logger.Warn().Err(err).Msg("purging expired oauth states")
				continue
			}
			if n > 0 {
				s.Logger.Debug().Int64("purged", n).Msg("purged expired oauth states")
			}
		}
	}
}

func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("req_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog never logs the query string: callbacks carry the code.
func accessLog(r *http.Request, status, size int, d time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", d).
		Msg("request")
}
