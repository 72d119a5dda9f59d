// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Danse117/weaver/pkg/account"
	"github.com/Danse117/weaver/pkg/connector"
)

// maxQueryBody bounds the body of a video query.
const maxQueryBody = 64 << 10

// GET /api/accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.Accounts.List(r.Context(), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]account.View, 0, len(list))
	for _, a := range list {
		views = append(views, a.View())
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": views})
}

// GET /api/accounts/{id}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.Accounts.Get(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.View())
}

// GET /api/accounts/{id}/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Dashboard.Profile(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /api/accounts/{id}/videos?cursor=
func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	var cursor int64
	if c := r.URL.Query().Get("cursor"); c != "" {
		var err error
		cursor, err = strconv.ParseInt(c, 10, 64)
		if err != nil || cursor < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "cursor must be a non-negative integer")
			return
		}
	}

	page, err := s.Dashboard.Videos(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), cursor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type queryVideosRequest struct {
	VideoIDs []string `json:"video_ids"`
}

// POST /api/accounts/{id}/videos/query
func (s *Server) handleQueryVideos(w http.ResponseWriter, r *http.Request) {
	var req queryVideosRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"video_ids\": [...]}")
		return
	}

	videos, err := s.Dashboard.QueryVideos(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), req.VideoIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if videos == nil {
		videos = []connector.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

// POST /api/accounts/{id}/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Dashboard.Sync(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DELETE /api/accounts/{id}
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.Credentials.Disconnect(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
