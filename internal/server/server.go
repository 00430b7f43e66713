// Package server exposes the storage service over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"cloudstore/internal/auth"
	"cloudstore/internal/database"
	"cloudstore/internal/storage"
)

// Server holds the handler dependencies. Build the routing table with
// Handler and serve it with net/http.
type Server struct {
	svc      *storage.Service
	users    *database.UserStore
	sessions *auth.SessionManager
	logger   storage.Logger

	maxUploadBytes int64
	maxChunkBytes  int64
}

// New creates a Server.
func New(svc *storage.Service, users *database.UserStore, sessions *auth.SessionManager,
	logger storage.Logger, maxUploadBytes, maxChunkBytes int64) *Server {
	return &Server{
		svc:            svc,
		users:          users,
		sessions:       sessions,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
		maxChunkBytes:  maxChunkBytes,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	mux.Handle("GET /api/tree", s.requireAuth(s.handleTree))
	mux.Handle("GET /api/list", s.requireAuth(s.handleList))
	mux.Handle("POST /api/folders", s.requireAuth(s.handleCreateFolder))
	mux.Handle("POST /api/rename", s.requireAuth(s.handleRename))
	mux.Handle("POST /api/move", s.requireAuth(s.handleMove))
	mux.Handle("POST /api/delete", s.requireAuth(s.handleDelete))
	mux.Handle("GET /download", s.requireAuth(s.handleDownload))
	mux.Handle("GET /api/stats", s.requireAuth(s.handleStats))

	mux.Handle("POST /api/upload", s.requireAuth(s.handleUploadSmall))
	mux.Handle("POST /api/uploads", s.requireAuth(s.handleBeginUpload))
	mux.Handle("PUT /api/uploads/{id}/chunks/{index}", s.requireAuth(s.handleWriteChunk))
	mux.Handle("POST /api/uploads/{id}/finish", s.requireAuth(s.handleFinishUpload))
	mux.Handle("DELETE /api/uploads/{id}", s.requireAuth(s.handleAbortUpload))

	return mux
}

type contextKey int

const userKey contextKey = 0

// requireAuth resolves the session cookie and injects the account into the
// request context. Unauthenticated requests get a 401.
func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.CookieName)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		userID, ok := s.sessions.Lookup(cookie.Value)
		if !ok {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		user, err := s.users.FindByID(userID)
		if err != nil || user == nil {
			writeError(w, http.StatusUnauthorized, "unknown account")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func requestUser(r *http.Request) *database.User {
	return r.Context().Value(userKey).(*database.User)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStorageError maps a storage error kind onto an HTTP status. Storage
// errors only ever carry relative paths, so their messages are safe to
// return to clients.
func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	var status int
	switch storage.KindOf(err) {
	case storage.KindTraversal, storage.KindMalformed, storage.KindInvalid:
		status = http.StatusBadRequest
	case storage.KindNotFound:
		status = http.StatusNotFound
	case storage.KindConflict:
		status = http.StatusConflict
	case storage.KindIncomplete:
		status = http.StatusUnprocessableEntity
	default:
		s.logger.Error("internal storage failure", "error", err)
		writeError(w, http.StatusInternalServerError, "internal storage failure")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
