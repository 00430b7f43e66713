package server

import (
	"errors"
	"net/http"

	"cloudstore/internal/auth"
	"cloudstore/internal/database"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

func accountOf(u *database.User) accountResponse {
	return accountResponse{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := auth.ValidateUsername(creds.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := auth.ValidatePassword(creds.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		s.logger.Error("password hashing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := s.users.CreateUser(creds.Username, hash, false)
	if err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		s.logger.Error("account creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("account registered", "user", user.ID, "username", user.Username)
	s.startSession(w, user)
	writeJSON(w, http.StatusCreated, accountOf(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.users.FindByUsername(creds.Username)
	if err != nil {
		s.logger.Error("account lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// Same response for unknown usernames and wrong passwords.
	if user == nil || !auth.CheckPassword(user.PassHash, creds.Password) {
		s.logger.Warn("login rejected", "username", creds.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.logger.Info("login", "user", user.ID, "username", user.Username)
	s.startSession(w, user)
	writeJSON(w, http.StatusOK, accountOf(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		s.sessions.Destroy(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startSession(w http.ResponseWriter, user *database.User) {
	token := s.sessions.Create(user.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessions.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
