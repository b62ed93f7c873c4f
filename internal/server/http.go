package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/incogni23/collab-realtime-sdk/sdk/auth"
	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
)

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    any    `json:"message"`
	Error      string `json:"error,omitempty"`
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req auth.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.users.Authenticate(req.Email, req.Password)
	if err != nil {
		s.log.Info().Str("email", req.Email).Msg("rejected login")
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	s.writeGrant(w, http.StatusOK, user)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req auth.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var problems []string
	if !strings.Contains(req.Email, "@") {
		problems = append(problems, "email must be an email")
	}
	if strings.TrimSpace(req.Username) == "" {
		problems = append(problems, "username should not be empty")
	}
	if len(req.Password) < 6 {
		problems = append(problems, "password must be longer than or equal to 6 characters")
	}
	if len(problems) > 0 {
		writeError(w, http.StatusBadRequest, problems)
		return
	}

	user, err := s.users.Register(req.Email, req.Username, req.Password, req.FirstName, req.LastName)
	switch {
	case errors.Is(err, ErrUserExists):
		writeError(w, http.StatusUnauthorized, "User already exists")
		return
	case err != nil:
		s.log.Error().Err(err).Msg("registration failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.log.Info().Str("user", user.ID).Msg("registered user")
	s.writeGrant(w, http.StatusCreated, user)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req refreshBody
	if !decodeBody(w, r, &req) {
		return
	}

	userID, access, refresh, ok := s.tokens.Rotate(req.RefreshToken)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	user, ok := s.users.Get(userID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, auth.AuthResponse{AccessToken: access, RefreshToken: refresh, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := bearerToken(r)
	if _, ok := s.tokens.Authenticate(token); !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	s.tokens.Revoke(token)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (s *Server) writeGrant(w http.ResponseWriter, code int, user chat.User) {
	access, refresh := s.tokens.Issue(user.ID)
	writeJSON(w, code, auth.AuthResponse{AccessToken: access, RefreshToken: refresh, User: user})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message any) {
	writeJSON(w, code, errorResponse{
		StatusCode: code,
		Message:    message,
		Error:      http.StatusText(code),
	})
}
