package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/grmlab/gramscope/pkg/authflow"
	"github.com/grmlab/gramscope/pkg/gram"
	"github.com/grmlab/gramscope/pkg/remote"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyRequest struct {
	SessionToken string `json:"session_token"`
	Code         string `json:"code"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

type loginResponse struct {
	Status       string        `json:"status"`
	Message      string        `json:"message,omitempty"`
	Token        string        `json:"token,omitempty"`
	SessionToken string        `json:"session_token,omitempty"`
	Channel      string        `json:"channel,omitempty"`
	Profile      *gram.Profile `json:"profile,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	out, err := s.Flow.BeginLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeOutcome(w, r.Context(), out)
}

func (s *Server) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionToken == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "session_token and code are required")
		return
	}

	out, err := s.Flow.CompleteTwoFactor(r.Context(), req.SessionToken, req.Code, req.Username, req.Password)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeOutcome(w, r.Context(), out)
}

func (s *Server) handleVerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionToken == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "session_token and code are required")
		return
	}

	out, err := s.Flow.CompleteChallenge(r.Context(), req.SessionToken, req.Code)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeOutcome(w, r.Context(), out)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.ClearSession(r.Context(), accountID(r)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// writeOutcome turns a flow outcome into the wire response, persisting the
// account on full authentication.
func (s *Server) writeOutcome(w http.ResponseWriter, ctx context.Context, out *authflow.Outcome) {
	switch {
	case out.Authenticated:
		acct := gram.Account{
			ID:          out.Profile.ID,
			Username:    out.Profile.Username,
			FullName:    out.Profile.FullName,
			AvatarURL:   out.Profile.AvatarURL,
			SessionBlob: out.SessionSealed,
		}
		if err := s.DB.UpsertAccount(ctx, acct); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		token, err := s.issueToken(acct.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.AutoSyncOnLogin {
			if _, err := s.Syncer.Start(context.Background(), acct.ID); err != nil {
				s.Log.Debugf("auto-sync after login skipped: %v", err)
			}
		}
		profile := out.Profile
		writeJSON(w, http.StatusOK, loginResponse{
			Status:  "authenticated",
			Message: out.Message,
			Token:   token,
			Profile: &profile,
		})

	case out.RequiresTwoFactor:
		writeJSON(w, http.StatusOK, loginResponse{
			Status:       "two_factor_required",
			Message:      out.Message,
			SessionToken: out.SessionToken,
		})

	case out.RequiresChallenge:
		writeJSON(w, http.StatusOK, loginResponse{
			Status:       "challenge_required",
			Message:      out.Message,
			SessionToken: out.SessionToken,
			Channel:      string(out.Channel),
		})

	default:
		writeError(w, http.StatusInternalServerError, "login produced no outcome")
	}
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	var rl *remote.RateLimitedError
	switch {
	case errors.Is(err, remote.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, authflow.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "Login session expired. Please start over.")
	case errors.As(err, &rl):
		if rl.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", rl.RetryAfterSeconds))
		}
		writeError(w, http.StatusTooManyRequests, "Rate limited by remote. Try again later.")
	default:
		s.Log.Warnf("auth error: %v", err)
		writeError(w, http.StatusBadGateway, "Login failed. Please try again.")
	}
}
